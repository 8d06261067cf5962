package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/voicebridge/murmur-agent/internal/config"
	"github.com/voicebridge/murmur-agent/internal/group"
	"github.com/voicebridge/murmur-agent/internal/session"
	"github.com/voicebridge/murmur-agent/internal/storage"
	"github.com/voicebridge/murmur-agent/internal/ws"
)

// Speaker abstracts the playback half of the pipeline for the control
// API.
type Speaker interface {
	Speak(ctx context.Context, text, voice string, target uint8) error
}

// Sessions exposes the segmenter's live speaker view.
type Sessions interface {
	Sessions() []session.SessionInfo
}

// Deps carries everything the router serves.
type Deps struct {
	Config   appconfig.Config
	Speaker  Speaker
	Sessions Sessions
	Groups   *group.Registry
	Events   *ws.Hub
	Logger   *zap.Logger
}

type speakRequest struct {
	Text   string `json:"text" binding:"required"`
	Voice  string `json:"voice"`
	Target string `json:"target"`
}

// NewRouter builds the control surface.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Events != nil {
		router.GET("/events", func(c *gin.Context) {
			deps.Events.Handle(c.Writer, c.Request)
		})
	}

	api := router.Group("/api")

	api.POST("/speak", func(c *gin.Context) {
		var req speakRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		target := uint8(0)
		if req.Target != "" {
			id, err := deps.Groups.Resolve(req.Target)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			target = id
		}

		if err := deps.Speaker.Speak(c.Request.Context(), req.Text, req.Voice, target); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "spoken", "target": target})
	})

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": deps.Sessions.Sessions()})
	})

	api.GET("/voices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"voices": appconfig.ScanVoiceProfiles(deps.Config.VoicesDir),
		})
	})

	api.GET("/groups", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"groups": deps.Groups.Targets()})
	})

	api.GET("/history", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"transcripts": storage.ListTranscripts(deps.Config.HistoryDir),
		})
	})

	api.GET("/history/:key", func(c *gin.Context) {
		turns, err := storage.GetTranscript(deps.Config.HistoryDir, c.Param("key"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"turns": turns})
	})

	api.DELETE("/history/:key", func(c *gin.Context) {
		if !storage.DeleteTranscript(deps.Config.HistoryDir, c.Param("key")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
