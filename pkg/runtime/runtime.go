package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/voicebridge/murmur-agent/internal/config"
	"github.com/voicebridge/murmur-agent/internal/agent"
	"github.com/voicebridge/murmur-agent/internal/group"
	apphttp "github.com/voicebridge/murmur-agent/internal/http"
	applogger "github.com/voicebridge/murmur-agent/internal/logger"
	"github.com/voicebridge/murmur-agent/internal/orchestrator"
	"github.com/voicebridge/murmur-agent/internal/session"
	"github.com/voicebridge/murmur-agent/internal/stt"
	"github.com/voicebridge/murmur-agent/internal/transport/murmur"
	"github.com/voicebridge/murmur-agent/internal/tts"
	"github.com/voicebridge/murmur-agent/internal/ws"
)

const (
	pingInterval     = 15 * time.Second
	redialBackoffMin = time.Second
	redialBackoffMax = 30 * time.Second
)

// voiceLink hands writes to whichever connection is currently alive,
// so the orchestrator survives reconnects.
type voiceLink struct {
	mu   sync.RWMutex
	conn *murmur.Conn
}

func (l *voiceLink) set(conn *murmur.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *voiceLink) WriteAudio(ctx context.Context, packet []byte) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return murmur.ErrConnClosed
	}
	return conn.WriteAudio(ctx, packet)
}

// Server ties the voice link, segmenter, orchestrator and control API
// together.
type Server struct {
	cfg       appconfig.Config
	logger    *zap.Logger
	hub       *ws.Hub
	segmenter *session.Segmenter
	orch      *orchestrator.Orchestrator
	link      *voiceLink
	server    *http.Server
}

// New loads configuration and assembles the runtime.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("voice_server", cfg.Server.Addr()),
	)

	hub := ws.NewHub(logger)
	link := &voiceLink{}
	groups := group.NewRegistry()

	segmenter := session.NewSegmenter(session.Config{
		MinSpeechMs:      cfg.Segmenter.MinSpeechMs,
		SilenceTimeoutMs: cfg.Segmenter.SilenceTimeoutMs,
		AllowedSpeakers:  cfg.Segmenter.AllowedSpeakers,
		QueueSize:        cfg.Segmenter.QueueSize,
	}, logger)

	sttClient := stt.New(stt.Config{
		URL:      cfg.STT.URL,
		Language: cfg.STT.Language,
		Timeout:  time.Duration(cfg.STT.TimeoutMs) * time.Millisecond,
	}, logger)
	ttsClient := tts.New(tts.Config{
		URL:        cfg.TTS.URL,
		Voice:      cfg.TTS.Voice,
		Model:      cfg.TTS.Model,
		SampleRate: cfg.Audio.SynthSampleRate,
		Timeout:    time.Duration(cfg.TTS.TimeoutMs) * time.Millisecond,
	}, logger)
	agentClient := agent.New(agent.Config{
		URL:     cfg.Agent.URL,
		Model:   cfg.Agent.Model,
		APIKey:  cfg.Agent.APIKey,
		Timeout: time.Duration(cfg.Agent.TimeoutMs) * time.Millisecond,
	}, logger)

	orch, err := orchestrator.New(orchestrator.Config{
		Bitrate:      cfg.Audio.Bitrate,
		Apology:      cfg.Agent.Apology,
		SystemPrompt: cfg.Agent.SystemPrompt,
		HistoryDir:   cfg.HistoryDir,
		HistoryTurns: cfg.Agent.HistoryTurns,
		Voice:        cfg.TTS.Voice,
	}, link, sttClient, ttsClient, agentClient, hub, logger)
	if err != nil {
		return nil, err
	}

	router := apphttp.NewRouter(apphttp.Deps{
		Config:   cfg,
		Speaker:  orch,
		Sessions: segmenter,
		Groups:   groups,
		Events:   hub,
		Logger:   logger,
	})

	return &Server{
		cfg:       cfg,
		logger:    logger,
		hub:       hub,
		segmenter: segmenter,
		orch:      orch,
		link:      link,
		server: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
	}, nil
}

// Run starts the pipeline and serves the control API until ctx ends
// or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.orch.Run(ctx, s.segmenter.Utterances())
	go s.maintainVoiceLink(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting control server", zap.String("addr", s.server.Addr))
		errc <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the control server and tears the pipeline down.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	s.hub.Close()
	s.segmenter.Close()
	s.link.set(nil)
	return err
}

// Addr reports the control server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// maintainVoiceLink keeps one connection to the voice server alive,
// redialing with backoff. Each reconnect resets the segmenter so
// partial audio from the dead connection never flushes.
func (s *Server) maintainVoiceLink(ctx context.Context) {
	backoff := redialBackoffMin
	for {
		conn, err := murmur.Dial(ctx, murmur.DialConfig{
			Addr:          s.cfg.Server.Addr(),
			TLSEnabled:    s.cfg.Server.TLSEnabled,
			TLSSkipVerify: s.cfg.Server.TLSSkipVerify,
			Timeout:       time.Duration(s.cfg.Server.TimeoutMs) * time.Millisecond,
		}, s.logger)
		if err != nil {
			s.logger.Warn("voice server dial failed",
				zap.String("addr", s.cfg.Server.Addr()),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, redialBackoffMax)
			continue
		}
		backoff = redialBackoffMin
		s.logger.Info("voice server connected", zap.String("addr", s.cfg.Server.Addr()))
		s.hub.Publish("connected", map[string]any{"addr": s.cfg.Server.Addr()})

		conn.SetAudioObserver(func(raw []byte) {
			pkt, err := murmur.DecodePacket(raw)
			if err != nil {
				s.logger.Debug("drop malformed voice packet", zap.Error(err))
				return
			}
			s.segmenter.Process(pkt)
		})
		s.link.set(conn)

		pingCtx, stopPing := context.WithCancel(ctx)
		go s.keepAlive(pingCtx, conn)

		select {
		case <-ctx.Done():
			stopPing()
			conn.Close()
			return
		case <-conn.Done():
		}
		stopPing()
		s.link.set(nil)
		s.segmenter.Reset()
		s.hub.Publish("disconnected", nil)
		if err := conn.Err(); err != nil {
			s.logger.Warn("voice server connection lost", zap.Error(err))
		}
	}
}

func (s *Server) keepAlive(ctx context.Context, conn *murmur.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(ctx, murmur.MsgPing, nil); err != nil {
				return
			}
		}
	}
}
