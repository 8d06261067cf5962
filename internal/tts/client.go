package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicebridge/murmur-agent/pkg/audio"
)

// Config holds the synthesis endpoint settings.
type Config struct {
	URL   string
	Voice string
	Model string
	// SampleRate is assumed for responses that arrive as raw PCM16
	// without a container.
	SampleRate int
	Timeout    time.Duration
}

// Client posts text to a synthesis endpoint and returns PCM16 samples.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

const (
	defaultTimeout    = 60 * time.Second
	defaultSampleRate = 24000
)

// New creates a synthesis client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Model string `json:"model,omitempty"`
}

// Synthesize renders text as mono PCM16 and reports the sample rate.
// An empty voice selects the configured default. WAV responses carry
// their own rate; anything else is treated as headerless PCM16 at the
// configured rate.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]int16, int, error) {
	if c.cfg.URL == "" {
		return nil, 0, fmt.Errorf("tts: endpoint not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, 0, fmt.Errorf("tts: empty text")
	}
	if voice == "" {
		voice = c.cfg.Voice
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice, Model: c.cfg.Model})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: read response: %w", err)
	}
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("tts: empty audio response")
	}

	var (
		samples []int16
		rate    int
	)
	if audio.IsWAV(data) {
		samples, rate, err = audio.DecodeWAV(data)
		if err != nil {
			return nil, 0, fmt.Errorf("tts: %w", err)
		}
	} else {
		samples = audio.BytesToInt16Slice(data)
		rate = c.cfg.SampleRate
	}

	c.logger.Debug("synthesis complete",
		zap.String("voice", voice),
		zap.Int("text_len", len(text)),
		zap.Int("samples", len(samples)),
		zap.Int("sample_rate", rate),
		zap.Duration("latency", time.Since(start)))
	return samples, rate, nil
}
