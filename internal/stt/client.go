package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds the transcription endpoint settings.
type Config struct {
	URL      string
	Language string
	Timeout  time.Duration
}

// Client posts WAV audio to a whisper-style transcription endpoint
// and returns the recognized text.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

const defaultTimeout = 30 * time.Second

// New creates a transcription client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
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

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe sends one WAV-wrapped utterance and returns its text.
// An empty transcription is a valid result, not an error.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if c.cfg.URL == "" {
		return "", fmt.Errorf("stt: endpoint not configured")
	}

	endpoint := c.cfg.URL
	if c.cfg.Language != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", fmt.Errorf("stt: parse url: %w", err)
		}
		q := u.Query()
		q.Set("language", c.cfg.Language)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("stt: decode response: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	c.logger.Debug("transcription complete",
		zap.Int("wav_bytes", len(wav)),
		zap.Int("text_len", len(text)),
		zap.Duration("latency", time.Since(start)))
	return text, nil
}
