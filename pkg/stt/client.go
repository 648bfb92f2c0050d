package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebot/internal/httpc"
)

const transcriptionsPath = "/v1/audio/transcriptions"

// Client talks to an OpenAI-compatible transcription server.
type Client struct {
	baseURL string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a transcription client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		http:    httpc.Or(cfg.HTTPClient, cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.client"),
	}, nil
}

// Transcribe implements Transcriber.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	start := time.Now()

	body, contentType, err := c.form(filename, audio)
	if err != nil {
		return "", err
	}

	resp, err := c.doWithRetry(ctx, body, contentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("stt: decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	c.logger.Debug("transcribed", "bytes", len(audio), "chars", len(text), "latency_ms", time.Since(start).Milliseconds())
	return text, nil
}

func (c *Client) form(filename string, audio []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("model", c.config.Model); err != nil {
		return nil, "", fmt.Errorf("stt: write model field: %w", err)
	}
	if c.config.Language != "" {
		if err := mw.WriteField("language", c.config.Language); err != nil {
			return nil, "", fmt.Errorf("stt: write language field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("stt: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("stt: close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// doWithRetry retries transport errors, 429 and 5xx.
func (c *Client) doWithRetry(ctx context.Context, body []byte, contentType string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcriptionsPath, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("stt: create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("stt: %w", err)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		c.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return nil, lastErr
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

var _ Transcriber = (*Client)(nil)
