package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebot/internal/httpc"
)

// backend is the HTTP plumbing shared by the providers.
type backend struct {
	name    string
	baseURL string
	config  *Config
	client  *http.Client
	logger  *slog.Logger
}

func newBackend(name string, cfg *Config) *backend {
	return &backend{
		name:    name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		client:  httpc.Or(cfg.HTTPClient, cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts."+name),
	}
}

// post sends payload as JSON to path and returns the response body.
func (b *backend) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(b.name, fmt.Errorf("marshal payload: %w", err))
	}
	resp, err := b.doWithRetry(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(b.name, fmt.Errorf("read response: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(b.name, ErrEmptyAudio)
	}
	return audio, nil
}

func (b *backend) get(ctx context.Context, path string) error {
	resp, err := b.doWithRetry(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// doWithRetry retries transport errors, 429 and 5xx. The request is rebuilt
// on every attempt.
func (b *backend) doWithRetry(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.config.RetryDelay * time.Duration(attempt)):
			}
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rd)
		if err != nil {
			return nil, WrapError(b.name, fmt.Errorf("create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if b.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(b.name, err)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := b.parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		b.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
	}

	return nil, lastErr
}

func (b *backend) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Provider:   b.name,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Code = errResp.Error.Code
	}
	return apiErr
}

func (b *backend) close() {
	b.client.CloseIdleConnections()
}
