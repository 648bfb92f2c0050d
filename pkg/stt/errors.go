package stt

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoEndpoint is returned when no base URL is configured.
	ErrNoEndpoint = errors.New("stt: endpoint required")

	// ErrEmptyAudio is returned when asked to transcribe nothing.
	ErrEmptyAudio = errors.New("stt: empty audio")
)

// APIError is a non-2xx answer from the transcription server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stt: API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
