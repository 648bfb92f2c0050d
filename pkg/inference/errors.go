package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderUnavailable is returned when no providers are configured.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrNoChoices is returned when the server answers without a choice.
	ErrNoChoices = errors.New("inference: no choices returned")
)

// APIError is a non-2xx answer from a chat completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: status %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports rate limiting and server-side failures.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ProviderError wraps a transport or decode failure with its provider name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError wraps err with provider context. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError collects the failure of every provider in a Chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "inference chain: no errors recorded"
	case 1:
		return fmt.Sprintf("inference chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("inference chain: all %d providers failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error { return e.Errors }
