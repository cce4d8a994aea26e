package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConfigured     = errors.New("llm base url is not configured")
	ErrEmptyInput        = errors.New("llm input is empty")
	ErrRateLimited       = errors.New("llm rate limited")
	ErrBadRequest        = errors.New("llm rejected request")
	ErrServerError       = errors.New("llm server error")
	ErrTimeout           = errors.New("llm request timed out")
	ErrTransport         = errors.New("llm transport failure")
	ErrMalformed         = errors.New("llm response is malformed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// StatusError is a non-2xx answer from the backend, with the body attached.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm response status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrBadRequest
	default:
		return ErrServerError
	}
}
