package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// classify maps an HTTP status (0 when unknown) and error text onto an
// ErrorType.
func classify(provider string, status int, err error) *LLMError {
	llmErr := &LLMError{Err: err, Message: provider + " request failed"}

	var netErr net.Error
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		llmErr.Type = ErrorTimeout
	case status == 401 || status == 403:
		llmErr.Type = ErrorAuth
	case status == 429:
		llmErr.Type = ErrorRateLimit
	case status == 400 || status == 404 || status == 422:
		llmErr.Type = ErrorInvalidInput
	case status >= 500:
		llmErr.Type = ErrorServerError
	case errors.As(err, &netErr) && netErr.Timeout():
		llmErr.Type = ErrorTimeout
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		llmErr.Type = ErrorTimeout
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") || strings.Contains(lower, "quota"):
		llmErr.Type = ErrorRateLimit
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		llmErr.Type = ErrorAuth
	case strings.Contains(lower, "overloaded"):
		llmErr.Type = ErrorServerError
	case strings.Contains(lower, "connection") || strings.Contains(lower, "dns") || strings.Contains(lower, "refused"):
		llmErr.Type = ErrorNetwork
	default:
		llmErr.Type = ErrorUnknown
	}
	return llmErr
}

// IsTimeout reports whether err is an LLM timeout.
func IsTimeout(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// TypeOf returns the classification of err, or ErrorUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorUnknown
}
