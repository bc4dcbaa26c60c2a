package llm

import (
	"context"
	"errors"
)

// Provider is one chat-completion backend.
type Provider interface {
	// Chat runs one completion. Failures are returned as *LLMError.
	Chat(ctx context.Context, req *ChatRequest) (*LLMResponse, error)
	// Name labels the backend in logs, metrics and the usage ledger.
	Name() string
	// DefaultModel is used when ChatRequest.Model is empty.
	DefaultModel() string
}

// LLMError is a classified provider failure.
type LLMError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *LLMError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *LLMError) Unwrap() error { return e.Err }

// Retryable reports whether another provider might succeed where this
// one failed. Auth and invalid-input errors are final; unclassified
// errors are retried.
func Retryable(err error) bool {
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		return true
	}
	return llmErr.Type != ErrorAuth && llmErr.Type != ErrorInvalidInput
}
