package llm

import (
	"context"
	"log"
)

// FallbackProvider tries providers in order, falling back on retryable errors.
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider creates a provider chain. The first provider is primary.
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

func (f *FallbackProvider) Name() string {
	if len(f.providers) > 0 {
		return f.providers[0].Name() + "+fallback"
	}
	return "fallback"
}

func (f *FallbackProvider) DefaultModel() string {
	if len(f.providers) > 0 {
		return f.providers[0].DefaultModel()
	}
	return ""
}

// Chat sends req to each provider in turn. The model name is cleared for
// secondary providers so each falls back to its own default.
func (f *FallbackProvider) Chat(ctx context.Context, req *ChatRequest) (*LLMResponse, error) {
	if len(f.providers) == 0 {
		return nil, &LLMError{Type: ErrorUnknown, Message: "no providers configured"}
	}
	var lastErr error
	for i, p := range f.providers {
		r := req
		if i > 0 {
			cp := *req
			cp.Model = ""
			r = &cp
		}
		resp, err := p.Chat(ctx, r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Printf("[fallback] provider %s failed: %v, trying next", p.Name(), err)
	}
	return nil, lastErr
}
