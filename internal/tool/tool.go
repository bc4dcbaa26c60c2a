package tool

import (
	"context"
	"encoding/json"
)

// Tool is the interface for model-callable tools.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage // JSON Schema
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the output of a tool execution.
type Result struct {
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	IsError bool   `json:"is_error"`
}

// Text returns what should be handed back to the model.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if r.IsError {
		return "Error: " + r.Error
	}
	return r.Output
}
