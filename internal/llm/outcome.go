package llm

import "strings"

// OutcomeKind tags what a model response asked for.
type OutcomeKind int

const (
	// OutcomeEmpty means the response carried neither text nor a tool call.
	OutcomeEmpty OutcomeKind = iota
	// OutcomeAnswer means the response is plain text.
	OutcomeAnswer
	// OutcomeToolCall means the model asked for a tool to be run.
	OutcomeToolCall
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAnswer:
		return "answer"
	case OutcomeToolCall:
		return "tool_call"
	default:
		return "empty"
	}
}

// Outcome is a provider response decoded once at the API boundary.
// Text holds the answer, or any preamble that accompanied a tool call.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Call ToolCall
}

// Answer builds an OutcomeAnswer.
func Answer(text string) Outcome { return Outcome{Kind: OutcomeAnswer, Text: text} }

// Decode classifies a response. A tool call wins over text; only the first
// tool call is considered.
func Decode(resp *LLMResponse) Outcome {
	if resp == nil {
		return Outcome{}
	}
	text := strings.TrimSpace(resp.Content)
	if len(resp.ToolCalls) > 0 && resp.ToolCalls[0].Name != "" {
		return Outcome{Kind: OutcomeToolCall, Text: text, Call: resp.ToolCalls[0]}
	}
	if text != "" {
		return Answer(text)
	}
	return Outcome{}
}
