package eventbus

import "time"

// Topic represents an event topic.
type Topic string

const (
	TopicInboundMessage  Topic = "inbound_message"
	TopicOutboundMessage Topic = "outbound_message"
	TopicLLMResponse     Topic = "llm_response"
	TopicToolCall        Topic = "tool_call"
	TopicReinforce       Topic = "reinforce"
	TopicReply           Topic = "reply"
	TopicSummarized      Topic = "summarized"
	TopicError           Topic = "error"
)

// Event is a message passed through the event bus.
type Event struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes an event.
type Handler func(Event)

// LLMCall is published after every model round trip.
type LLMCall struct {
	Workspace    string
	Provider     string
	Model        string
	Purpose      string // "reply" or "summarize"
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Err          error
}

// ToolCall is published when the model invokes a tool.
type ToolCall struct {
	Workspace string
	Name      string
	Query     string
	Failed    bool
}

// Reply is published once per handled inbound message.
type Reply struct {
	Workspace string
	Channel   string
	Key       string
	Outcome   string // "answer", "fallback" or "error"
	Duration  time.Duration
}

// Summarized is published when a summarization job finishes.
type Summarized struct {
	Workspace string
	Key       string
	Added     int
	Err       error
}

// ErrorEvent carries a failure that did not reach the user.
type ErrorEvent struct {
	Workspace string
	Source    string
	Err       error
}
