package agent

import (
	"slackmind/internal/history"
	"slackmind/internal/llm"
	"slackmind/internal/memory"
)

// MemoryPreamble introduces the memory facts handed to the model.
const MemoryPreamble = "I have access to the following important information that I should remember:\n\n"

// DefaultContextTurns is how many stored turns reach the model.
const DefaultContextTurns = 20

// ContextRequest describes the inbound message a window is built for.
type ContextRequest struct {
	Key           string
	Workspace     string
	SenderID      string
	SenderName    string
	ChannelScoped bool
	Text          string
}

// Window is the model-visible input for one turn.
type Window struct {
	History []llm.Message
	// Current is the inbound text as the model sees it.
	Current string
	// Query is the inbound text as the user typed it.
	Query string
}

// Messages returns the history followed by the current message.
func (w Window) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(w.History)+1)
	msgs = append(msgs, w.History...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: w.Current})
}

// Assembler builds context windows from stored history and memory.
type Assembler struct {
	history *history.Store
	memory  *memory.Store
	turns   int
}

// NewAssembler creates an Assembler. turns <= 0 selects DefaultContextTurns.
func NewAssembler(h *history.Store, m *memory.Store, turns int) *Assembler {
	if turns <= 0 {
		turns = DefaultContextTurns
	}
	return &Assembler{history: h, memory: m, turns: turns}
}

// Build assembles the window for req. Memory facts come first as an
// assistant message, then the most recent turns. In channel-scoped
// conversations user turns carry the speaker's name.
func (a *Assembler) Build(req ContextRequest) Window {
	var msgs []llm.Message

	if a.memory != nil {
		facts := a.memory.GetContext(req.Workspace, memory.Subject{ID: req.SenderID, Name: req.SenderName})
		if facts != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: MemoryPreamble + facts})
		}
	}

	turns := a.history.Load(req.Key)
	if len(turns) > a.turns {
		turns = turns[len(turns)-a.turns:]
	}
	for _, t := range turns {
		msgs = append(msgs, turnMessage(t, req.ChannelScoped))
	}

	current := req.Text
	if req.ChannelScoped && req.SenderName != "" {
		current = req.SenderName + ": " + req.Text
	}
	return Window{History: msgs, Current: current, Query: req.Text}
}

func turnMessage(t history.Turn, channelScoped bool) llm.Message {
	if t.Role != history.RoleUser {
		return llm.Message{Role: llm.RoleAssistant, Content: t.Content}
	}
	content := t.Content
	if channelScoped && t.UserName != "" {
		content = t.UserName + ": " + content
	}
	return llm.Message{Role: llm.RoleUser, Content: content}
}
