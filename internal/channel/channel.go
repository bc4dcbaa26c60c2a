package channel

import (
	"context"
	"time"
)

// Scope says whose history a message belongs to.
type Scope int

const (
	// ScopeUser keys history by sender.
	ScopeUser Scope = iota
	// ScopeChannel keys history by channel, shared by every speaker.
	ScopeChannel
)

func (s Scope) String() string {
	if s == ScopeChannel {
		return "channel"
	}
	return "user"
}

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ChannelName string
	TeamID      string
	SenderID    string
	SenderName  string
	// ChatID is where the reply goes.
	ChatID    string
	ChannelID string
	ThreadID  string
	Scope     Scope
	Text      string
	Timestamp time.Time
}

// OutboundMessage is a message to send through a channel.
type OutboundMessage struct {
	ChatID   string
	ThreadID string // optional thread to reply in
	Text     string
}

// Reply builds the outbound message answering msg.
func (m InboundMessage) Reply(text string) OutboundMessage {
	return OutboundMessage{ChatID: m.ChatID, ThreadID: m.ThreadID, Text: text}
}

// Channel is the interface for messaging integrations.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	OnMessage(handler func(InboundMessage))
	IsRunning() bool
}
