package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"slackmind/internal/channel"
	"slackmind/internal/eventbus"
	"slackmind/internal/history"
	"slackmind/internal/security"
)

// Agent answers messages for one persona: it assembles context, runs the
// model loop, stores the exchange and schedules summarization.
type Agent struct {
	appID      string
	history    *history.Store
	assembler  *Assembler
	loop       *Loop
	summarizer *Summarizer
	bus        *eventbus.Bus
	chanMgr    *channel.Manager
}

// New creates a new Agent. summarizer, bus and chanMgr may be nil.
func New(
	appID string,
	store *history.Store,
	assembler *Assembler,
	loop *Loop,
	summarizer *Summarizer,
	bus *eventbus.Bus,
	chanMgr *channel.Manager,
) *Agent {
	if chanMgr == nil {
		chanMgr = channel.NewManager(appID)
	}
	return &Agent{
		appID:      appID,
		history:    store,
		assembler:  assembler,
		loop:       loop,
		summarizer: summarizer,
		bus:        bus,
		chanMgr:    chanMgr,
	}
}

// AppID returns the persona this agent serves.
func (a *Agent) AppID() string { return a.appID }

// Channels returns the agent's channel manager.
func (a *Agent) Channels() *channel.Manager { return a.chanMgr }

// Summarizer returns the agent's summarizer, which may be nil.
func (a *Agent) Summarizer() *Summarizer { return a.summarizer }

// Start routes messages from every registered channel to the agent and
// sends the replies back. Call it before the channels are started.
func (a *Agent) Start(ctx context.Context) {
	for _, ch := range a.chanMgr.All() {
		ch := ch
		ch.OnMessage(func(msg channel.InboundMessage) {
			a.bus.Publish(eventbus.TopicInboundMessage, msg)
			a.handleMessage(ctx, ch, msg)
		})
	}
	log.Printf("[agent] %s started and listening for messages", a.appID)
}

// Shutdown stops the channels and waits for background summarization.
func (a *Agent) Shutdown(ctx context.Context) {
	a.chanMgr.StopAll(ctx)
	if a.summarizer != nil {
		a.summarizer.Wait()
	}
}

// handleMessage processes an inbound message and sends the response back.
func (a *Agent) handleMessage(ctx context.Context, ch channel.Channel, msg channel.InboundMessage) {
	log.Printf("[agent] %s: message from %s (%s): %s", a.appID, msg.SenderName, msg.ChannelName, truncate(security.Redact(msg.Text), 100))

	out := msg.Reply(a.Reply(ctx, msg))
	a.bus.Publish(eventbus.TopicOutboundMessage, out)
	if err := ch.Send(ctx, out); err != nil {
		log.Printf("[agent] %s: error sending response: %v", a.appID, err)
		a.bus.Publish(eventbus.TopicError, eventbus.ErrorEvent{Workspace: a.appID, Source: ch.Name(), Err: err})
	}
}

// KeyFor returns the conversation key msg belongs to.
func (a *Agent) KeyFor(msg channel.InboundMessage) string {
	if msg.Scope == channel.ScopeChannel {
		return history.ChannelKey(a.appID, msg.ChannelID)
	}
	return history.UserKey(a.appID, msg.SenderID)
}

// Reply returns the answer to msg. Successful exchanges are appended to
// history and may trigger summarization; failed ones leave state untouched.
func (a *Agent) Reply(ctx context.Context, msg channel.InboundMessage) string {
	start := time.Now()
	key := a.KeyFor(msg)
	channelScoped := msg.Scope == channel.ScopeChannel

	win := a.assembler.Build(ContextRequest{
		Key:           key,
		Workspace:     a.appID,
		SenderID:      msg.SenderID,
		SenderName:    msg.SenderName,
		ChannelScoped: channelScoped,
		Text:          msg.Text,
	})

	text, err := a.loop.Run(ctx, win)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrNoResponse) || errors.Is(err, ErrUnsupportedTool) {
			outcome = "fallback"
		}
		log.Printf("[agent] %s: reply for %s not stored: %v", a.appID, key, err)
		a.bus.Publish(eventbus.TopicError, eventbus.ErrorEvent{Workspace: a.appID, Source: "loop", Err: err})
		a.publishReply(msg, key, outcome, start)
		return text
	}

	userTurn := history.NewTurn(history.RoleUser, msg.Text)
	userTurn.UserID = msg.SenderID
	userTurn.UserName = msg.SenderName
	userTurn.Workspace = a.appID
	if channelScoped {
		userTurn.ChannelID = msg.ChannelID
	}
	botTurn := history.NewTurn(history.RoleBot, text)
	botTurn.Workspace = a.appID

	res, err := a.history.Append(key, userTurn, botTurn)
	if err != nil {
		log.Printf("[agent] %s: error saving history %s: %v", a.appID, key, err)
	} else if a.summarizer != nil {
		a.summarizer.Trigger(ctx, a.appID, key, res)
	}

	a.publishReply(msg, key, "answer", start)
	return text
}

func (a *Agent) publishReply(msg channel.InboundMessage, key, outcome string, start time.Time) {
	a.bus.Publish(eventbus.TopicReply, eventbus.Reply{
		Workspace: a.appID,
		Channel:   msg.ChannelName,
		Key:       key,
		Outcome:   outcome,
		Duration:  time.Since(start),
	})
}
