package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const (
	// EmptyQueryReply answers a mention that carries no text.
	EmptyQueryReply = "How can I help you today?"
	// UnknownUserName is used when the sender cannot be resolved.
	UnknownUserName = "Unknown User"
)

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)

// SlackConfig holds Slack-specific configuration.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	// APIURL overrides the Slack Web API base URL. It must end with "/".
	APIURL string
}

// SlackChannel handles Events API callbacks for one Slack app and replies
// through the Web API.
type SlackChannel struct {
	mu            sync.Mutex
	client        *slack.Client
	signingSecret string
	botUserID     string
	handler       func(InboundMessage)
	running       bool

	namesMu sync.Mutex
	names   map[string]string
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg SlackConfig) *SlackChannel {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &SlackChannel{
		client:        slack.New(cfg.BotToken, opts...),
		signingSecret: cfg.SigningSecret,
		names:         make(map[string]string),
	}
}

func (s *SlackChannel) Name() string { return "slack" }

// Start resolves the bot's own user id so mentions can be stripped.
func (s *SlackChannel) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	auth, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.botUserID = auth.UserID
	s.running = true
	log.Printf("[slack] authenticated as %s in team %s", auth.User, auth.Team)
	return nil
}

func (s *SlackChannel) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *SlackChannel) Send(ctx context.Context, msg OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
	}
	if _, _, err := s.client.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}

func (s *SlackChannel) OnMessage(handler func(InboundMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *SlackChannel) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Verify checks the request signature against the app's signing secret.
func (s *SlackChannel) Verify(header http.Header, body []byte) error {
	sv, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// HandleEvent processes one Events API callback body. It blocks until the
// handler has run, so callers acknowledge Slack first.
func (s *SlackChannel) HandleEvent(ctx context.Context, body []byte) error {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return fmt.Errorf("parse slack event: %w", err)
	}
	if ev.Type != slackevents.CallbackEvent {
		return nil
	}

	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		s.handleMention(ctx, ev.TeamID, e)
	case *slackevents.MessageEvent:
		s.handleDirect(ctx, ev.TeamID, e)
	}
	return nil
}

func (s *SlackChannel) handleMention(ctx context.Context, teamID string, e *slackevents.AppMentionEvent) {
	if e.BotID != "" {
		return
	}
	query := s.stripMention(e.Text)
	if query == "" {
		s.reply(ctx, OutboundMessage{ChatID: e.Channel, ThreadID: e.ThreadTimeStamp, Text: EmptyQueryReply})
		return
	}

	msg := InboundMessage{
		ChannelName: s.Name(),
		TeamID:      teamID,
		SenderID:    e.User,
		SenderName:  s.UserName(ctx, e.User),
		ChatID:      e.Channel,
		ChannelID:   e.Channel,
		ThreadID:    e.ThreadTimeStamp,
		Scope:       ScopeChannel,
		Text:        query,
		Timestamp:   time.Now(),
	}
	// Threads keep a per-user history; the main channel is shared.
	if e.ThreadTimeStamp != "" {
		msg.Scope = ScopeUser
	}
	log.Printf("[slack] mention from %s (%s) in %s", msg.SenderName, msg.SenderID, msg.ChannelID)
	s.dispatch(msg)
}

func (s *SlackChannel) handleDirect(ctx context.Context, teamID string, e *slackevents.MessageEvent) {
	if e.BotID != "" || e.SubType != "" || e.User == "" {
		return
	}
	if e.ChannelType != "" && e.ChannelType != "im" {
		return
	}
	text := strings.TrimSpace(e.Text)
	if text == "" {
		s.reply(ctx, OutboundMessage{ChatID: e.Channel, ThreadID: e.ThreadTimeStamp, Text: EmptyQueryReply})
		return
	}

	msg := InboundMessage{
		ChannelName: s.Name(),
		TeamID:      teamID,
		SenderID:    e.User,
		SenderName:  s.UserName(ctx, e.User),
		ChatID:      e.Channel,
		ChannelID:   e.Channel,
		ThreadID:    e.ThreadTimeStamp,
		Scope:       ScopeUser,
		Text:        text,
		Timestamp:   time.Now(),
	}
	log.Printf("[slack] direct message from %s (%s)", msg.SenderName, msg.SenderID)
	s.dispatch(msg)
}

func (s *SlackChannel) dispatch(msg InboundMessage) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		log.Printf("[slack] no handler registered, dropping message from %s", msg.SenderID)
		return
	}
	handler(msg)
}

func (s *SlackChannel) reply(ctx context.Context, msg OutboundMessage) {
	if err := s.Send(ctx, msg); err != nil {
		log.Printf("[slack] reply failed: %v", err)
	}
}

func (s *SlackChannel) stripMention(text string) string {
	s.mu.Lock()
	botID := s.botUserID
	s.mu.Unlock()
	if botID != "" {
		text = strings.ReplaceAll(text, "<@"+botID+">", "")
	} else {
		text = mentionRe.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// UserName resolves a display name via users.info: real name, then user
// name, then UnknownUserName. Results are cached.
func (s *SlackChannel) UserName(ctx context.Context, userID string) string {
	s.namesMu.Lock()
	name, ok := s.names[userID]
	s.namesMu.Unlock()
	if ok {
		return name
	}

	user, err := s.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		log.Printf("[slack] error getting user info for %s: %v", userID, err)
		return UnknownUserName
	}
	switch {
	case user.RealName != "":
		name = user.RealName
	case user.Name != "":
		name = user.Name
	default:
		name = UnknownUserName
	}

	s.namesMu.Lock()
	s.names[userID] = name
	s.namesMu.Unlock()
	return name
}
