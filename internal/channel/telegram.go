package channel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"slackmind/internal/security"
)

const telegramMaxMessage = 4000

// TelegramChannel integrates with the Telegram Bot API.
type TelegramChannel struct {
	mu      sync.Mutex
	token   string
	auth    *security.Authorizer
	bot     *tele.Bot
	handler func(InboundMessage)
	running bool
}

// TelegramConfig holds Telegram-specific configuration.
type TelegramConfig struct {
	Token        string
	AllowedUsers []string
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	return &TelegramChannel{
		token: cfg.Token,
		auth:  security.NewAuthorizer(cfg.AllowedUsers),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	pref := tele.Settings{
		Token:  t.token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	bot.Handle(tele.OnText, func(c tele.Context) error {
		msg, ok := t.inbound(c, bot.Me)
		if !ok {
			return nil
		}

		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
		return nil
	})

	t.bot = bot
	t.running = true

	go func() {
		bot.Start()
	}()

	// Stop bot when context is cancelled
	go func() {
		<-ctx.Done()
		bot.Stop()
	}()

	return nil
}

// inbound converts an update into an InboundMessage. Group messages are
// only handled when they mention the bot.
func (t *TelegramChannel) inbound(c tele.Context, me *tele.User) (InboundMessage, bool) {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return InboundMessage{}, false
	}

	senderID := strconv.FormatInt(sender.ID, 10)
	if !t.auth.IsAllowed(senderID) && !t.auth.IsAllowed(sender.Username) {
		log.Printf("[telegram] unauthorized user: %d (%s)", sender.ID, sender.Username)
		return InboundMessage{}, false // silently ignore
	}

	chatID := strconv.FormatInt(chat.ID, 10)
	msg := InboundMessage{
		ChannelName: t.Name(),
		SenderID:    senderID,
		SenderName:  displayName(sender),
		ChatID:      chatID,
		ChannelID:   chatID,
		Scope:       ScopeUser,
		Text:        strings.TrimSpace(c.Text()),
		Timestamp:   time.Now(),
	}

	if chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup {
		if me == nil || me.Username == "" {
			return InboundMessage{}, false
		}
		mention := "@" + me.Username
		if !strings.Contains(msg.Text, mention) {
			return InboundMessage{}, false
		}
		msg.Text = strings.TrimSpace(strings.ReplaceAll(msg.Text, mention, ""))
		msg.Scope = ScopeChannel
	}
	if msg.Text == "" {
		return InboundMessage{}, false
	}
	return msg, true
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = UnknownUserName
	}
	return name
}

func (t *TelegramChannel) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		t.bot.Stop()
	}
	t.running = false
	return nil
}

func (t *TelegramChannel) Send(_ context.Context, msg OutboundMessage) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	recipient := &tele.Chat{ID: chatID}
	for _, chunk := range splitMessage(msg.Text, telegramMaxMessage) {
		if _, err := bot.Send(recipient, chunk); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit bytes without
// splitting a UTF-8 sequence.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func (t *TelegramChannel) OnMessage(handler func(InboundMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *TelegramChannel) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
