package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ConsoleConfig holds console channel settings.
type ConsoleConfig struct {
	In       io.Reader
	Out      io.Writer
	UserID   string
	UserName string
	BotName  string
}

// ConsoleChannel reads messages from In and writes replies to Out.
// "exit" or "quit" ends the session; "clear" calls the clear hook.
type ConsoleChannel struct {
	mu      sync.Mutex
	cfg     ConsoleConfig
	handler func(InboundMessage)
	onClear func() string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewConsoleChannel(cfg ConsoleConfig) *ConsoleChannel {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.UserID == "" {
		cfg.UserID = "local"
	}
	if cfg.UserName == "" {
		cfg.UserName = "User"
	}
	if cfg.BotName == "" {
		cfg.BotName = "Bot"
	}
	return &ConsoleChannel{cfg: cfg, done: make(chan struct{})}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

func (c *ConsoleChannel) Send(_ context.Context, msg OutboundMessage) error {
	_, err := fmt.Fprintf(c.cfg.Out, "\n%s: %s\n\n> ", c.cfg.BotName, msg.Text)
	return err
}

func (c *ConsoleChannel) OnMessage(handler func(InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// OnClear registers the hook run for the "clear" command. Its result is
// printed.
func (c *ConsoleChannel) OnClear(fn func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClear = fn
}

// Done is closed when the input ends or the user exits.
func (c *ConsoleChannel) Done() <-chan struct{} {
	return c.done
}

func (c *ConsoleChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	defer close(c.done)
	scanner := bufio.NewScanner(c.cfg.In)
	fmt.Fprint(c.cfg.Out, "> ")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			fmt.Fprint(c.cfg.Out, "> ")
			continue
		case "exit", "quit":
			fmt.Fprintln(c.cfg.Out, "Goodbye!")
			return
		case "clear":
			c.mu.Lock()
			onClear := c.onClear
			c.mu.Unlock()
			if onClear != nil {
				fmt.Fprintf(c.cfg.Out, "%s\n\n> ", onClear())
			} else {
				fmt.Fprint(c.cfg.Out, "> ")
			}
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		if handler != nil {
			handler(InboundMessage{
				ChannelName: c.Name(),
				SenderID:    c.cfg.UserID,
				SenderName:  c.cfg.UserName,
				ChatID:      c.Name(),
				ChannelID:   c.Name(),
				Scope:       ScopeUser,
				Text:        text,
				Timestamp:   time.Now(),
			})
		}
	}
}
