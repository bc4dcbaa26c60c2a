package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"slackmind/internal/bot"
	"slackmind/internal/config"
	"slackmind/internal/history"
)

func testConfig(t *testing.T, personas ...config.PersonaConfig) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	for _, p := range personas {
		p.LLM = config.DefaultLLM()
		cfg.Personas = append(cfg.Personas, p)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewSkipsUnusablePersonas(t *testing.T) {
	cfg := testConfig(t,
		config.PersonaConfig{AppID: "acme", TeamID: "T1", BotToken: "xoxb-1", SigningSecret: "s1"},
		config.PersonaConfig{AppID: "bare"},
		config.PersonaConfig{AppID: "badtz", BotToken: "xoxb-2", SigningSecret: "s2", Timezone: "Mars/Olympus"},
		config.PersonaConfig{AppID: "tg", TelegramToken: "123:abc"},
	)
	a := newTestApp(t, cfg)

	if a.Bots().Len() != 2 {
		t.Fatalf("bots = %d, want 2", a.Bots().Len())
	}
	b, err := a.Bots().ByTeam("T1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Slack == nil || b.Agent == nil {
		t.Fatal("slack persona should have a channel and an agent")
	}
	if _, ok := b.Agent.Channels().Get("slack"); !ok {
		t.Error("slack channel not registered with the agent")
	}

	tg, err := a.Bots().ByApp("tg")
	if err != nil {
		t.Fatal(err)
	}
	if tg.Slack != nil {
		t.Error("telegram-only persona has no slack channel")
	}
	if _, ok := tg.Agent.Channels().Get("telegram"); !ok {
		t.Error("telegram channel not registered")
	}

	for _, dir := range []string{"sessions", "memory"} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, dir)); err != nil {
			t.Errorf("%s dir: %v", dir, err)
		}
	}
}

func TestClearHistory(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	key := history.ChannelKey("acme", "C1")
	if _, err := a.History().Append(key, history.NewTurn(history.RoleUser, "hi")); err != nil {
		t.Fatal(err)
	}

	cleared, err := a.ClearHistory("acme", "channel_C1")
	if err != nil || !cleared {
		t.Fatalf("ClearHistory = %v, %v", cleared, err)
	}
	cleared, err = a.ClearHistory("acme", "channel_C1")
	if err != nil || cleared {
		t.Fatalf("second ClearHistory = %v, %v", cleared, err)
	}
}

func TestSummarizeUnknownWorkspace(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if _, err := a.SummarizeWorkspace(context.Background(), "nope"); !errors.Is(err, bot.ErrUnknownApp) {
		t.Fatalf("expected ErrUnknownApp, got %v", err)
	}
}

func TestSchedule(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	c, err := a.schedule(context.Background())
	if err != nil || c != nil {
		t.Fatalf("no schedule: %v, %v", c, err)
	}

	cfg.SummarizeSchedule = "0 3 * * *"
	c, err = a.schedule(context.Background())
	if err != nil || c == nil {
		t.Fatalf("valid schedule: %v, %v", c, err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d", len(c.Entries()))
	}

	cfg.SummarizeSchedule = "not a schedule"
	if _, err := a.schedule(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRunWithoutPersonas(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error with no usable personas")
	}
}

func TestPersona(t *testing.T) {
	a := newTestApp(t, testConfig(t, config.PersonaConfig{AppID: "bare"}))
	if _, ok := a.Persona("bare"); !ok {
		t.Error("unusable personas are still looked up by id")
	}
	if _, ok := a.Persona("nope"); ok {
		t.Error("unexpected persona")
	}
}
