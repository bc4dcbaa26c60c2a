// Package app wires configuration, stores, personas, channels and the
// HTTP server into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"slackmind/internal/agent"
	"slackmind/internal/bot"
	"slackmind/internal/channel"
	"slackmind/internal/config"
	"slackmind/internal/eventbus"
	"slackmind/internal/history"
	"slackmind/internal/httpapi"
	"slackmind/internal/llm"
	"slackmind/internal/memory"
	"slackmind/internal/observability"
	"slackmind/internal/security"
	"slackmind/internal/tool"
	"slackmind/internal/usage"
)

// MasterPasswordEnv names the variable holding the secret vault password.
const MasterPasswordEnv = "SLACKMIND_MASTER_PASSWORD"

// SearchURLEnv overrides the search_web endpoint.
const SearchURLEnv = "SLACKMIND_SEARCH_URL"

// LoadConfig reads .env, the persona file at path and resolves keyring
// placeholders. A broken or empty file falls back to the environment.
func LoadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[app] warning: failed to load .env: %v", err)
	}

	loader := config.NewLoader(path)
	cfg, err := loader.LoadOrEnv()
	if err != nil {
		log.Printf("[app] warning: config %s unusable, using environment: %v", loader.FilePath(), err)
	}

	ks, err := OpenKeyStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := security.ResolveSecrets(cfg, ks); err != nil {
		log.Printf("[app] warning: %v", err)
	}
	return cfg, nil
}

// OpenKeyStore opens the secret store under the data directory, unlocking
// the vault with MasterPasswordEnv.
func OpenKeyStore(cfg *config.Config) (*security.KeyStore, error) {
	ks, err := security.OpenKeyStore(filepath.Join(cfg.DataDir, "secrets"), os.Getenv(MasterPasswordEnv))
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return ks, nil
}

// App holds the shared state of one process.
type App struct {
	cfg     *config.Config
	bus     *eventbus.Bus
	history *history.Store
	memory  *memory.Store
	bots    *bot.Registry
	metrics *observability.Metrics
	ledger  *usage.Ledger
	search  *tool.SearchWebTool
}

// New opens the stores and builds one bot per usable persona. Channels are
// not started until Run.
func New(cfg *config.Config) (*App, error) {
	h, err := history.NewStore(filepath.Join(cfg.DataDir, "sessions"), cfg.MaxHistorySize)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	m, err := memory.NewStore(filepath.Join(cfg.DataDir, "memory"))
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	ledger, err := usage.Open(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return nil, fmt.Errorf("usage ledger: %w", err)
	}

	a := &App{
		cfg:     cfg,
		bus:     eventbus.New(),
		history: h,
		memory:  m,
		bots:    bot.NewRegistry(),
		metrics: observability.NewMetrics("slackmind"),
		ledger:  ledger,
		search:  tool.NewSearchWebTool(os.Getenv(SearchURLEnv)),
	}
	a.metrics.Subscribe(a.bus)
	a.ledger.Subscribe(a.bus)
	eventbus.On(a.bus, eventbus.TopicError, func(ev eventbus.ErrorEvent) {
		log.Printf("[app] %s: %s error: %s", ev.Workspace, ev.Source, security.Redact(fmt.Sprint(ev.Err)))
	})

	for _, p := range cfg.Personas {
		if !p.Usable() {
			log.Printf("[app] warning: skipping persona %s: no Slack credentials or Telegram token", p.AppID)
			continue
		}
		b, err := a.newBot(p)
		if err != nil {
			log.Printf("[app] warning: skipping persona %s: %v", p.AppID, err)
			continue
		}
		if err := a.bots.Add(b); err != nil {
			log.Printf("[app] warning: skipping persona %s: %v", p.AppID, err)
		}
	}
	return a, nil
}

func (a *App) newBot(p config.PersonaConfig) (*bot.Bot, error) {
	mgr := channel.NewManager(p.AppID)
	b := &bot.Bot{Persona: p}
	if p.HasSlack() {
		b.Slack = channel.NewSlackChannel(channel.SlackConfig{
			BotToken:      p.BotToken,
			SigningSecret: p.SigningSecret,
		})
		mgr.Register(b.Slack)
	}
	if p.HasTelegram() {
		mgr.Register(channel.NewTelegramChannel(channel.TelegramConfig{
			Token:        p.TelegramToken,
			AllowedUsers: p.AllowedUsers,
		}))
	}

	ag, err := a.NewAgent(p, mgr)
	if err != nil {
		return nil, err
	}
	b.Agent = ag
	return b, nil
}

// NewAgent builds the reply pipeline for persona p on top of the shared
// stores. mgr may be nil.
func (a *App) NewAgent(p config.PersonaConfig, mgr *channel.Manager) (*agent.Agent, error) {
	provider, err := llm.NewProviderWithFallback(p.LLM, a.cfg.Fallback)
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if p.Timezone != "" {
		if loc, err = time.LoadLocation(p.Timezone); err != nil {
			return nil, fmt.Errorf("timezone %q: %w", p.Timezone, err)
		}
	}

	loop := agent.NewLoop(provider, tool.NewRegistry(a.search), a.bus, agent.LoopConfig{
		Workspace:    p.AppID,
		Model:        p.LLM.Model,
		SystemPrompt: p.SystemInstruction,
		MaxTokens:    p.LLM.MaxTokens,
		Temperature:  p.LLM.Temperature,
		TopP:         p.LLM.TopP,
		TopK:         p.LLM.TopK,
		Timeout:      time.Duration(p.LLM.TimeoutSecs) * time.Second,
		Location:     loc,
	})

	model := p.LLM.Model
	if a.cfg.MemoryModel != "" {
		model = a.cfg.MemoryModel
	}
	summarizer := agent.NewSummarizer(a.history, a.memory, provider, a.bus, agent.SummarizerConfig{
		Every:     a.cfg.SummarizeEvery,
		Model:     model,
		MaxTokens: p.LLM.MaxTokens,
	})

	return agent.New(
		p.AppID,
		a.history,
		agent.NewAssembler(a.history, a.memory, a.cfg.ContextTurns),
		loop,
		summarizer,
		a.bus,
		mgr,
	), nil
}

func (a *App) Config() *config.Config  { return a.cfg }
func (a *App) Bots() *bot.Registry     { return a.bots }
func (a *App) History() *history.Store { return a.history }
func (a *App) Memory() *memory.Store   { return a.memory }

// Persona returns the configured persona with appID, usable or not.
func (a *App) Persona(appID string) (config.PersonaConfig, bool) {
	for _, p := range a.cfg.Personas {
		if p.AppID == appID {
			return p, true
		}
	}
	return config.PersonaConfig{}, false
}

// Run starts every bot's channels, the summarization schedule and the
// HTTP server, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.bots.Len() == 0 {
		return errors.New("no usable personas configured")
	}

	for _, b := range a.bots.All() {
		b.Agent.Start(ctx)
		if err := b.Agent.Channels().StartAll(ctx); err != nil {
			log.Printf("[app] %s: %v", b.AppID(), err)
		}
	}

	sched, err := a.schedule(ctx)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
	}

	srv := httpapi.New(a.bots, a.history, a.metrics, a.ledger)
	serveErr := srv.Serve(ctx, a.cfg.ListenAddr)

	if sched != nil {
		<-sched.Stop().Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, b := range a.bots.All() {
		b.Agent.Shutdown(shutdownCtx)
	}
	return serveErr
}

// schedule returns a cron running workspace summarization on
// summarize_schedule, or nil when no schedule is configured.
func (a *App) schedule(ctx context.Context) (*cron.Cron, error) {
	if a.cfg.SummarizeSchedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(a.cfg.SummarizeSchedule, func() {
		for _, b := range a.bots.All() {
			added, err := a.SummarizeWorkspace(ctx, b.AppID())
			if err != nil {
				log.Printf("[app] scheduled summarization of %s failed: %v", b.AppID(), err)
				continue
			}
			log.Printf("[app] scheduled summarization of %s added %d facts", b.AppID(), added)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("summarize_schedule %q: %w", a.cfg.SummarizeSchedule, err)
	}
	return c, nil
}

// SummarizeWorkspace distills every conversation of appID into memory and
// returns the number of facts added.
func (a *App) SummarizeWorkspace(ctx context.Context, appID string) (int, error) {
	if b, err := a.bots.ByApp(appID); err == nil {
		return b.Agent.Summarizer().SummarizeWorkspace(ctx, appID)
	}
	// Personas without channel credentials can still be summarized offline.
	p, ok := a.Persona(appID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", bot.ErrUnknownApp, appID)
	}
	ag, err := a.NewAgent(p, nil)
	if err != nil {
		return 0, err
	}
	return ag.Summarizer().SummarizeWorkspace(ctx, appID)
}

// ClearHistory deletes the record of appID's target and reports whether
// one existed.
func (a *App) ClearHistory(appID, target string) (bool, error) {
	key := appID + "_" + target
	if !a.history.Exists(key) {
		return false, nil
	}
	if err := a.history.Delete(key); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the usage ledger.
func (a *App) Close() error {
	return a.ledger.Close()
}
