package config

import (
	"os"
	"strings"
)

const (
	DefaultAppID    = "default"
	DefaultProvider = "gemini"
	DefaultModel    = "gemini-2.0-flash-lite"

	DefaultSystemInstruction = "Keep your responses simple, short, and conversational like a Slack chat. " +
		"Avoid lengthy explanations. Be direct and concise. " +
		"Use the search_web tool to find current information when needed."
)

// Defaults returns a Config with sensible default values and no personas.
func Defaults() *Config {
	return &Config{
		DataDir:        "data",
		ListenAddr:     ":3000",
		MaxHistorySize: 50,
		ContextTurns:   20,
		SummarizeEvery: 10,
	}
}

// DefaultLLM returns the model settings used when a persona leaves them out.
func DefaultLLM() LLMConfig {
	return LLMConfig{
		Provider:    DefaultProvider,
		Model:       DefaultModel,
		MaxRetries:  2,
		TimeoutSecs: 60,
		MaxTokens:   1024,
		Temperature: 0.7,
		TopP:        0.95,
		TopK:        40,
	}
}

// FromEnv builds a single-persona config from environment variables.
func FromEnv() *Config {
	cfg := Defaults()
	if v := os.Getenv("SLACKMIND_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + strings.TrimPrefix(v, ":")
	}
	cfg.Personas = []PersonaConfig{envPersona()}
	cfg.applyDefaults()
	return cfg
}

func envPersona() PersonaConfig {
	llm := DefaultLLM()
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		llm.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		llm.Model = v
	}
	llm.APIKey = firstEnv("LLM_API_KEY", "GOOGLE_API_KEY")
	if llm.Provider == "openai" && llm.APIKey == "" {
		llm.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if llm.Provider == "anthropic" && llm.APIKey == "" {
		llm.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if llm.Provider != DefaultProvider && os.Getenv("LLM_MODEL") == "" {
		llm.Model = ""
	}

	return PersonaConfig{
		AppID:             DefaultAppID,
		TeamID:            os.Getenv("SLACK_TEAM_ID"),
		BotToken:          os.Getenv("SLACK_BOT_TOKEN"),
		SigningSecret:     os.Getenv("SLACK_SIGNING_SECRET"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		SystemInstruction: DefaultSystemInstruction,
		Timezone:          os.Getenv("BOT_TIMEZONE"),
		LLM:               llm,
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// applyDefaults fills zero values after decoding.
func (c *Config) applyDefaults() {
	d := Defaults()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = d.MaxHistorySize
	}
	if c.ContextTurns <= 0 {
		c.ContextTurns = d.ContextTurns
	}
	if c.SummarizeEvery <= 0 {
		c.SummarizeEvery = d.SummarizeEvery
	}
	for i := range c.Personas {
		c.Personas[i].applyDefaults()
	}
}

func (p *PersonaConfig) applyDefaults() {
	if p.AppID == "" {
		p.AppID = DefaultAppID
	}
	if p.SystemInstruction == "" {
		p.SystemInstruction = DefaultSystemInstruction
	}
	if p.Model != "" {
		p.LLM.Model = p.Model
	}
	p.LLM.fill()
}

func (l *LLMConfig) fill() {
	d := DefaultLLM()
	if l.Provider == "" {
		l.Provider = d.Provider
		if l.Model == "" {
			l.Model = d.Model
		}
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = d.MaxRetries
	}
	if l.TimeoutSecs <= 0 {
		l.TimeoutSecs = d.TimeoutSecs
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = d.MaxTokens
	}
	if l.Temperature <= 0 {
		l.Temperature = d.Temperature
	}
	if l.TopP <= 0 {
		l.TopP = d.TopP
	}
	if l.TopK <= 0 {
		l.TopK = d.TopK
	}
	if l.APIKey == "" {
		switch l.Provider {
		case "gemini":
			l.APIKey = os.Getenv("GOOGLE_API_KEY")
		case "openai":
			l.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			l.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}
