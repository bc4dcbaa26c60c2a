package config

import "strings"

// KeyringPlaceholder marks a secret that lives in the OS keyring or vault
// instead of the config file.
const KeyringPlaceholder = "[keyring]"

// Config is the top-level application configuration.
type Config struct {
	DataDir           string          `json:"data_dir" yaml:"data_dir"`
	ListenAddr        string          `json:"listen_addr" yaml:"listen_addr"`
	MaxHistorySize    int             `json:"max_history_size" yaml:"max_history_size"`
	ContextTurns      int             `json:"context_turns" yaml:"context_turns"`
	SummarizeEvery    int             `json:"summarize_every" yaml:"summarize_every"`
	SummarizeSchedule string          `json:"summarize_schedule,omitempty" yaml:"summarize_schedule,omitempty"`
	MemoryModel       string          `json:"memory_model,omitempty" yaml:"memory_model,omitempty"`
	Personas          []PersonaConfig `json:"personas" yaml:"personas"`
	Fallback          *LLMConfig      `json:"fallback_llm,omitempty" yaml:"fallback_llm,omitempty"`
}

// PersonaConfig defines one bot: its workspace, credentials and model.
type PersonaConfig struct {
	AppID             string   `json:"app_id" yaml:"app_id"`
	TeamID            string   `json:"team_id" yaml:"team_id"`
	BotToken          string   `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	SigningSecret     string   `json:"signing_secret,omitempty" yaml:"signing_secret,omitempty"`
	TelegramToken     string   `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`
	AllowedUsers      []string `json:"allowed_users,omitempty" yaml:"allowed_users,omitempty"`
	SystemInstruction string   `json:"system_instruction" yaml:"system_instruction"`
	Timezone          string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Model is accepted at the top level for compatibility with flat
	// persona files; it overrides LLM.Model when set.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// LLMConfig selects and tunes a model provider.
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"`
	TimeoutSecs int     `json:"timeout_secs" yaml:"timeout_secs"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
	// TopK is sent by the anthropic provider only.
	TopK int `json:"top_k" yaml:"top_k"`
}

// HasSlack reports whether the persona can serve Slack events.
func (p PersonaConfig) HasSlack() bool {
	return strings.TrimSpace(p.BotToken) != "" && strings.TrimSpace(p.SigningSecret) != ""
}

// HasTelegram reports whether the persona can serve Telegram.
func (p PersonaConfig) HasTelegram() bool {
	return strings.TrimSpace(p.TelegramToken) != ""
}

// Usable reports whether at least one channel is configured.
func (p PersonaConfig) Usable() bool {
	return p.HasSlack() || p.HasTelegram()
}

// UsablePersonas returns the personas with channel credentials.
func (c *Config) UsablePersonas() []PersonaConfig {
	var out []PersonaConfig
	for _, p := range c.Personas {
		if p.Usable() {
			out = append(out, p)
		}
	}
	return out
}
