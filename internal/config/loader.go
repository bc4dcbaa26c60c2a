package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the persona file is looked up when none is given.
const DefaultPath = "config/slack_config.json"

// Loader manages reading and writing the config file.
type Loader struct {
	mu       sync.RWMutex
	config   *Config
	filePath string
}

// NewLoader creates a loader for the given file. JSON and YAML are chosen
// by extension.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath
	}
	return &Loader{filePath: path}
}

// Load reads the config from disk. A missing file is created from the
// environment and returned. Both a full Config document and a bare list of
// personas are accepted.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg := FromEnv()
		if err := l.save(cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		l.config = cfg
		return cfg, nil
	}

	cfg, err := l.decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.filePath, err)
	}
	cfg.applyDefaults()
	l.config = cfg
	return cfg, nil
}

// LoadOrEnv loads the file and falls back to FromEnv when it cannot be
// read or parsed, or when it defines no usable persona.
func (l *Loader) LoadOrEnv() (*Config, error) {
	cfg, err := l.Load()
	if err != nil {
		env := FromEnv()
		l.mu.Lock()
		l.config = env
		l.mu.Unlock()
		return env, err
	}
	if len(cfg.UsablePersonas()) == 0 {
		env := FromEnv()
		env.DataDir, env.ListenAddr = cfg.DataDir, cfg.ListenAddr
		env.MaxHistorySize, env.ContextTurns, env.SummarizeEvery = cfg.MaxHistorySize, cfg.ContextTurns, cfg.SummarizeEvery
		env.SummarizeSchedule, env.MemoryModel, env.Fallback = cfg.SummarizeSchedule, cfg.MemoryModel, cfg.Fallback
		return env, nil
	}
	return cfg, nil
}

// Save writes cfg to disk.
func (l *Loader) Save(cfg *Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.save(cfg); err != nil {
		return err
	}
	l.config = cfg
	return nil
}

// Get returns the currently loaded config (or defaults if not loaded yet).
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return Defaults()
	}
	return l.config
}

// FilePath returns the config file path.
func (l *Loader) FilePath() string {
	return l.filePath
}

func (l *Loader) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(l.filePath))
	return ext == ".yaml" || ext == ".yml"
}

func (l *Loader) decode(data []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(data)
	if l.isYAML() {
		if bytes.HasPrefix(trimmed, []byte("-")) {
			var personas []PersonaConfig
			if err := yaml.Unmarshal(data, &personas); err != nil {
				return nil, err
			}
			cfg := Defaults()
			cfg.Personas = personas
			return cfg, nil
		}
		cfg := Defaults()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if bytes.HasPrefix(trimmed, []byte("[")) {
		var personas []PersonaConfig
		if err := json.Unmarshal(data, &personas); err != nil {
			return nil, err
		}
		cfg := Defaults()
		cfg.Personas = personas
		return cfg, nil
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) save(cfg *Config) error {
	if dir := filepath.Dir(l.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	var (
		data []byte
		err  error
	)
	if l.isYAML() {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(l.filePath, data, 0o600)
}
