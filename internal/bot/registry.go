// Package bot keeps the configured personas and routes workspace traffic
// to them.
package bot

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"slackmind/internal/agent"
	"slackmind/internal/channel"
	"slackmind/internal/config"
)

var (
	// ErrUnknownApp is returned when no persona has the requested app id.
	ErrUnknownApp = errors.New("unknown app")
	// ErrUnknownTeam is returned when no persona serves a team and there is
	// no default persona.
	ErrUnknownTeam = errors.New("no handler available for this team")
)

// Bot is one running persona.
type Bot struct {
	Persona config.PersonaConfig
	Agent   *agent.Agent
	// Slack is nil when the persona has no Slack credentials.
	Slack *channel.SlackChannel
}

// AppID returns the persona's app id.
func (b *Bot) AppID() string { return b.Persona.AppID }

// Registry indexes bots by app id and Slack team id.
type Registry struct {
	mu     sync.RWMutex
	byApp  map[string]*Bot
	byTeam map[string]*Bot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byApp:  make(map[string]*Bot),
		byTeam: make(map[string]*Bot),
	}
}

// Add registers b. App ids must be unique; a team id already claimed by
// another persona keeps its first owner.
func (r *Registry) Add(b *Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := b.AppID()
	if id == "" {
		return fmt.Errorf("bot has no app id")
	}
	if _, ok := r.byApp[id]; ok {
		return fmt.Errorf("duplicate app id %q", id)
	}
	r.byApp[id] = b
	if team := b.Persona.TeamID; team != "" {
		if _, ok := r.byTeam[team]; !ok {
			r.byTeam[team] = b
		}
	}
	return nil
}

// ByApp returns the bot with the given app id.
func (r *Registry) ByApp(appID string) (*Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byApp[appID]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appID)
}

// ByTeam returns the bot serving teamID, falling back to the default persona.
func (r *Registry) ByTeam(teamID string) (*Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byTeam[teamID]; ok && teamID != "" {
		return b, nil
	}
	if b, ok := r.byApp[config.DefaultAppID]; ok {
		return b, nil
	}
	return nil, ErrUnknownTeam
}

// All returns the bots sorted by app id.
func (r *Registry) All() []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Bot, 0, len(r.byApp))
	for _, b := range r.byApp {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID() < out[j].AppID() })
	return out
}

// Len returns the number of registered bots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byApp)
}
