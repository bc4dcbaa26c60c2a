package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Manager manages the lifecycle of one persona's channels.
type Manager struct {
	mu       sync.RWMutex
	owner    string
	channels map[string]Channel
}

// NewManager creates a channel manager. owner only labels log lines.
func NewManager(owner string) *Manager {
	return &Manager{
		owner:    owner,
		channels: make(map[string]Channel),
	}
}

// Register adds a channel to the manager.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// StartAll starts every registered channel. A channel that fails to start
// does not prevent the others from starting.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, ch := range m.All() {
		if err := ch.Start(ctx); err != nil {
			log.Printf("[channel] %s: failed to start %s: %v", m.owner, ch.Name(), err)
			errs = append(errs, fmt.Errorf("start %s: %w", ch.Name(), err))
			continue
		}
		log.Printf("[channel] %s: started %s", m.owner, ch.Name())
	}
	return errors.Join(errs...)
}

// StopAll stops all running channels.
func (m *Manager) StopAll(ctx context.Context) {
	for _, ch := range m.All() {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			log.Printf("[channel] %s: failed to stop %s: %v", m.owner, ch.Name(), err)
		} else {
			log.Printf("[channel] %s: stopped %s", m.owner, ch.Name())
		}
	}
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// All returns the registered channels sorted by name.
func (m *Manager) All() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// List returns all channel names and their running status.
func (m *Manager) List() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		result[name] = ch.IsRunning()
	}
	return result
}
