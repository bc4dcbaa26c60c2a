// Package memory keeps an append-only, deduplicated list of natural
// language facts per workspace.
package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MaxContextFacts bounds how many facts are handed to the model.
const MaxContextFacts = 20

// Subject identifies the person a context is being built for.
type Subject struct {
	ID   string
	Name string
}

func (s Subject) empty() bool {
	return strings.TrimSpace(s.ID) == "" && strings.TrimSpace(s.Name) == ""
}

// record is the on-disk layout of one workspace's memory.
type record struct {
	Memory []string `json:"memory"`
}

// Store persists facts as one JSON file per workspace.
type Store struct {
	dir string

	mapMu sync.Mutex
	wsMu  map[string]*sync.Mutex
}

// NewStore creates the memory directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir %q: %w", dir, err)
	}
	return &Store{dir: dir, wsMu: make(map[string]*sync.Mutex)}, nil
}

// GetAll returns every fact for the workspace in insertion order.
func (s *Store) GetAll(workspace string) []string {
	mu := s.lockFor(workspace)
	mu.Lock()
	defer mu.Unlock()
	return s.read(workspace).Memory
}

// Add appends fact unless the workspace already holds the same string.
// It reports whether the fact was inserted.
func (s *Store) Add(workspace, fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return false, nil
	}

	mu := s.lockFor(workspace)
	mu.Lock()
	defer mu.Unlock()

	rec := s.read(workspace)
	for _, existing := range rec.Memory {
		if existing == fact {
			return false, nil
		}
	}
	rec.Memory = append(rec.Memory, fact)
	if err := s.write(workspace, rec); err != nil {
		log.Printf("[memory] error saving %s: %v", workspace, err)
		return false, err
	}
	return true, nil
}

// GetContext joins up to MaxContextFacts facts with newlines. When a
// subject is given, facts mentioning the subject's id or name come first;
// the rest follow in insertion order.
func (s *Store) GetContext(workspace string, subject Subject) string {
	facts := s.GetAll(workspace)
	if !subject.empty() {
		facts = prioritize(facts, subject)
	}
	if len(facts) > MaxContextFacts {
		facts = facts[:MaxContextFacts]
	}
	return strings.Join(facts, "\n")
}

func prioritize(facts []string, subject Subject) []string {
	var needles []string
	for _, n := range []string{subject.ID, subject.Name} {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			needles = append(needles, n)
		}
	}

	about := make([]string, 0, len(facts))
	rest := make([]string, 0, len(facts))
	for _, f := range facts {
		lower := strings.ToLower(f)
		matched := false
		for _, n := range needles {
			if strings.Contains(lower, n) {
				matched = true
				break
			}
		}
		if matched {
			about = append(about, f)
		} else {
			rest = append(rest, f)
		}
	}
	return append(about, rest...)
}

func (s *Store) read(workspace string) record {
	data, err := os.ReadFile(s.path(workspace))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[memory] error loading %s: %v", workspace, err)
		}
		return record{Memory: []string{}}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("[memory] corrupt record %s, treating as empty: %v", workspace, err)
		return record{Memory: []string{}}
	}
	if rec.Memory == nil {
		rec.Memory = []string{}
	}
	return rec
}

func (s *Store) write(workspace string, rec record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".memory-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(workspace))
}

func (s *Store) path(workspace string) string {
	return filepath.Join(s.dir, fileName(workspace)+"_memory.json")
}

// lockFor keys on the file name so workspaces sharing a file share a lock.
func (s *Store) lockFor(workspace string) *sync.Mutex {
	name := fileName(workspace)
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if m, ok := s.wsMu[name]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.wsMu[name] = m
	return m
}

func fileName(workspace string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(workspace)
}
