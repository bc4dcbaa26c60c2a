// Package history persists per-conversation chat turns as flat JSON records.
//
// Each conversation key maps to exactly one file under the store directory.
// Appends are full read-modify-write cycles serialized per key inside the
// process; there is no protection against other processes writing the same
// file.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	RoleUser = "user"
	RoleBot  = "bot"

	// DefaultMaxHistorySize is the number of exchanges kept per record.
	// A record holds at most twice this many turns.
	DefaultMaxHistorySize = 50

	fileExt = ".json"
)

// Turn is one message in a conversation. Turns are never modified after
// they are written.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
}

// NewTurn builds a turn stamped with the current local time.
func NewTurn(role, content string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().Format("2006-01-02T15:04:05.000000"),
	}
}

// Owner returns the workspace recorded on turns, or "" when none carries one.
func Owner(turns []Turn) string {
	for _, t := range turns {
		if t.Workspace != "" {
			return t.Workspace
		}
	}
	return ""
}

// AppendResult describes a record after an append.
type AppendResult struct {
	// Len is the number of turns stored after trimming.
	Len int
	// PrevTotal and Total are the sequence numbers of the newest turn
	// before and after the append. They keep growing after trimming.
	PrevTotal int64
	Total     int64
}

// Crossed reports whether the append moved the total turn count past a
// multiple of every. It is true at most once per multiple.
func (r AppendResult) Crossed(every int) bool {
	if every <= 0 {
		return false
	}
	n := int64(every)
	return r.Total/n > r.PrevTotal/n
}

// Store reads and writes history records in a directory.
type Store struct {
	dir      string
	maxTurns int

	mapMu sync.Mutex
	keyMu map[string]*sync.Mutex
}

// NewStore creates the directory if needed. maxHistorySize <= 0 selects
// DefaultMaxHistorySize.
func NewStore(dir string, maxHistorySize int) (*Store, error) {
	if maxHistorySize <= 0 {
		maxHistorySize = DefaultMaxHistorySize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir %q: %w", dir, err)
	}
	return &Store{
		dir:      dir,
		maxTurns: maxHistorySize * 2,
		keyMu:    make(map[string]*sync.Mutex),
	}, nil
}

// MaxTurns is the retained record length.
func (s *Store) MaxTurns() int { return s.maxTurns }

// UserKey addresses the history of one user within an app.
func UserKey(appID, userID string) string {
	return appID + "_" + userID
}

// ChannelKey addresses the shared history of a channel within an app.
func ChannelKey(appID, channelID string) string {
	return appID + "_channel_" + channelID
}

// Load returns the stored turns for key, oldest first. A missing or
// unreadable record yields an empty slice.
func (s *Store) Load(key string) []Turn {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return s.read(key)
}

// Append adds turns to the record for key, trims it to the most recent
// MaxTurns turns and writes the whole record back.
func (s *Store) Append(key string, turns ...Turn) (AppendResult, error) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	current := s.read(key)
	prev := lastSeq(current)

	seq := prev
	for _, t := range turns {
		seq++
		t.Seq = seq
		current = append(current, t)
	}
	if len(current) > s.maxTurns {
		current = current[len(current)-s.maxTurns:]
	}

	if err := s.write(key, current); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Len: len(current), PrevTotal: prev, Total: seq}, nil
}

// Delete removes the record for key. Deleting a missing record succeeds.
func (s *Store) Delete(key string) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete history %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a record is stored for key.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Keys lists the stored conversation keys in lexical order.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list history dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) read(key string) []Turn {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[history] error loading %s: %v", key, err)
		}
		return []Turn{}
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		log.Printf("[history] corrupt record %s, treating as empty: %v", key, err)
		return []Turn{}
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns
}

func (s *Store) write(key string, turns []Turn) error {
	data, err := encode(turns)
	if err != nil {
		return fmt.Errorf("encode history %q: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("save history %q: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save history %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save history %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save history %q: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, SanitizeKey(key)+fileExt)
}

func (s *Store) lockFor(key string) *sync.Mutex {
	k := SanitizeKey(key)
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if m, ok := s.keyMu[k]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.keyMu[k] = m
	return m
}

// SanitizeKey maps a key to a file-system safe name.
func SanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func lastSeq(turns []Turn) int64 {
	if len(turns) == 0 {
		return 0
	}
	if s := turns[len(turns)-1].Seq; s > 0 {
		return s
	}
	return int64(len(turns))
}

// encode writes indented JSON without escaping non-ASCII or HTML
// characters so stored text stays byte-identical to what users typed.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
