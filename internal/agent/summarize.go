package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"slackmind/internal/eventbus"
	"slackmind/internal/history"
	"slackmind/internal/llm"
	"slackmind/internal/memory"
)

const (
	// DefaultSummarizeEvery is the turn interval between summarizations.
	DefaultSummarizeEvery = 10
	// TranscriptTurns bounds how many turns a summarization reads.
	TranscriptTurns = 50

	summarizeTimeout = 2 * time.Minute

	extractPrompt = `Below is a conversation. Extract 10-15 important pieces of information that are worth remembering long-term.
These could be about people, organizations, preferences, facts, or any other significant information.
Write each memory as a complete, natural language sentence on its own line. Be concise but informative.
Do not number, categorize or label the memories. Do not repeat the same information twice.
If nothing is worth remembering, reply with the single word NOTHING.

CONVERSATION:
%s

IMPORTANT MEMORIES:`
)

// SummarizerConfig tunes a Summarizer.
type SummarizerConfig struct {
	Every     int
	Model     string
	MaxTokens int
}

// Summarizer distills conversation history into memory facts.
type Summarizer struct {
	history  *history.Store
	memory   *memory.Store
	provider llm.Provider
	bus      *eventbus.Bus
	cfg      SummarizerConfig

	wg    sync.WaitGroup
	mapMu sync.Mutex
	wsMu  map[string]*sync.Mutex
}

// NewSummarizer creates a Summarizer. bus may be nil.
func NewSummarizer(h *history.Store, m *memory.Store, provider llm.Provider, bus *eventbus.Bus, cfg SummarizerConfig) *Summarizer {
	if cfg.Every <= 0 {
		cfg.Every = DefaultSummarizeEvery
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Summarizer{
		history:  h,
		memory:   m,
		provider: provider,
		bus:      bus,
		cfg:      cfg,
		wsMu:     make(map[string]*sync.Mutex),
	}
}

// Trigger starts a background summarization of key when res crossed a
// multiple of the configured interval. It reports whether a job started.
func (s *Summarizer) Trigger(ctx context.Context, workspace, key string, res history.AppendResult) bool {
	if !res.Crossed(s.cfg.Every) {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summarizeTimeout)
		defer cancel()

		log.Printf("[summarize] %s: %d turns in %s, extracting memories", workspace, res.Total, key)
		added, err := s.SummarizeKey(ctx, workspace, key)
		if err != nil {
			log.Printf("[summarize] %s: %v", workspace, err)
			return
		}
		log.Printf("[summarize] %s: added %d facts", workspace, added)
	}()
	return true
}

// Wait blocks until all background jobs have finished.
func (s *Summarizer) Wait() {
	s.wg.Wait()
}

// SummarizeKey summarizes one conversation into workspace memory.
func (s *Summarizer) SummarizeKey(ctx context.Context, workspace, key string) (int, error) {
	return s.summarizeRecord(ctx, workspace, key, s.history.Load(key))
}

func (s *Summarizer) summarizeRecord(ctx context.Context, workspace, key string, turns []history.Turn) (int, error) {
	added, err := s.SummarizeTurns(ctx, workspace, turns)
	s.bus.Publish(eventbus.TopicSummarized, eventbus.Summarized{
		Workspace: workspace,
		Key:       key,
		Added:     added,
		Err:       err,
	})
	return added, err
}

// SummarizeWorkspace summarizes every stored conversation recorded by
// workspace and returns the number of facts added. The key prefix only
// narrows the scan: app ids may themselves contain "_", so a record is
// taken only when its turns name workspace as their owner.
func (s *Summarizer) SummarizeWorkspace(ctx context.Context, workspace string) (int, error) {
	keys, err := s.history.Keys()
	if err != nil {
		return 0, err
	}

	prefix := history.SanitizeKey(workspace) + "_"
	total := 0
	var errs []string
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		turns := s.history.Load(key)
		if owner := history.Owner(turns); owner != workspace {
			if owner == "" && len(turns) > 0 {
				log.Printf("[summarize] %s: skipping %s, no workspace recorded", workspace, key)
			}
			continue
		}
		added, err := s.summarizeRecord(ctx, workspace, key, turns)
		total += added
		if err != nil {
			errs = append(errs, key+": "+err.Error())
		}
	}
	if len(errs) > 0 {
		return total, fmt.Errorf("summarize %s: %s", workspace, strings.Join(errs, "; "))
	}
	return total, nil
}

// SummarizeTurns records the user bindings seen in turns and the facts the
// model extracts from them. Nothing is stored when the model call fails.
func (s *Summarizer) SummarizeTurns(ctx context.Context, workspace string, turns []history.Turn) (int, error) {
	if len(turns) == 0 {
		return 0, nil
	}

	mu := s.lockFor(workspace)
	mu.Lock()
	defer mu.Unlock()

	recent := turns
	if len(recent) > TranscriptTurns {
		recent = recent[len(recent)-TranscriptTurns:]
	}
	req := &llm.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(extractPrompt, Transcript(recent))}},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: 0.2,
	}

	start := time.Now()
	resp, err := s.provider.Chat(ctx, req)
	call := eventbus.LLMCall{
		Workspace: workspace,
		Provider:  s.provider.Name(),
		Model:     s.cfg.Model,
		Purpose:   "summarize",
		Duration:  time.Since(start),
		Err:       err,
	}
	if resp != nil {
		call.InputTokens, call.OutputTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	if call.Model == "" {
		call.Model = s.provider.DefaultModel()
	}
	s.bus.Publish(eventbus.TopicLLMResponse, call)
	if err != nil {
		return 0, fmt.Errorf("extract memories: %w", err)
	}

	facts := append(UserFacts(turns), ParseFacts(resp.Content)...)
	added := 0
	for _, fact := range facts {
		ok, err := s.memory.Add(workspace, fact)
		if err != nil {
			return added, fmt.Errorf("store fact: %w", err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (s *Summarizer) lockFor(workspace string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if m, ok := s.wsMu[workspace]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.wsMu[workspace] = m
	return m
}

// Transcript renders turns one per line as "speaker: content".
func Transcript(turns []history.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Bot"
		if t.Role == history.RoleUser {
			speaker = "User"
			if t.UserName != "" {
				speaker = t.UserName
			}
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// UserFacts returns one "User <id>: <name>" fact per distinct binding, in
// order of first appearance.
func UserFacts(turns []history.Turn) []string {
	seen := make(map[string]bool)
	var facts []string
	for _, t := range turns {
		if t.Role != history.RoleUser || t.UserID == "" || t.UserName == "" {
			continue
		}
		fact := "User " + t.UserID + ": " + t.UserName
		if seen[fact] {
			continue
		}
		seen[fact] = true
		facts = append(facts, fact)
	}
	return facts
}

// ParseFacts splits a model response into facts, dropping blank lines,
// list markers and the NOTHING/none sentinel.
func ParseFacts(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = stripListMarker(strings.TrimSpace(line))
		if line == "" || isSentinel(line) {
			continue
		}
		facts = append(facts, line)
	}
	return facts
}

func isSentinel(line string) bool {
	l := strings.ToLower(strings.Trim(line, " .!*"))
	return l == "nothing" || l == "none" || strings.Contains(l, "nothing worth remembering")
}

func stripListMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "), strings.HasPrefix(line, "• "):
		_, rest, _ := strings.Cut(line, " ")
		return strings.TrimSpace(rest)
	}
	// "1. " or "12) "
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:])
	}
	return line
}
