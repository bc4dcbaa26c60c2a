package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"slackmind/internal/history"
	"slackmind/internal/llm"
	"slackmind/internal/memory"
)

func newSummarizer(t *testing.T, p llm.Provider) (*Summarizer, *history.Store, *memory.Store) {
	t.Helper()
	dir := t.TempDir()
	hs, err := history.NewStore(dir+"/history", 50)
	if err != nil {
		t.Fatal(err)
	}
	ms, err := memory.NewStore(dir + "/memory")
	if err != nil {
		t.Fatal(err)
	}
	return NewSummarizer(hs, ms, p, nil, SummarizerConfig{}), hs, ms
}

func aliceTurns(n int) []history.Turn {
	turns := make([]history.Turn, 0, n)
	for i := 0; i < n; i++ {
		t := history.NewTurn(history.RoleUser, "I like tea")
		t.UserID, t.UserName = "U1", "Alice"
		turns = append(turns, t)
	}
	return turns
}

func TestSummarizeTeaPreferenceDeduplicated(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){
		text("Alice likes tea.\n\n- Alice likes tea.\n1. Alice likes tea."),
	}}
	s, _, ms := newSummarizer(t, p)

	added, err := s.SummarizeTurns(context.Background(), "acme", aliceTurns(10))
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Fatalf("expected 2 facts added, got %d", added)
	}
	facts := ms.GetAll("acme")
	if len(facts) != 2 || facts[0] != "User U1: Alice" || facts[1] != "Alice likes tea." {
		t.Fatalf("unexpected facts %v", facts)
	}

	prompt := p.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "Alice: I like tea") {
		t.Fatalf("transcript missing from prompt:\n%s", prompt)
	}

	// A second pass over the same history adds nothing new.
	added, err = s.SummarizeTurns(context.Background(), "acme", aliceTurns(10))
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 || len(ms.GetAll("acme")) != 2 {
		t.Fatalf("expected no new facts, added %d", added)
	}
}

func TestSummarizeNothingSentinel(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){text("NOTHING")}}
	s, _, ms := newSummarizer(t, p)

	turns := []history.Turn{history.NewTurn(history.RoleUser, "ok"), history.NewTurn(history.RoleBot, "ok")}
	if _, err := s.SummarizeTurns(context.Background(), "acme", turns); err != nil {
		t.Fatal(err)
	}
	if facts := ms.GetAll("acme"); len(facts) != 0 {
		t.Fatalf("expected no facts, got %v", facts)
	}
}

func TestSummarizeFailureAddsNothing(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){fail(errors.New("boom"))}}
	s, _, ms := newSummarizer(t, p)

	if _, err := s.SummarizeTurns(context.Background(), "acme", aliceTurns(3)); err == nil {
		t.Fatal("expected error")
	}
	if facts := ms.GetAll("acme"); len(facts) != 0 {
		t.Fatalf("expected no facts, got %v", facts)
	}
}

func TestSummarizeTranscriptIsBounded(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){text("none")}}
	s, _, _ := newSummarizer(t, p)

	turns := make([]history.Turn, 0, 60)
	for i := 0; i < 60; i++ {
		turns = append(turns, history.NewTurn(history.RoleBot, "line"))
	}
	if _, err := s.SummarizeTurns(context.Background(), "acme", turns); err != nil {
		t.Fatal(err)
	}
	prompt := p.Requests()[0].Messages[0].Content
	if n := strings.Count(prompt, "Bot: line"); n != TranscriptTurns {
		t.Fatalf("expected %d transcript lines, got %d", TranscriptTurns, n)
	}
}

func ownedTurn(workspace, content string) history.Turn {
	t := history.NewTurn(history.RoleUser, content)
	t.Workspace = workspace
	return t
}

func TestSummarizeWorkspaceOnlyReadsItsKeys(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){
		text("Something happened."),
		text("Something else happened."),
	}}
	s, hs, ms := newSummarizer(t, p)

	records := map[string]history.Turn{
		history.UserKey("acme", "U1"):       ownedTurn("acme", "hi"),
		history.ChannelKey("acme", "C1"):    ownedTurn("acme", "hello"),
		history.UserKey("other", "U1"):      ownedTurn("other", "hi"),
		history.UserKey("acme_eu", "U2"):    ownedTurn("acme_eu", "eu private"),
		history.ChannelKey("acme_eu", "C9"): ownedTurn("acme_eu", "eu channel"),
		history.UserKey("acme", "U3"):       history.NewTurn(history.RoleUser, "untagged"),
	}
	for key, turn := range records {
		if _, err := hs.Append(key, turn); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.SummarizeWorkspace(context.Background(), "acme"); err != nil {
		t.Fatal(err)
	}
	reqs := p.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 conversations summarized, got %d", len(reqs))
	}
	for _, req := range reqs {
		prompt := req.Messages[0].Content
		if strings.Contains(prompt, "eu private") || strings.Contains(prompt, "eu channel") || strings.Contains(prompt, "untagged") {
			t.Fatalf("foreign conversation in prompt:\n%s", prompt)
		}
	}
	for _, ws := range []string{"other", "acme_eu"} {
		if facts := ms.GetAll(ws); len(facts) != 0 {
			t.Fatalf("%s workspace touched: %v", ws, facts)
		}
	}
	if facts := ms.GetAll("acme"); len(facts) != 2 {
		t.Fatalf("unexpected facts %v", facts)
	}
}

func TestSummarizeWorkspaceWithUnderscoredID(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){text("EU fact.")}}
	s, hs, ms := newSummarizer(t, p)

	hs.Append(history.UserKey("acme", "U1"), ownedTurn("acme", "hi"))
	hs.Append(history.UserKey("acme_eu", "U2"), ownedTurn("acme_eu", "eu private"))

	if _, err := s.SummarizeWorkspace(context.Background(), "acme_eu"); err != nil {
		t.Fatal(err)
	}
	if n := len(p.Requests()); n != 1 {
		t.Fatalf("expected 1 conversation summarized, got %d", n)
	}
	if facts := ms.GetAll("acme"); len(facts) != 0 {
		t.Fatalf("acme touched: %v", facts)
	}
	if facts := ms.GetAll("acme_eu"); len(facts) != 1 || facts[0] != "EU fact." {
		t.Fatalf("unexpected facts %v", facts)
	}
}

func TestTriggerOnlyOnCrossing(t *testing.T) {
	p := &scriptedProvider{steps: []func(*llm.ChatRequest) (*llm.LLMResponse, error){text("none")}}
	s, hs, _ := newSummarizer(t, p)
	hs.Append("acme_U1", history.NewTurn(history.RoleUser, "hi"))

	if s.Trigger(context.Background(), "acme", "acme_U1", history.AppendResult{PrevTotal: 7, Total: 9}) {
		t.Fatal("no crossing, no job")
	}
	if !s.Trigger(context.Background(), "acme", "acme_U1", history.AppendResult{PrevTotal: 9, Total: 11}) {
		t.Fatal("expected a job")
	}
	s.Wait()
	if n := len(p.Requests()); n != 1 {
		t.Fatalf("expected 1 request, got %d", n)
	}
}

func TestParseFacts(t *testing.T) {
	in := "Alice works at Acme.\n\n* Bob prefers coffee.\n2) The launch is on Friday.\n  None  \nnothing.\n• 안녕하세요 means hello.\n"
	got := ParseFacts(in)
	want := []string{"Alice works at Acme.", "Bob prefers coffee.", "The launch is on Friday.", "안녕하세요 means hello."}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fact %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTranscriptAndUserFacts(t *testing.T) {
	alice := history.NewTurn(history.RoleUser, "hi")
	alice.UserID, alice.UserName = "U1", "Alice"
	anon := history.NewTurn(history.RoleUser, "hey")
	bot := history.NewTurn(history.RoleBot, "hello")
	turns := []history.Turn{alice, anon, bot, alice}

	want := "Alice: hi\nUser: hey\nBot: hello\nAlice: hi"
	if got := Transcript(turns); got != want {
		t.Fatalf("got %q", got)
	}
	facts := UserFacts(turns)
	if len(facts) != 1 || facts[0] != "User U1: Alice" {
		t.Fatalf("unexpected user facts %v", facts)
	}
}
