package history

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T, maxHistory int) *Store {
	s, err := NewStore(t.TempDir(), maxHistory)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t, 5)
	turns := s.Load("app_nobody")
	if turns == nil || len(turns) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", turns)
	}
}

func TestAppendAndLoad(t *testing.T) {
	s := newTestStore(t, 5)

	res, err := s.Append("app_U1", NewTurn(RoleUser, "Hello"), NewTurn(RoleBot, "Hi there!"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Len != 2 || res.Total != 2 || res.PrevTotal != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	turns := s.Load("app_U1")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "Hello" {
		t.Fatalf("unexpected first turn %+v", turns[0])
	}
	if turns[1].Role != RoleBot || turns[1].Content != "Hi there!" {
		t.Fatalf("unexpected second turn %+v", turns[1])
	}
}

func TestAppendTrimsToMostRecent(t *testing.T) {
	s := newTestStore(t, 3)

	for i := 0; i < 10; i++ {
		if _, err := s.Append("k", NewTurn(RoleUser, fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	turns := s.Load("k")
	if len(turns) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(turns))
	}
	for i, tr := range turns {
		want := fmt.Sprintf("msg %d", i+4)
		if tr.Content != want {
			t.Fatalf("turn %d: expected %q, got %q", i, want, tr.Content)
		}
	}
	if turns[5].Seq != 10 {
		t.Fatalf("expected seq 10, got %d", turns[5].Seq)
	}
}

func TestNonASCIIRoundTrip(t *testing.T) {
	s := newTestStore(t, 5)
	korean := "안녕하세요! 반갑습니다. 한글 저장 테스트입니다."
	reply := "한글 응답 테스트: 네, 안녕하세요! 😊 <b>&</b>"

	if _, err := s.Append("app_test_user", NewTurn(RoleUser, korean), NewTurn(RoleBot, reply)); err != nil {
		t.Fatal(err)
	}

	turns := s.Load("app_test_user")
	if turns[0].Content != korean || turns[1].Content != reply {
		t.Fatalf("content changed: %q / %q", turns[0].Content, turns[1].Content)
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, "app_test_user.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !containsBytes(raw, korean) || !containsBytes(raw, "<b>&</b>") {
		t.Fatalf("record not stored verbatim:\n%s", raw)
	}
}

func TestCorruptRecordTreatedAsEmpty(t *testing.T) {
	s := newTestStore(t, 5)
	path := filepath.Join(s.dir, "app_bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if turns := s.Load("app_bad"); len(turns) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(turns))
	}

	if _, err := s.Append("app_bad", NewTurn(RoleUser, "fresh")); err != nil {
		t.Fatal(err)
	}
	turns := s.Load("app_bad")
	if len(turns) != 1 || turns[0].Content != "fresh" {
		t.Fatalf("expected overwritten record, got %+v", turns)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t, 5)
	if err := s.Delete("app_missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	s.Append("app_U1", NewTurn(RoleUser, "x"))
	if !s.Exists("app_U1") {
		t.Fatal("expected record to exist")
	}
	if err := s.Delete("app_U1"); err != nil {
		t.Fatal(err)
	}
	if s.Exists("app_U1") {
		t.Fatal("expected record to be gone")
	}
	if err := s.Delete("app_U1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestKeys(t *testing.T) {
	s := newTestStore(t, 5)
	s.Append(ChannelKey("app", "C1"), NewTurn(RoleUser, "a"))
	s.Append(UserKey("app", "U1"), NewTurn(RoleUser, "b"))

	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "app_U1" || keys[1] != "app_channel_C1" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestCrossedOncePerThreshold(t *testing.T) {
	s := newTestStore(t, 50)
	crossings := 0
	for i := 0; i < 15; i++ {
		res, err := s.Append("k", NewTurn(RoleUser, "q"), NewTurn(RoleBot, "a"))
		if err != nil {
			t.Fatal(err)
		}
		if res.Crossed(10) {
			crossings++
			if res.Total%10 != 0 {
				t.Fatalf("crossing at total %d", res.Total)
			}
		}
	}
	if crossings != 3 {
		t.Fatalf("expected 3 crossings for 30 turns, got %d", crossings)
	}
}

func TestCrossedAfterTrimming(t *testing.T) {
	s := newTestStore(t, 2)
	crossings := 0
	for i := 0; i < 20; i++ {
		res, _ := s.Append("k", NewTurn(RoleUser, "q"), NewTurn(RoleBot, "a"))
		if res.Len > 4 {
			t.Fatalf("record grew to %d", res.Len)
		}
		if res.Crossed(10) {
			crossings++
		}
	}
	if crossings != 4 {
		t.Fatalf("expected 4 crossings for 40 turns, got %d", crossings)
	}
}

func TestConcurrentAppendsSameKey(t *testing.T) {
	s := newTestStore(t, 100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append("shared", NewTurn(RoleUser, fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	if n := len(s.Load("shared")); n != 20 {
		t.Fatalf("expected 20 turns, got %d", n)
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := SanitizeKey("a/b:c/../d"); got != "a_b_c___d" {
		t.Fatalf("unexpected sanitized key %q", got)
	}
}

func containsBytes(b []byte, s string) bool {
	return bytes.Contains(b, []byte(s))
}
