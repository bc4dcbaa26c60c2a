package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"slackmind/internal/bot"
	"slackmind/internal/channel"
	"slackmind/internal/config"
	"slackmind/internal/eventbus"
	"slackmind/internal/history"
	"slackmind/internal/observability"
	"slackmind/internal/usage"
)

const dmEvent = `{"type":"event_callback","team_id":"%s","event":{"type":"message","channel_type":"im","user":"U1","text":"hello","ts":"1.1","channel":"D1"}}`

type inbox struct {
	mu  sync.Mutex
	got []channel.InboundMessage
}

func (i *inbox) add(m channel.InboundMessage) {
	i.mu.Lock()
	i.got = append(i.got, m)
	i.mu.Unlock()
}

func (i *inbox) messages() []channel.InboundMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]channel.InboundMessage(nil), i.got...)
}

type fixture struct {
	srv     *Server
	ts      *httptest.Server
	history *history.Store
	inboxes map[string]*inbox
}

func newFixture(t *testing.T, personas ...config.PersonaConfig) *fixture {
	t.Helper()
	slackAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"user":{"id":"U1","name":"alice","real_name":"Alice Kim"}}`))
	}))
	t.Cleanup(slackAPI.Close)

	store, err := history.NewStore(t.TempDir(), 50)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{history: store, inboxes: make(map[string]*inbox)}
	reg := bot.NewRegistry()
	for _, p := range personas {
		b := &bot.Bot{Persona: p}
		if p.HasSlack() {
			b.Slack = channel.NewSlackChannel(channel.SlackConfig{
				BotToken:      p.BotToken,
				SigningSecret: p.SigningSecret,
				APIURL:        slackAPI.URL + "/",
			})
			in := &inbox{}
			b.Slack.OnMessage(in.add)
			f.inboxes[p.AppID] = in
		}
		if err := reg.Add(b); err != nil {
			t.Fatal(err)
		}
	}

	ledger, err := usage.Open(t.TempDir() + "/usage.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	bus := eventbus.New()
	ledger.Subscribe(bus)
	bus.Publish(eventbus.TopicLLMResponse, eventbus.LLMCall{Workspace: "acme", Provider: "gemini", Model: "m", Purpose: "reply", InputTokens: 7, OutputTokens: 3})

	f.srv = New(reg, store, observability.NewMetrics("test"), ledger)
	f.ts = httptest.NewServer(f.srv.Router())
	t.Cleanup(f.ts.Close)
	return f
}

func persona(app, team, secret string) config.PersonaConfig {
	return config.PersonaConfig{AppID: app, TeamID: team, BotToken: "xoxb-" + app, SigningSecret: secret}
}

func signed(t *testing.T, url, secret, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return res.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/health", nil)
	status, body := do(t, req)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", status, body)
	}
}

func TestURLVerification(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/slack/events", strings.NewReader(`{"type":"url_verification","challenge":"abc123"}`))
	status, body := do(t, req)
	if status != http.StatusOK || body["challenge"] != "abc123" {
		t.Fatalf("challenge = %d %v", status, body)
	}
}

func TestEventRoutedByTeam(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"), persona("globex", "T2", "s2"))

	body := strings.Replace(dmEvent, "%s", "T2", 1)
	status, _ := do(t, signed(t, f.ts.URL+"/slack/events", "s2", body))
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	f.srv.Wait()

	if got := f.inboxes["globex"].messages(); len(got) != 1 || got[0].Text != "hello" || got[0].SenderName != "Alice Kim" {
		t.Fatalf("globex inbox = %+v", got)
	}
	if got := f.inboxes["acme"].messages(); len(got) != 0 {
		t.Fatalf("acme should not receive the event, got %+v", got)
	}
}

func TestEventTeamFromInnerEvent(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))

	body := `{"type":"event_callback","event":{"type":"message","channel_type":"im","user":"U1","text":"hi","ts":"1.1","channel":"D1","team":"T1"}}`
	status, _ := do(t, signed(t, f.ts.URL+"/slack/events", "s1", body))
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	f.srv.Wait()
	if len(f.inboxes["acme"].messages()) != 1 {
		t.Fatal("expected event routed by event.team")
	}
}

func TestUnknownTeamWithoutDefault(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))

	body := strings.Replace(dmEvent, "%s", "T9", 1)
	status, resp := do(t, signed(t, f.ts.URL+"/slack/events", "s1", body))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if resp["error"] != "No handler available for this team" {
		t.Errorf("error = %v", resp["error"])
	}
	if len(f.inboxes["acme"].messages()) != 0 {
		t.Error("no state should be touched for an unroutable team")
	}
}

func TestUnknownTeamUsesDefault(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"), persona(config.DefaultAppID, "", "sd"))

	body := strings.Replace(dmEvent, "%s", "T9", 1)
	status, _ := do(t, signed(t, f.ts.URL+"/slack/events", "sd", body))
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	f.srv.Wait()
	if len(f.inboxes[config.DefaultAppID].messages()) != 1 {
		t.Fatal("expected default persona to handle the event")
	}
}

func TestMissingTeamMatchedBySignature(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"), persona("globex", "T2", "s2"))

	body := `{"type":"event_callback","event":{"type":"message","channel_type":"im","user":"U1","text":"hi","ts":"1.1","channel":"D1"}}`
	status, _ := do(t, signed(t, f.ts.URL+"/slack/events", "s2", body))
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	f.srv.Wait()
	if len(f.inboxes["globex"].messages()) != 1 {
		t.Fatal("expected the persona whose secret matches")
	}
}

func TestTamperedBodyRejected(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))

	body := strings.Replace(dmEvent, "%s", "T1", 1)
	req := signed(t, f.ts.URL+"/slack/events", "s1", body)
	req.Body = io.NopCloser(strings.NewReader(strings.Replace(body, "hello", "HELLO", 1)))
	status, _ := do(t, req)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	f.srv.Wait()
	if len(f.inboxes["acme"].messages()) != 0 {
		t.Error("tampered event must not be processed")
	}
}

func TestRetryAcknowledgedOnly(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))

	req := signed(t, f.ts.URL+"/slack/events", "s1", strings.Replace(dmEvent, "%s", "T1", 1))
	req.Header.Set("X-Slack-Retry-Num", "1")
	status, _ := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	f.srv.Wait()
	if len(f.inboxes["acme"].messages()) != 0 {
		t.Error("retries must not be processed twice")
	}
}

func TestEventsByApp(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))

	status, _ := do(t, signed(t, f.ts.URL+"/slack/events/acme", "s1", strings.Replace(dmEvent, "%s", "T9", 1)))
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	f.srv.Wait()
	if len(f.inboxes["acme"].messages()) != 1 {
		t.Fatal("expected event routed by app id")
	}

	status, resp := do(t, signed(t, f.ts.URL+"/slack/events/nope", "s1", strings.Replace(dmEvent, "%s", "T1", 1)))
	if status != http.StatusBadRequest || resp["error"] != "No handler available for app nope" {
		t.Fatalf("unknown app = %d %v", status, resp)
	}
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))
	key := history.UserKey("acme", "U1")
	if _, err := f.history.Append(key, history.NewTurn(history.RoleUser, "hi")); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/clear-history/acme/U1", nil)
	status, body := do(t, req)
	if status != http.StatusOK || body["message"] != "Chat history cleared for acme/U1" {
		t.Fatalf("clear = %d %v", status, body)
	}
	if f.history.Exists(key) {
		t.Fatal("record should be deleted")
	}

	req, _ = http.NewRequest(http.MethodDelete, f.ts.URL+"/history/acme/U1", nil)
	status, body = do(t, req)
	if status != http.StatusOK || body["message"] != "No chat history found for acme/U1" {
		t.Fatalf("second clear = %d %v", status, body)
	}
}

func TestUsage(t *testing.T) {
	f := newFixture(t, persona("acme", "T1", "s1"))

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/usage/acme", nil)
	status, body := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("usage = %d %v", status, body)
	}
	if body["calls"] != float64(1) || body["input_tokens"] != float64(7) {
		t.Errorf("usage body = %v", body)
	}

	req, _ = http.NewRequest(http.MethodGet, f.ts.URL+"/usage/nope", nil)
	if status, _ := do(t, req); status != http.StatusNotFound {
		t.Errorf("unknown app usage = %d, want 404", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/slack/events", strings.NewReader(`{"type":"url_verification","challenge":"x"}`))
	do(t, req)

	res, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(raw), `test_slack_events_total{result="challenge"} 1`) {
		t.Errorf("metrics missing challenge counter:\n%s", raw)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
