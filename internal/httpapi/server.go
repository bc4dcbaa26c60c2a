// Package httpapi serves the Slack Events API webhook and the operator
// endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"slackmind/internal/bot"
	"slackmind/internal/history"
	"slackmind/internal/observability"
	"slackmind/internal/usage"
)

const maxEventBody = 1 << 20

// UsageSource reports token usage for a workspace.
type UsageSource interface {
	Totals(ctx context.Context, workspace string) (usage.Totals, error)
}

type Server struct {
	bots    *bot.Registry
	history *history.Store
	metrics *observability.Metrics
	usage   UsageSource

	mu      sync.Mutex
	baseCtx context.Context
	events  sync.WaitGroup
}

// New creates a Server. metrics and ledger may be nil.
func New(bots *bot.Registry, store *history.Store, metrics *observability.Metrics, ledger UsageSource) *Server {
	return &Server{
		bots:    bots,
		history: store,
		metrics: metrics,
		usage:   ledger,
		baseCtx: context.Background(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Post("/slack/events", s.handleSlackEvents)
	r.Post("/slack/events/{app_id}", s.handleSlackEventsByApp)

	r.Get("/clear-history/{app_id}/{target}", s.handleClearHistory)
	r.Delete("/history/{app_id}/{target}", s.handleClearHistory)
	r.Get("/usage/{app_id}", s.handleUsage)

	return r
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests and queued Slack events.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[http] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until every acknowledged Slack event has been processed.
func (s *Server) Wait() {
	s.events.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// envelope holds the fields needed to route an Events API request.
type envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	Event     struct {
		Team string `json:"team"`
	} `json:"event"`
}

func (e envelope) team() string {
	if e.TeamID != "" {
		return e.TeamID
	}
	return e.Event.Team
}

func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, env, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}

	teamID := env.team()
	var b *bot.Bot
	if teamID == "" && r.Header.Get("X-Slack-Signature") != "" {
		b = s.bySignature(r.Header, body)
	}
	if b == nil {
		var err error
		b, err = s.bots.ByTeam(teamID)
		if err != nil {
			log.Printf("[http] no handler available for team %q", teamID)
			s.countEvent("unroutable")
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No handler available for this team"})
			return
		}
	}
	s.dispatch(w, r, b, body)
}

func (s *Server) handleSlackEventsByApp(w http.ResponseWriter, r *http.Request) {
	body, _, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}

	appID := chi.URLParam(r, "app_id")
	b, err := s.bots.ByApp(appID)
	if err != nil {
		s.countEvent("unroutable")
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("No handler available for app %s", appID)})
		return
	}
	s.dispatch(w, r, b, body)
}

// readEnvelope reads the body and answers URL verification challenges.
// It reports false when the response has already been written.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) ([]byte, envelope, bool) {
	var env envelope
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return nil, env, false
	}
	if err := json.Unmarshal(body, &env); err != nil {
		s.countEvent("invalid")
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return nil, env, false
	}
	if env.Type == "url_verification" {
		log.Printf("[http] received URL verification challenge")
		s.countEvent("challenge")
		respondJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return nil, env, false
	}
	return body, env, true
}

// bySignature returns the first Slack bot whose signing secret matches.
func (s *Server) bySignature(header http.Header, body []byte) *bot.Bot {
	for _, b := range s.bots.All() {
		if b.Slack != nil && b.Slack.Verify(header, body) == nil {
			return b
		}
	}
	return nil
}

// dispatch verifies the request for b, acknowledges it and processes the
// event in the background.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, b *bot.Bot, body []byte) {
	if b.Slack == nil {
		s.countEvent("unroutable")
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("App %s has no Slack credentials", b.AppID())})
		return
	}
	if err := b.Slack.Verify(r.Header, body); err != nil {
		log.Printf("[http] %s: signature verification failed: %v", b.AppID(), err)
		s.countEvent("unauthorized")
		respondError(w, http.StatusUnauthorized, "invalid_signature", "invalid request signature")
		return
	}

	// Slack retries events it did not see acknowledged in time; the first
	// delivery is already being handled.
	if r.Header.Get("X-Slack-Retry-Num") != "" {
		s.countEvent("retry")
		w.WriteHeader(http.StatusOK)
		return
	}

	reqID := uuid.NewString()
	s.countEvent("accepted")
	w.WriteHeader(http.StatusOK)

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.events.Add(1)
	go func() {
		defer s.events.Done()
		if err := b.Slack.HandleEvent(ctx, body); err != nil {
			log.Printf("[http] %s: request %s: %v", b.AppID(), reqID, err)
		}
	}()
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")
	target := chi.URLParam(r, "target")
	key := appID + "_" + target

	if !s.history.Exists(key) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": fmt.Sprintf("No chat history found for %s/%s", appID, target),
		})
		return
	}
	if err := s.history.Delete(key); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	log.Printf("[http] cleared history %s", key)
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Chat history cleared for %s/%s", appID, target),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		respondError(w, http.StatusServiceUnavailable, "usage_disabled", "usage ledger is not enabled")
		return
	}
	appID := chi.URLParam(r, "app_id")
	if _, err := s.bots.ByApp(appID); err != nil {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	totals, err := s.usage.Totals(r.Context(), appID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "usage_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

func (s *Server) countEvent(result string) {
	if s.metrics != nil {
		s.metrics.SlackEvents.WithLabelValues(result).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: strings.TrimSpace(message), Code: code})
}
