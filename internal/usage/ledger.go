// Package usage keeps a per-workspace ledger of model calls in SQLite.
package usage

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"slackmind/internal/eventbus"
)

// Totals aggregates the calls recorded for one workspace.
type Totals struct {
	Workspace    string `json:"workspace"`
	Calls        int    `json:"calls"`
	Failures     int    `json:"failures"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Summarize    int    `json:"summarize_calls"`
}

// Ledger stores one row per model call.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at dbPath.
func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	for _, stmt := range migrations {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts one call.
func (l *Ledger) Record(ctx context.Context, c eventbus.LLMCall) error {
	var errText *string
	if c.Err != nil {
		s := c.Err.Error()
		errText = &s
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO llm_calls (workspace, provider, model, purpose, input_tokens, output_tokens, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Workspace, c.Provider, c.Model, c.Purpose, c.InputTokens, c.OutputTokens, c.Duration.Milliseconds(), errText,
	)
	return err
}

// Totals returns the aggregate for workspace. An unknown workspace yields zeros.
func (l *Ledger) Totals(ctx context.Context, workspace string) (Totals, error) {
	t := Totals{Workspace: workspace}
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(CASE WHEN purpose = 'summarize' THEN 1 ELSE 0 END), 0)
		 FROM llm_calls WHERE workspace = ?`,
		workspace,
	).Scan(&t.Calls, &t.Failures, &t.InputTokens, &t.OutputTokens, &t.Summarize)
	return t, err
}

// Subscribe records every LLMCall published on bus.
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	eventbus.On(bus, eventbus.TopicLLMResponse, func(c eventbus.LLMCall) {
		if err := l.Record(context.Background(), c); err != nil {
			log.Printf("[usage] error recording call for %s: %v", c.Workspace, err)
		}
	})
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
