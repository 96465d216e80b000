package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one provider ingestion attempt.
type Run struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Articles   int       `json:"articles"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newRunID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// RecordRun stores a fetch run, assigning an id when it has none.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}
	if run.ID == "" {
		run.ID = newRunID(run.StartedAt)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO fetch_runs (id, source, status, articles, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Source, run.Status, run.Articles, run.Error,
		storage.FormatTime(run.StartedAt), storage.FormatTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first. Run ids are ULIDs, so
// ordering by id orders by start time.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, source, status, articles, error, started_at, finished_at
		FROM fetch_runs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.Articles, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = storage.ParseTime(started)
		r.FinishedAt, _ = storage.ParseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
