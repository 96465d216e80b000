// Package store persists normalized articles with their authors and
// categories, and serves the read queries behind the HTTP API.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

var (
	// ErrUpsertFailed wraps any failure inside a batch write. The batch has
	// been rolled back when it is returned.
	ErrUpsertFailed = errors.New("bulk upsert failed")

	// ErrNotFound is returned by single-row lookups.
	ErrNotFound = errors.New("not found")
)

// chunkRows bounds the rows per multi-row statement so the widest insert
// (12 columns) stays well under SQLite and PostgreSQL bind limits.
const chunkRows = 200

// Store provides article persistence on top of a storage.DB.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store. Call Migrate before first use.
func New(db *storage.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
		now:    time.Now,
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *storage.DB { return s.db }

// Migrate creates all tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema(s.db))
}

// Reset drops every table. Migrate must be called afterwards.
func (s *Store) Reset(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	s.logger.Info("dropped all tables")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func chunks(n int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += chunkRows {
		hi := lo + chunkRows
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}
