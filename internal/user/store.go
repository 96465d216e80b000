// Package user implements reader accounts and their feed preferences.
package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

var (
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrNotFound is returned when no user matches a lookup.
	ErrNotFound = errors.New("user not found")
)

// Store provides persistence for users and their preferences.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// NewStore creates a new user store. The tables are created by the
// article store's migration.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// User is a registered reader.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Preferences selects what the personalized feed shows.
type Preferences struct {
	Sources    []string `json:"preferred_sources"`
	Categories []int64  `json:"preferred_categories"`
	Authors    []int64  `json:"preferred_authors"`
}

// Empty reports whether no preference is set.
func (p Preferences) Empty() bool {
	return len(p.Sources) == 0 && len(p.Categories) == 0 && len(p.Authors) == 0
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (*User, error) {
	u := &User{
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
	}
	now := storage.FormatTime(u.CreatedAt)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO users (name, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		u.Name, u.Email, u.PasswordHash, now, now).Scan(&u.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail finds a user by their email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = ?", normalizeEmail(email))
}

// GetUserByID finds a user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, name, email, password_hash, created_at FROM users WHERE `+where), arg)
	u := &User{}
	var created string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt, _ = storage.ParseTime(created)
	return u, nil
}

// GetPreferences returns the user's preferences; a user who never saved
// any gets empty lists.
func (s *Store) GetPreferences(ctx context.Context, userID int64) (Preferences, error) {
	var src, cats, authors string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT preferred_sources, preferred_categories, preferred_authors FROM user_preferences WHERE user_id = ?`),
		userID).Scan(&src, &cats, &authors)
	if errors.Is(err, sql.ErrNoRows) {
		return Preferences{Sources: []string{}, Categories: []int64{}, Authors: []int64{}}, nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}

	p := Preferences{Sources: []string{}, Categories: []int64{}, Authors: []int64{}}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{src, &p.Sources},
		{cats, &p.Categories},
		{authors, &p.Authors},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Preferences{}, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return p, nil
}

// SavePreferences replaces the user's preferences.
func (s *Store) SavePreferences(ctx context.Context, userID int64, p Preferences) error {
	if p.Sources == nil {
		p.Sources = []string{}
	}
	if p.Categories == nil {
		p.Categories = []int64{}
	}
	if p.Authors == nil {
		p.Authors = []int64{}
	}
	src, _ := json.Marshal(p.Sources)
	cats, _ := json.Marshal(p.Categories)
	authors, _ := json.Marshal(p.Authors)
	now := storage.FormatTime(s.now())

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO user_preferences (user_id, preferred_sources, preferred_categories, preferred_authors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_sources = excluded.preferred_sources,
			preferred_categories = excluded.preferred_categories,
			preferred_authors = excluded.preferred_authors,
			updated_at = excluded.updated_at`),
		userID, string(src), string(cats), string(authors), now, now)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
