// Package article defines the canonical article every provider adapter
// normalizes into, along with the batch deduplicator and slug helpers shared
// by the write and lookup paths.
package article

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// RemovedTitle is the sentinel title providers use for withdrawn content.
const RemovedTitle = "[Removed]"

// Article is the normalized article shape all adapters converge to.
type Article struct {
	ExternalID  string    `json:"external_id"`
	Source      string    `json:"source"`
	SourceName  string    `json:"source_name"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     *string   `json:"content,omitempty"`
	URL         string    `json:"url"`
	ImageURL    *string   `json:"image_url,omitempty"`
	AuthorName  *string   `json:"author_name,omitempty"`
	Categories  []string  `json:"categories"`
	PublishedAt time.Time `json:"published_at"`
}

// Key is the identity of an article: two records with the same key are the
// same article.
type Key struct {
	ExternalID string
	Source     string
}

// Key returns the article's identity.
func (a Article) Key() Key {
	return Key{ExternalID: a.ExternalID, Source: a.Source}
}

// Valid reports whether the article carries the required fields.
func (a Article) Valid() bool {
	title := strings.TrimSpace(a.Title)
	if title == "" || title == RemovedTitle {
		return false
	}
	return strings.TrimSpace(a.URL) != "" && a.ExternalID != "" && a.Source != ""
}

// Author returns the trimmed author name, or "" when none was supplied.
func (a Article) Author() string {
	if a.AuthorName == nil {
		return ""
	}
	return strings.TrimSpace(*a.AuthorName)
}

// FilterValid returns the valid articles of batch, in order.
func FilterValid(batch []Article) []Article {
	out := make([]Article, 0, len(batch))
	for _, a := range batch {
		if a.Valid() {
			out = append(out, a)
		}
	}
	return out
}

// HashID derives a stable external id from s (usually a URL).
func HashID(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NullString returns nil for blank strings.
func NullString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
