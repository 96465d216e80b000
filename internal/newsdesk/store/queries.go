package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// Author is a stored author.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Category is a stored category.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Source is a distinct provider/outlet pair seen in stored articles.
type Source struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

// Article is a stored article with its author and categories loaded.
type Article struct {
	ID          int64      `json:"id"`
	ExternalID  string     `json:"external_id"`
	Source      string     `json:"source"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Content     *string    `json:"content"`
	URL         string     `json:"url"`
	ImageURL    *string    `json:"image_url"`
	PublishedAt time.Time  `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Author      *Author    `json:"author"`
	Categories  []Category `json:"categories"`
}

// Filter narrows ListArticles. Zero values are ignored.
type Filter struct {
	Keyword  string
	Category string // category slug
	Source   string
	AuthorID int64
	Author   string // author slug
	From     time.Time // inclusive calendar day
	To       time.Time // inclusive calendar day

	// Any* match articles satisfying at least one of the given sets; used by
	// the personalized feed. All empty means no restriction.
	AnySources     []string
	AnyCategoryIDs []int64
	AnyAuthorIDs   []int64

	Page    int
	PerPage int
}

// Page is one page of ListArticles results.
type Page struct {
	Items       []Article `json:"items"`
	CurrentPage int       `json:"current_page"`
	PerPage     int       `json:"per_page"`
	Total       int       `json:"total"`
	LastPage    int       `json:"last_page"`
}

const articleSelect = `SELECT a.id, a.external_id, a.source, a.source_name, a.title, a.description,
	a.content, a.url, a.image_url, a.published_at, a.created_at, a.updated_at,
	au.id, au.name, au.slug
FROM articles a
LEFT JOIN authors au ON au.id = a.author_id`

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		like := "%" + strings.ToLower(kw) + "%"
		conds = append(conds, "(LOWER(a.title) LIKE ? OR LOWER(a.description) LIKE ? OR LOWER(COALESCE(a.content, '')) LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Category != "" {
		conds = append(conds, `a.id IN (SELECT ac.article_id FROM article_category ac
			JOIN categories c ON c.id = ac.category_id WHERE c.slug = ?)`)
		args = append(args, f.Category)
	}
	if f.Source != "" {
		conds = append(conds, "a.source = ?")
		args = append(args, f.Source)
	}
	if f.AuthorID > 0 {
		conds = append(conds, "a.author_id = ?")
		args = append(args, f.AuthorID)
	}
	if f.Author != "" {
		conds = append(conds, "a.author_id IN (SELECT id FROM authors WHERE slug = ?)")
		args = append(args, f.Author)
	}
	if !f.From.IsZero() {
		conds = append(conds, "a.published_at >= ?")
		args = append(args, storage.FormatTime(startOfDay(f.From)))
	}
	if !f.To.IsZero() {
		conds = append(conds, "a.published_at < ?")
		args = append(args, storage.FormatTime(startOfDay(f.To).AddDate(0, 0, 1)))
	}

	var anyOf []string
	if len(f.AnySources) > 0 {
		anyOf = append(anyOf, "a.source IN ("+storage.Placeholders(len(f.AnySources))+")")
		for _, s := range f.AnySources {
			args = append(args, s)
		}
	}
	if len(f.AnyCategoryIDs) > 0 {
		anyOf = append(anyOf, "a.id IN (SELECT article_id FROM article_category WHERE category_id IN ("+
			storage.Placeholders(len(f.AnyCategoryIDs))+"))")
		for _, id := range f.AnyCategoryIDs {
			args = append(args, id)
		}
	}
	if len(f.AnyAuthorIDs) > 0 {
		anyOf = append(anyOf, "a.author_id IN ("+storage.Placeholders(len(f.AnyAuthorIDs))+")")
		for _, id := range f.AnyAuthorIDs {
			args = append(args, id)
		}
	}
	if len(anyOf) > 0 {
		conds = append(conds, "("+strings.Join(anyOf, " OR ")+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ListArticles returns one page of articles matching f, newest first.
func (s *Store) ListArticles(ctx context.Context, f Filter) (*Page, error) {
	if f.PerPage <= 0 {
		f.PerPage = 15
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	where, args := f.where()

	var total int
	if err := s.db.QueryRowContext(ctx, s.db.Rebind("SELECT COUNT(*) FROM articles a"+where), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}

	lastPage := (total + f.PerPage - 1) / f.PerPage
	if lastPage < 1 {
		lastPage = 1
	}

	// pages past the end are empty; this also keeps the offset from overflowing
	items := []Article{}
	if f.Page <= lastPage {
		q := articleSelect + where + " ORDER BY a.published_at DESC, a.id DESC LIMIT ? OFFSET ?"
		pageArgs := append(append([]any(nil), args...), f.PerPage, (f.Page-1)*f.PerPage)
		var err error
		if items, err = s.queryArticles(ctx, q, pageArgs...); err != nil {
			return nil, err
		}
	}
	return &Page{
		Items:       items,
		CurrentPage: f.Page,
		PerPage:     f.PerPage,
		Total:       total,
		LastPage:    lastPage,
	}, nil
}

// GetArticle returns one article by row id, or ErrNotFound.
func (s *Store) GetArticle(ctx context.Context, id int64) (*Article, error) {
	items, err := s.queryArticles(ctx, articleSelect+" WHERE a.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	return &items[0], nil
}

func (s *Store) queryArticles(ctx context.Context, q string, args ...any) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := []Article{}
	for rows.Next() {
		var (
			a                      Article
			content, imageURL      sql.NullString
			published, created     string
			updated                string
			authorID               sql.NullInt64
			authorName, authorSlug sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.Source, &a.SourceName, &a.Title, &a.Description,
			&content, &a.URL, &imageURL, &published, &created, &updated,
			&authorID, &authorName, &authorSlug); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if content.Valid {
			a.Content = &content.String
		}
		if imageURL.Valid {
			a.ImageURL = &imageURL.String
		}
		if authorID.Valid {
			a.Author = &Author{ID: authorID.Int64, Name: authorName.String, Slug: authorSlug.String}
		}
		a.PublishedAt, _ = storage.ParseTime(published)
		a.CreatedAt, _ = storage.ParseTime(created)
		a.UpdatedAt, _ = storage.ParseTime(updated)
		a.Categories = []Category{}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadCategories(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) loadCategories(ctx context.Context, items []Article) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[int64]int, len(items))
	args := make([]any, len(items))
	for i, a := range items {
		index[a.ID] = i
		args[i] = a.ID
	}
	q := `SELECT ac.article_id, c.id, c.name, c.slug FROM article_category ac
		JOIN categories c ON c.id = ac.category_id
		WHERE ac.article_id IN (` + storage.Placeholders(len(args)) + `)
		ORDER BY c.name`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return fmt.Errorf("query article categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var articleID int64
		var c Category
		if err := rows.Scan(&articleID, &c.ID, &c.Name, &c.Slug); err != nil {
			return err
		}
		if i, ok := index[articleID]; ok {
			items[i].Categories = append(items[i].Categories, c)
		}
	}
	return rows.Err()
}

// Sources lists the distinct sources of stored articles.
func (s *Store) Sources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, MIN(source_name) FROM articles GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()
	out := []Source{}
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.Source, &src.Name); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Categories lists all categories by name.
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()
	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Authors lists all authors by name.
func (s *Store) Authors(ctx context.Context) ([]Author, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug FROM authors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query authors: %w", err)
	}
	defer rows.Close()
	out := []Author{}
	for rows.Next() {
		var a Author
		if err := rows.Scan(&a.ID, &a.Name, &a.Slug); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Counts reports the row count of the article tables.
type Counts struct {
	Articles   int `json:"articles"`
	Authors    int `json:"authors"`
	Categories int `json:"categories"`
	Links      int `json:"article_categories"`
}

// Count returns current row counts.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	var c Counts
	for _, t := range []struct {
		table string
		dst   *int
	}{
		{"articles", &c.Articles},
		{"authors", &c.Authors},
		{"categories", &c.Categories},
		{"article_category", &c.Links},
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dst); err != nil {
			return c, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return c, nil
}

// MissingCategoryIDs returns the ids in ids that have no category row.
func (s *Store) MissingCategoryIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return s.missingIDs(ctx, "categories", ids)
}

// MissingAuthorIDs returns the ids in ids that have no author row.
func (s *Store) MissingAuthorIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return s.missingIDs(ctx, "authors", ids)
}

func (s *Store) missingIDs(ctx context.Context, table string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT id FROM ` + table + ` WHERE id IN (` + storage.Placeholders(len(args)) + `)`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	found := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
