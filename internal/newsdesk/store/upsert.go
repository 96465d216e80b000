package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// BulkUpsert writes a batch of normalized articles in one transaction:
// authors and categories are created or refreshed by slug, articles are
// inserted or updated by (external_id, source), and each article's category
// links are reconciled to exactly the batch's category set.
//
// Invalid records are dropped and duplicate keys merged first. The return
// value is the number of distinct articles written; an empty batch returns
// 0 without touching the database.
func (s *Store) BulkUpsert(ctx context.Context, batch []article.Article) (int, error) {
	merged := article.Merge(article.FilterValid(batch))
	if len(merged) == 0 {
		return 0, nil
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Source != merged[j].Source {
			return merged[i].Source < merged[j].Source
		}
		return merged[i].ExternalID < merged[j].ExternalID
	})

	now := storage.FormatTime(s.now())
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		authorIDs, err := s.upsertNamed(ctx, tx, "authors", authorNames(merged), now)
		if err != nil {
			return fmt.Errorf("authors: %w", err)
		}
		categoryIDs, err := s.upsertNamed(ctx, tx, "categories", categoryNames(merged), now)
		if err != nil {
			return fmt.Errorf("categories: %w", err)
		}
		if err := s.upsertArticles(ctx, tx, merged, authorIDs, now); err != nil {
			return fmt.Errorf("articles: %w", err)
		}
		articleIDs, err := s.articleIDs(ctx, tx, merged)
		if err != nil {
			return fmt.Errorf("resolve article ids: %w", err)
		}
		if err := s.syncCategories(ctx, tx, merged, articleIDs, categoryIDs); err != nil {
			return fmt.Errorf("article categories: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUpsertFailed, err)
	}

	s.logger.Debug("bulk upsert", "received", len(batch), "written", len(merged))
	return len(merged), nil
}

// namedRow is an author or category keyed by slug.
type namedRow struct {
	slug string
	name string
}

func authorNames(batch []article.Article) []namedRow {
	seen := make(map[string]bool)
	var out []namedRow
	for _, a := range batch {
		name := a.Author()
		slug := article.Slug(name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, namedRow{slug: slug, name: name})
	}
	return out
}

func categoryNames(batch []article.Article) []namedRow {
	seen := make(map[string]bool)
	var out []namedRow
	for _, a := range batch {
		for _, c := range a.Categories {
			slug := article.Slug(c)
			if slug == "" || seen[slug] {
				continue
			}
			seen[slug] = true
			out = append(out, namedRow{slug: slug, name: article.DisplayName(c)})
		}
	}
	return out
}

// upsertNamed creates or renames rows of an authors/categories table and
// returns their ids by slug.
func (s *Store) upsertNamed(ctx context.Context, tx *sql.Tx, table string, rows []namedRow, now string) (map[string]int64, error) {
	ids := make(map[string]int64, len(rows))
	if len(rows) == 0 {
		return ids, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].slug < rows[j].slug })

	for _, c := range chunks(len(rows)) {
		part := rows[c[0]:c[1]]
		args := make([]any, 0, len(part)*4)
		for _, r := range part {
			args = append(args, r.name, r.slug, now, now)
		}
		q := `INSERT INTO ` + table + ` (name, slug, created_at, updated_at) VALUES ` + storage.Rows(len(part), 4) + `
			ON CONFLICT (slug) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
			return nil, err
		}

		slugs := make([]any, len(part))
		for i, r := range part {
			slugs[i] = r.slug
		}
		q = `SELECT id, slug FROM ` + table + ` WHERE slug IN (` + storage.Placeholders(len(slugs)) + `)`
		if err := s.collectIDs(ctx, tx, q, slugs, ids); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *Store) collectIDs(ctx context.Context, tx *sql.Tx, q string, args []any, into map[string]int64) error {
	rows, err := tx.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return err
		}
		into[key] = id
	}
	return rows.Err()
}

const articleColumns = 12

func (s *Store) upsertArticles(ctx context.Context, tx *sql.Tx, batch []article.Article, authorIDs map[string]int64, now string) error {
	for _, c := range chunks(len(batch)) {
		part := batch[c[0]:c[1]]
		args := make([]any, 0, len(part)*articleColumns)
		for _, a := range part {
			var authorID any
			if id, ok := authorIDs[article.Slug(a.Author())]; ok {
				authorID = id
			}
			published := now
			if !a.PublishedAt.IsZero() {
				published = storage.FormatTime(a.PublishedAt)
			}
			args = append(args,
				a.ExternalID,
				a.Source,
				a.SourceName,
				authorID,
				strings.TrimSpace(a.Title),
				a.Description,
				nullable(a.Content),
				a.URL,
				nullable(a.ImageURL),
				published,
				now,
				now,
			)
		}
		q := `INSERT INTO articles (external_id, source, source_name, author_id, title, description,
				content, url, image_url, published_at, created_at, updated_at)
			VALUES ` + storage.Rows(len(part), articleColumns) + `
			ON CONFLICT (external_id, source) DO UPDATE SET
				source_name = excluded.source_name,
				author_id = excluded.author_id,
				title = excluded.title,
				description = excluded.description,
				content = excluded.content,
				url = excluded.url,
				image_url = excluded.image_url,
				published_at = excluded.published_at,
				updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
			return err
		}
	}
	return nil
}

// articleIDs resolves the row id of every article in batch by its full key.
func (s *Store) articleIDs(ctx context.Context, tx *sql.Tx, batch []article.Article) (map[article.Key]int64, error) {
	bySource := make(map[string][]string)
	var order []string
	for _, a := range batch {
		if _, ok := bySource[a.Source]; !ok {
			order = append(order, a.Source)
		}
		bySource[a.Source] = append(bySource[a.Source], a.ExternalID)
	}

	ids := make(map[article.Key]int64, len(batch))
	for _, source := range order {
		extIDs := bySource[source]
		byExt := make(map[string]int64, len(extIDs))
		for _, c := range chunks(len(extIDs)) {
			part := extIDs[c[0]:c[1]]
			args := make([]any, 0, len(part)+1)
			args = append(args, source)
			for _, id := range part {
				args = append(args, id)
			}
			q := `SELECT id, external_id FROM articles WHERE source = ? AND external_id IN (` + storage.Placeholders(len(part)) + `)`
			if err := s.collectIDs(ctx, tx, q, args, byExt); err != nil {
				return nil, err
			}
		}
		for ext, id := range byExt {
			ids[article.Key{ExternalID: ext, Source: source}] = id
		}
	}
	if len(ids) != len(batch) {
		return nil, fmt.Errorf("resolved %d of %d articles", len(ids), len(batch))
	}
	return ids, nil
}

type link struct{ articleID, categoryID int64 }

// syncCategories makes each article's links equal to its category set:
// links no longer present are deleted, new ones inserted.
func (s *Store) syncCategories(ctx context.Context, tx *sql.Tx, batch []article.Article, articleIDs map[article.Key]int64, categoryIDs map[string]int64) error {
	want := make(map[link]bool)
	touched := make([]int64, 0, len(batch))
	for _, a := range batch {
		aid := articleIDs[a.Key()]
		touched = append(touched, aid)
		for _, c := range a.Categories {
			if cid, ok := categoryIDs[article.Slug(c)]; ok {
				want[link{aid, cid}] = true
			}
		}
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })

	have := make(map[link]bool)
	for _, c := range chunks(len(touched)) {
		part := touched[c[0]:c[1]]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		q := `SELECT article_id, category_id FROM article_category WHERE article_id IN (` + storage.Placeholders(len(part)) + `)`
		rows, err := tx.QueryContext(ctx, s.db.Rebind(q), args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var l link
			if err := rows.Scan(&l.articleID, &l.categoryID); err != nil {
				rows.Close()
				return err
			}
			have[l] = true
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
	}

	var stale, fresh []link
	for l := range have {
		if !want[l] {
			stale = append(stale, l)
		}
	}
	for l := range want {
		if !have[l] {
			fresh = append(fresh, l)
		}
	}
	sortLinks(stale)
	sortLinks(fresh)

	for _, c := range chunks(len(stale)) {
		part := stale[c[0]:c[1]]
		conds := make([]string, len(part))
		args := make([]any, 0, len(part)*2)
		for i, l := range part {
			conds[i] = "(article_id = ? AND category_id = ?)"
			args = append(args, l.articleID, l.categoryID)
		}
		q := `DELETE FROM article_category WHERE ` + strings.Join(conds, " OR ")
		if _, err := tx.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
			return err
		}
	}
	for _, c := range chunks(len(fresh)) {
		part := fresh[c[0]:c[1]]
		args := make([]any, 0, len(part)*2)
		for _, l := range part {
			args = append(args, l.articleID, l.categoryID)
		}
		q := `INSERT INTO article_category (article_id, category_id) VALUES ` + storage.Rows(len(part), 2) + `
			ON CONFLICT (article_id, category_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
			return err
		}
	}
	return nil
}

func sortLinks(ls []link) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].articleID != ls[j].articleID {
			return ls[i].articleID < ls[j].articleID
		}
		return ls[i].categoryID < ls[j].categoryID
	})
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
