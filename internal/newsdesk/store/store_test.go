package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Config{
		Driver: storage.SQLite,
		DSN:    filepath.Join(t.TempDir(), "newsdesk.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func strp(s string) *string { return &s }

func art(id, source, title string, cats ...string) article.Article {
	return article.Article{
		ExternalID:  id,
		Source:      source,
		SourceName:  "Example " + source,
		Title:       title,
		Description: "About " + title,
		URL:         "https://example.com/" + source + "/" + id,
		Categories:  cats,
		PublishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func withAuthor(a article.Article, name string) article.Article {
	a.AuthorName = strp(name)
	return a
}

func categorySlugs(a *Article) []string {
	var out []string
	for _, c := range a.Categories {
		out = append(out, c.Slug)
	}
	sort.Strings(out)
	return out
}

func mustCount(t *testing.T, s *Store) Counts {
	t.Helper()
	c, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return c
}

func findArticle(t *testing.T, s *Store, source, externalID string) *Article {
	t.Helper()
	page, err := s.ListArticles(context.Background(), Filter{Source: source, PerPage: 100})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i := range page.Items {
		if page.Items[i].ExternalID == externalID {
			return &page.Items[i]
		}
	}
	t.Fatalf("article %s/%s not found", source, externalID)
	return nil
}

func TestBulkUpsert_EmptyBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.BulkUpsert(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
	n, err = s.BulkUpsert(ctx, []article.Article{art("r", "newsapi", article.RemovedTitle, "general"), art("e", "newsapi", "  ")})
	if err != nil || n != 0 {
		t.Fatalf("expected invalid-only batch to write nothing, got (%d, %v)", n, err)
	}
	if c := mustCount(t, s); c != (Counts{}) {
		t.Fatalf("expected no rows, got %+v", c)
	}
}

func TestBulkUpsert_MergesDuplicateKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.BulkUpsert(ctx, []article.Article{
		art("a1", "newsapi", "X", "Tech", "Business"),
		art("a1", "newsapi", "X2", "Science"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 article written, got %d", n)
	}

	a := findArticle(t, s, "newsapi", "a1")
	if a.Title != "X2" {
		t.Fatalf("expected title X2, got %s", a.Title)
	}
	want := []string{"business", "science", "tech"}
	if got := categorySlugs(a); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected categories %v, got %v", want, got)
	}
}

func TestBulkUpsert_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := []article.Article{
		withAuthor(art("1", "guardian", "One", "world", "politics"), "Sam Smith"),
		withAuthor(art("2", "guardian", "Two", "world"), "Ana Lee"),
		art("3", "nytimes", "Three", "science"),
	}

	if _, err := s.BulkUpsert(ctx, batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first := mustCount(t, s)
	if _, err := s.BulkUpsert(ctx, batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second := mustCount(t, s)

	if first != second {
		t.Fatalf("row counts changed: %+v -> %+v", first, second)
	}
	want := Counts{Articles: 3, Authors: 2, Categories: 3, Links: 4}
	if first != want {
		t.Fatalf("expected %+v, got %+v", want, first)
	}
}

func TestBulkUpsert_SharedAuthor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.BulkUpsert(ctx, []article.Article{
		withAuthor(art("1", "newsapi", "One"), "Jane Doe"),
		withAuthor(art("2", "guardian", "Two"), " Jane Doe "),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if c := mustCount(t, s); c.Authors != 1 {
		t.Fatalf("expected 1 author, got %d", c.Authors)
	}
	a1 := findArticle(t, s, "newsapi", "1")
	a2 := findArticle(t, s, "guardian", "2")
	if a1.Author == nil || a2.Author == nil || a1.Author.ID != a2.Author.ID {
		t.Fatalf("expected shared author, got %+v / %+v", a1.Author, a2.Author)
	}
	if a1.Author.Slug != "jane-doe" {
		t.Fatalf("unexpected author slug %s", a1.Author.Slug)
	}
}

func TestBulkUpsert_UpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }
	if _, err := s.BulkUpsert(ctx, []article.Article{withAuthor(art("1", "nytimes", "Before", "world"), "A Writer")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	before := findArticle(t, s, "nytimes", "1")

	s.now = func() time.Time { return t0.Add(time.Hour) }
	updated := art("1", "nytimes", "After", "world")
	updated.Content = strp("new body")
	if _, err := s.BulkUpsert(ctx, []article.Article{updated}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	after := findArticle(t, s, "nytimes", "1")

	if after.ID != before.ID {
		t.Fatalf("expected same row, got ids %d and %d", before.ID, after.ID)
	}
	if after.Title != "After" || article.Deref(after.Content) != "new body" {
		t.Fatalf("expected updated fields, got %+v", after)
	}
	if after.Author != nil {
		t.Fatalf("expected author cleared by latest record, got %+v", after.Author)
	}
	if !after.CreatedAt.Equal(t0) {
		t.Fatalf("created_at rewritten: %v", after.CreatedAt)
	}
	if !after.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected updated_at bumped, got %v", after.UpdatedAt)
	}
	if c := mustCount(t, s); c.Authors != 1 {
		t.Fatalf("authors must never be deleted by ingestion, got %d", c.Authors)
	}
}

func TestBulkUpsert_ZeroPublishedAtUsesNow(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2024, 6, 2, 7, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	a := art("undated", "rss", "No date", "general")
	a.PublishedAt = time.Time{}
	if _, err := s.BulkUpsert(context.Background(), []article.Article{a}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := findArticle(t, s, "rss", "undated"); !got.PublishedAt.Equal(t0) {
		t.Fatalf("expected published_at %v, got %v", t0, got.PublishedAt)
	}
}

func TestBulkUpsert_ConcurrentOverlappingBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers, rounds = 6, 3
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			own := withAuthor(art(fmt.Sprintf("w%d", w), "newsapi", "Own story", "Technology", "Business"), "Jane Doe")
			shared := withAuthor(art("shared", "guardian", "Shared story", "science", "technology"), "Sam Smith")
			for r := 0; r < rounds; r++ {
				if _, err := s.BulkUpsert(ctx, []article.Article{own, shared}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upsert: %v", err)
	}

	want := Counts{Articles: workers + 1, Authors: 2, Categories: 3, Links: workers*2 + 2}
	if c := mustCount(t, s); c != want {
		t.Fatalf("expected %+v, got %+v", want, c)
	}
}

func TestBulkUpsert_ReconcilesCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BulkUpsert(ctx, []article.Article{art("1", "guardian", "T", "world", "politics")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.BulkUpsert(ctx, []article.Article{art("1", "guardian", "T", "science")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	a := findArticle(t, s, "guardian", "1")
	if got := categorySlugs(a); !reflect.DeepEqual(got, []string{"science"}) {
		t.Fatalf("expected [science], got %v", got)
	}

	if _, err := s.BulkUpsert(ctx, []article.Article{art("1", "guardian", "T")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	a = findArticle(t, s, "guardian", "1")
	if len(a.Categories) != 0 {
		t.Fatalf("expected categories cleared, got %v", a.Categories)
	}
	if c := mustCount(t, s); c.Categories != 3 {
		t.Fatalf("categories must never be deleted by ingestion, got %d", c.Categories)
	}
}

func TestBulkUpsert_CategoryDisplayName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.BulkUpsert(context.Background(), []article.Article{art("1", "rss", "T", "AI news")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	cats, err := s.Categories(context.Background())
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 1 || cats[0].Name != "AI News" || cats[0].Slug != "ai-news" {
		t.Fatalf("unexpected categories %+v", cats)
	}
}

func TestBulkUpsert_LargeBatchIsChunked(t *testing.T) {
	s := newTestStore(t)
	var batch []article.Article
	for i := 0; i < chunkRows*2+7; i++ {
		id := strconv.Itoa(i)
		batch = append(batch, art(id, "newsapi", "Story "+id, "general"))
	}
	n, err := s.BulkUpsert(context.Background(), batch)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != len(batch) {
		t.Fatalf("expected %d written, got %d", len(batch), n)
	}
	if c := mustCount(t, s); c.Articles != len(batch) || c.Links != len(batch) {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestBulkUpsert_FailureRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.DB().ExecContext(ctx, "DROP TABLE article_category"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	_, err := s.BulkUpsert(ctx, []article.Article{withAuthor(art("1", "newsapi", "T", "world"), "Jane")})
	if !errors.Is(err, ErrUpsertFailed) {
		t.Fatalf("expected ErrUpsertFailed, got %v", err)
	}
	var articles, authors int
	s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&articles)
	s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM authors").Scan(&authors)
	if articles != 0 || authors != 0 {
		t.Fatalf("expected rollback, got %d articles %d authors", articles, authors)
	}
}

func seedForQueries(t *testing.T, s *Store) {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2024, 5, d, 9, 0, 0, 0, time.UTC) }

	a1 := withAuthor(art("1", "newsapi", "Markets rally on rate cut", "business"), "Jane Doe")
	a1.PublishedAt = day(1)
	a2 := withAuthor(art("2", "guardian", "Football final", "sports"), "Sam Smith")
	a2.PublishedAt = day(2)
	a3 := art("3", "nytimes", "Climate report", "environment", "science")
	a3.PublishedAt = day(3)
	a3.Content = strp("Scientists warn about markets too")
	a4 := withAuthor(art("4", "guardian", "Election latest", "politics"), "Jane Doe")
	a4.PublishedAt = day(4)

	if _, err := s.BulkUpsert(context.Background(), []article.Article{a1, a2, a3, a4}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func titles(p *Page) []string {
	var out []string
	for _, a := range p.Items {
		out = append(out, a.Title)
	}
	return out
}

func TestListArticles_Filters(t *testing.T) {
	s := newTestStore(t)
	seedForQueries(t, s)
	ctx := context.Background()

	authors, err := s.Authors(ctx)
	if err != nil {
		t.Fatalf("authors: %v", err)
	}
	var janeID int64
	for _, a := range authors {
		if a.Slug == "jane-doe" {
			janeID = a.ID
		}
	}

	cases := []struct {
		name string
		f    Filter
		want []string
	}{
		{"all newest first", Filter{}, []string{"Election latest", "Climate report", "Football final", "Markets rally on rate cut"}},
		{"keyword in content", Filter{Keyword: "MARKETS"}, []string{"Climate report", "Markets rally on rate cut"}},
		{"category slug", Filter{Category: "science"}, []string{"Climate report"}},
		{"source", Filter{Source: "guardian"}, []string{"Election latest", "Football final"}},
		{"author", Filter{AuthorID: janeID}, []string{"Election latest", "Markets rally on rate cut"}},
		{"author slug", Filter{Author: "sam-smith"}, []string{"Football final"}},
		{"date range inclusive", Filter{From: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)},
			[]string{"Climate report", "Football final"}},
		{"combined", Filter{Source: "guardian", Keyword: "final"}, []string{"Football final"}},
		{"any of source or author", Filter{AnySources: []string{"nytimes"}, AnyAuthorIDs: []int64{janeID}},
			[]string{"Election latest", "Climate report", "Markets rally on rate cut"}},
	}
	for _, tc := range cases {
		page, err := s.ListArticles(ctx, tc.f)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := titles(page); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if page.Total != len(tc.want) {
			t.Errorf("%s: expected total %d, got %d", tc.name, len(tc.want), page.Total)
		}
	}
}

func TestListArticles_Pagination(t *testing.T) {
	s := newTestStore(t)
	seedForQueries(t, s)

	page, err := s.ListArticles(context.Background(), Filter{Page: 2, PerPage: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 4 || page.LastPage != 2 || page.CurrentPage != 2 || page.PerPage != 3 {
		t.Fatalf("unexpected meta %+v", page)
	}
	if got := titles(page); !reflect.DeepEqual(got, []string{"Markets rally on rate cut"}) {
		t.Fatalf("unexpected page items %v", got)
	}

	past, err := s.ListArticles(context.Background(), Filter{Page: math.MaxInt, PerPage: 100})
	if err != nil {
		t.Fatalf("list far page: %v", err)
	}
	if len(past.Items) != 0 || past.Total != 4 || past.CurrentPage != math.MaxInt {
		t.Fatalf("expected an empty page past the end, got %+v", past)
	}

	empty, err := s.ListArticles(context.Background(), Filter{Source: "bbc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if empty.LastPage != 1 || len(empty.Items) != 0 {
		t.Fatalf("unexpected empty page %+v", empty)
	}
}

func TestGetArticle(t *testing.T) {
	s := newTestStore(t)
	seedForQueries(t, s)
	ctx := context.Background()

	a := findArticle(t, s, "nytimes", "3")
	got, err := s.GetArticle(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Climate report" || len(got.Categories) != 2 || got.Author != nil {
		t.Fatalf("unexpected article %+v", got)
	}

	if _, err := s.GetArticle(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSourcesAndMissing(t *testing.T) {
	s := newTestStore(t)
	seedForQueries(t, s)
	ctx := context.Background()

	srcs, err := s.Sources(ctx)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	want := []Source{{"guardian", "Example guardian"}, {"newsapi", "Example newsapi"}, {"nytimes", "Example nytimes"}}
	if !reflect.DeepEqual(srcs, want) {
		t.Fatalf("expected %v, got %v", want, srcs)
	}

	cats, err := s.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	missingIDs, err := s.MissingCategoryIDs(ctx, []int64{cats[0].ID, 4242})
	if err != nil || !reflect.DeepEqual(missingIDs, []int64{4242}) {
		t.Fatalf("unexpected missing category ids %v (%v)", missingIDs, err)
	}
	missingIDs, err = s.MissingAuthorIDs(ctx, nil)
	if err != nil || missingIDs != nil {
		t.Fatalf("expected nothing missing for empty input, got %v (%v)", missingIDs, err)
	}
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, src := range []string{"newsapi", "guardian", "nytimes"} {
		run := Run{
			Source:     src,
			Status:     RunSucceeded,
			Articles:   i * 10,
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
			FinishedAt: start.Add(time.Duration(i)*time.Minute + 3*time.Second),
		}
		if src == "nytimes" {
			run.Status = RunFailed
			run.Error = "provider fetch failed"
		}
		if err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	runs, err := s.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Source != "nytimes" || runs[0].Status != RunFailed || runs[0].Error == "" {
		t.Fatalf("expected newest failed nytimes run first, got %+v", runs[0])
	}
	if runs[1].Source != "guardian" || runs[1].Articles != 10 {
		t.Fatalf("unexpected second run %+v", runs[1])
	}
	if runs[0].Duration() != 3*time.Second || len(runs[0].ID) != 26 {
		t.Fatalf("unexpected run details %+v", runs[0])
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	seedForQueries(t, s)
	ctx := context.Background()

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if c := mustCount(t, s); c != (Counts{}) {
		t.Fatalf("expected empty tables, got %+v", c)
	}
}
