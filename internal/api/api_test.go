package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/internal/user"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

type testResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Errors  map[string][]string `json:"errors"`
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: storage.SQLite, DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	day := func(d int) time.Time { return time.Date(2024, 5, d, 9, 0, 0, 0, time.UTC) }
	batch := []article.Article{
		{
			ExternalID: "n1", Source: "newsapi", SourceName: "TechCrunch",
			Title: "Go 1.23 released", Description: "New iterators", URL: "https://example.com/go",
			AuthorName: article.NullString("Jane Doe"), Categories: []string{"technology"}, PublishedAt: day(1),
		},
		{
			ExternalID: "g1", Source: "guardian", SourceName: "The Guardian",
			Title: "Markets rally", Description: "Stocks up", URL: "https://example.com/markets",
			AuthorName: article.NullString("Sam Smith"), Categories: []string{"business"}, PublishedAt: day(2),
		},
		{
			ExternalID: "y1", Source: "nytimes", SourceName: "The New York Times",
			Title: "Rocket launch", Description: "Liftoff", URL: "https://example.com/rocket",
			Categories: []string{"science"}, PublishedAt: day(3),
		},
	}
	if _, err := st.BulkUpsert(ctx, batch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"
	return NewServer(st, user.NewStore(db), cfg), st
}

func do(t *testing.T, h http.Handler, method, target string, body any, token string) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, resp
}

func decodeData(t *testing.T, resp testResponse, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}

func register(t *testing.T, h http.Handler, email string) string {
	t.Helper()
	rec, resp := do(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"name":                  "Reader",
		"email":                 email,
		"password":              "secret123",
		"password_confirmation": "secret123",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	decodeData(t, resp, &data)
	return data.Token
}

func TestListArticles_Filters(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	tests := []struct {
		name   string
		query  string
		titles []string
	}{
		{"all newest first", "", []string{"Rocket launch", "Markets rally", "Go 1.23 released"}},
		{"source", "?source=guardian", []string{"Markets rally"}},
		{"keyword", "?keyword=ROCKET", []string{"Rocket launch"}},
		{"q alias", "?q=iterators", []string{"Go 1.23 released"}},
		{"category slug", "?category=technology", []string{"Go 1.23 released"}},
		{"author slug", "?author=sam-smith", []string{"Markets rally"}},
		{"single day", "?from_date=2024-05-02&to_date=2024-05-02", []string{"Markets rally"}},
		{"from only", "?from_date=2024-05-02", []string{"Rocket launch", "Markets rally"}},
		{"no match", "?source=guardian&category=science", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, h, http.MethodGet, "/api/articles"+tt.query, nil, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
			}
			var page articlePage
			decodeData(t, resp, &page)
			var titles []string
			for _, a := range page.Items {
				titles = append(titles, a.Title)
			}
			if len(titles) != len(tt.titles) {
				t.Fatalf("expected %v, got %v", tt.titles, titles)
			}
			for i := range titles {
				if titles[i] != tt.titles[i] {
					t.Fatalf("expected %v, got %v", tt.titles, titles)
				}
			}
			if page.Meta.Total != len(tt.titles) {
				t.Fatalf("expected total %d, got %d", len(tt.titles), page.Meta.Total)
			}
		})
	}
}

func TestListArticles_Pagination(t *testing.T) {
	s, _ := newTestServer(t)
	rec, resp := do(t, s.Routes(), http.MethodGet, "/api/articles?per_page=2&page=2", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var page articlePage
	decodeData(t, resp, &page)
	want := PageMeta{CurrentPage: 2, PerPage: 2, Total: 3, LastPage: 2}
	if page.Meta != want {
		t.Fatalf("expected meta %+v, got %+v", want, page.Meta)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "Go 1.23 released" {
		t.Fatalf("unexpected page items %+v", page.Items)
	}

	rec, resp = do(t, s.Routes(), http.MethodGet, "/api/articles?page=9223372036854775807", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("far page: status %d body %s", rec.Code, rec.Body.String())
	}
	decodeData(t, resp, &page)
	if len(page.Items) != 0 || page.Meta.Total != 3 {
		t.Fatalf("expected empty far page, got %+v", page)
	}
}

func TestListArticles_Validation(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	tests := []struct {
		query string
		field string
	}{
		{"?from_date=2024-05-03&to_date=2024-05-01", "to_date"},
		{"?from_date=05/01/2024", "from_date"},
		{"?per_page=101", "per_page"},
		{"?per_page=0", "per_page"},
		{"?page=-1", "page"},
	}
	for _, tt := range tests {
		rec, resp := do(t, h, http.MethodGet, "/api/articles"+tt.query, nil, "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", tt.query, rec.Code)
		}
		if len(resp.Errors[tt.field]) == 0 {
			t.Fatalf("%s: expected error on %s, got %v", tt.query, tt.field, resp.Errors)
		}
	}
}

func TestGetArticle(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Routes()

	page, err := st.ListArticles(context.Background(), store.Filter{Source: "newsapi"})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("lookup: %v %+v", err, page)
	}
	id := page.Items[0].ID

	rec, resp := do(t, h, http.MethodGet, "/api/articles/"+strconv.FormatInt(id, 10), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var a ArticleView
	decodeData(t, resp, &a)
	if a.Source != (SourceView{ID: "newsapi", Name: "TechCrunch"}) {
		t.Fatalf("unexpected source %+v", a.Source)
	}
	if a.Author == nil || a.Author.Slug != "jane-doe" {
		t.Fatalf("unexpected author %+v", a.Author)
	}
	if len(a.Categories) != 1 || a.Categories[0].Slug != "technology" {
		t.Fatalf("unexpected categories %+v", a.Categories)
	}
	if a.PublishedAt != "2024-05-01T09:00:00Z" {
		t.Fatalf("unexpected published_at %s", a.PublishedAt)
	}

	for _, path := range []string{"/api/articles/99999", "/api/articles/abc"} {
		if rec, _ := do(t, h, http.MethodGet, path, nil, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestMetadataEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	_, resp := do(t, h, http.MethodGet, "/api/sources", nil, "")
	var srcs []SourceView
	decodeData(t, resp, &srcs)
	if len(srcs) != 3 || srcs[0].ID != "guardian" {
		t.Fatalf("unexpected sources %+v", srcs)
	}

	_, resp = do(t, h, http.MethodGet, "/api/categories", nil, "")
	var cats []store.Category
	decodeData(t, resp, &cats)
	if len(cats) != 3 {
		t.Fatalf("unexpected categories %+v", cats)
	}

	_, resp = do(t, h, http.MethodGet, "/api/authors", nil, "")
	var authors []store.Author
	decodeData(t, resp, &authors)
	if len(authors) != 2 || authors[0].Name != "Jane Doe" {
		t.Fatalf("unexpected authors %+v", authors)
	}
}

func TestFetchRuns(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if err := st.RecordRun(ctx, store.Run{Source: "newsapi", Status: store.RunSucceeded, Articles: 3}); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec, resp := do(t, s.Routes(), http.MethodGet, "/api/fetch-runs?limit=5", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var runs []store.Run
	decodeData(t, resp, &runs)
	if len(runs) != 1 || runs[0].Articles != 3 {
		t.Fatalf("unexpected runs %+v", runs)
	}

	if rec, _ := do(t, s.Routes(), http.MethodGet, "/api/fetch-runs?limit=0", nil, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	rec, resp := do(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"name":                  "",
		"email":                 "not-an-email",
		"password":              "short",
		"password_confirmation": "other",
	}, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	for _, field := range []string{"name", "email", "password"} {
		if len(resp.Errors[field]) == 0 {
			t.Errorf("expected error on %s, got %v", field, resp.Errors)
		}
	}

	token := register(t, h, "reader@example.com")
	if token == "" {
		t.Fatal("expected token")
	}

	rec, resp = do(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"name":                  "Again",
		"email":                 "READER@example.com",
		"password":              "secret123",
		"password_confirmation": "secret123",
	}, "")
	if rec.Code != http.StatusUnprocessableEntity || len(resp.Errors["email"]) == 0 {
		t.Fatalf("expected duplicate email error, got %d %v", rec.Code, resp.Errors)
	}

	rec, resp = do(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "reader@example.com", "password": "wrong-password",
	}, "")
	if rec.Code != http.StatusUnprocessableEntity || resp.Errors["email"][0] != "The provided credentials are incorrect." {
		t.Fatalf("expected credential error, got %d %v", rec.Code, resp.Errors)
	}

	rec, resp = do(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "reader@example.com", "password": "secret123",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	var login struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	decodeData(t, resp, &login)
	if login.Token == "" || login.Email != "reader@example.com" {
		t.Fatalf("unexpected login data %+v", login)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/auth/user", nil, login.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("user: status %d", rec.Code)
	}
	var me struct {
		User        user.User        `json:"user"`
		Preferences user.Preferences `json:"preferences"`
	}
	decodeData(t, resp, &me)
	if me.User.Email != "reader@example.com" || me.Preferences.Sources == nil {
		t.Fatalf("unexpected user payload %s", resp.Data)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/auth/logout", nil, login.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected logout to clear the token cookie")
	}
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/user"},
		{http.MethodGet, "/api/user/preferences"},
		{http.MethodPost, "/api/user/preferences"},
		{http.MethodGet, "/api/user/feed"},
	} {
		rec, resp := do(t, h, tc.method, tc.path, nil, "")
		if rec.Code != http.StatusUnauthorized || resp.Message != "Unauthenticated." {
			t.Errorf("%s %s: expected 401, got %d %q", tc.method, tc.path, rec.Code, resp.Message)
		}
	}

	if rec, _ := do(t, h, http.MethodGet, "/api/auth/user", nil, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestAuthCookie(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()
	token := register(t, h, "cookie@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cookie auth to succeed, got %d", rec.Code)
	}
}

func TestPreferencesAndFeed(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Routes()
	token := register(t, h, "feed@example.com")

	// no preferences: general listing
	rec, resp := do(t, h, http.MethodGet, "/api/user/feed", nil, token)
	if rec.Code != http.StatusOK || resp.Message != "Personalized feed retrieved successfully" {
		t.Fatalf("feed: %d %q", rec.Code, resp.Message)
	}
	var page articlePage
	decodeData(t, resp, &page)
	if page.Meta.Total != 3 {
		t.Fatalf("expected general feed of 3, got %d", page.Meta.Total)
	}

	rec, resp = do(t, h, http.MethodPost, "/api/user/preferences", map[string]any{
		"preferred_categories": []int64{9999},
		"preferred_authors":    []int64{8888},
	}, token)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if resp.Errors["preferred_categories"][0] != "The selected category does not exist." ||
		resp.Errors["preferred_authors"][0] != "The selected author does not exist." {
		t.Fatalf("unexpected errors %v", resp.Errors)
	}

	cats, err := st.Categories(context.Background())
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	var techID int64
	for _, c := range cats {
		if c.Slug == "technology" {
			techID = c.ID
		}
	}

	rec, resp = do(t, h, http.MethodPost, "/api/user/preferences", map[string]any{
		"preferred_sources":    []string{"nytimes"},
		"preferred_categories": []int64{techID},
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: status %d body %s", rec.Code, rec.Body.String())
	}
	var prefs user.Preferences
	decodeData(t, resp, &prefs)
	if len(prefs.Sources) != 1 || len(prefs.Categories) != 1 || len(prefs.Authors) != 0 {
		t.Fatalf("unexpected saved preferences %+v", prefs)
	}

	_, resp = do(t, h, http.MethodGet, "/api/user/feed", nil, token)
	decodeData(t, resp, &page)
	if page.Meta.Total != 2 || page.Items[0].Title != "Rocket launch" || page.Items[1].Title != "Go 1.23 released" {
		t.Fatalf("expected nytimes or technology articles, got %+v", page.Items)
	}

	_, resp = do(t, h, http.MethodGet, "/api/user/preferences", nil, token)
	decodeData(t, resp, &prefs)
	if prefs.Sources[0] != "nytimes" || prefs.Categories[0] != techID {
		t.Fatalf("unexpected preferences %+v", prefs)
	}
}

func TestHandler_CORS(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected CORS header, got %q", got)
	}
}
