package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

const dateLayout = "2006-01-02"

// ArticleView is the public shape of an article.
type ArticleView struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Content     *string          `json:"content"`
	Author      *store.Author    `json:"author"`
	Source      SourceView       `json:"source"`
	Categories  []store.Category `json:"categories"`
	URL         string           `json:"url"`
	ImageURL    *string          `json:"image_url"`
	PublishedAt string           `json:"published_at"`
	CreatedAt   string           `json:"created_at"`
}

// SourceView identifies a provider and its display name.
type SourceView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PageMeta describes the position of a page in a listing.
type PageMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

type articlePage struct {
	Items []ArticleView `json:"items"`
	Meta  PageMeta      `json:"meta"`
}

func newArticleView(a store.Article) ArticleView {
	return ArticleView{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Content:     a.Content,
		Author:      a.Author,
		Source:      SourceView{ID: a.Source, Name: a.SourceName},
		Categories:  a.Categories,
		URL:         a.URL,
		ImageURL:    a.ImageURL,
		PublishedAt: a.PublishedAt.UTC().Format(time.RFC3339),
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newArticlePage(p *store.Page) articlePage {
	items := make([]ArticleView, 0, len(p.Items))
	for _, a := range p.Items {
		items = append(items, newArticleView(a))
	}
	return articlePage{
		Items: items,
		Meta: PageMeta{
			CurrentPage: p.CurrentPage,
			PerPage:     p.PerPage,
			Total:       p.Total,
			LastPage:    p.LastPage,
		},
	}
}

// parsePaging reads page and per_page into f.
func (s *Server) parsePaging(q url.Values, f *store.Filter, errs fieldErrors) {
	f.PerPage = s.cfg.PerPage
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil || n < 1:
			errs.add("per_page", "The per page must be at least 1.")
		case n > s.cfg.MaxPerPage:
			errs.add("per_page", "Maximum items per page is "+strconv.Itoa(s.cfg.MaxPerPage)+".")
		default:
			f.PerPage = n
		}
	}
	f.Page = 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs.add("page", "The page must be at least 1.")
		} else {
			f.Page = n
		}
	}
}

// parseArticleFilter validates the listing query string.
func (s *Server) parseArticleFilter(q url.Values) (store.Filter, fieldErrors) {
	var f store.Filter
	errs := fieldErrors{}

	f.Keyword = strings.TrimSpace(q.Get("keyword"))
	if f.Keyword == "" {
		f.Keyword = strings.TrimSpace(q.Get("q"))
	}
	if len(f.Keyword) > 255 {
		errs.add("keyword", "The keyword must not be greater than 255 characters.")
	}

	f.Category = strings.TrimSpace(q.Get("category"))
	if len(f.Category) > 100 {
		errs.add("category", "The category must not be greater than 100 characters.")
	}
	f.Source = strings.TrimSpace(q.Get("source"))
	if len(f.Source) > 100 {
		errs.add("source", "The source must not be greater than 100 characters.")
	}

	if author := strings.TrimSpace(q.Get("author")); author != "" {
		if id, err := strconv.ParseInt(author, 10, 64); err == nil {
			f.AuthorID = id
		} else {
			f.Author = author
		}
	}

	if v := q.Get("from_date"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			errs.add("from_date", "The from date does not match the format Y-m-d.")
		}
		f.From = t
	}
	if v := q.Get("to_date"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			errs.add("to_date", "The to date does not match the format Y-m-d.")
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		errs.add("to_date", "The to date must be after or equal to the from date.")
	}

	s.parsePaging(q, &f, errs)
	return f, errs
}

func (s *Server) handleListArticles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, errs := s.parseArticleFilter(r.URL.Query())
		if len(errs) > 0 {
			respondValidation(w, errs)
			return
		}
		page, err := s.articles.ListArticles(r.Context(), f)
		if err != nil {
			s.logger.Error("list articles failed", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to retrieve articles")
			return
		}
		respondSuccess(w, http.StatusOK, "Articles retrieved successfully", newArticlePage(page))
	}
}

func (s *Server) handleGetArticle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 1 {
			respondError(w, http.StatusNotFound, "Article not found")
			return
		}
		a, err := s.articles.GetArticle(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Article not found")
			return
		}
		if err != nil {
			s.logger.Error("get article failed", "id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to retrieve article")
			return
		}
		respondSuccess(w, http.StatusOK, "Article retrieved successfully", newArticleView(*a))
	}
}

func (s *Server) handleSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.articles.Sources(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve sources")
			return
		}
		out := make([]SourceView, 0, len(list))
		for _, src := range list {
			out = append(out, SourceView{ID: src.Source, Name: src.Name})
		}
		respondSuccess(w, http.StatusOK, "Sources retrieved successfully", out)
	}
}

func (s *Server) handleCategories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.articles.Categories(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve categories")
			return
		}
		respondSuccess(w, http.StatusOK, "Categories retrieved successfully", list)
	}
}

func (s *Server) handleAuthors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.articles.Authors(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve authors")
			return
		}
		respondSuccess(w, http.StatusOK, "Authors retrieved successfully", list)
	}
}

// handleFetchRuns lists recent ingestion runs, newest first.
func (s *Server) handleFetchRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > s.cfg.MaxPerPage {
				respondValidation(w, fieldErrors{"limit": {"The limit must be between 1 and " + strconv.Itoa(s.cfg.MaxPerPage) + "."}})
				return
			}
			limit = n
		}
		runs, err := s.articles.RecentRuns(r.Context(), limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to retrieve fetch runs")
			return
		}
		respondSuccess(w, http.StatusOK, "Fetch runs retrieved successfully", runs)
	}
}
