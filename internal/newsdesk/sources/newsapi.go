package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/purell"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
)

// NewsAPIConfig configures the NewsAPI adapter.
type NewsAPIConfig struct {
	Enabled   bool     `yaml:"enabled" env:"NEWS_API_ENABLED"`
	BaseURL   string   `yaml:"base_url" env:"NEWS_API_BASE_URL"`
	APIKey    string   `yaml:"api_key" env:"NEWS_API_KEY"`
	Country   string   `yaml:"country" env:"NEWS_API_COUNTRY"`
	Language  string   `yaml:"language"`
	PageSize  int      `yaml:"page_size"`
	Selectors []string `yaml:"selectors" env:"NEWS_API_SELECTORS"`
}

// DefaultNewsAPIConfig returns the NewsAPI defaults.
func DefaultNewsAPIConfig() NewsAPIConfig {
	return NewsAPIConfig{
		Enabled:   true,
		BaseURL:   "https://newsapi.org/v2/",
		Country:   "us",
		Language:  "en",
		PageSize:  100,
		Selectors: []string{"business", "technology", "science", "health", "sports", "entertainment"},
	}
}

// NewsAPIArticle is one entry of a top-headlines response.
type NewsAPIArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`

	// Category is the topic the record was fetched under; not part of the payload.
	Category string `json:"-"`
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []NewsAPIArticle `json:"articles"`
}

// NewsAPI fetches top headlines from newsapi.org.
type NewsAPI struct {
	cfg    NewsAPIConfig
	client *APIClient
	logger *slog.Logger
	now    func() time.Time
}

// NewNewsAPI creates a NewsAPI adapter.
func NewNewsAPI(cfg NewsAPIConfig, client *APIClient) *NewsAPI {
	def := DefaultNewsAPIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Country == "" {
		cfg.Country = def.Country
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	return &NewsAPI{
		cfg:    cfg,
		client: client,
		logger: slog.Default().With("source", "newsapi"),
		now:    time.Now,
	}
}

func (n *NewsAPI) Name() string { return "newsapi" }

func (n *NewsAPI) Selectors() []string { return append([]string(nil), n.cfg.Selectors...) }

// Fetch retrieves one page of top headlines, optionally for a topic.
func (n *NewsAPI) Fetch(ctx context.Context, selector string) ([]article.Article, error) {
	params := url.Values{}
	params.Set("apiKey", n.cfg.APIKey)
	params.Set("language", n.cfg.Language)
	params.Set("pageSize", strconv.Itoa(n.cfg.PageSize))
	params.Set("country", n.cfg.Country)
	if selector != "" {
		params.Set("category", selector)
	}

	var resp newsAPIResponse
	if err := n.client.GetJSON(ctx, joinURL(n.cfg.BaseURL, "top-headlines"), params, &resp); err != nil {
		return nil, fmt.Errorf("newsapi %q: %w", selector, err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("newsapi %q: %w: %s: %s", selector, ErrFetchFailed, resp.Code, resp.Message)
	}

	out := make([]article.Article, 0, len(resp.Articles))
	for _, raw := range resp.Articles {
		raw.Category = selector
		a := n.Transform(raw)
		if !a.Valid() {
			continue
		}
		out = append(out, a)
	}
	n.logger.Debug("fetched", "selector", selector, "received", len(resp.Articles), "kept", len(out))
	return out, nil
}

// Transform maps a NewsAPI record to an Article. The external id is the md5
// of the normalized URL so the same story keeps its id across pulls.
func (n *NewsAPI) Transform(raw NewsAPIArticle) article.Article {
	category := raw.Category
	if category == "" {
		category = generalCategory
	}
	sourceName := raw.Source.Name
	if sourceName == "" {
		sourceName = "NewsAPI"
	}
	return article.Article{
		ExternalID:  article.HashID(normalizeURL(raw.URL)),
		Source:      n.Name(),
		SourceName:  sourceName,
		Title:       raw.Title,
		Description: raw.Description,
		Content:     article.NullString(raw.Content),
		URL:         raw.URL,
		ImageURL:    article.NullString(raw.URLToImage),
		AuthorName:  article.NullString(raw.Author),
		Categories:  []string{category},
		PublishedAt: parseTime(raw.PublishedAt, n.now()),
	}
}

func normalizeURL(raw string) string {
	norm, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		return raw
	}
	return norm
}
