package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
	"github.com/RobinCoderZhao/newsdesk/pkg/htmltext"
)

// GuardianConfig configures the Guardian content API adapter.
type GuardianConfig struct {
	Enabled   bool     `yaml:"enabled" env:"GUARDIAN_ENABLED"`
	BaseURL   string   `yaml:"base_url" env:"GUARDIAN_BASE_URL"`
	APIKey    string   `yaml:"api_key" env:"GUARDIAN_API_KEY"`
	PageSize  int      `yaml:"page_size"`
	Selectors []string `yaml:"selectors" env:"GUARDIAN_SELECTORS"`
}

// DefaultGuardianConfig returns the Guardian defaults.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		Enabled:   true,
		BaseURL:   "https://content.guardianapis.com/",
		PageSize:  20,
		Selectors: []string{"world", "business", "technology", "science", "sport", "culture"},
	}
}

// GuardianResult is one entry of a Guardian search response.
type GuardianResult struct {
	ID                 string `json:"id"`
	SectionID          string `json:"sectionId"`
	SectionName        string `json:"sectionName"`
	WebTitle           string `json:"webTitle"`
	WebURL             string `json:"webUrl"`
	WebPublicationDate string `json:"webPublicationDate"`
	Fields             struct {
		Headline  string `json:"headline"`
		TrailText string `json:"trailText"`
		Byline    string `json:"byline"`
		Thumbnail string `json:"thumbnail"`
		Body      string `json:"body"`
	} `json:"fields"`
}

type guardianResponse struct {
	Response struct {
		Status  string           `json:"status"`
		Message string           `json:"message"`
		Results []GuardianResult `json:"results"`
	} `json:"response"`
}

// Guardian fetches the newest articles from the Guardian content API.
type Guardian struct {
	cfg    GuardianConfig
	client *APIClient
	logger *slog.Logger
	now    func() time.Time
}

// NewGuardian creates a Guardian adapter.
func NewGuardian(cfg GuardianConfig, client *APIClient) *Guardian {
	def := DefaultGuardianConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	return &Guardian{
		cfg:    cfg,
		client: client,
		logger: slog.Default().With("source", "guardian"),
		now:    time.Now,
	}
}

func (g *Guardian) Name() string { return "guardian" }

func (g *Guardian) Selectors() []string { return append([]string(nil), g.cfg.Selectors...) }

// Fetch retrieves the newest page of search results, optionally for a section.
func (g *Guardian) Fetch(ctx context.Context, selector string) ([]article.Article, error) {
	params := url.Values{}
	params.Set("api-key", g.cfg.APIKey)
	params.Set("show-fields", "headline,trailText,byline,thumbnail,body")
	params.Set("page-size", strconv.Itoa(g.cfg.PageSize))
	params.Set("order-by", "newest")
	if selector != "" {
		params.Set("section", selector)
	}

	var resp guardianResponse
	if err := g.client.GetJSON(ctx, joinURL(g.cfg.BaseURL, "search"), params, &resp); err != nil {
		return nil, fmt.Errorf("guardian %q: %w", selector, err)
	}
	if resp.Response.Status == "error" {
		return nil, fmt.Errorf("guardian %q: %w: %s", selector, ErrFetchFailed, resp.Response.Message)
	}

	results := resp.Response.Results
	out := make([]article.Article, 0, len(results))
	for _, raw := range results {
		a := g.Transform(raw)
		if !a.Valid() {
			continue
		}
		out = append(out, a)
	}
	g.logger.Debug("fetched", "selector", selector, "received", len(results), "kept", len(out))
	return out, nil
}

// Transform maps a Guardian result to an Article. Markup is stripped from
// the trail text and body.
func (g *Guardian) Transform(raw GuardianResult) article.Article {
	id := raw.ID
	if id == "" {
		id = article.HashID(raw.WebURL)
	}
	title := raw.Fields.Headline
	if title == "" {
		title = raw.WebTitle
	}
	return article.Article{
		ExternalID:  id,
		Source:      g.Name(),
		SourceName:  "The Guardian",
		Title:       title,
		Description: htmltext.Strip(raw.Fields.TrailText),
		Content:     article.NullString(htmltext.Strip(raw.Fields.Body)),
		URL:         raw.WebURL,
		ImageURL:    article.NullString(raw.Fields.Thumbnail),
		AuthorName:  article.NullString(raw.Fields.Byline),
		Categories:  []string{guardianCategory(raw.SectionID)},
		PublishedAt: parseTime(raw.WebPublicationDate, g.now()),
	}
}
