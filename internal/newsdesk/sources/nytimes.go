package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
)

// NYTimesConfig configures the New York Times top stories adapter.
type NYTimesConfig struct {
	Enabled        bool     `yaml:"enabled" env:"NYT_ENABLED"`
	BaseURL        string   `yaml:"base_url" env:"NYT_BASE_URL"`
	APIKey         string   `yaml:"api_key" env:"NYT_API_KEY"`
	DefaultSection string   `yaml:"default_section"`
	Selectors      []string `yaml:"selectors" env:"NYT_SELECTORS"`
}

// DefaultNYTimesConfig returns the NYT defaults.
func DefaultNYTimesConfig() NYTimesConfig {
	return NYTimesConfig{
		Enabled:        true,
		BaseURL:        "https://api.nytimes.com/svc/",
		DefaultSection: "home",
		Selectors:      []string{"world", "business", "technology", "science", "sports", "arts"},
	}
}

const nytLargeThumbnail = "Large Thumbnail"

// NYTMedia is one multimedia attachment of a story.
type NYTMedia struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Caption string `json:"caption"`
}

// NYTMultimedia tolerates the API sending "" or null instead of a list.
type NYTMultimedia []NYTMedia

func (m *NYTMultimedia) UnmarshalJSON(data []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		*m = nil
		return nil
	}
	var list []NYTMedia
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = list
	return nil
}

// NYTStory is one entry of a top stories response.
type NYTStory struct {
	URI           string        `json:"uri"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	Abstract      string        `json:"abstract"`
	Byline        string        `json:"byline"`
	Section       string        `json:"section"`
	Subsection    string        `json:"subsection"`
	PublishedDate string        `json:"published_date"`
	Multimedia    NYTMultimedia `json:"multimedia"`
}

type nytResponse struct {
	Status  string     `json:"status"`
	Fault   any        `json:"fault,omitempty"`
	Results []NYTStory `json:"results"`
}

// NYTimes fetches top stories from the New York Times API.
type NYTimes struct {
	cfg    NYTimesConfig
	client *APIClient
	logger *slog.Logger
	now    func() time.Time
}

// NewNYTimes creates a NYT adapter.
func NewNYTimes(cfg NYTimesConfig, client *APIClient) *NYTimes {
	def := DefaultNYTimesConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.DefaultSection == "" {
		cfg.DefaultSection = def.DefaultSection
	}
	return &NYTimes{
		cfg:    cfg,
		client: client,
		logger: slog.Default().With("source", "nytimes"),
		now:    time.Now,
	}
}

func (n *NYTimes) Name() string { return "nytimes" }

func (n *NYTimes) Selectors() []string { return append([]string(nil), n.cfg.Selectors...) }

// Fetch retrieves the top stories of a section; "" means the home page.
func (n *NYTimes) Fetch(ctx context.Context, selector string) ([]article.Article, error) {
	section := selector
	if section == "" {
		section = n.cfg.DefaultSection
	}
	params := url.Values{}
	params.Set("api-key", n.cfg.APIKey)

	endpoint := joinURL(n.cfg.BaseURL, "topstories/v2/"+url.PathEscape(section)+".json")
	var resp nytResponse
	if err := n.client.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("nytimes %q: %w", section, err)
	}
	if resp.Fault != nil || (resp.Status != "" && resp.Status != "OK") {
		return nil, fmt.Errorf("nytimes %q: %w: status %q", section, ErrFetchFailed, resp.Status)
	}

	out := make([]article.Article, 0, len(resp.Results))
	for _, raw := range resp.Results {
		a := n.Transform(raw)
		if !a.Valid() {
			continue
		}
		out = append(out, a)
	}
	n.logger.Debug("fetched", "section", section, "received", len(resp.Results), "kept", len(out))
	return out, nil
}

// Transform maps a top story to an Article.
func (n *NYTimes) Transform(raw NYTStory) article.Article {
	id := raw.URI
	if id == "" {
		id = article.HashID(raw.URL)
	}
	return article.Article{
		ExternalID:  id,
		Source:      n.Name(),
		SourceName:  "The New York Times",
		Title:       raw.Title,
		Description: raw.Abstract,
		Content:     article.NullString(raw.Abstract),
		URL:         raw.URL,
		ImageURL:    article.NullString(nytImage(raw.Multimedia)),
		AuthorName:  article.NullString(trimByline(raw.Byline)),
		Categories:  []string{nytCategory(raw.Section)},
		PublishedAt: parseTime(raw.PublishedDate, n.now()),
	}
}

func nytImage(media NYTMultimedia) string {
	for _, m := range media {
		if m.Format == nytLargeThumbnail {
			return m.URL
		}
	}
	if len(media) > 0 {
		return media[0].URL
	}
	return ""
}

// trimByline turns "By Jane Doe" into "Jane Doe".
func trimByline(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.EqualFold(s[:3], "by ") {
		s = s[3:]
	}
	return strings.TrimSpace(s)
}
