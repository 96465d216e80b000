package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
	"github.com/RobinCoderZhao/newsdesk/pkg/htmltext"
)

// FeedConfig is one RSS/Atom feed to poll.
type FeedConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// RSSConfig configures the feed adapter. It is only registered when at
// least one feed is configured.
type RSSConfig struct {
	Enabled bool         `yaml:"enabled" env:"RSS_ENABLED"`
	Feeds   []FeedConfig `yaml:"feeds"`
}

// RSS fetches articles from any number of RSS/Atom feeds.
type RSS struct {
	feeds  []FeedConfig
	client *APIClient
	logger *slog.Logger
	now    func() time.Time
}

// NewRSS creates a feed adapter over feeds.
func NewRSS(feeds []FeedConfig, client *APIClient) *RSS {
	return &RSS{
		feeds:  feeds,
		client: client,
		logger: slog.Default().With("source", "rss"),
		now:    time.Now,
	}
}

func (r *RSS) Name() string { return "rss" }

// Selectors is empty: every feed is read by the default fetch.
func (r *RSS) Selectors() []string { return nil }

// Fetch reads every configured feed. A broken feed is logged and skipped;
// the call fails only when no feed could be read.
func (r *RSS) Fetch(ctx context.Context, _ string) ([]article.Article, error) {
	var (
		out  []article.Article
		errs []error
	)
	for _, feed := range r.feeds {
		items, err := r.fetchFeed(ctx, feed)
		if err != nil {
			r.logger.Warn("feed failed", "feed", feed.Name, "url", feed.URL, "error", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, items...)
	}
	if len(r.feeds) > 0 && len(errs) == len(r.feeds) {
		return nil, fmt.Errorf("rss: %w", errors.Join(errs...))
	}
	return out, nil
}

func (r *RSS) fetchFeed(ctx context.Context, feed FeedConfig) ([]article.Article, error) {
	body, err := r.client.Get(ctx, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	// gofeed parsers keep state between calls
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %w", ErrFetchFailed, feed.URL, err)
	}

	out := make([]article.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		a := r.Transform(feed, parsed.Title, item)
		if !a.Valid() {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Transform maps a feed item to an Article. The external id is the md5 of
// the item link, or of its GUID when the link is missing.
func (r *RSS) Transform(feed FeedConfig, feedTitle string, item *gofeed.Item) article.Article {
	link := strings.TrimSpace(item.Link)
	key := link
	if key == "" {
		key = item.GUID
	}
	var id string
	if key != "" {
		id = article.HashID(normalizeURL(key))
	}

	sourceName := feed.Name
	if sourceName == "" {
		sourceName = feedTitle
	}
	category := feed.Category
	if category == "" {
		category = generalCategory
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}
	var image string
	if item.Image != nil {
		image = item.Image.URL
	} else {
		for _, enc := range item.Enclosures {
			if enc != nil && strings.HasPrefix(enc.Type, "image/") {
				image = enc.URL
				break
			}
		}
	}

	published := r.now()
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	return article.Article{
		ExternalID:  id,
		Source:      r.Name(),
		SourceName:  sourceName,
		Title:       strings.TrimSpace(item.Title),
		Description: htmltext.Strip(item.Description),
		Content:     article.NullString(htmltext.Strip(item.Content)),
		URL:         link,
		ImageURL:    article.NullString(image),
		AuthorName:  article.NullString(author),
		Categories:  []string{category},
		PublishedAt: published.UTC().Truncate(time.Second),
	}
}
