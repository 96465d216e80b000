// Package sources defines the provider adapter interface and the adapters
// that fetch raw articles from external news APIs and normalize them into
// article.Article.
package sources

import (
	"context"
	"sort"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
)

// Provider is the interface that all news providers must implement.
type Provider interface {
	// Name returns the source key stored on every article ("newsapi", ...).
	Name() string

	// Selectors returns the topics or sections to fan out over in addition
	// to the default feed. An empty list means the default fetch only.
	Selectors() []string

	// Fetch retrieves one page for selector ("" = default/top feed) and
	// returns the valid, normalized articles. Failures are reported as
	// errors wrapping ErrFetchFailed.
	Fetch(ctx context.Context, selector string) ([]article.Article, error)
}

// Registry holds the providers available to one aggregator instance.
type Registry struct {
	providers []Provider
	byName    map[string]int
}

// NewRegistry creates a new provider registry.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]int)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	if i, ok := r.byName[p.Name()]; ok {
		r.providers[i] = p
		return
	}
	r.byName[p.Name()] = len(r.providers)
	r.providers = append(r.providers, p)
}

// Get looks up a provider by source key.
func (r *Registry) Get(name string) (Provider, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.providers[i], true
}

// Providers returns the registered providers in registration order.
func (r *Registry) Providers() []Provider {
	return append([]Provider(nil), r.providers...)
}

// Names returns the registered source keys, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int { return len(r.providers) }
