// Package aggregator drives ingestion: it fans out over the registered
// providers and their selectors, and hands each provider's batch to the
// upsert coordinator.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/article"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

// ErrUnknownSource is returned by FetchFromSource for names not in the registry.
var ErrUnknownSource = errors.New("unknown source")

// Writer persists a batch of articles and returns how many were written.
type Writer interface {
	BulkUpsert(ctx context.Context, batch []article.Article) (int, error)
}

// RunRecorder stores one record per provider attempt.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.Run) error
}

// Config tunes the aggregator.
type Config struct {
	Concurrency         int           `yaml:"concurrency" env:"AGGREGATOR_CONCURRENCY"`
	SelectorConcurrency int           `yaml:"selector_concurrency" env:"AGGREGATOR_SELECTOR_CONCURRENCY"`
	ProviderTimeout     time.Duration `yaml:"provider_timeout" env:"AGGREGATOR_PROVIDER_TIMEOUT"`
}

// DefaultConfig returns the aggregator defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         3,
		SelectorConcurrency: 4,
		ProviderTimeout:     2 * time.Minute,
	}
}

// State is the lifecycle of one provider within a fetch.
type State string

const (
	StatePending   State = "pending"
	StateFetching  State = "fetching"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Result is the outcome of FetchAll. Total counts only successful providers.
type Result struct {
	Success map[string]int    `json:"success"`
	Failed  map[string]string `json:"failed"`
	Total   int               `json:"total_articles"`
}

// Sources returns every provider named in the result, sorted.
func (r Result) Sources() []string {
	names := make([]string, 0, len(r.Success)+len(r.Failed))
	for n := range r.Success {
		names = append(names, n)
	}
	for n := range r.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConfig applies cfg; zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(a *Aggregator) {
		if cfg.Concurrency > 0 {
			a.cfg.Concurrency = cfg.Concurrency
		}
		if cfg.SelectorConcurrency > 0 {
			a.cfg.SelectorConcurrency = cfg.SelectorConcurrency
		}
		if cfg.ProviderTimeout > 0 {
			a.cfg.ProviderTimeout = cfg.ProviderTimeout
		}
	}
}

// WithRunRecorder records every provider attempt through r.
func WithRunRecorder(r RunRecorder) Option {
	return func(a *Aggregator) { a.runs = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// Aggregator orchestrates provider fetches and batch writes.
type Aggregator struct {
	registry *sources.Registry
	writer   Writer
	runs     RunRecorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]State
}

// New creates an Aggregator over reg writing through w.
func New(reg *sources.Registry, w Writer, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: reg,
		writer:   w,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
		states:   make(map[string]State),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, name := range reg.Names() {
		a.states[name] = StatePending
	}
	return a
}

// Registry returns the providers this aggregator fetches from.
func (a *Aggregator) Registry() *sources.Registry { return a.registry }

// FetchFromSource ingests one provider and returns the number of articles
// written.
func (a *Aggregator) FetchFromSource(ctx context.Context, name string) (int, error) {
	p, ok := a.registry.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return a.runProvider(ctx, p)
}

// FetchAll ingests every registered provider concurrently. A failing
// provider never affects the others; FetchAll always returns a Result.
func (a *Aggregator) FetchAll(ctx context.Context) Result {
	providers := a.registry.Providers()
	type outcome struct {
		count int
		err   error
	}
	outcomes := make([]outcome, len(providers))

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, p := range providers {
		g.Go(func() error {
			n, err := a.runProvider(ctx, p)
			outcomes[i] = outcome{count: n, err: err}
			return nil
		})
	}
	g.Wait()

	res := Result{Success: make(map[string]int), Failed: make(map[string]string)}
	for i, p := range providers {
		if err := outcomes[i].err; err != nil {
			res.Failed[p.Name()] = err.Error()
			continue
		}
		res.Success[p.Name()] = outcomes[i].count
		res.Total += outcomes[i].count
	}

	a.logger.Info("fetch completed",
		"succeeded", len(res.Success),
		"failed", len(res.Failed),
		"total", res.Total,
	)
	return res
}

// BulkUpsert writes a batch directly, bypassing the providers.
func (a *Aggregator) BulkUpsert(ctx context.Context, batch []article.Article) (int, error) {
	return a.writer.BulkUpsert(ctx, batch)
}

// States reports the last known state of every registered provider.
func (a *Aggregator) States() map[string]State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]State, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

func (a *Aggregator) setState(name string, s State) {
	a.mu.Lock()
	a.states[name] = s
	a.mu.Unlock()
}

// runProvider fetches and writes one provider under its own timeout.
func (a *Aggregator) runProvider(parent context.Context, p sources.Provider) (int, error) {
	name := p.Name()
	started := a.now()
	a.setState(name, StateFetching)

	ctx := parent
	if a.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, a.cfg.ProviderTimeout)
		defer cancel()
	}

	n, err := a.ingest(ctx, p)
	a.record(parent, name, started, n, err)
	if err != nil {
		a.setState(name, StateFailed)
		a.logger.Error("source failed", "source", name, "error", err, "duration", time.Since(started))
		return 0, err
	}
	a.setState(name, StateSucceeded)
	a.logger.Info("source fetched", "source", name, "count", n, "duration", time.Since(started))
	return n, nil
}

func (a *Aggregator) ingest(ctx context.Context, p sources.Provider) (int, error) {
	batch, err := a.collect(ctx, p)
	if err != nil {
		return 0, err
	}
	n, err := a.writer.BulkUpsert(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return n, nil
}

// collect runs the default fetch plus one fetch per selector. Results land
// in per-selector slots and are concatenated in selector order. The
// provider fails only when every call failed.
func (a *Aggregator) collect(ctx context.Context, p sources.Provider) ([]article.Article, error) {
	selectors := append([]string{""}, p.Selectors()...)
	slots := make([][]article.Article, len(selectors))
	errs := make([]error, len(selectors))

	var g errgroup.Group
	g.SetLimit(a.cfg.SelectorConcurrency)
	for i, sel := range selectors {
		g.Go(func() error {
			items, err := p.Fetch(ctx, sel)
			if err != nil {
				a.logger.Warn("fetch failed", "source", p.Name(), "selector", sel, "error", err)
				errs[i] = err
				return nil
			}
			slots[i] = items
			return nil
		})
	}
	g.Wait()

	var (
		out    []article.Article
		failed []error
	)
	for i := range selectors {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		out = append(out, slots[i]...)
	}
	if len(failed) == len(selectors) {
		err := errors.Join(failed...)
		if !errors.Is(err, sources.ErrFetchFailed) {
			err = fmt.Errorf("%w: %w", sources.ErrFetchFailed, err)
		}
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return out, nil
}

func (a *Aggregator) record(ctx context.Context, name string, started time.Time, n int, err error) {
	if a.runs == nil {
		return
	}
	run := store.Run{
		Source:     name,
		Status:     store.RunSucceeded,
		Articles:   n,
		StartedAt:  started,
		FinishedAt: a.now(),
	}
	if err != nil {
		run.Status = store.RunFailed
		run.Articles = 0
		run.Error = err.Error()
	}
	if rerr := a.runs.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
		a.logger.Warn("record fetch run failed", "source", name, "error", rerr)
	}
}
