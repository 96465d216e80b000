package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrFetchFailed reports a transport error, timeout, non-success status or
// undecodable payload from a provider.
var ErrFetchFailed = errors.New("provider fetch failed")

const maxBodyBytes = 16 << 20

// ClientConfig configures the outbound HTTP client shared by the providers.
type ClientConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"HTTP_CONNECT_TIMEOUT"`
	Timeout        time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT"`
	Retries        int           `yaml:"retries" env:"HTTP_RETRIES"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"HTTP_RETRY_DELAY"`
	UserAgent      string        `yaml:"user_agent" env:"HTTP_USER_AGENT"`
}

// DefaultClientConfig returns the provider client defaults: 5s connect,
// 30s total, two retries starting at 500ms.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout: 5 * time.Second,
		Timeout:        30 * time.Second,
		Retries:        2,
		RetryDelay:     500 * time.Millisecond,
		UserAgent:      "Newsdesk/1.0 (+https://github.com/RobinCoderZhao/newsdesk)",
	}
}

// APIClient issues GET requests against provider APIs with bounded timeouts
// and retries on transient failures.
type APIClient struct {
	http   *http.Client
	cfg    ClientConfig
	logger *slog.Logger
}

// NewAPIClient creates a client from cfg, filling zero values from the defaults.
func NewAPIClient(cfg ClientConfig) *APIClient {
	def := DefaultClientConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return &APIClient{
		http:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Get fetches endpoint with params and returns the response body. Every
// error wraps ErrFetchFailed.
func (c *APIClient) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target = endpoint + sep + params.Encode()
	}
	display := redact(endpoint)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			c.logger.Warn("provider request failed, retrying",
				"url", display,
				"attempt", attempt,
				"max_retries", c.cfg.Retries,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: GET %s: %w", ErrFetchFailed, display, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, retry, err := c.do(ctx, target, display)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrFetchFailed, lastErr)
}

// GetJSON is Get followed by decoding the body into out.
func (c *APIClient) GetJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	body, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrFetchFailed, redact(endpoint), err)
	}
	return nil
}

// do performs one attempt and reports whether a failure is worth retrying.
func (c *APIClient) do(ctx context.Context, target, display string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, application/rss+xml, application/atom+xml, */*;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error embeds the full URL, including api keys
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, true, fmt.Errorf("GET %s: %w", display, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read %s: %w", display, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("GET %s: status %d: %s", display, resp.StatusCode, snippet(body))
	}
	return body, false, nil
}

func (c *APIClient) backoffDelay(attempt int) time.Duration {
	delay := float64(c.cfg.RetryDelay) * math.Pow(2, float64(attempt))
	maxDelay := 10 * time.Second
	if time.Duration(delay) > maxDelay {
		return maxDelay
	}
	return time.Duration(delay)
}

// redact drops the query string so api keys never reach logs or errors.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// joinURL appends path to base with exactly one slash between them.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
