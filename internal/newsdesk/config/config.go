// Package config holds the newsdesk application configuration.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/api"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/aggregator"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	appconfig "github.com/RobinCoderZhao/newsdesk/pkg/config"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// DefaultPath is the config file read when neither --config nor
// NEWSDESK_CONFIG is set.
const DefaultPath = "newsdesk.yaml"

// Config is the main configuration shared by the CLI and the API server.
type Config struct {
	Database   storage.Config       `yaml:"database"`
	Log        LogConfig            `yaml:"log"`
	HTTP       sources.ClientConfig `yaml:"http"`
	Providers  ProvidersConfig      `yaml:"providers"`
	Aggregator aggregator.Config    `yaml:"aggregator"`
	Schedule   ScheduleConfig       `yaml:"schedule"`
	API        api.Config           `yaml:"api"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text or json
}

// ProvidersConfig configures each provider adapter.
type ProvidersConfig struct {
	NewsAPI  sources.NewsAPIConfig  `yaml:"newsapi"`
	Guardian sources.GuardianConfig `yaml:"guardian"`
	NYTimes  sources.NYTimesConfig  `yaml:"nytimes"`
	RSS      sources.RSSConfig      `yaml:"rss"`
}

// ScheduleConfig configures `newsdesk schedule`.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" env:"FETCH_INTERVAL"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Database: storage.Config{
			Driver: storage.SQLite,
			DSN:    "newsdesk.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: sources.DefaultClientConfig(),
		Providers: ProvidersConfig{
			NewsAPI:  sources.DefaultNewsAPIConfig(),
			Guardian: sources.DefaultGuardianConfig(),
			NYTimes:  sources.DefaultNYTimesConfig(),
			RSS:      sources.RSSConfig{Enabled: true},
		},
		Aggregator: aggregator.DefaultConfig(),
		Schedule:   ScheduleConfig{Interval: time.Hour},
		API:        api.DefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path falls back to
// NEWSDESK_CONFIG and then DefaultPath; a missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("NEWSDESK_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()
	if err := appconfig.LoadOrDefault(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Registry builds the provider registry for the enabled providers. The
// feed adapter is registered only when feeds are configured.
func (c Config) Registry(client *sources.APIClient) *sources.Registry {
	reg := sources.NewRegistry()
	p := c.Providers
	if p.NewsAPI.Enabled {
		warnMissingKey("newsapi", p.NewsAPI.APIKey, "NEWS_API_KEY")
		reg.Register(sources.NewNewsAPI(p.NewsAPI, client))
	}
	if p.Guardian.Enabled {
		warnMissingKey("guardian", p.Guardian.APIKey, "GUARDIAN_API_KEY")
		reg.Register(sources.NewGuardian(p.Guardian, client))
	}
	if p.NYTimes.Enabled {
		warnMissingKey("nytimes", p.NYTimes.APIKey, "NYT_API_KEY")
		reg.Register(sources.NewNYTimes(p.NYTimes, client))
	}
	if p.RSS.Enabled && len(p.RSS.Feeds) > 0 {
		reg.Register(sources.NewRSS(p.RSS.Feeds, client))
	}
	return reg
}

func warnMissingKey(source, key, env string) {
	if key == "" {
		slog.Warn("provider has no api key, requests will be rejected", "source", source, "env", env)
	}
}
