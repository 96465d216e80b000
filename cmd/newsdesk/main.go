// Newsdesk ingests articles from news providers into a shared store.
//
// Usage:
//
//	newsdesk setup [--fresh] [--fetch]   # create tables, optionally fetch
//	newsdesk fetch [--source newsapi]    # fetch from one or all sources
//	newsdesk schedule [--interval 1h]    # fetch periodically
//	newsdesk runs [--limit 20]           # recent fetch runs
//	newsdesk version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/aggregator"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/config"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/scheduler"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/pkg/logging"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "newsdesk",
		Short:         "News aggregation pipeline",
		Long:          "Newsdesk fetches articles from NewsAPI, The Guardian, The New York Times and RSS feeds and stores them for the read API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $NEWSDESK_CONFIG or newsdesk.yaml)")

	rootCmd.AddCommand(fetchCmd(&configPath))
	rootCmd.AddCommand(setupCmd(&configPath))
	rootCmd.AddCommand(scheduleCmd(&configPath))
	rootCmd.AddCommand(runsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app bundles what every command needs.
type app struct {
	cfg   config.Config
	store *store.Store
	agg   *aggregator.Aggregator
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	reg := cfg.Registry(sources.NewAPIClient(cfg.HTTP))
	agg := aggregator.New(reg, st,
		aggregator.WithConfig(cfg.Aggregator),
		aggregator.WithRunRecorder(st),
	)
	return &app{cfg: cfg, store: st, agg: agg}, nil
}

func (a *app) Close() error { return a.store.Close() }

func fetchCmd(configPath *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch articles from one or all sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if source != "" {
				n, err := a.agg.FetchFromSource(ctx, source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d articles from %s\n", n, source)
				return nil
			}

			res := a.agg.FetchAll(ctx)
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "only fetch this source (newsapi, guardian, nytimes, rss)")
	return cmd
}

func setupCmd(configPath *string) *cobra.Command {
	var fresh, fetch bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if fresh {
				if err := a.store.Reset(ctx); err != nil {
					return err
				}
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Database recreated")
			} else {
				fmt.Fprintln(out, "Database ready")
			}

			if fetch {
				printResult(out, a.agg.FetchAll(ctx))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "drop all tables first")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch from every source afterwards")
	return cmd
}

func scheduleCmd(configPath *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Fetch from every source periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Schedule.Interval
			}

			s := scheduler.New()
			s.Add(scheduler.Job{
				Name: "fetch-all",
				Fn: func(ctx context.Context) error {
					res := a.agg.FetchAll(ctx)
					if len(res.Success) == 0 && len(res.Failed) > 0 {
						return fmt.Errorf("%w: every source failed", sources.ErrFetchFailed)
					}
					return nil
				},
			})
			return s.Start(ctx, interval)
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Hour, "time between fetches")
	return cmd
}

func runsCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent fetch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "newsdesk %s\n", version)
		},
	}
}
