// Command campwatch monitors campground availability and emails out changes.
//
// Usage:
//
//	campwatch run
//	campwatch serve
//	campwatch recipients
//	WATCH_FILE=watches.yaml campwatch run
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/campwatch/campwatch/internal/api"
	"github.com/campwatch/campwatch/internal/api/handler"
	"github.com/campwatch/campwatch/internal/availability"
	"github.com/campwatch/campwatch/internal/cache"
	"github.com/campwatch/campwatch/internal/config"
	"github.com/campwatch/campwatch/internal/db"
	"github.com/campwatch/campwatch/internal/dispatch"
	"github.com/campwatch/campwatch/internal/maintenance"
	"github.com/campwatch/campwatch/internal/metrics"
	"github.com/campwatch/campwatch/internal/provider"
	"github.com/campwatch/campwatch/internal/resultstore"
	"github.com/campwatch/campwatch/internal/watcher"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "campwatch",
		Short: "Campground availability watcher",
	}

	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(recipientsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// app holds the wired components every subcommand works from.
type app struct {
	cfg      *config.Config
	pool     *db.Pool
	registry *prometheus.Registry
	sink     *metrics.Sink
	store    *resultstore.Store
	watcher  *watcher.Watcher
	mux      *provider.Mux
}

// withApp handles config loading, DB connection, component wiring, and
// context cancellation for a subcommand body.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	sink := metrics.New(registry, logger)
	store := resultstore.New(pool.Pool, sink, logger)

	transport, err := dispatch.NewSMTPTransport(dispatch.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.FromAddress,
	}, logger)
	if err != nil {
		return fmt.Errorf("configure email transport: %w", err)
	}

	dispatcher := dispatch.New(transport, cfg.DispatchConcurrency, cfg.DispatchTimeout, logger)
	comparator := availability.NewComparator(logger)
	w := watcher.New(store, comparator, dispatcher, sink, logger)

	mux := provider.NewMux()
	mux.Register(provider.Name, provider.NewRecGovClient("", cfg.ProviderRateLimit, logger))
	mux.Register(provider.RCName, provider.NewRCClient("", cfg.ProviderRateLimit, logger))

	return fn(ctx, &app{
		cfg:      cfg,
		pool:     pool,
		registry: registry,
		sink:     sink,
		store:    store,
		watcher:  w,
		mux:      mux,
	})
}

// loadRecipients parses EMAIL_TO_ADDRESS into a validated recipient set.
// Invalid entries are logged and skipped; an empty result is fatal because a
// run without anyone to notify is a misconfiguration, not a quiet no-op.
func loadRecipients(cfg *config.Config, sink *metrics.Sink) (dispatch.RecipientSet, error) {
	valid, invalid, err := dispatch.ParseRecipients(cfg.NotifyTo)
	for _, addr := range invalid {
		logger.Warn("Skipping invalid recipient address", "address", metrics.MaskAddress(addr))
	}
	if err != nil {
		sink.RecordSecretFailure()
		return nil, fmt.Errorf("EMAIL_TO_ADDRESS: %w", err)
	}
	return valid, nil
}

// entities converts the configured watch list into watched entities.
func entities(cfg *config.Config) []availability.WatchedEntity {
	out := make([]availability.WatchedEntity, 0, len(cfg.WatchList))
	for _, w := range cfg.WatchList {
		out = append(out, availability.WatchedEntity{
			ID:       w.ID,
			Name:     w.Name,
			Provider: w.Provider,
		})
	}
	return out
}

// runOnce performs a single bounded check of every watched campground.
func runOnce(ctx context.Context, a *app, recipients dispatch.RecipientSet) watcher.RunResult {
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.RunTimeout)
	defer cancel()

	window := availability.WindowFromToday(a.cfg.SearchWindowDays)
	return a.watcher.RunAll(runCtx, a.mux, entities(a.cfg), window, recipients, watcher.RunConfig{
		Workers:       a.cfg.RunWorkers,
		EntityTimeout: a.cfg.EntityTimeout,
	})
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check every watched campground once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				recipients, err := loadRecipients(a.cfg, a.sink)
				if err != nil {
					return err
				}

				start := time.Now()
				result := runOnce(ctx, a, recipients)
				logger.Info("Check finished",
					"duration", time.Since(start).Round(time.Second),
					"summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("run error", "error", e)
				}
				if result.DispatchOutages > 0 {
					return fmt.Errorf("%d campground(s) changed but no notification was delivered", result.DispatchOutages)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler with the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				recipients, err := loadRecipients(a.cfg, a.sink)
				if err != nil {
					return err
				}

				appCache := cache.New(a.cfg.CacheEnabled)
				logger.Info("Cache initialized", "enabled", a.cfg.CacheEnabled)

				h := handler.New(a.pool, a.store, appCache, a.cfg, func(runCtx context.Context) watcher.RunResult {
					return runOnce(runCtx, a, recipients)
				})

				// Scheduled runs
				go func() {
					ticker := time.NewTicker(a.cfg.CheckInterval)
					defer ticker.Stop()
					for {
						result := runOnce(ctx, a, recipients)
						h.RecordRun(result)
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
						}
					}
				}()

				// Retention sweep for campgrounds dropped from the watch list
				go maintenance.Start(ctx, a.store, a.cfg.WatchList, maintenance.DefaultConfig(a.cfg), logger)

				router := api.NewRouter(h, a.registry, a.cfg)

				addr := fmt.Sprintf("%s:%d", a.cfg.APIHost, a.cfg.APIPort)
				srv := &http.Server{
					Addr:         addr,
					Handler:      router,
					ReadTimeout:  10 * time.Second,
					WriteTimeout: 30 * time.Second,
					IdleTimeout:  60 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					logger.Info("Starting campwatch",
						"addr", addr,
						"environment", a.cfg.Environment,
						"check_interval", a.cfg.CheckInterval,
						"watched", len(a.cfg.WatchList))
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						errCh <- err
					}
				}()

				select {
				case err := <-errCh:
					return fmt.Errorf("server failed: %w", err)
				case <-ctx.Done():
				}
				logger.Info("Shutting down...")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Shutdown error", "error", err)
				}
				logger.Info("Server stopped")
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// recipients command
// --------------------------------------------------------------------------

func recipientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recipients",
		Short: "Validate the configured notification recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			// No database or full config needed; validate straight from
			// the environment.
			valid, invalid, err := dispatch.ParseRecipients(os.Getenv("EMAIL_TO_ADDRESS"))
			for _, addr := range invalid {
				fmt.Printf("invalid: %s\n", addr)
			}
			if err != nil {
				return fmt.Errorf("EMAIL_TO_ADDRESS: %w", err)
			}
			for _, addr := range valid {
				fmt.Printf("ok:      %s\n", addr)
			}
			fmt.Printf("%d valid, %d invalid\n", len(valid), len(invalid))
			return nil
		},
	}
}
