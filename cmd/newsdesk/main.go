package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/newsdesk/internal/alert"
	"github.com/hazz-dev/newsdesk/internal/config"
	"github.com/hazz-dev/newsdesk/internal/dashboard"
	"github.com/hazz-dev/newsdesk/internal/newsapi"
	"github.com/hazz-dev/newsdesk/internal/probe"
	"github.com/hazz-dev/newsdesk/internal/scheduler"
	"github.com/hazz-dev/newsdesk/internal/server"
	"github.com/hazz-dev/newsdesk/internal/storage"
	"github.com/hazz-dev/newsdesk/internal/version"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "newsdesk",
		Short:        "News front-end backend with connectivity-aware widgets",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(subscribeCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) (*newsapi.Client, error) {
	return newsapi.New(newsapi.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout.Duration,
		HTTP2:   cfg.API.HTTP2,
		Headers: cfg.API.Headers,
	}, logger)
}

func newProber(cfg *config.Config, api *newsapi.Client, store probe.Store, logger *slog.Logger) *probe.Prober {
	return probe.New(probe.Options{
		URL:      cfg.ProbeURL(),
		Interval: cfg.Probe.Interval.Duration,
		Timeout:  cfg.Probe.Timeout.Duration,
		Headers:  cfg.API.Headers,
		Client:   api.HTTPClient(),
	}, store, logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prober, widgets, and HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	// 1. Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Info("config loaded", "widgets", len(cfg.Widgets), "api", cfg.API.BaseURL)

	// 2. Open SQLite
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 3. API client shared by widgets and the prober
	api, err := newAPIClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}
	defer api.Close()

	// 4. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 5. Start prober, with alerts if configured
	prober := newProber(cfg, api, db, logger)
	if cfg.Alerts.Webhook.URL != "" {
		alerter := alert.New(cfg.Alerts.Webhook.URL, cfg.ProbeURL(), cfg.Alerts.Webhook.Cooldown.Duration, logger)
		prober.Subscribe(alerter.Notify)
	}
	prober.Start(ctx)
	defer prober.Stop()
	logger.Info("prober started", "url", cfg.ProbeURL(), "interval", cfg.Probe.Interval.Duration)

	// 6. Bind widgets and record their outcomes
	reg := widget.New(cfg.Widgets, prober, api, logger)
	defer reg.Close()
	recorded := recordFetches(ctx, reg, db, logger)

	// 7. Start refresh scheduler
	sched := scheduler.New(cfg.Widgets, reg, logger)
	sched.Start(ctx)

	// 8. Mount routes on a single mux
	apiServer := server.New(prober, reg, db, logger)
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Router())
	mux.Handle("/", dashboard.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	// 9. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 10. Wait for signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 11. Graceful shutdown
	sched.Wait()
	<-recorded

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

type fetchRecorder interface {
	InsertFetch(ctx context.Context, v widget.View) error
}

// recordFetches persists widget transitions until ctx is done. The returned
// channel is closed once the writer has exited.
func recordFetches(ctx context.Context, reg *widget.Registry, store fetchRecorder, logger *slog.Logger) <-chan struct{} {
	views := make(chan widget.View, 64)
	unsubscribe := reg.Subscribe(func(v widget.View) {
		select {
		case views <- v:
		default:
			logger.Warn("fetch history backlog full, dropping", "widget", v.Name)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-views:
				if err := store.InsertFetch(ctx, v); err != nil {
					logger.Error("storing fetch outcome", "widget", v.Name, "error", err)
				}
			}
		}
	}()
	return done
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe connectivity once and fetch every widget",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return executeCheck(cmd, cfg)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print stored connectivity and widget history",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db)
}

func subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <email>",
		Short: "Sign an address up for the newsletter",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubscribe,
	}
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	api, err := newAPIClient(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}
	defer api.Close()

	if err := api.Subscribe(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Subscribed %s\n", args[0])
	return nil
}
