package app

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

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sheetbridge/sheetbridge/internal/api"
	"github.com/sheetbridge/sheetbridge/internal/channel"
	"github.com/sheetbridge/sheetbridge/internal/config"
	"github.com/sheetbridge/sheetbridge/internal/creds"
	"github.com/sheetbridge/sheetbridge/internal/drive"
	"github.com/sheetbridge/sheetbridge/internal/httpclient"
	"github.com/sheetbridge/sheetbridge/internal/rates"
	"github.com/sheetbridge/sheetbridge/internal/sheets"
	"github.com/sheetbridge/sheetbridge/internal/store"
	"github.com/sheetbridge/sheetbridge/internal/syncer"
	"github.com/sheetbridge/sheetbridge/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	Long: `Start the webhook server and the channel renewal scheduler.

The server requires a configuration file (--config) that specifies:
- The spreadsheet id and row range to mirror
- The watch callback URL registered with the notification service
- Database connection settings

See examples/ directory for a sample configuration.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	// The sync pipeline runs on the webhook request path, so the request
	// timeout has to cover a full sheet fetch plus rate lookups.
	serverRequestTimeout = 30 * time.Second
	serverReadTimeout    = 10 * time.Second
	serverWriteTimeout   = 35 * time.Second // must exceed serverRequestTimeout
	serverIdleTimeout    = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		panic(err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	address := cfg.Address
	if flagAddr := viper.GetString("address"); flagAddr != "" {
		address = flagAddr
	}

	slog.Info("Starting sheetbridge server",
		"address", address,
		"spreadsheet_id", cfg.Spreadsheet.ID,
		"file_id", cfg.GetFileID())

	// Database pool.
	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	st, err := store.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// Remote API clients. The watch and spreadsheet APIs share the bearer
	// credential; the rate feed is public.
	token, err := cfg.Credentials.GetToken()
	if err != nil {
		return err
	}
	credProvider, err := creds.NewStaticProvider(token)
	if err != nil {
		return err
	}
	apiHTTP := httpclient.NewDefaultClient(httpclient.WithCredentials(credProvider))
	feedHTTP := httpclient.NewDefaultClient()

	driveClient, err := drive.NewClient(cfg.Watch.Endpoint, apiHTTP)
	if err != nil {
		return fmt.Errorf("failed to create watch client: %w", err)
	}
	sheetClient, err := sheets.NewClient(cfg.Spreadsheet.Endpoint, apiHTTP)
	if err != nil {
		return fmt.Errorf("failed to create spreadsheet client: %w", err)
	}
	rateClient, err := rates.NewClient(cfg.Rates.Endpoint, cfg.Rates.CurrencyID, feedHTTP)
	if err != nil {
		return fmt.Errorf("failed to create rate client: %w", err)
	}

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := telemetry.NewSyncMetrics(registry)
	reconcileMetrics := telemetry.NewReconcileMetrics(registry)

	// Sync pipeline.
	pipeline, err := syncer.NewPipeline(
		sheetClient, rateClient, st,
		cfg.Spreadsheet.ID, cfg.Spreadsheet.Range,
		syncer.WithSyncMetrics(syncMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync pipeline: %w", err)
	}

	// Channel lifecycle: the scheduler re-runs reconciliation at every
	// renewal deadline; reconciliation arms the next deadline.
	scheduler := channel.NewScheduler(channel.WithRetryInterval(cfg.GetRetryInterval()))
	reconciler, err := channel.NewReconciler(
		st, driveClient, scheduler,
		cfg.GetFileID(), cfg.Watch.CallbackURL,
		channel.WithReconcileMetrics(reconcileMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go func() {
		if err := scheduler.Start(schedCtx, func(ctx context.Context) error {
			_, err := reconciler.Reconcile(ctx)
			return err
		}); err != nil {
			slog.Error("Renewal scheduler failed", "error", err)
		}
	}()

	if _, err := reconciler.Reconcile(ctx); err != nil {
		// The server can still receive notifications for an existing
		// channel; the scheduler retries until a channel is established.
		slog.Error("Initial channel reconciliation failed, will retry",
			"error", err,
			"retry_in", cfg.GetRetryInterval())
		scheduler.Arm(time.Now().Add(cfg.GetRetryInterval()))
	}

	router := api.NewServer(pipeline, st,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
		api.WithMetricsGatherer(registry),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	if err := scheduler.Stop(); err != nil {
		slog.Error("Failed to stop renewal scheduler", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
