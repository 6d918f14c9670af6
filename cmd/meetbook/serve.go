package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"meetbook/internal/api"
	"meetbook/internal/app"
	"meetbook/internal/config"
	"meetbook/internal/database"
	"meetbook/internal/google"
	"meetbook/internal/metrics"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reservation API with its background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, logger, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a, logger)
		},
	}
}

func serve(ctx context.Context, a *app.App, logger *zerolog.Logger) error {
	cfg := a.Config

	// The first catalog load must succeed before the API accepts requests.
	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	res, err := a.SyncCatalog(ctx, catalog)
	if err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	logger.Info().Str("catalog", catalog.String()).Stringer("sync", res).Msg("catalog synced")

	err = config.WatchCatalog(ctx, cfg.Catalog.Path, cfg.CatalogWatchInterval(),
		func(c *config.Catalog) {
			res, err := a.SyncCatalog(ctx, c)
			if err != nil {
				logger.Error().Err(err).Msg("catalog sync failed")
				return
			}
			logger.Info().Str("catalog", c.String()).Stringer("sync", res).Msg("catalog reloaded")
		},
		func(err error) {
			logger.Error().Err(err).Str("path", cfg.Catalog.Path).Msg("catalog reload rejected, keeping previous catalog")
		})
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}

	go runSessionCleanup(ctx, a, logger)
	go runHoldSweep(ctx, a, logger)

	if src := a.BackupSource(); src != "" && cfg.Backup.Enabled {
		backups := database.NewBackupService(src, cfg.Backup, a.Clock, logger)
		go backups.Start(ctx)
	}

	if cfg.GoogleSheets.Enabled {
		creds, err := google.CredentialsOption(ctx, cfg.GoogleSheets.CredentialsFile)
		if err != nil {
			return fmt.Errorf("google credentials: %w", err)
		}
		mirror, err := google.NewSheetsService(ctx, a.Ledger, cfg.GoogleSheets.SpreadsheetID, logger, creds)
		if err != nil {
			return fmt.Errorf("google sheets: %w", err)
		}
		mirror.Subscribe(a.Events)
		go mirror.Start(ctx, cfg.SheetsSyncInterval())
	}

	sharedMetrics := cfg.Monitoring.PrometheusEnabled && cfg.Monitoring.PrometheusPort == cfg.Monitoring.HealthCheckPort
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}
	go func() {
		logListenError(listen(ctx, "health", cfg.Monitoring.HealthCheckPort, api.HealthHandler(a.Service.Probe, sharedMetrics)), logger)
	}()
	if cfg.Monitoring.PrometheusEnabled && !sharedMetrics {
		go func() {
			logListenError(listen(ctx, "metrics", cfg.Monitoring.PrometheusPort, api.HealthHandler(a.Service.Probe, true)), logger)
		}()
	}

	server := api.NewHTTPServer(a.Service, a.Workflow, api.RateConfig{
		PerSecond: cfg.HTTP.RateLimit,
		Burst:     cfg.HTTP.RateBurst,
	}, logger)
	router := httprouter.New()
	server.RegisterRoutes(router)

	logger.Info().Int("port", cfg.HTTP.Port).Str("driver", cfg.Ledger.Driver).Msg("meetbook started")
	if err := listen(ctx, "api", cfg.HTTP.Port, router); err != nil {
		return err
	}
	logger.Info().Msg("meetbook stopped")
	return nil
}

func runSessionCleanup(ctx context.Context, a *app.App, logger *zerolog.Logger) {
	ticker := time.NewTicker(a.Config.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Workflow.Cleanup(ctx); n > 0 {
				logger.Debug().Int("sessions", n).Msg("expired booking sessions cleaned up")
			}
		}
	}
}

func runHoldSweep(ctx context.Context, a *app.App, logger *zerolog.Logger) {
	ticker := time.NewTicker(a.Service.HoldTTL())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Service.SweepExpiredHolds(ctx); err != nil {
				logger.Warn().Err(err).Msg("hold sweep failed")
			}
		}
	}
}

// listen blocks until ctx is done and the server has shut down. A server
// that cannot bind or fails while serving returns the error immediately.
func listen(ctx context.Context, name string, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	<-done
	return nil
}

func logListenError(err error, logger *zerolog.Logger) {
	if err != nil {
		logger.Error().Err(err).Msg("server error")
	}
}
