// Package app assembles the reservation core from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"meetbook/internal/availability"
	"meetbook/internal/booking"
	"meetbook/internal/clock"
	"meetbook/internal/config"
	"meetbook/internal/conflict"
	"meetbook/internal/database"
	"meetbook/internal/events"
	"meetbook/internal/ledger"
	"meetbook/internal/redisledger"
	"meetbook/internal/service"
	"meetbook/internal/softlock"
	"meetbook/internal/workbook"
)

// App holds the wired components shared by every command.
type App struct {
	Config   *config.Config
	Store    ledger.Store
	Ledger   *ledger.Ledger
	Clock    clock.Clock
	Events   *events.EventBus
	Service  *service.ReservationService
	Workflow *booking.Workflow
	Logger   *zerolog.Logger
}

// OpenStore opens the ledger backend selected by cfg.Ledger.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (ledger.Store, error) {
	switch cfg.Ledger.Driver {
	case config.DriverMemory:
		return ledger.NewMemoryStore(), nil
	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Ledger.Path, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverWorkbook:
		return workbook.NewStore(cfg.Ledger.Path, logger), nil
	case config.DriverRedis:
		rs, err := redisledger.Dial(ctx, redisledger.Options{
			Address:  cfg.Ledger.Redis.Address,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
			Prefix:   cfg.Ledger.Redis.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

// New wires the core on top of an opened store.
func New(cfg *config.Config, store ledger.Store, clk clock.Clock, logger *zerolog.Logger) *App {
	l := ledger.New(store, logger, ledger.WithLocation(cfg.Location()))
	bus := events.NewEventBus(logger)

	lockOpts := []softlock.Option{softlock.OnExpired(func(rows int) {
		if err := bus.PublishJSON(events.HoldsExpired, map[string]int{"rows": rows}); err != nil {
			logger.Warn().Err(err).Msg("publish expired holds")
		}
	})}
	if ttl := cfg.SoftLockTTL(); ttl > 0 {
		lockOpts = append(lockOpts, softlock.WithTTL(ttl))
	}
	locks := softlock.NewManager(l, clk, logger, lockOpts...)

	var detectorOpts []conflict.Option
	if weeks, ok := cfg.HorizonWeeks(); ok {
		detectorOpts = append(detectorOpts, conflict.WithHorizonWeeks(weeks))
	}
	detector := conflict.NewDetector(l, locks, logger, detectorOpts...)
	resolver := availability.NewResolver(l, locks, logger)

	svc := service.NewReservationService(l, locks, detector, resolver, clk, bus, logger)
	wf := booking.NewWorkflow(svc, clk, logger, booking.WithSessionTimeout(cfg.SessionTimeout()))

	return &App{
		Config:   cfg,
		Store:    store,
		Ledger:   l,
		Clock:    clk,
		Events:   bus,
		Service:  svc,
		Workflow: wf,
		Logger:   logger,
	}
}

// Build opens the configured store and wires the core with the system clock.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return New(cfg, store, clock.NewSystem(), logger), nil
}

// BackupSource returns the ledger file for file-based drivers, "" otherwise.
func (a *App) BackupSource() string {
	switch a.Config.Ledger.Driver {
	case config.DriverSQLite, config.DriverWorkbook:
		return a.Config.Ledger.Path
	default:
		return ""
	}
}

// SyncCatalog writes c into the ledger and announces a change on the event bus.
func (a *App) SyncCatalog(ctx context.Context, c *config.Catalog) (config.SyncResult, error) {
	res, err := config.SyncCatalog(ctx, a.Ledger, c)
	if err != nil {
		return res, err
	}
	if res.Changed {
		if err := a.Events.PublishJSON(events.CatalogSynced, res); err != nil {
			a.Logger.Warn().Err(err).Msg("publish catalog sync")
		}
	}
	return res, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
