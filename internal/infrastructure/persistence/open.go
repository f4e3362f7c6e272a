// Package persistence selects and opens the configured score store.
package persistence

import (
	"context"
	"fmt"

	"github.com/score-portal/score-portal/config"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/memory"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/postgres"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/sqlite"
	"github.com/score-portal/score-portal/pkg/logger"
	"github.com/score-portal/score-portal/pkg/retry"
)

// Backend is an opened store together with its lifecycle hooks.
type Backend struct {
	Store  score.Store
	Driver string

	ping     func(context.Context) error
	close    func() error
	migrator *postgres.Migrator
}

// Open connects to the store named by cfg.Driver. Postgres connections are
// retried with retry.DatabaseRetrier; sqlite and memory stores create their
// schema on open.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("storage"), logger.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig(cfg.URL)
		pgCfg.MaxConns = cfg.MaxConns
		pgCfg.MinConns = cfg.MinConns
		pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		var conn *postgres.Connection
		err := retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
			var err error
			conn, err = postgres.NewConnection(ctx, pgCfg)
			if err != nil {
				log.Warn("postgres not reachable yet", logger.Err(err))
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := postgres.NewStore(conn)
		log.Info("postgres store opened")
		return &Backend{
			Store:    store,
			Driver:   cfg.Driver,
			ping:     store.Ping,
			close:    store.Close,
			migrator: postgres.NewMigrator(conn),
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("sqlite store opened", logger.String("path", cfg.SQLitePath))
		return &Backend{Store: store, Driver: cfg.Driver, ping: store.Ping, close: store.Close}, nil

	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		return &Backend{
			Store:  memory.NewStore(),
			Driver: cfg.Driver,
			ping:   func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Ping checks that the store is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// Close releases the store.
func (b *Backend) Close() error {
	return b.close()
}

// Migrate applies pending migrations and returns how many ran. Stores
// without versioned migrations report zero.
func (b *Backend) Migrate(ctx context.Context) (int, error) {
	if b.migrator == nil {
		return 0, nil
	}
	return b.migrator.Migrate(ctx)
}

// Rollback reverts the latest migration.
func (b *Backend) Rollback(ctx context.Context) error {
	if b.migrator == nil {
		return fmt.Errorf("%s store has no versioned migrations", b.Driver)
	}
	return b.migrator.Rollback(ctx)
}

// MigrationStatus lists every known migration and whether it ran.
func (b *Backend) MigrationStatus(ctx context.Context) ([]postgres.Migration, error) {
	if b.migrator == nil {
		return []postgres.Migration{}, nil
	}
	return b.migrator.Status(ctx)
}
