package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/config"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	"github.com/helpdeskhq/ticket-triage/internal/repository/postgres"
	"github.com/helpdeskhq/ticket-triage/internal/repository/sqlite"
)

// Backend is an opened store together with the handle that owns its connections.
type Backend struct {
	Store    repository.Store
	Driver   string
	postgres *Postgres
	sqlite   *sqlite.DB
}

// OpenStore connects the backend selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := RunMigrations(ctx, pg.Pool, Migrations(), logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return &Backend{Store: postgres.NewStore(pg.Pool), Driver: cfg.Store.Driver, postgres: pg}, nil
	case config.StoreDriverSQLite:
		db, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite store", zap.String("path", cfg.SQLite.Path))
		return &Backend{Store: db.Store(), Driver: cfg.Store.Driver, sqlite: db}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Ping checks the underlying database.
func (b *Backend) Ping(ctx context.Context) error {
	if b.postgres != nil {
		return b.postgres.Ping(ctx)
	}
	if b.sqlite != nil {
		return b.sqlite.Ping(ctx)
	}
	return fmt.Errorf("store not opened")
}

// Close releases connections.
func (b *Backend) Close() {
	if b == nil {
		return
	}
	if b.postgres != nil {
		b.postgres.Close()
	}
	if b.sqlite != nil {
		_ = b.sqlite.Close()
	}
}
