// Package db opens the configured store backend.
package db

import (
	"context"
	"fmt"

	"afms/internal/config"
	"afms/internal/core"
	"afms/internal/store/memory"
	"afms/internal/store/mongodb"
	"afms/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Handle is an open store plus the driver-specific schema setup.
type Handle struct {
	core.Store
	Driver string

	pool  *pgxpool.Pool
	mongo *mongodb.Store
	log   *zap.Logger
}

// Open connects to the store selected by cfg.StoreDriver. It does not touch
// the schema; call Migrate for that.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Handle, error) {
	h := &Handle{Driver: cfg.StoreDriver, log: log}
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to open postgres store: %w", err)
		}
		h.pool = pool
		h.Store = postgres.New(pool)
	case config.DriverMongo:
		s, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("unable to open mongo store: %w", err)
		}
		h.mongo = s
		h.Store = s
	case config.DriverMemory:
		log.Warn("using the in-memory store; data is lost on exit")
		h.Store = memory.New()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	log.Info("store opened", zap.String("driver", h.Driver))
	return h, nil
}

// Migrate brings the schema up to date: SQL migrations on Postgres, unique
// indexes on Mongo. It is safe to run on every start.
func (h *Handle) Migrate(ctx context.Context) ([]string, error) {
	switch {
	case h.pool != nil:
		return postgres.Migrate(ctx, h.pool, h.log)
	case h.mongo != nil:
		if err := h.mongo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return []string{"mongo indexes"}, nil
	}
	return nil, nil
}
