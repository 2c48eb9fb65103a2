package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/tutor-orchestrator/internal/interface/http/handlers"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/retry"
)

// migrationStatus - строка вывода `migrate status`, общая для обоих драйверов.
type migrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt time.Time
}

type schemaMigrator interface {
	Migrate(ctx context.Context) (int, error)
	Rollback(ctx context.Context) (int, error)
}

// durableStore - durable-хранилище, выбранное DB_DRIVER.
type durableStore struct {
	sessions session.Repository
	teaching session.TeachingRepository
	feedback session.FeedbackRepository

	pinger   handlers.Pinger
	migrator schemaMigrator
	status   func(ctx context.Context) ([]migrationStatus, error)
	close    func()
}

func openDurable(ctx context.Context, cfg *config.Config, log *logger.Logger) (*durableStore, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		return openSQLite(ctx, cfg.Database, log)
	default:
		return openPostgres(ctx, cfg.Database, log)
	}
}

func openPostgres(ctx context.Context, dc config.DatabaseConfig, log *logger.Logger) (*durableStore, error) {
	pgCfg := postgres.DefaultConfig(dc.URL)
	if dc.MaxOpenConns > 0 {
		pgCfg.MaxConns = int32(dc.MaxOpenConns)
	}
	if dc.MaxIdleConns > 0 {
		pgCfg.MinConns = int32(dc.MaxIdleConns)
	}
	if dc.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = dc.ConnMaxLifetime
	}
	if dc.ConnMaxIdleTime > 0 {
		pgCfg.MaxConnIdleTime = dc.ConnMaxIdleTime
	}

	var conn *postgres.Connection
	err := connectRetrier(log, "postgres").Do(ctx, func(ctx context.Context) error {
		if _, err := pgCfg.PoolConfig(); err != nil {
			return retry.Permanent(err)
		}
		c, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	log.Info("connected to postgres")

	migrator := postgres.NewMigrator(conn)
	return &durableStore{
		sessions: postgres.NewSessionRepository(conn),
		teaching: postgres.NewTeachingRepository(conn),
		feedback: postgres.NewFeedbackRepository(conn),
		pinger:   conn,
		migrator: migrator,
		status: func(ctx context.Context) ([]migrationStatus, error) {
			list, err := migrator.Status(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]migrationStatus, 0, len(list))
			for _, m := range list {
				out = append(out, migrationStatus{m.Version, m.Name, m.IsApplied, m.AppliedAt})
			}
			return out, nil
		},
		close: conn.Close,
	}, nil
}

func openSQLite(ctx context.Context, dc config.DatabaseConfig, log *logger.Logger) (*durableStore, error) {
	store, err := sqlite.Open(ctx, dc.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	log.Info("opened sqlite store", logger.String("path", dc.SQLitePath))

	migrator := sqlite.NewMigrator(store)
	return &durableStore{
		sessions: store,
		teaching: store,
		feedback: store,
		pinger:   store,
		migrator: migrator,
		status: func(ctx context.Context) ([]migrationStatus, error) {
			list, err := migrator.Status(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]migrationStatus, 0, len(list))
			for _, m := range list {
				out = append(out, migrationStatus{m.Version, m.Name, m.IsApplied, m.AppliedAt})
			}
			return out, nil
		},
		close: func() { _ = store.Close() },
	}, nil
}
