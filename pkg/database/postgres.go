// Package database connects to the optional PostgreSQL job registry.
package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
)

const (
	applicationName = "ekaya-cadcheck"

	// Job rows are small; a registry query that runs this long is stuck.
	defaultStatementTimeout = 5 * time.Second
)

// DB is the connection pool backing the analysis job registry.
type DB struct {
	*pgxpool.Pool
}

// Config describes the registry connection.
type Config struct {
	URL string

	// MaxConnections bounds the pool. Workers, pollers and the retention
	// scheduler share it, so it should exceed the worker count.
	MaxConnections   int32
	StatementTimeout time.Duration
}

func poolConfig(cfg *Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pc.MaxConns = cfg.MaxConnections
	if pc.MaxConns <= 0 {
		pc.MaxConns = 10
	}
	pc.MinConns = 1
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute

	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = defaultStatementTimeout
	}
	rp := pc.ConnConfig.RuntimeParams
	if _, ok := rp["application_name"]; !ok {
		rp["application_name"] = applicationName
	}
	rp["statement_timeout"] = strconv.FormatInt(timeout.Milliseconds(), 10)
	return pc, nil
}

// Connect opens the pool and checks the server is reachable.
func Connect(ctx context.Context, cfg *Config) (*DB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Open connects and brings the job registry schema up to date.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	logger = logger.Named("database")
	logger.Info("Connecting to job registry",
		zap.String("url", logging.SanitizeConnectionString(cfg.URL)),
		zap.Int32("max_connections", cfg.MaxConnections))

	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// golang-migrate needs database/sql; borrow a handle over the same pool.
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	if err := RunMigrations(sqlDB, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
