package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/migrations"
)

// migrationsTable keeps the registry's schema version apart from other
// applications sharing the database.
const migrationsTable = "cadcheck_schema_migrations"

// RunMigrations applies the embedded job registry migrations. Only pending
// migrations run, so it is safe on every startup.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	// Closing m would also close db, which the caller owns.
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("Failed to close migration source", zap.Error(err))
		}
	}()

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if version, dirty, err := m.Version(); err == nil && dirty {
		return fmt.Errorf("job registry schema is dirty at version %d; fix it by hand before restarting", version)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Job registry schema is up to date")
		return nil
	case err != nil:
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Applied job registry migrations", zap.Uint("version", version))
	return nil
}
