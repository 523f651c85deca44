package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewMigrator returns a migrator for dsn. An empty sourceURL selects the
// migrations compiled into the binary; otherwise it is a migrate source URL
// such as file://internal/db/migrations.
func NewMigrator(dsn, sourceURL string) (*migrate.Migrate, error) {
	if sourceURL != "" {
		return migrate.New(sourceURL, dsn)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dsn)
}

// MigrateUp applies every pending up migration.
func MigrateUp(dsn, sourceURL string) error {
	return run(dsn, sourceURL, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(dsn, sourceURL string, steps int) error {
	if steps < 1 {
		return errors.New("steps must be positive")
	}
	return run(dsn, sourceURL, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func run(dsn, sourceURL string, step func(*migrate.Migrate) error) error {
	migrator, err := NewMigrator(dsn, sourceURL)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := step(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate failed: %w", err)
	}
	return nil
}
