package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrator builds a migrate instance on top of the open connection.
// The caller must not Close the returned instance since that would close
// the shared *sql.DB as well.
func (db *DB) newMigrator() (*migrate.Migrate, func() error, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, source.Close, nil
}

// Migrate applies all pending migrations.
// Returns without error if the schema is already current.
func (db *DB) Migrate() error {
	m, closeSource, err := db.newMigrator()
	if err != nil {
		return err
	}
	defer closeSource()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied migration version
func (db *DB) SchemaVersion() (uint, bool, error) {
	m, closeSource, err := db.newMigrator()
	if err != nil {
		return 0, false, err
	}
	defer closeSource()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}
