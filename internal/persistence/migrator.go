package persistence

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded SQL migrations with golang-migrate.
// File naming: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	m      *migrate.Migrate
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, logger zerolog.Logger) (*Migrator, error) {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("init postgres migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}

	return &Migrator{m: m, logger: logger}, nil
}

// Up applies all pending up-migrations in order.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.logger.Info().Msg("schema up to date")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	version, _, _ := mg.m.Version()
	mg.logger.Info().Uint("version", version).Msg("applied migrations")
	return nil
}

// Down rolls back the last applied migration.
func (mg *Migrator) Down() error {
	if err := mg.m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, migrate.ErrNilVersion) || errors.Is(err, os.ErrNotExist) {
			mg.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	version, _, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		mg.logger.Info().Msg("rolled back to empty schema")
		return nil
	}
	mg.logger.Info().Uint("version", version).Msg("rolled back one migration")
	return nil
}

// Version returns the current schema version. A dirty schema needs manual repair.
func (mg *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the source and database handles held by golang-migrate.
// The underlying *sql.DB is closed too.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
