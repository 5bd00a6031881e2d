// Package database owns the schema. Migrations are embedded so both the
// migrate command and integration tests apply the exact same DDL.
package database

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Source returns the embedded migration source.
func Source() (source.Driver, error) {
	return iofs.New(migrations, "migrations")
}

// MigrateUp applies every pending migration against dsn.
func MigrateUp(dsn string) error {
	src, err := Source()
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
