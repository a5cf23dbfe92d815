package db

import (
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationScheme is the database URL scheme registered by the pgx v5 driver.
const MigrationScheme = "pgx5"

func newMigrator(config Config) (*migrate.Migrate, error) {
	return newURLMigrator(config.URL(MigrationScheme))
}

func newURLMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrationURL(databaseURL))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create migrator")
	}
	return m, nil
}

// MigrationURL rewrites a postgres:// or postgresql:// URL to the scheme
// the migration driver registers. Other URLs are returned unchanged.
func MigrationURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return MigrationScheme + "://" + rest
		}
	}
	return databaseURL
}

func closeMigrator(m *migrate.Migrate, err error) error {
	srcErr, dbErr := m.Close()
	return errors.Join(err, srcErr, dbErr)
}

// RunMigrations applies every pending up migration. An up-to-date schema is
// not an error.
func RunMigrations(config Config) (err error) {
	m, err := newMigrator(config)
	if err != nil {
		return err
	}
	defer func() { err = closeMigrator(m, err) }()

	return up(m)
}

// MigrateURL applies every pending up migration to the database at the
// given URL.
func MigrateURL(databaseURL string) (err error) {
	m, err := newURLMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { err = closeMigrator(m, err) }()

	return up(m)
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return goerr.Wrap(err, "failed to apply migrations")
	}
	return nil
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(config Config) (err error) {
	m, err := newMigrator(config)
	if err != nil {
		return err
	}
	defer func() { err = closeMigrator(m, err) }()

	if err := m.Steps(-1); err != nil {
		return goerr.Wrap(err, "failed to roll back migration")
	}
	return nil
}

// MigrationVersion reports the applied version and whether it is dirty.
// Version 0 means no migration has run.
func MigrationVersion(config Config) (version uint, dirty bool, err error) {
	m, err := newMigrator(config)
	if err != nil {
		return 0, false, err
	}
	defer func() { err = closeMigrator(m, err) }()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, goerr.Wrap(err, "failed to read migration version")
	}
	return version, dirty, nil
}
