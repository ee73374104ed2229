package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialect names. Each dialect has its own migration directory under files/.
const (
	SQLite = "sqlite"
	MySQL  = "mysql"
)

//go:embed files/sqlite/*.sql files/mysql/*.sql
var migrationFiles embed.FS

// CheckDBMigrationStatus verifies that the shard schema is up-to-date.
// Returns nil if the database is at the latest version.
func CheckDBMigrationStatus(db *sql.DB, dialect string) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db, which the caller owns.

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("database has no schema version (needs migration)")
		}
		return fmt.Errorf("failed to get database version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", version)
	}

	sourceDriver, err := newSource(dialect)
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	defer sourceDriver.Close()

	latestVersion, err := getLatestVersion(sourceDriver)
	if err != nil {
		return fmt.Errorf("failed to determine latest version: %w", err)
	}

	if version < latestVersion {
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			version, latestVersion, latestVersion-version)
	}
	if version > latestVersion {
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			version, latestVersion)
	}
	return nil
}

// MigrateUp runs all pending migrations. An up-to-date database is not an error.
func MigrateUp(db *sql.DB, dialect string) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func newSource(dialect string) (source.Driver, error) {
	switch dialect {
	case SQLite, MySQL:
		return iofs.New(migrationFiles, "files/"+dialect)
	default:
		return nil, fmt.Errorf("unknown dialect: %s", dialect)
	}
}

func newDatabaseDriver(db *sql.DB, dialect string) (database.Driver, string, error) {
	switch dialect {
	case SQLite:
		d, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		return d, "sqlite3", err
	case MySQL:
		d, err := migratemysql.WithInstance(db, &migratemysql.Config{})
		return d, "mysql", err
	default:
		return nil, "", fmt.Errorf("unknown dialect: %s", dialect)
	}
}

func newMigrate(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	sourceDriver, err := newSource(dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, name, err := newDatabaseDriver(db, dialect)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, name, dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// getLatestVersion returns the highest version number available in src.
func getLatestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	latest := version
	for {
		next, err := src.Next(latest)
		if err != nil {
			// Next fails once there are no more migrations.
			break
		}
		latest = next
	}
	return latest, nil
}
