// Package migrations embeds the database schema and applies it with golang-migrate.
//
// Schemas are shipped for postgres, mysql, mariadb and sqlite. Oracle and SQL
// Server deployments provision the same tables out of band.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/oagudo/newsletter/internal/logging"
)

//go:embed postgres/*.sql mysql/*.sql mariadb/*.sql sqlite/*.sql
var files embed.FS

// ErrUnsupportedDialect is returned for dialects without embedded migrations.
var ErrUnsupportedDialect = errors.New("no embedded migrations for dialect")

// Up applies every pending migration for dialect to db.
// A database that is already up to date is not an error.
func Up(db *sql.DB, dialect string) error {
	driver, err := databaseDriver(db, dialect)
	if err != nil {
		return err
	}

	src, err := iofs.New(files, dialect)
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	// m.Close is not called: it would close db, which belongs to the caller.
	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	err = m.Up()
	switch {
	case err == nil:
		logging.Info().Str("dialect", dialect).Msg("database migrations applied")
		return nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		return nil
	default:
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("database is dirty at version %d, manual fix required: %w", dirty.Version, err)
		}
		return fmt.Errorf("applying migrations: %w", err)
	}
}

func databaseDriver(db *sql.DB, dialect string) (database.Driver, error) {
	var (
		driver database.Driver
		err    error
	)

	switch dialect {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "mysql", "mariadb":
		driver, err = mysql.WithInstance(db, &mysql.Config{})
	case "sqlite":
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s migration driver: %w", dialect, err)
	}
	return driver, nil
}
