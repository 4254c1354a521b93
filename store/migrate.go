package store

import (
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens a database handle for the given driver ("sqlite" or
// "postgres") and DSN.
func Open(driver, dsn string) (*sql.DB, error) {
	name, _, err := dialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "[Open] %s", driver)
	}
	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(db *sql.DB, driver string) error {
	_, gooseDialect, err := dialect(driver)
	if err != nil {
		return err
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return errors.Wrap(err, "[Migrate] set dialect")
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName("schema_migrations")
	if err := goose.Up(db, "migrations"); err != nil {
		return errors.Wrap(err, "[Migrate] goose up")
	}
	return nil
}

// dialect maps a configured driver to its sql.Open name and goose dialect.
func dialect(driver string) (driverName, gooseDialect string, err error) {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite", "sqlite3", nil
	case "postgres", "pgx":
		return "pgx", "postgres", nil
	}
	return "", "", errors.Errorf("[dialect] unsupported store driver %q", driver)
}
