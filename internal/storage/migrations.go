package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	var gooseDialect database.Dialect
	switch dialect {
	case DialectSQLite:
		gooseDialect = database.DialectSQLite3
	case DialectMySQL:
		gooseDialect = database.DialectMySQL
	case DialectPostgres:
		gooseDialect = database.DialectPostgres
	default:
		return fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	provider, err := goose.NewProvider(gooseDialect, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
