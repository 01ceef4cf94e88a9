// Package journal records boot runs and the assets they staged in SQLite.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

// InitSchema applies the embedded migrations that the database has not seen
// yet and returns their names in the order they ran.
func InitSchema(ctx context.Context, db *sql.DB) ([]string, error) {
	sub, err := fs.Sub(migrationFiles, "migration")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	return migrate(ctx, db, sub)
}

// migrate runs every *.sql file of fsys in lexical order, each in its own
// transaction, and records it in schema_migrations.
func migrate(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration table: %w", err)
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		ran, err := applyMigration(ctx, db, fsys, name)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		if ran {
			applied = append(applied, name)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, fsys fs.FS, name string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var seen int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&seen)
	if err != nil {
		return false, err
	}
	if seen > 0 {
		return false, nil
	}

	schema, err := fs.ReadFile(fsys, name)
	if err != nil {
		return false, fmt.Errorf("failed to read migration file: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(schema)); err != nil {
		return false, fmt.Errorf("failed to execute schema: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		name, time.Now().Unix())
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// Open opens (creating if needed) the journal database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY between our own connections
	db.SetMaxOpenConns(1)

	applied, err := InitSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		slog.Default().DebugContext(ctx, "journal schema migrated", "path", path, "migrations", applied)
	}
	return db, nil
}
