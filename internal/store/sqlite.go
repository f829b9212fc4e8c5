package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists to a single SQLite file.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (and creates) the SQLite database at the DSN path.
// Missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite: database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("sqlite: create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.DSN, err)
	}
	// One writer at a time; concurrent writers would hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	base, err := migrate(db, sqliteMigrations, dialectQuestion, "sqlite")
	if err != nil {
		slog.Error("NewSQLiteStore: failed to initialize", "dsn", cfg.DSN, "error", err)
		return nil, err
	}
	slog.Info("NewSQLiteStore: database ready", "dsn", cfg.DSN)
	return &SQLiteStore{sqlStore: base}, nil
}
