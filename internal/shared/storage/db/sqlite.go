package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

// DefaultSQLiteOptions keeps a single writer connection; sqlite serialises
// writes anyway and a shared in-memory database must not be split across
// connections.
func DefaultSQLiteOptions() Options {
	opts := DefaultMigrateOptions()
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return opts
}

// OpenSQLite opens (creating if needed) a sqlite database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	return open(ctx, "sqlite", dsn, opts, "sqlite init")
}
