// Package store holds the two embedded-SQL persistent stores the
// fingerprint engine snapshots to: the hashtable row blobs and the
// identifier multimap. Both are single-file SQLite databases opened
// through database/sql with the mattn/go-sqlite3 driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// sqliteBusyTimeoutMS is how long SQLite waits for a lock before returning
// SQLITE_BUSY.
const sqliteBusyTimeoutMS = 10000

// openSqlite opens path, applies the standard pragma set, and verifies the
// connection with a ping. A single connection is kept open (MaxOpenConns=1)
// so the per-connection PRAGMAs below apply to every statement the store
// issues.
func openSqlite(ctx context.Context, path string, walMode bool) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("store: open sqlite: path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := applyPragmas(ctx, db, walMode); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, walMode bool) error {
	journalMode := "DELETE"
	if walMode {
		journalMode = "WAL"
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = %s;
		PRAGMA synchronous = FULL;
		PRAGMA mmap_size = 268435456;
		PRAGMA cache_size = -20000;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeoutMS, journalMode))
	if err != nil {
		return fmt.Errorf("store: apply pragmas: %w", err)
	}

	return nil
}
