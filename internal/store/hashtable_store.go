package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mrtcode/title-fingerprint-db/internal/slotstore"
)

// HashtableStore persists hashtable row blobs: one row per table
// `hashtable(id INTEGER PRIMARY KEY, data BLOB)`, where data is the
// byte-concatenation of a row's slots in insertion order (see
// slotstore.EncodeSlots).
type HashtableStore struct {
	db *sql.DB
}

// OpenHashtableStore opens (creating if necessary) the hashtable snapshot
// database at path.
func OpenHashtableStore(ctx context.Context, path string) (*HashtableStore, error) {
	db, err := openSqlite(ctx, path, false)
	if err != nil {
		return nil, err
	}

	const schema = `CREATE TABLE IF NOT EXISTS hashtable (id INTEGER PRIMARY KEY, data BLOB);`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("store: create hashtable schema: %w", err)
	}

	return &HashtableStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *HashtableStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close hashtable store: %w", err)
	}

	return nil
}

// LoadAll invokes fn once per stored row, in no particular order. Used at
// startup to repopulate a fresh slotstore.Table.
func (s *HashtableStore) LoadAll(ctx context.Context, fn func(rowIdx uint32, slots []slotstore.Slot) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM hashtable`)
	if err != nil {
		return fmt.Errorf("store: query hashtable: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   uint32
			data []byte
		)

		if err := rows.Scan(&id, &data); err != nil {
			return fmt.Errorf("store: scan hashtable row: %w", err)
		}

		if err := fn(id, slotstore.DecodeSlots(data)); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate hashtable rows: %w", err)
	}

	return nil
}

// SaveTx is a single upsert-every-dirty-row transaction. Create one with
// BeginSave, Put every dirty row, then Commit. Rows are only marked clean by
// the caller (see package engine) once Commit succeeds, so a failed save
// leaves them dirty for the next cycle.
type SaveTx struct {
	tx   *sql.Tx
	stmt *sql.Stmt
}

// BeginSave starts a new save transaction with its upsert statement
// prepared.
func (s *HashtableStore) BeginSave(ctx context.Context) (*SaveTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin hashtable save: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO hashtable (id, data) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()

		return nil, fmt.Errorf("store: prepare hashtable upsert: %w", err)
	}

	return &SaveTx{tx: tx, stmt: stmt}, nil
}

// Put upserts one row's encoded slot blob.
func (tx *SaveTx) Put(ctx context.Context, rowIdx uint32, blob []byte) error {
	if _, err := tx.stmt.ExecContext(ctx, rowIdx, blob); err != nil {
		return fmt.Errorf("store: upsert hashtable row %d: %w", rowIdx, err)
	}

	return nil
}

// Commit finalizes the statement and commits the transaction.
func (tx *SaveTx) Commit() error {
	_ = tx.stmt.Close()

	if err := tx.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit hashtable save: %w", err)
	}

	return nil
}

// Rollback aborts the transaction. Safe to call after a failed Put.
func (tx *SaveTx) Rollback() error {
	_ = tx.stmt.Close()

	if err := tx.tx.Rollback(); err != nil {
		return fmt.Errorf("store: rollback hashtable save: %w", err)
	}

	return nil
}
