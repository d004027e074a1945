package store

import (
	"context"
	"database/sql"
	"fmt"
)

// IdentifiersPerMetaIDCap is the maximum number of identifiers
// IdentifierStore.Lookup returns for one meta_id.
const IdentifiersPerMetaIDCap = 50

// IdentifierStore persists the (meta_id, identifier) multimap: table
// `identifiers(meta_id INTEGER, identifier TEXT)` with a UNIQUE
// (meta_id, identifier) index, in WAL mode.
//
// Writes accumulate inside one long-running transaction (Insert), and a
// save (Flush) is a commit immediately followed by a new BEGIN: a single
// prepared INSERT OR IGNORE statement stays open across an entire save
// interval instead of paying a transaction per identifier.
//
// Reads go through a second connection (readDB). The write path holds a
// long-running transaction on its own connection, so a reader sharing that
// connection would block on it (or see uncommitted data) for up to the
// whole save interval.
type IdentifierStore struct {
	db     *sql.DB
	readDB *sql.DB

	tx         *sql.Tx
	insertStmt *sql.Stmt
	batchRows  int64
}

// OpenIdentifierStore opens (creating if necessary) the identifier database
// at path and returns the store along with the MAX(meta_id) currently on
// disk, which the engine uses to resume its meta_id counter.
func OpenIdentifierStore(ctx context.Context, path string) (*IdentifierStore, uint32, error) {
	db, err := openSqlite(ctx, path, true)
	if err != nil {
		return nil, 0, err
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS identifiers (meta_id INTEGER, identifier TEXT);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_identifiers_meta_id_identifier ON identifiers (meta_id, identifier);
		CREATE INDEX IF NOT EXISTS idx_identifiers_meta_id ON identifiers (meta_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, 0, fmt.Errorf("store: create identifiers schema: %w", err)
	}

	var lastMetaID sql.NullInt64

	row := db.QueryRowContext(ctx, `SELECT MAX(meta_id) FROM identifiers`)
	if err := row.Scan(&lastMetaID); err != nil {
		_ = db.Close()

		return nil, 0, fmt.Errorf("store: read max meta_id: %w", err)
	}

	readDB, err := openSqlite(ctx, path, true)
	if err != nil {
		_ = db.Close()

		return nil, 0, err
	}

	s := &IdentifierStore{db: db, readDB: readDB}

	if err := s.beginBatch(ctx); err != nil {
		_ = db.Close()
		_ = readDB.Close()

		return nil, 0, err
	}

	return s, uint32(lastMetaID.Int64), nil
}

func (s *IdentifierStore) beginBatch(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin identifiers batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO identifiers (meta_id, identifier) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("store: prepare identifiers insert: %w", err)
	}

	s.tx = tx
	s.insertStmt = stmt
	s.batchRows = 0

	return nil
}

// Insert buffers one (meta_id, identifier) pair into the open batch
// transaction. Duplicates (same meta_id+identifier already present) are
// silently ignored by the UNIQUE index.
func (s *IdentifierStore) Insert(ctx context.Context, metaID uint32, identifier string) error {
	if _, err := s.insertStmt.ExecContext(ctx, metaID, identifier); err != nil {
		return fmt.Errorf("store: insert identifier: %w", err)
	}

	s.batchRows++

	return nil
}

// BatchRows returns how many identifiers have been inserted since the last
// Flush. The saver uses this against its 50,000,000-row threshold.
func (s *IdentifierStore) BatchRows() int64 {
	return s.batchRows
}

// Flush commits the open batch transaction and immediately opens a new one,
// so writers never block waiting for a fresh BEGIN.
func (s *IdentifierStore) Flush(ctx context.Context) error {
	_ = s.insertStmt.Close()

	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit identifiers batch: %w", err)
	}

	return s.beginBatch(ctx)
}

// Lookup returns the up-to-IdentifiersPerMetaIDCap identifiers stored for
// metaID, comma-joined, via the dedicated read connection.
func (s *IdentifierStore) Lookup(ctx context.Context, metaID uint32) (string, error) {
	if metaID == 0 {
		return "", nil
	}

	const q = `
		SELECT GROUP_CONCAT(identifier) FROM (
			SELECT identifier FROM identifiers WHERE meta_id = ? LIMIT ?
		)
	`

	var joined sql.NullString

	row := s.readDB.QueryRowContext(ctx, q, metaID, IdentifiersPerMetaIDCap)
	if err := row.Scan(&joined); err != nil {
		return "", fmt.Errorf("store: lookup identifiers for meta_id %d: %w", metaID, err)
	}

	return joined.String, nil
}

// Close flushes the open batch and closes both connections.
func (s *IdentifierStore) Close() error {
	_ = s.insertStmt.Close()

	if err := s.tx.Commit(); err != nil {
		_ = s.db.Close()
		_ = s.readDB.Close()

		return fmt.Errorf("store: commit identifiers on close: %w", err)
	}

	if err := s.db.Close(); err != nil {
		_ = s.readDB.Close()

		return fmt.Errorf("store: close identifiers db: %w", err)
	}

	if err := s.readDB.Close(); err != nil {
		return fmt.Errorf("store: close identifiers read db: %w", err)
	}

	return nil
}
