// Package slotstore implements the in-memory hashtable that backs the
// fingerprint index: 2^24 rows, each an append-only list of 12-byte slots,
// open-hashed on a 32-bit in-row discriminator.
//
// A Table owns every row for the lifetime of the process. Rows are created
// lazily - most stay nil until their first insert, which keeps the
// 16,777,216-entry row-header array itself the only large up-front
// allocation. Slots are only ever appended or updated in place; nothing is
// removed.
package slotstore

import "errors"

// Limits named by the fingerprinting scheme.
const (
	// RowCount is the fixed number of rows in the table (2^24).
	RowCount = 1 << 24

	// RowSlotsMax is the maximum number of slots a single row may hold.
	RowSlotsMax = 256

	// MaxSlotsPerTitle is the maximum number of slots in one row that may
	// share the same Hash32 (the same title).
	MaxSlotsPerTitle = 5
)

// ErrRowFull is returned by Insert when a row already holds RowSlotsMax
// slots.
var ErrRowFull = errors.New("slotstore: row full")

// ErrTitleCapReached is returned by Insert when a row already holds
// MaxSlotsPerTitle slots sharing the given Hash32.
var ErrTitleCapReached = errors.New("slotstore: per-title slot cap reached")

// Slot is one 12-byte record: the low 32 bits of a title's 56-bit hash,
// plus a 64-bit packed payload (meta_id, name_hash28, name_len - see
// fingerprint.go in package engine for the exact bit layout).
type Slot struct {
	Hash32 uint32
	Data   uint64
}

// Ref addresses a single slot within a Table.
type Ref struct {
	Row   uint32
	Index int
}

// row is one hashtable row: an ordered, append-only list of slots plus a
// dirty flag the saver clears once it has persisted the row.
type row struct {
	slots []Slot
	dirty bool
}

// Table is the fixed-size array of RowCount row headers.
type Table struct {
	rows []row
}

// New allocates a Table with all RowCount rows empty.
func New() *Table {
	return &Table{rows: make([]row, RowCount)}
}

// RowLen returns the number of slots currently stored in a row.
func (t *Table) RowLen(rowIdx uint32) int {
	return len(t.rows[rowIdx].slots)
}

// Lookup returns references to every slot in rowIdx whose Hash32 matches.
// By construction (MaxSlotsPerTitle enforced on Insert) this is at most
// MaxSlotsPerTitle entries, returned in insertion order.
func (t *Table) Lookup(rowIdx uint32, hash32 uint32) []Ref {
	slots := t.rows[rowIdx].slots

	var out []Ref

	for i, s := range slots {
		if s.Hash32 == hash32 {
			out = append(out, Ref{Row: rowIdx, Index: i})
		}
	}

	return out
}

// CountHash32 returns how many slots in rowIdx currently share hash32,
// without allocating a result slice. Used to enforce MaxSlotsPerTitle
// before inserting a new title.
func (t *Table) CountHash32(rowIdx uint32, hash32 uint32) int {
	n := 0

	for _, s := range t.rows[rowIdx].slots {
		if s.Hash32 == hash32 {
			n++
		}
	}

	return n
}

// Get dereferences a Ref returned by Lookup.
func (t *Table) Get(ref Ref) Slot {
	return t.rows[ref.Row].slots[ref.Index]
}

// Insert appends a new slot to rowIdx and marks the row dirty. It fails
// with ErrRowFull once the row holds RowSlotsMax slots, or with
// ErrTitleCapReached once MaxSlotsPerTitle slots already share hash32.
func (t *Table) Insert(rowIdx uint32, hash32 uint32, data uint64) (Ref, error) {
	r := &t.rows[rowIdx]

	if len(r.slots) >= RowSlotsMax {
		return Ref{}, ErrRowFull
	}

	if t.CountHash32(rowIdx, hash32) >= MaxSlotsPerTitle {
		return Ref{}, ErrTitleCapReached
	}

	r.slots = append(r.slots, Slot{Hash32: hash32, Data: data})
	r.dirty = true

	return Ref{Row: rowIdx, Index: len(r.slots) - 1}, nil
}

// Update overwrites the Data of an existing slot in place and marks its row
// dirty.
func (t *Table) Update(ref Ref, data uint64) {
	r := &t.rows[ref.Row]
	r.slots[ref.Index].Data = data
	r.dirty = true
}

// DirtyRow is a point-in-time copy of one dirty row, produced by
// SnapshotDirty.
type DirtyRow struct {
	RowIdx uint32
	Slots  []Slot
}

// SnapshotDirty copies every currently-dirty row's slots, in ascending
// row-index order. It does not clear any dirty flags - callers should only
// do that, via ClearDirty, once the snapshot has been durably persisted, so
// a failed save leaves the rows dirty for the next cycle. Intended for the
// saver's flush cycle; it does not hold any lock itself - callers serialize
// against concurrent writers using their own lock (see package engine).
func (t *Table) SnapshotDirty() []DirtyRow {
	var out []DirtyRow

	for i := range t.rows {
		r := &t.rows[i]
		if !r.dirty {
			continue
		}

		out = append(out, DirtyRow{
			RowIdx: uint32(i),
			Slots:  append([]Slot(nil), r.slots...),
		})
	}

	return out
}

// ClearDirty clears a row's dirty flag after its snapshot has been durably
// persisted.
func (t *Table) ClearDirty(rowIdx uint32) {
	t.rows[rowIdx].dirty = false
}

// LoadRow replaces a row's slots wholesale (used when reloading a snapshot
// at startup) and leaves the row's dirty flag clear.
func (t *Table) LoadRow(rowIdx uint32, slots []Slot) {
	t.rows[rowIdx] = row{slots: slots, dirty: false}
}
