// Package engine ties the text normalizer, hasher, in-memory hashtable and
// the two SQLite-backed stores into the single-writer/multi-reader service
// described by the fingerprinting scheme: Index writes under one process-wide
// lock, Identify reads under the same lock, and a background saver
// periodically flushes dirty state to disk.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrtcode/title-fingerprint-db/internal/applog"
	"github.com/mrtcode/title-fingerprint-db/internal/fphash"
	"github.com/mrtcode/title-fingerprint-db/internal/slotstore"
	"github.com/mrtcode/title-fingerprint-db/internal/store"
	"github.com/mrtcode/title-fingerprint-db/internal/text"
)

// Policy constants named by the fingerprinting scheme.
const (
	minTitleLen          = 10
	minNameLen           = 2
	windowMax            = 5
	spanMinLen           = 20
	spanMaxLen           = 500
	maxProbes            = 1000
	titleOnlyFallbackMin = 40

	saverTickInterval      = 10 * time.Millisecond
	saverIdleThreshold     = 10 * time.Second
	saverBatchRowThreshold = 50_000_000
)

// DefaultNameLookupDistance is how far, in normalized bytes, the surname
// search scans on either side of a candidate title span unless overridden
// via Options. The value is load-bearing: shrinking it makes Identify
// faster but blind to surnames cited further from the title.
const DefaultNameLookupDistance = 1000

// Options tunes engine behavior. The zero value selects every default.
type Options struct {
	// NameLookupDistance overrides DefaultNameLookupDistance when > 0.
	NameLookupDistance int
}

const (
	hashtableFileName = "hashtable.sqlite"
	identifiersFile   = "identifiers.sqlite"
)

// Stats mirrors the GET /stats response: how much of the hashtable is in
// use.
type Stats struct {
	UsedHashes int64 `json:"used_hashes"`
	UsedSlots  int64 `json:"used_slots"`
	MaxSlots   int64 `json:"max_slots"`
}

// Engine is the single owner of the hashtable, the two persistent stores,
// and the meta_id counter, collected into one value that the request
// handlers and the saver share instead of module-level mutable state.
type Engine struct {
	dbDir        string
	log          *applog.Component
	nameDistance int

	mu         sync.RWMutex
	table      *slotstore.Table
	lastMetaID uint32

	// tUpdated is the unix-nano time of the last successful Index, zeroed
	// by the saver once that update has been flushed. Zero means there is
	// nothing new to save.
	tUpdated atomic.Int64

	htStore *store.HashtableStore
	idStore *store.IdentifierStore

	usedHashes atomic.Int64
	usedSlots  atomic.Int64
	maxSlots   atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens (creating if necessary) the two stores under dbDir, reloads any
// existing hashtable snapshot, and starts the background saver. Callers must
// call Close to stop the saver and flush final state.
func Open(ctx context.Context, dbDir string, log *applog.Logger, opts Options) (*Engine, error) {
	nameDistance := opts.NameLookupDistance
	if nameDistance <= 0 {
		nameDistance = DefaultNameLookupDistance
	}

	htStore, err := store.OpenHashtableStore(ctx, filepath.Join(dbDir, hashtableFileName))
	if err != nil {
		return nil, err
	}

	idStore, lastMetaID, err := store.OpenIdentifierStore(ctx, filepath.Join(dbDir, identifiersFile))
	if err != nil {
		_ = htStore.Close()

		return nil, err
	}

	e := &Engine{
		dbDir:        dbDir,
		log:          log.Component("engine"),
		nameDistance: nameDistance,
		table:        slotstore.New(),
		lastMetaID:   lastMetaID,
		htStore:      htStore,
		idStore:      idStore,
	}

	if err := e.load(ctx); err != nil {
		_ = htStore.Close()
		_ = idStore.Close()

		return nil, err
	}

	saverCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.runSaver(saverCtx)
	}()

	return e, nil
}

// load reloads every persisted hashtable row and logs a one-line startup
// summary.
func (e *Engine) load(ctx context.Context) error {
	rowsLoaded := 0

	err := e.htStore.LoadAll(ctx, func(rowIdx uint32, slots []slotstore.Slot) error {
		e.table.LoadRow(rowIdx, slots)

		if len(slots) > 0 {
			rowsLoaded++
			e.usedHashes.Add(1)
		}

		e.usedSlots.Add(int64(len(slots)))

		if int64(len(slots)) > e.maxSlots.Load() {
			e.maxSlots.Store(int64(len(slots)))
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: load hashtable: %w", err)
	}

	if _, ok, markerErr := store.ReadMarker(e.dbDir); markerErr == nil && !ok {
		e.log.Infof("no save marker found, starting from a fresh or recovered store")
	}

	e.log.Infof("loaded %d rows, last_meta_id=%d", rowsLoaded, e.lastMetaID)

	return nil
}

// Index implements the index pipeline: normalizes title and name, resolves
// or allocates a meta_id, merges identifiers, and writes/updates the slot.
func (e *Engine) Index(ctx context.Context, title, name, identifiers string) error {
	// Normalize with the larger lookup cap so the true normalized length is
	// known: a title past MaxTitleLen must be rejected outright, never
	// silently truncated and indexed under the hash of its prefix.
	titleOut := text.Process([]byte(title), text.MaxLookupTextLen).Out
	if len(titleOut) < minTitleLen || len(titleOut) > text.MaxTitleLen {
		return ErrTitleLength
	}

	nameOut, err := text.ProcessName([]byte(name))
	if err != nil {
		return fmt.Errorf("engine: index %q: %w", title, err)
	}

	if len(nameOut) < minNameLen {
		return ErrNameLength
	}

	titleHash56 := fphash.Hash56(titleOut)
	rowIdx := fphash.RowIndex(titleHash56)
	hash32 := fphash.Hash32(titleHash56)
	fp := nameFingerprint(fphash.Hash28(nameOut), len(nameOut))

	e.mu.Lock()
	defer e.mu.Unlock()

	refs := e.table.Lookup(rowIdx, hash32)

	var (
		existingRef    slotstore.Ref
		existingMetaID uint32
		found          bool
	)

	for _, ref := range refs {
		slot := e.table.Get(ref)
		if slot.Data&nameFPMask == fp {
			existingRef = ref
			existingMetaID, _, _ = unpackData(slot.Data)
			found = true

			break
		}
	}

	if !found && len(refs) >= slotstore.MaxSlotsPerTitle {
		e.log.Warnf("per-title cap reached for %q, dropping record", title)

		return fmt.Errorf("engine: index %q: %w", title, ErrTitleCapReached)
	}

	var newMetaID uint32

	if !found || existingMetaID == 0 {
		e.lastMetaID++
		newMetaID = e.lastMetaID
	}

	metaID := existingMetaID
	if metaID == 0 {
		metaID = newMetaID
	}

	tokens := splitIdentifiers(identifiers)
	inserted := 0

	for _, tok := range tokens {
		if err := e.idStore.Insert(ctx, metaID, tok); err != nil {
			return fmt.Errorf("engine: insert identifier for %q: %w", title, err)
		}

		inserted++
	}

	if inserted == 0 {
		if newMetaID != 0 {
			e.lastMetaID--
		}

		newMetaID = 0
	}

	switch {
	case !found:
		if _, err := e.table.Insert(rowIdx, hash32, packData(newMetaID, fp)); err != nil {
			e.log.Warnf("row full, dropping %q: %v", title, err)

			return fmt.Errorf("engine: index %q: %w", title, err)
		}

		e.onSlotInserted(rowIdx)
	case existingMetaID == 0 && newMetaID != 0:
		e.table.Update(existingRef, packData(newMetaID, fp))
	}

	e.tUpdated.Store(time.Now().UnixNano())

	return nil
}

func (e *Engine) onSlotInserted(rowIdx uint32) {
	rowLen := int64(e.table.RowLen(rowIdx))

	e.usedSlots.Add(1)

	if rowLen == 1 {
		e.usedHashes.Add(1)
	}

	for {
		cur := e.maxSlots.Load()
		if rowLen <= cur || e.maxSlots.CompareAndSwap(cur, rowLen) {
			break
		}
	}
}

// Identify implements the identify pipeline: enumerates candidate title
// spans, probes the hashtable, locates the surname in a window of the
// normalized text, and assembles the first accepted match.
func (e *Engine) Identify(ctx context.Context, rawText []byte) (Result, bool, error) {
	trimmed := truncateUTF8(rawText, text.MaxLookupTextLen)
	processed := text.Process(trimmed, text.MaxLookupTextLen)
	out, mp, lines := processed.Out, processed.Map, processed.Lines

	e.mu.RLock()
	defer e.mu.RUnlock()

	tried := 0

	for i := range lines {
		if tried >= maxProbes {
			break
		}

		jMax := min(i+windowMax, len(lines))

		for j := i; j < jMax; j++ {
			titleStart := lines[i].Start
			titleEnd := lines[j].End
			titleLen := titleEnd - titleStart + 1

			if titleLen < spanMinLen || titleLen > spanMaxLen {
				continue
			}

			tried++
			if tried > maxProbes {
				break
			}

			hash56 := fphash.Hash56(out[titleStart : titleEnd+1])
			rowIdx := fphash.RowIndex(hash56)
			hash32 := fphash.Hash32(hash56)

			refs := e.table.Lookup(rowIdx, hash32)
			if len(refs) == 0 {
				continue
			}

			var (
				metaID  uint32
				nameLen uint8
			)

			namePos := -1

			for _, ref := range refs {
				slot := e.table.Get(ref)
				mID, nameHash28, nLen := unpackData(slot.Data)
				metaID = mID
				nameLen = nLen

				if pos, ok := locateName(out, titleStart, titleEnd, nameHash28, nLen, e.nameDistance); ok {
					namePos = pos

					break
				}
			}

			if namePos < 0 && titleLen < titleOnlyFallbackMin {
				continue
			}

			result := Result{
				Title: extractOriginalTitle(trimmed, mp[titleStart], mp[titleEnd]),
			}

			if namePos >= 0 {
				result.Name = extractOriginalName(trimmed, mp[namePos], mp[namePos+int(nameLen)-1])
			}

			if metaID != 0 {
				joined, err := e.idStore.Lookup(ctx, metaID)
				if err != nil {
					return Result{}, false, fmt.Errorf("engine: identify: %w", err)
				}

				result.Identifiers = joined
			}

			return result, true, nil
		}
	}

	return Result{}, false, nil
}

// locateName searches the normalized output out for a name_len-byte window
// whose hash28 matches nameHash28: first forward from titleEnd+1, then
// backward from titleStart-nameLen, each up to distance bytes.
func locateName(out []byte, titleStart, titleEnd int, nameHash28 uint32, nameLen uint8, distance int) (int, bool) {
	n := int(nameLen)
	if n == 0 {
		return -1, false
	}

	for pos := titleEnd + 1; pos+n <= len(out) && pos <= titleEnd+distance; pos++ {
		if fphash.Hash28(out[pos:pos+n]) == nameHash28 {
			return pos, true
		}
	}

	for pos := titleStart - n; pos >= 0 && pos+distance >= titleStart; pos-- {
		if fphash.Hash28(out[pos:pos+n]) == nameHash28 {
			return pos, true
		}
	}

	return -1, false
}

// Stats returns the current hashtable occupancy counters.
func (e *Engine) Stats() Stats {
	return Stats{
		UsedHashes: e.usedHashes.Load(),
		UsedSlots:  e.usedSlots.Load(),
		MaxSlots:   e.maxSlots.Load(),
	}
}

func (e *Engine) runSaver(ctx context.Context) {
	ticker := time.NewTicker(saverTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.maybeSave(ctx)
		}
	}
}

func (e *Engine) maybeSave(ctx context.Context) {
	updated := e.tUpdated.Load()

	e.mu.RLock()
	batchFull := e.idStore.BatchRows() >= saverBatchRowThreshold
	e.mu.RUnlock()

	if !batchFull {
		if updated == 0 || time.Since(time.Unix(0, updated)) < saverIdleThreshold {
			return
		}
	}

	if err := e.flush(ctx); err != nil {
		e.log.Errorf("save failed, will retry next cycle: %v", err)

		return
	}

	// An Index that landed mid-flush leaves a newer timestamp in place, so
	// its changes get their own save next cycle.
	e.tUpdated.CompareAndSwap(updated, 0)
}

// flush holds the read lock for its duration: safe because it only reads
// slots and clears dirty flags, neither of which readers observe.
func (e *Engine) flush(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.idStore.Flush(ctx); err != nil {
		return fmt.Errorf("engine: flush identifiers: %w", err)
	}

	dirty := e.table.SnapshotDirty()
	if len(dirty) > 0 {
		tx, err := e.htStore.BeginSave(ctx)
		if err != nil {
			return fmt.Errorf("engine: begin hashtable save: %w", err)
		}

		for _, row := range dirty {
			if err := tx.Put(ctx, row.RowIdx, slotstore.EncodeSlots(row.Slots)); err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("engine: save hashtable row %d: %w", row.RowIdx, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("engine: commit hashtable save: %w", err)
		}

		for _, row := range dirty {
			e.table.ClearDirty(row.RowIdx)
		}
	}

	if err := store.WriteMarker(e.dbDir, time.Now()); err != nil {
		return fmt.Errorf("engine: write save marker: %w", err)
	}

	return nil
}

// Close stops the saver, performs a final flush, and closes both stores.
// Best-effort: a final-save failure is logged, and every failure (save or
// store close) is joined into the returned error rather than aborting
// partway through.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	e.wg.Wait()

	var errs []error

	if err := e.flush(ctx); err != nil {
		e.log.Errorf("final save failed: %v", err)
		errs = append(errs, err)
	}

	if err := e.htStore.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := e.idStore.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
