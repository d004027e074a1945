package engine_test

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/mrtcode/title-fingerprint-db/internal/applog"
	"github.com/mrtcode/title-fingerprint-db/internal/engine"
)

func newTestEngine(t *testing.T) (*engine.Engine, context.Context) {
	t.Helper()

	ctx := context.Background()
	dir := t.TempDir()

	e, err := engine.Open(ctx, dir, applog.New(io.Discard), engine.Options{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Close(ctx) })

	return e, ctx
}

// Basic match. Title and author surname sit on separate lines: a line
// break is the only thing that ends a candidate span, so the surname line
// must be reachable from the title's own line without crossing into
// unrelated text.
func TestIdentifyBasicMatch(t *testing.T) {
	e, ctx := newTestEngine(t)

	require.NoError(t, e.Index(ctx, "Quicksort Algorithm Overview", "Hoare", "doi:10.1145/366622.366647"))

	res, ok, err := e.Identify(ctx, []byte("Quicksort Algorithm Overview\nby C. A. R. Hoare."))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, res.Title, "Quicksort Algorithm Overview")
	require.Equal(t, "Hoare", res.Name)
	require.Equal(t, "doi:10.1145/366622.366647", res.Identifiers)
}

// Diacritic normalization in both title and surname.
func TestIdentifyDiacriticNormalization(t *testing.T) {
	e, ctx := newTestEngine(t)

	require.NoError(t, e.Index(ctx, "Naïve Bayes Clasiffier Revisited", "Müller", "id1"))

	res, ok, err := e.Identify(ctx, []byte("NAIVE BAYES CLASIFFIER REVISITED\nMULLER 2010"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "id1", res.Identifiers)
}

// Name not found anywhere nearby, but the title alone is long enough
// (>=40 normalized bytes) for the title-only fallback to accept it.
func TestIdentifyTitleOnlyFallback(t *testing.T) {
	e, ctx := newTestEngine(t)

	title := "The Architecture Of Complex Distributed Storage Systems"
	require.NoError(t, e.Index(ctx, title, "Author", "id2"))

	res, ok, err := e.Identify(ctx, []byte(title))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, res.Name)
	require.Equal(t, "id2", res.Identifiers)
}

// No identifiers at index time means no meta_id is ever assigned, so a
// later match still succeeds but returns no identifiers.
func TestIdentifyNoIdentifiersNoMetaID(t *testing.T) {
	e, ctx := newTestEngine(t)

	require.NoError(t, e.Index(ctx, "Lorem Ipsum Dolor Sit Amet Testing", "Cicero", ""))

	res, ok, err := e.Identify(ctx, []byte("Lorem Ipsum Dolor Sit Amet Testing\nCicero is speaking."))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, res.Identifiers)
}

// The per-title cap drops the 6th distinct name indexed under one title;
// the first five remain independently identifiable.
func TestIndexPerTitleCap(t *testing.T) {
	e, ctx := newTestEngine(t)

	title := "A Common Shared Title For Testing Caps"
	names := []string{"Aaronson", "Babbage", "Church", "Dijkstra", "Euler", "Fermat"}

	for i, name := range names {
		err := e.Index(ctx, title, name, "id-"+name)
		if i < 5 {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
		}
	}

	for _, name := range names[:5] {
		res, ok, err := e.Identify(ctx, []byte(title+"\n"+name+" wrote this."))
		require.NoError(t, err)
		require.True(t, ok, "expected a match for %s", name)
		require.Equal(t, "id-"+name, res.Identifiers)
	}
}

func TestIdentifyMiss(t *testing.T) {
	e, ctx := newTestEngine(t)

	require.NoError(t, e.Index(ctx, "Quicksort Algorithm Overview", "Hoare", "doi:1"))

	_, ok, err := e.Identify(ctx, []byte("Completely unrelated text with no indexed title whatsoever here."))
	require.NoError(t, err)
	require.False(t, ok)
}

// Twenty distinct titles, each indexed with identifiers, each occupy their
// own hashtable row.
func TestDistinctTitlesOccupyDistinctRows(t *testing.T) {
	e, ctx := newTestEngine(t)

	for i := 0; i < 20; i++ {
		title := "Monotonic Meta Id Title Number " + string(rune('A'+i))
		require.NoError(t, e.Index(ctx, title, "Surname", "id"))
	}

	stats := e.Stats()
	require.EqualValues(t, 20, stats.UsedHashes)
}

// Index then identify round-trips the identifiers, modulo ordering and the
// 50-identifier cap.
func TestIndexIdentifyRoundTripsIdentifiers(t *testing.T) {
	e, ctx := newTestEngine(t)

	require.NoError(t, e.Index(ctx, "Round Trip Identifiers Test Title", "Knuth", "doi:1,isbn:2 pmid:3"))

	res, ok, err := e.Identify(ctx, []byte("Round Trip Identifiers Test Title\nby Knuth."))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, res.Identifiers, "doi:1")
	require.Contains(t, res.Identifiers, "isbn:2")
	require.Contains(t, res.Identifiers, "pmid:3")
}

// Indexed state survives a close/reopen cycle: slots reload from the
// hashtable snapshot and the meta_id counter resumes from the identifier
// store.
func TestEngineReloadsPersistedState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log := applog.New(io.Discard)

	e, err := engine.Open(ctx, dir, log, engine.Options{})
	require.NoError(t, err)
	require.NoError(t, e.Index(ctx, "Persistent Title Survives Restart", "Turing", "doi:42"))
	require.NoError(t, e.Close(ctx))

	e2, err := engine.Open(ctx, dir, log, engine.Options{})
	require.NoError(t, err)

	defer e2.Close(ctx)

	res, ok, err := e2.Identify(ctx, []byte("Persistent Title Survives Restart\nTuring et al."))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "doi:42", res.Identifiers)

	stats := e2.Stats()
	require.EqualValues(t, 1, stats.UsedSlots)
}

// A small NameLookupDistance leaves a far-away surname unfound; the match
// still succeeds through the title-only fallback for a long title.
func TestNameLookupDistanceOption(t *testing.T) {
	ctx := context.Background()
	log := applog.New(io.Discard)

	e, err := engine.Open(ctx, t.TempDir(), log, engine.Options{NameLookupDistance: 10})
	require.NoError(t, err)

	defer e.Close(ctx)

	title := "The Architecture Of Complex Distributed Storage Systems"
	require.NoError(t, e.Index(ctx, title, "Babbage", "id9"))

	res, ok, err := e.Identify(ctx, []byte(title+"\nlots of intervening filler text first\nBabbage"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, res.Name)
}

// The full result shape: title re-extracted from the original text with
// whitespace collapsed, name with whitespace stripped, identifiers
// comma-joined.
func TestIdentifyResultShape(t *testing.T) {
	e, ctx := newTestEngine(t)

	require.NoError(t, e.Index(ctx, "Quicksort  Algorithm\tOverview", "Hoare", "doi:1"))

	res, ok, err := e.Identify(ctx, []byte("Quicksort  Algorithm Overview\nHoare wrote it."))
	require.NoError(t, err)
	require.True(t, ok)

	want := engine.Result{
		Title:       "Quicksort Algorithm Overview",
		Name:        "Hoare",
		Identifiers: "doi:1",
	}

	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

// A failed index (normalized title too short) is a silent no-op, not an API
// error propagated to callers in an unexpected shape.
func TestIndexRejectsShortTitle(t *testing.T) {
	e, ctx := newTestEngine(t)

	err := e.Index(ctx, "ab", "Smith", "id")
	require.ErrorIs(t, err, engine.ErrTitleLength)
}

// A title whose normalized form exceeds 1024 bytes is rejected, not
// truncated and indexed under the hash of its prefix.
func TestIndexRejectsOverlongTitle(t *testing.T) {
	e, ctx := newTestEngine(t)

	long := make([]byte, 1100)
	for i := range long {
		long[i] = byte('a' + i%26)
	}

	err := e.Index(ctx, string(long), "Smith", "id")
	require.ErrorIs(t, err, engine.ErrTitleLength)
	require.EqualValues(t, 0, e.Stats().UsedSlots, "rejected title must not occupy a slot")
}

func TestIndexRejectsShortName(t *testing.T) {
	e, ctx := newTestEngine(t)

	err := e.Index(ctx, "A Sufficiently Long Normalized Title Indeed", "X", "id")
	require.ErrorIs(t, err, engine.ErrNameLength)
}

// Merging identifiers under an existing meta_id (same title+name indexed
// twice with different identifiers) accumulates rather than overwrites.
func TestIndexMergesIdentifiersUnderExistingMetaID(t *testing.T) {
	e, ctx := newTestEngine(t)

	title := "Merge Identifiers Under Existing Meta Id Title"
	require.NoError(t, e.Index(ctx, title, "Shannon", "doi:1"))
	require.NoError(t, e.Index(ctx, title, "Shannon", "doi:2"))

	res, ok, err := e.Identify(ctx, []byte(title+"\nby Shannon, the author."))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, res.Identifiers, "doi:1")
	require.Contains(t, res.Identifiers, "doi:2")
}
