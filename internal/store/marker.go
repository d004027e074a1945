package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/natefinch/atomic"
)

// markerFileName is the crash-safety marker written after every successful
// save cycle. It is not load-bearing for correctness (the SQLite stores are
// the durable source of truth) - startup only checks whether it exists and
// logs an info line when it does not. The recorded timestamp is not
// compared against the stores, and its presence does not tell a clean
// shutdown from a crash, since every periodic save rewrites it.
const markerFileName = "last_save.marker"

// WriteMarker atomically records the completion time of a save cycle in
// dir, using rename-into-place so a crash mid-write can never leave a
// half-written marker for the next startup to misread.
func WriteMarker(dir string, at time.Time) error {
	body := strconv.FormatInt(at.Unix(), 10)

	err := atomic.WriteFile(filepath.Join(dir, markerFileName), bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("store: write save marker: %w", err)
	}

	return nil
}

// ReadMarker returns the timestamp of the last completed save cycle, and
// false if no marker exists yet (first run, or the directory predates this
// feature).
func ReadMarker(dir string) (time.Time, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFileName))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: read save marker: %w", err)
	}

	sec, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: parse save marker: %w", err)
	}

	return time.Unix(sec, 0), true, nil
}
