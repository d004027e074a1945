package engine

import "errors"

// Input-shape errors: silently yield "not indexed" / "no match", never
// surfaced as API errors.
var (
	ErrTitleLength = errors.New("engine: normalized title length out of range")
	ErrNameLength  = errors.New("engine: normalized name shorter than 2 bytes")
)

// ErrTitleCapReached is a capacity error: logged, the offending record is
// dropped, service continues. A row full (slotstore.ErrRowFull) is the
// other capacity error, surfaced by wrapping rather than a local alias.
var ErrTitleCapReached = errors.New("engine: per-title slot cap reached")
