// Package text normalizes free text and titles into the byte stream the
// fingerprint hasher operates on.
//
// Normalization decomposes every alphabetic code point under NFKD, keeps
// only the alphabetic pieces, lowercases them, and drops everything else
// (whitespace, digits, punctuation, combining marks that survive
// decomposition as non-letters). The result is deterministic across
// platforms and Go versions, which the hasher depends on.
package text

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Size limits named by the fingerprinting scheme.
const (
	// MaxTitleLen is the maximum normalized length of an indexable title.
	// Titles normalizing past it are rejected by the index pipeline, never
	// truncated.
	MaxTitleLen = 1024

	// MaxLookupTextLen is the hard cap on normalized output when identifying
	// free text. Longer input is truncated at a safe rune boundary.
	MaxLookupTextLen = 4096

	// MaxNameLen is the hard cap on a normalized surname. The packed slot
	// field holding the length is 6 bits wide, so 63 is authoritative even
	// where older documentation says 64.
	MaxNameLen = 63
)

// ErrOverflow is returned by ProcessName when the normalized surname would
// exceed MaxNameLen. Process never returns it; Process truncates instead.
var ErrOverflow = errors.New("text: normalized output overflows buffer")

// Line is a contiguous alphabetic run of normalized output, delimited by
// hard line breaks in the original input. Start and End are byte offsets
// into Result.Out, End inclusive.
type Line struct {
	Start int
	End   int
}

// Result is the output of Process.
type Result struct {
	// Out is the normalized, lowercased, decomposed byte stream.
	Out []byte

	// Map has one entry per byte of Out: the byte offset in the original
	// input that produced it. Multiple Out bytes from one input code point
	// share the same Map entry.
	Map []int

	// Lines delimits alphabetic runs by original hard line breaks.
	Lines []Line
}

// Process normalizes input, capping the normalized output at maxOut bytes.
// Overflow truncates the output at the last complete code point instead of
// failing; Map and Lines are truncated to match.
func Process(input []byte, maxOut int) Result {
	out := make([]byte, 0, min(maxOut, len(input)))
	var mp []int
	var lines []Line

	prevNew := true
	pos := 0

outer:
	for pos < len(input) {
		si := pos

		r, size := utf8.DecodeRune(input[pos:])
		if r == utf8.RuneError && size <= 1 {
			// Invalid UTF-8: skip the offending byte, keep going.
			pos++

			continue
		}

		pos += size

		switch {
		case isAlphabetic(r):
			if prevNew {
				lines = append(lines, Line{Start: len(out)})
				prevNew = false
			}

			for _, d := range decompose(r) {
				if !isAlphabetic(d) {
					continue
				}

				d = unicode.ToLower(d)

				var buf [utf8.UTFMax]byte

				n := utf8.EncodeRune(buf[:], d)
				if len(out)+n > maxOut {
					break outer
				}

				out = append(out, buf[:n]...)
				for j := 0; j < n; j++ {
					mp = append(mp, si)
				}
			}
		case r == '\n':
			if !prevNew {
				lines[len(lines)-1].End = len(out) - 1
			}

			prevNew = true
		default:
			// whitespace, digits, punctuation, symbols, marks: dropped.
		}
	}

	if len(lines) > 0 && !prevNew {
		lines[len(lines)-1].End = len(out) - 1
	}

	return Result{Out: out, Map: mp, Lines: lines}
}

// ProcessName isolates the final alphabetic run of input: every
// non-alphabetic code point resets the output buffer, so punctuation or a
// middle name cannot survive alongside the trailing surname. Overflow past
// MaxNameLen is a hard failure; the caller must abandon the operation.
func ProcessName(input []byte) ([]byte, error) {
	out := make([]byte, 0, MaxNameLen)
	pos := 0
	reset := false

	for pos < len(input) {
		r, size := utf8.DecodeRune(input[pos:])
		if r == utf8.RuneError && size <= 1 {
			pos++

			continue
		}

		pos += size

		if !isAlphabetic(r) {
			reset = true

			continue
		}

		if reset {
			out = out[:0]
			reset = false
		}

		for _, d := range decompose(r) {
			if !isAlphabetic(d) {
				continue
			}

			d = unicode.ToLower(d)

			var buf [utf8.UTFMax]byte

			n := utf8.EncodeRune(buf[:], d)
			if len(out)+n > MaxNameLen {
				return nil, ErrOverflow
			}

			out = append(out, buf[:n]...)
		}
	}

	return out, nil
}

// decompose returns the NFKD compatibility decomposition of r as runes. For
// a code point with no decomposition this is just []rune{r}.
func decompose(r rune) []rune {
	var enc [utf8.UTFMax]byte

	n := utf8.EncodeRune(enc[:], r)
	decomposed := norm.NFKD.Append(nil, enc[:n]...)

	runes := make([]rune, 0, len(decomposed))

	for i := 0; i < len(decomposed); {
		dr, size := utf8.DecodeRune(decomposed[i:])
		runes = append(runes, dr)
		i += size
	}

	return runes
}

// isAlphabetic approximates the Unicode Alphabetic derived property: any
// code point that is a letter or a letter-number (Roman numerals and
// similar). It only has to be consistent across runs; the hashes it feeds
// never leave this process family.
func isAlphabetic(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.Nl, r)
}
