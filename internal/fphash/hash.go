// Package fphash computes the deterministic digests the fingerprint scheme
// hashes over normalized byte ranges. Every function here must be
// byte-identical across runs and machines, which is why it is a thin,
// allocation-free wrapper around a single non-cryptographic hash algorithm
// rather than anything language- or platform-specific.
package fphash

import "github.com/cespare/xxhash/v2"

// RowBits is the width of the row-index portion of a 56-bit title digest.
// Hash32Bits is the width of the in-row discriminator stored in a slot.
const (
	RowBits    = 24
	Hash32Bits = 32
)

// Digest64 is the raw xxhash64 (seed 0) of data. Hash56 and Hash28 are both
// derived from it; callers that need both should compute this once.
func Digest64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Hash56 returns the 56-bit title digest of data: the raw 64-bit xxhash64
// digest (seed 0) shifted right by 8. The result always fits in the low 56
// bits of the returned uint64.
func Hash56(data []byte) uint64 {
	return xxhash.Sum64(data) >> 8
}

// Hash28 returns the 28-bit surname digest of data: the low 28 bits of the
// raw 64-bit xxhash64 digest (seed 0). Note this is computed from the full
// digest directly, not from the Hash56 value.
func Hash28(data []byte) uint32 {
	return uint32(xxhash.Sum64(data) & (1<<28 - 1))
}

// RowIndex extracts the hashtable row index from a 56-bit title digest: its
// top 24 bits.
func RowIndex(h56 uint64) uint32 {
	return uint32(h56 >> Hash32Bits)
}

// Hash32 extracts the in-row discriminator stored in a slot from a 56-bit
// title digest: its low 32 bits.
func Hash32(h56 uint64) uint32 {
	return uint32(h56)
}
