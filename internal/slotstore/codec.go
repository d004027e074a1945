package slotstore

import "encoding/binary"

// SlotSize is the on-disk size of one encoded slot in bytes: a little-endian
// uint32 Hash32 followed by a little-endian uint64 Data.
const SlotSize = 12

// Encode appends the 12-byte little-endian encoding of s to dst.
func (s Slot) Encode(dst []byte) []byte {
	var buf [SlotSize]byte

	binary.LittleEndian.PutUint32(buf[0:4], s.Hash32)
	binary.LittleEndian.PutUint64(buf[4:12], s.Data)

	return append(dst, buf[:]...)
}

// EncodeSlots concatenates the on-disk encoding of slots in order.
func EncodeSlots(slots []Slot) []byte {
	out := make([]byte, 0, len(slots)*SlotSize)
	for _, s := range slots {
		out = s.Encode(out)
	}

	return out
}

// DecodeSlots parses a byte-concatenation of slots produced by EncodeSlots.
// A length that is not a multiple of SlotSize is truncated down, discarding
// the trailing partial slot - the row blob is expected to be exactly
// len(slots)*SlotSize bytes, but loaders tolerate a short last write rather
// than failing the whole reload.
func DecodeSlots(blob []byte) []Slot {
	n := len(blob) / SlotSize
	slots := make([]Slot, n)

	for i := 0; i < n; i++ {
		off := i * SlotSize
		slots[i] = Slot{
			Hash32: binary.LittleEndian.Uint32(blob[off : off+4]),
			Data:   binary.LittleEndian.Uint64(blob[off+4 : off+12]),
		}
	}

	return slots
}
