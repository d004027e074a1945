package engine

// Bit layout of a slot's 64-bit data field: meta_id (30 bits) | name_hash28
// (28 bits) | name_len (6 bits). See slotstore.Slot for the enclosing
// 12-byte record and fphash for how hash56/hash32/hash28 are derived.
const (
	nameLenBits  = 6
	nameHashBits = 28

	nameLenMask  = 1<<nameLenBits - 1
	nameFPMask   = 1<<(nameLenBits+nameHashBits) - 1
	metaIDShift  = nameLenBits + nameHashBits
	nameHashMask = 1<<nameHashBits - 1
)

// nameFingerprint packs a surname's hash28 and normalized byte length into
// the 34-bit name fingerprint stored in the low bits of a slot's data.
func nameFingerprint(nameHash28 uint32, nameLen int) uint64 {
	return uint64(nameHash28)<<nameLenBits | uint64(nameLen&nameLenMask)
}

// packData assembles a slot's full data field from a meta_id and a
// precomputed name fingerprint.
func packData(metaID uint32, fp uint64) uint64 {
	return uint64(metaID)<<metaIDShift | (fp & nameFPMask)
}

// unpackData splits a slot's data field back into its three logical fields.
func unpackData(data uint64) (metaID uint32, nameHash28 uint32, nameLen uint8) {
	metaID = uint32(data >> metaIDShift)
	nameHash28 = uint32(data>>nameLenBits) & nameHashMask
	nameLen = uint8(data & nameLenMask)

	return metaID, nameHash28, nameLen
}
