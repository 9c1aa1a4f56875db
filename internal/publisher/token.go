package publisher

// Continuation tokens for the paginated "get configured nodes/events"
// operations pack the configuration version into the high 32 bits and the
// list offset into the low 32 bits of one uint64. The version acts as an
// optimistic-concurrency check: a token minted before a structural change
// no longer matches and pagination must restart.

// EncodeContinuationToken packs version and offset into a token.
func EncodeContinuationToken(version, offset uint32) uint64 {
	return uint64(version)<<32 | uint64(offset)
}

// DecodeContinuationToken unpacks a token into version and offset.
func DecodeContinuationToken(token uint64) (version, offset uint32) {
	return uint32(token >> 32), uint32(token)
}
