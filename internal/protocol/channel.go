package protocol

import (
	"crypto/sha256"
	"encoding/binary"
)

// ChannelID maps a search term to its chatroom id: the first four bytes
// of SHA-256 over the UTF-8 term, read little-endian as a signed 32-bit
// integer. Every service derives room ids this way, so a term lands on
// the same id no matter which instance hosts it. Distinct terms may
// collide; colliding terms share a room.
func ChannelID(term string) int32 {
	sum := sha256.Sum256([]byte(term))
	return int32(binary.LittleEndian.Uint32(sum[:4]))
}
