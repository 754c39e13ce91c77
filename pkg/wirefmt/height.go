package wirefmt

import "encoding/binary"

// HeightKeySize is the encoded size of a height used inside a sort key.
const HeightKeySize = 4

// EncodeHeightDescending encodes a height as big-endian with every byte
// XOR-inverted: this makes byte-lexicographic order over the key
// sort heights in *descending* order, so a forward scan over the
// address-outpoint index naturally yields newest-first results.
func EncodeHeightDescending(height uint32) [HeightKeySize]byte {
	var buf [HeightKeySize]byte
	binary.BigEndian.PutUint32(buf[:], height)
	for i := range buf {
		buf[i] ^= 0xFF
	}
	return buf
}

// DecodeHeightDescending inverts EncodeHeightDescending.
func DecodeHeightDescending(b [HeightKeySize]byte) uint32 {
	var inv [HeightKeySize]byte
	for i := range b {
		inv[i] = b[i] ^ 0xFF
	}
	return binary.BigEndian.Uint32(inv[:])
}
