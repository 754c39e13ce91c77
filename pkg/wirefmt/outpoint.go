// Package wirefmt implements the store's exact binary layouts: the
// 36-byte OutPoint key, the size-class UtxoEntry value encoding, the
// address-outpoint index key, and the opaque PageCursor.
package wirefmt

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutPointSize is the fixed encoded size of an OutPoint key: 32-byte txid
// followed by a 4-byte little-endian vout.
const OutPointSize = chainhash.HashSize + 4

// OutPoint is a transaction output reference, (txid, vout).
type OutPoint struct {
	TxID chainhash.Hash
	Vout uint32
}

// EncodeOutPoint serializes an OutPoint to its 36-byte key form. Ordering
// over the encoded bytes is lexicographic, matching raw txid-then-vout order.
func EncodeOutPoint(o OutPoint) [OutPointSize]byte {
	var buf [OutPointSize]byte
	copy(buf[:chainhash.HashSize], o.TxID[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], o.Vout)
	return buf
}

// DecodeOutPoint parses a 36-byte OutPoint key.
func DecodeOutPoint(b []byte) (OutPoint, error) {
	if len(b) != OutPointSize {
		return OutPoint{}, fmt.Errorf("wirefmt: outpoint key must be %d bytes, got %d", OutPointSize, len(b))
	}
	var o OutPoint
	copy(o.TxID[:], b[:chainhash.HashSize])
	o.Vout = binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	return o, nil
}

// String returns "txid:vout" using the conventional reversed-byte txid
// display order (matching chainhash.Hash.String()).
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}
