package wirefmt

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// PageCursorSize is the fixed encoded size of a PageCursor: 32-byte tip
// hash ‖ 4-byte XOR-inverted BE height ‖ 36-byte OutPoint.
const PageCursorSize = chainhash.HashSize + HeightKeySize + OutPointSize

// PageCursor is an opaque pagination token over one chain's address-UTXO
// stream: which chain tip it was issued against, and where in
// the height-descending stream to resume.
type PageCursor struct {
	TipBlockHash chainhash.Hash
	Height       uint32
	OutPoint     OutPoint
}

// Encode serializes a PageCursor to its 72-byte wire form.
func (c PageCursor) Encode() [PageCursorSize]byte {
	var buf [PageCursorSize]byte
	copy(buf[:chainhash.HashSize], c.TipBlockHash[:])
	heightEnc := EncodeHeightDescending(c.Height)
	copy(buf[chainhash.HashSize:chainhash.HashSize+HeightKeySize], heightEnc[:])
	opEnc := EncodeOutPoint(c.OutPoint)
	copy(buf[chainhash.HashSize+HeightKeySize:], opEnc[:])
	return buf
}

// DecodePageCursor parses a cursor's 72-byte wire form. A caller-supplied
// cursor that fails to parse yields MalformedPage — the
// error here is wrapped by callers into that typed error.
func DecodePageCursor(b []byte) (PageCursor, error) {
	if len(b) != PageCursorSize {
		return PageCursor{}, fmt.Errorf("wirefmt: page cursor must be %d bytes, got %d", PageCursorSize, len(b))
	}
	var c PageCursor
	copy(c.TipBlockHash[:], b[:chainhash.HashSize])
	var heightEnc [HeightKeySize]byte
	copy(heightEnc[:], b[chainhash.HashSize:chainhash.HashSize+HeightKeySize])
	c.Height = DecodeHeightDescending(heightEnc)
	op, err := DecodeOutPoint(b[chainhash.HashSize+HeightKeySize:])
	if err != nil {
		return PageCursor{}, err
	}
	c.OutPoint = op
	return c, nil
}
