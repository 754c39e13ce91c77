package wirefmt

import (
	"encoding/binary"
	"fmt"
)

// Size-class bounds on the encoded (TxOut, height) value
// store partitions by encoded length so the two fixed-width backends never
// waste space on the long tail of larger scripts.
const (
	SmallValueBound  = 33
	MediumValueBound = 209
)

// TxOut is a transaction output: value in satoshis plus its locking script.
type TxOut struct {
	Value        uint64
	ScriptPubKey []byte
}

// UtxoEntry is the value stored in UtxoStore for one OutPoint: the output
// plus the height it was created at.
type UtxoEntry struct {
	TxOut  TxOut
	Height uint32
}

// utxoEntryHeaderSize is the fixed 4+8 byte prefix before the script bytes.
const utxoEntryHeaderSize = 4 + 8

// EncodedLen returns the length EncodeUtxoEntry(e) would produce, without
// allocating — used to pick a size class before committing to a backend.
func (e UtxoEntry) EncodedLen() int {
	return utxoEntryHeaderSize + len(e.TxOut.ScriptPubKey)
}

// EncodeUtxoEntry serializes (TxOut, height) as
// height(4, LE) ‖ value(8, LE) ‖ script bytes
func EncodeUtxoEntry(e UtxoEntry) []byte {
	buf := make([]byte, e.EncodedLen())
	binary.LittleEndian.PutUint32(buf[0:4], e.Height)
	binary.LittleEndian.PutUint64(buf[4:12], e.TxOut.Value)
	copy(buf[utxoEntryHeaderSize:], e.TxOut.ScriptPubKey)
	return buf
}

// DecodeUtxoEntry parses the height(4)‖value(8)‖script encoding.
func DecodeUtxoEntry(b []byte) (UtxoEntry, error) {
	if len(b) < utxoEntryHeaderSize {
		return UtxoEntry{}, fmt.Errorf("wirefmt: utxo entry must be at least %d bytes, got %d", utxoEntryHeaderSize, len(b))
	}
	height := binary.LittleEndian.Uint32(b[0:4])
	value := binary.LittleEndian.Uint64(b[4:12])
	script := make([]byte, len(b)-utxoEntryHeaderSize)
	copy(script, b[utxoEntryHeaderSize:])
	return UtxoEntry{
		TxOut:  TxOut{Value: value, ScriptPubKey: script},
		Height: height,
	}, nil
}

// SizeClass identifies which UtxoStore backend an entry's encoded length
// routes to.
type SizeClass uint8

const (
	SizeClassSmall SizeClass = iota
	SizeClassMedium
	SizeClassLarge
)

// ClassifyLen returns the size class for an encoded value of the given length.
func ClassifyLen(encodedLen int) SizeClass {
	switch {
	case encodedLen <= SmallValueBound:
		return SizeClassSmall
	case encodedLen <= MediumValueBound:
		return SizeClassMedium
	default:
		return SizeClassLarge
	}
}
