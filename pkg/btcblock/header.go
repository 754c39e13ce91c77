// Package btcblock wraps btcsuite/btcd/wire's consensus block and header
// encoding with the caching and validation surface the indexer core needs:
// a lazily-computed, memoized block hash and per-transaction txid (both
// expensive double-SHA256 digests), merkle-root verification,
// and the CVE-2012-2459 duplicate-normalized-txid guard.
package btcblock

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderSize is the canonical encoded size of a Bitcoin block header.
const HeaderSize = 80

// Header wraps wire.BlockHeader with the raw 80-byte encoding preserved
// (so re-serialization is always byte-exact) and a memoized hash.
type Header struct {
	raw  [HeaderSize]byte
	wire wire.BlockHeader

	hash    chainhash.Hash
	hashSet bool
}

// ParseHeader decodes an 80-byte canonical block header.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("btcblock: header must be %d bytes, got %d", HeaderSize, len(b))
	}
	var h Header
	copy(h.raw[:], b)
	if err := h.wire.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("btcblock: deserialize header: %w", err)
	}
	return &h, nil
}

// FromWire builds a Header from an already-parsed wire.BlockHeader
// (used when extracting a header from a full parsed block).
func FromWire(w wire.BlockHeader) (*Header, error) {
	var buf bytes.Buffer
	if err := w.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("btcblock: serialize header: %w", err)
	}
	return ParseHeader(buf.Bytes())
}

// Bytes returns the canonical 80-byte encoding.
func (h *Header) Bytes() []byte {
	out := make([]byte, HeaderSize)
	copy(out, h.raw[:])
	return out
}

// Version returns the header's version field.
func (h *Header) Version() int32 { return h.wire.Version }

// PrevBlockHash returns the hash of this header's parent.
func (h *Header) PrevBlockHash() chainhash.Hash { return h.wire.PrevBlock }

// MerkleRoot returns the header's claimed merkle root.
func (h *Header) MerkleRoot() chainhash.Hash { return h.wire.MerkleRoot }

// Timestamp returns the header's timestamp as Unix seconds.
func (h *Header) Timestamp() int64 { return h.wire.Timestamp.Unix() }

// Bits returns the header's compact-encoded target ("nBits").
func (h *Header) Bits() uint32 { return h.wire.Bits }

// Nonce returns the header's nonce.
func (h *Header) Nonce() uint32 { return h.wire.Nonce }

// Hash returns the block hash, computing and memoizing it on first call —
// double-SHA256 is expensive enough to be worth caching.
func (h *Header) Hash() chainhash.Hash {
	if !h.hashSet {
		h.hash = h.wire.BlockHash()
		h.hashSet = true
	}
	return h.hash
}
