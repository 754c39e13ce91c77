package btcblock

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Errors surfaced while parsing or validating a block body.
var (
	ErrEmptyBlock     = errors.New("btcblock: block has no transactions")
	ErrNotCoinbase    = errors.New("btcblock: first transaction is not a coinbase")
	ErrExtraCoinbase  = errors.New("btcblock: a non-first transaction is also a coinbase")
	ErrMerkleMismatch = errors.New("btcblock: computed merkle root does not match header")
	ErrDuplicateTxid  = errors.New("btcblock: block contains duplicate transaction ids")
)

// Block wraps a fully parsed wire.MsgBlock with memoized per-transaction
// hashes: a block carries
// its header plus the transactions needed to mutate the UTXO set, and
// every hash derived from it is computed once and cached.
type Block struct {
	header *Header
	msg    *wire.MsgBlock

	txids    []chainhash.Hash
	txidsSet bool
}

// Parse decodes a full canonical block (80-byte header followed by the
// varint-prefixed transaction list).
func Parse(b []byte) (*Block, error) {
	var msg wire.MsgBlock
	if err := msg.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("btcblock: deserialize block: %w", err)
	}
	header, err := FromWire(msg.Header)
	if err != nil {
		return nil, err
	}
	return &Block{header: header, msg: &msg}, nil
}

// Header returns the block's parsed header.
func (b *Block) Header() *Header { return b.header }

// Bytes re-serializes the block to its canonical encoding.
func (b *Block) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.msg.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("btcblock: serialize block: %w", err)
	}
	return buf.Bytes(), nil
}

// Transactions returns the block's transaction list in on-chain order,
// coinbase first.
func (b *Block) Transactions() []*wire.MsgTx { return b.msg.Transactions }

// Txids returns the double-SHA256 txid of every transaction, in block
// order, computing and memoizing the list on first call. Bitcoin's legacy
// txid (not the segwit-aware wtxid) is what the merkle root commits to
// and what OutPoints reference, so that is what's cached here.
func (b *Block) Txids() []chainhash.Hash {
	if !b.txidsSet {
		ids := make([]chainhash.Hash, len(b.msg.Transactions))
		for i, tx := range b.msg.Transactions {
			ids[i] = tx.TxHash()
		}
		b.txids = ids
		b.txidsSet = true
	}
	return b.txids
}

// CoinbaseTxid returns the txid of the block's first (coinbase) transaction.
func (b *Block) CoinbaseTxid() chainhash.Hash {
	return b.Txids()[0]
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input whose previous outpoint is the null hash with index 0xffffffff.
func IsCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prev := tx.TxIn[0].PreviousOutPoint
	return prev.Index == math.MaxUint32 && prev.Hash == (chainhash.Hash{})
}

// Validate performs the block-level structural checks: the block is
// non-empty, its first transaction is the sole coinbase, the transaction
// set has no duplicate txids (the CVE-2012-2459 guard), and the computed
// merkle root matches the header's claim.
//
// It does not perform header-chain validation (difficulty, timestamp,
// ancestry) — that is HeaderValidator's job — nor transaction-level script
// or value checks, which the indexer core never needs: it trusts its
// upstream source for transaction validity and only tracks UTXO
// existence and movement.
func (b *Block) Validate() error {
	txs := b.msg.Transactions
	if len(txs) == 0 {
		return ErrEmptyBlock
	}
	if !IsCoinbase(txs[0]) {
		return ErrNotCoinbase
	}
	for _, tx := range txs[1:] {
		if IsCoinbase(tx) {
			return ErrExtraCoinbase
		}
	}

	txids := b.Txids()
	if HasDuplicateTxids(txids) {
		return ErrDuplicateTxid
	}

	root := ComputeMerkleRoot(txids)
	if root != b.header.MerkleRoot() {
		return ErrMerkleMismatch
	}
	return nil
}
