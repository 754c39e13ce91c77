// Package testblocks builds small, fully-valid regtest blocks for tests:
// mined headers, correct merkle roots, deterministic P2PKH scripts. It is
// only imported from _test files.
package testblocks

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/script"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// GenesisTime anchors every test chain's timestamps.
const GenesisTime = int64(1600000000)

// regtestBits is the regtest minimum-difficulty compact target, easy
// enough to mine in-process.
const regtestBits = 0x207fffff

// P2PKHScript returns a deterministic pay-to-pubkey-hash script whose
// hash160 is derived from seed, so each seed is a distinct address.
func P2PKHScript(seed byte) []byte {
	s := make([]byte, 25)
	s[0] = txscript.OP_DUP
	s[1] = txscript.OP_HASH160
	s[2] = txscript.OP_DATA_20
	for i := 3; i < 23; i++ {
		s[i] = seed
	}
	s[23] = txscript.OP_EQUALVERIFY
	s[24] = txscript.OP_CHECKSIG
	return s
}

// Address returns the regtest address string for P2PKHScript(seed).
func Address(tb testing.TB, seed byte) string {
	tb.Helper()
	addr, _, ok := script.ExtractAddress(P2PKHScript(seed), chainparams.Regtest)
	if !ok {
		tb.Fatalf("P2PKHScript(%d) did not yield an address", seed)
	}
	return addr
}

// CoinbaseTx builds a coinbase paying value to P2PKHScript(seed). The
// height goes into the signature script so every block's coinbase txid is
// unique.
func CoinbaseTx(value int64, seed byte, height uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: math.MaxUint32},
		SignatureScript:  []byte{byte(height), byte(height >> 8), byte(height >> 16), byte(height >> 24)},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: P2PKHScript(seed)})
	return tx
}

// SpendTx builds a transaction spending prev's output vout into one
// output of value paying P2PKHScript(seed).
func SpendTx(prev chainhash.Hash, vout uint32, value int64, seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev, Index: vout},
		SignatureScript:  []byte{0x51},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: P2PKHScript(seed)})
	return tx
}

// Mine assembles txs into a block extending prev at timestamp, searching
// nonces until the header meets the regtest target, and returns both the
// raw encoding and the parsed block.
func Mine(tb testing.TB, prev chainhash.Hash, timestamp int64, txs []*wire.MsgTx) ([]byte, *btcblock.Block) {
	tb.Helper()
	ids := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxHash()
	}
	msg := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    1,
			PrevBlock:  prev,
			MerkleRoot: btcblock.ComputeMerkleRoot(ids),
			Timestamp:  time.Unix(timestamp, 0),
			Bits:       regtestBits,
		},
	}
	for _, tx := range txs {
		msg.AddTransaction(tx)
	}

	for nonce := uint32(0); ; nonce++ {
		msg.Header.Nonce = nonce
		if headerMeetsRegtestTarget(msg.Header) {
			break
		}
		if nonce == 1<<22 {
			tb.Fatal("could not mine test block")
		}
	}

	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		tb.Fatalf("serialize block: %v", err)
	}
	blk, err := btcblock.Parse(buf.Bytes())
	if err != nil {
		tb.Fatalf("parse block: %v", err)
	}
	return buf.Bytes(), blk
}

// headerMeetsRegtestTarget checks PoW against the regtest floor without
// pulling the validator in as a dependency: the floor is 2^255-ish, so
// any hash whose top byte's high bit is clear passes.
func headerMeetsRegtestTarget(h wire.BlockHeader) bool {
	hash := h.BlockHash()
	return hash[chainhash.HashSize-1]&0x80 == 0
}

// OutPoint is a convenience for referring to a tx's output in assertions.
func OutPoint(tx *wire.MsgTx, vout uint32) wirefmt.OutPoint {
	return wirefmt.OutPoint{TxID: tx.TxHash(), Vout: vout}
}
