package unstabletree

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/internal/unstablecache"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

type fakeSource struct{}

func (fakeSource) Get(wirefmt.OutPoint) (wirefmt.UtxoEntry, bool, error) {
	return wirefmt.UtxoEntry{}, false, nil
}

// block builds a one-coinbase-transaction block extending prev, unique by nonce.
func block(t *testing.T, prev chainhash.Hash, nonce uint32) *btcblock.Block {
	t.Helper()
	cb := wire.NewMsgTx(wire.TxVersion)
	cb.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}, SignatureScript: []byte{byte(nonce), byte(nonce >> 8)}})
	cb.AddTxOut(&wire.TxOut{Value: 5000000000, PkScript: []byte{0x76, 0xa9}})

	root := btcblock.ComputeMerkleRoot([]chainhash.Hash{cb.TxHash()})
	msg := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    1,
			PrevBlock:  prev,
			MerkleRoot: root,
			Timestamp:  time.Unix(1600000000+int64(nonce), 0),
			Bits:       0x1d00ffff,
			Nonce:      nonce,
		},
	}
	msg.AddTransaction(cb)

	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	blk, err := btcblock.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return blk
}

func newTestTree(t *testing.T, threshold uint32) (*Tree, *btcblock.Block) {
	t.Helper()
	anchor := block(t, chainhash.Hash{}, 1)
	tr, err := New(fakeSource{}, anchor, 100, threshold, chainparams.Mainnet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, anchor
}

func TestPushLinearChainAssignsIncreasingHeights(t *testing.T) {
	tr, anchor := newTestTree(t, 6)

	b1 := block(t, anchor.Header().Hash(), 10)
	h1, err := tr.Push(fakeSource{}, b1)
	if err != nil {
		t.Fatalf("Push b1: %v", err)
	}
	if h1 != 101 {
		t.Fatalf("h1 = %d, want 101", h1)
	}

	b2 := block(t, b1.Header().Hash(), 11)
	h2, err := tr.Push(fakeSource{}, b2)
	if err != nil {
		t.Fatalf("Push b2: %v", err)
	}
	if h2 != 102 {
		t.Fatalf("h2 = %d, want 102", h2)
	}
}

func TestPushRejectsUnknownParent(t *testing.T) {
	tr, _ := newTestTree(t, 6)
	orphan := block(t, chainhash.Hash{0xEE}, 5)
	if _, err := tr.Push(fakeSource{}, orphan); err != ErrBlockDoesNotExtendTree {
		t.Fatalf("expected ErrBlockDoesNotExtendTree, got %v", err)
	}
}

func TestPushRejectsDuplicateHash(t *testing.T) {
	tr, anchor := newTestTree(t, 6)
	b1 := block(t, anchor.Header().Hash(), 10)
	if _, err := tr.Push(fakeSource{}, b1); err != nil {
		t.Fatalf("first push: %v", err)
	}
	dup := block(t, anchor.Header().Hash(), 10) // identical nonce -> identical hash
	if _, err := tr.Push(fakeSource{}, dup); err != ErrDuplicateBlockHash {
		t.Fatalf("expected ErrDuplicateBlockHash, got %v", err)
	}
}

func chainFrom(t *testing.T, tr *Tree, start *btcblock.Block, nonces []uint32) []*btcblock.Block {
	t.Helper()
	out := make([]*btcblock.Block, len(nonces))
	prevHash := start.Header().Hash()
	for i, n := range nonces {
		b := block(t, prevHash, n)
		if _, err := tr.Push(fakeSource{}, b); err != nil {
			t.Fatalf("push chain block %d: %v", i, err)
		}
		out[i] = b
		prevHash = b.Header().Hash()
	}
	return out
}

func TestPeekAndPopRequireDominantDepth(t *testing.T) {
	tr, anchor := newTestTree(t, 3)

	// Two competing branches off the anchor, depths 2 and 2 (tied) first.
	branchA := chainFrom(t, tr, anchor, []uint32{1, 2})
	branchB := chainFrom(t, tr, anchor, []uint32{101, 102})

	if _, ok := tr.Peek(); ok {
		t.Fatal("expected no stable child while branches are tied")
	}

	// Extend branch A to pull ahead by the stability threshold (3).
	tail := chainFrom(t, tr, branchA[len(branchA)-1], []uint32{3, 4, 5})

	blk, ok := tr.Peek()
	if !ok {
		t.Fatal("expected a stable child once branch A dominates")
	}
	if blk.Header().Hash() != branchA[0].Header().Hash() {
		t.Fatalf("peeked wrong child")
	}

	popped, ok := tr.Pop()
	if !ok {
		t.Fatal("Pop should succeed")
	}
	if popped.Header().Hash() != anchor.Header().Hash() {
		t.Fatalf("Pop returned wrong block")
	}
	if tr.AnchorHash() != branchA[0].Header().Hash() {
		t.Fatal("anchor did not advance to branch A's first block")
	}
	if tr.Has(branchB[0].Header().Hash()) {
		t.Fatal("losing branch B should have been discarded")
	}
	if !tr.Has(tail[len(tail)-1].Header().Hash()) {
		t.Fatal("branch A's descendants should remain")
	}
}

func TestGetMainChainStopsAtLastUncontestedAncestor(t *testing.T) {
	tr, anchor := newTestTree(t, 100) // high threshold: never auto-pops during this test
	common := chainFrom(t, tr, anchor, []uint32{1, 2})
	tip := common[len(common)-1]

	forkA := chainFrom(t, tr, tip, []uint32{3})
	forkB := chainFrom(t, tr, tip, []uint32{103})
	_ = forkA
	_ = forkB

	mainChain := tr.GetMainChain()
	if len(mainChain) != len(common) {
		t.Fatalf("main chain len = %d, want %d (uncontested prefix only)", len(mainChain), len(common))
	}
	for i, b := range mainChain {
		if b.Header().Hash() != common[i].Header().Hash() {
			t.Fatalf("main chain[%d] mismatch", i)
		}
	}
}

func TestGetChainWithTipReturnsPathAndChildren(t *testing.T) {
	tr, anchor := newTestTree(t, 100)
	common := chainFrom(t, tr, anchor, []uint32{1, 2})
	tip := common[len(common)-1]
	children := chainFrom(t, tr, tip, []uint32{3})

	chain, kids, err := tr.GetChainWithTip(tip.Header().Hash())
	if err != nil {
		t.Fatalf("GetChainWithTip: %v", err)
	}
	if len(chain) != len(common) {
		t.Fatalf("chain len = %d, want %d", len(chain), len(common))
	}
	if len(kids) != 1 || kids[0].Header().Hash() != children[0].Header().Hash() {
		t.Fatalf("children mismatch: %v", kids)
	}
}

func TestGetChainWithTipUnknownHash(t *testing.T) {
	tr, _ := newTestTree(t, 10)
	if _, _, err := tr.GetChainWithTip(chainhash.Hash{0xFF}); err == nil {
		t.Fatal("expected error for unknown tip hash")
	}
}

var _ = unstablecache.UtxoSource(fakeSource{})
