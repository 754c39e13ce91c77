package indexer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/ingestor"
	"github.com/Klingon-tech/klingnet-indexer/internal/query"
	"github.com/Klingon-tech/klingnet-indexer/internal/source"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/internal/testblocks"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
)

func testClock() time.Time {
	return time.Unix(testblocks.GenesisTime+1000*600, 0)
}

func newTestIndexer(t *testing.T, db storage.DB, genesisRaw []byte, fake *source.Fake, threshold uint32) *Indexer {
	t.Helper()
	cfg := config.DefaultRegtest()
	cfg.StabilityThreshold = threshold
	ix, err := New(cfg, db, genesisRaw, fake, WithClock(testClock))
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	return ix
}

func settle(t *testing.T, ix *Indexer) {
	t.Helper()
	for round := 0; round < 3; round++ {
		for i := 0; ; i++ {
			res, err := ix.Tick(context.Background())
			if err != nil {
				t.Fatalf("tick: %v", err)
			}
			if res == ingestor.TickComplete {
				break
			}
			if i > 1000 {
				t.Fatal("ingestion did not converge")
			}
		}
	}
}

// Scenario S1: a lone genesis coinbase is immediately visible at zero
// confirmations.
func TestSingleCoinbaseVisible(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, genesis := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})

	ix := newTestIndexer(t, storage.NewMemory(), genesisRaw, source.NewFake(), 2)
	addrA := testblocks.Address(t, 1)

	bal, err := ix.GetBalance(addrA, 0)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal != 1000 {
		t.Fatalf("balance = %d, want 1000", bal)
	}

	resp, err := ix.GetUtxos(query.GetUtxosRequest{Address: addrA})
	if err != nil {
		t.Fatalf("get utxos: %v", err)
	}
	if len(resp.Utxos) != 1 {
		t.Fatalf("utxo count = %d, want 1", len(resp.Utxos))
	}
	u := resp.Utxos[0]
	if u.OutPoint.TxID != cb.TxHash() || u.OutPoint.Vout != 0 || u.Value != 1000 || u.Height != 0 {
		t.Fatalf("utxo = %+v", u)
	}
	if resp.TipBlockHash != genesis.Header().Hash() {
		t.Fatalf("tip = %s, want genesis", resp.TipBlockHash)
	}
}

// Full-stack sync: blocks flow source → validator → tree → finalization,
// and queries see both stable and unstable effects.
func TestEndToEndSyncAndQuery(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, genesis := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})

	fake := source.NewFake()
	// A chain of 4 blocks: the first spends the genesis coinbase to B,
	// the rest are plain coinbases to keep the chain growing.
	spend := testblocks.SpendTx(cb.TxHash(), 0, 1000, 2)
	raw1, b1 := testblocks.Mine(t, genesis.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 40, 1), spend})
	if err := fake.AddBlock(raw1); err != nil {
		t.Fatalf("add: %v", err)
	}
	prev := b1
	for h := uint32(2); h <= 4; h++ {
		raw, blk := testblocks.Mine(t, prev.Header().Hash(), testblocks.GenesisTime+int64(h)*600,
			[]*wire.MsgTx{testblocks.CoinbaseTx(50, 40+byte(h), h)})
		if err := fake.AddBlock(raw); err != nil {
			t.Fatalf("add: %v", err)
		}
		prev = blk
	}

	ix := newTestIndexer(t, storage.NewMemory(), genesisRaw, fake, 2)
	settle(t, ix)

	// Chain is genesis..4; threshold 2 finalizes up through height 2.
	if got := ix.Store().NextHeight(); got != 3 {
		t.Fatalf("next height = %d, want 3", got)
	}

	addrB := testblocks.Address(t, 2)
	bal, err := ix.GetBalance(addrB, 0)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 1000 {
		t.Fatalf("balance(B) = %d, want 1000", bal)
	}

	headers, err := ix.GetBlockHeaders(0, 10)
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if len(headers) != 5 {
		t.Fatalf("header count = %d, want 5", len(headers))
	}
	for i := range headers {
		if len(headers[i]) != btcblock.HeaderSize {
			t.Fatalf("header %d size %d", i, len(headers[i]))
		}
	}
}

func TestAPIGates(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, _ := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	ix := newTestIndexer(t, storage.NewMemory(), genesisRaw, source.NewFake(), 2)
	addrA := testblocks.Address(t, 1)

	off := false
	ix.SetConfig(config.AdminUpdate{APIAccess: &off})
	if _, err := ix.GetBalance(addrA, 0); !errors.Is(err, ErrAPIDisabled) {
		t.Fatalf("err = %v, want ErrAPIDisabled", err)
	}

	on := true
	strict := true
	ix.SetConfig(config.AdminUpdate{APIAccess: &on, DisableAPIIfNotFullySynced: &strict})
	// Announce a successor that never arrives: the node is not fully
	// synced, so strict mode rejects queries.
	ix.Tree().NoteExpectedSuccessor(chainhash.Hash{0x77})
	if _, err := ix.GetBalance(addrA, 0); !errors.Is(err, ErrNotFullySynced) {
		t.Fatalf("err = %v, want ErrNotFullySynced", err)
	}

	relaxed := false
	ix.SetConfig(config.AdminUpdate{DisableAPIIfNotFullySynced: &relaxed})
	if _, err := ix.GetBalance(addrA, 0); err != nil {
		t.Fatalf("relaxed query failed: %v", err)
	}
}

func TestSetConfigRetunesStabilityThreshold(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, _ := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	ix := newTestIndexer(t, storage.NewMemory(), genesisRaw, source.NewFake(), 2)

	threshold := uint32(9)
	ix.SetConfig(config.AdminUpdate{StabilityThreshold: &threshold})
	if got := ix.Tree().StabilityThreshold(); got != 9 {
		t.Fatalf("tree threshold = %d, want 9", got)
	}
	if got := ix.Config().StabilityThreshold; got != 9 {
		t.Fatalf("config threshold = %d, want 9", got)
	}
}

func TestSendTransactionQueue(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, _ := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	ix := newTestIndexer(t, storage.NewMemory(), genesisRaw, source.NewFake(), 2)

	if err := ix.SendTransaction([]byte{0xde, 0xad}); !errors.Is(err, ErrMalformedTransaction) {
		t.Fatalf("err = %v, want ErrMalformedTransaction", err)
	}

	tx := testblocks.SpendTx(cb.TxHash(), 0, 900, 2)
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	raw := buf.Bytes()
	if err := ix.SendTransaction(raw); err != nil {
		t.Fatalf("send: %v", err)
	}
	drained := ix.DrainTransactions()
	if len(drained) != 1 || len(drained[0]) != len(raw) {
		t.Fatalf("drained %d transactions", len(drained))
	}
	if len(ix.DrainTransactions()) != 0 {
		t.Fatal("queue should be empty after drain")
	}
}

// Upgrade round trip: pre_upgrade state plus the durable KV regions fully
// reconstruct the tree, the cache, and the query results.
func TestUpgradeRoundTrip(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, genesis := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})

	fake := source.NewFake()
	spend := testblocks.SpendTx(cb.TxHash(), 0, 1000, 2)
	raw1, b1 := testblocks.Mine(t, genesis.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 50, 1), spend})
	raw2, b2 := testblocks.Mine(t, b1.Header().Hash(), testblocks.GenesisTime+1200,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 51, 2)})
	raw3, _ := testblocks.Mine(t, b2.Header().Hash(), testblocks.GenesisTime+1800,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 52, 3)})
	for _, raw := range [][]byte{raw1, raw2, raw3} {
		if err := fake.AddBlock(raw); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	db := storage.NewMemory()
	ix := newTestIndexer(t, db, genesisRaw, fake, 2)
	settle(t, ix)

	addrB := testblocks.Address(t, 2)
	balBefore, err := ix.GetBalance(addrB, 0)
	if err != nil {
		t.Fatalf("balance before: %v", err)
	}
	anchorBefore := ix.Tree().AnchorHash()

	if err := ix.PreUpgrade(); err != nil {
		t.Fatalf("pre_upgrade: %v", err)
	}

	// "Restart": a new container over the same database.
	restored := newTestIndexer(t, db, genesisRaw, fake, 2)
	if got := restored.Tree().AnchorHash(); got != anchorBefore {
		t.Fatalf("restored anchor = %s, want %s", got, anchorBefore)
	}
	balAfter, err := restored.GetBalance(addrB, 0)
	if err != nil {
		t.Fatalf("balance after: %v", err)
	}
	if balAfter != balBefore {
		t.Fatalf("balance after restore = %d, want %d", balAfter, balBefore)
	}
	if restored.Store().NextHeight() != ix.Store().NextHeight() {
		t.Fatalf("next height diverged: %d vs %d", restored.Store().NextHeight(), ix.Store().NextHeight())
	}
}

// Property 10: replaying the same raw blocks into a fresh instance with
// the same stability threshold yields the same observable state.
func TestReplayDeterminism(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, genesis := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})

	var raws [][]byte
	spend := testblocks.SpendTx(cb.TxHash(), 0, 1000, 2)
	raw1, b1 := testblocks.Mine(t, genesis.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 60, 1), spend})
	raws = append(raws, raw1)
	prev := b1
	for h := uint32(2); h <= 5; h++ {
		raw, blk := testblocks.Mine(t, prev.Header().Hash(), testblocks.GenesisTime+int64(h)*600,
			[]*wire.MsgTx{testblocks.CoinbaseTx(50, 60+byte(h), h)})
		raws = append(raws, raw)
		prev = blk
	}

	run := func() *Indexer {
		fake := source.NewFake()
		for _, raw := range raws {
			if err := fake.AddBlock(raw); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		ix := newTestIndexer(t, storage.NewMemory(), genesisRaw, fake, 2)
		settle(t, ix)
		return ix
	}

	a, b := run(), run()
	if a.Store().NextHeight() != b.Store().NextHeight() {
		t.Fatalf("next heights diverge: %d vs %d", a.Store().NextHeight(), b.Store().NextHeight())
	}
	if a.Store().Stats() != b.Store().Stats() {
		t.Fatalf("stats diverge: %+v vs %+v", a.Store().Stats(), b.Store().Stats())
	}
	if a.Tree().AnchorHash() != b.Tree().AnchorHash() {
		t.Fatalf("anchors diverge")
	}
	for seed := byte(1); seed < 10; seed++ {
		addr := testblocks.Address(t, seed)
		ba, err := a.GetBalance(addr, 0)
		if err != nil {
			t.Fatalf("balance a: %v", err)
		}
		bb, err := b.GetBalance(addr, 0)
		if err != nil {
			t.Fatalf("balance b: %v", err)
		}
		if ba != bb {
			t.Fatalf("balance(%d) diverges: %d vs %d", seed, ba, bb)
		}
	}
}
