package query

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/internal/headerstore"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/internal/testblocks"
	"github.com/Klingon-tech/klingnet-indexer/internal/unstabletree"
	"github.com/Klingon-tech/klingnet-indexer/internal/utxostore"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

type fixture struct {
	store   *utxostore.Store
	tree    *unstabletree.Tree
	headers *headerstore.Store
	layer   *Layer
}

// newFixture builds a fresh state anchored at the given genesis block.
func newFixture(t *testing.T, genesis *btcblock.Block, stabilityThreshold uint32) *fixture {
	t.Helper()
	db := storage.NewMemory()
	store := utxostore.New(db, chainparams.Regtest)
	headers := headerstore.New(db)
	tree, err := unstabletree.New(store, genesis, 0, stabilityThreshold, chainparams.Regtest)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return &fixture{
		store:   store,
		tree:    tree,
		headers: headers,
		layer:   New(store, tree, headers, chainparams.Regtest),
	}
}

func (f *fixture) push(t *testing.T, blk *btcblock.Block) {
	t.Helper()
	if _, err := f.tree.Push(f.store, blk); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, address string, minConf uint32) uint64 {
	t.Helper()
	bal, err := f.layer.GetBalance(address, minConf)
	if err != nil {
		t.Fatalf("get balance %s conf=%d: %v", address, minConf, err)
	}
	return bal
}

// Mirrors scenario S2: a coinbase to A followed by a transfer to B, with
// balances read at increasing confirmation requirements.
func TestBalanceTransferAcrossConfirmations(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	spend := testblocks.SpendTx(cb.TxHash(), 0, 1000, 2)
	_, b1 := testblocks.Mine(t, b0.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 9, 1), spend})

	f := newFixture(t, b0, 2)
	f.push(t, b1)

	addrA := testblocks.Address(t, 1)
	addrB := testblocks.Address(t, 2)

	if got := f.balance(t, addrA, 0); got != 0 {
		t.Errorf("balance(A, 0) = %d, want 0", got)
	}
	if got := f.balance(t, addrB, 0); got != 1000 {
		t.Errorf("balance(B, 0) = %d, want 1000", got)
	}
	if got := f.balance(t, addrA, 2); got != 1000 {
		t.Errorf("balance(A, 2) = %d, want 1000", got)
	}
	if got := f.balance(t, addrB, 2); got != 0 {
		t.Errorf("balance(B, 2) = %d, want 0", got)
	}

	_, err := f.layer.GetBalance(addrA, 3)
	var tooLarge MinConfirmationsTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("balance(A, 3) err = %v, want MinConfirmationsTooLargeError", err)
	}
	if tooLarge.Given != 3 || tooLarge.Max != 2 {
		t.Fatalf("MinConfirmationsTooLargeError = %+v, want given 3 max 2", tooLarge)
	}
}

// Mirrors scenario S3: contested forks contribute nothing; a deeper fork
// becomes the main chain.
func TestForkContestedThenResolved(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})

	spendToB := testblocks.SpendTx(cb.TxHash(), 0, 1000, 2)
	_, b1 := testblocks.Mine(t, b0.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 10, 1), spendToB})

	spendToC := testblocks.SpendTx(cb.TxHash(), 0, 1000, 3)
	_, b1p := testblocks.Mine(t, b0.Header().Hash(), testblocks.GenesisTime+601,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 11, 1), spendToC})

	f := newFixture(t, b0, 2)
	f.push(t, b1)
	f.push(t, b1p)

	addrA := testblocks.Address(t, 1)
	addrB := testblocks.Address(t, 2)
	addrC := testblocks.Address(t, 3)
	addrD := testblocks.Address(t, 4)

	// The fork is contested: neither branch's effects show, and the tip
	// reported is the last uncontested block.
	if got := f.balance(t, addrB, 0); got != 0 {
		t.Errorf("balance(B, 0) = %d, want 0 while fork contested", got)
	}
	if got := f.balance(t, addrC, 0); got != 0 {
		t.Errorf("balance(C, 0) = %d, want 0 while fork contested", got)
	}
	if got := f.balance(t, addrA, 0); got != 1000 {
		t.Errorf("balance(A, 0) = %d, want 1000 while fork contested", got)
	}
	resp, err := f.layer.GetUtxos(GetUtxosRequest{Address: addrA})
	if err != nil {
		t.Fatalf("get utxos: %v", err)
	}
	if resp.TipBlockHash != b0.Header().Hash() {
		t.Errorf("contested tip = %s, want %s", resp.TipBlockHash, b0.Header().Hash())
	}

	// Extending the second branch makes it the main chain.
	spendToD := testblocks.SpendTx(spendToC.TxHash(), 0, 1000, 4)
	_, b2p := testblocks.Mine(t, b1p.Header().Hash(), testblocks.GenesisTime+1200,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 12, 2), spendToD})
	f.push(t, b2p)

	if got := f.balance(t, addrD, 0); got != 1000 {
		t.Errorf("balance(D, 0) = %d, want 1000 after fork resolution", got)
	}
	if got := f.balance(t, addrB, 0); got != 0 {
		t.Errorf("balance(B, 0) = %d, want 0 on the losing branch", got)
	}
	if got := f.balance(t, addrA, 0); got != 0 {
		t.Errorf("balance(A, 0) = %d, want 0 after main-chain spend", got)
	}
}

func TestGetUtxosMalformedAddress(t *testing.T) {
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime,
		[]*wire.MsgTx{testblocks.CoinbaseTx(1000, 1, 0)})
	f := newFixture(t, b0, 2)

	_, err := f.layer.GetUtxos(GetUtxosRequest{Address: "not-an-address"})
	if !errors.Is(err, ErrMalformedAddress) {
		t.Fatalf("err = %v, want ErrMalformedAddress", err)
	}
}

func TestGetUtxosMalformedPage(t *testing.T) {
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime,
		[]*wire.MsgTx{testblocks.CoinbaseTx(1000, 1, 0)})
	f := newFixture(t, b0, 2)

	_, err := f.layer.GetUtxos(GetUtxosRequest{Address: testblocks.Address(t, 1), Page: []byte{1, 2, 3}})
	var malformed MalformedPageError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedPageError", err)
	}
}

func TestGetUtxosUnknownTip(t *testing.T) {
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime,
		[]*wire.MsgTx{testblocks.CoinbaseTx(1000, 1, 0)})
	f := newFixture(t, b0, 2)

	cursor := wirefmt.PageCursor{TipBlockHash: chainhash.Hash{0xAB}, Height: 0}
	enc := cursor.Encode()
	_, err := f.layer.GetUtxos(GetUtxosRequest{Address: testblocks.Address(t, 1), Page: enc[:]})
	var unknown UnknownTipBlockHashError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownTipBlockHashError", err)
	}
	if unknown.Tip != cursor.TipBlockHash {
		t.Fatalf("UnknownTipBlockHashError.Tip = %s", unknown.Tip)
	}
}

// Pagination property: concatenating all pages equals the single-shot
// result for any limit, across the stable/unstable merge.
func TestGetUtxosPaginationConsistency(t *testing.T) {
	cb := testblocks.CoinbaseTx(100, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	f := newFixture(t, b0, 2)

	// Stable entries for the same address, inserted directly.
	addrScript := testblocks.P2PKHScript(1)
	for i := byte(0); i < 5; i++ {
		op := wirefmt.OutPoint{TxID: chainhash.Hash{0x40 + i}, Vout: uint32(i)}
		if err := f.store.Insert(op, wirefmt.TxOut{Value: uint64(10 + i), ScriptPubKey: addrScript}, uint32(i)); err != nil {
			t.Fatalf("insert stable: %v", err)
		}
	}

	// More unstable entries via a pushed block paying the address thrice.
	multi := testblocks.CoinbaseTx(7, 1, 1)
	multi.AddTxOut(&wire.TxOut{Value: 8, PkScript: addrScript})
	multi.AddTxOut(&wire.TxOut{Value: 9, PkScript: addrScript})
	_, b1 := testblocks.Mine(t, b0.Header().Hash(), testblocks.GenesisTime+600, []*wire.MsgTx{multi})
	f.push(t, b1)

	addr := testblocks.Address(t, 1)
	single, err := f.layer.GetUtxos(GetUtxosRequest{Address: addr})
	if err != nil {
		t.Fatalf("single shot: %v", err)
	}
	if len(single.Utxos) != 9 { // 5 stable + genesis coinbase + 3 from b1
		t.Fatalf("single-shot count = %d, want 9", len(single.Utxos))
	}
	for i := 1; i < len(single.Utxos); i++ {
		if single.Utxos[i].Height > single.Utxos[i-1].Height {
			t.Fatalf("heights not descending at %d", i)
		}
	}

	for limit := 1; limit <= 4; limit++ {
		var paged []Utxo
		var page []byte
		for {
			resp, err := f.layer.GetUtxos(GetUtxosRequest{Address: addr, Limit: limit, Page: page})
			if err != nil {
				t.Fatalf("limit %d: %v", limit, err)
			}
			paged = append(paged, resp.Utxos...)
			if resp.NextPage == nil {
				break
			}
			page = resp.NextPage
		}
		if len(paged) != len(single.Utxos) {
			t.Fatalf("limit %d: paged count %d != %d", limit, len(paged), len(single.Utxos))
		}
		for i := range paged {
			if paged[i] != single.Utxos[i] {
				t.Fatalf("limit %d: mismatch at %d: %+v vs %+v", limit, i, paged[i], single.Utxos[i])
			}
		}
	}
}

// Confirmation monotonicity: raising min_confirmations never yields more
// UTXOs.
func TestGetUtxosConfirmationMonotonicity(t *testing.T) {
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	f := newFixture(t, b0, 4)

	prev := b0
	for h := uint32(1); h <= 3; h++ {
		pay := testblocks.CoinbaseTx(int64(100*h), 1, h)
		_, blk := testblocks.Mine(t, prev.Header().Hash(), testblocks.GenesisTime+int64(h)*600,
			[]*wire.MsgTx{pay})
		f.push(t, blk)
		prev = blk
	}

	addr := testblocks.Address(t, 1)
	prevCount := -1
	for conf := uint32(4); ; conf-- {
		resp, err := f.layer.GetUtxos(GetUtxosRequest{Address: addr, MinConfirmations: conf})
		if err != nil {
			t.Fatalf("conf %d: %v", conf, err)
		}
		if prevCount >= 0 && len(resp.Utxos) < prevCount {
			t.Fatalf("conf %d yields %d utxos, fewer than conf %d's %d", conf, len(resp.Utxos), conf+1, prevCount)
		}
		prevCount = len(resp.Utxos)
		if conf == 0 {
			break
		}
	}
}

func TestGetBlockHeadersSpansStableAndUnstable(t *testing.T) {
	cb0 := testblocks.CoinbaseTx(1000, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb0})

	db := storage.NewMemory()
	store := utxostore.New(db, chainparams.Regtest)
	headers := headerstore.New(db)

	// Finalize b0 the way the ingestor would.
	if res, err := store.IngestBlock(b0, utxostore.NewBudget(1<<30)); err != nil || res != utxostore.ResultDone {
		t.Fatalf("ingest b0: res=%v err=%v", res, err)
	}
	if err := headers.Put(b0.Header(), 0); err != nil {
		t.Fatalf("put header: %v", err)
	}

	_, b1 := testblocks.Mine(t, b0.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(1000, 2, 1)})
	tree, err := unstabletree.New(store, b1, 1, 2, chainparams.Regtest)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	_, b2 := testblocks.Mine(t, b1.Header().Hash(), testblocks.GenesisTime+1200,
		[]*wire.MsgTx{testblocks.CoinbaseTx(1000, 3, 2)})
	if _, err := tree.Push(store, b2); err != nil {
		t.Fatalf("push b2: %v", err)
	}

	layer := New(store, tree, headers, chainparams.Regtest)

	got, err := layer.GetBlockHeaders(0, 10)
	if err != nil {
		t.Fatalf("get block headers: %v", err)
	}
	want := [][]byte{b0.Header().Bytes(), b1.Header().Bytes(), b2.Header().Bytes()}
	if len(got) != len(want) {
		t.Fatalf("header count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("header %d differs at byte %d", i, j)
			}
		}
	}

	tail, err := layer.GetBlockHeaders(2, 2)
	if err != nil {
		t.Fatalf("get tail headers: %v", err)
	}
	if len(tail) != 1 || tail[0][0] != b2.Header().Bytes()[0] {
		t.Fatalf("tail = %d headers, want just the unstable tip", len(tail))
	}

	empty, err := layer.GetBlockHeaders(7, 9)
	if err != nil {
		t.Fatalf("get empty range: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("out-of-range request returned %d headers", len(empty))
	}
}
