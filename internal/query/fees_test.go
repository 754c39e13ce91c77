package query

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/internal/testblocks"
)

func TestPercentilesEmptyInput(t *testing.T) {
	if got := percentiles(nil); len(got) != 0 {
		t.Fatalf("percentiles(nil) length = %d, want 0", len(got))
	}
}

func TestPercentilesNearestRank(t *testing.T) {
	got := percentiles([]uint64{50, 35, 15, 40, 20})
	if len(got) != percentileBuckets {
		t.Fatalf("length = %d, want %d", len(got), percentileBuckets)
	}
	checkRange := func(lo, hi int, want uint64) {
		t.Helper()
		for p := lo; p < hi; p++ {
			if got[p] != want {
				t.Fatalf("percentile %d = %d, want %d", p, got[p], want)
			}
		}
	}
	checkRange(0, 21, 15)
	checkRange(21, 41, 20)
	checkRange(41, 61, 35)
	checkRange(61, 81, 40)
	checkRange(81, 101, 50)
}

func TestPercentilesSequentialNumbers(t *testing.T) {
	input := make([]uint64, 1000)
	for i := range input {
		input[i] = uint64(i + 1)
	}
	got := percentiles(input)
	if got[0] != 1 || got[1] != 10 || got[50] != 500 || got[100] != 1000 {
		t.Fatalf("sequential percentiles wrong: p0=%d p1=%d p50=%d p100=%d", got[0], got[1], got[50], got[100])
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("percentiles not non-decreasing at %d", i)
		}
	}
}

// Mirrors scenario S4: five transfers with fees 0..4 over a fresh chain
// produce five distinct fee rates spread across the 101 buckets.
func TestFeePercentilesOverChain(t *testing.T) {
	cb := testblocks.CoinbaseTx(10_000, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	f := newFixture(t, b0, 10)

	// Each block spends the previous output, leaving fee i behind.
	prevBlockHash := b0.Header().Hash()
	prevTxid := cb.TxHash()
	prevValue := int64(10_000)
	var txs []*wire.MsgTx
	for i := int64(0); i < 5; i++ {
		outValue := prevValue - i
		tx := testblocks.SpendTx(prevTxid, 0, outValue, 1)
		_, blk := testblocks.Mine(t, prevBlockHash, testblocks.GenesisTime+(i+1)*600,
			[]*wire.MsgTx{testblocks.CoinbaseTx(50, byte(20+i), uint32(i+1)), tx})
		f.push(t, blk)
		txs = append(txs, tx)
		prevBlockHash = blk.Header().Hash()
		prevTxid = tx.TxHash()
		prevValue = outValue
	}

	vsize := txVsize(txs[0])
	want := make([]uint64, 5)
	for i := uint64(0); i < 5; i++ {
		want[i] = 1000 * i / vsize
	}

	got := f.layer.GetCurrentFeePercentiles()
	if len(got) != percentileBuckets {
		t.Fatalf("length = %d, want %d", len(got), percentileBuckets)
	}
	check := func(lo, hi int, w uint64) {
		t.Helper()
		for p := lo; p < hi; p++ {
			if got[p] != w {
				t.Fatalf("percentile %d = %d, want %d", p, got[p], w)
			}
		}
	}
	check(0, 21, want[0])
	check(21, 41, want[1])
	check(41, 61, want[2])
	check(61, 81, want[3])
	check(81, 101, want[4])
}

func TestFeePercentilesCoinbaseOnlyWindowThenStableAcrossTips(t *testing.T) {
	cb := testblocks.CoinbaseTx(10_000, 1, 0)
	_, b0 := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})
	f := newFixture(t, b0, 10)

	// A window with only coinbases has nothing to sample.
	if got := f.layer.GetCurrentFeePercentiles(); len(got) != 0 {
		t.Fatalf("coinbase-only window yielded %d percentiles, want 0", len(got))
	}

	// One fee-paying block fills the cache.
	tx := testblocks.SpendTx(cb.TxHash(), 0, 9_900, 2)
	_, b1 := testblocks.Mine(t, b0.Header().Hash(), testblocks.GenesisTime+600,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 30, 1), tx})
	f.push(t, b1)
	withFees := f.layer.GetCurrentFeePercentiles()
	if len(withFees) != percentileBuckets {
		t.Fatalf("length = %d, want %d", len(withFees), percentileBuckets)
	}

	// A new coinbase-only tip extends the main chain without adding any
	// fees of its own.
	_, b2 := testblocks.Mine(t, b1.Header().Hash(), testblocks.GenesisTime+1200,
		[]*wire.MsgTx{testblocks.CoinbaseTx(50, 31, 2)})
	f.push(t, b2)

	// The fee window still includes b1, so fees remain; verify the call
	// is stable across tips either way.
	again := f.layer.GetCurrentFeePercentiles()
	if len(again) != percentileBuckets {
		t.Fatalf("length after new tip = %d, want %d", len(again), percentileBuckets)
	}
	for i := range withFees {
		if withFees[i] != again[i] {
			t.Fatalf("percentiles changed at %d: %d vs %d", i, withFees[i], again[i])
		}
	}
}
