package query

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// feeSampleSize is how many recent non-coinbase transactions the
// percentile calculation samples from the unstable window.
const feeSampleSize = 10_000

// percentileBuckets is the response length: percentiles 0 through 100.
const percentileBuckets = 101

type feePercentilesCache struct {
	tipBlockHash chainhash.Hash
	percentiles  []uint64
}

// GetCurrentFeePercentiles returns the 101 fee percentiles (millisatoshi
// per vbyte) over the most recent transactions of the main chain.
// Results are cached per tip; a window with no non-coinbase
// transactions returns the last cached value so degenerate regtest
// chains keep reporting something sensible.
func (l *Layer) GetCurrentFeePercentiles() []uint64 {
	chain := append([]*btcblock.Block{l.tree.AnchorBlock()}, l.tree.GetMainChain()...)
	tipHash := chain[len(chain)-1].Header().Hash()

	if l.feeCache != nil && l.feeCache.tipBlockHash == tipHash {
		return append([]uint64(nil), l.feeCache.percentiles...)
	}

	fees := l.feesPerVbyte(chain)
	if len(fees) == 0 && l.feeCache != nil {
		return append([]uint64(nil), l.feeCache.percentiles...)
	}

	p := percentiles(fees)
	l.feeCache = &feePercentilesCache{tipBlockHash: tipHash, percentiles: append([]uint64(nil), p...)}
	return p
}

// feesPerVbyte collects fee rates tip-first, stopping after feeSampleSize
// non-coinbase transactions.
func (l *Layer) feesPerVbyte(chain []*btcblock.Block) []uint64 {
	cache := l.tree.Cache()
	var fees []uint64
	seen := 0
	for i := len(chain) - 1; i >= 0; i-- {
		if seen >= feeSampleSize {
			break
		}
		for _, tx := range chain[i].Transactions() {
			if seen >= feeSampleSize {
				break
			}
			if btcblock.IsCoinbase(tx) {
				continue
			}
			seen++
			if fee, ok := txFeePerVbyte(tx, cache); ok {
				fees = append(fees, fee)
			}
		}
	}
	return fees
}

// outpointResolver is the slice of the OutPointsCache fee calculation
// needs: every input of an unstable transaction is present there by
// construction.
type outpointResolver interface {
	Get(op wirefmt.OutPoint) (wirefmt.TxOut, uint32, bool)
}

// txFeePerVbyte computes 1000·(Σinputs − Σoutputs)/vsize with integer
// arithmetic only — no floats on a consensus-adjacent path.
func txFeePerVbyte(tx *wire.MsgTx, resolve outpointResolver) (uint64, bool) {
	var in uint64
	for _, txin := range tx.TxIn {
		op := wirefmt.OutPoint{TxID: txin.PreviousOutPoint.Hash, Vout: txin.PreviousOutPoint.Index}
		txout, _, ok := resolve.Get(op)
		if !ok {
			panic(fmt.Sprintf("query: tx out of outpoint %s must exist", op))
		}
		in += txout.Value
	}
	var out uint64
	for _, txout := range tx.TxOut {
		out += uint64(txout.Value)
	}

	vsize := txVsize(tx)
	if vsize == 0 {
		return 0, false
	}
	return 1000 * (in - out) / vsize, true
}

// txVsize is the BIP-141 virtual size: ceil(weight / 4) with
// weight = 3·stripped_size + total_size.
func txVsize(tx *wire.MsgTx) uint64 {
	base := uint64(tx.SerializeSizeStripped())
	total := uint64(tx.SerializeSize())
	weight := base*3 + total
	return (weight + 3) / 4
}

// percentiles returns the 0th..100th percentiles of values using the
// nearest-rank (inclusive, ceiling) method. Empty input yields an empty
// slice, so callers always see 0 or 101 entries.
func percentiles(values []uint64) []uint64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]uint64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make([]uint64, 0, percentileBuckets)
	n := len(sorted)
	for p := 0; p <= 100; p++ {
		rank := (p*n + 99) / 100 // ceil(p·n/100)
		idx := rank - 1
		if idx < 0 {
			idx = 0
		}
		out = append(out, sorted[idx])
	}
	return out
}
