package indexer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/internal/unstabletree"
	"github.com/Klingon-tech/klingnet-indexer/internal/utxostore"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// upgradeStateKey addresses the serialized non-KV state inside the
// upgrade-state region. The KV partitions themselves persist as their own
// regions and are never touched across upgrades.
var upgradeStateKey = []byte("v1")

// upgradeState is the self-describing snapshot of everything that lives
// outside the durable KV regions: the unstable tree (as raw blocks in
// parents-first order) and the paused finalization cursor.
type upgradeState struct {
	AnchorHeight uint32

	// Blocks holds the tree's raw block encodings, breadth-first from
	// the anchor, so replaying Push reconstructs the same tree and
	// rebuilds the OutPointsCache along the way.
	Blocks [][]byte

	Partial *partialCursor
}

type partialCursor struct {
	RawBlock      []byte
	NextTxIdx     int
	NextInputIdx  int
	NextOutputIdx int
}

// PreUpgrade serializes the non-KV state into the upgrade-state region.
// Call it immediately before shutting the process down for an upgrade;
// the next New picks it up.
func (ix *Indexer) PreUpgrade() error {
	blocks := ix.tree.BlocksTopDown()
	st := upgradeState{AnchorHeight: ix.tree.AnchorHeight()}
	for _, blk := range blocks {
		raw, err := blk.Bytes()
		if err != nil {
			return err
		}
		st.Blocks = append(st.Blocks, raw)
	}
	if p := ix.store.Partial(); p != nil {
		raw, err := p.Block.Bytes()
		if err != nil {
			return err
		}
		st.Partial = &partialCursor{
			RawBlock:      raw,
			NextTxIdx:     p.NextTxIdx,
			NextInputIdx:  p.NextInputIdx,
			NextOutputIdx: p.NextOutputIdx,
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("indexer: encode upgrade state: %w", err)
	}
	upgradeDB := storage.NewPrefixDB(ix.db, storage.RegionUpgradeState)
	return upgradeDB.Put(upgradeStateKey, buf.Bytes())
}

// restoreState rebuilds the unstable tree (and the paused-block cursor,
// if any) from a serialized snapshot. The OutPointsCache is not
// serialized at all: replaying the blocks through Push regenerates it
// against the already-durable UTXO regions.
func restoreState(raw []byte, store *utxostore.Store, cfg *config.Config, network chainparams.Network) (*unstabletree.Tree, error) {
	var st upgradeState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(st.Blocks) == 0 {
		return nil, fmt.Errorf("snapshot has no anchor block")
	}

	// Restore the paused cursor first: the anchor's cache insertion must
	// resolve inputs the same way it did before the upgrade, and a
	// half-ingested block means some of its inputs are already gone from
	// the stable store.
	if st.Partial != nil {
		blk, err := btcblock.Parse(st.Partial.RawBlock)
		if err != nil {
			return nil, fmt.Errorf("parse partial block: %w", err)
		}
		store.RestorePartial(&utxostore.PartialStableBlock{
			Block:         blk,
			NextTxIdx:     st.Partial.NextTxIdx,
			NextInputIdx:  st.Partial.NextInputIdx,
			NextOutputIdx: st.Partial.NextOutputIdx,
		})
	}

	anchor, err := btcblock.Parse(st.Blocks[0])
	if err != nil {
		return nil, fmt.Errorf("parse anchor block: %w", err)
	}
	tree, err := unstabletree.New(resolveThroughPartial{store}, anchor, st.AnchorHeight, cfg.StabilityThreshold, network)
	if err != nil {
		return nil, fmt.Errorf("re-anchor: %w", err)
	}
	for _, rawBlock := range st.Blocks[1:] {
		blk, err := btcblock.Parse(rawBlock)
		if err != nil {
			return nil, fmt.Errorf("parse tree block: %w", err)
		}
		if _, err := tree.Push(resolveThroughPartial{store}, blk); err != nil {
			return nil, fmt.Errorf("replay tree block: %w", err)
		}
	}
	return tree, nil
}

// resolveThroughPartial widens the stable store's Get with the outputs of
// a half-ingested block: outputs that block already inserted are in the
// store, while outputs it has not reached yet must still resolve for the
// tree replay to succeed.
type resolveThroughPartial struct {
	store *utxostore.Store
}

func (r resolveThroughPartial) Get(op wirefmt.OutPoint) (wirefmt.UtxoEntry, bool, error) {
	if e, ok, err := r.store.Get(op); err != nil || ok {
		return e, ok, err
	}
	p := r.store.Partial()
	if p == nil {
		return wirefmt.UtxoEntry{}, false, nil
	}
	txids := p.Block.Txids()
	height := r.store.NextHeight()
	for i, tx := range p.Block.Transactions() {
		if txids[i] != op.TxID {
			continue
		}
		if int(op.Vout) >= len(tx.TxOut) {
			break
		}
		out := tx.TxOut[op.Vout]
		return wirefmt.UtxoEntry{
			TxOut:  wirefmt.TxOut{Value: uint64(out.Value), ScriptPubKey: out.PkScript},
			Height: height,
		}, true, nil
	}
	return wirefmt.UtxoEntry{}, false, nil
}
