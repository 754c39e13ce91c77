// Package unstablecache implements the outpoints cache: the
// in-memory ledger of every transaction output the unstable portion of the
// chain references, shared by every block still sitting above the stable
// anchor. It exists because UnstableBlockTree nodes hold only headers plus
// raw transactions — something has to answer "what did this input spend"
// and "what does this address now hold" before those blocks are final
// enough to fold into UtxoStore.
package unstablecache

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/script"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// ErrTxOutNotFound is returned when a block references an input whose
// output cannot be resolved from the cache, an earlier transaction in the
// same block, or the stable UtxoStore.
var ErrTxOutNotFound = errors.New("unstablecache: referenced output not found")

// UtxoSource is the read-only view of the stable store that Insert falls
// back to once the cache and in-block predecessors are exhausted.
type UtxoSource interface {
	Get(op wirefmt.OutPoint) (wirefmt.UtxoEntry, bool, error)
}

// entry is the tx_outs record: the output plus how many unstable blocks
// currently reference it.
type entry struct {
	TxOut    wirefmt.TxOut
	Height   uint32
	Refcount uint32
}

// Cache is the OutPointsCache. The zero value is not usable; use New.
type Cache struct {
	network chainparams.Network

	txOuts map[wirefmt.OutPoint]*entry

	// added/removed are keyed by block hash, then derived address.
	added   map[chainhash.Hash]map[string][]wirefmt.OutPoint
	removed map[chainhash.Hash]map[string][]wirefmt.OutPoint

	// touches records every outpoint reference Insert made for a block,
	// in the order made, so Remove can undo exactly those increments.
	// It is bookkeeping private to this implementation, not part of the
	// externally observable cache state.
	touches map[chainhash.Hash][]wirefmt.OutPoint
}

// New creates an empty OutPointsCache. network selects how output scripts
// are decoded into addresses for the added/removed indices.
func New(network chainparams.Network) *Cache {
	return &Cache{
		network: network,
		txOuts:  make(map[wirefmt.OutPoint]*entry),
		added:   make(map[chainhash.Hash]map[string][]wirefmt.OutPoint),
		removed: make(map[chainhash.Hash]map[string][]wirefmt.OutPoint),
		touches: make(map[chainhash.Hash][]wirefmt.OutPoint),
	}
}

// Get returns the cached output for op, if this cache currently carries it.
func (c *Cache) Get(op wirefmt.OutPoint) (wirefmt.TxOut, uint32, bool) {
	e, ok := c.txOuts[op]
	if !ok {
		return wirefmt.TxOut{}, 0, false
	}
	return e.TxOut, e.Height, true
}

// AddedOutpoints returns the outpoints block created for address, in the
// order they were inserted.
func (c *Cache) AddedOutpoints(block chainhash.Hash, address string) []wirefmt.OutPoint {
	return c.added[block][address]
}

// RemovedOutpoints returns the outpoints block spent for address.
func (c *Cache) RemovedOutpoints(block chainhash.Hash, address string) []wirefmt.OutPoint {
	return c.removed[block][address]
}

// Insert applies one unstable block's effects atomically: either every
// input resolves and every output is recorded, or the cache is left
// completely unchanged and ErrTxOutNotFound is returned.
func (c *Cache) Insert(utxos UtxoSource, blk *btcblock.Block, height uint32) error {
	blockHash := blk.Header().Hash()

	pending := make(map[wirefmt.OutPoint]*entry)
	var touched []wirefmt.OutPoint
	added := make(map[string][]wirefmt.OutPoint)
	removed := make(map[string][]wirefmt.OutPoint)

	resolve := func(op wirefmt.OutPoint) (*entry, error) {
		if e, ok := pending[op]; ok {
			return e, nil
		}
		if e, ok := c.txOuts[op]; ok {
			clone := *e
			return &clone, nil
		}
		u, ok, err := utxos.Get(op)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrTxOutNotFound
		}
		return &entry{TxOut: u.TxOut, Height: u.Height, Refcount: 0}, nil
	}

	for _, tx := range blk.Transactions() {
		if !btcblock.IsCoinbase(tx) {
			for _, txin := range tx.TxIn {
				op := wirefmt.OutPoint{TxID: txin.PreviousOutPoint.Hash, Vout: txin.PreviousOutPoint.Index}
				e, err := resolve(op)
				if err != nil {
					return err
				}
				e.Refcount++
				pending[op] = e
				touched = append(touched, op)

				if addr, _, ok := script.ExtractAddress(e.TxOut.ScriptPubKey, c.network); ok {
					removed[addr] = append(removed[addr], op)
				}
			}
		}

		txid := tx.TxHash()
		for i, txout := range tx.TxOut {
			if script.IsProvablyUnspendable(txout.PkScript) {
				continue
			}
			op := wirefmt.OutPoint{TxID: txid, Vout: uint32(i)}

			e, ok := pending[op]
			if !ok {
				if existing, ok2 := c.txOuts[op]; ok2 {
					clone := *existing
					e = &clone
				} else {
					e = &entry{
						TxOut:  wirefmt.TxOut{Value: uint64(txout.Value), ScriptPubKey: txout.PkScript},
						Height: height,
					}
				}
			}
			e.Refcount++
			pending[op] = e
			touched = append(touched, op)

			if addr, _, ok := script.ExtractAddress(txout.PkScript, c.network); ok {
				added[addr] = append(added[addr], op)
			}
		}
	}

	for op, e := range pending {
		c.txOuts[op] = e
	}
	c.added[blockHash] = added
	c.removed[blockHash] = removed
	c.touches[blockHash] = touched
	return nil
}

// Remove undoes the refcount increments Insert made for block, dropping
// any tx_outs entry whose refcount reaches zero, and discards the block's
// added/removed address maps.
func (c *Cache) Remove(block chainhash.Hash) {
	for _, op := range c.touches[block] {
		e, ok := c.txOuts[op]
		if !ok {
			continue
		}
		if e.Refcount <= 1 {
			delete(c.txOuts, op)
		} else {
			e.Refcount--
		}
	}
	delete(c.added, block)
	delete(c.removed, block)
	delete(c.touches, block)
}
