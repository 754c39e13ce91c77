// Package query composes the stable UtxoStore with the unstable block
// tree to answer address balance and UTXO queries at a requested
// confirmation depth, plus recent fee percentiles and header ranges.
// Requests validate first, then read; nothing here mutates
// chain state except the fee-percentile cache.
package query

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/internal/headerstore"
	"github.com/Klingon-tech/klingnet-indexer/internal/unstabletree"
	"github.com/Klingon-tech/klingnet-indexer/internal/utxostore"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/script"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// ErrMalformedAddress is returned when a request's address does not parse
// for the layer's network.
var ErrMalformedAddress = errors.New("query: malformed address")

// MalformedPageError wraps a cursor that failed to deserialize.
type MalformedPageError struct {
	Err error
}

func (e MalformedPageError) Error() string { return fmt.Sprintf("query: malformed page: %v", e.Err) }
func (e MalformedPageError) Unwrap() error { return e.Err }

// UnknownTipBlockHashError reports a cursor referencing a tip no longer in
// the unstable tree — the expected outcome of paging across a reorg.
type UnknownTipBlockHashError struct {
	Tip chainhash.Hash
}

func (e UnknownTipBlockHashError) Error() string {
	return fmt.Sprintf("query: unknown tip block hash %s", e.Tip)
}

// MinConfirmationsTooLargeError reports a confirmation requirement deeper
// than the current chain.
type MinConfirmationsTooLargeError struct {
	Given uint32
	Max   uint32
}

func (e MinConfirmationsTooLargeError) Error() string {
	return fmt.Sprintf("query: min_confirmations %d exceeds chain length %d", e.Given, e.Max)
}

// Utxo is one unspent output in a query response.
type Utxo struct {
	OutPoint wirefmt.OutPoint
	Value    uint64
	Height   uint32
}

// GetUtxosRequest selects the UTXOs of one address. Page, when non-nil,
// resumes a prior response's pagination; Limit bounds the page size
// (0 = unlimited).
type GetUtxosRequest struct {
	Address          string
	MinConfirmations uint32
	Page             []byte
	Limit            int
}

// GetUtxosResponse carries one page of UTXOs plus the tip the view was
// computed against. NextPage is nil when no results remain.
type GetUtxosResponse struct {
	Utxos        []Utxo
	TipBlockHash chainhash.Hash
	TipHeight    uint32
	NextPage     []byte
}

// Layer is the QueryLayer.
type Layer struct {
	store   *utxostore.Store
	tree    *unstabletree.Tree
	headers *headerstore.Store
	network chainparams.Network

	feeCache *feePercentilesCache
}

// New wires a query layer over the given state.
func New(store *utxostore.Store, tree *unstabletree.Tree, headers *headerstore.Store, network chainparams.Network) *Layer {
	return &Layer{store: store, tree: tree, headers: headers, network: network}
}

// canonicalAddress parses and re-encodes a request address so index
// lookups use the same string Insert derived.
func (l *Layer) canonicalAddress(address string) (string, error) {
	if address == "" || len(address) > script.MaxAddressLen {
		return "", ErrMalformedAddress
	}
	decoded, err := btcutil.DecodeAddress(address, chainparams.ChaincfgParams(l.network))
	if err != nil {
		return "", ErrMalformedAddress
	}
	return decoded.EncodeAddress(), nil
}

// chainForRequest resolves which unstable chain a request reads: the main
// chain by default, or the ancestor path to the cursor's tip. The chain
// always starts at the anchor.
func (l *Layer) chainForRequest(page *wirefmt.PageCursor) ([]*btcblock.Block, error) {
	if page == nil {
		return append([]*btcblock.Block{l.tree.AnchorBlock()}, l.tree.GetMainChain()...), nil
	}
	path, _, err := l.tree.GetChainWithTip(page.TipBlockHash)
	if err != nil {
		return nil, UnknownTipBlockHashError{Tip: page.TipBlockHash}
	}
	return append([]*btcblock.Block{l.tree.AnchorBlock()}, path...), nil
}

// GetUtxos returns one page of address UTXOs at the requested confirmation
// depth
func (l *Layer) GetUtxos(req GetUtxosRequest) (*GetUtxosResponse, error) {
	var page *wirefmt.PageCursor
	if req.Page != nil {
		c, err := wirefmt.DecodePageCursor(req.Page)
		if err != nil {
			return nil, MalformedPageError{Err: err}
		}
		page = &c
	}

	chain, err := l.chainForRequest(page)
	if err != nil {
		return nil, err
	}
	return l.getUtxosFromChain(req, chain, page)
}

func (l *Layer) getUtxosFromChain(req GetUtxosRequest, chain []*btcblock.Block, page *wirefmt.PageCursor) (*GetUtxosResponse, error) {
	address, err := l.canonicalAddress(req.Address)
	if err != nil {
		return nil, err
	}

	if uint32(len(chain)) < req.MinConfirmations {
		return nil, MinConfirmationsTooLargeError{Given: req.MinConfirmations, Max: uint32(len(chain))}
	}

	// The anchor sits at the store's next height; the chain tip defines
	// every block's confirmation count.
	anchorHeight := l.store.NextHeight()
	chainHeight := anchorHeight + uint32(len(chain)) - 1

	var offset *utxostore.AddressOutpoint
	if page != nil {
		offset = &utxostore.AddressOutpoint{Height: page.Height, OutPoint: page.OutPoint}
	}

	stable, err := l.store.GetAddressOutpoints(address, offset)
	if err != nil {
		return nil, err
	}

	// Overlay unstable blocks deep enough for the requested confirmation
	// count. Blocks are in anchor-to-tip order, so the first block that
	// is too shallow ends the walk.
	cache := l.tree.Cache()
	var added []Utxo
	removed := make(map[wirefmt.OutPoint]struct{})

	tipHash := chain[0].Header().Hash()
	tipHeight := anchorHeight
	for i, blk := range chain {
		blockHeight := anchorHeight + uint32(i)
		confirmations := chainHeight - blockHeight + 1
		if confirmations < req.MinConfirmations {
			break
		}
		blockHash := blk.Header().Hash()
		for _, op := range cache.RemovedOutpoints(blockHash, address) {
			removed[op] = struct{}{}
		}
		for _, op := range cache.AddedOutpoints(blockHash, address) {
			txout, height, ok := cache.Get(op)
			if !ok {
				panic(fmt.Sprintf("query: added outpoint %s missing from cache", op))
			}
			if page != nil && beforeOffset(height, op, page.Height, page.OutPoint) {
				continue
			}
			added = append(added, Utxo{OutPoint: op, Value: txout.Value, Height: height})
		}
		tipHash = blockHash
		tipHeight = blockHeight
	}
	sortUtxosDescending(added)

	stableUtxos := make([]Utxo, 0, len(stable))
	for _, e := range stable {
		entry, ok, err := l.store.Get(e.OutPoint)
		if err != nil {
			return nil, err
		}
		if !ok {
			panic(fmt.Sprintf("query: indexed outpoint %s missing from utxo store", e.OutPoint))
		}
		stableUtxos = append(stableUtxos, Utxo{OutPoint: e.OutPoint, Value: entry.TxOut.Value, Height: e.Height})
	}

	all := mergeFiltered(stableUtxos, added, removed)

	resp := &GetUtxosResponse{TipBlockHash: tipHash, TipHeight: tipHeight}
	if req.Limit > 0 && len(all) > req.Limit {
		rest := all[req.Limit:]
		all = all[:req.Limit]
		cursor := wirefmt.PageCursor{
			TipBlockHash: tipHash,
			Height:       rest[0].Height,
			OutPoint:     rest[0].OutPoint,
		}
		enc := cursor.Encode()
		resp.NextPage = enc[:]
	}
	resp.Utxos = all
	return resp, nil
}

// beforeOffset reports whether (height, op) sits before the inclusive
// resume point in the height-descending stream.
func beforeOffset(height uint32, op wirefmt.OutPoint, offHeight uint32, offOp wirefmt.OutPoint) bool {
	if height != offHeight {
		return height > offHeight
	}
	a, b := wirefmt.EncodeOutPoint(op), wirefmt.EncodeOutPoint(offOp)
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// utxoLess orders the merged stream: height descending, then outpoint
// ascending, matching the address index's key order.
func utxoLess(a, b Utxo) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	ae, be := wirefmt.EncodeOutPoint(a.OutPoint), wirefmt.EncodeOutPoint(b.OutPoint)
	for i := range ae {
		if ae[i] != be[i] {
			return ae[i] < be[i]
		}
	}
	return false
}

func sortUtxosDescending(utxos []Utxo) {
	for i := 1; i < len(utxos); i++ {
		j := i
		for j > 0 && utxoLess(utxos[j], utxos[j-1]) {
			utxos[j], utxos[j-1] = utxos[j-1], utxos[j]
			j--
		}
	}
}

// mergeFiltered interleaves two sorted streams into one sorted stream,
// dropping every outpoint in removed.
func mergeFiltered(a, b []Utxo, removed map[wirefmt.OutPoint]struct{}) []Utxo {
	out := make([]Utxo, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next Utxo
		switch {
		case i == len(a):
			next = b[j]
			j++
		case j == len(b):
			next = a[i]
			i++
		case utxoLess(a[i], b[j]):
			next = a[i]
			i++
		default:
			next = b[j]
			j++
		}
		if _, gone := removed[next.OutPoint]; gone {
			continue
		}
		out = append(out, next)
	}
	return out
}

// GetBalance sums the address's UTXOs at the requested confirmation depth.
// The sum cannot overflow: total bitcoin supply is far below 2^64 satoshis.
func (l *Layer) GetBalance(address string, minConfirmations uint32) (uint64, error) {
	resp, err := l.GetUtxos(GetUtxosRequest{Address: address, MinConfirmations: minConfirmations})
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range resp.Utxos {
		total += u.Value
	}
	return total, nil
}

// GetBlockHeaders returns the canonical header encodings for heights in
// [from, to], concatenating the finalized range with the main-chain
// portion of the unstable tree. to is clamped to the current
// tip; a from beyond the tip yields an empty result.
func (l *Layer) GetBlockHeaders(from, to uint32) ([][]byte, error) {
	anchorHeight := l.store.NextHeight()
	chain := append([]*btcblock.Block{l.tree.AnchorBlock()}, l.tree.GetMainChain()...)
	tipHeight := anchorHeight + uint32(len(chain)) - 1

	if to > tipHeight {
		to = tipHeight
	}
	if from > to {
		return nil, nil
	}

	var out [][]byte
	if from < anchorHeight {
		stableTo := to
		if stableTo >= anchorHeight {
			stableTo = anchorHeight - 1
		}
		headers, err := l.headers.Range(from, stableTo)
		if err != nil {
			return nil, err
		}
		for _, h := range headers {
			out = append(out, h.Bytes())
		}
	}
	for h := maxU32(from, anchorHeight); h <= to; h++ {
		out = append(out, chain[h-anchorHeight].Header().Bytes())
	}
	return out, nil
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
