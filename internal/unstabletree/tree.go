// Package unstabletree implements the unstable block tree: an anchored
// tree of not-yet-final blocks sitting above UtxoStore's
// stable tip. The anchor is always the most recently finalized block;
// everything below it in height is gone (folded into UtxoStore), and
// everything in the tree is a candidate the network might still reorg
// away from.
package unstabletree

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/internal/unstablecache"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
)

// Errors surfaced by Push.
var (
	ErrBlockDoesNotExtendTree = errors.New("unstabletree: prev_block_hash does not match any node in the tree")
	ErrDuplicateBlockHash     = errors.New("unstabletree: block hash already present in the tree")
)

type node struct {
	block    *btcblock.Block
	hash     chainhash.Hash
	height   uint32
	parent   *node
	children []*node
}

// Tree is the UnstableBlockTree.
type Tree struct {
	stabilityThreshold uint32
	cache              *unstablecache.Cache
	network            chainparams.Network
	anchor             *node
	byHash             map[chainhash.Hash]*node

	// expected holds successor hashes announced by header previews whose
	// full blocks have not arrived yet; ExpectedSuccessorCount reports how
	// many are still outstanding.
	expected map[chainhash.Hash]struct{}
}

// New creates a tree rooted at anchorBlock, which must already be the
// chain's most recently finalized block at anchorHeight. utxos resolves
// anchor's own inputs against the stable store so the anchor's outputs
// become trackable in the OutPointsCache for its still-unstable children.
func New(utxos unstablecache.UtxoSource, anchorBlock *btcblock.Block, anchorHeight uint32, stabilityThreshold uint32, network chainparams.Network) (*Tree, error) {
	cache := unstablecache.New(network)
	if err := cache.Insert(utxos, anchorBlock, anchorHeight); err != nil {
		return nil, err
	}
	root := &node{block: anchorBlock, hash: anchorBlock.Header().Hash(), height: anchorHeight}
	return &Tree{
		stabilityThreshold: stabilityThreshold,
		cache:              cache,
		network:            network,
		anchor:             root,
		byHash:             map[chainhash.Hash]*node{root.hash: root},
		expected:           make(map[chainhash.Hash]struct{}),
	}, nil
}

// StabilityThreshold returns the confirmation depth blocks need before
// finalization.
func (t *Tree) StabilityThreshold() uint32 { return t.stabilityThreshold }

// SetStabilityThreshold retunes the finalization depth live (the admin
// surface's stability_threshold knob). It affects future Pop decisions
// only.
func (t *Tree) SetStabilityThreshold(threshold uint32) { t.stabilityThreshold = threshold }

// BlocksTopDown returns every block in the tree in breadth-first order
// starting at the anchor — parents always precede children, so replaying
// Push over the result (after the anchor) reconstructs an equivalent
// tree.
func (t *Tree) BlocksTopDown() []*btcblock.Block {
	out := make([]*btcblock.Block, 0, len(t.byHash))
	queue := []*node{t.anchor}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n.block)
		queue = append(queue, n.children...)
	}
	return out
}

// Cache exposes the tree's OutPointsCache, for QueryLayer's overlay reads.
func (t *Tree) Cache() *unstablecache.Cache { return t.cache }

// AnchorHash returns the current anchor's block hash.
func (t *Tree) AnchorHash() chainhash.Hash { return t.anchor.hash }

// AnchorBlock returns the current anchor's block.
func (t *Tree) AnchorBlock() *btcblock.Block { return t.anchor.block }

// AnchorHeight returns the current anchor's height.
func (t *Tree) AnchorHeight() uint32 { return t.anchor.height }

// Has reports whether hash is present anywhere in the tree (anchor included).
func (t *Tree) Has(hash chainhash.Hash) bool {
	_, ok := t.byHash[hash]
	return ok
}

// HeightOf returns the height of the node at hash, if present.
func (t *Tree) HeightOf(hash chainhash.Hash) (uint32, bool) {
	n, ok := t.byHash[hash]
	if !ok {
		return 0, false
	}
	return n.height, true
}

// GetHeader returns the header and height of the node at hash, serving as
// the unstable half of the validator's history view.
func (t *Tree) GetHeader(hash chainhash.Hash) (*btcblock.Header, uint32, bool) {
	n, ok := t.byHash[hash]
	if !ok {
		return nil, 0, false
	}
	return n.block.Header(), n.height, true
}

// Hashes returns the hash of every block in the tree, anchor included, in
// no particular order — the processed set the next source request carries.
func (t *Tree) Hashes() []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(t.byHash))
	for h := range t.byHash {
		out = append(out, h)
	}
	return out
}

// NoteExpectedSuccessor records a successor hash announced by a header
// preview before its full block arrives.
func (t *Tree) NoteExpectedSuccessor(hash chainhash.Hash) {
	if _, inTree := t.byHash[hash]; inTree {
		return
	}
	t.expected[hash] = struct{}{}
}

// IsExpected reports whether hash was announced as an upcoming successor.
func (t *Tree) IsExpected(hash chainhash.Hash) bool {
	_, ok := t.expected[hash]
	return ok
}

// ExpectedSuccessorCount reports how many announced successors have not
// arrived yet — zero means the tree has caught up with everything the
// source has previewed.
func (t *Tree) ExpectedSuccessorCount() int { return len(t.expected) }

// Push attaches block as a child of the node matching its prev-hash. The
// new node's height is one more than its parent's; inserting it into the
// OutPointsCache happens atomically with attaching it to the tree.
func (t *Tree) Push(utxos unstablecache.UtxoSource, block *btcblock.Block) (uint32, error) {
	hash := block.Header().Hash()
	if _, exists := t.byHash[hash]; exists {
		return 0, ErrDuplicateBlockHash
	}
	parent, ok := t.byHash[block.Header().PrevBlockHash()]
	if !ok {
		return 0, ErrBlockDoesNotExtendTree
	}

	height := parent.height + 1
	if err := t.cache.Insert(utxos, block, height); err != nil {
		return 0, err
	}

	child := &node{block: block, hash: hash, height: height, parent: parent}
	parent.children = append(parent.children, child)
	t.byHash[hash] = child
	delete(t.expected, hash)
	return height, nil
}

// subtreeDepth is the longest path length from n to any descendant; a
// leaf has depth 1.
func subtreeDepth(n *node) uint32 {
	if len(n.children) == 0 {
		return 1
	}
	var max uint32
	for _, c := range n.children {
		if d := subtreeDepth(c); d > max {
			max = d
		}
	}
	return 1 + max
}

// peekStableChild returns the anchor's child that qualifies as stable
// under the depth-dominance rule, if any.
func (t *Tree) peekStableChild() (*node, bool) {
	children := t.anchor.children
	if len(children) == 0 {
		return nil, false
	}

	var deepest *node
	var deepestDepth uint32
	tie := false
	for _, c := range children {
		d := subtreeDepth(c)
		switch {
		case deepest == nil || d > deepestDepth:
			deepest, deepestDepth, tie = c, d, false
		case d == deepestDepth:
			tie = true
		}
	}
	if tie {
		return nil, false
	}
	if deepestDepth < t.stabilityThreshold {
		return nil, false
	}
	if len(children) > 1 {
		var second uint32
		for _, c := range children {
			if c == deepest {
				continue
			}
			if d := subtreeDepth(c); d > second {
				second = d
			}
		}
		if deepestDepth-second < t.stabilityThreshold {
			return nil, false
		}
	}
	return deepest, true
}

// Peek reports the block that Pop would return, without mutating the tree.
func (t *Tree) Peek() (*btcblock.Block, bool) {
	n, ok := t.peekStableChild()
	if !ok {
		return nil, false
	}
	return n.block, true
}

// Pop promotes the stable child (if any) to be the new anchor: every
// sibling subtree is discarded (the reorg's losing branches), the former
// anchor's outpoints are dropped from the cache, and the former anchor's
// block is returned for the caller to fold into UtxoStore.
func (t *Tree) Pop() (*btcblock.Block, bool) {
	newAnchor, ok := t.peekStableChild()
	if !ok {
		return nil, false
	}

	for _, sibling := range t.anchor.children {
		if sibling == newAnchor {
			continue
		}
		t.discardSubtree(sibling)
	}

	old := t.anchor
	t.cache.Remove(old.hash)
	delete(t.byHash, old.hash)

	newAnchor.parent = nil
	t.anchor = newAnchor
	return old.block, true
}

// discardSubtree drops n and every descendant from the cache and the
// hash index — the losing side of a reorg never reaches UtxoStore.
func (t *Tree) discardSubtree(n *node) {
	for _, c := range n.children {
		t.discardSubtree(c)
	}
	t.cache.Remove(n.hash)
	delete(t.byHash, n.hash)
}

// GetMainChain returns the longest uncontested prefix of root-to-leaf
// paths: the longest common prefix among every path tied for maximum
// length. An anchor with no children yields an empty chain.
func (t *Tree) GetMainChain() []*btcblock.Block {
	var longest [][]*node
	var maxLen int

	var walk func(n *node, path []*node)
	walk = func(n *node, path []*node) {
		path = append(path, n)
		if len(n.children) == 0 {
			switch {
			case len(path) > maxLen:
				maxLen = len(path)
				longest = [][]*node{append([]*node(nil), path...)}
			case len(path) == maxLen:
				longest = append(longest, append([]*node(nil), path...))
			}
			return
		}
		for _, c := range n.children {
			walk(c, path)
		}
	}
	walk(t.anchor, nil)

	if len(longest) == 0 {
		return nil
	}
	prefixLen := maxLen
	for _, path := range longest[1:] {
		common := commonPrefixLen(longest[0], path)
		if common < prefixLen {
			prefixLen = common
		}
	}

	chain := longest[0][1:prefixLen] // exclude the anchor itself
	out := make([]*btcblock.Block, len(chain))
	for i, n := range chain {
		out[i] = n.block
	}
	return out
}

func commonPrefixLen(a, b []*node) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// GetChainWithTip returns the ancestor path from the anchor to tipHash
// (exclusive of the anchor), plus tipHash's direct children, for query
// pagination against a caller-chosen tip.
func (t *Tree) GetChainWithTip(tipHash chainhash.Hash) (chain []*btcblock.Block, children []*btcblock.Block, err error) {
	n, ok := t.byHash[tipHash]
	if !ok {
		return nil, nil, errors.New("unstabletree: unknown tip hash")
	}
	var path []*node
	for cur := n; cur != t.anchor; cur = cur.parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	chain = make([]*btcblock.Block, len(path))
	for i, nd := range path {
		chain[i] = nd.block
	}
	children = make([]*btcblock.Block, len(n.children))
	for i, c := range n.children {
		children[i] = c.block
	}
	return chain, children, nil
}
