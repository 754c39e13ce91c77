// Package ingestor is the cooperative ingestion scheduler: every
// tick it (1) resumes any half-ingested stable block, (2) drains stable
// children out of the unstable tree into UtxoStore, and (3) absorbs new
// blocks from the external source into the tree, all under one
// instruction budget. A tick that runs out of budget returns Paused and
// picks up exactly where it stopped on the next tick.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/internal/headerstore"
	"github.com/Klingon-tech/klingnet-indexer/internal/headervalidator"
	klog "github.com/Klingon-tech/klingnet-indexer/internal/log"
	"github.com/Klingon-tech/klingnet-indexer/internal/source"
	"github.com/Klingon-tech/klingnet-indexer/internal/unstabletree"
	"github.com/Klingon-tech/klingnet-indexer/internal/utxostore"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
)

// DefaultInstructionLimit is the hard per-tick ceiling when the caller
// does not configure one.
const DefaultInstructionLimit = 4_000_000

// budgetThresholdNum/Den express the ~80% soft threshold each phase stops
// at, leaving headroom under the hard ceiling for the bookkeeping that
// follows the last unit of work.
const (
	budgetThresholdNum = 4
	budgetThresholdDen = 5
)

// TickResult reports whether a tick finished its work or yielded early.
type TickResult uint8

const (
	TickComplete TickResult = iota
	TickPaused
)

// Stats counts what the ingestor has done and rejected so far.
type Stats struct {
	BlocksFinalized uint64
	BlocksAccepted  uint64
	BlocksRejected  uint64
	OrphansBuffered uint64
}

// headerView is the validator's history: the unstable tree first, then
// the finalized header store.
type headerView struct {
	tree   *unstabletree.Tree
	stable *headerstore.Store
}

func (v headerView) GetHeader(hash chainhash.Hash) (*btcblock.Header, uint32, bool) {
	if h, height, ok := v.tree.GetHeader(hash); ok {
		return h, height, true
	}
	h, err := v.stable.GetByHash(hash)
	if err != nil {
		return nil, 0, false
	}
	height, err := v.stable.HeightOf(hash)
	if err != nil {
		return nil, 0, false
	}
	return h, height, true
}

// Ingestor moves blocks from a Source through the unstable tree into
// UtxoStore. It is single-threaded by design: one Tick at a
// time, no internal goroutines.
type Ingestor struct {
	store     *utxostore.Store
	tree      *unstabletree.Tree
	headers   *headerstore.Store
	validator *headervalidator.Validator
	src       source.Source
	network   chainparams.Network

	instructionLimit uint64
	now              func() time.Time

	// incoming holds parsed blocks from the last response not yet pushed
	// into the tree.
	incoming []*btcblock.Block

	// orphans buffers blocks whose parent has not arrived, keyed by the
	// awaited parent hash.
	orphans map[chainhash.Hash][]*btcblock.Block

	// pages accumulates a paginated block; nextPage is the follow-up
	// index to request next.
	pages    [][]byte
	numPages uint8
	nextPage uint8

	stats Stats
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithInstructionLimit overrides the per-tick hard ceiling.
func WithInstructionLimit(limit uint64) Option {
	return func(in *Ingestor) { in.instructionLimit = limit }
}

// WithClock overrides the wall clock used for header validation.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// New wires an Ingestor over the given stores, tree, and source.
func New(store *utxostore.Store, tree *unstabletree.Tree, headers *headerstore.Store, src source.Source, network chainparams.Network, opts ...Option) *Ingestor {
	in := &Ingestor{
		store:            store,
		tree:             tree,
		headers:          headers,
		validator:        headervalidator.New(network),
		src:              src,
		network:          network,
		instructionLimit: DefaultInstructionLimit,
		now:              time.Now,
		orphans:          make(map[chainhash.Hash][]*btcblock.Block),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Stats returns a copy of the running counters.
func (in *Ingestor) Stats() Stats { return in.stats }

// threshold is the soft budget each phase consumes up to.
func (in *Ingestor) threshold() uint64 {
	return in.instructionLimit * budgetThresholdNum / budgetThresholdDen
}

// Tick runs one scheduling round. The three phases share the tick's
// budget; whichever phase exhausts it returns TickPaused, and the next
// Tick resumes from the persisted cursors.
func (in *Ingestor) Tick(ctx context.Context) (TickResult, error) {
	budget := utxostore.NewBudget(in.threshold())

	if res, err := in.resumePartial(budget); err != nil || res == TickPaused {
		return res, err
	}
	if res, err := in.drainStable(budget); err != nil || res == TickPaused {
		return res, err
	}
	if err := in.absorb(ctx, budget); err != nil {
		return TickComplete, err
	}
	if budget.Exceeded() {
		return TickPaused, nil
	}
	return TickComplete, nil
}

// resumePartial is phase 1: finish the block a previous tick left half
// ingested, then finalize its header.
func (in *Ingestor) resumePartial(budget *utxostore.Budget) (TickResult, error) {
	p := in.store.Partial()
	if p == nil {
		return TickComplete, nil
	}
	res, err := in.store.ResumePartial(budget)
	if err != nil {
		return TickComplete, err
	}
	if res == utxostore.ResultPaused {
		return TickPaused, nil
	}
	return TickComplete, in.finalizeHeader(p.Block)
}

// drainStable is phase 2: pop every stable child the tree will give up
// and fold it into UtxoStore, pausing if the budget runs out mid-block.
func (in *Ingestor) drainStable(budget *utxostore.Budget) (TickResult, error) {
	for {
		if budget.Exceeded() {
			return TickPaused, nil
		}
		blk, ok := in.tree.Pop()
		if !ok {
			return TickComplete, nil
		}
		res, err := in.store.IngestBlock(blk, budget)
		if err != nil {
			return TickComplete, err
		}
		if res == utxostore.ResultPaused {
			return TickPaused, nil
		}
		if err := in.finalizeHeader(blk); err != nil {
			return TickComplete, err
		}
	}
}

// finalizeHeader appends a just-ingested block's header to the stable
// header store at the height it was finalized at.
func (in *Ingestor) finalizeHeader(blk *btcblock.Block) error {
	height := in.store.NextHeight() - 1
	if err := in.headers.Put(blk.Header(), height); err != nil {
		return err
	}
	in.stats.BlocksFinalized++
	klog.Ingestor.Debug().
		Stringer("hash", blk.Header().Hash()).
		Uint32("height", height).
		Msg("block finalized")
	return nil
}

// absorb is phase 3: pull a response from the source if nothing is
// buffered, then validate and push buffered blocks until the budget or
// the buffer runs out.
func (in *Ingestor) absorb(ctx context.Context, budget *utxostore.Budget) error {
	if len(in.incoming) == 0 {
		if err := in.fetch(ctx); err != nil {
			return err
		}
	}

	for len(in.incoming) > 0 {
		if budget.Exceeded() {
			return nil
		}
		blk := in.incoming[0]
		in.incoming = in.incoming[1:]
		in.processBlock(blk)
		budget.Tick()
	}
	return nil
}

// fetch performs one protocol round with the source: a follow-up page if
// a partial block is in flight, otherwise an initial successors request.
func (in *Ingestor) fetch(ctx context.Context) error {
	var req source.Request
	if in.pages != nil {
		req = source.FollowUpRequest{Page: in.nextPage}
	} else {
		req = source.InitialRequest{
			Network:              in.network,
			ProcessedBlockHashes: in.tree.Hashes(),
		}
	}

	resp, err := in.src.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("ingestor: fetch: %w", err)
	}

	switch r := resp.(type) {
	case source.Complete:
		for _, raw := range r.Blocks {
			in.parseIncoming(raw)
		}
		in.noteNext(r.Next)

	case source.Partial:
		in.pages = make([][]byte, 0, r.NumPages)
		in.pages = append(in.pages, r.PartialBlock)
		in.numPages = r.NumPages
		in.nextPage = 1
		in.noteNext(r.Next)

	case source.FollowUp:
		if in.pages == nil {
			return errors.New("ingestor: follow-up page with no partial block in flight")
		}
		in.pages = append(in.pages, []byte(r))
		in.nextPage++
		if uint8(len(in.pages)) >= in.numPages {
			var raw []byte
			for _, p := range in.pages {
				raw = append(raw, p...)
			}
			in.pages, in.numPages, in.nextPage = nil, 0, 0
			in.parseIncoming(raw)
		}

	default:
		return fmt.Errorf("ingestor: unknown response type %T", resp)
	}
	return nil
}

// parseIncoming decodes one raw block into the incoming queue; a blob
// that does not parse is rejected and recorded.
func (in *Ingestor) parseIncoming(raw []byte) {
	blk, err := btcblock.Parse(raw)
	if err != nil {
		in.stats.BlocksRejected++
		klog.Ingestor.Warn().Err(err).Msg("discarding undecodable block")
		return
	}
	in.incoming = append(in.incoming, blk)
}

// noteNext records header previews so redundant fetches can be skipped.
func (in *Ingestor) noteNext(next [][]byte) {
	for _, raw := range next {
		hdr, err := btcblock.ParseHeader(raw)
		if err != nil {
			continue
		}
		in.tree.NoteExpectedSuccessor(hdr.Hash())
	}
}

// processBlock validates one block and pushes it into the tree. A block
// that fails validation is logged and discarded; a block whose parent is
// absent is buffered until the parent arrives.
func (in *Ingestor) processBlock(blk *btcblock.Block) {
	hash := blk.Header().Hash()

	if err := blk.Validate(); err != nil {
		in.stats.BlocksRejected++
		klog.Ingestor.Warn().Err(err).Stringer("hash", hash).Msg("rejecting structurally invalid block")
		return
	}

	view := headerView{tree: in.tree, stable: in.headers}
	if err := in.validator.ValidateHeader(view, blk.Header(), in.now()); err != nil {
		var known headervalidator.AlreadyKnownError
		switch {
		case errors.As(err, &known):
			// Redundant delivery; nothing to do.
		case errors.Is(err, headervalidator.ErrPrevHeaderNotFound):
			in.orphans[blk.Header().PrevBlockHash()] = append(in.orphans[blk.Header().PrevBlockHash()], blk)
			in.stats.OrphansBuffered++
			klog.Ingestor.Debug().Stringer("hash", hash).Msg("buffering block awaiting its predecessor")
		default:
			in.stats.BlocksRejected++
			klog.Ingestor.Warn().Err(err).Stringer("hash", hash).Msg("rejecting block with invalid header")
		}
		return
	}

	if _, err := in.tree.Push(in.store, blk); err != nil {
		in.stats.BlocksRejected++
		klog.Ingestor.Warn().Err(err).Stringer("hash", hash).Msg("rejecting block the tree will not take")
		return
	}
	in.stats.BlocksAccepted++

	// The new block may unblock buffered children.
	if waiting, ok := in.orphans[hash]; ok {
		delete(in.orphans, hash)
		for _, child := range waiting {
			in.processBlock(child)
		}
	}
}
