package source

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
)

// Fake is an in-memory Source for tests and local runs: it holds a set of
// raw blocks and serves whichever ones the requester has not yet
// processed. When the first unprocessed block is larger than PageSize it
// goes out paginated the way a real transport would; larger blocks further
// back in a Complete response are sent whole.
type Fake struct {
	mu sync.Mutex

	// PageSize splits the first unprocessed block into Partial/FollowUp
	// pages when it is larger than this. Zero means never paginate.
	PageSize int

	// MaxBlocksPerResponse bounds how many full blocks one Complete
	// response carries. Zero means no bound.
	MaxBlocksPerResponse int

	blocks  []fakeBlock
	pending [][]byte // pages of the block currently being served partially
}

type fakeBlock struct {
	hash chainhash.Hash
	raw  []byte
}

// NewFake creates an empty Fake source.
func NewFake() *Fake {
	return &Fake{}
}

// AddBlock registers a raw block for serving. Blocks are served in the
// order added among those the requester has not processed.
func (f *Fake) AddBlock(raw []byte) error {
	blk, err := btcblock.Parse(raw)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, fakeBlock{hash: blk.Header().Hash(), raw: append([]byte(nil), raw...)})
	return nil
}

// ErrNoFollowUpPending is returned for a FollowUpRequest when no partial
// block is in flight.
var ErrNoFollowUpPending = errors.New("source: no partial block in flight")

// Fetch implements Source.
func (f *Fake) Fetch(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r := req.(type) {
	case FollowUpRequest:
		if f.pending == nil {
			return nil, ErrNoFollowUpPending
		}
		if int(r.Page) >= len(f.pending) {
			return nil, errors.New("source: follow-up page out of range")
		}
		page := f.pending[r.Page]
		if int(r.Page) == len(f.pending)-1 {
			f.pending = nil
		}
		return FollowUp(page), nil

	case InitialRequest:
		f.pending = nil
		processed := make(map[chainhash.Hash]struct{}, len(r.ProcessedBlockHashes))
		for _, h := range r.ProcessedBlockHashes {
			processed[h] = struct{}{}
		}

		var novel []fakeBlock
		for _, b := range f.blocks {
			if _, seen := processed[b.hash]; !seen {
				novel = append(novel, b)
			}
		}
		if len(novel) == 0 {
			return Complete{}, nil
		}

		// A first block too big for one response goes out paginated.
		if f.PageSize > 0 && len(novel[0].raw) > f.PageSize {
			pages := paginate(novel[0].raw, f.PageSize)
			f.pending = pages
			return Partial{
				PartialBlock: pages[0],
				Next:         headerPreviews(novel[1:]),
				NumPages:     uint8(len(pages)),
			}, nil
		}

		limit := len(novel)
		if f.MaxBlocksPerResponse > 0 && limit > f.MaxBlocksPerResponse {
			limit = f.MaxBlocksPerResponse
		}
		resp := Complete{Next: headerPreviews(novel[limit:])}
		for _, b := range novel[:limit] {
			resp.Blocks = append(resp.Blocks, b.raw)
		}
		return resp, nil

	default:
		return nil, errors.New("source: unknown request type")
	}
}

func paginate(raw []byte, pageSize int) [][]byte {
	var pages [][]byte
	for off := 0; off < len(raw); off += pageSize {
		end := off + pageSize
		if end > len(raw) {
			end = len(raw)
		}
		pages = append(pages, raw[off:end])
	}
	return pages
}

func headerPreviews(blocks []fakeBlock) [][]byte {
	var next [][]byte
	for _, b := range blocks {
		next = append(next, b.raw[:btcblock.HeaderSize])
	}
	return next
}
