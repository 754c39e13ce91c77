// Package source defines the request/response protocol the indexer core
// consumes blocks through. The transport that actually talks to
// the network is an external collaborator; the core only sees a Source it
// can Fetch from and the closed set of response shapes below.
package source

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
)

// Request is the closed sum of things the core asks a Source for: the
// initial successors request, or a follow-up page of a partial block.
type Request interface {
	isRequest()
}

// InitialRequest asks for successors of the blocks the core has already
// accepted, so the source only sends novel material.
type InitialRequest struct {
	Network              chainparams.Network
	ProcessedBlockHashes []chainhash.Hash
}

// FollowUpRequest asks for one page of a block previously answered with
// Partial. Pages are indexed 0..NumPages; page 0 is the Partial response's
// own payload, so follow-ups start at 1.
type FollowUpRequest struct {
	Page uint8
}

func (InitialRequest) isRequest()  {}
func (FollowUpRequest) isRequest() {}

// Response is the closed sum of source answers.
type Response interface {
	isResponse()
}

// Complete carries zero or more full raw blocks plus raw header previews
// of their successors.
type Complete struct {
	Blocks [][]byte
	Next   [][]byte
}

// Partial is the first page of a block too large for one response. The
// remaining pages arrive via FollowUpRequest/FollowUp, and the core
// concatenates all pages in order before decoding.
type Partial struct {
	PartialBlock []byte
	Next         [][]byte
	NumPages     uint8
}

// FollowUp is one subsequent page of a Partial block.
type FollowUp []byte

func (Complete) isResponse() {}
func (Partial) isResponse()  {}
func (FollowUp) isResponse() {}

// Source is the block source the Ingestor pulls from.
type Source interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}
