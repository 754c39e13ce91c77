// Package headerstore persists finalized block headers, indexed both by
// hash and by height: hash→blob and height→hash maps over prefixed
// regions of one storage.DB.
package headerstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
)

// ErrNotFound is returned when a lookup finds no matching header.
var ErrNotFound = errors.New("headerstore: not found")

const heightKeySize = 8

var keyTipHeight = []byte("tip")

// Store is the durable hash→header and height→hash index. Headers are
// written append-only by height in normal use (the Ingestor finalizes each
// height once); Put itself does not reject rewriting a height.
type Store struct {
	byHash       storage.DB
	byHeight     storage.DB
	hashToHeight storage.DB

	tipSet    bool
	tipHeight uint32
}

// New wires a Store over regions of the same underlying database,
// recovering the tip height recorded by a prior run, if any.
func New(db storage.DB) *Store {
	s := &Store{
		byHash:       storage.NewPrefixDB(db, storage.RegionHeaderByHash),
		byHeight:     storage.NewPrefixDB(db, storage.RegionHeaderHeightToHash),
		hashToHeight: storage.NewPrefixDB(db, storage.RegionHeaderHashToHeight),
	}
	if raw, err := s.byHeight.Get(keyTipHeight); err == nil && len(raw) == heightKeySize {
		s.tipHeight = uint32(binary.BigEndian.Uint64(raw))
		s.tipSet = true
	}
	return s
}

func heightKey(height uint32) []byte {
	var buf [heightKeySize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	return buf[:]
}

// Put records header at height, finalizing it. Callers must present
// heights in non-decreasing order — the store does not itself enforce
// append-only ordering beyond what the caller (the Ingestor) guarantees.
func (s *Store) Put(header *btcblock.Header, height uint32) error {
	hash := header.Hash()
	if err := s.byHash.Put(hash[:], header.Bytes()); err != nil {
		return fmt.Errorf("headerstore: put by hash: %w", err)
	}
	if err := s.byHeight.Put(heightKey(height), hash[:]); err != nil {
		return fmt.Errorf("headerstore: put height index: %w", err)
	}
	if err := s.hashToHeight.Put(hash[:], heightKey(height)); err != nil {
		return fmt.Errorf("headerstore: put hash-to-height index: %w", err)
	}
	if !s.tipSet || height > s.tipHeight {
		var buf [heightKeySize]byte
		binary.BigEndian.PutUint64(buf[:], uint64(height))
		if err := s.byHeight.Put(keyTipHeight, buf[:]); err != nil {
			return fmt.Errorf("headerstore: put tip height: %w", err)
		}
		s.tipHeight = height
		s.tipSet = true
	}
	return nil
}

// GetByHash returns the finalized header for hash.
func (s *Store) GetByHash(hash chainhash.Hash) (*btcblock.Header, error) {
	raw, err := s.byHash.Get(hash[:])
	if err != nil {
		return nil, ErrNotFound
	}
	return btcblock.ParseHeader(raw)
}

// HasHash reports whether a finalized header for hash is stored.
func (s *Store) HasHash(hash chainhash.Hash) (bool, error) {
	return s.byHash.Has(hash[:])
}

// HeightOf returns the height a finalized header was stored at, for
// chain-walking callers (the header validator) that follow prev-hash links
// down into the stable store.
func (s *Store) HeightOf(hash chainhash.Hash) (uint32, error) {
	raw, err := s.hashToHeight.Get(hash[:])
	if err != nil || len(raw) != heightKeySize {
		return 0, ErrNotFound
	}
	return uint32(binary.BigEndian.Uint64(raw)), nil
}

// GetByHeight returns the finalized header at height.
func (s *Store) GetByHeight(height uint32) (*btcblock.Header, error) {
	hashBytes, err := s.byHeight.Get(heightKey(height))
	if err != nil {
		return nil, ErrNotFound
	}
	var hash chainhash.Hash
	copy(hash[:], hashBytes)
	return s.GetByHash(hash)
}

// HashAtHeight returns the finalized block hash at height.
func (s *Store) HashAtHeight(height uint32) (chainhash.Hash, error) {
	hashBytes, err := s.byHeight.Get(heightKey(height))
	if err != nil {
		return chainhash.Hash{}, ErrNotFound
	}
	var hash chainhash.Hash
	copy(hash[:], hashBytes)
	return hash, nil
}

// Range returns the finalized headers in [from, to] in ascending height
// order, used by QueryLayer.get_block_headers to serve the stable portion
// of a range before handing off to the unstable tree.
func (s *Store) Range(from, to uint32) ([]*btcblock.Header, error) {
	if to < from {
		return nil, nil
	}
	out := make([]*btcblock.Header, 0, to-from+1)
	for h := from; h <= to; h++ {
		hdr, err := s.GetByHeight(h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		out = append(out, hdr)
		if h == ^uint32(0) {
			break
		}
	}
	return out, nil
}

// Tip returns the highest finalized height and its header, or ErrNotFound
// if the store is empty.
func (s *Store) Tip() (uint32, *btcblock.Header, error) {
	if !s.tipSet {
		return 0, nil, ErrNotFound
	}
	hdr, err := s.GetByHeight(s.tipHeight)
	if err != nil {
		return 0, nil, err
	}
	return s.tipHeight, hdr, nil
}
