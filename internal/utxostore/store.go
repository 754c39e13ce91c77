// Package utxostore implements the durable UTXO set: the
// OutPoint -> (TxOut, height) mapping, partitioned by encoded value size
// into small/medium fixed-width backends plus an in-memory large-value
// backend, alongside the address->outpoint and address->balance secondary
// indices. Ingestion is resumable: a block too large for one scheduling
// slice records a cursor and continues on the next tick.
package utxostore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
	"github.com/Klingon-tech/klingnet-indexer/pkg/script"
	"github.com/Klingon-tech/klingnet-indexer/pkg/wirefmt"
)

// ErrNotFound is returned by Get/Remove when the outpoint is absent.
var ErrNotFound = errors.New("utxostore: outpoint not found")

// duplicateCoinbaseTxids are the two pre-BIP30 transactions that are
// legitimately duplicated on mainnet (block 91,842 and 91,880 each
// re-mine a coinbase identical to an earlier, still-unspent one).
// Inserting a duplicate outpoint for any other txid is fatal.
var duplicateCoinbaseTxids = map[chainhash.Hash]struct{}{
	mustHash("d5d27987d2a3dfc724e359870c6644b40e497bdc0589a033220fe15429d88599"): {},
	mustHash("e3bf3d07d4b0375638d5f1db5255fe07ba2c4cb067cd81b84ee974b6585fb468"): {},
}

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

// PartialStableBlock is the time-slicing cursor: captured when a tick's
// instruction budget runs out mid-block, so the next tick resumes
// exactly where this one stopped.
type PartialStableBlock struct {
	Block         *btcblock.Block
	NextTxIdx     int
	NextInputIdx  int
	NextOutputIdx int
}

// Result reports whether IngestBlock/ResumePartial finished the block or
// was paused by the instruction budget.
type Result uint8

const (
	ResultDone Result = iota
	ResultPaused
)

// Budget is the cooperative-scheduling instruction counter: every input
// removed or output inserted ticks it once. The ingest loop consults
// Exceeded before starting the next unit of work, so a budget that
// exactly matches the remaining work finishes the block without spending
// an extra tick on a pause that accomplishes nothing.
type Budget struct {
	limit   uint64
	counter uint64
}

// NewBudget creates a budget that allows up to limit ticks before pausing.
func NewBudget(limit uint64) *Budget {
	return &Budget{limit: limit}
}

// Exceeded reports whether the budget has no room left for another
// operation.
func (b *Budget) Exceeded() bool {
	return b.counter >= b.limit
}

// Tick records that one operation (one input removed or output inserted)
// was just completed.
func (b *Budget) Tick() {
	b.counter++
}

// Spent returns how many ticks this budget has consumed so far.
func (b *Budget) Spent() uint64 { return b.counter }

// Store is the UtxoStore. The zero value is not usable; use New.
type Store struct {
	mu sync.Mutex

	small  *storage.FixedKV // RegionUtxoSmall, bound wirefmt.SmallValueBound
	medium *storage.FixedKV // RegionUtxoMedium, bound wirefmt.MediumValueBound
	large  map[wirefmt.OutPoint]wirefmt.UtxoEntry

	addrIndex storage.DB // RegionAddressOutpoints
	balance   storage.DB // RegionAddressBalance
	meta      storage.DB // RegionUtxoMeta

	network chainparams.Network

	nextHeight uint32
	numUtxos   uint64 // supplemental counter
	partial    *PartialStableBlock
}

var metaKeyNextHeight = []byte("next_height")

// New wires a Store over db, recovering next_height from a prior run.
func New(db storage.DB, network chainparams.Network) *Store {
	s := &Store{
		small:     storage.NewFixedKV(storage.NewPrefixDB(db, storage.RegionUtxoSmall), wirefmt.SmallValueBound),
		medium:    storage.NewFixedKV(storage.NewPrefixDB(db, storage.RegionUtxoMedium), wirefmt.MediumValueBound),
		large:     make(map[wirefmt.OutPoint]wirefmt.UtxoEntry),
		addrIndex: storage.NewPrefixDB(db, storage.RegionAddressOutpoints),
		balance:   storage.NewPrefixDB(db, storage.RegionAddressBalance),
		meta:      storage.NewPrefixDB(db, storage.RegionUtxoMeta),
		network:   network,
	}
	if raw, err := s.meta.Get(metaKeyNextHeight); err == nil && len(raw) == 4 {
		s.nextHeight = binary.LittleEndian.Uint32(raw)
	}
	return s
}

// SeedHeight positions a fresh store at the starting height of an
// offline-built snapshot, so bootstrap tooling can replay from a dump
// instead of from genesis. It refuses to reposition a store that has
// already finalized blocks.
func (s *Store) SeedHeight(height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextHeight != 0 {
		return fmt.Errorf("utxostore: cannot seed height %d, store already at %d", height, s.nextHeight)
	}
	return s.setNextHeight(height)
}

// NextHeight is the height the next finalized block must have.
func (s *Store) NextHeight() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextHeight
}

func (s *Store) setNextHeight(h uint32) error {
	s.nextHeight = h
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], h)
	return s.meta.Put(metaKeyNextHeight, buf[:])
}

// HasPartial reports whether a paused block is waiting to be resumed.
func (s *Store) HasPartial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial != nil
}

// Partial returns the paused block cursor, if any. Callers must not
// mutate it.
func (s *Store) Partial() *PartialStableBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// RestorePartial reinstates a paused-block cursor recovered from
// serialized upgrade state.
func (s *Store) RestorePartial(p *PartialStableBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = p
}

// Get looks up op, probing small, then medium, then large.
func (s *Store) Get(op wirefmt.OutPoint) (wirefmt.UtxoEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(op)
}

func (s *Store) getLocked(op wirefmt.OutPoint) (wirefmt.UtxoEntry, bool, error) {
	key := wirefmt.EncodeOutPoint(op)
	if raw, err := s.small.Get(key[:]); err == nil {
		e, derr := wirefmt.DecodeUtxoEntry(raw)
		return e, derr == nil, derr
	}
	if raw, err := s.medium.Get(key[:]); err == nil {
		e, derr := wirefmt.DecodeUtxoEntry(raw)
		return e, derr == nil, derr
	}
	if e, ok := s.large[op]; ok {
		return e, true, nil
	}
	return wirefmt.UtxoEntry{}, false, nil
}

// GetBalance returns the address's current balance, 0 if absent.
func (s *Store) GetBalance(address string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.balance.Get([]byte(address))
	if err != nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("utxostore: corrupt balance entry for %q", address)
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// AddressOutpoint is one entry from GetAddressOutpoints: the outpoint plus
// the height it was indexed at (descending order).
type AddressOutpoint struct {
	Height   uint32
	OutPoint wirefmt.OutPoint
}

// GetAddressOutpoints returns address's outpoints in height-descending
// order, optionally resuming at an inclusive (height, outpoint) cursor —
// the cursor names the first entry of the next page, so concatenated
// pages reproduce the single-shot stream exactly.
func (s *Store) GetAddressOutpoints(address string, after *AddressOutpoint) ([]AddressOutpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix, err := wirefmt.AddressOutpointKeyPrefix(address)
	if err != nil {
		return nil, err
	}

	var afterKey []byte
	if after != nil {
		k, err := wirefmt.EncodeAddressOutpointKey(address, after.Height, after.OutPoint)
		if err != nil {
			return nil, err
		}
		afterKey = k
	}

	var out []AddressOutpoint
	err = s.addrIndex.ForEach(prefix, func(key, _ []byte) error {
		if afterKey != nil && bytesLess(key, afterKey) {
			return nil
		}
		_, height, op, derr := wirefmt.DecodeAddressOutpointKey(key)
		if derr != nil {
			return derr
		}
		out = append(out, AddressOutpoint{Height: height, OutPoint: op})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDescending(out)
	return out, nil
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func sortDescending(entries []AddressOutpoint) {
	// Keys already sort height-descending lexicographically (the
	// XOR-inverted big-endian height); a stable insertion sort
	// over the small per-call result set keeps this allocation-free for
	// the common case and correct regardless of the backing ForEach's
	// iteration order.
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && less(entries[j], entries[j-1]) {
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
}

func less(a, b AddressOutpoint) bool {
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

// Insert stores (op -> txout, height). Provably-unspendable scripts are
// silently dropped. A duplicate outpoint panics unless txid is
// one of the two grandfathered pre-BIP30 coinbases.
func (s *Store) Insert(op wirefmt.OutPoint, txout wirefmt.TxOut, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(op, txout, height)
}

func (s *Store) insertLocked(op wirefmt.OutPoint, txout wirefmt.TxOut, height uint32) error {
	if script.IsProvablyUnspendable(txout.ScriptPubKey) {
		return nil
	}

	if existing, ok, err := s.getLocked(op); err != nil {
		return err
	} else if ok {
		if _, grandfathered := duplicateCoinbaseTxids[op.TxID]; !grandfathered {
			panic(fmt.Sprintf("utxostore: duplicate outpoint %s (existing height %d) outside grandfathered pre-BIP30 txids", op, existing.Height))
		}
		// Grandfathered: silently overwrite in place below.
	}

	entry := wirefmt.UtxoEntry{TxOut: txout, Height: height}
	encoded := wirefmt.EncodeUtxoEntry(entry)
	key := wirefmt.EncodeOutPoint(op)

	switch wirefmt.ClassifyLen(len(encoded)) {
	case wirefmt.SizeClassSmall:
		if err := s.small.Put(key[:], encoded); err != nil {
			return fmt.Errorf("utxostore: insert small: %w", err)
		}
	case wirefmt.SizeClassMedium:
		if err := s.medium.Put(key[:], encoded); err != nil {
			return fmt.Errorf("utxostore: insert medium: %w", err)
		}
	default:
		s.large[op] = entry
	}
	s.numUtxos++

	if addr, _, ok := script.ExtractAddress(txout.ScriptPubKey, s.network); ok {
		idxKey, err := wirefmt.EncodeAddressOutpointKey(addr, height, op)
		if err != nil {
			return fmt.Errorf("utxostore: address index key: %w", err)
		}
		if err := s.addrIndex.Put(idxKey, nil); err != nil {
			return fmt.Errorf("utxostore: address index put: %w", err)
		}
		if err := s.addBalance(addr, txout.Value); err != nil {
			return err
		}
	}
	return nil
}

// Remove consumes op, returning the (TxOut, height) it held. op must
// exist; an absent outpoint indicates an upstream invariant violation and
// is fatal.
func (s *Store) Remove(op wirefmt.OutPoint) (wirefmt.TxOut, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(op)
}

func (s *Store) removeLocked(op wirefmt.OutPoint) (wirefmt.TxOut, uint32, error) {
	key := wirefmt.EncodeOutPoint(op)

	var entry wirefmt.UtxoEntry
	var found bool
	if raw, err := s.small.Get(key[:]); err == nil {
		if entry, err = wirefmt.DecodeUtxoEntry(raw); err != nil {
			return wirefmt.TxOut{}, 0, err
		}
		if err := s.small.Delete(key[:]); err != nil {
			return wirefmt.TxOut{}, 0, err
		}
		found = true
	} else if raw, err := s.medium.Get(key[:]); err == nil {
		if entry, err = wirefmt.DecodeUtxoEntry(raw); err != nil {
			return wirefmt.TxOut{}, 0, err
		}
		if err := s.medium.Delete(key[:]); err != nil {
			return wirefmt.TxOut{}, 0, err
		}
		found = true
	} else if e, ok := s.large[op]; ok {
		entry = e
		delete(s.large, op)
		found = true
	}
	if !found {
		panic(fmt.Sprintf("utxostore: consumed outpoint %s not found", op))
	}
	s.numUtxos--

	if addr, _, ok := script.ExtractAddress(entry.TxOut.ScriptPubKey, s.network); ok {
		idxKey, err := wirefmt.EncodeAddressOutpointKey(addr, entry.Height, op)
		if err != nil {
			return wirefmt.TxOut{}, 0, err
		}
		if err := s.addrIndex.Delete(idxKey); err != nil {
			return wirefmt.TxOut{}, 0, err
		}
		if err := s.subBalance(addr, entry.TxOut.Value); err != nil {
			return wirefmt.TxOut{}, 0, err
		}
	}
	return entry.TxOut, entry.Height, nil
}

func (s *Store) addBalance(address string, value uint64) error {
	cur, err := s.balanceLocked(address)
	if err != nil {
		return err
	}
	return s.putBalance(address, cur+value)
}

func (s *Store) subBalance(address string, value uint64) error {
	cur, err := s.balanceLocked(address)
	if err != nil {
		return err
	}
	next := cur - value
	if next == 0 {
		return s.balance.Delete([]byte(address))
	}
	return s.putBalance(address, next)
}

func (s *Store) balanceLocked(address string) (uint64, error) {
	raw, err := s.balance.Get([]byte(address))
	if err != nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("utxostore: corrupt balance entry for %q", address)
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (s *Store) putBalance(address string, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return s.balance.Put([]byte(address), buf[:])
}

// Stats reports the supplemental counters the store keeps alongside its
// required state.
type Stats struct {
	NumUtxos   uint64
	NextHeight uint32
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{NumUtxos: s.numUtxos, NextHeight: s.nextHeight}
}
