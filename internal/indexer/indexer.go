// Package indexer is the process-wide state container: it owns the UTXO
// store, the header store, the unstable tree, the ingestor, and the query
// layer, and exposes the init / pre_upgrade / post_upgrade lifecycle plus
// the administrative surface. Everything underneath assumes the
// single-threaded cooperative model: one Indexer method runs at a time.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/headerstore"
	"github.com/Klingon-tech/klingnet-indexer/internal/ingestor"
	klog "github.com/Klingon-tech/klingnet-indexer/internal/log"
	"github.com/Klingon-tech/klingnet-indexer/internal/query"
	"github.com/Klingon-tech/klingnet-indexer/internal/source"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/internal/unstabletree"
	"github.com/Klingon-tech/klingnet-indexer/internal/utxostore"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
)

// Errors surfaced by the API gate and the send-transaction path.
var (
	ErrAPIDisabled          = errors.New("indexer: api access is disabled")
	ErrNotFullySynced       = errors.New("indexer: rejecting queries while not fully synced")
	ErrMalformedTransaction = errors.New("indexer: malformed transaction")
	ErrQueueFull            = errors.New("indexer: outgoing transaction queue is full")
)

// txQueueCapacity bounds the outgoing transaction queue the external
// transport drains.
const txQueueCapacity = 1000

// Indexer is the state container.
type Indexer struct {
	cfg     *config.Config
	db      storage.DB
	store   *utxostore.Store
	headers *headerstore.Store
	tree    *unstabletree.Tree
	ing     *ingestor.Ingestor
	queries *query.Layer

	txQueue [][]byte

	now func() time.Time
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithClock overrides the wall clock used for header validation.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) { ix.now = now }
}

// New initializes the container over db, restoring serialized upgrade
// state when present, otherwise starting fresh from the given raw genesis
// block. This is the init/post_upgrade entry point — the same call serves
// both because the presence of upgrade state decides which path runs.
func New(cfg *config.Config, db storage.DB, genesisRaw []byte, src source.Source, opts ...Option) (*Indexer, error) {
	network := cfg.Network.ChainNetwork()
	store := utxostore.New(db, network)
	headers := headerstore.New(db)

	ix := &Indexer{
		cfg:     cfg,
		db:      db,
		store:   store,
		headers: headers,
		now:     time.Now,
	}
	for _, o := range opts {
		o(ix)
	}

	upgradeDB := storage.NewPrefixDB(db, storage.RegionUpgradeState)
	if raw, err := upgradeDB.Get(upgradeStateKey); err == nil {
		tree, err := restoreState(raw, store, cfg, network)
		if err != nil {
			return nil, fmt.Errorf("indexer: restore upgrade state: %w", err)
		}
		ix.tree = tree
		klog.Logger.Info().Uint32("anchor_height", tree.AnchorHeight()).Msg("state restored from upgrade snapshot")
	} else {
		genesis, err := btcblock.Parse(genesisRaw)
		if err != nil {
			return nil, fmt.Errorf("indexer: parse genesis block: %w", err)
		}
		tree, err := unstabletree.New(store, genesis, store.NextHeight(), cfg.StabilityThreshold, network)
		if err != nil {
			return nil, fmt.Errorf("indexer: seed unstable tree: %w", err)
		}
		ix.tree = tree
		klog.Logger.Info().Stringer("genesis", genesis.Header().Hash()).Msg("fresh state initialized")
	}

	ix.ing = ingestor.New(store, ix.tree, headers, src, network,
		ingestor.WithInstructionLimit(cfg.Ingest.InstructionLimit),
		ingestor.WithClock(func() time.Time { return ix.now() }))
	ix.queries = query.New(store, ix.tree, headers, network)
	return ix, nil
}

// Tick runs one ingestion round, honoring the syncing flag.
func (ix *Indexer) Tick(ctx context.Context) (ingestor.TickResult, error) {
	if !ix.cfg.Syncing {
		return ingestor.TickComplete, nil
	}
	return ix.ing.Tick(ctx)
}

// SetConfig applies an administrative update, propagating the stability
// threshold to the live tree.
func (ix *Indexer) SetConfig(u config.AdminUpdate) {
	config.ApplyAdminUpdate(ix.cfg, u)
	if u.StabilityThreshold != nil {
		ix.tree.SetStabilityThreshold(*u.StabilityThreshold)
	}
}

// FullySynced reports whether every successor the source has previewed
// has arrived and no block is mid-finalization.
func (ix *Indexer) FullySynced() bool {
	return ix.tree.ExpectedSuccessorCount() == 0 && !ix.store.HasPartial()
}

// apiGate enforces the api_access and disable_api_if_not_fully_synced
// flags before any query runs.
func (ix *Indexer) apiGate() error {
	if !ix.cfg.APIAccess {
		return ErrAPIDisabled
	}
	if ix.cfg.DisableAPIIfNotFullySynced && !ix.FullySynced() {
		return ErrNotFullySynced
	}
	return nil
}

// GetBalance answers an address balance query at the requested
// confirmation depth.
func (ix *Indexer) GetBalance(address string, minConfirmations uint32) (uint64, error) {
	if err := ix.apiGate(); err != nil {
		return 0, err
	}
	return ix.queries.GetBalance(address, minConfirmations)
}

// GetUtxos answers a paginated UTXO query.
func (ix *Indexer) GetUtxos(req query.GetUtxosRequest) (*query.GetUtxosResponse, error) {
	if err := ix.apiGate(); err != nil {
		return nil, err
	}
	return ix.queries.GetUtxos(req)
}

// GetCurrentFeePercentiles returns the recent-fee percentile table.
func (ix *Indexer) GetCurrentFeePercentiles() ([]uint64, error) {
	if err := ix.apiGate(); err != nil {
		return nil, err
	}
	return ix.queries.GetCurrentFeePercentiles(), nil
}

// GetBlockHeaders returns canonical headers for the height range.
func (ix *Indexer) GetBlockHeaders(from, to uint32) ([][]byte, error) {
	if err := ix.apiGate(); err != nil {
		return nil, err
	}
	return ix.queries.GetBlockHeaders(from, to)
}

// SendTransaction enqueues a raw transaction for the external transport
// to broadcast. The core validates only that the bytes decode.
func (ix *Indexer) SendTransaction(rawTx []byte) error {
	if err := ix.apiGate(); err != nil {
		return err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return ErrMalformedTransaction
	}
	if len(ix.txQueue) >= txQueueCapacity {
		return ErrQueueFull
	}
	ix.txQueue = append(ix.txQueue, append([]byte(nil), rawTx...))
	return nil
}

// DrainTransactions hands the queued raw transactions to the transport
// and empties the queue.
func (ix *Indexer) DrainTransactions() [][]byte {
	out := ix.txQueue
	ix.txQueue = nil
	return out
}

// Store exposes the UTXO store, for stats surfaces.
func (ix *Indexer) Store() *utxostore.Store { return ix.store }

// Tree exposes the unstable tree, for stats surfaces.
func (ix *Indexer) Tree() *unstabletree.Tree { return ix.tree }

// IngestStats reports the ingestor's running counters.
func (ix *Indexer) IngestStats() ingestor.Stats { return ix.ing.Stats() }

// Config returns the live configuration.
func (ix *Indexer) Config() *config.Config { return ix.cfg }
