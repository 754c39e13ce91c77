// indexer-bootstrap seeds a fresh indexer database from an offline block
// snapshot instead of replaying the whole chain through the network
// source. The snapshot carries its own starting height; nothing here is
// network- or height-specific.
//
// Snapshot format: 8-byte magic "KLGSNAP1", 4-byte little-endian starting
// height, then length-prefixed raw blocks (4-byte little-endian length
// followed by the canonical block bytes) in ascending height order.
//
// Usage:
//
//	indexer-bootstrap --snapshot blocks.snap --datadir ~/.klingnet-indexer/regtest/utxo --network regtest
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/headerstore"
	klog "github.com/Klingon-tech/klingnet-indexer/internal/log"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/internal/utxostore"
	"github.com/Klingon-tech/klingnet-indexer/pkg/btcblock"
)

var snapshotMagic = [8]byte{'K', 'L', 'G', 'S', 'N', 'A', 'P', '1'}

func main() {
	snapshotPath := flag.String("snapshot", "", "Snapshot file path")
	dataDir := flag.String("datadir", "", "Target database directory (must be fresh)")
	network := flag.String("network", "mainnet", "Network the snapshot belongs to")
	flag.Parse()

	if *snapshotPath == "" || *dataDir == "" {
		fmt.Fprintln(os.Stderr, "usage: indexer-bootstrap --snapshot <file> --datadir <dir> [--network <name>]")
		os.Exit(1)
	}

	if err := klog.Init("info", false, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("bootstrap")

	if err := run(*snapshotPath, *dataDir, config.NetworkType(*network)); err != nil {
		logger.Fatal().Err(err).Msg("Bootstrap failed")
	}
	logger.Info().Msg("Bootstrap complete")
}

func run(snapshotPath, dataDir string, network config.NetworkType) error {
	startHeight, rawBlocks, err := readSnapshot(snapshotPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	logger := klog.WithComponent("bootstrap")
	logger.Info().
		Uint32("start_height", startHeight).
		Int("blocks", len(rawBlocks)).
		Msg("Snapshot loaded")

	// Parse concurrently — double-SHA256 over a long snapshot dominates
	// the run — then ingest strictly in order, single-threaded.
	blocks := make([]*btcblock.Block, len(rawBlocks))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range rawBlocks {
		i := i
		g.Go(func() error {
			blk, err := btcblock.Parse(rawBlocks[i])
			if err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			if err := blk.Validate(); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			// Force txid computation inside the worker.
			blk.Txids()
			blocks[i] = blk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	db, err := storage.NewBadger(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := utxostore.New(db, network.ChainNetwork())
	headers := headerstore.New(db)
	if err := store.SeedHeight(startHeight); err != nil {
		return err
	}

	budget := utxostore.NewBudget(^uint64(0))
	for i, blk := range blocks {
		res, err := store.IngestBlock(blk, budget)
		if err != nil {
			return fmt.Errorf("ingest block %d: %w", i, err)
		}
		if res != utxostore.ResultDone {
			return fmt.Errorf("ingest block %d: unexpected pause under unlimited budget", i)
		}
		if err := headers.Put(blk.Header(), store.NextHeight()-1); err != nil {
			return fmt.Errorf("finalize header %d: %w", i, err)
		}
		if (i+1)%1000 == 0 {
			logger.Info().Int("ingested", i+1).Msg("Progress")
		}
	}

	stats := store.Stats()
	logger.Info().
		Uint32("next_height", stats.NextHeight).
		Uint64("utxos", stats.NumUtxos).
		Msg("Database seeded")
	return nil
}

// readSnapshot parses the snapshot container: magic, starting height,
// length-prefixed blocks.
func readSnapshot(path string) (uint32, [][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return 0, nil, err
	}
	if magic != snapshotMagic {
		return 0, nil, fmt.Errorf("not a snapshot file")
	}

	var heightBuf [4]byte
	if _, err := io.ReadFull(f, heightBuf[:]); err != nil {
		return 0, nil, err
	}
	startHeight := binary.LittleEndian.Uint32(heightBuf[:])

	var blocks [][]byte
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return 0, nil, err
		}
		size := binary.LittleEndian.Uint32(lenBuf[:])
		if size == 0 || size > 1<<26 {
			return 0, nil, fmt.Errorf("implausible block size %d", size)
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(f, raw); err != nil {
			return 0, nil, err
		}
		blocks = append(blocks, raw)
	}
	return startHeight, blocks, nil
}
