// Klingnet Bitcoin indexer daemon.
//
// Usage:
//
//	klingnet-indexerd --network=regtest --source=http://...   Run indexer
//	klingnet-indexerd --help                                  Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/indexer"
	klog "github.com/Klingon-tech/klingnet-indexer/internal/log"
	"github.com/Klingon-tech/klingnet-indexer/internal/rpc"
	"github.com/Klingon-tech/klingnet-indexer/internal/source"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
)

// tickInterval paces the ingestion loop. Each tick is budget-bounded, so
// a short interval keeps the node responsive without unbounded work.
const tickInterval = 250 * time.Millisecond

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, flags, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ──────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/indexer.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("daemon")

	logger.Info().
		Str("network", string(cfg.Network)).
		Uint32("stability_threshold", cfg.StabilityThreshold).
		Msg("Starting Klingnet Bitcoin Indexer")

	// ── 3. Open storage ─────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.UTXODir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.UTXODir()).Msg("Failed to open database")
	}
	defer db.Close()
	logger.Info().Str("path", cfg.UTXODir()).Msg("Database opened")

	// ── 4. Genesis and block source ─────────────────────────────────────
	genesisRaw, err := loadGenesis(cfg.Network.ChainNetwork(), flags.GenesisFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load genesis block")
	}

	var src source.Source
	if flags.Source != "" {
		src = source.NewHTTP(flags.Source)
		logger.Info().Str("endpoint", flags.Source).Msg("Block source configured")
	} else {
		logger.Warn().Msg("No --source endpoint configured; running with an empty in-memory source")
		src = source.NewFake()
	}

	// ── 5. State container ──────────────────────────────────────────────
	ix, err := indexer.New(cfg, db, genesisRaw, src)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize indexer state")
	}

	// ── 6. RPC server ───────────────────────────────────────────────────
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		rpcServer = rpc.New(addr, ix, cfg.RPC)
		if err := rpcServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start RPC server")
		}
		logger.Info().Str("addr", rpcServer.Addr()).Msg("RPC server listening")
	}

	// ── 7. Tick loop until shutdown ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			if rpcServer != nil {
				if err := rpcServer.Stop(); err != nil {
					logger.Error().Err(err).Msg("RPC shutdown error")
				}
			}
			if err := ix.PreUpgrade(); err != nil {
				logger.Error().Err(err).Msg("Failed to snapshot state")
			}
			return
		case <-ticker.C:
			if _, err := ix.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("Tick failed")
			}
		}
	}
}

// loadGenesis resolves the genesis block: an operator-provided file wins,
// otherwise the embedded block for the network.
func loadGenesis(network chainparams.Network, path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return chainparams.GenesisBlock(network)
}
