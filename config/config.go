// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: per-network consensus constants, owned by
//     pkg/chainparams and never configurable at runtime
//   - Node settings: runtime configuration, can vary per node, including
//     the administrative flags the operator can flip live
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Klingon-tech/klingnet-indexer/pkg/chainparams"
)

// NetworkType identifies which Bitcoin network the indexer follows.
type NetworkType string

const (
	Mainnet  NetworkType = "mainnet"
	Testnet  NetworkType = "testnet"
	Testnet4 NetworkType = "testnet4"
	Regtest  NetworkType = "regtest"
	Signet   NetworkType = "signet"
)

// ChainNetwork maps the config's network name onto the consensus
// parameters package's identifier.
func (n NetworkType) ChainNetwork() chainparams.Network {
	switch n {
	case Testnet:
		return chainparams.Testnet3
	case Testnet4:
		return chainparams.Testnet4
	case Regtest:
		return chainparams.Regtest
	case Signet:
		return chainparams.Signet
	default:
		return chainparams.Mainnet
	}
}

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// StabilityThreshold is the confirmation depth a block needs before
	// it is finalized into the UTXO set.
	StabilityThreshold uint32 `conf:"stability_threshold"`

	// Syncing gates the ingestion loop; flipping it off freezes the tip
	// without touching state.
	Syncing bool `conf:"syncing"`

	// APIAccess gates the whole query surface.
	APIAccess bool `conf:"api_access"`

	// DisableAPIIfNotFullySynced rejects queries while the indexer is
	// known to lag its source.
	DisableAPIIfNotFullySynced bool `conf:"disable_api_if_not_fully_synced"`

	// WatchdogEndpoint is the address of the external comparator allowed
	// to flip APIAccess when the local tip diverges from public explorers.
	WatchdogEndpoint string `conf:"watchdog"`

	// Fees is the request pricing table exposed to the admin surface.
	Fees FeesConfig

	// Ingest bounds the per-tick work.
	Ingest IngestConfig

	// RPC server
	RPC RPCConfig

	// Logging
	Log LogConfig
}

// FeesConfig carries the per-call base charges the admin surface can
// retune without redeploying.
type FeesConfig struct {
	GetUtxosBase           uint64 `conf:"fees.get_utxos_base"`
	GetBalanceBase         uint64 `conf:"fees.get_balance_base"`
	GetCurrentFeeBase      uint64 `conf:"fees.get_current_fee_percentiles_base"`
	GetBlockHeadersBase    uint64 `conf:"fees.get_block_headers_base"`
	SendTransactionBase    uint64 `conf:"fees.send_transaction_base"`
	SendTransactionPerByte uint64 `conf:"fees.send_transaction_per_byte"`
}

// IngestConfig holds ingestion scheduling settings.
type IngestConfig struct {
	// InstructionLimit is the hard per-tick work ceiling; the ingestor
	// pauses near 80% of it.
	InstructionLimit uint64 `conf:"ingest.instruction_limit"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-conventional data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-indexer"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetIndexer")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetIndexer")
		}
		return filepath.Join(home, "KlingnetIndexer")
	default:
		return filepath.Join(home, ".klingnet-indexer")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// UTXODir returns the UTXO database directory.
func (c *Config) UTXODir() string {
	return filepath.Join(c.ChainDataDir(), "utxo")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "indexer.conf")
}
