package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// External collaborators
	Source      string
	GenesisFile string

	StabilityThreshold uint
	InstructionLimit   uint64

	// Admin-surface toggles
	Syncing            bool
	APIAccess          bool
	DisableAPIUnsynced bool
	Watchdog           string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetSyncing            bool
	SetAPIAccess          bool
	SetDisableAPIUnsynced bool
	SetRPC                bool
	SetLogJSON            bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("klingnet-indexer", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network (mainnet, testnet, testnet4, regtest, signet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.Source, "source", "", "Block source endpoint URL")
	fs.StringVar(&f.GenesisFile, "genesis", "", "Raw genesis block file (required for testnet4/signet)")

	fs.UintVar(&f.StabilityThreshold, "stability-threshold", 0, "Confirmations before a block is finalized")
	fs.Uint64Var(&f.InstructionLimit, "instruction-limit", 0, "Per-tick ingestion work ceiling")

	// Admin surface
	fs.BoolVar(&f.Syncing, "syncing", true, "Enable block ingestion")
	fs.BoolVar(&f.APIAccess, "api-access", true, "Enable the query API")
	fs.BoolVar(&f.DisableAPIUnsynced, "disable-api-if-not-fully-synced", false, "Reject queries while behind the source")
	fs.StringVar(&f.Watchdog, "watchdog", "", "External watchdog comparator endpoint")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetSyncing = isFlagSet(fs, "syncing")
	f.SetAPIAccess = isFlagSet(fs, "api-access")
	f.SetDisableAPIUnsynced = isFlagSet(fs, "disable-api-if-not-fully-synced")
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the
	// parser, e.g. "--rpc extra --syncing" where "extra" halts parsing.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.StabilityThreshold != 0 {
		cfg.StabilityThreshold = uint32(f.StabilityThreshold)
	}
	if f.InstructionLimit != 0 {
		cfg.Ingest.InstructionLimit = f.InstructionLimit
	}

	// Admin surface
	if f.SetSyncing {
		cfg.Syncing = f.Syncing
	}
	if f.SetAPIAccess {
		cfg.APIAccess = f.APIAccess
	}
	if f.SetDisableAPIUnsynced {
		cfg.DisableAPIIfNotFullySynced = f.DisableAPIUnsynced
	}
	if f.Watchdog != "" {
		cfg.WatchdogEndpoint = f.Watchdog
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// Load assembles the effective configuration: defaults for the selected
// network, then the config file, then command-line flags.
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	// Handle help/version
	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingnet-indexerd version 0.1.0")
		os.Exit(0)
	}

	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(strings.ToLower(flags.Network))
	}

	// Start with defaults
	cfg := Default(network)

	// Override datadir if specified
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, err
	}

	ApplyFlags(cfg, flags)

	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory tree on first start.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.ChainDataDir(), cfg.UTXODir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// isFlagSet reports whether a flag was explicitly provided.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			set = true
		}
	})
	return set
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `klingnet-indexer - Bitcoin UTXO indexer

Usage:
  klingnet-indexerd [flags]

Flags:
  --network <name>                   mainnet, testnet, testnet4, regtest, or signet
  --datadir <path>                   Data directory
  --config <path>                    Config file path
  --source <url>                     Block source endpoint URL
  --genesis <path>                   Raw genesis block file
  --stability-threshold <n>          Confirmations before finalization
  --instruction-limit <n>            Per-tick ingestion work ceiling
  --syncing=<bool>                   Enable block ingestion
  --api-access=<bool>                Enable the query API
  --disable-api-if-not-fully-synced  Reject queries while behind the source
  --watchdog <endpoint>              External watchdog comparator endpoint
  --rpc=<bool>                       Enable RPC server
  --rpc-addr <addr>                  RPC listen address
  --rpc-port <port>                  RPC listen port
  --rpc-allowed <ips>                Allowed RPC client IPs
  --rpc-cors <origins>               Allowed CORS origins
  --log-level <level>                debug, info, warn, error
  --log-file <path>                  Log file path
  --log-json                         JSON log output
`)
}
