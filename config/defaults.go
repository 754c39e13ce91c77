package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		// Six confirmations is the conventional "final enough" depth for
		// Bitcoin mainnet.
		StabilityThreshold:         6,
		Syncing:                    true,
		APIAccess:                  true,
		DisableAPIIfNotFullySynced: true,
		Fees: FeesConfig{
			GetUtxosBase:        50,
			GetBalanceBase:      10,
			GetCurrentFeeBase:   10,
			GetBlockHeadersBase: 50,
			SendTransactionBase: 100,
		},
		Ingest: IngestConfig{
			InstructionLimit: 4_000_000,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8332,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.RPC.Port = 18332
	return cfg
}

// DefaultRegtest returns the default node configuration for regtest:
// shallow stability so local chains finalize fast, API always on.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Regtest
	cfg.StabilityThreshold = 2
	cfg.DisableAPIIfNotFullySynced = false
	cfg.RPC.Port = 18443
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	case Testnet4:
		cfg := DefaultTestnet()
		cfg.Network = Testnet4
		return cfg
	case Regtest:
		return DefaultRegtest()
	case Signet:
		cfg := DefaultTestnet()
		cfg.Network = Signet
		return cfg
	default:
		return DefaultMainnet()
	}
}
