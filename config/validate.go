package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Testnet4, Regtest, Signet:
	default:
		return fmt.Errorf("unknown network %q", cfg.Network)
	}
	if cfg.StabilityThreshold == 0 {
		return fmt.Errorf("stability_threshold must be at least 1")
	}
	if cfg.Ingest.InstructionLimit == 0 {
		return fmt.Errorf("ingest.instruction_limit must be positive")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	switch cfg.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	return nil
}
