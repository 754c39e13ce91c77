package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	for _, net := range []NetworkType{Mainnet, Testnet, Testnet4, Regtest, Signet} {
		cfg := Default(net)
		if cfg.Network != net {
			t.Errorf("Default(%s).Network = %s", net, cfg.Network)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Default(%s) does not validate: %v", net, err)
		}
	}
}

func TestLoadFileAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexer.conf")
	content := `
# test config
network = regtest
stability_threshold = 3
syncing = false
api_access = true
disable_api_if_not_fully_synced = true
ingest.instruction_limit = 123456
rpc.port = 19000
rpc.allowed = 127.0.0.1, 10.0.0.1
log.level = debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if cfg.Network != Regtest {
		t.Errorf("network = %s, want regtest", cfg.Network)
	}
	if cfg.StabilityThreshold != 3 {
		t.Errorf("stability_threshold = %d, want 3", cfg.StabilityThreshold)
	}
	if cfg.Syncing {
		t.Error("syncing should be false")
	}
	if !cfg.DisableAPIIfNotFullySynced {
		t.Error("disable_api_if_not_fully_synced should be true")
	}
	if cfg.Ingest.InstructionLimit != 123456 {
		t.Errorf("instruction_limit = %d, want 123456", cfg.Ingest.InstructionLimit)
	}
	if cfg.RPC.Port != 19000 {
		t.Errorf("rpc.port = %d, want 19000", cfg.RPC.Port)
	}
	if len(cfg.RPC.AllowedIPs) != 2 || cfg.RPC.AllowedIPs[1] != "10.0.0.1" {
		t.Errorf("rpc.allowed = %v", cfg.RPC.AllowedIPs)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoadFileUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexer.conf")
	if err := os.WriteFile(path, []byte("bogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ApplyFileConfig(DefaultMainnet(), values); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestApplyAdminUpdate(t *testing.T) {
	cfg := DefaultRegtest()

	threshold := uint32(12)
	syncing := false
	watchdog := "https://watchdog.example"
	ApplyAdminUpdate(cfg, AdminUpdate{
		StabilityThreshold: &threshold,
		Syncing:            &syncing,
		WatchdogEndpoint:   &watchdog,
	})

	if cfg.StabilityThreshold != 12 {
		t.Errorf("stability_threshold = %d, want 12", cfg.StabilityThreshold)
	}
	if cfg.Syncing {
		t.Error("syncing should be false")
	}
	if cfg.WatchdogEndpoint != watchdog {
		t.Errorf("watchdog = %q", cfg.WatchdogEndpoint)
	}
	// Untouched fields survive.
	if !cfg.APIAccess {
		t.Error("api_access should be unchanged (true)")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultMainnet()
	cfg.StabilityThreshold = 0
	if err := Validate(cfg); err == nil {
		t.Error("zero stability threshold should fail validation")
	}

	cfg = DefaultMainnet()
	cfg.Network = "klingon"
	if err := Validate(cfg); err == nil {
		t.Error("unknown network should fail validation")
	}

	cfg = DefaultMainnet()
	cfg.RPC.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Error("out-of-range rpc port should fail validation")
	}
}
