package config

// AdminUpdate is the administrative set_config payload: every field is
// optional, and only the fields present are applied. It flips feature
// flags and thresholds without otherwise touching chain state.
type AdminUpdate struct {
	StabilityThreshold         *uint32
	Syncing                    *bool
	APIAccess                  *bool
	Fees                       *FeesConfig
	DisableAPIIfNotFullySynced *bool
	WatchdogEndpoint           *string
}

// ApplyAdminUpdate merges u into cfg, field by field.
func ApplyAdminUpdate(cfg *Config, u AdminUpdate) {
	if u.StabilityThreshold != nil {
		cfg.StabilityThreshold = *u.StabilityThreshold
	}
	if u.Syncing != nil {
		cfg.Syncing = *u.Syncing
	}
	if u.APIAccess != nil {
		cfg.APIAccess = *u.APIAccess
	}
	if u.Fees != nil {
		cfg.Fees = *u.Fees
	}
	if u.DisableAPIIfNotFullySynced != nil {
		cfg.DisableAPIIfNotFullySynced = *u.DisableAPIIfNotFullySynced
	}
	if u.WatchdogEndpoint != nil {
		cfg.WatchdogEndpoint = *u.WatchdogEndpoint
	}
}
