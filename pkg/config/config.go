package config

import (
	"context"
	"fmt"
)

// Config is the umbrella object returned by Initialize(): an immutable
// Snapshot plus a SettingStore for the handful of fields operators are
// allowed to edit at runtime without a restart.
type Config struct {
	Snapshot *Snapshot
	Settings SettingStore
}

// SettingStore is the narrow persistence capability config needs from
// pkg/store, declared here rather than imported so this package stays
// testable without a database and without an import cycle back to store.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// RuntimeOverridable lists the dispatch-stage Snapshot fields operators may
// edit at runtime via the settings table (spec.md's config table marks these
// as the dispatch/rate-limit knobs most likely to need live tuning). It is
// not the full set: the analysis worker reads analyzer_model,
// analyzer_prompt, analyzer_params and daily_cost_ceiling_usd from the same
// table.
var RuntimeOverridable = []string{
	"dispatch_rate_per_s",
	"dispatch_max_retries",
	"notifications_enabled",
	"notify_only_analyzed",
}

// ResolveDispatchRate returns the effective dispatch_rate_per_s, preferring
// the live Settings value over the loaded Snapshot, read once per caller
// (not per operation) as SPEC_FULL.md's ambient config section requires.
func (c *Config) ResolveDispatchRate(ctx context.Context) float64 {
	if c.Settings == nil {
		return c.Snapshot.DispatchRatePerSec
	}
	v, ok, err := c.Settings.GetSetting(ctx, "dispatch_rate_per_s")
	if err != nil || !ok {
		return c.Snapshot.DispatchRatePerSec
	}
	var rate float64
	if _, err := fmt.Sscan(v, &rate); err != nil {
		return c.Snapshot.DispatchRatePerSec
	}
	return rate
}
