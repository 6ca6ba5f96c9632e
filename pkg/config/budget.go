package config

import "time"

// BudgetDefaults seeds the stored budget policy on first boot and sets the
// gate's runtime knobs. Once an admin writes a policy through the API, the
// stored document wins; these values are only the bootstrap.
type BudgetDefaults struct {
	// GlobalDailyLimitUSD caps platform-wide spend per UTC day. 0 = no cap.
	// The weekly and monthly variants cap the same scope over UTC weeks
	// (starting Monday) and calendar months.
	GlobalDailyLimitUSD   float64 `yaml:"global_daily_limit_usd"`
	GlobalWeeklyLimitUSD  float64 `yaml:"global_weekly_limit_usd,omitempty"`
	GlobalMonthlyLimitUSD float64 `yaml:"global_monthly_limit_usd,omitempty"`

	// UserDailyLimitUSD caps per-user spend per UTC day. 0 = no cap.
	UserDailyLimitUSD   float64 `yaml:"user_daily_limit_usd"`
	UserWeeklyLimitUSD  float64 `yaml:"user_weekly_limit_usd,omitempty"`
	UserMonthlyLimitUSD float64 `yaml:"user_monthly_limit_usd,omitempty"`

	// ProviderLimits maps provider name to its per-UTC-day USD cap.
	ProviderLimits map[string]float64 `yaml:"provider_limits,omitempty"`

	// AlertThresholds are the usage fractions that fire alerts, ascending.
	AlertThresholds []float64 `yaml:"alert_thresholds"`

	// Enforcement makes the gate deny admission when a limit is reached.
	// When false the gate only records and alerts.
	Enforcement bool `yaml:"enforcement"`

	// ConfigCacheTTL is how long the gate caches the stored policy before
	// re-reading it.
	ConfigCacheTTL time.Duration `yaml:"config_cache_ttl"`
}

// DefaultBudgetDefaults returns the observe-only bootstrap policy.
func DefaultBudgetDefaults() *BudgetDefaults {
	return &BudgetDefaults{
		AlertThresholds: []float64{0.5, 0.8, 0.95},
		Enforcement:     false,
		ConfigCacheTTL:  30 * time.Second,
	}
}
