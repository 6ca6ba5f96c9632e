package models

import "time"

// ModelPrice is a per-1000-token price pair in USD.
type ModelPrice struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// ProviderLimit is a per-provider spending cap over each usage window.
type ProviderLimit struct {
	DailyLimitUSD   float64 `json:"daily_limit_usd" yaml:"daily_limit_usd"`
	WeeklyLimitUSD  float64 `json:"weekly_limit_usd,omitempty" yaml:"weekly_limit_usd,omitempty"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd,omitempty" yaml:"monthly_limit_usd,omitempty"`
}

// BudgetConfig is the admin-editable spending policy. A single document is
// stored and cached; zero limits mean "no cap at that scope".
type BudgetConfig struct {
	GlobalDailyLimitUSD   float64                  `json:"global_daily_limit_usd"`
	GlobalWeeklyLimitUSD  float64                  `json:"global_weekly_limit_usd,omitempty"`
	GlobalMonthlyLimitUSD float64                  `json:"global_monthly_limit_usd,omitempty"`
	ProviderLimits        map[string]ProviderLimit `json:"provider_limits,omitempty"`
	UserDailyLimitUSD     float64                  `json:"user_daily_limit_usd"`
	UserWeeklyLimitUSD    float64                  `json:"user_weekly_limit_usd,omitempty"`
	UserMonthlyLimitUSD   float64                  `json:"user_monthly_limit_usd,omitempty"`
	AlertThresholds       []float64                `json:"alert_thresholds"`
	Enforcement           bool                     `json:"enforcement"`
	CustomModelPrices     map[string]ModelPrice    `json:"custom_model_prices,omitempty"`
	UpdatedBy             string                   `json:"updated_by,omitempty"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

// DefaultBudgetConfig returns the policy used until an admin writes one.
// Enforcement starts off so a fresh deployment observes before it blocks.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		AlertThresholds: []float64{0.5, 0.8, 0.95},
		Enforcement:     false,
	}
}

// AICall is the ledger row for one model invocation. Success is tri-state:
// nil means in flight, and in-flight estimated cost counts against budgets
// as a reservation until the call is finalized.
type AICall struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	WorkspaceID      *string   `json:"workspace_id,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Feature          string    `json:"feature"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	EstimatedCost    float64   `json:"estimated_cost"`
	InputCost        *float64  `json:"input_cost,omitempty"`
	OutputCost       *float64  `json:"output_cost,omitempty"`
	FinalCost        *float64  `json:"final_cost,omitempty"`
	Success          *bool     `json:"success,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	LatencyMS        *int64    `json:"latency_ms,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// InFlight reports whether the call has not been finalized yet.
func (c *AICall) InFlight() bool { return c.Success == nil }

// CostUSD is the amount the call currently counts against budgets: the
// final cost once known, the estimate while in flight, zero on failure.
func (c *AICall) CostUSD() float64 {
	switch {
	case c.Success == nil:
		return c.EstimatedCost
	case !*c.Success:
		return 0
	case c.FinalCost != nil:
		return *c.FinalCost
	default:
		return c.EstimatedCost
	}
}

// BudgetAlert is a single-fire threshold crossing for one scope and UTC day.
type BudgetAlert struct {
	ID        string    `json:"id"`
	AlertType AlertType `json:"alert_type"`
	Scope     string    `json:"scope"`
	Threshold float64   `json:"threshold"`
	UsageUSD  float64   `json:"usage_usd"`
	LimitUSD  float64   `json:"limit_usd"`
	DayBucket string    `json:"day_bucket"`
	Dismissed bool      `json:"dismissed"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary aggregates ledger rows over a window for the monitoring API.
// TotalCostUSD includes ReservedUSD, the estimated cost of in-flight calls.
type UsageSummary struct {
	Window       UsageWindow        `json:"window"`
	WindowStart  time.Time          `json:"window_start"`
	WindowEnd    time.Time          `json:"window_end"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	ReservedUSD  float64            `json:"reserved_usd"`
	CallCount    int                `json:"call_count"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
	InFlight     int                `json:"in_flight"`
	ByProvider   map[string]float64 `json:"by_provider,omitempty"`
	ByModel      map[string]float64 `json:"by_model,omitempty"`
	ByFeature    map[string]float64 `json:"by_feature,omitempty"`
}
