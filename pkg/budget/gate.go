package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/metrics"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// ErrBudgetExceeded is returned by Admit when enforcement is on and a scope
// limit would be exceeded. Callers must not retry: the denial stands until
// the window rolls over or an admin raises the limit.
var ErrBudgetExceeded = errors.New("ai budget exceeded")

const configCacheKey = "budget-config"

// Decision is the outcome of one admission check. Scope is empty when no
// limit was near; otherwise it names the most specific scope that was (or
// would be) exceeded.
type Decision struct {
	Allowed     bool               `json:"allowed"`
	Enforced    bool               `json:"enforced"`
	Scope       string             `json:"scope,omitempty"`
	Window      models.UsageWindow `json:"window,omitempty"`
	AlertType   models.AlertType   `json:"alert_type,omitempty"`
	LimitUSD    float64            `json:"limit_usd,omitempty"`
	UsageUSD    float64            `json:"usage_usd,omitempty"`
	EstimateUSD float64            `json:"estimate_usd"`
}

// Gate admits or denies AI calls against the effective budget policy and
// owns the policy's read cache. Admissions are serialized so two concurrent
// calls cannot both squeeze under the last dollar of a cap.
type Gate struct {
	ledger   *Ledger
	defaults *config.BudgetDefaults
	cache    *gocache.Cache

	mu sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// NewGate creates a new Gate
func NewGate(ledger *Ledger, defaults *config.BudgetDefaults) *Gate {
	ttl := defaults.ConfigCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Gate{
		ledger:   ledger,
		defaults: defaults,
		cache:    gocache.New(ttl, 2*ttl),
		now:      time.Now,
	}
}

// EffectiveConfig returns the stored budget policy, falling back to the
// bootstrap defaults until an admin writes one. Results are cached briefly;
// a stale read can only delay a limit change by the cache TTL.
func (g *Gate) EffectiveConfig(ctx context.Context) (*models.BudgetConfig, error) {
	if v, ok := g.cache.Get(configCacheKey); ok {
		return v.(*models.BudgetConfig), nil
	}
	cfg, err := g.loadEffectiveConfig(ctx)
	if err != nil {
		return nil, err
	}
	g.cache.SetDefault(configCacheKey, cfg)
	return cfg, nil
}

func (g *Gate) loadEffectiveConfig(ctx context.Context) (*models.BudgetConfig, error) {
	cfg, err := g.ledger.LoadConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return g.bootstrapConfig(), nil
	}
	return nil, err
}

func (g *Gate) bootstrapConfig() *models.BudgetConfig {
	cfg := models.DefaultBudgetConfig()
	cfg.GlobalDailyLimitUSD = g.defaults.GlobalDailyLimitUSD
	cfg.GlobalWeeklyLimitUSD = g.defaults.GlobalWeeklyLimitUSD
	cfg.GlobalMonthlyLimitUSD = g.defaults.GlobalMonthlyLimitUSD
	cfg.UserDailyLimitUSD = g.defaults.UserDailyLimitUSD
	cfg.UserWeeklyLimitUSD = g.defaults.UserWeeklyLimitUSD
	cfg.UserMonthlyLimitUSD = g.defaults.UserMonthlyLimitUSD
	cfg.Enforcement = g.defaults.Enforcement
	if len(g.defaults.AlertThresholds) > 0 {
		cfg.AlertThresholds = slices.Clone(g.defaults.AlertThresholds)
	}
	if len(g.defaults.ProviderLimits) > 0 {
		cfg.ProviderLimits = make(map[string]models.ProviderLimit, len(g.defaults.ProviderLimits))
		for provider, limit := range g.defaults.ProviderLimits {
			cfg.ProviderLimits[provider] = models.ProviderLimit{DailyLimitUSD: limit}
		}
	}
	return &cfg
}

// UpdateConfig applies a partial policy update and persists the result. Nil
// request fields keep their current values.
func (g *Gate) UpdateConfig(ctx context.Context, req *models.UpdateBudgetConfigRequest, updatedBy string) (*models.BudgetConfig, error) {
	cfg, err := g.loadEffectiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	if req.GlobalDailyLimitUSD != nil {
		cfg.GlobalDailyLimitUSD = *req.GlobalDailyLimitUSD
	}
	if req.GlobalWeeklyLimitUSD != nil {
		cfg.GlobalWeeklyLimitUSD = *req.GlobalWeeklyLimitUSD
	}
	if req.GlobalMonthlyLimitUSD != nil {
		cfg.GlobalMonthlyLimitUSD = *req.GlobalMonthlyLimitUSD
	}
	if req.UserDailyLimitUSD != nil {
		cfg.UserDailyLimitUSD = *req.UserDailyLimitUSD
	}
	if req.UserWeeklyLimitUSD != nil {
		cfg.UserWeeklyLimitUSD = *req.UserWeeklyLimitUSD
	}
	if req.UserMonthlyLimitUSD != nil {
		cfg.UserMonthlyLimitUSD = *req.UserMonthlyLimitUSD
	}
	if req.ProviderLimits != nil {
		cfg.ProviderLimits = req.ProviderLimits
	}
	if req.AlertThresholds != nil {
		cfg.AlertThresholds = req.AlertThresholds
	}
	if req.Enforcement != nil {
		cfg.Enforcement = *req.Enforcement
	}
	if req.CustomModelPrices != nil {
		cfg.CustomModelPrices = req.CustomModelPrices
	}
	cfg.UpdatedBy = updatedBy
	cfg.UpdatedAt = g.now().UTC()

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := g.ledger.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	g.cache.Delete(configCacheKey)

	slog.Info("budget config updated",
		"updated_by", updatedBy,
		"global_limit_usd", cfg.GlobalDailyLimitUSD,
		"user_limit_usd", cfg.UserDailyLimitUSD,
		"enforcement", cfg.Enforcement)
	return cfg, nil
}

// ValidateConfig rejects policies that could never be intended: negative
// limits, thresholds outside (0,1], or unsorted threshold lists.
func ValidateConfig(cfg *models.BudgetConfig) error {
	if cfg.GlobalDailyLimitUSD < 0 || cfg.GlobalWeeklyLimitUSD < 0 || cfg.GlobalMonthlyLimitUSD < 0 {
		return store.NewValidationError("global_limits", "must not be negative")
	}
	if cfg.UserDailyLimitUSD < 0 || cfg.UserWeeklyLimitUSD < 0 || cfg.UserMonthlyLimitUSD < 0 {
		return store.NewValidationError("user_limits", "must not be negative")
	}
	for provider, limit := range cfg.ProviderLimits {
		if limit.DailyLimitUSD < 0 || limit.WeeklyLimitUSD < 0 || limit.MonthlyLimitUSD < 0 {
			return store.NewValidationError("provider_limits."+provider, "must not be negative")
		}
	}
	for i, th := range cfg.AlertThresholds {
		if th <= 0 || th > 1 {
			return store.NewValidationError("alert_thresholds", "thresholds must be in (0, 1]")
		}
		if i > 0 && th <= cfg.AlertThresholds[i-1] {
			return store.NewValidationError("alert_thresholds", "thresholds must be strictly ascending")
		}
	}
	for model, price := range cfg.CustomModelPrices {
		if price.InputPer1K < 0 || price.OutputPer1K < 0 {
			return store.NewValidationError("custom_model_prices."+model, "rates must not be negative")
		}
	}
	return nil
}

// Admit checks the projected spend of a call against every configured scope
// and, when admitted, opens the in-flight ledger entry. The returned Decision
// is populated in every case, including denials.
func (g *Gate) Admit(ctx context.Context, req *models.RegisterCallRequest, workspaceID *string) (*models.AICall, *Decision, error) {
	if req.CallID != "" {
		if _, err := uuid.Parse(req.CallID); err != nil {
			return nil, nil, store.NewValidationError("call_id", "must be a valid UUID")
		}
	}
	cfg, err := g.EffectiveConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	price := PriceFor(req.Model, cfg.CustomModelPrices)
	estimate := EstimateCost(price, req.PromptTokens)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	usage, err := g.gatherUsage(ctx, cfg, req.Provider, req.UserID, now)
	if err != nil {
		return nil, nil, err
	}

	decision := evaluateScopes(cfg, usage, req.Provider, req.UserID, estimate)
	metrics.AdmissionTotal.WithLabelValues(decisionLabel(decision), scopeLabel(decision)).Inc()

	if !decision.Allowed {
		g.fireAlerts(ctx, cfg, usage, req.Provider, req.UserID, now)
		slog.Warn("ai call denied by budget gate",
			"user_id", req.UserID,
			"provider", req.Provider,
			"model", req.Model,
			"scope", decision.Scope,
			"window", decision.Window,
			"usage_usd", decision.UsageUSD,
			"limit_usd", decision.LimitUSD,
			"estimate_usd", estimate)
		return nil, decision, fmt.Errorf("%w: %s %s budget of %.2f USD reached (%.4f used, %.4f requested)",
			ErrBudgetExceeded, decision.Scope, decision.Window, decision.LimitUSD, decision.UsageUSD, estimate)
	}

	call := &models.AICall{
		ID:            req.CallID,
		UserID:        req.UserID,
		WorkspaceID:   workspaceID,
		Provider:      req.Provider,
		Model:         req.Model,
		Feature:       req.Feature,
		PromptTokens:  req.PromptTokens,
		EstimatedCost: estimate,
	}
	registered, err := g.ledger.RegisterCall(ctx, call)
	if err != nil {
		return nil, nil, err
	}

	// The reservation just moved usage; alerts consider it immediately.
	reserved := make(windowedUsage, len(usage))
	for window, u := range usage {
		reserved[window] = &UsageTriple{
			GlobalUSD:   u.GlobalUSD + estimate,
			ProviderUSD: u.ProviderUSD + estimate,
			UserUSD:     u.UserUSD + estimate,
		}
	}
	g.fireAlerts(ctx, cfg, reserved, req.Provider, req.UserID, now)

	if decision.Scope != "" {
		slog.Warn("ai call over budget but enforcement is off",
			"call_id", registered.ID,
			"scope", decision.Scope,
			"usage_usd", decision.UsageUSD,
			"limit_usd", decision.LimitUSD)
	}
	return registered, decision, nil
}

// Finalize applies the outcome of a call, recomputes its server-side cost,
// and re-evaluates alerts with the settled usage.
func (g *Gate) Finalize(ctx context.Context, id string, req *models.UpdateCallRequest) (*models.AICall, error) {
	if req.Success == nil {
		return nil, store.NewValidationError("success", "is required")
	}
	current, err := g.ledger.GetCall(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := g.EffectiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	promptTokens := current.PromptTokens
	if req.PromptTokens != nil {
		promptTokens = *req.PromptTokens
	}
	completionTokens := current.CompletionTokens
	if req.CompletionTokens != nil {
		completionTokens = *req.CompletionTokens
	}

	var cost *CallCost
	if *req.Success {
		price := PriceFor(current.Model, cfg.CustomModelPrices)
		input, output := CostBreakdown(price, promptTokens, completionTokens)
		cost = &CallCost{InputUSD: input, OutputUSD: output, TotalUSD: input + output}
	}

	updated, err := g.ledger.FinalizeCall(ctx, id, req, cost)
	if err != nil {
		return nil, err
	}
	if cost != nil {
		metrics.LLMCostUSDTotal.WithLabelValues(updated.Provider, updated.Model).Add(cost.TotalUSD)
	}

	now := g.now().UTC()
	usage, err := g.gatherUsage(ctx, cfg, updated.Provider, updated.UserID, now)
	if err != nil {
		slog.Error("failed to re-evaluate budget after finalization", "call_id", id, "error", err)
		return updated, nil
	}
	g.fireAlerts(ctx, cfg, usage, updated.Provider, updated.UserID, now)
	return updated, nil
}

// HasHeadroom reports whether a call for the user could currently be
// admitted at all. The scheduler uses it to hold back re-enqueues of
// budget-failed modules until the window rolls over or an admin raises the
// limits.
func (g *Gate) HasHeadroom(ctx context.Context, provider, userID string) (bool, error) {
	cfg, err := g.EffectiveConfig(ctx)
	if err != nil {
		return false, err
	}
	now := g.now().UTC()
	usage, err := g.gatherUsage(ctx, cfg, provider, userID, now)
	if err != nil {
		return false, err
	}
	return evaluateScopes(cfg, usage, provider, userID, 0).Allowed, nil
}

// Usage summarizes ledger activity for the monitoring API.
func (g *Gate) Usage(ctx context.Context, window models.UsageWindow, userID string) (*models.UsageSummary, error) {
	if !window.IsValid() {
		return nil, store.NewValidationError("window", "must be daily, weekly or monthly")
	}
	return g.ledger.Summarize(ctx, window, userID, g.now())
}

// windowedUsage holds the scope spend per usage window, gathered once under
// the admission lock.
type windowedUsage map[models.UsageWindow]*UsageTriple

// gatherUsage aggregates the ledger over every window the policy caps.
// The daily window is always included; alerts and metrics anchor on it.
func (g *Gate) gatherUsage(ctx context.Context, cfg *models.BudgetConfig, provider, userID string, now time.Time) (windowedUsage, error) {
	usage := make(windowedUsage, 3)
	for _, window := range configuredWindows(cfg) {
		start, end := WindowBounds(window, now)
		u, err := g.ledger.UsageFor(ctx, start, end, provider, userID)
		if err != nil {
			return nil, err
		}
		usage[window] = u
	}
	return usage, nil
}

func configuredWindows(cfg *models.BudgetConfig) []models.UsageWindow {
	windows := []models.UsageWindow{models.WindowDaily}
	if cfg.GlobalWeeklyLimitUSD > 0 || cfg.UserWeeklyLimitUSD > 0 || providerLimitsWindow(cfg, models.WindowWeekly) {
		windows = append(windows, models.WindowWeekly)
	}
	if cfg.GlobalMonthlyLimitUSD > 0 || cfg.UserMonthlyLimitUSD > 0 || providerLimitsWindow(cfg, models.WindowMonthly) {
		windows = append(windows, models.WindowMonthly)
	}
	return windows
}

func providerLimitsWindow(cfg *models.BudgetConfig, window models.UsageWindow) bool {
	for _, pl := range cfg.ProviderLimits {
		if providerLimitFor(pl, window) > 0 {
			return true
		}
	}
	return false
}

func providerLimitFor(pl models.ProviderLimit, window models.UsageWindow) float64 {
	switch window {
	case models.WindowWeekly:
		return pl.WeeklyLimitUSD
	case models.WindowMonthly:
		return pl.MonthlyLimitUSD
	default:
		return pl.DailyLimitUSD
	}
}

// scopeCheck is one (scope, window) cap to evaluate against its spend.
type scopeCheck struct {
	window    models.UsageWindow
	limit     float64
	used      float64
	scope     string
	alertType models.AlertType
}

// scopeChecks enumerates every configured cap most specific first: user,
// then provider, then global, each daily before weekly before monthly.
func scopeChecks(cfg *models.BudgetConfig, usage windowedUsage, provider, userID string) []scopeCheck {
	checks := []scopeCheck{}
	add := func(window models.UsageWindow, limit float64, pick func(*UsageTriple) float64, scope string, alertType models.AlertType) {
		u, ok := usage[window]
		if limit <= 0 || !ok {
			return
		}
		checks = append(checks, scopeCheck{window, limit, pick(u), scope, alertType})
	}
	userUSD := func(u *UsageTriple) float64 { return u.UserUSD }
	providerUSD := func(u *UsageTriple) float64 { return u.ProviderUSD }
	globalUSD := func(u *UsageTriple) float64 { return u.GlobalUSD }

	if userID != "" {
		add(models.WindowDaily, cfg.UserDailyLimitUSD, userUSD, userID, models.AlertUserDaily)
		add(models.WindowWeekly, cfg.UserWeeklyLimitUSD, userUSD, userID, models.AlertUserWeekly)
		add(models.WindowMonthly, cfg.UserMonthlyLimitUSD, userUSD, userID, models.AlertUserMonthly)
	}
	if pl, ok := cfg.ProviderLimits[provider]; ok {
		add(models.WindowDaily, pl.DailyLimitUSD, providerUSD, provider, models.AlertProviderDaily)
		add(models.WindowWeekly, pl.WeeklyLimitUSD, providerUSD, provider, models.AlertProviderWeekly)
		add(models.WindowMonthly, pl.MonthlyLimitUSD, providerUSD, provider, models.AlertProviderMonthly)
	}
	add(models.WindowDaily, cfg.GlobalDailyLimitUSD, globalUSD, "global", models.AlertGlobalDaily)
	add(models.WindowWeekly, cfg.GlobalWeeklyLimitUSD, globalUSD, "global", models.AlertGlobalWeekly)
	add(models.WindowMonthly, cfg.GlobalMonthlyLimitUSD, globalUSD, "global", models.AlertGlobalMonthly)
	return checks
}

// evaluateScopes checks every cap and reports the first that the projected
// spend would exceed, so denials name the narrowest scope and window.
func evaluateScopes(cfg *models.BudgetConfig, usage windowedUsage, provider, userID string, estimate float64) *Decision {
	d := &Decision{Allowed: true, Enforced: cfg.Enforcement, EstimateUSD: estimate}
	for _, c := range scopeChecks(cfg, usage, provider, userID) {
		if c.used+estimate > c.limit {
			d.Scope = c.scope
			d.Window = c.window
			d.AlertType = c.alertType
			d.LimitUSD = c.limit
			d.UsageUSD = c.used
			d.Allowed = !cfg.Enforcement
			return d
		}
	}
	return d
}

// fireAlerts inserts one alert per crossed (scope, window, threshold). The
// bucket key is the window's start day, so weekly and monthly alerts fire
// once per window and daily alerts once per UTC day. The unique constraint
// absorbs races between evaluators, so firing is naturally idempotent.
func (g *Gate) fireAlerts(ctx context.Context, cfg *models.BudgetConfig, usage windowedUsage, provider, userID string, now time.Time) {
	for _, s := range scopeChecks(cfg, usage, provider, userID) {
		if s.window == models.WindowDaily && s.alertType != models.AlertUserDaily {
			metrics.BudgetUsageUSD.WithLabelValues(scopeLabelName(s.alertType, s.scope)).Set(s.used)
		}
		bucket := DayBucket(now)
		if s.window != models.WindowDaily {
			start, _ := WindowBounds(s.window, now)
			bucket = DayBucket(start)
		}
		fraction := s.used / s.limit
		for _, threshold := range cfg.AlertThresholds {
			if fraction < threshold {
				break
			}
			created, err := g.ledger.InsertAlert(ctx, &models.BudgetAlert{
				AlertType: s.alertType,
				Scope:     s.scope,
				Threshold: threshold,
				UsageUSD:  s.used,
				LimitUSD:  s.limit,
				DayBucket: bucket,
			})
			if err != nil {
				slog.Error("failed to record budget alert",
					"alert_type", s.alertType, "scope", s.scope, "threshold", threshold, "error", err)
				continue
			}
			if created {
				metrics.AlertsFiredTotal.WithLabelValues(string(s.alertType)).Inc()
				slog.Warn("budget threshold crossed",
					"alert_type", s.alertType,
					"scope", s.scope,
					"threshold", threshold,
					"usage_usd", s.used,
					"limit_usd", s.limit)
			}
		}
	}
}

func scopeLabelName(alertType models.AlertType, scope string) string {
	if alertType == models.AlertProviderDaily {
		return "provider:" + scope
	}
	return "global"
}

func decisionLabel(d *Decision) string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}

func scopeLabel(d *Decision) string {
	switch d.AlertType {
	case "":
		return "none"
	case models.AlertUserDaily, models.AlertUserWeekly, models.AlertUserMonthly:
		return "user"
	case models.AlertProviderDaily, models.AlertProviderWeekly, models.AlertProviderMonthly:
		return "provider"
	default:
		return "global"
	}
}
