package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// Ledger persists AI call records, the stored budget policy, and threshold
// alerts.
type Ledger struct {
	db *database.Client
}

// NewLedger creates a new Ledger
func NewLedger(db *database.Client) *Ledger {
	return &Ledger{db: db}
}

const callColumns = `id, user_id, workspace_id, provider, model, feature, prompt_tokens, completion_tokens, estimated_cost, input_cost, output_cost, final_cost, success, error_message, latency_ms, created_at, updated_at`

// costExpr is the budget-relevant cost of a row: the estimate while in
// flight, the final cost on success, nothing on failure. Must stay in sync
// with models.AICall.CostUSD.
const costExpr = `CASE WHEN success IS NULL THEN estimated_cost WHEN success THEN COALESCE(final_cost, estimated_cost) ELSE 0 END`

func scanCall(row pgx.Row) (*models.AICall, error) {
	var c models.AICall
	err := row.Scan(&c.ID, &c.UserID, &c.WorkspaceID, &c.Provider, &c.Model, &c.Feature,
		&c.PromptTokens, &c.CompletionTokens, &c.EstimatedCost, &c.InputCost, &c.OutputCost,
		&c.FinalCost, &c.Success, &c.ErrorMessage, &c.LatencyMS, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: ai call", store.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// RegisterCall opens an in-flight ledger entry. The estimate immediately
// counts against budgets as a reservation. A client-supplied id that is
// already in the ledger is a replay and is rejected.
func (l *Ledger) RegisterCall(ctx context.Context, c *models.AICall) (*models.AICall, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	row := l.db.Pool().QueryRow(ctx, `
		INSERT INTO ai_calls (id, user_id, workspace_id, provider, model, feature, prompt_tokens, estimated_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+callColumns,
		c.ID, c.UserID, c.WorkspaceID, c.Provider, c.Model, c.Feature, c.PromptTokens, c.EstimatedCost)
	inserted, err := scanCall(row)
	if err != nil {
		if database.IsUniqueViolation(err, "ai_calls_pkey") {
			return nil, fmt.Errorf("%w: ai call %s", store.ErrAlreadyExists, c.ID)
		}
		return nil, fmt.Errorf("failed to register ai call: %w", err)
	}
	return inserted, nil
}

// GetCall fetches one ledger entry by id.
func (l *Ledger) GetCall(ctx context.Context, id string) (*models.AICall, error) {
	row := l.db.Pool().QueryRow(ctx,
		`SELECT `+callColumns+` FROM ai_calls WHERE id = $1`, id)
	return scanCall(row)
}

// CallCost is the server-computed cost decomposition persisted when a call
// finalizes successfully. TotalUSD is the sum of the two components.
type CallCost struct {
	InputUSD  float64
	OutputUSD float64
	TotalUSD  float64
}

// FinalizeCall applies the outcome of an invocation. Token counts default to
// the registered values; finalizing twice is last-write-wins. A nil cost
// leaves the cost columns NULL, which failed calls rely on.
func (l *Ledger) FinalizeCall(ctx context.Context, id string, req *models.UpdateCallRequest, cost *CallCost) (*models.AICall, error) {
	var inputCost, outputCost, finalCost *float64
	if cost != nil {
		inputCost, outputCost, finalCost = &cost.InputUSD, &cost.OutputUSD, &cost.TotalUSD
	}
	row := l.db.Pool().QueryRow(ctx, `
		UPDATE ai_calls SET
			prompt_tokens = COALESCE($2, prompt_tokens),
			completion_tokens = COALESCE($3, completion_tokens),
			success = $4,
			error_message = $5,
			latency_ms = $6,
			input_cost = $7,
			output_cost = $8,
			final_cost = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING `+callColumns,
		id, req.PromptTokens, req.CompletionTokens, req.Success, req.ErrorMessage, req.LatencyMS,
		inputCost, outputCost, finalCost)
	return scanCall(row)
}

// ExpireStaleCalls fails in-flight entries older than the cutoff so abandoned
// reservations stop counting against budgets.
func (l *Ledger) ExpireStaleCalls(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := l.db.Pool().Exec(ctx, `
		UPDATE ai_calls
		SET success = FALSE, error_message = 'expired without finalization', updated_at = now()
		WHERE success IS NULL AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale calls: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UsageTriple is the UTC-day spend at each admission scope.
type UsageTriple struct {
	GlobalUSD   float64
	ProviderUSD float64
	UserUSD     float64
}

// UsageFor sums budget-relevant cost over [start, end) at all three scopes in
// one query. Provider and user scopes are filtered to the given identifiers.
func (l *Ledger) UsageFor(ctx context.Context, start, end time.Time, provider, userID string) (*UsageTriple, error) {
	var u UsageTriple
	err := l.db.Pool().QueryRow(ctx, `
		SELECT
			COALESCE(SUM(cost), 0),
			COALESCE(SUM(cost) FILTER (WHERE provider = $3), 0),
			COALESCE(SUM(cost) FILTER (WHERE user_id = NULLIF($4, '')::uuid), 0)
		FROM (
			SELECT provider, user_id, `+costExpr+` AS cost
			FROM ai_calls
			WHERE created_at >= $1 AND created_at < $2
		) c`,
		start, end, provider, userID).Scan(&u.GlobalUSD, &u.ProviderUSD, &u.UserUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return &u, nil
}

// Summarize aggregates the ledger over a window for the monitoring API.
// userID narrows the summary to one user when non-empty.
func (l *Ledger) Summarize(ctx context.Context, window models.UsageWindow, userID string, now time.Time) (*models.UsageSummary, error) {
	start, end := WindowBounds(window, now)
	summary := &models.UsageSummary{
		Window:      window,
		WindowStart: start,
		WindowEnd:   end,
		ByProvider:  map[string]float64{},
		ByModel:     map[string]float64{},
		ByFeature:   map[string]float64{},
	}

	totalsQuery := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COUNT(*) FILTER (WHERE success = FALSE),
		       COUNT(*) FILTER (WHERE success IS NULL),
		       COALESCE(SUM(` + costExpr + `), 0),
		       COALESCE(SUM(estimated_cost) FILTER (WHERE success IS NULL), 0)
		FROM ai_calls
		WHERE created_at >= $1 AND created_at < $2
		  AND ($3 = '' OR user_id = NULLIF($3, '')::uuid)`
	err := l.db.Pool().QueryRow(ctx, totalsQuery, start, end, userID).Scan(
		&summary.CallCount, &summary.SuccessCount, &summary.FailureCount,
		&summary.InFlight, &summary.TotalCostUSD, &summary.ReservedUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	dimsQuery := `
		WITH costed AS (
			SELECT provider, model, feature, ` + costExpr + ` AS cost
			FROM ai_calls
			WHERE created_at >= $1 AND created_at < $2
			  AND ($3 = '' OR user_id = NULLIF($3, '')::uuid)
		)
		SELECT 'provider' AS dim, provider AS key, SUM(cost) FROM costed GROUP BY provider
		UNION ALL
		SELECT 'model', model, SUM(cost) FROM costed GROUP BY model
		UNION ALL
		SELECT 'feature', feature, SUM(cost) FROM costed GROUP BY feature`
	rows, err := l.db.Pool().Query(ctx, dimsQuery, start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage dimensions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dim, key string
		var cost float64
		if err := rows.Scan(&dim, &key, &cost); err != nil {
			return nil, err
		}
		switch dim {
		case "provider":
			summary.ByProvider[key] = cost
		case "model":
			summary.ByModel[key] = cost
		case "feature":
			if key != "" {
				summary.ByFeature[key] = cost
			}
		}
	}
	return summary, rows.Err()
}

// WindowBounds computes the UTC bounds of a usage window containing now.
// Weekly windows start Monday; monthly windows start on the first.
func WindowBounds(window models.UsageWindow, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch window {
	case models.WindowWeekly:
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start := day.AddDate(0, 0, -(weekday - 1))
		return start, start.AddDate(0, 0, 7)
	case models.WindowMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// DayBucket formats the UTC day for alert deduplication.
func DayBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// LoadConfig reads the stored budget policy. store.ErrNotFound means no admin
// has written one yet.
func (l *Ledger) LoadConfig(ctx context.Context) (*models.BudgetConfig, error) {
	var cfg models.BudgetConfig
	err := l.db.Pool().QueryRow(ctx,
		`SELECT config, updated_by, updated_at FROM budget_configs WHERE id = 1`).
		Scan(&cfg, &cfg.UpdatedBy, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: budget config", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load budget config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig replaces the stored budget policy.
func (l *Ledger) SaveConfig(ctx context.Context, cfg *models.BudgetConfig) error {
	_, err := l.db.Pool().Exec(ctx, `
		INSERT INTO budget_configs (id, config, updated_by, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			config = EXCLUDED.config,
			updated_by = EXCLUDED.updated_by,
			updated_at = now()`,
		cfg, cfg.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to save budget config: %w", err)
	}
	return nil
}

const alertColumns = `id, alert_type, scope, threshold, usage_usd, limit_usd, day_bucket::text, dismissed, created_at`

func scanAlert(row pgx.Row) (*models.BudgetAlert, error) {
	var a models.BudgetAlert
	err := row.Scan(&a.ID, &a.AlertType, &a.Scope, &a.Threshold,
		&a.UsageUSD, &a.LimitUSD, &a.DayBucket, &a.Dismissed, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: budget alert", store.ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// InsertAlert fires an alert at most once per (type, scope, threshold, day).
// Returns false when an earlier evaluation already fired it.
func (l *Ledger) InsertAlert(ctx context.Context, a *models.BudgetAlert) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	tag, err := l.db.Pool().Exec(ctx, `
		INSERT INTO budget_alerts (id, alert_type, scope, threshold, usage_usd, limit_usd, day_bucket)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT uq_budget_alerts_fire DO NOTHING`,
		a.ID, a.AlertType, a.Scope, a.Threshold, a.UsageUSD, a.LimitUSD, a.DayBucket)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAlerts returns recent alerts, active ones first unless dismissed rows
// are requested too. limit <= 0 means no cap.
func (l *Ledger) ListAlerts(ctx context.Context, includeDismissed bool, limit int) ([]models.BudgetAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM budget_alerts`
	if !includeDismissed {
		query += ` WHERE NOT dismissed`
	}
	query += ` ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := l.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.BudgetAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// DismissAlert acknowledges an alert so it drops out of the default listing.
func (l *Ledger) DismissAlert(ctx context.Context, id string) error {
	tag, err := l.db.Pool().Exec(ctx,
		`UPDATE budget_alerts SET dismissed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to dismiss alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: budget alert", store.ErrNotFound)
	}
	return nil
}

// PurgeAlerts deletes alerts older than the cutoff.
func (l *Ledger) PurgeAlerts(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := l.db.Pool().Exec(ctx,
		`DELETE FROM budget_alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
