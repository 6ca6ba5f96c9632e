package models

// Request shapes shared by the HTTP handlers and the stores. Pointer fields
// distinguish "not provided" from zero values on partial updates.

// CreateStudyPlanRequest creates an authoring root.
type CreateStudyPlanRequest struct {
	Title       string  `json:"title"`
	AuthorID    string  `json:"author_id,omitempty"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
}

// UpdateStudyPlanRequest partially updates a study plan.
type UpdateStudyPlanRequest struct {
	Title  *string     `json:"title,omitempty"`
	Status *PlanStatus `json:"status,omitempty"`
}

// CreateModuleRequest creates a module under a plan. Order defaults to the
// end of the plan when omitted.
type CreateModuleRequest struct {
	StudyPlanID string                  `json:"study_plan_id"`
	Name        string                  `json:"name"`
	Order       *int                    `json:"order,omitempty"`
	Settings    *VirtualizationSettings `json:"virtualization_settings,omitempty"`
}

// UpdateModuleRequest partially updates a module.
type UpdateModuleRequest struct {
	Name                *string  `json:"name,omitempty"`
	Order               *int     `json:"order,omitempty"`
	InitialBatchSize    *int     `json:"initial_batch_size,omitempty"`
	GenerationThreshold *float64 `json:"generation_threshold,omitempty"`
}

// CreateTopicRequest creates a topic under a module, unpublished.
type CreateTopicRequest struct {
	ModuleID string `json:"module_id"`
	Name     string `json:"name"`
	Theory   string `json:"theory_content,omitempty"`
	Order    *int   `json:"order,omitempty"`
}

// UpdateTopicRequest partially updates a topic.
type UpdateTopicRequest struct {
	Name   *string `json:"name,omitempty"`
	Theory *string `json:"theory_content,omitempty"`
	Order  *int    `json:"order,omitempty"`
}

// PublishTopicRequest flips a topic's published flag.
type PublishTopicRequest struct {
	Published bool `json:"published"`
}

// CreateContentRequest attaches a content element to a topic.
type CreateContentRequest struct {
	TopicID         string         `json:"topic_id"`
	ContentType     ContentType    `json:"content_type"`
	Order           int            `json:"order,omitempty"`
	ParentContentID *string        `json:"parent_content_id,omitempty"`
	Payload         map[string]any `json:"content"`
}

// UpdateContentRequest replaces a content payload (bumping its version)
// and/or moves it.
type UpdateContentRequest struct {
	Payload map[string]any `json:"content,omitempty"`
	Order   *int           `json:"order,omitempty"`
}

// VirtualizeRequest asks for a study plan to be progressively materialized
// for the calling student.
type VirtualizeRequest struct {
	StudyPlanID string `json:"plan_id"`
}

// TriggerNextTopicRequest asks for the next topic of a virtual module to be
// unlocked (or lazily generated when it does not exist yet).
type TriggerNextTopicRequest struct {
	VirtualModuleID string `json:"virtual_module_id"`
}

// RecordResultRequest records a student interaction outcome against a
// virtual content element.
type RecordResultRequest struct {
	VirtualContentID string         `json:"virtual_content_id"`
	Completion       float64        `json:"completion_percentage"`
	Score            *float64       `json:"score,omitempty"`
	SessionData      map[string]any `json:"session_data,omitempty"`
}

// UpdateProfileRequest partially updates a cognitive profile. APIKeys values
// arrive in plaintext and are sealed before storage.
type UpdateProfileRequest struct {
	LearningStyle        map[string]float64 `json:"learning_style,omitempty"`
	DifficultyPreference *string            `json:"difficulty_preference,omitempty"`
	Interests            []string           `json:"interests,omitempty"`
	APIKeys              map[string]string  `json:"api_keys,omitempty"`
}

// RegisterCallRequest opens a ledger entry before a model invocation.
// CallID is the client's idempotency key: replaying an id that is already
// in the ledger is rejected. Empty means the server mints one.
type RegisterCallRequest struct {
	CallID       string `json:"call_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Feature      string `json:"feature,omitempty"`
	PromptTokens int    `json:"prompt_tokens"`
}

// UpdateCallRequest finalizes a ledger entry after the invocation returns.
type UpdateCallRequest struct {
	PromptTokens     *int    `json:"prompt_tokens,omitempty"`
	CompletionTokens *int    `json:"completion_tokens,omitempty"`
	Success          *bool   `json:"success"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	LatencyMS        *int64  `json:"latency_ms,omitempty"`
}

// UpdateBudgetConfigRequest replaces the stored budget policy.
type UpdateBudgetConfigRequest struct {
	GlobalDailyLimitUSD   *float64                 `json:"global_daily_limit_usd,omitempty"`
	GlobalWeeklyLimitUSD  *float64                 `json:"global_weekly_limit_usd,omitempty"`
	GlobalMonthlyLimitUSD *float64                 `json:"global_monthly_limit_usd,omitempty"`
	UserDailyLimitUSD     *float64                 `json:"user_daily_limit_usd,omitempty"`
	UserWeeklyLimitUSD    *float64                 `json:"user_weekly_limit_usd,omitempty"`
	UserMonthlyLimitUSD   *float64                 `json:"user_monthly_limit_usd,omitempty"`
	ProviderLimits        map[string]ProviderLimit `json:"provider_limits,omitempty"`
	AlertThresholds       []float64                `json:"alert_thresholds,omitempty"`
	Enforcement           *bool                    `json:"enforcement,omitempty"`
	CustomModelPrices     map[string]ModelPrice    `json:"custom_model_prices,omitempty"`
}
