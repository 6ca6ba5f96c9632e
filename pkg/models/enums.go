package models

// PlanStatus is the lifecycle state of a study plan.
type PlanStatus string

// Study plan statuses.
const (
	PlanStatusDraft    PlanStatus = "draft"
	PlanStatusActive   PlanStatus = "active"
	PlanStatusArchived PlanStatus = "archived"
)

// ContentType classifies a topic content element.
type ContentType string

// Topic content types.
const (
	ContentTypeSlide       ContentType = "slide"
	ContentTypeQuiz        ContentType = "quiz"
	ContentTypeReading     ContentType = "reading"
	ContentTypeExercise    ContentType = "exercise"
	ContentTypeInteractive ContentType = "interactive"
	ContentTypeDiagram     ContentType = "diagram"
)

// ContentStatus marks whether a content element is live or soft-deleted.
type ContentStatus string

// Content statuses.
const (
	ContentStatusActive  ContentStatus = "active"
	ContentStatusDeleted ContentStatus = "deleted"
)

// GenerationStatus is the materialization state of a virtual module.
type GenerationStatus string

// Virtual module generation statuses.
const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusReady      GenerationStatus = "ready"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// VirtualTopicStatus is the per-student progression state of a virtual topic.
type VirtualTopicStatus string

// Virtual topic statuses.
const (
	VirtualTopicStatusLocked    VirtualTopicStatus = "locked"
	VirtualTopicStatusActive    VirtualTopicStatus = "active"
	VirtualTopicStatusCompleted VirtualTopicStatus = "completed"
)

// TaskType identifies the kind of work a generation task performs.
type TaskType string

// Generation task types.
const (
	TaskTypeGenerate          TaskType = "generate"
	TaskTypeUpdate            TaskType = "update"
	TaskTypeEnhance           TaskType = "enhance"
	TaskTypeSyncContentChange TaskType = "sync_content_change"
)

// TaskStatus is the queue state of a generation task.
type TaskStatus string

// Generation task statuses.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// SyncKind discriminates sync_content_change payloads.
type SyncKind string

// Sync task kinds (instructor-side mutation classes).
const (
	SyncKindPublish SyncKind = "publish"
	SyncKindRetract SyncKind = "retract"
	SyncKindRefresh SyncKind = "refresh"
	SyncKindAdd     SyncKind = "add"
	SyncKindRemove  SyncKind = "remove"
)

// Role is an authenticated caller's role claim.
type Role string

// Caller roles.
const (
	RoleAdmin          Role = "ADMIN"
	RoleInstituteAdmin Role = "INSTITUTE_ADMIN"
	RoleTeacher        Role = "TEACHER"
	RoleStudent        Role = "STUDENT"
)

// AlertType identifies which budget scope an alert belongs to.
type AlertType string

// Budget alert scopes, one per (scope, window) pair a limit can cover.
const (
	AlertGlobalDaily     AlertType = "global_daily"
	AlertGlobalWeekly    AlertType = "global_weekly"
	AlertGlobalMonthly   AlertType = "global_monthly"
	AlertProviderDaily   AlertType = "provider_daily"
	AlertProviderWeekly  AlertType = "provider_weekly"
	AlertProviderMonthly AlertType = "provider_monthly"
	AlertUserDaily       AlertType = "user_daily"
	AlertUserWeekly      AlertType = "user_weekly"
	AlertUserMonthly     AlertType = "user_monthly"
)

// UsageWindow selects the aggregation window for usage queries.
type UsageWindow string

// Usage windows. Day boundaries are 00:00 UTC; weeks start Monday 00:00 UTC;
// months start on the 1st 00:00 UTC.
const (
	WindowDaily   UsageWindow = "daily"
	WindowWeekly  UsageWindow = "weekly"
	WindowMonthly UsageWindow = "monthly"
)

// IsValid reports whether the status is a known plan status.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusDraft, PlanStatusActive, PlanStatusArchived:
		return true
	}
	return false
}

// IsValid reports whether the value is a known content type.
func (t ContentType) IsValid() bool {
	switch t {
	case ContentTypeSlide, ContentTypeQuiz, ContentTypeReading,
		ContentTypeExercise, ContentTypeInteractive, ContentTypeDiagram:
		return true
	}
	return false
}

// IsValid reports whether the value is a known task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeGenerate, TaskTypeUpdate, TaskTypeEnhance, TaskTypeSyncContentChange:
		return true
	}
	return false
}

// IsValid reports whether the value is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether the value is a known sync kind.
func (k SyncKind) IsValid() bool {
	switch k {
	case SyncKindPublish, SyncKindRetract, SyncKindRefresh, SyncKindAdd, SyncKindRemove:
		return true
	}
	return false
}

// IsValid reports whether the value is a known caller role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleInstituteAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// IsValid reports whether the value is a known usage window.
func (w UsageWindow) IsValid() bool {
	switch w {
	case WindowDaily, WindowWeekly, WindowMonthly:
		return true
	}
	return false
}
