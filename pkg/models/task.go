package models

import "time"

// TaskPayload is the typed body of a generation task. Which fields are
// meaningful depends on the task type:
//
//   - generate: InitialTopicCount (bootstrap batch) or TopicIDs (targeted),
//     plus Unlock when progression should activate the first produced topic.
//   - update: TopicIDs and/or ContentIDs that must be re-adapted.
//   - enhance: TopicIDs to enrich with additional content.
//   - sync_content_change: Kind plus the affected TopicIDs/ContentIDs.
type TaskPayload struct {
	TopicIDs          []string `json:"topic_ids,omitempty" hash:"set"`
	ContentIDs        []string `json:"content_ids,omitempty" hash:"set"`
	Kind              SyncKind `json:"kind,omitempty"`
	InitialTopicCount int      `json:"initial_topic_count,omitempty"`
	Unlock            bool     `json:"unlock,omitempty"`
	Reason            string   `json:"reason,omitempty" hash:"ignore"`
}

// GenerationTask is a queued unit of per-student generation work. Tasks are
// deduplicated while live on (task type, student, module, payload
// fingerprint) and leased to workers with an expiry.
type GenerationTask struct {
	ID                 string      `json:"id"`
	TaskType           TaskType    `json:"task_type"`
	StudentID          string      `json:"student_id"`
	ModuleID           string      `json:"module_id"`
	Payload            TaskPayload `json:"payload"`
	PayloadFingerprint string      `json:"payload_fingerprint"`
	Priority           int         `json:"priority"`
	Status             TaskStatus  `json:"status"`
	Attempts           int         `json:"attempts"`
	MaxAttempts        int         `json:"max_attempts"`
	ScheduledAt        time.Time   `json:"scheduled_at"`
	LeaseExpiresAt     *time.Time  `json:"lease_expires_at,omitempty"`
	WorkerID           *string     `json:"worker_id,omitempty"`
	LastError          *string     `json:"last_error,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
}

// Live reports whether the task still occupies its dedupe slot.
func (t *GenerationTask) Live() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}

// Terminal reports whether the task reached a final state.
func (t *GenerationTask) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// QueueStats summarizes queue depth by status plus worker liveness, served
// by the queue admin endpoints.
type QueueStats struct {
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Cancelled  int            `json:"cancelled"`
	ByType     map[string]int `json:"by_type"`
	Workers    []WorkerStatus `json:"workers"`
}

// WorkerStatus is one worker's liveness entry in QueueStats.
type WorkerStatus struct {
	WorkerID    string     `json:"worker_id"`
	Busy        bool       `json:"busy"`
	CurrentTask *string    `json:"current_task,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}
