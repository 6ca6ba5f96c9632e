package models

import "time"

// VirtualModule is the per-student materialization of an authored module.
// Exactly one exists per (student, module) pair.
type VirtualModule struct {
	ID               string           `json:"id"`
	StudentID        string           `json:"student_id"`
	StudyPlanID      string           `json:"study_plan_id"`
	ModuleID         string           `json:"module_id"`
	GenerationStatus GenerationStatus `json:"generation_status"`
	GenerationError  *string          `json:"generation_error,omitempty"`
	Progress         float64          `json:"progress"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// VirtualTopic is the per-student materialization of a topic inside a
// virtual module. Order mirrors the source topic order at generation time.
type VirtualTopic struct {
	ID              string             `json:"id"`
	VirtualModuleID string             `json:"virtual_module_id"`
	TopicID         string             `json:"topic_id"`
	StudentID       string             `json:"student_id"`
	Name            string             `json:"name"`
	Theory          string             `json:"theory_content"`
	Order           int                `json:"order"`
	Status          VirtualTopicStatus `json:"status"`
	Locked          bool               `json:"locked"`
	Progress        float64            `json:"progress"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// VirtualTopicContent is an adapted copy of a TopicContent for one student.
// SourceVersion records the TopicContent.Version the adaptation was derived
// from; the sync reconciler compares it against the current source version.
type VirtualTopicContent struct {
	ID                         string         `json:"id"`
	VirtualTopicID             string         `json:"virtual_topic_id"`
	TopicContentID             string         `json:"topic_content_id"`
	StudentID                  string         `json:"student_id"`
	ContentType                ContentType    `json:"content_type"`
	Order                      int            `json:"order"`
	Payload                    map[string]any `json:"content"`
	SourceVersion              int            `json:"source_version"`
	PersonalizationFingerprint string         `json:"personalization_fingerprint"`
	Status                     ContentStatus  `json:"status"`
	CreatedAt                  time.Time      `json:"created_at"`
	UpdatedAt                  time.Time      `json:"updated_at"`
}

// ContentResult records a student interaction outcome against a virtual
// content element. Completion drives progression; Score is grading-only.
type ContentResult struct {
	ID                    string         `json:"id"`
	VirtualTopicContentID string         `json:"virtual_topic_content_id"`
	StudentID             string         `json:"student_id"`
	Completion            float64        `json:"completion"`
	Score                 *float64       `json:"score,omitempty"`
	SessionData           map[string]any `json:"session_data,omitempty"`
	RecordedAt            time.Time      `json:"recorded_at"`
}

// VirtualTopicDetail is a virtual topic with its adapted contents, as served
// to students.
type VirtualTopicDetail struct {
	VirtualTopic
	Contents []VirtualTopicContent `json:"contents"`
}

// VirtualModuleDetail is a virtual module with its topics.
type VirtualModuleDetail struct {
	VirtualModule
	Topics []VirtualTopic `json:"topics"`
}
