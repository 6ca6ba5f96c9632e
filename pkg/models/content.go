// Package models defines the domain entities shared by the stores, the
// generation pipeline, and the HTTP layer.
package models

import "time"

// StudyPlan is the authoring root: an ordered list of modules owned by an
// instructor, optionally scoped to a workspace.
type StudyPlan struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	AuthorID    string     `json:"author_id"`
	WorkspaceID *string    `json:"workspace_id,omitempty"`
	Status      PlanStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// VirtualizationSettings controls how a module is materialized per student.
type VirtualizationSettings struct {
	// InitialBatchSize is how many topics the first generate task produces.
	InitialBatchSize int `json:"initial_batch_size" yaml:"initial_batch_size"`
	// GenerationThreshold is the module-progress fraction at which the next
	// module becomes eligible for generation. Valid range [0,1].
	GenerationThreshold float64 `json:"generation_threshold" yaml:"generation_threshold"`
}

// DefaultVirtualizationSettings returns the authoring defaults.
func DefaultVirtualizationSettings() VirtualizationSettings {
	return VirtualizationSettings{InitialBatchSize: 1, GenerationThreshold: 0.8}
}

// Module is an ordered child of a study plan.
type Module struct {
	ID          string                 `json:"id"`
	StudyPlanID string                 `json:"study_plan_id"`
	Name        string                 `json:"name"`
	Order       int                    `json:"order"`
	Settings    VirtualizationSettings `json:"virtualization_settings"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Topic is an ordered child of a module. Only published topics may be
// embedded into virtual modules.
type Topic struct {
	ID        string    `json:"id"`
	ModuleID  string    `json:"module_id"`
	Name      string    `json:"name"`
	Theory    string    `json:"theory_content"`
	Order     int       `json:"order"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TopicContent is a typed content element attached to a topic. The payload is
// an opaque structured document; Version increments on every payload edit so
// derived virtual contents can detect staleness.
type TopicContent struct {
	ID              string         `json:"id"`
	TopicID         string         `json:"topic_id"`
	ContentType     ContentType    `json:"content_type"`
	Order           int            `json:"order"`
	ParentContentID *string        `json:"parent_content_id,omitempty"`
	Payload         map[string]any `json:"content"`
	Status          ContentStatus  `json:"status"`
	Version         int            `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TopicInventory is a published topic together with its active content
// elements grouped by content type. Returned by the published-topic
// inventory query.
type TopicInventory struct {
	Topic    Topic                         `json:"topic"`
	Contents map[ContentType][]TopicContent `json:"contents"`
}

// ModuleReadiness reports whether a module can be virtualized for a student.
type ModuleReadiness struct {
	ModuleID            string           `json:"module_id"`
	PublishedTopicCount int              `json:"published_topic_count"`
	TotalTopicCount     int              `json:"total_topic_count"`
	GenerationStatus    GenerationStatus `json:"generation_status_for_student,omitempty"`
}

// Ready reports whether the module has at least one published topic.
func (r ModuleReadiness) Ready() bool { return r.PublishedTopicCount > 0 }

// CognitiveProfile captures the per-student adaptation inputs. Version
// increments on every update so personalization fingerprints can detect
// profile drift. APIKeys values are sealed at rest (see pkg/secrets).
type CognitiveProfile struct {
	StudentID            string             `json:"student_id"`
	LearningStyle        map[string]float64 `json:"learning_style"`
	DifficultyPreference string             `json:"difficulty_preference"`
	Interests            []string           `json:"interests"`
	APIKeys              map[string]string  `json:"-"`
	Version              int                `json:"version"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}
