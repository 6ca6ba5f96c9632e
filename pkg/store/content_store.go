package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// ContentStore manages the authored content hierarchy: study plans, modules,
// topics and their content elements.
type ContentStore struct {
	db *database.Client
}

// NewContentStore creates a new ContentStore
func NewContentStore(db *database.Client) *ContentStore {
	return &ContentStore{db: db}
}

const studyPlanColumns = `id, title, author_id, workspace_id, status, created_at, updated_at`

func scanStudyPlan(row pgx.Row) (*models.StudyPlan, error) {
	var p models.StudyPlan
	err := row.Scan(&p.ID, &p.Title, &p.AuthorID, &p.WorkspaceID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: study plan", ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// CreateStudyPlan creates a study plan in draft status.
func (s *ContentStore) CreateStudyPlan(ctx context.Context, req models.CreateStudyPlanRequest) (*models.StudyPlan, error) {
	if req.Title == "" {
		return nil, NewValidationError("title", "required")
	}
	if req.AuthorID == "" {
		return nil, NewValidationError("author_id", "required")
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO study_plans (id, title, author_id, workspace_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+studyPlanColumns,
		uuid.New().String(), req.Title, req.AuthorID, req.WorkspaceID, models.PlanStatusDraft)
	plan, err := scanStudyPlan(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create study plan: %w", err)
	}
	return plan, nil
}

// GetStudyPlan fetches one study plan by id.
func (s *ContentStore) GetStudyPlan(ctx context.Context, id string) (*models.StudyPlan, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+studyPlanColumns+` FROM study_plans WHERE id = $1`, id)
	return scanStudyPlan(row)
}

// ListStudyPlans returns an author's plans, optionally narrowed to a workspace.
func (s *ContentStore) ListStudyPlans(ctx context.Context, authorID string, workspaceID *string) ([]models.StudyPlan, error) {
	query := `SELECT ` + studyPlanColumns + ` FROM study_plans WHERE author_id = $1`
	args := []any{authorID}
	if workspaceID != nil {
		query += ` AND workspace_id = $2`
		args = append(args, *workspaceID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list study plans: %w", err)
	}
	defer rows.Close()

	var plans []models.StudyPlan
	for rows.Next() {
		p, err := scanStudyPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// UpdateStudyPlan applies a partial update to a study plan.
func (s *ContentStore) UpdateStudyPlan(ctx context.Context, id string, req models.UpdateStudyPlanRequest) (*models.StudyPlan, error) {
	if req.Status != nil && !req.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", *req.Status))
	}
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE study_plans
		SET title = COALESCE($2, title),
		    status = COALESCE($3, status),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+studyPlanColumns,
		id, req.Title, req.Status)
	return scanStudyPlan(row)
}

// DeleteStudyPlan removes a plan and cascades to its modules and topics.
func (s *ContentStore) DeleteStudyPlan(ctx context.Context, id string) error {
	tag, err := s.db.Pool().Exec(ctx, `DELETE FROM study_plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete study plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: study plan", ErrNotFound)
	}
	return nil
}

const moduleColumns = `id, study_plan_id, name, module_order, initial_batch_size, generation_threshold, created_at, updated_at`

func scanModule(row pgx.Row) (*models.Module, error) {
	var m models.Module
	err := row.Scan(&m.ID, &m.StudyPlanID, &m.Name, &m.Order,
		&m.Settings.InitialBatchSize, &m.Settings.GenerationThreshold,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: module", ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

// CreateModule creates a module. When no order is given it is appended to
// the end of the plan.
func (s *ContentStore) CreateModule(ctx context.Context, req models.CreateModuleRequest) (*models.Module, error) {
	if req.StudyPlanID == "" {
		return nil, NewValidationError("study_plan_id", "required")
	}
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	settings := models.DefaultVirtualizationSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if settings.InitialBatchSize < 1 {
		return nil, NewValidationError("initial_batch_size", "must be at least 1")
	}
	if settings.GenerationThreshold <= 0 || settings.GenerationThreshold > 1 {
		return nil, NewValidationError("generation_threshold", "must be in (0,1]")
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO modules (id, study_plan_id, name, module_order, initial_batch_size, generation_threshold)
		VALUES ($1, $2, $3,
			COALESCE($4, (SELECT COALESCE(MAX(module_order)+1, 0) FROM modules WHERE study_plan_id = $2)),
			$5, $6)
		RETURNING `+moduleColumns,
		uuid.New().String(), req.StudyPlanID, req.Name, req.Order,
		settings.InitialBatchSize, settings.GenerationThreshold)
	module, err := scanModule(row)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: study plan", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create module: %w", err)
	}
	return module, nil
}

// GetModule fetches one module by id.
func (s *ContentStore) GetModule(ctx context.Context, id string) (*models.Module, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id)
	return scanModule(row)
}

// ListModulesByPlan returns a plan's modules in authored order.
func (s *ContentStore) ListModulesByPlan(ctx context.Context, planID string) ([]models.Module, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE study_plan_id = $1 ORDER BY module_order`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []models.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *m)
	}
	return modules, rows.Err()
}

// UpdateModule applies a partial update, including virtualization settings.
func (s *ContentStore) UpdateModule(ctx context.Context, id string, req models.UpdateModuleRequest) (*models.Module, error) {
	if req.InitialBatchSize != nil && *req.InitialBatchSize < 1 {
		return nil, NewValidationError("initial_batch_size", "must be at least 1")
	}
	if req.GenerationThreshold != nil && (*req.GenerationThreshold <= 0 || *req.GenerationThreshold > 1) {
		return nil, NewValidationError("generation_threshold", "must be in (0,1]")
	}
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE modules
		SET name = COALESCE($2, name),
		    module_order = COALESCE($3, module_order),
		    initial_batch_size = COALESCE($4, initial_batch_size),
		    generation_threshold = COALESCE($5, generation_threshold),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+moduleColumns,
		id, req.Name, req.Order, req.InitialBatchSize, req.GenerationThreshold)
	return scanModule(row)
}

// DeleteModule removes a module and cascades to its topics.
func (s *ContentStore) DeleteModule(ctx context.Context, id string) error {
	tag, err := s.db.Pool().Exec(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: module", ErrNotFound)
	}
	return nil
}

const topicColumns = `id, module_id, name, theory_content, topic_order, published, created_at, updated_at`

func scanTopic(row pgx.Row) (*models.Topic, error) {
	var t models.Topic
	err := row.Scan(&t.ID, &t.ModuleID, &t.Name, &t.Theory, &t.Order, &t.Published, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: topic", ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// CreateTopic creates an unpublished topic at the requested position, or at
// the end of the module when no order is given.
func (s *ContentStore) CreateTopic(ctx context.Context, req models.CreateTopicRequest) (*models.Topic, error) {
	if req.ModuleID == "" {
		return nil, NewValidationError("module_id", "required")
	}
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO topics (id, module_id, name, theory_content, topic_order)
		VALUES ($1, $2, $3, $4,
			COALESCE($5, (SELECT COALESCE(MAX(topic_order)+1, 0) FROM topics WHERE module_id = $2)))
		RETURNING `+topicColumns,
		uuid.New().String(), req.ModuleID, req.Name, req.Theory, req.Order)
	topic, err := scanTopic(row)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: module", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	return topic, nil
}

// GetTopic fetches one topic by id.
func (s *ContentStore) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = $1`, id)
	return scanTopic(row)
}

// ListTopicsByModule returns a module's topics in authored order.
func (s *ContentStore) ListTopicsByModule(ctx context.Context, moduleID string) ([]models.Topic, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE module_id = $1 ORDER BY topic_order`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

// PublishedTopicsByIDs returns the subset of ids that are published topics,
// in authored order. Used by targeted generation.
func (s *ContentStore) PublishedTopicsByIDs(ctx context.Context, ids []string) ([]models.Topic, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = ANY($1) AND published ORDER BY topic_order`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

// UpdateTopic applies a partial update to topic metadata.
func (s *ContentStore) UpdateTopic(ctx context.Context, id string, req models.UpdateTopicRequest) (*models.Topic, error) {
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE topics
		SET name = COALESCE($2, name),
		    theory_content = COALESCE($3, theory_content),
		    topic_order = COALESCE($4, topic_order),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+topicColumns,
		id, req.Name, req.Theory, req.Order)
	return scanTopic(row)
}

// SetTopicPublished publishes or retracts a topic and reports the flag's
// prior value, so callers can enqueue sync tasks only on real transitions.
func (s *ContentStore) SetTopicPublished(ctx context.Context, id string, published bool) (*models.Topic, bool, error) {
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE topics t
		SET published = $2, updated_at = now()
		FROM (SELECT published FROM topics WHERE id = $1 FOR UPDATE) old
		WHERE t.id = $1
		RETURNING t.id, t.module_id, t.name, t.theory_content, t.topic_order, t.published, t.created_at, t.updated_at, old.published`,
		id, published)
	var t models.Topic
	var prior bool
	err := row.Scan(&t.ID, &t.ModuleID, &t.Name, &t.Theory, &t.Order, &t.Published, &t.CreatedAt, &t.UpdatedAt, &prior)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: topic", ErrNotFound)
		}
		return nil, false, fmt.Errorf("failed to update topic publication: %w", err)
	}
	return &t, prior, nil
}

// DeleteTopic removes a topic and cascades to its contents.
func (s *ContentStore) DeleteTopic(ctx context.Context, id string) error {
	tag, err := s.db.Pool().Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: topic", ErrNotFound)
	}
	return nil
}

const contentColumns = `id, topic_id, content_type, content_order, parent_content_id, payload, status, version, created_at, updated_at`

func scanContent(row pgx.Row) (*models.TopicContent, error) {
	var c models.TopicContent
	err := row.Scan(&c.ID, &c.TopicID, &c.ContentType, &c.Order, &c.ParentContentID,
		&c.Payload, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: content", ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// CreateContent attaches a content element to a topic. Database constraints
// reject a second active quiz on a topic and slide order collisions.
func (s *ContentStore) CreateContent(ctx context.Context, req models.CreateContentRequest) (*models.TopicContent, error) {
	if req.TopicID == "" {
		return nil, NewValidationError("topic_id", "required")
	}
	if !req.ContentType.IsValid() {
		return nil, NewValidationError("content_type", fmt.Sprintf("unknown content type %q", req.ContentType))
	}
	if req.Payload == nil {
		return nil, NewValidationError("content", "required")
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO topic_contents (id, topic_id, content_type, content_order, parent_content_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+contentColumns,
		uuid.New().String(), req.TopicID, req.ContentType, req.Order, req.ParentContentID, req.Payload)
	content, err := scanContent(row)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "uq_topic_contents_single_quiz"):
			return nil, fmt.Errorf("%w: topic already has an active quiz", ErrAlreadyExists)
		case database.IsUniqueViolation(err, "uq_topic_contents_slide_order"):
			return nil, fmt.Errorf("%w: slide order %d is taken on this topic", ErrAlreadyExists, req.Order)
		case database.IsForeignKeyViolation(err):
			return nil, fmt.Errorf("%w: topic", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create content: %w", err)
	}
	return content, nil
}

// GetContent fetches one content element, deleted or not.
func (s *ContentStore) GetContent(ctx context.Context, id string) (*models.TopicContent, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+contentColumns+` FROM topic_contents WHERE id = $1`, id)
	return scanContent(row)
}

// ListContentsByTopic returns a topic's content elements in display order.
func (s *ContentStore) ListContentsByTopic(ctx context.Context, topicID string, includeDeleted bool) ([]models.TopicContent, error) {
	query := `SELECT ` + contentColumns + ` FROM topic_contents WHERE topic_id = $1`
	if !includeDeleted {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY content_order, created_at`

	rows, err := s.db.Pool().Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	defer rows.Close()

	var contents []models.TopicContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		contents = append(contents, *c)
	}
	return contents, rows.Err()
}

// UpdateContent replaces the payload (bumping the source version) and/or
// moves the element. Order changes alone do not bump the version.
func (s *ContentStore) UpdateContent(ctx context.Context, id string, req models.UpdateContentRequest) (*models.TopicContent, error) {
	if req.Payload == nil && req.Order == nil {
		return nil, NewValidationError("content", "nothing to update")
	}

	row := s.db.Pool().QueryRow(ctx, `
		UPDATE topic_contents
		SET payload = COALESCE($2, payload),
		    version = version + CASE WHEN $2::jsonb IS NULL THEN 0 ELSE 1 END,
		    content_order = COALESCE($3, content_order),
		    updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING `+contentColumns,
		id, req.Payload, req.Order)
	content, err := scanContent(row)
	if err != nil {
		if database.IsUniqueViolation(err, "uq_topic_contents_slide_order") {
			return nil, fmt.Errorf("%w: slide order slot is taken on this topic", ErrAlreadyExists)
		}
		return nil, err
	}
	return content, nil
}

// SoftDeleteContent marks a content element deleted, freeing its constraint
// slots while keeping the row for derived virtual contents.
func (s *ContentStore) SoftDeleteContent(ctx context.Context, id string) (*models.TopicContent, error) {
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE topic_contents SET status = 'deleted', updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING `+contentColumns,
		id)
	return scanContent(row)
}

// PublishedTopicInventory returns the module's published topics with their
// active contents grouped by type, in authored order. This is the source
// the generation worker adapts from.
func (s *ContentStore) PublishedTopicInventory(ctx context.Context, moduleID string) ([]models.TopicInventory, error) {
	topics, err := s.publishedTopics(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}
	return s.attachContents(ctx, topics)
}

// TopicInventoryByIDs is PublishedTopicInventory narrowed to specific topics.
func (s *ContentStore) TopicInventoryByIDs(ctx context.Context, ids []string) ([]models.TopicInventory, error) {
	topics, err := s.PublishedTopicsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}
	return s.attachContents(ctx, topics)
}

func (s *ContentStore) publishedTopics(ctx context.Context, moduleID string) ([]models.Topic, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE module_id = $1 AND published ORDER BY topic_order`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list published topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func (s *ContentStore) attachContents(ctx context.Context, topics []models.Topic) ([]models.TopicInventory, error) {
	topicIDs := lo.Map(topics, func(t models.Topic, _ int) string { return t.ID })

	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+contentColumns+` FROM topic_contents
		 WHERE topic_id = ANY($1) AND status = 'active'
		 ORDER BY content_order, created_at`, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list topic contents: %w", err)
	}
	defer rows.Close()

	var contents []models.TopicContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		contents = append(contents, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byTopic := lo.GroupBy(contents, func(c models.TopicContent) string { return c.TopicID })

	inventory := make([]models.TopicInventory, 0, len(topics))
	for _, t := range topics {
		inventory = append(inventory, models.TopicInventory{
			Topic: t,
			Contents: lo.GroupBy(byTopic[t.ID], func(c models.TopicContent) models.ContentType {
				return c.ContentType
			}),
		})
	}
	return inventory, nil
}

// VirtualizationReadiness reports whether a module can be virtualized and,
// when studentID is non-empty, the student's current generation status.
func (s *ContentStore) VirtualizationReadiness(ctx context.Context, moduleID, studentID string) (*models.ModuleReadiness, error) {
	r := models.ModuleReadiness{ModuleID: moduleID}
	err := s.db.Pool().QueryRow(ctx, `
		SELECT COUNT(t.id) FILTER (WHERE t.published), COUNT(t.id)
		FROM modules m
		LEFT JOIN topics t ON t.module_id = m.id
		WHERE m.id = $1
		GROUP BY m.id`,
		moduleID).Scan(&r.PublishedTopicCount, &r.TotalTopicCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: module", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to check readiness: %w", err)
	}

	if studentID != "" {
		err := s.db.Pool().QueryRow(ctx,
			`SELECT generation_status FROM virtual_modules WHERE module_id = $1 AND student_id = $2`,
			moduleID, studentID).Scan(&r.GenerationStatus)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to read generation status: %w", err)
		}
	}
	return &r, nil
}

// PublishedTopicCount returns how many published topics a module has.
func (s *ContentStore) PublishedTopicCount(ctx context.Context, moduleID string) (int, error) {
	var count int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM topics WHERE module_id = $1 AND published`, moduleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count published topics: %w", err)
	}
	return count, nil
}
