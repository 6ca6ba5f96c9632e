package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// ErrNoLockedTopics is returned by UnlockNextTopic when every topic of a
// virtual module is already active or completed.
var ErrNoLockedTopics = errors.New("no locked topics remain")

// ErrPredecessorIncomplete is returned by UnlockNextTopic when locked topics
// remain but none is eligible yet: the topic immediately before the lowest
// locked one has not been completed.
var ErrPredecessorIncomplete = errors.New("previous topic not completed")

// VirtualStore manages per-student materializations: virtual modules,
// virtual topics, and adapted contents.
type VirtualStore struct {
	db *database.Client
}

// NewVirtualStore creates a new VirtualStore
func NewVirtualStore(db *database.Client) *VirtualStore {
	return &VirtualStore{db: db}
}

// Querier returns the store's default querier (the pool) for callers that
// write without a surrounding transaction.
func (s *VirtualStore) Querier() database.Querier { return s.db.Pool() }

const virtualModuleColumns = `id, student_id, study_plan_id, module_id, generation_status, generation_error, progress, created_at, updated_at`

func scanVirtualModule(row pgx.Row) (*models.VirtualModule, error) {
	var vm models.VirtualModule
	err := row.Scan(&vm.ID, &vm.StudentID, &vm.StudyPlanID, &vm.ModuleID,
		&vm.GenerationStatus, &vm.GenerationError, &vm.Progress, &vm.CreatedAt, &vm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: virtual module", ErrNotFound)
		}
		return nil, err
	}
	return &vm, nil
}

// EnsureVirtualModule creates the (student, module) materialization in
// pending status, or returns the existing one. The second return reports
// whether a new row was created.
func (s *VirtualStore) EnsureVirtualModule(ctx context.Context, studentID, studyPlanID, moduleID string) (*models.VirtualModule, bool, error) {
	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO virtual_modules (id, student_id, study_plan_id, module_id, generation_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, module_id) DO NOTHING
		RETURNING `+virtualModuleColumns,
		uuid.New().String(), studentID, studyPlanID, moduleID, models.GenerationStatusPending)
	vm, err := scanVirtualModule(row)
	if err == nil {
		return vm, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		if database.IsForeignKeyViolation(err) {
			return nil, false, fmt.Errorf("%w: module", ErrNotFound)
		}
		return nil, false, fmt.Errorf("failed to create virtual module: %w", err)
	}

	// Conflict: the pair already exists.
	vm, err = s.GetVirtualModuleByStudentModule(ctx, studentID, moduleID)
	if err != nil {
		return nil, false, err
	}
	return vm, false, nil
}

// GetVirtualModule fetches one virtual module by id.
func (s *VirtualStore) GetVirtualModule(ctx context.Context, id string) (*models.VirtualModule, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+virtualModuleColumns+` FROM virtual_modules WHERE id = $1`, id)
	return scanVirtualModule(row)
}

// GetVirtualModuleByStudentModule fetches the unique (student, module) row.
func (s *VirtualStore) GetVirtualModuleByStudentModule(ctx context.Context, studentID, moduleID string) (*models.VirtualModule, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+virtualModuleColumns+` FROM virtual_modules WHERE student_id = $1 AND module_id = $2`,
		studentID, moduleID)
	return scanVirtualModule(row)
}

// ListVirtualModules returns a student's virtual modules for a plan ordered
// by the source module order.
func (s *VirtualStore) ListVirtualModules(ctx context.Context, studentID, studyPlanID string) ([]models.VirtualModule, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT vm.id, vm.student_id, vm.study_plan_id, vm.module_id, vm.generation_status,
		       vm.generation_error, vm.progress, vm.created_at, vm.updated_at
		FROM virtual_modules vm
		JOIN modules m ON m.id = vm.module_id
		WHERE vm.student_id = $1 AND vm.study_plan_id = $2
		ORDER BY m.module_order`,
		studentID, studyPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual modules: %w", err)
	}
	defer rows.Close()

	var vms []models.VirtualModule
	for rows.Next() {
		vm, err := scanVirtualModule(rows)
		if err != nil {
			return nil, err
		}
		vms = append(vms, *vm)
	}
	return vms, rows.Err()
}

// SetGenerationStatus moves a virtual module between generation states.
// The update only applies when the current status is one of from; a stale
// transition returns ErrNotFound.
func (s *VirtualStore) SetGenerationStatus(ctx context.Context, id string, to models.GenerationStatus, genError *string, from ...models.GenerationStatus) (*models.VirtualModule, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE virtual_modules
		SET generation_status = $2, generation_error = $3, updated_at = now()
		WHERE id = $1 AND generation_status = ANY($4)
		RETURNING `+virtualModuleColumns,
		id, to, genError, fromStrs)
	return scanVirtualModule(row)
}

const virtualTopicColumns = `id, virtual_module_id, topic_id, student_id, name, theory_content, topic_order, status, locked, progress, completed_at, created_at, updated_at`

func scanVirtualTopic(row pgx.Row) (*models.VirtualTopic, error) {
	var vt models.VirtualTopic
	err := row.Scan(&vt.ID, &vt.VirtualModuleID, &vt.TopicID, &vt.StudentID, &vt.Name, &vt.Theory,
		&vt.Order, &vt.Status, &vt.Locked, &vt.Progress, &vt.CompletedAt, &vt.CreatedAt, &vt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: virtual topic", ErrNotFound)
		}
		return nil, err
	}
	return &vt, nil
}

// InsertVirtualTopic adds one topic materialization, idempotently: a re-run
// of the same generation task leaves the existing row untouched.
func (s *VirtualStore) InsertVirtualTopic(ctx context.Context, q database.Querier, vt *models.VirtualTopic) (*models.VirtualTopic, error) {
	if vt.ID == "" {
		vt.ID = uuid.New().String()
	}
	status := vt.Status
	if status == "" {
		if vt.Locked {
			status = models.VirtualTopicStatusLocked
		} else {
			status = models.VirtualTopicStatusActive
		}
	}
	row := q.QueryRow(ctx, `
		INSERT INTO virtual_topics (id, virtual_module_id, topic_id, student_id, name, theory_content, topic_order, status, locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (virtual_module_id, topic_id) DO NOTHING
		RETURNING `+virtualTopicColumns,
		vt.ID, vt.VirtualModuleID, vt.TopicID, vt.StudentID, vt.Name, vt.Theory, vt.Order, status, vt.Locked)
	inserted, err := scanVirtualTopic(row)
	if err == nil {
		return inserted, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to insert virtual topic: %w", err)
	}

	// Already materialized by an earlier attempt.
	return s.getVirtualTopicBySource(ctx, q, vt.VirtualModuleID, vt.TopicID)
}

func (s *VirtualStore) getVirtualTopicBySource(ctx context.Context, q database.Querier, vmID, topicID string) (*models.VirtualTopic, error) {
	row := q.QueryRow(ctx,
		`SELECT `+virtualTopicColumns+` FROM virtual_topics WHERE virtual_module_id = $1 AND topic_id = $2`,
		vmID, topicID)
	return scanVirtualTopic(row)
}

// GetVirtualTopic fetches one virtual topic by id.
func (s *VirtualStore) GetVirtualTopic(ctx context.Context, id string) (*models.VirtualTopic, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+virtualTopicColumns+` FROM virtual_topics WHERE id = $1`, id)
	return scanVirtualTopic(row)
}

// ListVirtualTopics returns a virtual module's topics in order.
func (s *VirtualStore) ListVirtualTopics(ctx context.Context, virtualModuleID string) ([]models.VirtualTopic, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+virtualTopicColumns+` FROM virtual_topics WHERE virtual_module_id = $1 ORDER BY topic_order`,
		virtualModuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual topics: %w", err)
	}
	defer rows.Close()

	var vts []models.VirtualTopic
	for rows.Next() {
		vt, err := scanVirtualTopic(rows)
		if err != nil {
			return nil, err
		}
		vts = append(vts, *vt)
	}
	return vts, rows.Err()
}

// UnlockNextTopic activates the lowest-ordered locked topic of a virtual
// module, but only when it is the module's first topic or the topic at the
// immediately preceding order has been completed. SKIP LOCKED keeps
// concurrent progression events from double unlocking.
func (s *VirtualStore) UnlockNextTopic(ctx context.Context, virtualModuleID string) (*models.VirtualTopic, error) {
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE virtual_topics
		SET locked = FALSE, status = $2, updated_at = now()
		WHERE id = (
			SELECT vt.id FROM virtual_topics vt
			WHERE vt.virtual_module_id = $1 AND vt.locked
			AND NOT EXISTS (
				SELECT 1 FROM virtual_topics prev
				WHERE prev.virtual_module_id = vt.virtual_module_id
				AND prev.topic_order = (
					SELECT MAX(p.topic_order) FROM virtual_topics p
					WHERE p.virtual_module_id = vt.virtual_module_id
					AND p.topic_order < vt.topic_order
				)
				AND prev.completed_at IS NULL
			)
			ORDER BY vt.topic_order, vt.created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+virtualTopicColumns,
		virtualModuleID, models.VirtualTopicStatusActive)
	vt, err := scanVirtualTopic(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			var lockedRemain bool
			if err := s.db.Pool().QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM virtual_topics WHERE virtual_module_id = $1 AND locked)`,
				virtualModuleID).Scan(&lockedRemain); err != nil {
				return nil, fmt.Errorf("failed to check remaining locked topics: %w", err)
			}
			if lockedRemain {
				return nil, ErrPredecessorIncomplete
			}
			return nil, ErrNoLockedTopics
		}
		return nil, err
	}
	return vt, nil
}

// LockTopicsBySource hides a student's materializations of retracted topics.
// Progress is preserved so a later re-publish restores where they left off.
func (s *VirtualStore) LockTopicsBySource(ctx context.Context, studentID string, topicIDs []string) (int, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE virtual_topics
		SET locked = TRUE, status = $3, updated_at = now()
		WHERE student_id = $1 AND topic_id = ANY($2)`,
		studentID, topicIDs, models.VirtualTopicStatusLocked)
	if err != nil {
		return 0, fmt.Errorf("failed to lock virtual topics: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RestoreTopicsBySource reverses LockTopicsBySource on re-publish, restoring
// each topic to the state its progress implies.
func (s *VirtualStore) RestoreTopicsBySource(ctx context.Context, studentID string, topicIDs []string) (int, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE virtual_topics
		SET locked = (progress <= 0),
		    status = CASE
		        WHEN progress >= 1.0 THEN 'completed'
		        WHEN progress > 0 THEN 'active'
		        ELSE 'locked'
		    END,
		    updated_at = now()
		WHERE student_id = $1 AND topic_id = ANY($2)`,
		studentID, topicIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to restore virtual topics: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecomputeTopicProgress recalculates a virtual topic's progress as the mean
// of its active contents' best completions. Progress never decreases, and a
// topic reaching 1.0 is marked completed.
func (s *VirtualStore) RecomputeTopicProgress(ctx context.Context, virtualTopicID string) (*models.VirtualTopic, error) {
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE virtual_topics vt
		SET progress = GREATEST(vt.progress, sub.p),
		    status = CASE WHEN GREATEST(vt.progress, sub.p) >= 1.0 THEN 'completed' ELSE vt.status END,
		    completed_at = CASE
		        WHEN GREATEST(vt.progress, sub.p) >= 1.0 AND vt.completed_at IS NULL THEN now()
		        ELSE vt.completed_at
		    END,
		    updated_at = now()
		FROM (
			SELECT COALESCE(AVG(best.completion), 0)::float8 AS p
			FROM (
				SELECT COALESCE(MAX(cr.completion), 0) AS completion
				FROM virtual_topic_contents vtc
				LEFT JOIN content_results cr ON cr.virtual_topic_content_id = vtc.id
				WHERE vtc.virtual_topic_id = $1 AND vtc.status = 'active'
				GROUP BY vtc.id
			) best
		) sub
		WHERE vt.id = $1
		RETURNING `+virtualTopicColumns,
		virtualTopicID)
	return scanVirtualTopic(row)
}

// RecomputeModuleProgress recalculates module progress as the sum of topic
// progress over the module's published topic count. Materialized-but-locked
// topics still count toward the denominator through publishedCount, so
// progressive generation cannot inflate progress.
func (s *VirtualStore) RecomputeModuleProgress(ctx context.Context, virtualModuleID string, publishedCount int) (*models.VirtualModule, error) {
	row := s.db.Pool().QueryRow(ctx, `
		UPDATE virtual_modules vm
		SET progress = LEAST(1.0, sub.p), updated_at = now()
		FROM (
			SELECT COALESCE(SUM(progress), 0) / GREATEST($2::float8, COUNT(*)::float8, 1) AS p
			FROM virtual_topics
			WHERE virtual_module_id = $1
		) sub
		WHERE vm.id = $1
		RETURNING `+virtualModuleColumns,
		virtualModuleID, publishedCount)
	return scanVirtualModule(row)
}

const virtualContentColumns = `id, virtual_topic_id, topic_content_id, student_id, content_type, content_order, payload, source_version, personalization_fingerprint, status, created_at, updated_at`

func scanVirtualContent(row pgx.Row) (*models.VirtualTopicContent, error) {
	var vc models.VirtualTopicContent
	err := row.Scan(&vc.ID, &vc.VirtualTopicID, &vc.TopicContentID, &vc.StudentID, &vc.ContentType,
		&vc.Order, &vc.Payload, &vc.SourceVersion, &vc.PersonalizationFingerprint,
		&vc.Status, &vc.CreatedAt, &vc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: virtual content", ErrNotFound)
		}
		return nil, err
	}
	return &vc, nil
}

// UpsertVirtualContent writes an adapted content element. A re-run or a
// source refresh merges onto the existing row, reviving it if a previous
// sync had marked it deleted.
func (s *VirtualStore) UpsertVirtualContent(ctx context.Context, q database.Querier, vc *models.VirtualTopicContent) (*models.VirtualTopicContent, error) {
	if vc.ID == "" {
		vc.ID = uuid.New().String()
	}
	row := q.QueryRow(ctx, `
		INSERT INTO virtual_topic_contents
			(id, virtual_topic_id, topic_content_id, student_id, content_type, content_order, payload, source_version, personalization_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (virtual_topic_id, topic_content_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			content_order = EXCLUDED.content_order,
			source_version = EXCLUDED.source_version,
			personalization_fingerprint = EXCLUDED.personalization_fingerprint,
			status = 'active',
			updated_at = now()
		RETURNING `+virtualContentColumns,
		vc.ID, vc.VirtualTopicID, vc.TopicContentID, vc.StudentID, vc.ContentType,
		vc.Order, vc.Payload, vc.SourceVersion, vc.PersonalizationFingerprint)
	return scanVirtualContent(row)
}

// GetVirtualContent fetches one adapted content element by id.
func (s *VirtualStore) GetVirtualContent(ctx context.Context, id string) (*models.VirtualTopicContent, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+virtualContentColumns+` FROM virtual_topic_contents WHERE id = $1`, id)
	return scanVirtualContent(row)
}

// ListVirtualContents returns a virtual topic's active contents in order.
func (s *VirtualStore) ListVirtualContents(ctx context.Context, virtualTopicID string) ([]models.VirtualTopicContent, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+virtualContentColumns+` FROM virtual_topic_contents
		WHERE virtual_topic_id = $1 AND status = 'active'
		ORDER BY content_order, created_at`,
		virtualTopicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual contents: %w", err)
	}
	defer rows.Close()

	var vcs []models.VirtualTopicContent
	for rows.Next() {
		vc, err := scanVirtualContent(rows)
		if err != nil {
			return nil, err
		}
		vcs = append(vcs, *vc)
	}
	return vcs, rows.Err()
}

// MarkContentsDeletedBySource hides a student's adaptations of removed
// source contents.
func (s *VirtualStore) MarkContentsDeletedBySource(ctx context.Context, studentID string, contentIDs []string) (int, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE virtual_topic_contents
		SET status = 'deleted', updated_at = now()
		WHERE student_id = $1 AND topic_content_id = ANY($2)`,
		studentID, contentIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to mark virtual contents deleted: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// StaleContents returns a student's adaptations whose source version moved,
// i.e. candidates for re-adaptation.
func (s *VirtualStore) StaleContents(ctx context.Context, studentID string, contentIDs []string) ([]models.VirtualTopicContent, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+prefixedVirtualContentColumns("vtc")+`
		FROM virtual_topic_contents vtc
		JOIN topic_contents tc ON tc.id = vtc.topic_content_id
		WHERE vtc.student_id = $1 AND vtc.topic_content_id = ANY($2)
		  AND vtc.source_version < tc.version AND vtc.status = 'active'`,
		studentID, contentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale contents: %w", err)
	}
	defer rows.Close()

	var vcs []models.VirtualTopicContent
	for rows.Next() {
		vc, err := scanVirtualContent(rows)
		if err != nil {
			return nil, err
		}
		vcs = append(vcs, *vc)
	}
	return vcs, rows.Err()
}

// TopicBySource finds a student's materialization of a source topic.
func (s *VirtualStore) TopicBySource(ctx context.Context, studentID, topicID string) (*models.VirtualTopic, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+virtualTopicColumns+` FROM virtual_topics WHERE student_id = $1 AND topic_id = $2`,
		studentID, topicID)
	return scanVirtualTopic(row)
}

// ContentsBySource returns a student's active adaptations of the given source
// contents regardless of staleness.
func (s *VirtualStore) ContentsBySource(ctx context.Context, studentID string, contentIDs []string) ([]models.VirtualTopicContent, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+virtualContentColumns+` FROM virtual_topic_contents
		WHERE student_id = $1 AND topic_content_id = ANY($2) AND status = 'active'`,
		studentID, contentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to find contents by source: %w", err)
	}
	defer rows.Close()

	var vcs []models.VirtualTopicContent
	for rows.Next() {
		vc, err := scanVirtualContent(rows)
		if err != nil {
			return nil, err
		}
		vcs = append(vcs, *vc)
	}
	return vcs, rows.Err()
}

// StudentPlan is one (student, plan) pair with generation activity.
type StudentPlan struct {
	StudentID   string
	StudyPlanID string
}

// ActiveStudentPlans returns every (student, plan) pair with at least one
// unfinished virtual module. The scheduler sweep iterates over these.
func (s *VirtualStore) ActiveStudentPlans(ctx context.Context) ([]StudentPlan, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT DISTINCT student_id, study_plan_id
		FROM virtual_modules
		WHERE generation_status IN ('pending', 'generating', 'ready', 'failed')
		  AND progress < 1.0`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active student plans: %w", err)
	}
	defer rows.Close()

	var pairs []StudentPlan
	for rows.Next() {
		var p StudentPlan
		if err := rows.Scan(&p.StudentID, &p.StudyPlanID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// StudentsWithModule returns the students holding a virtual module over the
// given source module in one of the given statuses. The reconciler fans
// instructor-side mutations out over this set.
func (s *VirtualStore) StudentsWithModule(ctx context.Context, moduleID string, statuses ...models.GenerationStatus) ([]string, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}
	rows, err := s.db.Pool().Query(ctx, `
		SELECT student_id FROM virtual_modules
		WHERE module_id = $1 AND generation_status = ANY($2)`,
		moduleID, statusStrs)
	if err != nil {
		return nil, fmt.Errorf("failed to list students with module: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

// StudentsWithContent returns the students holding an active adaptation of
// the given source content element.
func (s *VirtualStore) StudentsWithContent(ctx context.Context, topicContentID string) ([]string, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT DISTINCT student_id FROM virtual_topic_contents
		WHERE topic_content_id = $1 AND status = 'active'`,
		topicContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list students with content: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func prefixedVirtualContentColumns(alias string) string {
	return alias + `.id, ` + alias + `.virtual_topic_id, ` + alias + `.topic_content_id, ` +
		alias + `.student_id, ` + alias + `.content_type, ` + alias + `.content_order, ` +
		alias + `.payload, ` + alias + `.source_version, ` + alias + `.personalization_fingerprint, ` +
		alias + `.status, ` + alias + `.created_at, ` + alias + `.updated_at`
}
