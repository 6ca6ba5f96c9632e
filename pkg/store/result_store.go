package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// ResultStore persists student interaction outcomes. Results are append-only;
// progression reads the best completion per content element.
type ResultStore struct {
	db *database.Client
}

// NewResultStore creates a new ResultStore
func NewResultStore(db *database.Client) *ResultStore {
	return &ResultStore{db: db}
}

const resultColumns = `id, virtual_topic_content_id, student_id, completion, score, session_data, recorded_at`

func scanResult(row pgx.Row) (*models.ContentResult, error) {
	var r models.ContentResult
	err := row.Scan(&r.ID, &r.VirtualTopicContentID, &r.StudentID,
		&r.Completion, &r.Score, &r.SessionData, &r.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: content result", ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

// InsertResult appends one interaction outcome. Duplicate submissions for
// the same student and content within the same minute collapse onto the
// first recorded row, which is returned to the retrying caller.
func (s *ResultStore) InsertResult(ctx context.Context, r *models.ContentResult) (*models.ContentResult, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	var recordedAt *time.Time
	if !r.RecordedAt.IsZero() {
		recordedAt = &r.RecordedAt
	}
	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO content_results (id, virtual_topic_content_id, student_id, completion, score, session_data, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		ON CONFLICT (virtual_topic_content_id, student_id, (date_trunc('minute', recorded_at AT TIME ZONE 'UTC'))) DO NOTHING
		RETURNING `+resultColumns,
		r.ID, r.VirtualTopicContentID, r.StudentID, r.Completion, r.Score, r.SessionData, recordedAt)
	inserted, err := scanResult(row)
	if err == nil {
		return inserted, nil
	}
	if database.IsForeignKeyViolation(err) {
		return nil, fmt.Errorf("%w: virtual content", ErrNotFound)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to insert result: %w", err)
	}

	// Collapsed onto an existing row in the same minute; hand that row back.
	row = s.db.Pool().QueryRow(ctx, `
		SELECT `+resultColumns+` FROM content_results
		WHERE virtual_topic_content_id = $1 AND student_id = $2
		AND date_trunc('minute', recorded_at AT TIME ZONE 'UTC') = date_trunc('minute', COALESCE($3, now()) AT TIME ZONE 'UTC')
		LIMIT 1`,
		r.VirtualTopicContentID, r.StudentID, recordedAt)
	existing, err := scanResult(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load collapsed result: %w", err)
	}
	return existing, nil
}

// ListResultsByContent returns a content element's results, newest first.
func (s *ResultStore) ListResultsByContent(ctx context.Context, virtualTopicContentID string) ([]models.ContentResult, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+resultColumns+` FROM content_results
		 WHERE virtual_topic_content_id = $1 ORDER BY recorded_at DESC`,
		virtualTopicContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// ListResultsByStudent returns a student's results, newest first, capped at
// limit (0 means no cap).
func (s *ResultStore) ListResultsByStudent(ctx context.Context, studentID string, limit int) ([]models.ContentResult, error) {
	query := `SELECT ` + resultColumns + ` FROM content_results
		 WHERE student_id = $1 ORDER BY recorded_at DESC`
	args := []any{studentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// BestCompletion returns the best recorded completion for a content element,
// zero when none exists.
func (s *ResultStore) BestCompletion(ctx context.Context, virtualTopicContentID string) (float64, error) {
	var best float64
	err := s.db.Pool().QueryRow(ctx,
		`SELECT COALESCE(MAX(completion), 0) FROM content_results WHERE virtual_topic_content_id = $1`,
		virtualTopicContentID).Scan(&best)
	if err != nil {
		return 0, fmt.Errorf("failed to read best completion: %w", err)
	}
	return best, nil
}

func collectResults(rows pgx.Rows) ([]models.ContentResult, error) {
	var results []models.ContentResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}
