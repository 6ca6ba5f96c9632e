package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/secrets"
)

// ProfileStore persists cognitive profiles. Provider API keys are sealed
// before they reach the database and only opened on the generation path.
type ProfileStore struct {
	db     *database.Client
	sealer *secrets.Sealer
}

// NewProfileStore creates a new ProfileStore
func NewProfileStore(db *database.Client, sealer *secrets.Sealer) *ProfileStore {
	return &ProfileStore{db: db, sealer: sealer}
}

const profileColumns = `student_id, learning_style, difficulty_preference, interests, api_keys, version, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.CognitiveProfile, error) {
	var p models.CognitiveProfile
	err := row.Scan(&p.StudentID, &p.LearningStyle, &p.DifficultyPreference,
		&p.Interests, &p.APIKeys, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: cognitive profile", ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// GetProfile fetches a student's profile. APIKeys values remain sealed.
func (s *ProfileStore) GetProfile(ctx context.Context, studentID string) (*models.CognitiveProfile, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+profileColumns+` FROM cognitive_profiles WHERE student_id = $1`, studentID)
	return scanProfile(row)
}

// GetProfileDecrypted fetches a profile with APIKeys opened. Generation-path
// only; never hand the result to the HTTP layer.
func (s *ProfileStore) GetProfileDecrypted(ctx context.Context, studentID string) (*models.CognitiveProfile, error) {
	p, err := s.GetProfile(ctx, studentID)
	if err != nil {
		return nil, err
	}
	keys, err := s.sealer.OpenMap(p.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to open api keys for student %s: %w", studentID, err)
	}
	p.APIKeys = keys
	return p, nil
}

// UpsertProfile creates or partially updates a profile. Nil request fields
// keep their stored values. APIKeys merge per provider: a non-empty value
// replaces that provider's key, an empty string removes it. Version bumps on
// every call so personalization fingerprints pick up the change.
func (s *ProfileStore) UpsertProfile(ctx context.Context, studentID string, req *models.UpdateProfileRequest) (*models.CognitiveProfile, error) {
	var out *models.CognitiveProfile
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO cognitive_profiles (student_id) VALUES ($1) ON CONFLICT (student_id) DO NOTHING`,
			studentID); err != nil {
			return fmt.Errorf("failed to ensure profile: %w", err)
		}

		var sealed map[string]string
		if err := tx.QueryRow(ctx,
			`SELECT api_keys FROM cognitive_profiles WHERE student_id = $1 FOR UPDATE`,
			studentID).Scan(&sealed); err != nil {
			return fmt.Errorf("failed to read profile keys: %w", err)
		}

		if req.APIKeys != nil {
			if sealed == nil {
				sealed = make(map[string]string, len(req.APIKeys))
			}
			for provider, key := range req.APIKeys {
				if key == "" {
					delete(sealed, provider)
					continue
				}
				token, err := s.sealer.Seal(key)
				if err != nil {
					return fmt.Errorf("failed to seal key for %q: %w", provider, err)
				}
				sealed[provider] = token
			}
		}

		row := tx.QueryRow(ctx, `
			UPDATE cognitive_profiles SET
				learning_style = COALESCE($2, learning_style),
				difficulty_preference = COALESCE($3, difficulty_preference),
				interests = COALESCE($4, interests),
				api_keys = $5,
				version = version + 1,
				updated_at = now()
			WHERE student_id = $1
			RETURNING `+profileColumns,
			studentID, req.LearningStyle, req.DifficultyPreference, req.Interests, sealed)
		p, err := scanProfile(row)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProfileOrDefault returns the stored profile, or a zero-value profile when
// the student never saved one. The default adapts content with no styling
// hints and no personal API keys.
func (s *ProfileStore) ProfileOrDefault(ctx context.Context, studentID string) (*models.CognitiveProfile, error) {
	p, err := s.GetProfileDecrypted(ctx, studentID)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, ErrNotFound) {
		return &models.CognitiveProfile{StudentID: studentID, Version: 0}, nil
	}
	return nil, err
}
