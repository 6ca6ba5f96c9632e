package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

func TestProfileOrDefault_NoStoredProfile(t *testing.T) {
	f := newFixture(t)
	studentID := uuid.New().String()

	p, err := f.profiles.ProfileOrDefault(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, studentID, p.StudentID)
	assert.Zero(t, p.Version)
	assert.Empty(t, p.APIKeys)
}

func TestUpsertProfile_PartialUpdateBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()

	pref := "gentle"
	first, err := f.profiles.UpsertProfile(ctx, studentID, &models.UpdateProfileRequest{
		LearningStyle:        map[string]float64{"visual": 0.8, "kinesthetic": 0.2},
		DifficultyPreference: &pref,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := f.profiles.UpsertProfile(ctx, studentID, &models.UpdateProfileRequest{
		Interests: []string{"music", "robotics"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, []string{"music", "robotics"}, second.Interests)
	assert.InDelta(t, 0.8, second.LearningStyle["visual"], 1e-9, "unset fields keep their values")
	assert.Equal(t, "gentle", second.DifficultyPreference)
}

func TestUpsertProfile_SealsAPIKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()

	_, err := f.profiles.UpsertProfile(ctx, studentID, &models.UpdateProfileRequest{
		APIKeys: map[string]string{"gemini": "AIza-secret-key"},
	})
	require.NoError(t, err)

	sealed, err := f.profiles.GetProfile(ctx, studentID)
	require.NoError(t, err)
	require.Contains(t, sealed.APIKeys, "gemini")
	assert.NotEqual(t, "AIza-secret-key", sealed.APIKeys["gemini"], "plaintext never reaches the database")

	opened, err := f.profiles.GetProfileDecrypted(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, "AIza-secret-key", opened.APIKeys["gemini"])
}

func TestUpsertProfile_KeyMergeAndRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()

	_, err := f.profiles.UpsertProfile(ctx, studentID, &models.UpdateProfileRequest{
		APIKeys: map[string]string{"gemini": "key-one", "openai": "key-two"},
	})
	require.NoError(t, err)

	// Replace one provider, remove the other with an empty value.
	_, err = f.profiles.UpsertProfile(ctx, studentID, &models.UpdateProfileRequest{
		APIKeys: map[string]string{"gemini": "key-three", "openai": ""},
	})
	require.NoError(t, err)

	opened, err := f.profiles.GetProfileDecrypted(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"gemini": "key-three"}, opened.APIKeys)
}
