package generator

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// fingerprintInputs are exactly the adaptation inputs a produced content
// depends on. If none of these moved, re-adapting would reproduce the same
// output, so the worker may skip the call.
type fingerprintInputs struct {
	TopicContentID string
	SourceVersion  int
	ProfileVersion int
	LearningStyle  map[string]float64
	Difficulty     string
	Interests      []string `hash:"set"`
	Provider       string
	Model          string
}

// Fingerprint hashes the personalization inputs of one (content, student)
// adaptation. Interests hash order-independently; map entries already do.
func Fingerprint(content *models.TopicContent, profile *models.CognitiveProfile, provider, model string) string {
	in := fingerprintInputs{
		TopicContentID: content.ID,
		SourceVersion:  content.Version,
		ProfileVersion: profile.Version,
		LearningStyle:  profile.LearningStyle,
		Difficulty:     profile.DifficultyPreference,
		Interests:      profile.Interests,
		Provider:       provider,
		Model:          model,
	}
	h, err := hashstructure.Hash(in, hashstructure.FormatV2, nil)
	if err != nil {
		// Hash only fails on unsupported types, which fingerprintInputs has
		// none of.
		return "0"
	}
	return fmt.Sprintf("%016x", h)
}
