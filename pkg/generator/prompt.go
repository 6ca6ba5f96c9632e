package generator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

const adaptationSystemPrompt = `You are a content adaptation engine for an adaptive learning platform.
You receive one authored content element and a student's cognitive profile.
Rewrite the element's payload so it suits the student while preserving its
pedagogical intent, its structure, and every field name of the input document.
Respond with a single JSON object and nothing else: no prose, no markdown
fences. The object must have the same top-level keys as the input payload.`

// buildAdaptationPrompt renders the user-role prompt for one content element.
func buildAdaptationPrompt(topicName, theory string, content *models.TopicContent, profile *models.CognitiveProfile) string {
	var b strings.Builder

	b.WriteString("## Student profile\n")
	fmt.Fprintf(&b, "Difficulty preference: %s\n", orUnspecified(profile.DifficultyPreference))
	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(profile.Interests, ", "))
	}
	if len(profile.LearningStyle) > 0 {
		b.WriteString("Learning style weights:\n")
		for _, dim := range sortedKeys(profile.LearningStyle) {
			fmt.Fprintf(&b, "  %s: %.2f\n", dim, profile.LearningStyle[dim])
		}
	}

	b.WriteString("\n## Topic\n")
	fmt.Fprintf(&b, "Name: %s\n", topicName)
	if theory != "" {
		fmt.Fprintf(&b, "Theory:\n%s\n", theory)
	}

	fmt.Fprintf(&b, "\n## Content element (type: %s)\n", content.ContentType)
	payload, err := json.Marshal(content.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	b.Write(payload)
	b.WriteString("\n\nAdapt this element for the student. Output the adapted payload as JSON.\n")
	return b.String()
}

func orUnspecified(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseAdaptedPayload decodes the model response. Providers occasionally wrap
// JSON mode output in fences or stray text, so a bracket-trimmed second pass
// runs before giving up.
func parseAdaptedPayload(text string) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return payload, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("model response is not a JSON object (%d bytes)", len(text))
}
