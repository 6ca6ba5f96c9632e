package config

// Defaults contains system-wide default selections.
// These values are used when a request or task doesn't specify its own.
type Defaults struct {
	// LLMProvider is the registry name of the provider used for generation
	// when neither the task nor the student profile picks one.
	LLMProvider string `yaml:"llm_provider,omitempty"`
}
