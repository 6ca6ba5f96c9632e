package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
)

// GeminiClient calls the Gemini API through the official SDK. A fresh SDK
// client is built per call because the API key can differ per student.
type GeminiClient struct {
	name string
	cfg  *config.LLMProviderConfig
}

// NewGeminiClient creates a client for one configured Gemini provider.
func NewGeminiClient(name string, cfg *config.LLMProviderConfig) *GeminiClient {
	return &GeminiClient{name: name, cfg: cfg}
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, c.name)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  req.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = c.cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Code: "client_init", Message: err.Error(), Retryable: false}
	}

	genCfg := &genai.GenerateContentConfig{}
	if c.cfg.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.cfg.MaxOutputTokens)
	}
	if req.ForceJSON {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.Prompt), genCfg)
	latency := time.Since(start)
	if err != nil {
		return nil, c.classify(err)
	}

	out := &Response{Text: resp.Text(), Latency: latency}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if out.Text == "" {
		return nil, &ProviderError{Provider: c.name, Code: "empty_response",
			Message: "model returned no text candidates", Retryable: true}
	}
	return out, nil
}

// Close implements Client. The SDK client is per-call, so nothing persists.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:  c.name,
			Code:      fmt.Sprintf("http_%d", apiErr.Code),
			Message:   apiErr.Message,
			Retryable: retryableStatus(apiErr.Code),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: c.name, Code: "timeout", Message: err.Error(), Retryable: true}
	}
	return &ProviderError{Provider: c.name, Code: "unknown", Message: err.Error(), Retryable: true}
}
