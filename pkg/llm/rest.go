package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
)

// OpenAI and Anthropic are called over their REST APIs directly; only the
// Gemini path has an official Go SDK wired in.

const (
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultAnthropicBaseURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"

	// Anthropic requires max_tokens; used when the provider config sets none.
	defaultMaxOutputTokens = 4096
)

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	name string
	cfg  *config.LLMProviderConfig
	http *http.Client
}

// NewOpenAIClient creates a client for one configured OpenAI provider.
func NewOpenAIClient(name string, cfg *config.LLMProviderConfig) *OpenAIClient {
	return &OpenAIClient{name: name, cfg: cfg, http: &http.Client{}}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, c.name)
	}

	body := openAIRequest{Model: c.cfg.Model, MaxTokens: c.cfg.MaxOutputTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.ForceJSON {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	base := c.cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	var out openAIResponse
	latency, err := postJSON(ctx, c.http, c.name, base+"/v1/chat/completions", map[string]string{
		"Authorization": "Bearer " + req.APIKey,
	}, body, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, &ProviderError{Provider: c.name, Code: "empty_response",
			Message: "no completion choices returned", Retryable: true}
	}
	return &Response{
		Text:    out.Choices[0].Message.Content,
		Usage:   Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens},
		Latency: latency,
	}, nil
}

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }

// AnthropicClient calls the messages API.
type AnthropicClient struct {
	name string
	cfg  *config.LLMProviderConfig
	http *http.Client
}

// NewAnthropicClient creates a client for one configured Anthropic provider.
func NewAnthropicClient(name string, cfg *config.LLMProviderConfig) *AnthropicClient {
	return &AnthropicClient{name: name, cfg: cfg, http: &http.Client{}}
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []openAIMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements Client. Anthropic has no JSON response mode, so
// ForceJSON relies on the prompt's own formatting instructions.
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, c.name)
	}

	maxTokens := c.cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	body := anthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []openAIMessage{{Role: "user", Content: req.Prompt}},
	}

	base := c.cfg.BaseURL
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	var out anthropicResponse
	latency, err := postJSON(ctx, c.http, c.name, base+"/v1/messages", map[string]string{
		"x-api-key":         req.APIKey,
		"anthropic-version": anthropicVersion,
	}, body, &out)
	if err != nil {
		return nil, err
	}

	text := ""
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, &ProviderError{Provider: c.name, Code: "empty_response",
			Message: "no text blocks returned", Retryable: true}
	}
	return &Response{
		Text:    text,
		Usage:   Usage{PromptTokens: out.Usage.InputTokens, CompletionTokens: out.Usage.OutputTokens},
		Latency: latency,
	}, nil
}

// Close implements Client.
func (c *AnthropicClient) Close() error { return nil }

// postJSON performs one JSON round trip and classifies HTTP failures.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, in, out any) (time.Duration, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, &ProviderError{Provider: provider, Code: "encode", Message: err.Error(), Retryable: false}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, &ProviderError{Provider: provider, Code: "request", Message: err.Error(), Retryable: false}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return latency, &ProviderError{Provider: provider, Code: "timeout", Message: err.Error(), Retryable: true}
		}
		return latency, &ProviderError{Provider: provider, Code: "network", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return latency, &ProviderError{Provider: provider, Code: "read", Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, &ProviderError{
			Provider:  provider,
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   apiErrorMessage(raw),
			Retryable: retryableStatus(resp.StatusCode),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return latency, &ProviderError{Provider: provider, Code: "decode", Message: err.Error(), Retryable: true}
	}
	return latency, nil
}

// apiErrorMessage extracts the human-readable message both APIs nest under
// an "error" object, falling back to the raw body.
func apiErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return string(raw)
}
