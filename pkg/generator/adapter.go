package generator

import (
	"context"
	"log/slog"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/llm"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// adapt runs one gated model call: budget admission, provider invocation,
// cost finalization, response parsing. Callers own the decision to skip
// unchanged contents; adapt always spends.
func (e *Executor) adapt(ctx context.Context, topicName, theory string, content *models.TopicContent, profile *models.CognitiveProfile, feature string) (map[string]any, error) {
	pc, err := e.registry.Config(e.provider)
	if err != nil {
		return nil, err
	}

	prompt := buildAdaptationPrompt(topicName, theory, content, profile)
	promptTokens := llm.EstimateTokens(adaptationSystemPrompt + prompt)

	call, _, err := e.gate.Admit(ctx, &models.RegisterCallRequest{
		UserID:       profile.StudentID,
		Provider:     e.provider,
		Model:        pc.Model,
		Feature:      feature,
		PromptTokens: promptTokens,
	}, nil)
	if err != nil {
		return nil, err
	}

	resp, genErr := e.registry.Generate(ctx, e.provider, &llm.Request{
		System:    adaptationSystemPrompt,
		Prompt:    prompt,
		APIKey:    profile.APIKeys[e.provider],
		ForceJSON: true,
	})
	e.finalize(ctx, call.ID, resp, genErr)
	if genErr != nil {
		return nil, genErr
	}

	payload, err := parseAdaptedPayload(resp.Text)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// finalize settles the ledger entry for a call. Settlement failures are
// logged, not propagated: the reservation expires via the stale-call sweep
// and must not fail otherwise-successful generation.
func (e *Executor) finalize(ctx context.Context, callID string, resp *llm.Response, genErr error) {
	success := genErr == nil
	req := &models.UpdateCallRequest{Success: &success}
	if resp != nil {
		promptTokens := resp.Usage.PromptTokens
		completionTokens := resp.Usage.CompletionTokens
		latencyMS := resp.Latency.Milliseconds()
		if promptTokens > 0 {
			req.PromptTokens = &promptTokens
		}
		req.CompletionTokens = &completionTokens
		req.LatencyMS = &latencyMS
	}
	if genErr != nil {
		msg := genErr.Error()
		req.ErrorMessage = &msg
	}

	if _, err := e.gate.Finalize(ctx, callID, req); err != nil {
		slog.Error("failed to finalize ai call", "call_id", callID, "error", err)
	}
}
