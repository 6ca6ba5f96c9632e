package llm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/metrics"
)

// Registry routes generation calls to configured providers. It owns one
// client and one optional rate limiter per provider entry.
type Registry struct {
	configs  *config.LLMProviderRegistry
	mu       sync.RWMutex
	clients  map[string]Client
	limiters map[string]*rate.Limiter
}

// NewRegistry builds clients for every configured provider. Unknown provider
// types are rejected here even though config validation already screens them.
func NewRegistry(configs *config.LLMProviderRegistry) (*Registry, error) {
	r := &Registry{
		configs:  configs,
		clients:  make(map[string]Client),
		limiters: make(map[string]*rate.Limiter),
	}
	for name, pc := range configs.GetAll() {
		client, err := buildClient(name, pc)
		if err != nil {
			return nil, err
		}
		r.clients[name] = client
		if pc.RequestsPerMinute > 0 {
			burst := pc.RequestsPerMinute / 10
			if burst < 1 {
				burst = 1
			}
			r.limiters[name] = rate.NewLimiter(rate.Limit(float64(pc.RequestsPerMinute)/60.0), burst)
		}
	}
	return r, nil
}

func buildClient(name string, pc *config.LLMProviderConfig) (Client, error) {
	switch pc.Type {
	case config.LLMProviderTypeGoogle:
		return NewGeminiClient(name, pc), nil
	case config.LLMProviderTypeOpenAI:
		return NewOpenAIClient(name, pc), nil
	case config.LLMProviderTypeAnthropic:
		return NewAnthropicClient(name, pc), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q for provider %s",
			config.ErrInvalidValue, pc.Type, name)
	}
}

// Generate invokes the named provider, waiting on its rate limiter and
// bounding the call with the provider's timeout. An empty request APIKey
// falls back to the provider's platform key environment variable.
func (r *Registry) Generate(ctx context.Context, providerName string, req *Request) (*Response, error) {
	pc, err := r.configs.Get(providerName)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	client := r.clients[providerName]
	limiter := r.limiters[providerName]
	r.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%w: %s", config.ErrLLMProviderNotFound, providerName)
	}

	call := *req
	if call.APIKey == "" && pc.APIKeyEnv != "" {
		call.APIKey = os.Getenv(pc.APIKeyEnv)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(pc))
	defer cancel()

	resp, err := client.Generate(callCtx, &call)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.LLMCallsTotal.WithLabelValues(string(pc.Type), pc.Model, outcome).Inc()
	if resp != nil {
		metrics.LLMCallDurationSeconds.WithLabelValues(string(pc.Type), pc.Model).Observe(resp.Latency.Seconds())
		metrics.LLMTokensTotal.WithLabelValues(string(pc.Type), pc.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensTotal.WithLabelValues(string(pc.Type), pc.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}
	return resp, err
}

// Config exposes the provider configuration for a registry entry.
func (r *Registry) Config(providerName string) (*config.LLMProviderConfig, error) {
	return r.configs.Get(providerName)
}

// Close releases every provider client.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close provider %s: %w", name, err)
		}
	}
	return firstErr
}
