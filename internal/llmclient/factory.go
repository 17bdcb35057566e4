// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
)

// ErrModelNotConfigured means no model is set up. Callers treat it as a reason
// to skip model-assisted work, not as a failure.
var ErrModelNotConfigured = errors.New("no language model is configured")

// NewClient is a factory function that creates an LLMClient based on the configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	case config.ProviderGenAI:
		return NewGenAIClient(ctx, cfg, logger)
	case "":
		return nil, ErrModelNotConfigured
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGenAI)
	}
}

// FactoryFunc builds a client from model settings.
type FactoryFunc func(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error)

// Resolver lazily builds the configured client on first use and reuses it.
type Resolver struct {
	cfg     config.LLMModelConfig
	factory FactoryFunc
	logger  *zap.Logger

	mu     sync.Mutex
	client schemas.LLMClient
}

// NewResolver returns a Resolver over the given settings. A nil factory uses NewClient.
func NewResolver(cfg config.LLMModelConfig, factory FactoryFunc, logger *zap.Logger) *Resolver {
	if factory == nil {
		factory = NewClient
	}
	return &Resolver{cfg: cfg, factory: factory, logger: logger}
}

// Resolve returns the configured client, or ErrModelNotConfigured.
// A failed build is not cached, so a later call can succeed.
func (r *Resolver) Resolve(ctx context.Context) (schemas.LLMClient, error) {
	if !r.cfg.Configured() {
		return nil, ErrModelNotConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.factory(ctx, r.cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client: %w", r.cfg.Provider, err)
	}
	r.client = client
	return client, nil
}

// Close releases the cached client, if any.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
