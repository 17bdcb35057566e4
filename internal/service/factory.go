// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/psd401/contextgraph/internal/capture"
	"github.com/psd401/contextgraph/internal/config"
)

// ComponentFactory defines the interface for creating the set of components
// behind the API server and the CLI. Commands depend on it so they can be
// tested without a database.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	// 1. Store
	graphStore, pool, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize graph store: %w", err)
	}
	components.Store = graphStore
	components.DBPool = pool
	logger.Debug("Graph store initialized.")

	// 2. Scoring
	components.Resolver, components.Scorer = InitializeScorer(cfg.Scoring(), logger)
	logger.Debug("Completeness scorer initialized.", zap.Bool("llm_enabled", cfg.Scoring().LLMEnabled))

	// 3. Capture
	components.Capture = capture.NewService(graphStore, components.Scorer, cfg, logger)

	logger.Info("All components initialized successfully.")
	return components, nil
}
