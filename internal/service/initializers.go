// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/decision"
	"github.com/psd401/contextgraph/internal/llmclient"
	"github.com/psd401/contextgraph/internal/store"
)

// OpenPool parses the database settings, opens a pgx pool and verifies it.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check CONTEXTGRAPH_DATABASE_URL)")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	// Ensure the connection is valid before proceeding.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("Database connection pool initialized.", zap.Int32("max_conns", poolConfig.MaxConns))
	return pool, nil
}

// InitializeStore connects to PostgreSQL or falls back to the in-memory store
// when no database URL is configured. The returned pool is nil for the
// in-memory store; otherwise the caller owns it.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.GraphStore, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; defaulting to a temporary in-memory graph store. All captured decisions will be lost on exit. This is not recommended for production use.")
		return store.NewMemoryStore(logger), nil, nil
	}

	logger.Info("Initializing PostgreSQL graph store.")
	pool, err := OpenPool(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	pgStore, err := store.NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	return pgStore, pool, nil
}

// InitializeScorer builds the lazy model resolver and the completeness scorer.
// The model client itself is only created on the first LLM-assisted score.
func InitializeScorer(cfg config.ScoringConfig, logger *zap.Logger) (*llmclient.Resolver, *decision.Scorer) {
	if cfg.LLMEnabled && !cfg.LLM.Configured() {
		logger.Warn("LLM scoring is enabled but no model is configured. Scores will be rule-based only.")
	}
	resolver := llmclient.NewResolver(cfg.LLM, nil, logger.Named("llm"))
	return resolver, decision.NewScorer(resolver, cfg, logger)
}
