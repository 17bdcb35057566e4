// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/capture"
	"github.com/psd401/contextgraph/internal/decision"
	"github.com/psd401/contextgraph/internal/llmclient"
)

// Components holds all the initialized services the API and CLI need.
// This struct centralizes the lifecycle management of shared dependencies.
type Components struct {
	Store    schemas.GraphStore
	Resolver *llmclient.Resolver
	Scorer   *decision.Scorer
	Capture  *capture.Service
	// DBPool is nil when the in-memory store is in use.
	DBPool *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown releases resources in reverse order of creation. It is safe to call
// on partially initialized components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Release the cached model client, if one was ever built.
	if c.Resolver != nil {
		if err := c.Resolver.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	// 2. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
