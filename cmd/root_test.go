// File: cmd/root_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCmd_VersionFlag tests if the --version flag works correctly.
func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, newMemoryFactory(), "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, newMemoryFactory(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "contextgraph version "+Version)
}

// TestRootCmd_NoArgs tests the behavior when no arguments are provided.
func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(t, newMemoryFactory())
	require.NoError(t, err)
	assert.Contains(t, out, "contextgraph records organizational decisions as typed subgraphs")
	for _, sub := range []string{"serve", "migrate", "capture", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		factory := newMemoryFactory()
		_, err := executeCommand(t, factory, "--config", "/nonexistent/contextgraph.yaml", "migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
		assert.Zero(t, factory.calls)
	})

	t.Run("InvalidValue", func(t *testing.T) {
		path := writeTempFile(t, "config.yaml", "capture:\n  min_score: 150\n")
		_, err := executeCommand(t, newMemoryFactory(), "--config", path, "migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "capture.min_score must be between 0 and 100")
	})

	t.Run("InvalidEnvValue", func(t *testing.T) {
		t.Setenv("CONTEXTGRAPH_SCORING_TIMEOUT", "1m")
		_, err := executeCommand(t, newMemoryFactory(), "migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scoring configuration invalid")
	})
}

func TestGetConfigFromContext_NotLoaded(t *testing.T) {
	cfg, err := getConfigFromContext(context.Background())
	assert.Nil(t, cfg)
	assert.Error(t, err)
}
