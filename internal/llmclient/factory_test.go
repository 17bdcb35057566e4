package llmclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
)

func TestNewClient(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()

	t.Run("should build a Gemini REST client", func(t *testing.T) {
		client, err := NewClient(ctx, getValidLLMConfig(), logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("should build a GenAI SDK client", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = config.ProviderGenAI
		client, err := NewClient(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &GenAIClient{}, client)
		assert.NoError(t, client.Close())
	})

	t.Run("should report an unset provider as not configured", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = ""
		_, err := NewClient(ctx, cfg, logger)
		assert.ErrorIs(t, err, ErrModelNotConfigured)
	})

	t.Run("should reject an unknown provider", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = "openai"
		_, err := NewClient(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown or unsupported LLM provider configured: 'openai'")
	})

	t.Run("should propagate provider construction errors", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		_, err := NewClient(ctx, cfg, logger)
		assert.ErrorContains(t, err, "API key is required")
	})
}

func TestResolver(t *testing.T) {
	logger := setupTestLogger(t)

	t.Run("should short circuit when no model is configured", func(t *testing.T) {
		var calls int32
		factory := func(context.Context, config.LLMModelConfig, *zap.Logger) (schemas.LLMClient, error) {
			atomic.AddInt32(&calls, 1)
			return new(MockLLMClient), nil
		}
		r := NewResolver(config.LLMModelConfig{}, factory, logger)

		_, err := r.Resolve(context.Background())
		assert.ErrorIs(t, err, ErrModelNotConfigured)
		assert.Zero(t, atomic.LoadInt32(&calls))
		assert.NoError(t, r.Close())
	})

	t.Run("should build once and reuse the client", func(t *testing.T) {
		var calls int32
		mockClient := new(MockLLMClient)
		mockClient.On("Close").Return(nil).Once()
		factory := func(context.Context, config.LLMModelConfig, *zap.Logger) (schemas.LLMClient, error) {
			atomic.AddInt32(&calls, 1)
			return mockClient, nil
		}
		r := NewResolver(getValidLLMConfig(), factory, logger)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				client, err := r.Resolve(context.Background())
				assert.NoError(t, err)
				assert.Same(t, mockClient, client)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		require.NoError(t, r.Close())
		mockClient.AssertExpectations(t)
	})

	t.Run("should not cache a failed build", func(t *testing.T) {
		var calls int32
		mockClient := new(MockLLMClient)
		factory := func(context.Context, config.LLMModelConfig, *zap.Logger) (schemas.LLMClient, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("dial failed")
			}
			return mockClient, nil
		}
		r := NewResolver(getValidLLMConfig(), factory, logger)

		_, err := r.Resolve(context.Background())
		assert.ErrorContains(t, err, "failed to build gemini client: dial failed")

		client, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Same(t, mockClient, client)
	})
}
