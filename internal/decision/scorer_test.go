package decision

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/llmclient"
)

type mockLLMClient struct {
	mock.Mock
}

func (m *mockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLLMClient) Close() error { return nil }

// blockingClient ignores the request and waits for cancellation.
type blockingClient struct{}

func (blockingClient) Generate(ctx context.Context, _ schemas.GenerationRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingClient) Close() error { return nil }

type staticResolver struct {
	client schemas.LLMClient
	err    error
}

func (r staticResolver) Resolve(context.Context) (schemas.LLMClient, error) {
	return r.client, r.err
}

func newTestScorer(t *testing.T, resolver ModelResolver, timeout time.Duration) (*Scorer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	cfg := config.ScoringConfig{LLMEnabled: true, Timeout: timeout}
	return NewScorer(resolver, cfg, zap.New(core)), logs
}

func TestComputeRuleBasedScore(t *testing.T) {
	t.Run("complete decision scores 100", func(t *testing.T) {
		graph := TranslatePayloadToGraph(curriculumPayload(), schemas.SourceAPI)
		result := ComputeRuleBasedScore(graph.Nodes, graph.Edges)
		assert.Equal(t, 100, result.Score)
		assert.Empty(t, result.Warnings)
		assert.NotNil(t, result.Warnings)
		assert.Equal(t, schemas.MethodRuleBased, result.Method)
	})

	t.Run("missing condition scores 75", func(t *testing.T) {
		payload := curriculumPayload()
		payload.Conditions = nil
		graph := TranslatePayloadToGraph(payload, schemas.SourceAPI)
		result := ComputeRuleBasedScore(graph.Nodes, graph.Edges)
		assert.Equal(t, 75, result.Score)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "revisit condition")
	})

	t.Run("empty graph scores 0", func(t *testing.T) {
		result := ComputeRuleBasedScore(nil, nil)
		assert.Equal(t, 0, result.Score)
		assert.Len(t, result.Warnings, 4)
	})
}

func TestNewScorer_TimeoutCap(t *testing.T) {
	s, _ := newTestScorer(t, staticResolver{}, time.Minute)
	assert.Equal(t, config.MaxScoringTimeout, s.timeout)

	s, _ = newTestScorer(t, staticResolver{}, 0)
	assert.Equal(t, config.MaxScoringTimeout, s.timeout)

	s, _ = newTestScorer(t, staticResolver{}, 2*time.Second)
	assert.Equal(t, 2*time.Second, s.timeout)
}

func TestComputeLLMScore_Success(t *testing.T) {
	payload := curriculumPayload()
	payload.Conditions = nil
	graph := TranslatePayloadToGraph(payload, schemas.SourceAPI)

	client := new(mockLLMClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Options.ForceJSONFormat &&
			assert.Contains(t, req.UserPrompt, "COMPARED_AGAINST") &&
			assert.Contains(t, req.UserPrompt, "score 75/100") &&
			assert.Contains(t, req.UserPrompt, "Adopt new curriculum")
	})).Return("Here you go:\n```json\n{\"score\": 104.6, \"warnings\": [\"Add a revisit trigger\", 7, null]}\n```", nil).Once()

	s, logs := newTestScorer(t, staticResolver{client: client}, time.Second)
	result := s.ComputeLLMScore(context.Background(), payload, graph.Nodes, graph.Edges)

	assert.Equal(t, schemas.CompletenessResult{
		Score:    100,
		Warnings: []string{"Add a revisit trigger"},
		Method:   schemas.MethodLLMEnhanced,
	}, result)
	assert.Zero(t, logs.FilterLevelExact(zap.WarnLevel).Len())
	client.AssertExpectations(t)
}

func TestComputeLLMScore_Fallbacks(t *testing.T) {
	payload := curriculumPayload()
	graph := TranslatePayloadToGraph(payload, schemas.SourceAPI)
	baseline := ComputeRuleBasedScore(graph.Nodes, graph.Edges)

	respond := func(text string, err error) ModelResolver {
		c := new(mockLLMClient)
		c.On("Generate", mock.Anything, mock.Anything).Return(text, err)
		return staticResolver{client: c}
	}

	testCases := []struct {
		name     string
		resolver ModelResolver
	}{
		{"model not configured", staticResolver{err: llmclient.ErrModelNotConfigured}},
		{"invocation error", respond("", errors.New("quota exceeded"))},
		{"no JSON in response", respond("I cannot score this.", nil)},
		{"malformed JSON", respond("{score: eighty}", nil)},
		{"score missing", respond(`{"warnings": ["x"]}`, nil)},
		{"score not numeric", respond(`{"score": "80", "warnings": []}`, nil)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, logs := newTestScorer(t, tc.resolver, time.Second)
			result := s.ComputeLLMScore(context.Background(), payload, graph.Nodes, graph.Edges)
			assert.Equal(t, baseline, result)
			assert.Equal(t, 1, logs.FilterMessage("LLM completeness scoring failed, using rule-based score.").Len())
		})
	}
}

func TestComputeLLMScore_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	payload := curriculumPayload()
	graph := TranslatePayloadToGraph(payload, schemas.SourceAPI)

	s, logs := newTestScorer(t, staticResolver{client: blockingClient{}}, 50*time.Millisecond)

	start := time.Now()
	result := s.ComputeLLMScore(context.Background(), payload, graph.Nodes, graph.Edges)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, ComputeRuleBasedScore(graph.Nodes, graph.Edges), result)
	entries := logs.FilterMessage("LLM completeness scoring failed, using rule-based score.").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "deadline exceeded")
}

func TestComputeLLMScore_UnreachableModel(t *testing.T) {
	// A closed server gives a port that refuses connections.
	server := httptest.NewServer(nil)
	endpoint := server.URL
	server.Close()

	cfg := config.LLMModelConfig{
		Provider:   config.ProviderGemini,
		Model:      "test-model",
		APIKey:     "test-api-key",
		Endpoint:   endpoint,
		APITimeout: time.Second,
	}
	resolver := llmclient.NewResolver(cfg, nil, zap.NewNop())
	defer resolver.Close()

	payload := curriculumPayload()
	payload.Conditions = nil
	graph := TranslatePayloadToGraph(payload, schemas.SourceAPI)

	s, _ := newTestScorer(t, resolver, 200*time.Millisecond)
	result := s.ComputeLLMScore(context.Background(), payload, graph.Nodes, graph.Edges)

	direct := ComputeRuleBasedScore(graph.Nodes, graph.Edges)
	assert.Equal(t, direct.Score, result.Score)
	assert.Equal(t, direct.Warnings, result.Warnings)
	assert.Equal(t, schemas.MethodRuleBased, result.Method)
}

func TestComputeLLMScore_RateLimitWaitRespectsDeadline(t *testing.T) {
	client := new(mockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return(`{"score": 90, "warnings": []}`, nil)

	core, _ := observer.New(zap.DebugLevel)
	s := NewScorer(staticResolver{client: client}, config.ScoringConfig{
		Timeout:           50 * time.Millisecond,
		RequestsPerSecond: 0.001,
		Burst:             1,
	}, zap.New(core))

	graph := TranslatePayloadToGraph(curriculumPayload(), schemas.SourceAPI)
	first := s.ComputeLLMScore(context.Background(), curriculumPayload(), graph.Nodes, graph.Edges)
	assert.Equal(t, schemas.MethodLLMEnhanced, first.Method)

	// The bucket is now empty and refills far slower than the deadline.
	second := s.ComputeLLMScore(context.Background(), curriculumPayload(), graph.Nodes, graph.Edges)
	assert.Equal(t, schemas.MethodRuleBased, second.Method)
	client.AssertNumberOfCalls(t, "Generate", 1)
}
