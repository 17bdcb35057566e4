package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/store"
)

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) ComputeLLMScore(ctx context.Context, payload schemas.DecisionAPIPayload, nodes []schemas.TranslatedNode, edges []schemas.TranslatedEdge) schemas.CompletenessResult {
	args := m.Called(ctx, payload, nodes, edges)
	return args.Get(0).(schemas.CompletenessResult)
}

// flakyStore fails the edge creation with the given (1-based) ordinal.
type flakyStore struct {
	*store.MemoryStore
	failEdgeAt int
	edgeCalls  int
}

func (f *flakyStore) CreateEdge(ctx context.Context, input schemas.EdgeInput, actingUserID string) (schemas.GraphEdge, error) {
	f.edgeCalls++
	if f.edgeCalls == f.failEdgeAt {
		return schemas.GraphEdge{}, errors.New("connection reset by peer")
	}
	return f.MemoryStore.CreateEdge(ctx, input, actingUserID)
}

func fullPayload() schemas.DecisionAPIPayload {
	return schemas.DecisionAPIPayload{
		Decision:               "Adopt new curriculum",
		DecidedBy:              "J. Smith",
		Reasoning:              "Pilot classrooms improved",
		Evidence:               []string{"pilot results"},
		Constraints:            []string{"budget cap"},
		Conditions:             []string{"enrollment drops 10%"},
		AlternativesConsidered: []string{"Keep current curriculum"},
	}
}

func newTestService(t *testing.T, gs schemas.GraphStore, scorer LLMScorer) (*Service, *config.Config) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	return NewService(gs, scorer, cfg, zaptest.NewLogger(t)), cfg
}

func allNodes(t *testing.T, gs schemas.GraphStore) []schemas.GraphNode {
	t.Helper()
	page, err := gs.QueryNodes(context.Background(), schemas.NodeFilter{}, schemas.PageRequest{Limit: store.MaxPageSize})
	require.NoError(t, err)
	return page.Items
}

func TestCapture_CommitsAcceptedDecision(t *testing.T) {
	mem := store.NewMemoryStore(zaptest.NewLogger(t))
	svc, _ := newTestService(t, mem, nil)
	ctx := context.Background()

	result, err := svc.Capture(ctx, Request{
		Payload:      fullPayload(),
		Source:       schemas.SourceAgent,
		ActingUserID: "user-42",
		Commit:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, result.Completeness.Score)
	assert.True(t, result.Accepted)
	assert.True(t, result.Committed)
	require.Len(t, result.IDMap, len(result.Nodes))

	nodes := allNodes(t, mem)
	assert.Len(t, nodes, len(result.Nodes))

	decisionID := result.IDMap["temp-1"]
	decisionNode, err := mem.GetNode(ctx, decisionID)
	require.NoError(t, err)
	require.NotNil(t, decisionNode)
	assert.Equal(t, "Adopt new curriculum", decisionNode.Name)
	assert.Equal(t, "agent", decisionNode.Metadata["source"])
	require.NotNil(t, decisionNode.CreatedBy)
	assert.Equal(t, "user-42", *decisionNode.CreatedBy)

	conns, err := mem.GetNodeConnections(ctx, decisionID)
	require.NoError(t, err)
	// person, evidence, constraint, reasoning, condition, alternative
	assert.Len(t, conns, 6)
	for _, c := range conns {
		assert.Equal(t, schemas.DirectionIncoming, c.Direction)
	}

	edges, err := mem.QueryEdges(ctx, schemas.EdgeFilter{SourceNodeID: result.IDMap["temp-2"]}, schemas.PageRequest{})
	require.NoError(t, err)
	var types []string
	for _, e := range edges.Items {
		types = append(types, e.EdgeType)
	}
	assert.ElementsMatch(t, []string{"PROPOSED", "REJECTED"}, types)
}

func TestCapture_PreviewDoesNotWrite(t *testing.T) {
	mem := store.NewMemoryStore(zaptest.NewLogger(t))
	svc, _ := newTestService(t, mem, nil)

	result, err := svc.Capture(context.Background(), Request{Payload: fullPayload(), Commit: false})
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.False(t, result.Committed)
	assert.Nil(t, result.IDMap)
	assert.Equal(t, "api", result.Nodes[0].Metadata["source"], "source defaults to api")
	assert.Empty(t, allNodes(t, mem))
}

func TestCapture_BelowThreshold(t *testing.T) {
	mem := store.NewMemoryStore(zaptest.NewLogger(t))
	svc, cfg := newTestService(t, mem, nil)
	cfg.CaptureCfg.MinScore = 100

	payload := fullPayload()
	payload.Conditions = nil
	result, err := svc.Capture(context.Background(), Request{Payload: payload, Commit: true})
	require.NoError(t, err)
	assert.Equal(t, 75, result.Completeness.Score)
	assert.False(t, result.Accepted)
	assert.False(t, result.Committed)
	require.Len(t, result.Completeness.Warnings, 1)
	assert.Contains(t, result.Completeness.Warnings[0], "revisit condition")
	assert.Empty(t, allNodes(t, mem))
}

func TestCapture_InvalidPayload(t *testing.T) {
	mem := store.NewMemoryStore(zaptest.NewLogger(t))
	svc, _ := newTestService(t, mem, nil)

	_, err := svc.Capture(context.Background(), Request{
		Payload: schemas.DecisionAPIPayload{Decision: " ", DecidedBy: "x"},
		Commit:  true,
	})
	assert.ErrorIs(t, err, schemas.ErrInvalidPayload)
}

func TestCapture_ScoringPath(t *testing.T) {
	llmResult := schemas.CompletenessResult{Score: 60, Warnings: []string{"vague evidence"}, Method: schemas.MethodLLMEnhanced}

	t.Run("uses the model when enabled and requested", func(t *testing.T) {
		scorer := new(mockScorer)
		scorer.On("ComputeLLMScore", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(llmResult).Once()

		svc, cfg := newTestService(t, store.NewMemoryStore(zap.NewNop()), scorer)
		cfg.SetScoringLLMEnabled(true)

		result, err := svc.Capture(context.Background(), Request{Payload: fullPayload(), UseLLM: true})
		require.NoError(t, err)
		assert.Equal(t, llmResult, result.Completeness)
		assert.True(t, result.Accepted)
		scorer.AssertExpectations(t)
	})

	t.Run("stays rule-based when disabled in config", func(t *testing.T) {
		scorer := new(mockScorer)
		svc, cfg := newTestService(t, store.NewMemoryStore(zap.NewNop()), scorer)
		cfg.SetScoringLLMEnabled(false)

		result, err := svc.Capture(context.Background(), Request{Payload: fullPayload(), UseLLM: true})
		require.NoError(t, err)
		assert.Equal(t, schemas.MethodRuleBased, result.Completeness.Method)
		scorer.AssertNotCalled(t, "ComputeLLMScore", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCapture_RollsBackOnFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	flaky := &flakyStore{MemoryStore: store.NewMemoryStore(zap.NewNop()), failEdgeAt: 3}
	svc := NewService(flaky, nil, config.NewDefaultConfig(), zap.New(core))

	_, err := svc.Capture(context.Background(), Request{Payload: fullPayload(), Commit: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Contains(t, err.Error(), "CONSTRAINED edge")

	assert.Empty(t, allNodes(t, flaky))
	edges, err := flaky.QueryEdges(context.Background(), schemas.EdgeFilter{}, schemas.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, edges.Items)
	assert.Equal(t, 1, logs.FilterMessage("Decision capture rolled back.").Len())
}

func TestCapture_StoreErrorCodesSurvive(t *testing.T) {
	mem := store.NewMemoryStore(zap.NewNop())
	svc, _ := newTestService(t, &selfReferencingStore{MemoryStore: mem}, nil)

	_, err := svc.Capture(context.Background(), Request{Payload: fullPayload(), Commit: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrSelfReference)
	assert.Equal(t, store.CodeSelfReference, store.CodeOf(err))
	assert.Empty(t, allNodes(t, mem))
}

// selfReferencingStore turns every edge into a self-loop.
type selfReferencingStore struct {
	*store.MemoryStore
}

func (s *selfReferencingStore) CreateEdge(ctx context.Context, input schemas.EdgeInput, actingUserID string) (schemas.GraphEdge, error) {
	input.TargetNodeID = input.SourceNodeID
	return s.MemoryStore.CreateEdge(ctx, input, actingUserID)
}
