// internal/capture/service.go
package capture

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/decision"
)

// LLMScorer produces a completeness score with optional model assistance.
// It must always return a usable result.
type LLMScorer interface {
	ComputeLLMScore(ctx context.Context, payload schemas.DecisionAPIPayload, nodes []schemas.TranslatedNode, edges []schemas.TranslatedEdge) schemas.CompletenessResult
}

// Request is one decision capture.
type Request struct {
	Payload      schemas.DecisionAPIPayload
	Source       schemas.DecisionSource
	ActingUserID string
	// Commit persists the subgraph when the score is accepted. When false the
	// capture is a preview.
	Commit bool
	// UseLLM asks for model-assisted scoring. It is ignored unless scoring.llm_enabled is set.
	UseLLM bool
}

// Result reports what a capture produced and whether it was stored.
type Result struct {
	Completeness schemas.CompletenessResult `json:"completeness"`
	Accepted     bool                       `json:"accepted"`
	Committed    bool                       `json:"committed"`
	Nodes        []schemas.TranslatedNode   `json:"nodes"`
	Edges        []schemas.TranslatedEdge   `json:"edges"`
	// IDMap maps temp ids to the ids allocated on commit.
	IDMap map[string]string `json:"idMap,omitempty"`
}

// Service turns decision narratives into persisted decision subgraphs.
type Service struct {
	store  schemas.GraphStore
	scorer LLMScorer
	cfg    config.Interface
	logger *zap.Logger
}

// NewService wires a capture Service. scorer may be nil, in which case only
// rule-based scoring is used.
func NewService(store schemas.GraphStore, scorer LLMScorer, cfg config.Interface, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		scorer: scorer,
		cfg:    cfg,
		logger: logger.Named("capture"),
	}
}

// Capture validates, translates and scores a payload, then commits the
// subgraph if requested and accepted. A failed commit removes whatever it had
// already created before returning the error.
func (s *Service) Capture(ctx context.Context, req Request) (*Result, error) {
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = schemas.SourceAPI
	}

	graph := decision.TranslatePayloadToGraph(req.Payload, req.Source)
	completeness := s.score(ctx, req, graph)

	result := &Result{
		Completeness: completeness,
		Accepted:     completeness.Score >= s.cfg.Capture().MinScore,
		Nodes:        graph.Nodes,
		Edges:        graph.Edges,
	}

	if !req.Commit {
		return result, nil
	}
	if !result.Accepted {
		s.logger.Info("Decision capture below acceptance threshold, not committing.",
			zap.Int("score", completeness.Score),
			zap.Int("min_score", s.cfg.Capture().MinScore),
			zap.String("source", string(req.Source)),
		)
		return result, nil
	}

	idMap, err := s.commit(ctx, graph, req.ActingUserID)
	if err != nil {
		return nil, err
	}
	result.Committed = true
	result.IDMap = idMap

	s.logger.Info("Decision captured.",
		zap.String("decision_id", idMap[graph.Nodes[0].TempID]),
		zap.Int("nodes", len(graph.Nodes)),
		zap.Int("edges", len(graph.Edges)),
		zap.Int("score", completeness.Score),
		zap.String("method", string(completeness.Method)),
	)
	return result, nil
}

func (s *Service) score(ctx context.Context, req Request, graph schemas.TranslatedGraph) schemas.CompletenessResult {
	if req.UseLLM && s.scorer != nil && s.cfg.Scoring().LLMEnabled {
		return s.scorer.ComputeLLMScore(ctx, req.Payload, graph.Nodes, graph.Edges)
	}
	return decision.ComputeRuleBasedScore(graph.Nodes, graph.Edges)
}

func (s *Service) commit(ctx context.Context, graph schemas.TranslatedGraph, actingUserID string) (map[string]string, error) {
	idMap := make(map[string]string, len(graph.Nodes))
	created := make([]string, 0, len(graph.Nodes))

	fail := func(err error) (map[string]string, error) {
		s.rollback(ctx, created)
		return nil, err
	}

	for _, n := range graph.Nodes {
		node, err := s.store.CreateNode(ctx, schemas.NodeInput{
			NodeType:    n.NodeType,
			NodeClass:   n.NodeClass,
			Name:        n.Name,
			Description: n.Description,
			Metadata:    n.Metadata,
		}, actingUserID)
		if err != nil {
			return fail(fmt.Errorf("failed to create %s node %s: %w", n.NodeType, n.TempID, err))
		}
		idMap[n.TempID] = node.ID
		created = append(created, node.ID)
	}

	for _, e := range graph.Edges {
		source, okSource := idMap[e.SourceTempID]
		target, okTarget := idMap[e.TargetTempID]
		if !okSource || !okTarget {
			return fail(fmt.Errorf("edge %s references an unknown temp id (%s -> %s)", e.EdgeType, e.SourceTempID, e.TargetTempID))
		}
		if _, err := s.store.CreateEdge(ctx, schemas.EdgeInput{
			SourceNodeID: source,
			TargetNodeID: target,
			EdgeType:     e.EdgeType,
			Metadata:     e.Metadata,
		}, actingUserID); err != nil {
			return fail(fmt.Errorf("failed to create %s edge %s -> %s: %w", e.EdgeType, e.SourceTempID, e.TargetTempID, err))
		}
	}
	return idMap, nil
}

// rollback deletes created nodes; their edges go with them. It runs even if
// ctx has been cancelled.
func (s *Service) rollback(ctx context.Context, nodeIDs []string) {
	if len(nodeIDs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(nodeIDs) - 1; i >= 0; i-- {
		if _, err := s.store.DeleteNode(ctx, nodeIDs[i]); err != nil {
			s.logger.Error("Failed to remove node during capture rollback. Manual cleanup may be needed.",
				zap.String("node_id", nodeIDs[i]), zap.Error(err))
		}
	}
	s.logger.Warn("Decision capture rolled back.", zap.Int("nodes_removed", len(nodeIDs)))
}
