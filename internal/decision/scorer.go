// internal/decision/scorer.go
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/llmutil"
)

// pointsPerCheck is the score contributed by each passing structural check.
const pointsPerCheck = 25

// ComputeRuleBasedScore scores a translated subgraph by the four structural
// checks: 25 points for each one that passes.
func ComputeRuleBasedScore(nodes []schemas.TranslatedNode, edges []schemas.TranslatedEdge) schemas.CompletenessResult {
	refs := make([]NodeRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, NodeRef{ID: n.TempID, NodeType: n.NodeType})
	}
	edgeRefs := make([]EdgeRef, 0, len(edges))
	for _, e := range edges {
		edgeRefs = append(edgeRefs, EdgeRef{SourceID: e.SourceTempID, TargetID: e.TargetTempID, EdgeType: e.EdgeType})
	}

	result := ValidateDecisionCompleteness(refs, edgeRefs)
	return schemas.CompletenessResult{
		Score:    (4 - len(result.Missing)) * pointsPerCheck,
		Warnings: result.Missing,
		Method:   schemas.MethodRuleBased,
	}
}

// ModelResolver hands out the configured language model client. It returns
// an error when no model is available; the scorer treats that as a reason to
// keep the rule-based result.
type ModelResolver interface {
	Resolve(ctx context.Context) (schemas.LLMClient, error)
}

// Scorer layers a best-effort model assessment over the rule-based score.
type Scorer struct {
	resolver ModelResolver
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewScorer builds a Scorer. The timeout is capped at config.MaxScoringTimeout
// and a non-positive rate disables throttling.
func NewScorer(resolver ModelResolver, cfg config.ScoringConfig, logger *zap.Logger) *Scorer {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > config.MaxScoringTimeout {
		timeout = config.MaxScoringTimeout
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}

	return &Scorer{
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  timeout,
		logger:   logger.Named("scorer"),
	}
}

// ComputeLLMScore returns a model-assessed score when one can be obtained in
// time, and the rule-based score otherwise. It never fails.
func (s *Scorer) ComputeLLMScore(ctx context.Context, payload schemas.DecisionAPIPayload, nodes []schemas.TranslatedNode, edges []schemas.TranslatedEdge) schemas.CompletenessResult {
	baseline := ComputeRuleBasedScore(nodes, edges)

	enhanced, err := s.Enhance(ctx, payload, nodes, edges, baseline)
	if err != nil {
		s.logger.Warn("LLM completeness scoring failed, using rule-based score.",
			zap.Error(err),
			zap.Int("baseline_score", baseline.Score),
		)
		return baseline
	}
	return enhanced
}

// Enhance asks the model to assess the subgraph, bounded by the scorer's
// timeout. Any failure is returned to the caller.
func (s *Scorer) Enhance(ctx context.Context, payload schemas.DecisionAPIPayload, nodes []schemas.TranslatedNode, edges []schemas.TranslatedEdge, baseline schemas.CompletenessResult) (schemas.CompletenessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.resolver.Resolve(ctx)
	if err != nil {
		return schemas.CompletenessResult{}, fmt.Errorf("resolve model: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return schemas.CompletenessResult{}, fmt.Errorf("wait for scoring rate limit: %w", err)
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildScoringPrompt(payload, nodes, edges, baseline),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.1,
		},
	}

	response, err := generateWithDeadline(ctx, client, req)
	if err != nil {
		return schemas.CompletenessResult{}, err
	}

	result, err := parseAssessment(response)
	if err != nil {
		s.logger.Debug("Unusable model assessment.", zap.String("raw_response", response))
		return schemas.CompletenessResult{}, err
	}
	s.logger.Debug("LLM completeness assessment accepted.", zap.Int("score", result.Score), zap.Int("baseline_score", baseline.Score))
	return result, nil
}

type generation struct {
	text string
	err  error
}

// generateWithDeadline returns as soon as ctx is done, even when the client
// does not honour cancellation itself.
func generateWithDeadline(ctx context.Context, client schemas.LLMClient, req schemas.GenerationRequest) (string, error) {
	done := make(chan generation, 1)
	go func() {
		text, err := client.Generate(ctx, req)
		done <- generation{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("model invocation aborted: %w", ctx.Err())
	case g := <-done:
		if g.err != nil {
			return "", fmt.Errorf("model invocation failed: %w", g.err)
		}
		return g.text, nil
	}
}

// ErrMissingScore is returned when the model response has no numeric score.
var ErrMissingScore = errors.New("model response has no numeric score")

type assessment struct {
	Score    *float64 `json:"score"`
	Warnings []any    `json:"warnings"`
}

func parseAssessment(response string) (schemas.CompletenessResult, error) {
	parsed, err := llmutil.ParseJSONObject[assessment](response)
	if err != nil {
		return schemas.CompletenessResult{}, err
	}
	if parsed.Score == nil || math.IsNaN(*parsed.Score) {
		return schemas.CompletenessResult{}, ErrMissingScore
	}

	score := math.Round(math.Max(0, math.Min(100, *parsed.Score)))
	warnings := make([]string, 0, len(parsed.Warnings))
	for _, w := range parsed.Warnings {
		if s, ok := w.(string); ok {
			warnings = append(warnings, s)
		}
	}
	return schemas.CompletenessResult{
		Score:    int(score),
		Warnings: warnings,
		Method:   schemas.MethodLLMEnhanced,
	}, nil
}

const systemPrompt = `You review decision records captured in an organisational context graph. ` +
	`Judge how completely each record documents who decided, what was decided, what informed it, ` +
	`and what would cause it to be revisited. Respond only with the requested JSON object.`

func buildScoringPrompt(payload schemas.DecisionAPIPayload, nodes []schemas.TranslatedNode, edges []schemas.TranslatedEdge, baseline schemas.CompletenessResult) string {
	var b strings.Builder

	b.WriteString("**Node types:**\n")
	for _, t := range NodeTypes {
		fmt.Fprintf(&b, "- %s: %s\n", t.Type, t.Description)
	}
	b.WriteString("\n**Edge types:**\n")
	for _, t := range EdgeTypes {
		fmt.Fprintf(&b, "- %s: %s\n", t.Type, t.Description)
	}

	b.WriteString("\n**Candidate nodes:**\n")
	for _, n := range nodes {
		label := n.NodeType
		if IsRejectedAlternative(n) {
			label += " (rejected alternative)"
		}
		fmt.Fprintf(&b, "- [%s] %s: %q\n", n.TempID, label, n.Name)
	}
	b.WriteString("\n**Candidate edges:**\n")
	for _, e := range edges {
		fmt.Fprintf(&b, "- [%s] -%s-> [%s]\n", e.SourceTempID, e.EdgeType, e.TargetTempID)
	}

	if raw, err := json.Marshal(payload); err == nil {
		fmt.Fprintf(&b, "\n**Submitted payload:**\n%s\n", raw)
	}

	fmt.Fprintf(&b, "\n**Rule-based baseline:** score %d/100", baseline.Score)
	if len(baseline.Warnings) > 0 {
		b.WriteString(", gaps:\n")
		for _, w := range baseline.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	} else {
		b.WriteString(", no structural gaps.\n")
	}

	b.WriteString(`
**Objective:**
Score the completeness of this decision record from 0 to 100. Consider whether the
evidence is specific, the reasoning is stated, the constraints are concrete, and
the revisit conditions are measurable. List short, actionable warnings for each gap.

**Response Format (Strict JSON):**
{"score": 80, "warnings": ["..."]}
`)
	return b.String()
}
