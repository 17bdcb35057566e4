package schemas

// DecisionSource records which surface a decision was captured through.
type DecisionSource string

const (
	SourceAgent DecisionSource = "agent"
	SourceAPI   DecisionSource = "api"
)

// DecisionAPIPayload is the flat decision narrative accepted by the capture
// endpoint and by agent tool calls.
type DecisionAPIPayload struct {
	Decision               string   `json:"decision" validate:"notblank,max=2000"`
	DecidedBy              string   `json:"decidedBy" validate:"notblank,max=500"`
	Reasoning              string   `json:"reasoning,omitempty" validate:"max=10000"`
	Evidence               []string `json:"evidence,omitempty" validate:"max=50,dive,notblank,max=2000"`
	Constraints            []string `json:"constraints,omitempty" validate:"max=50,dive,notblank,max=2000"`
	Conditions             []string `json:"conditions,omitempty" validate:"max=50,dive,notblank,max=2000"`
	AlternativesConsidered []string `json:"alternatives_considered,omitempty" validate:"max=50,dive,notblank,max=2000"`
	AgentID                string   `json:"agentId,omitempty" validate:"max=200"`
}

// TranslatedNode is a node produced by translation, keyed by a temporary id
// that only has meaning within one translated subgraph.
type TranslatedNode struct {
	TempID      string         `json:"tempId"`
	NodeType    string         `json:"nodeType"`
	NodeClass   string         `json:"nodeClass"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// TranslatedEdge wires two translated nodes together by temp id.
type TranslatedEdge struct {
	SourceTempID string         `json:"sourceTempId"`
	TargetTempID string         `json:"targetTempId"`
	EdgeType     string         `json:"edgeType"`
	Metadata     map[string]any `json:"metadata"`
}

// TranslatedGraph is the not-yet-persisted subgraph for one decision.
type TranslatedGraph struct {
	Nodes []TranslatedNode `json:"nodes"`
	Edges []TranslatedEdge `json:"edges"`
}

// ScoringMethod tells callers whether a completeness score is the deterministic
// rule-based result or a best-effort model assessment.
type ScoringMethod string

const (
	MethodRuleBased   ScoringMethod = "rule-based"
	MethodLLMEnhanced ScoringMethod = "llm-enhanced"
)

// CompletenessResult is how well a decision subgraph has been documented.
type CompletenessResult struct {
	Score    int           `json:"score"`
	Warnings []string      `json:"warnings"`
	Method   ScoringMethod `json:"method"`
}
