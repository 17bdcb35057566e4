// internal/decision/translator.go
package decision

import (
	"strconv"
	"strings"

	"github.com/psd401/contextgraph/api/schemas"
)

// NodeClass is the class given to every node produced by translation.
const NodeClass = "decision"

// maxNameRunes bounds node names; longer text moves into the description.
const maxNameRunes = 200

// translation accumulates one subgraph. Temp ids are scoped to it.
type translation struct {
	source  schemas.DecisionSource
	agentID string
	next    int
	graph   schemas.TranslatedGraph
}

func (t *translation) node(nodeType NodeType, text string, extra map[string]any) string {
	t.next++
	id := "temp-" + strconv.Itoa(t.next)

	metadata := map[string]any{"source": string(t.source)}
	if t.agentID != "" {
		metadata["agentId"] = t.agentID
	}
	for k, v := range extra {
		metadata[k] = v
	}

	name, description := splitText(text)
	t.graph.Nodes = append(t.graph.Nodes, schemas.TranslatedNode{
		TempID:      id,
		NodeType:    string(nodeType),
		NodeClass:   NodeClass,
		Name:        name,
		Description: description,
		Metadata:    metadata,
	})
	return id
}

func (t *translation) edge(sourceID, targetID string, edgeType EdgeType) {
	t.graph.Edges = append(t.graph.Edges, schemas.TranslatedEdge{
		SourceTempID: sourceID,
		TargetTempID: targetID,
		EdgeType:     string(edgeType),
		Metadata:     map[string]any{},
	})
}

// TranslatePayloadToGraph maps a decision narrative onto decision-vocabulary
// nodes and edges. It is pure: the same payload and source always give the
// same subgraph, with temp ids numbered from temp-1 in emission order.
//
// Blank list entries and a blank reasoning are skipped.
func TranslatePayloadToGraph(payload schemas.DecisionAPIPayload, source schemas.DecisionSource) schemas.TranslatedGraph {
	t := &translation{
		source:  source,
		agentID: strings.TrimSpace(payload.AgentID),
		graph: schemas.TranslatedGraph{
			Nodes: []schemas.TranslatedNode{},
			Edges: []schemas.TranslatedEdge{},
		},
	}

	decisionID := t.node(NodeDecision, payload.Decision, nil)

	personID := t.node(NodePerson, payload.DecidedBy, nil)
	t.edge(personID, decisionID, EdgeProposed)

	for _, text := range nonBlank(payload.Evidence) {
		id := t.node(NodeEvidence, text, nil)
		t.edge(id, decisionID, EdgeInformed)
	}

	for _, text := range nonBlank(payload.Constraints) {
		id := t.node(NodeConstraint, text, nil)
		t.edge(id, decisionID, EdgeConstrained)
	}

	if reasoning := strings.TrimSpace(payload.Reasoning); reasoning != "" {
		id := t.node(NodeReasoning, reasoning, nil)
		t.edge(id, decisionID, EdgePartOf)
	}

	for _, text := range nonBlank(payload.Conditions) {
		id := t.node(NodeCondition, text, nil)
		t.edge(id, decisionID, EdgeCondition)
	}

	for _, text := range nonBlank(payload.AlternativesConsidered) {
		id := t.node(NodeDecision, text, map[string]any{"rejected": true})
		t.edge(personID, id, EdgeRejected)
		t.edge(id, decisionID, EdgeComparedAgainst)
	}

	return t.graph
}

// IsRejectedAlternative reports whether a translated node is a considered but
// rejected alternative rather than the adopted decision.
func IsRejectedAlternative(n schemas.TranslatedNode) bool {
	rejected, _ := n.Metadata["rejected"].(bool)
	return n.NodeType == string(NodeDecision) && rejected
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitText keeps short text as the name. Long text gets a truncated name and
// the full text as the description.
func splitText(text string) (string, *string) {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxNameRunes {
		return text, nil
	}
	name := strings.TrimSpace(string(runes[:maxNameRunes-3])) + "..."
	return name, &text
}
