// internal/decision/framework.go
package decision

// NodeType is one of the node types in the decision vocabulary.
type NodeType string

const (
	NodeDecision   NodeType = "decision"
	NodeEvidence   NodeType = "evidence"
	NodeConstraint NodeType = "constraint"
	NodeReasoning  NodeType = "reasoning"
	NodePerson     NodeType = "person"
	NodeCondition  NodeType = "condition"
	NodeRequest    NodeType = "request"
	NodePolicy     NodeType = "policy"
	NodeOutcome    NodeType = "outcome"
)

// EdgeType is one of the relationship types in the decision vocabulary.
type EdgeType string

const (
	EdgeInformed        EdgeType = "INFORMED"
	EdgeLedTo           EdgeType = "LED_TO"
	EdgeResultedIn      EdgeType = "RESULTED_IN"
	EdgeDecidedBy       EdgeType = "DECIDED_BY"
	EdgeProposed        EdgeType = "PROPOSED"
	EdgeApprovedBy      EdgeType = "APPROVED_BY"
	EdgeRejected        EdgeType = "REJECTED"
	EdgeRequestedBy     EdgeType = "REQUESTED_BY"
	EdgeConstrained     EdgeType = "CONSTRAINED"
	EdgeGovernedBy      EdgeType = "GOVERNED_BY"
	EdgeCondition       EdgeType = "CONDITION"
	EdgeSupersedes      EdgeType = "SUPERSEDES"
	EdgePartOf          EdgeType = "PART_OF"
	EdgeComparedAgainst EdgeType = "COMPARED_AGAINST"
	EdgeDependsOn       EdgeType = "DEPENDS_ON"
	EdgeContradicts     EdgeType = "CONTRADICTS"
	EdgeSupports        EdgeType = "SUPPORTS"
	EdgeRespondsTo      EdgeType = "RESPONDS_TO"
)

// Term pairs a vocabulary entry with its human-readable description.
type Term[T ~string] struct {
	Type        T
	Description string
}

// NodeTypes lists the node vocabulary in display order.
var NodeTypes = []Term[NodeType]{
	{NodeDecision, "A choice that was made, or an alternative that was considered and rejected"},
	{NodeEvidence, "Data, findings, or observations that informed a decision"},
	{NodeConstraint, "A limit the decision had to respect, such as budget, law, or policy"},
	{NodeReasoning, "The rationale explaining why the decision was made"},
	{NodePerson, "Someone who proposed, approved, requested, or rejected something"},
	{NodeCondition, "A trigger that would cause the decision to be revisited"},
	{NodeRequest, "An ask or proposal that prompted a decision"},
	{NodePolicy, "A standing rule or policy that governs decisions"},
	{NodeOutcome, "An observed result of a decision after it took effect"},
}

// EdgeTypes lists the relationship vocabulary in display order.
var EdgeTypes = []Term[EdgeType]{
	{EdgeInformed, "Evidence or a constraint informed the target decision"},
	{EdgeLedTo, "The source led to the target"},
	{EdgeResultedIn, "A decision resulted in the target outcome"},
	{EdgeDecidedBy, "The decision was made by the target person"},
	{EdgeProposed, "A person proposed the target decision"},
	{EdgeApprovedBy, "The decision was approved by the target person"},
	{EdgeRejected, "A person rejected the target alternative"},
	{EdgeRequestedBy, "The request was made by the target person"},
	{EdgeConstrained, "A constraint limited the target decision"},
	{EdgeGovernedBy, "The decision is governed by the target policy"},
	{EdgeCondition, "A condition under which the target decision should be revisited"},
	{EdgeSupersedes, "The source decision replaces the target decision"},
	{EdgePartOf, "The source is part of the target"},
	{EdgeComparedAgainst, "An alternative was compared against the target decision"},
	{EdgeDependsOn, "The source depends on the target"},
	{EdgeContradicts, "The source contradicts the target"},
	{EdgeSupports, "The source supports the target"},
	{EdgeRespondsTo, "The source responds to the target request"},
}

var (
	nodeTypeSet = termSet(NodeTypes)
	edgeTypeSet = termSet(EdgeTypes)
)

func termSet[T ~string](terms []Term[T]) map[string]string {
	set := make(map[string]string, len(terms))
	for _, t := range terms {
		set[string(t.Type)] = t.Description
	}
	return set
}

// IsDecisionNodeType reports whether s names a node type in the vocabulary.
func IsDecisionNodeType(s string) bool {
	_, ok := nodeTypeSet[s]
	return ok
}

// IsDecisionEdgeType reports whether s names an edge type in the vocabulary.
func IsDecisionEdgeType(s string) bool {
	_, ok := edgeTypeSet[s]
	return ok
}

// NodeRef is the minimal node shape needed for structural checks.
type NodeRef struct {
	ID       string
	NodeType string
}

// EdgeRef is the minimal edge shape needed for structural checks.
type EdgeRef struct {
	SourceID string
	TargetID string
	EdgeType string
}

// Completeness is the outcome of ValidateDecisionCompleteness.
type Completeness struct {
	Complete bool
	Missing  []string
}

// Messages appended to Completeness.Missing, in check order.
const (
	MissingDecision  = "No decision node: record what was decided."
	MissingPerson    = "No person linked as proposer or approver: record who made or approved the decision."
	MissingSupport   = "No supporting evidence or constraint: record what informed the decision."
	MissingCondition = "No revisit condition: record what would cause this decision to be reconsidered."
)

// ValidateDecisionCompleteness runs the four structural checks against a
// candidate subgraph. Missing holds one message per failed check, in order,
// and is never nil.
func ValidateDecisionCompleteness(nodes []NodeRef, edges []EdgeRef) Completeness {
	types := make(map[string]string, len(nodes))
	hasDecision := false
	for _, n := range nodes {
		types[n.ID] = n.NodeType
		if n.NodeType == string(NodeDecision) {
			hasDecision = true
		}
	}
	is := func(id string, want ...NodeType) bool {
		t, ok := types[id]
		if !ok {
			return false
		}
		for _, w := range want {
			if t == string(w) {
				return true
			}
		}
		return false
	}

	var hasPerson, hasSupport, hasCondition bool
	for _, e := range edges {
		switch EdgeType(e.EdgeType) {
		case EdgeProposed:
			hasPerson = hasPerson || is(e.SourceID, NodePerson)
		case EdgeApprovedBy:
			hasPerson = hasPerson || is(e.TargetID, NodePerson)
		case EdgeInformed:
			hasSupport = hasSupport || is(e.SourceID, NodeEvidence, NodeConstraint)
		case EdgeConstrained:
			hasSupport = hasSupport || is(e.SourceID, NodeConstraint)
		case EdgeCondition:
			hasCondition = hasCondition || is(e.SourceID, NodeCondition)
		}
	}

	missing := []string{}
	if !hasDecision {
		missing = append(missing, MissingDecision)
	}
	if !hasPerson {
		missing = append(missing, MissingPerson)
	}
	if !hasSupport {
		missing = append(missing, MissingSupport)
	}
	if !hasCondition {
		missing = append(missing, MissingCondition)
	}
	return Completeness{Complete: len(missing) == 0, Missing: missing}
}
