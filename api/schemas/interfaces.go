package schemas

import (
	"context"
)

// -- Store Interface --

// GraphStore is the persistence boundary for the context graph. Implementations
// must enforce the edge invariants (no self-reference, unique source/target/type
// triple) as hard constraints, not only as pre-checks.
type GraphStore interface {
	// QueryNodes returns one page of nodes, newest first.
	QueryNodes(ctx context.Context, filter NodeFilter, page PageRequest) (Page[GraphNode], error)
	// GetNode returns nil without an error when the node does not exist.
	GetNode(ctx context.Context, id string) (*GraphNode, error)
	CreateNode(ctx context.Context, input NodeInput, actingUserID string) (GraphNode, error)
	// PatchNode returns nil without an error when the node does not exist.
	PatchNode(ctx context.Context, id string, patch NodePatch) (*GraphNode, error)
	// DeleteNode reports false when the node was already absent.
	DeleteNode(ctx context.Context, id string) (bool, error)

	QueryEdges(ctx context.Context, filter EdgeFilter, page PageRequest) (Page[GraphEdge], error)
	CreateEdge(ctx context.Context, input EdgeInput, actingUserID string) (GraphEdge, error)
	DeleteEdge(ctx context.Context, id string) (bool, error)

	// GetNodeConnections expands a node by one hop in both directions.
	GetNodeConnections(ctx context.Context, nodeID string) ([]NodeConnection, error)
}

// -- LLM Interfaces --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, asks the model for a JSON response.
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}
