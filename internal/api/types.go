// File: internal/api/types.go
package api

import (
	"github.com/psd401/contextgraph/api/schemas"
)

// Response is the envelope for every JSON response.
type Response struct {
	Status string `json:"status"` // "success" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	// Code is the machine-readable error kind, e.g. NODE_NOT_FOUND.
	Code string `json:"code,omitempty"`
}

// CommandRequest defines the structure of an incoming agent command.
type CommandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// CaptureDecisionParams are the params of the "capture_decision" command.
// The decision fields sit at the top level next to the capture options.
type CaptureDecisionParams struct {
	schemas.DecisionAPIPayload
	// Commit defaults to capture.commit_by_default when omitted.
	Commit *bool `json:"commit,omitempty"`
	UseLLM bool  `json:"useLlm,omitempty"`
}

// SearchNodesParams are the params of the "search_nodes" command.
type SearchNodesParams struct {
	NodeType  string `json:"nodeType,omitempty"`
	NodeClass string `json:"nodeClass,omitempty"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
}

// NodeConnectionsParams are the params of the "get_node_connections" command.
type NodeConnectionsParams struct {
	NodeID string `json:"nodeId"`
}

// DeleteResult reports whether a delete removed anything.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
