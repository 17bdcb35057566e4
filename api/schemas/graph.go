package schemas

import (
	"bytes"
	"encoding/json"
	"time"
)

// -- Canonical Context Graph Data Model --

// GraphNode is a typed entity in the context graph. The store accepts any
// non-empty NodeType; the decision vocabulary only constrains captured decisions.
type GraphNode struct {
	ID          string         `json:"id"`
	NodeType    string         `json:"nodeType"`
	NodeClass   string         `json:"nodeClass"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedBy   *string        `json:"createdBy"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// GraphEdge is a directed, typed relationship between two nodes.
type GraphEdge struct {
	ID           string         `json:"id"`
	SourceNodeID string         `json:"sourceNodeId"`
	TargetNodeID string         `json:"targetNodeId"`
	EdgeType     string         `json:"edgeType"`
	Metadata     map[string]any `json:"metadata"`
	CreatedBy    *string        `json:"createdBy"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NodeInput carries the fields needed to create a node.
type NodeInput struct {
	NodeType    string         `json:"nodeType"`
	NodeClass   string         `json:"nodeClass"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NodePatch is a partial update. Only fields whose Set flag is true are written,
// so an explicit null description clears it while an absent key leaves it alone.
type NodePatch struct {
	NodeType    Optional[string]         `json:"nodeType"`
	NodeClass   Optional[string]         `json:"nodeClass"`
	Name        Optional[string]         `json:"name"`
	Description Optional[string]         `json:"description"`
	Metadata    Optional[map[string]any] `json:"metadata"`
}

// IsEmpty reports whether the patch supplies no fields at all.
func (p NodePatch) IsEmpty() bool {
	return !p.NodeType.Set && !p.NodeClass.Set && !p.Name.Set && !p.Description.Set && !p.Metadata.Set
}

// EdgeInput carries the fields needed to create an edge.
type EdgeInput struct {
	SourceNodeID string         `json:"sourceNodeId"`
	TargetNodeID string         `json:"targetNodeId"`
	EdgeType     string         `json:"edgeType"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Optional distinguishes "not provided" from "provided as null".
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a provided, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a provided Optional whose value is null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// UnmarshalJSON is only invoked when the key is present in the document, which
// is what marks the field as provided.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// MarshalJSON renders the value or null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// -- Query Schemas --

// NodeFilter narrows a node listing. Empty fields are ignored.
type NodeFilter struct {
	NodeType  string `json:"nodeType,omitempty"`
	NodeClass string `json:"nodeClass,omitempty"`
	// Search is a case-insensitive substring matched against name or description.
	Search string `json:"search,omitempty"`
}

// EdgeFilter narrows an edge listing. Set fields combine with AND.
type EdgeFilter struct {
	EdgeType     string `json:"edgeType,omitempty"`
	SourceNodeID string `json:"sourceNodeId,omitempty"`
	TargetNodeID string `json:"targetNodeId,omitempty"`
}

// PageRequest asks for one page of a keyset-paginated listing.
type PageRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// Page is one page of results. NextCursor is nil at the end of the listing.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
}

// Direction is an edge's orientation relative to the node being expanded.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// ConnectedNode is the lightweight summary of the far endpoint of an edge.
type ConnectedNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NodeType  string `json:"nodeType"`
	NodeClass string `json:"nodeClass"`
}

// NodeConnection is a single-hop neighbour of a node.
type NodeConnection struct {
	Edge          GraphEdge     `json:"edge"`
	ConnectedNode ConnectedNode `json:"connectedNode"`
	Direction     Direction     `json:"direction"`
}
