package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psd401/contextgraph/api/schemas"
	"go.uber.org/zap"
)

// MemoryStore provides a fast, ephemeral, in-memory implementation of the GraphStore interface.
// It's used when no database is configured and in tests. The edge invariants are checked
// under the write lock, which makes them hard constraints here.
type MemoryStore struct {
	nodes map[string]schemas.GraphNode
	edges map[string]schemas.GraphEdge
	// triples indexes edges by source, target and type.
	triples map[edgeTriple]string
	mu      sync.RWMutex
	now     func() time.Time
	log     *zap.Logger
}

type edgeTriple struct {
	source, target, edgeType string
}

var _ schemas.GraphStore = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates a new, empty in-memory graph store.
func NewMemoryStore(logger *zap.Logger, opts ...MemoryOption) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryStore{
		nodes:   make(map[string]schemas.GraphNode),
		edges:   make(map[string]schemas.GraphEdge),
		triples: make(map[edgeTriple]string),
		now:     time.Now,
		log:     logger.Named("memory_store"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

func cloneNode(n schemas.GraphNode) schemas.GraphNode {
	n.Metadata = maps.Clone(n.Metadata)
	return n
}

func cloneEdge(e schemas.GraphEdge) schemas.GraphEdge {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// newestFirst orders by created_at then id, both descending.
func newestFirst(a, b Cursor) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// pageOf sorts, applies the cursor and returns one page.
func pageOf[T any](items []T, key func(T) Cursor, cursor *Cursor, limit int, clone func(T) T) schemas.Page[T] {
	slices.SortFunc(items, func(a, b T) int { return newestFirst(key(a), key(b)) })
	out := make([]T, 0, limit+1)
	for _, item := range items {
		k := key(item)
		if cursor != nil && !cursor.before(k.CreatedAt, k.ID) {
			continue
		}
		out = append(out, clone(item))
		if len(out) > limit {
			break
		}
	}
	return paginate(out, limit, key)
}

// QueryNodes returns one page of nodes, newest first.
func (m *MemoryStore) QueryNodes(ctx context.Context, filter schemas.NodeFilter, page schemas.PageRequest) (schemas.Page[schemas.GraphNode], error) {
	limit := normalizeLimit(page.Limit)
	cursor := decodePageCursor(m.log, page.Cursor)
	search := strings.ToLower(truncateSearch(strings.TrimSpace(filter.Search)))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []schemas.GraphNode
	for _, n := range m.nodes {
		if filter.NodeType != "" && n.NodeType != filter.NodeType {
			continue
		}
		if filter.NodeClass != "" && n.NodeClass != filter.NodeClass {
			continue
		}
		if search != "" && !nodeContains(n, search) {
			continue
		}
		matched = append(matched, n)
	}
	return pageOf(matched, nodeKey, cursor, limit, cloneNode), nil
}

// nodeContains matches the lower-cased term literally against name or description.
func nodeContains(n schemas.GraphNode, term string) bool {
	if strings.Contains(strings.ToLower(n.Name), term) {
		return true
	}
	return n.Description != nil && strings.Contains(strings.ToLower(*n.Description), term)
}

// GetNode retrieves a single node by its ID.
func (m *MemoryStore) GetNode(ctx context.Context, id string) (*schemas.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	n = cloneNode(n)
	return &n, nil
}

// CreateNode inserts a node with a freshly generated id.
func (m *MemoryStore) CreateNode(ctx context.Context, input schemas.NodeInput, actingUserID string) (schemas.GraphNode, error) {
	input, err := validateNodeInput(input)
	if err != nil {
		return schemas.GraphNode{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timestamp()
	node := schemas.GraphNode{
		ID:          uuid.NewString(),
		NodeType:    input.NodeType,
		NodeClass:   input.NodeClass,
		Name:        input.Name,
		Description: input.Description,
		Metadata:    maps.Clone(input.Metadata),
		CreatedBy:   userOrNil(actingUserID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.nodes[node.ID] = node
	m.log.Debug("Node created.", zap.String("id", node.ID), zap.String("node_type", node.NodeType))
	return cloneNode(node), nil
}

// PatchNode updates only the provided fields and always refreshes UpdatedAt.
func (m *MemoryStore) PatchNode(ctx context.Context, id string, patch schemas.NodePatch) (*schemas.GraphNode, error) {
	patch, err := validateNodePatch(patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	if patch.NodeType.Set {
		n.NodeType = *patch.NodeType.Value
	}
	if patch.NodeClass.Set {
		n.NodeClass = *patch.NodeClass.Value
	}
	if patch.Name.Set {
		n.Name = *patch.Name.Value
	}
	if patch.Description.Set {
		n.Description = patch.Description.Value
	}
	if patch.Metadata.Set {
		n.Metadata = maps.Clone(*patch.Metadata.Value)
	}
	n.UpdatedAt = m.timestamp()
	m.nodes[id] = n

	n = cloneNode(n)
	return &n, nil
}

// DeleteNode removes a node and, like the Postgres cascade, every edge touching it.
func (m *MemoryStore) DeleteNode(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return false, nil
	}
	delete(m.nodes, id)
	for edgeID, e := range m.edges {
		if e.SourceNodeID == id || e.TargetNodeID == id {
			m.removeEdge(edgeID, e)
		}
	}
	m.log.Debug("Node deleted.", zap.String("id", id))
	return true, nil
}

func (m *MemoryStore) removeEdge(id string, e schemas.GraphEdge) {
	delete(m.edges, id)
	delete(m.triples, edgeTriple{e.SourceNodeID, e.TargetNodeID, e.EdgeType})
}

// QueryEdges returns one page of edges, newest first.
func (m *MemoryStore) QueryEdges(ctx context.Context, filter schemas.EdgeFilter, page schemas.PageRequest) (schemas.Page[schemas.GraphEdge], error) {
	limit := normalizeLimit(page.Limit)
	cursor := decodePageCursor(m.log, page.Cursor)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []schemas.GraphEdge
	for _, e := range m.edges {
		if filter.EdgeType != "" && e.EdgeType != filter.EdgeType {
			continue
		}
		if filter.SourceNodeID != "" && e.SourceNodeID != filter.SourceNodeID {
			continue
		}
		if filter.TargetNodeID != "" && e.TargetNodeID != filter.TargetNodeID {
			continue
		}
		matched = append(matched, e)
	}
	return pageOf(matched, edgeKey, cursor, limit, cloneEdge), nil
}

// CreateEdge applies the same checks, in the same order, as the Postgres store.
func (m *MemoryStore) CreateEdge(ctx context.Context, input schemas.EdgeInput, actingUserID string) (schemas.GraphEdge, error) {
	input, err := validateEdgeInput(input)
	if err != nil {
		return schemas.GraphEdge{}, err
	}
	if input.SourceNodeID == input.TargetNodeID {
		return schemas.GraphEdge{}, selfReference(input.SourceNodeID, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[input.SourceNodeID]; !ok {
		return schemas.GraphEdge{}, nodeNotFound(input.SourceNodeID)
	}
	if _, ok := m.nodes[input.TargetNodeID]; !ok {
		return schemas.GraphEdge{}, nodeNotFound(input.TargetNodeID)
	}
	triple := edgeTriple{input.SourceNodeID, input.TargetNodeID, input.EdgeType}
	if _, exists := m.triples[triple]; exists {
		return schemas.GraphEdge{}, duplicateEdge(input.SourceNodeID, input.TargetNodeID, input.EdgeType, nil)
	}

	edge := schemas.GraphEdge{
		ID:           uuid.NewString(),
		SourceNodeID: input.SourceNodeID,
		TargetNodeID: input.TargetNodeID,
		EdgeType:     input.EdgeType,
		Metadata:     maps.Clone(input.Metadata),
		CreatedBy:    userOrNil(actingUserID),
		CreatedAt:    m.timestamp(),
	}
	m.edges[edge.ID] = edge
	m.triples[triple] = edge.ID
	m.log.Debug("Edge created.", zap.String("id", edge.ID), zap.String("edge_type", edge.EdgeType))
	return cloneEdge(edge), nil
}

// DeleteEdge removes an edge.
func (m *MemoryStore) DeleteEdge(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.edges[id]
	if !ok {
		return false, nil
	}
	m.removeEdge(id, e)
	return true, nil
}

// GetNodeConnections returns the node's single-hop neighbourhood. Outgoing
// connections are listed before incoming ones.
func (m *MemoryStore) GetNodeConnections(ctx context.Context, nodeID string) ([]schemas.NodeConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var outgoing, incoming []schemas.GraphEdge
	for _, e := range m.edges {
		switch nodeID {
		case e.SourceNodeID:
			outgoing = append(outgoing, cloneEdge(e))
		case e.TargetNodeID:
			incoming = append(incoming, cloneEdge(e))
		}
	}
	byKey := func(a, b schemas.GraphEdge) int { return newestFirst(edgeKey(a), edgeKey(b)) }
	slices.SortFunc(outgoing, byKey)
	slices.SortFunc(incoming, byKey)

	byID := make(map[string]schemas.ConnectedNode)
	for _, id := range connectedIDs(outgoing, incoming) {
		if n, ok := m.nodes[id]; ok {
			byID[id] = schemas.ConnectedNode{ID: n.ID, Name: n.Name, NodeType: n.NodeType, NodeClass: n.NodeClass}
		}
	}
	return buildConnections(outgoing, incoming, byID), nil
}
