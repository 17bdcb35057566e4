package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/psd401/contextgraph/api/schemas"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	nodeColumns = `id, node_type, node_class, name, description, metadata, created_by, created_at, updated_at`
	edgeColumns = `id, source_node_id, target_node_id, edge_type, metadata, created_by, created_at`

	sqlGetNode       = `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE id = $1`
	sqlNodeExists    = `SELECT EXISTS (SELECT 1 FROM graph_nodes WHERE id = $1)`
	sqlDeleteNode    = `DELETE FROM graph_nodes WHERE id = $1`
	sqlEdgeExists    = `SELECT EXISTS (SELECT 1 FROM graph_edges WHERE id = $1)`
	sqlDeleteEdge    = `DELETE FROM graph_edges WHERE id = $1`
	sqlLookupNodeIDs = `SELECT id FROM graph_nodes WHERE id = ANY($1)`
	sqlNodeSummaries = `SELECT id, name, node_type, node_class FROM graph_nodes WHERE id = ANY($1)`
	sqlTripleExists  = `
        SELECT EXISTS (
            SELECT 1 FROM graph_edges
            WHERE source_node_id = $1 AND target_node_id = $2 AND edge_type = $3
        )`
	sqlInsertNode = `
        INSERT INTO graph_nodes (id, node_type, node_class, name, description, metadata, created_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	sqlInsertEdge = `
        INSERT INTO graph_edges (id, source_node_id, target_node_id, edge_type, metadata, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	sqlOutgoingEdges = `SELECT ` + edgeColumns + ` FROM graph_edges WHERE source_node_id = $1 ORDER BY created_at DESC, id DESC`
	sqlIncomingEdges = `SELECT ` + edgeColumns + ` FROM graph_edges WHERE target_node_id = $1 ORDER BY created_at DESC, id DESC`
)

// PostgresStore is the PostgreSQL implementation of schemas.GraphStore.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.GraphStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new store instance and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (schemas.GraphNode, error) {
	var n schemas.GraphNode
	var metadata []byte
	if err := row.Scan(&n.ID, &n.NodeType, &n.NodeClass, &n.Name, &n.Description, &metadata, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return n, err
	}
	n.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return n, fmt.Errorf("failed to unmarshal node metadata: %w", err)
		}
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

func scanEdge(row rowScanner) (schemas.GraphEdge, error) {
	var e schemas.GraphEdge
	var metadata []byte
	if err := row.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &e.EdgeType, &metadata, &e.CreatedBy, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to unmarshal edge metadata: %w", err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func collectRows[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// whereBuilder accumulates AND-ed conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

// add appends a condition; each %d in cond is replaced by the new arg's position.
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	pos := len(w.args)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "%d", fmt.Sprint(pos)))
}

func (w *whereBuilder) cursor(c *Cursor) {
	if c == nil {
		return
	}
	w.args = append(w.args, c.CreatedAt, c.ID)
	n := len(w.args)
	w.conds = append(w.conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", n-1, n))
}

func (w *whereBuilder) build(base string, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(base)
	if len(w.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(w.conds, " AND "))
	}
	args := append(w.args, limit+1)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	return sb.String(), args
}

// QueryNodes returns one page of nodes, newest first.
func (s *PostgresStore) QueryNodes(ctx context.Context, filter schemas.NodeFilter, page schemas.PageRequest) (schemas.Page[schemas.GraphNode], error) {
	limit := normalizeLimit(page.Limit)
	var w whereBuilder
	if filter.NodeType != "" {
		w.add("node_type = $%d", filter.NodeType)
	}
	if filter.NodeClass != "" {
		w.add("node_class = $%d", filter.NodeClass)
	}
	if search := truncateSearch(strings.TrimSpace(filter.Search)); search != "" {
		w.add(`(name ILIKE $%d ESCAPE '\' OR description ILIKE $%d ESCAPE '\')`, "%"+escapeLikePattern(search)+"%")
	}
	w.cursor(decodePageCursor(s.log, page.Cursor))

	query, args := w.build("SELECT "+nodeColumns+" FROM graph_nodes", limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return schemas.Page[schemas.GraphNode]{}, fmt.Errorf("failed to query nodes: %w", err)
	}
	nodes, err := collectRows(rows, scanNode)
	if err != nil {
		return schemas.Page[schemas.GraphNode]{}, err
	}
	return paginate(nodes, limit, nodeKey), nil
}

// GetNode retrieves a single node by its ID.
func (s *PostgresStore) GetNode(ctx context.Context, id string) (*schemas.GraphNode, error) {
	n, err := scanNode(s.pool.QueryRow(ctx, sqlGetNode, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return &n, nil
}

// CreateNode inserts a node with a freshly generated id.
func (s *PostgresStore) CreateNode(ctx context.Context, input schemas.NodeInput, actingUserID string) (schemas.GraphNode, error) {
	input, err := validateNodeInput(input)
	if err != nil {
		return schemas.GraphNode{}, err
	}
	metadata, err := json.Marshal(input.Metadata)
	if err != nil {
		return schemas.GraphNode{}, fmt.Errorf("failed to marshal node metadata: %w", err)
	}

	// Postgres keeps microseconds; truncate so the returned value matches a later read.
	now := time.Now().UTC().Truncate(time.Microsecond)
	node := schemas.GraphNode{
		ID:          uuid.NewString(),
		NodeType:    input.NodeType,
		NodeClass:   input.NodeClass,
		Name:        input.Name,
		Description: input.Description,
		Metadata:    input.Metadata,
		CreatedBy:   userOrNil(actingUserID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.pool.Exec(ctx, sqlInsertNode,
		node.ID, node.NodeType, node.NodeClass, node.Name, node.Description,
		json.RawMessage(metadata), node.CreatedBy, node.CreatedAt, node.UpdatedAt,
	); err != nil {
		return schemas.GraphNode{}, fmt.Errorf("failed to insert node: %w", err)
	}

	s.log.Debug("Node created.", zap.String("id", node.ID), zap.String("node_type", node.NodeType))
	return node, nil
}

// PatchNode updates only the provided fields and always refreshes updated_at.
func (s *PostgresStore) PatchNode(ctx context.Context, id string, patch schemas.NodePatch) (*schemas.GraphNode, error) {
	patch, err := validateNodePatch(patch)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.NodeType.Set {
		set("node_type", *patch.NodeType.Value)
	}
	if patch.NodeClass.Set {
		set("node_class", *patch.NodeClass.Value)
	}
	if patch.Name.Set {
		set("name", *patch.Name.Value)
	}
	if patch.Description.Set {
		set("description", patch.Description.Value)
	}
	if patch.Metadata.Set {
		metadata, err := json.Marshal(*patch.Metadata.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal node metadata: %w", err)
		}
		set("metadata", json.RawMessage(metadata))
	}
	set("updated_at", time.Now().UTC().Truncate(time.Microsecond))

	args = append(args, id)
	query := fmt.Sprintf("UPDATE graph_nodes SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), nodeColumns)

	n, err := scanNode(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to patch node %s: %w", id, err)
	}
	return &n, nil
}

// DeleteNode removes a node. Its edges are removed by the foreign key cascade.
func (s *PostgresStore) DeleteNode(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "node", sqlNodeExists, sqlDeleteNode, id)
}

// DeleteEdge removes an edge.
func (s *PostgresStore) DeleteEdge(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "edge", sqlEdgeExists, sqlDeleteEdge, id)
}

func (s *PostgresStore) deleteByID(ctx context.Context, kind, existsSQL, deleteSQL, id string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, existsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", kind, id, err)
	}
	if !exists {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, deleteSQL, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	s.log.Debug("Deleted.", zap.String("kind", kind), zap.String("id", id))
	return tag.RowsAffected() > 0, nil
}

// QueryEdges returns one page of edges, newest first.
func (s *PostgresStore) QueryEdges(ctx context.Context, filter schemas.EdgeFilter, page schemas.PageRequest) (schemas.Page[schemas.GraphEdge], error) {
	limit := normalizeLimit(page.Limit)
	var w whereBuilder
	if filter.EdgeType != "" {
		w.add("edge_type = $%d", filter.EdgeType)
	}
	if filter.SourceNodeID != "" {
		w.add("source_node_id = $%d", filter.SourceNodeID)
	}
	if filter.TargetNodeID != "" {
		w.add("target_node_id = $%d", filter.TargetNodeID)
	}
	w.cursor(decodePageCursor(s.log, page.Cursor))

	query, args := w.build("SELECT "+edgeColumns+" FROM graph_edges", limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return schemas.Page[schemas.GraphEdge]{}, fmt.Errorf("failed to query edges: %w", err)
	}
	edges, err := collectRows(rows, scanEdge)
	if err != nil {
		return schemas.Page[schemas.GraphEdge]{}, err
	}
	return paginate(edges, limit, edgeKey), nil
}

// CreateEdge validates the edge cheapest check first, then inserts it. The
// table constraints back up the pre-checks when concurrent writers race.
func (s *PostgresStore) CreateEdge(ctx context.Context, input schemas.EdgeInput, actingUserID string) (schemas.GraphEdge, error) {
	input, err := validateEdgeInput(input)
	if err != nil {
		return schemas.GraphEdge{}, err
	}

	// 1. Self reference
	if input.SourceNodeID == input.TargetNodeID {
		return schemas.GraphEdge{}, selfReference(input.SourceNodeID, nil)
	}

	// 2. Both endpoints in one lookup
	rows, err := s.pool.Query(ctx, sqlLookupNodeIDs, []string{input.SourceNodeID, input.TargetNodeID})
	if err != nil {
		return schemas.GraphEdge{}, fmt.Errorf("failed to look up edge endpoints: %w", err)
	}
	found, err := collectRows(rows, func(r rowScanner) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
	if err != nil {
		return schemas.GraphEdge{}, err
	}
	if missing := firstMissing(found, input.SourceNodeID, input.TargetNodeID); missing != "" {
		return schemas.GraphEdge{}, nodeNotFound(missing)
	}

	// 3. Duplicate triple
	var duplicate bool
	if err := s.pool.QueryRow(ctx, sqlTripleExists, input.SourceNodeID, input.TargetNodeID, input.EdgeType).Scan(&duplicate); err != nil {
		return schemas.GraphEdge{}, fmt.Errorf("failed to check for duplicate edge: %w", err)
	}
	if duplicate {
		return schemas.GraphEdge{}, duplicateEdge(input.SourceNodeID, input.TargetNodeID, input.EdgeType, nil)
	}

	// 4. Insert
	metadata, err := json.Marshal(input.Metadata)
	if err != nil {
		return schemas.GraphEdge{}, fmt.Errorf("failed to marshal edge metadata: %w", err)
	}
	edge := schemas.GraphEdge{
		ID:           uuid.NewString(),
		SourceNodeID: input.SourceNodeID,
		TargetNodeID: input.TargetNodeID,
		EdgeType:     input.EdgeType,
		Metadata:     input.Metadata,
		CreatedBy:    userOrNil(actingUserID),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	if _, err := s.pool.Exec(ctx, sqlInsertEdge,
		edge.ID, edge.SourceNodeID, edge.TargetNodeID, edge.EdgeType,
		json.RawMessage(metadata), edge.CreatedBy, edge.CreatedAt,
	); err != nil {
		return schemas.GraphEdge{}, s.mapEdgeInsertError(err, input)
	}

	s.log.Debug("Edge created.",
		zap.String("id", edge.ID),
		zap.String("edge_type", edge.EdgeType),
		zap.String("source", edge.SourceNodeID),
		zap.String("target", edge.TargetNodeID))
	return edge, nil
}

// mapEdgeInsertError turns constraint violations that slipped past the
// pre-checks into the same error kinds the pre-checks produce.
func (s *PostgresStore) mapEdgeInsertError(err error, input schemas.EdgeInput) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == constraintUniqueTriple {
			s.log.Info("Duplicate edge rejected by constraint.", zap.String("constraint", pgErr.ConstraintName))
			return duplicateEdge(input.SourceNodeID, input.TargetNodeID, input.EdgeType, err)
		}
	case "23514":
		if pgErr.ConstraintName == constraintNoSelfReference {
			return selfReference(input.SourceNodeID, err)
		}
	case "23503":
		if pgErr.ConstraintName == constraintTargetFK {
			return &GraphError{Code: CodeNodeNotFound, Message: "node not found", ID: input.TargetNodeID, Err: err}
		}
		return &GraphError{Code: CodeNodeNotFound, Message: "node not found", ID: input.SourceNodeID, Err: err}
	}
	return fmt.Errorf("failed to insert edge: %w", err)
}

// firstMissing returns the first of ids absent from found, in argument order.
func firstMissing(found []string, ids ...string) string {
	present := make(map[string]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			return id
		}
	}
	return ""
}

// GetNodeConnections returns the node's single-hop neighbourhood. Outgoing
// connections are listed before incoming ones.
func (s *PostgresStore) GetNodeConnections(ctx context.Context, nodeID string) ([]schemas.NodeConnection, error) {
	var outgoing, incoming []schemas.GraphEdge

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx, sqlOutgoingEdges, nodeID)
		if err != nil {
			return fmt.Errorf("failed to query outgoing edges: %w", err)
		}
		outgoing, err = collectRows(rows, scanEdge)
		return err
	})
	g.Go(func() error {
		rows, err := s.pool.Query(gctx, sqlIncomingEdges, nodeID)
		if err != nil {
			return fmt.Errorf("failed to query incoming edges: %w", err)
		}
		incoming, err = collectRows(rows, scanEdge)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	otherIDs := connectedIDs(outgoing, incoming)
	if len(otherIDs) == 0 {
		return []schemas.NodeConnection{}, nil
	}

	rows, err := s.pool.Query(ctx, sqlNodeSummaries, otherIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connected nodes: %w", err)
	}
	summaries, err := collectRows(rows, func(r rowScanner) (schemas.ConnectedNode, error) {
		var c schemas.ConnectedNode
		err := r.Scan(&c.ID, &c.Name, &c.NodeType, &c.NodeClass)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]schemas.ConnectedNode, len(summaries))
	for _, c := range summaries {
		byID[c.ID] = c
	}
	connections := buildConnections(outgoing, incoming, byID)
	if dropped := len(outgoing) + len(incoming) - len(connections); dropped > 0 {
		s.log.Debug("Dropped connections with unresolved endpoints.", zap.String("node_id", nodeID), zap.Int("dropped", dropped))
	}
	return connections, nil
}

// connectedIDs lists the distinct far endpoints of the given edges.
func connectedIDs(outgoing, incoming []schemas.GraphEdge) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, e := range outgoing {
		add(e.TargetNodeID)
	}
	for _, e := range incoming {
		add(e.SourceNodeID)
	}
	return ids
}

func buildConnections(outgoing, incoming []schemas.GraphEdge, byID map[string]schemas.ConnectedNode) []schemas.NodeConnection {
	connections := make([]schemas.NodeConnection, 0, len(outgoing)+len(incoming))
	for _, e := range outgoing {
		if c, ok := byID[e.TargetNodeID]; ok {
			connections = append(connections, schemas.NodeConnection{Edge: e, ConnectedNode: c, Direction: schemas.DirectionOutgoing})
		}
	}
	for _, e := range incoming {
		if c, ok := byID[e.SourceNodeID]; ok {
			connections = append(connections, schemas.NodeConnection{Edge: e, ConnectedNode: c, Direction: schemas.DirectionIncoming})
		}
	}
	return connections
}
