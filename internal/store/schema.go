package store

import (
	"context"
	"fmt"
)

// Constraint names are matched when translating storage violations into
// GraphErrors, so they must stay in sync with the DDL below.
const (
	constraintNoSelfReference = "graph_edges_no_self_reference"
	constraintUniqueTriple    = "graph_edges_unique_triple"
	constraintSourceFK        = "graph_edges_source_node_id_fkey"
	constraintTargetFK        = "graph_edges_target_node_id_fkey"
)

// schemaStatements create the graph tables. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS graph_nodes (
        id          TEXT PRIMARY KEY,
        node_type   TEXT NOT NULL CHECK (node_type <> ''),
        node_class  TEXT NOT NULL DEFAULT '',
        name        TEXT NOT NULL CHECK (name <> ''),
        description TEXT,
        metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
        created_by  TEXT,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS graph_nodes_created_idx ON graph_nodes (created_at DESC, id DESC);`,
	`CREATE INDEX IF NOT EXISTS graph_nodes_type_idx ON graph_nodes (node_type, created_at DESC, id DESC);`,
	`CREATE TABLE IF NOT EXISTS graph_edges (
        id             TEXT PRIMARY KEY,
        source_node_id TEXT NOT NULL,
        target_node_id TEXT NOT NULL,
        edge_type      TEXT NOT NULL CHECK (edge_type <> ''),
        metadata       JSONB NOT NULL DEFAULT '{}'::jsonb,
        created_by     TEXT,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
        CONSTRAINT ` + constraintSourceFK + ` FOREIGN KEY (source_node_id) REFERENCES graph_nodes (id) ON DELETE CASCADE,
        CONSTRAINT ` + constraintTargetFK + ` FOREIGN KEY (target_node_id) REFERENCES graph_nodes (id) ON DELETE CASCADE,
        CONSTRAINT ` + constraintNoSelfReference + ` CHECK (source_node_id <> target_node_id),
        CONSTRAINT ` + constraintUniqueTriple + ` UNIQUE (source_node_id, target_node_id, edge_type)
    );`,
	`CREATE INDEX IF NOT EXISTS graph_edges_created_idx ON graph_edges (created_at DESC, id DESC);`,
	`CREATE INDEX IF NOT EXISTS graph_edges_target_idx ON graph_edges (target_node_id);`,
}

// Migrate applies the graph schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, pool DBPool) error {
	for i, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
