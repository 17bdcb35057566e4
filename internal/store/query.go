package store

import (
	"strings"

	"github.com/psd401/contextgraph/api/schemas"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	// MaxSearchLength bounds the search term before it is turned into a pattern.
	MaxSearchLength = 100
)

// normalizeLimit applies the default and clamps to [1, MaxPageSize].
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// truncateSearch caps the term at MaxSearchLength runes.
func truncateSearch(search string) string {
	runes := []rune(search)
	if len(runes) > MaxSearchLength {
		return string(runes[:MaxSearchLength])
	}
	return search
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePattern neutralizes LIKE metacharacters so the term only matches
// itself. Use with ESCAPE '\'.
func escapeLikePattern(search string) string {
	return likeEscaper.Replace(search)
}

// decodePageCursor resolves the request cursor. A bad cursor is not an error:
// the listing restarts from the top.
func decodePageCursor(log *zap.Logger, token string) *Cursor {
	if token == "" {
		return nil
	}
	c, err := DecodeCursor(token)
	if err != nil {
		log.Warn("Ignoring malformed pagination cursor.", zap.String("cursor", token), zap.Error(err))
		return nil
	}
	return c
}

// paginate trims a limit+1 result set and emits the next cursor from the last
// returned row.
func paginate[T any](rows []T, limit int, key func(T) Cursor) schemas.Page[T] {
	page := schemas.Page[T]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := key(page.Items[limit-1])
		next := EncodeCursor(last.CreatedAt, last.ID)
		page.NextCursor = &next
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}

func nodeKey(n schemas.GraphNode) Cursor { return Cursor{CreatedAt: n.CreatedAt, ID: n.ID} }
func edgeKey(e schemas.GraphEdge) Cursor { return Cursor{CreatedAt: e.CreatedAt, ID: e.ID} }

// trimmedOrNil trims a description and collapses blank values to nil.
func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func validateNodeInput(input schemas.NodeInput) (schemas.NodeInput, error) {
	input.NodeType = strings.TrimSpace(input.NodeType)
	input.NodeClass = strings.TrimSpace(input.NodeClass)
	input.Name = strings.TrimSpace(input.Name)
	input.Description = trimmedOrNil(input.Description)
	input.Metadata = metadataOrEmpty(input.Metadata)
	if input.NodeType == "" {
		return input, invalidInput("nodeType is required")
	}
	if input.Name == "" {
		return input, invalidInput("name is required")
	}
	return input, nil
}

func validateNodePatch(patch schemas.NodePatch) (schemas.NodePatch, error) {
	if patch.NodeType.Set {
		if patch.NodeType.Value == nil || strings.TrimSpace(*patch.NodeType.Value) == "" {
			return patch, invalidInput("nodeType cannot be empty")
		}
		patch.NodeType = schemas.Some(strings.TrimSpace(*patch.NodeType.Value))
	}
	if patch.Name.Set {
		if patch.Name.Value == nil || strings.TrimSpace(*patch.Name.Value) == "" {
			return patch, invalidInput("name cannot be empty")
		}
		patch.Name = schemas.Some(strings.TrimSpace(*patch.Name.Value))
	}
	if patch.NodeClass.Set {
		class := ""
		if patch.NodeClass.Value != nil {
			class = strings.TrimSpace(*patch.NodeClass.Value)
		}
		patch.NodeClass = schemas.Some(class)
	}
	if patch.Description.Set {
		patch.Description.Value = trimmedOrNil(patch.Description.Value)
	}
	if patch.Metadata.Set && patch.Metadata.Value == nil {
		patch.Metadata = schemas.Some(map[string]any{})
	}
	return patch, nil
}

func validateEdgeInput(input schemas.EdgeInput) (schemas.EdgeInput, error) {
	input.SourceNodeID = strings.TrimSpace(input.SourceNodeID)
	input.TargetNodeID = strings.TrimSpace(input.TargetNodeID)
	input.EdgeType = strings.TrimSpace(input.EdgeType)
	input.Metadata = metadataOrEmpty(input.Metadata)
	if input.SourceNodeID == "" || input.TargetNodeID == "" {
		return input, invalidInput("sourceNodeId and targetNodeId are required")
	}
	if input.EdgeType == "" {
		return input, invalidInput("edgeType is required")
	}
	return input, nil
}

func userOrNil(actingUserID string) *string {
	if actingUserID == "" {
		return nil
	}
	return &actingUserID
}
