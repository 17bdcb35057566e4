// File: internal/api/commands.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/capture"
	"github.com/psd401/contextgraph/internal/store"
)

// HandleCommand is the entry point for agent tool calls. Decisions captured
// here are tagged with source "agent".
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	h.log.Info("Received command", zap.String("command", req.Command))

	switch strings.ToLower(req.Command) {
	case "capture_decision", "capture":
		h.handleCaptureCommand(w, r, req.Params)
	case "search_nodes", "search":
		h.handleSearchCommand(w, r, req.Params)
	case "get_node_connections", "connections":
		h.handleConnectionsCommand(w, r, req.Params)
	case "ping":
		h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "pong"})
	default:
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (h *Handlers) handleCaptureCommand(w http.ResponseWriter, r *http.Request, paramsMap map[string]any) {
	params, err := mapToStruct[CaptureDecisionParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), fmt.Sprintf("Invalid parameters for capture_decision: %v", err))
		return
	}

	commit := h.cfg.Capture().CommitByDefault
	if params.Commit != nil {
		commit = *params.Commit
	}

	h.runCapture(w, r, capture.Request{
		Payload:      params.DecisionAPIPayload,
		Source:       schemas.SourceAgent,
		ActingUserID: actingUser(r),
		Commit:       commit,
		UseLLM:       params.UseLLM,
	})
}

func (h *Handlers) handleSearchCommand(w http.ResponseWriter, r *http.Request, paramsMap map[string]any) {
	params, err := mapToStruct[SearchNodesParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), fmt.Sprintf("Invalid parameters for search_nodes: %v", err))
		return
	}

	page, err := h.store.QueryNodes(r.Context(), schemas.NodeFilter{
		NodeType:  params.NodeType,
		NodeClass: params.NodeClass,
		Search:    params.Search,
	}, schemas.PageRequest{Limit: params.Limit, Cursor: params.Cursor})
	if err != nil {
		h.respondWithStoreError(w, "Failed to search nodes", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, page)
}

func (h *Handlers) handleConnectionsCommand(w http.ResponseWriter, r *http.Request, paramsMap map[string]any) {
	params, err := mapToStruct[NodeConnectionsParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), fmt.Sprintf("Invalid parameters for get_node_connections: %v", err))
		return
	}
	if strings.TrimSpace(params.NodeID) == "" {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), "nodeId parameter is required.")
		return
	}
	h.getConnections(w, r, params.NodeID)
}

// Generic utility function to convert map[string]any to a specific struct using JSON marshaling.
func mapToStruct[T any](m map[string]any) (T, error) {
	var result T
	// Handle nil map gracefully
	if m == nil {
		return result, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(data, &result)
	return result, err
}
