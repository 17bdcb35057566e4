// File: internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/capture"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/store"
)

// UserIDHeader carries the id of the authenticated caller. Authentication
// happens upstream; the value is recorded as createdBy.
const UserIDHeader = "X-User-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Capturer runs the decision capture workflow.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Result, error)
}

// Handlers manages the HTTP request handling for the graph API.
type Handlers struct {
	log     *zap.Logger
	store   schemas.GraphStore
	capture Capturer
	cfg     config.Interface
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, gs schemas.GraphStore, capturer Capturer, cfg config.Interface) *Handlers {
	return &Handlers{
		log:     logger.Named("api_handlers"),
		store:   gs,
		capture: capturer,
		cfg:     cfg,
	}
}

// RegisterRoutes sets up the routing for the API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	// Health check endpoint (unversioned)
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", h.HandleListNodes)
			r.Post("/", h.HandleCreateNode)
			r.Route("/{nodeID}", func(r chi.Router) {
				r.Get("/", h.HandleGetNode)
				r.Patch("/", h.HandlePatchNode)
				r.Delete("/", h.HandleDeleteNode)
				r.Get("/connections", h.HandleGetConnections)
			})
		})
		r.Route("/edges", func(r chi.Router) {
			r.Get("/", h.HandleListEdges)
			r.Post("/", h.HandleCreateEdge)
			r.Delete("/{edgeID}", h.HandleDeleteEdge)
		})
		r.Post("/decisions", h.HandleCaptureDecision)
		// Entry point for agent tool calls
		r.Post("/command", h.HandleCommand)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// -- Nodes --

func (h *Handlers) HandleListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageRequest(q.Get("limit"), q.Get("cursor"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), err.Error())
		return
	}
	filter := schemas.NodeFilter{
		NodeType:  q.Get("nodeType"),
		NodeClass: q.Get("nodeClass"),
		Search:    q.Get("search"),
	}
	result, err := h.store.QueryNodes(r.Context(), filter, page)
	if err != nil {
		h.respondWithStoreError(w, "Failed to list nodes", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, result)
}

func (h *Handlers) HandleCreateNode(w http.ResponseWriter, r *http.Request) {
	var input schemas.NodeInput
	if !h.decodeBody(w, r, &input) {
		return
	}
	node, err := h.store.CreateNode(r.Context(), input, actingUser(r))
	if err != nil {
		h.respondWithStoreError(w, "Failed to create node", err)
		return
	}
	h.respondWithSuccess(w, http.StatusCreated, node)
}

func (h *Handlers) HandleGetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		h.respondWithStoreError(w, "Failed to get node", err)
		return
	}
	if node == nil {
		h.respondWithStoreError(w, "Node not found", &store.GraphError{Code: store.CodeNodeNotFound, Message: "node not found", ID: nodeID})
		return
	}
	h.respondWithSuccess(w, http.StatusOK, node)
}

func (h *Handlers) HandlePatchNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	var patch schemas.NodePatch
	if !h.decodeBody(w, r, &patch) {
		return
	}
	node, err := h.store.PatchNode(r.Context(), nodeID, patch)
	if err != nil {
		h.respondWithStoreError(w, "Failed to patch node", err)
		return
	}
	if node == nil {
		h.respondWithStoreError(w, "Node not found", &store.GraphError{Code: store.CodeNodeNotFound, Message: "node not found", ID: nodeID})
		return
	}
	h.respondWithSuccess(w, http.StatusOK, node)
}

func (h *Handlers) HandleDeleteNode(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteNode(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.respondWithStoreError(w, "Failed to delete node", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, DeleteResult{Deleted: deleted})
}

func (h *Handlers) HandleGetConnections(w http.ResponseWriter, r *http.Request) {
	h.getConnections(w, r, chi.URLParam(r, "nodeID"))
}

func (h *Handlers) getConnections(w http.ResponseWriter, r *http.Request, nodeID string) {
	conns, err := h.store.GetNodeConnections(r.Context(), nodeID)
	if err != nil {
		h.respondWithStoreError(w, "Failed to get node connections", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, conns)
}

// -- Edges --

func (h *Handlers) HandleListEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageRequest(q.Get("limit"), q.Get("cursor"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), err.Error())
		return
	}
	filter := schemas.EdgeFilter{
		EdgeType:     q.Get("edgeType"),
		SourceNodeID: q.Get("sourceNodeId"),
		TargetNodeID: q.Get("targetNodeId"),
	}
	result, err := h.store.QueryEdges(r.Context(), filter, page)
	if err != nil {
		h.respondWithStoreError(w, "Failed to list edges", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, result)
}

func (h *Handlers) HandleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var input schemas.EdgeInput
	if !h.decodeBody(w, r, &input) {
		return
	}
	edge, err := h.store.CreateEdge(r.Context(), input, actingUser(r))
	if err != nil {
		h.respondWithStoreError(w, "Failed to create edge", err)
		return
	}
	h.respondWithSuccess(w, http.StatusCreated, edge)
}

func (h *Handlers) HandleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteEdge(r.Context(), chi.URLParam(r, "edgeID"))
	if err != nil {
		h.respondWithStoreError(w, "Failed to delete edge", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, DeleteResult{Deleted: deleted})
}

// -- Decisions --

// HandleCaptureDecision captures a decision submitted through the REST API.
// ?commit=false previews the translation and score without writing. ?llm=true
// asks for model-assisted scoring.
func (h *Handlers) HandleCaptureDecision(w http.ResponseWriter, r *http.Request) {
	var payload schemas.DecisionAPIPayload
	if !h.decodeBody(w, r, &payload) {
		return
	}

	q := r.URL.Query()
	commit, err := boolParam(q.Get("commit"), h.cfg.Capture().CommitByDefault)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), "commit must be a boolean")
		return
	}
	useLLM, err := boolParam(q.Get("llm"), false)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), "llm must be a boolean")
		return
	}

	h.runCapture(w, r, capture.Request{
		Payload:      payload,
		Source:       schemas.SourceAPI,
		ActingUserID: actingUser(r),
		Commit:       commit,
		UseLLM:       useLLM,
	})
}

func (h *Handlers) runCapture(w http.ResponseWriter, r *http.Request, req capture.Request) {
	result, err := h.capture.Capture(r.Context(), req)
	if err != nil {
		h.respondWithStoreError(w, "Failed to capture decision", err)
		return
	}
	status := http.StatusOK
	if result.Committed {
		status = http.StatusCreated
	}
	h.respondWithSuccess(w, status, result)
}

// -- Helpers --

func actingUser(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

func pageRequest(limit, cursor string) (schemas.PageRequest, error) {
	page := schemas.PageRequest{Cursor: cursor}
	if limit == "" {
		return page, nil
	}
	n, err := strconv.Atoi(limit)
	if err != nil {
		return page, fmt.Errorf("limit must be an integer, got %q", limit)
	}
	page.Limit = n
	return page, nil
}

func boolParam(raw string, fallback bool) (bool, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseBool(raw)
}

// decodeBody decodes a JSON body into dst, writing a 400 on failure.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, string(store.CodeInvalidInput), fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// statusForError maps an error onto an HTTP status and error code.
func statusForError(err error) (int, string) {
	if errors.Is(err, schemas.ErrInvalidPayload) {
		return http.StatusBadRequest, string(store.CodeInvalidInput)
	}
	code := store.CodeOf(err)
	switch code {
	case store.CodeNodeNotFound, store.CodeEdgeNotFound:
		return http.StatusNotFound, string(code)
	case store.CodeDuplicateEdge:
		return http.StatusConflict, string(code)
	case store.CodeSelfReference, store.CodeInvalidInput:
		return http.StatusBadRequest, string(code)
	default:
		return http.StatusInternalServerError, ""
	}
}

// respondWithStoreError maps err and writes it. Internal failures are logged
// and their details withheld from the client.
func (h *Handlers) respondWithStoreError(w http.ResponseWriter, msg string, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		h.log.Error(msg, zap.Error(err))
		h.respondWithError(w, status, code, "Internal error.")
		return
	}
	h.respondWithError(w, status, code, err.Error())
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, code, message string) {
	h.writeJSON(w, statusCode, Response{Status: "error", Error: message, Code: code})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data any) {
	h.writeJSON(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
