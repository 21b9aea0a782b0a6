package traces

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/handlers"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/routes"
)

// Handler provides HTTP endpoints for agent traces.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// SealRequest is the body for complete and fail.
type SealRequest struct {
	OutputSummary string `json:"output_summary"`
	ErrorMessage  string `json:"error_message"`
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "traces"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for trace endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/traces",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "", Handler: h.Start},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "POST", Pattern: "/{id}/tool-calls", Handler: h.RecordToolCall},
			{Method: "POST", Pattern: "/{id}/complete", Handler: h.Complete},
			{Method: "POST", Pattern: "/{id}/fail", Handler: h.Fail},
		},
	}
}

// List returns a paginated list of traces, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a trace with the proposals it produced.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.RespondNotFound(w, "agent_trace", raw)
		return
	}

	d, err := h.sys.Find(r.Context(), id)
	if err != nil {
		if MapHTTPStatus(err) == http.StatusNotFound {
			handlers.RespondNotFound(w, "agent_trace", raw)
			return
		}
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, d)
}

// Start opens a running trace.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var cmd StartCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	t, err := h.sys.Start(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, t)
}

// RecordToolCall appends a tool call to a running trace.
func (h *Handler) RecordToolCall(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidTrace)
		return
	}

	var cmd ToolCallCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	t, err := h.sys.RecordToolCall(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, t)
}

// Complete seals a running trace as completed.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.sealRequest(w, r)
	if !ok {
		return
	}

	t, err := h.sys.Complete(r.Context(), id, req.OutputSummary)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, t)
}

// Fail seals a running trace as failed.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.sealRequest(w, r)
	if !ok {
		return
	}

	t, err := h.sys.Fail(r.Context(), id, req.ErrorMessage)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, t)
}

func (h *Handler) sealRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, SealRequest, bool) {
	var req SealRequest

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidTrace)
		return id, req, false
	}

	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return id, req, false
	}

	return id, req, true
}
