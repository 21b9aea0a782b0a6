package exceptions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/auth"
	"github.com/JaimeStill/steward/pkg/handlers"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/routes"
)

// Handler provides HTTP endpoints for exception operations.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// CloseRequest is the body for resolve and dismiss.
type CloseRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "exceptions"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for exception endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/exceptions",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/detail", Handler: h.Detail},
			{Method: "POST", Pattern: "/{id}/resolve", Handler: h.Resolve},
			{Method: "POST", Pattern: "/{id}/dismiss", Handler: h.Dismiss},
			{Method: "POST", Pattern: "/{id}/context", Handler: h.AddContext},
		},
	}
}

// List returns a paginated list of exceptions with optional query parameter filters.
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

// Find returns a single exception by its UUID path parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.RespondNotFound(w, "exception", raw)
		return
	}

	e, err := h.sys.Find(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, raw, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

// Detail returns an exception with its signals, contexts, evaluations,
// decisions and decision options.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.RespondNotFound(w, "exception", raw)
		return
	}

	d, err := h.sys.Detail(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, raw, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, d)
}

// Resolve closes an open exception as resolved.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.sys.Resolve)
}

// Dismiss closes an open exception as dismissed.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.sys.Dismiss)
}

// AddContext appends context to an exception. Human context commits directly.
func (h *Handler) AddContext(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidContext)
		return
	}

	var cmd AddContextCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidContext)
		return
	}

	actor, err := auth.ResolveActor(r.Context(), cmd.AddedBy)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return
	}

	cmd.ExceptionID = id
	cmd.AddedBy = actor

	c, err := h.sys.AddContext(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) close(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, id uuid.UUID, actor, notes string) (*Exception, error),
) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	var req CloseRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	actor, err := auth.ResolveActor(r.Context(), req.Actor)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return
	}

	e, err := fn(r.Context(), id, actor, req.Notes)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, e)
}

func (h *Handler) respondLookupError(w http.ResponseWriter, raw string, err error) {
	if MapHTTPStatus(err) == http.StatusNotFound {
		handlers.RespondNotFound(w, "exception", raw)
		return
	}
	handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
}
