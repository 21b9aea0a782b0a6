package policies

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/auth"
	"github.com/JaimeStill/steward/pkg/handlers"
	"github.com/JaimeStill/steward/pkg/routes"
)

// Handler provides HTTP endpoints for policy operations.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// ActivateRequest is the body for version activation.
type ActivateRequest struct {
	Actor string `json:"actor"`
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "policies"),
	}
}

// Routes returns the route group definition for policy endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/policies",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "", Handler: h.Create},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/active", Handler: h.Active},
			{Method: "POST", Pattern: "/{id}/versions", Handler: h.CreateVersion},
			{Method: "GET", Pattern: "/versions/{id}", Handler: h.FindVersion},
			{Method: "POST", Pattern: "/versions/{id}/activate", Handler: h.Activate},
		},
	}
}

// List returns all policies. Pass include_versions=true to embed versions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	include, _ := strconv.ParseBool(r.URL.Query().Get("include_versions"))

	items, err := h.sys.List(r.Context(), FiltersFromQuery(r.URL.Query()), include)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, items)
}

// Find returns a policy with all of its versions.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.RespondNotFound(w, "policy", raw)
		return
	}

	p, err := h.sys.Find(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, "policy", raw, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, p)
}

// Active returns the active version of a policy.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.RespondNotFound(w, "policy", raw)
		return
	}

	v, err := h.sys.ActiveVersion(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, v)
}

// FindVersion returns a single policy version.
func (h *Handler) FindVersion(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.RespondNotFound(w, "policy_version", raw)
		return
	}

	v, err := h.sys.FindVersion(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, "policy_version", raw, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, v)
}

// Create adds a policy, optionally with a first draft version.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd CreateCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidPolicy)
		return
	}

	actor, err := auth.ResolveActor(r.Context(), cmd.CreatedBy)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return
	}
	cmd.CreatedBy = actor

	p, err := h.sys.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, p)
}

// CreateVersion drafts a new version of a policy.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, ErrNotFound)
		return
	}

	var cmd VersionCommand
	if err := handlers.DecodeJSON(r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidPolicy)
		return
	}

	actor, err := auth.ResolveActor(r.Context(), cmd.CreatedBy)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return
	}
	cmd.CreatedBy = actor
	cmd.PolicyID = id

	v, err := h.sys.CreateVersion(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, v)
}

// Activate makes a version the policy's active version.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, ErrVersionNotFound)
		return
	}

	var req ActivateRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidPolicy)
		return
	}

	actor, err := auth.ResolveActor(r.Context(), req.Actor)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return
	}

	v, err := h.sys.Activate(r.Context(), id, actor)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, v)
}

func (h *Handler) respondLookupError(w http.ResponseWriter, kind, raw string, err error) {
	if MapHTTPStatus(err) == http.StatusNotFound {
		handlers.RespondNotFound(w, kind, raw)
		return
	}
	handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
}
