// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package api provides the admin HTTP surface: service status queries,
// config updates, circuit breaker resets, audit queries, and health
// endpoints. Routing uses chi; authentication is expected to sit in front
// of this server as a separate concern.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/BranchManager69/warden/internal/audit"
	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/registry"
	"github.com/BranchManager69/warden/internal/store"
)

// ActorHeader carries the operator identity recorded on audit events.
const ActorHeader = "X-Actor"

const defaultActor = "operator"

// ServiceDirectory is the slice of the registry the handlers need.
type ServiceDirectory interface {
	Status(name string) (*registry.Status, error)
	AllStatuses() []registry.Status
	UpdateConfig(ctx context.Context, name string, patch registry.ConfigPatch, actor string) (*store.ConfigRecord, error)
	ResetBreaker(ctx context.Context, name, actor, reason string) error
}

// AuditReader is the slice of the audit store the handlers need.
type AuditReader interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
	Count(ctx context.Context, filter audit.QueryFilter) (int64, error)
}

// Handlers holds the admin endpoint implementations.
type Handlers struct {
	services ServiceDirectory
	auditlog AuditReader
}

// NewHandlers creates the admin handlers. The audit reader may be nil when
// no audit store is configured; audit endpoints then return 404.
func NewHandlers(services ServiceDirectory, auditlog AuditReader) *Handlers {
	return &Handlers{
		services: services,
		auditlog: auditlog,
	}
}

// HealthLive handles GET /api/v1/health/live. Process liveness only.
func (h *Handlers) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Ready means the registry
// answers; individual unhealthy services never fail readiness, they are
// reported by the services endpoints instead.
func (h *Handlers) HealthReady(w http.ResponseWriter, _ *http.Request) {
	statuses := h.services.AllStatuses()
	healthy := 0
	for _, s := range statuses {
		if s.Status == registry.HealthHealthy {
			healthy++
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"services": len(statuses),
		"healthy":  healthy,
	})
}

// ListServices handles GET /api/v1/services.
func (h *Handlers) ListServices(w http.ResponseWriter, _ *http.Request) {
	statuses := h.services.AllStatuses()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"services": statuses,
		"count":    len(statuses),
	})
}

// GetService handles GET /api/v1/services/{name}.
func (h *Handlers) GetService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, err := h.services.Status(name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// UpdateServiceConfig handles PATCH /api/v1/services/{name}/config. The
// body is a partial config; omitted fields are left unchanged.
func (h *Handlers) UpdateServiceConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var patch registry.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	rec, err := h.services.UpdateConfig(r.Context(), name, patch, actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// resetRequest is the body for a circuit breaker reset.
type resetRequest struct {
	Reason string `json:"reason"`
}

// ResetCircuitBreaker handles POST /api/v1/services/{name}/circuit-breaker/reset.
// A non-empty reason is required for the audit trail.
func (h *Handlers) ResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if err := h.services.ResetBreaker(r.Context(), name, actor(r), req.Reason); err != nil {
		respondError(w, err)
		return
	}

	status, err := h.services.Status(name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ListAuditEvents handles GET /api/v1/audit. Supports action, actor,
// service, start, end, limit, and offset query parameters.
func (h *Handlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.auditlog == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "audit trail not configured"})
		return
	}

	ctx := r.Context()
	filter := audit.DefaultQueryFilter()

	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	for _, a := range r.URL.Query()["action"] {
		filter.Actions = append(filter.Actions, audit.Action(a))
	}
	filter.Actor = r.URL.Query().Get("actor")
	filter.Service = r.URL.Query().Get("service")
	if v := r.URL.Query().Get("start"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &ts
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = &ts
		}
	}

	events, err := h.auditlog.Query(ctx, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	total, err := h.auditlog.Count(ctx, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// actor extracts the operator identity from the request.
func actor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ActorHeader)); v != "" {
		return v
	}
	return defaultActor
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Err(err).Msg("Failed to encode API response")
	}
}

// respondError maps domain errors to HTTP statuses: validation failures
// are 400, unknown services 404, everything else 500.
func respondError(w http.ResponseWriter, err error) {
	var (
		valErr *registry.ValidationError
		unkErr *registry.UnknownServiceError
	)
	switch {
	case errors.As(err, &valErr):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": valErr.Error()})
	case errors.As(err, &unkErr):
		respondJSON(w, http.StatusNotFound, map[string]string{"error": unkErr.Error()})
	default:
		logging.Err(err).Msg("Admin API request failed")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
