// Package plans exposes solving, auditing, locking and repair of plan
// versions over HTTP.
package plans

import (
	"context"
	"net/http"
	"time"

	"github.com/kilianp07/roster/api/httpx"
	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/lifecycle"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
	"github.com/kilianp07/roster/pkg/export"
)

// Service is the part of the lifecycle manager used by the handlers.
type Service interface {
	Solve(ctx context.Context, req lifecycle.SolveRequest) (model.PlanVersion, error)
	Wait(ctx context.Context, planID string) (model.PlanVersion, error)
	Cancel(ctx context.Context, planID string) (model.PlanVersion, error)
	Plan(ctx context.Context, id string) (model.PlanVersion, error)
	Plans(ctx context.Context, forecastID string) ([]model.PlanVersion, error)
	Forecast(ctx context.Context, id string) (model.ForecastVersion, error)
	Assignments(ctx context.Context, planID string) ([]model.Assignment, error)
	KPIs(ctx context.Context, planID string) (model.KPIs, error)
	Audit(ctx context.Context, planID string) ([]model.AuditRecord, error)
	AuditRecords(ctx context.Context, planID string) ([]model.AuditRecord, error)
	Override(ctx context.Context, planID string, check model.CheckName, o model.Override) (model.AuditRecord, error)
	Lock(ctx context.Context, planID, actor string) (model.PlanVersion, error)
	Repair(ctx context.Context, req lifecycle.RepairRequest) (model.PlanVersion, error)
	Events(planID string, from int64) []events.Event
	Follow(ctx context.Context, planID string, from int64) <-chan events.Event
}

// OverrideRequest is the body of POST /v1/plans/{id}/overrides.
type OverrideRequest struct {
	Check         model.CheckName `json:"check"`
	Actor         string          `json:"actor"`
	Justification string          `json:"justification"`
}

// LockRequest is the body of POST /v1/plans/{id}/lock.
type LockRequest struct {
	Actor string `json:"actor"`
}

// RepairRequest is the body of POST /v1/plans/{id}/repairs.
type RepairRequest struct {
	Disruption model.Disruption `json:"disruption"`
	Now        time.Time        `json:"now,omitempty"`
}

type handler struct {
	svc      Service
	defaults solver.Config
}

// Option configures the plan routes.
type Option func(*handler)

// WithDefaults sets the solver config that request bodies are merged onto.
func WithDefaults(cfg solver.Config) Option { return func(h *handler) { h.defaults = cfg } }

// Register mounts the plan routes on mux.
func Register(mux *http.ServeMux, svc Service, opts ...Option) {
	h := &handler{svc: svc, defaults: solver.DefaultConfig()}
	for _, o := range opts {
		o(h)
	}
	mux.HandleFunc("POST /v1/plans", h.solve)
	mux.HandleFunc("GET /v1/plans", h.list)
	mux.HandleFunc("GET /v1/plans/{id}", h.get)
	mux.HandleFunc("POST /v1/plans/{id}/cancel", h.cancel)
	mux.HandleFunc("GET /v1/plans/{id}/assignments", h.assignments)
	mux.HandleFunc("GET /v1/plans/{id}/kpis", h.kpis)
	mux.HandleFunc("POST /v1/plans/{id}/audit", h.audit)
	mux.HandleFunc("GET /v1/plans/{id}/audit", h.auditRecords)
	mux.HandleFunc("POST /v1/plans/{id}/overrides", h.override)
	mux.HandleFunc("POST /v1/plans/{id}/lock", h.lock)
	mux.HandleFunc("POST /v1/plans/{id}/repairs", h.repair)
	mux.HandleFunc("GET /v1/plans/{id}/events", h.events)
	mux.HandleFunc("GET /v1/plans/{id}/events/ws", h.stream)
	mux.HandleFunc("GET /v1/plans/{id}/events/sse", h.sse)
}

// solve queues a solve. With ?wait=true the response is the finished plan.
// Config fields left out of the body keep the configured defaults.
func (h *handler) solve(w http.ResponseWriter, r *http.Request) {
	req := lifecycle.SolveRequest{Config: h.defaults}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.Solve(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/plans/"+p.ID)
	if r.URL.Query().Get("wait") != "true" {
		httpx.WriteJSON(w, http.StatusAccepted, p)
		return
	}
	p, err = h.svc.Wait(r.Context(), p.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.Plans(r.Context(), r.URL.Query().Get("forecast_id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if ps == nil {
		ps = []model.PlanVersion{}
	}
	httpx.WriteJSON(w, http.StatusOK, ps)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// assignments renders the roster as JSON, or as CSV with ?format=csv.
func (h *handler) assignments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	as, err := h.svc.Assignments(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		_ = export.WriteJSON(w, as)
	case "csv":
		p, err := h.svc.Plan(r.Context(), id)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		f, err := h.svc.Forecast(r.Context(), p.ForecastID)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.csv"`)
		_ = export.WriteCSV(w, f.WeekAnchor, as)
	default:
		httpx.WriteError(w, r, model.Errorf(model.CodeInputInvalid, "unknown format %q", r.URL.Query().Get("format")))
	}
}

func (h *handler) kpis(w http.ResponseWriter, r *http.Request) {
	k, err := h.svc.KPIs(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, k)
}

func (h *handler) audit(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.Audit(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recs)
}

func (h *handler) auditRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.AuditRecords(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.AuditRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, recs)
}

func (h *handler) override(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o := model.Override{Actor: actor(r, req.Actor), Justification: req.Justification}
	rec, err := h.svc.Override(r.Context(), r.PathValue("id"), req.Check, o)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rec)
}

func (h *handler) lock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	p, err := h.svc.Lock(r.Context(), r.PathValue("id"), actor(r, req.Actor))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) repair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if o := req.Disruption.Override; o != nil {
		o.Actor = actor(r, o.Actor)
	}
	child, err := h.svc.Repair(r.Context(), lifecycle.RepairRequest{
		PlanID:     r.PathValue("id"),
		Disruption: req.Disruption,
		Now:        req.Now,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/plans/"+child.ID)
	httpx.WriteJSON(w, http.StatusCreated, child)
}

// events returns the plan's event log from ?from= on.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, err := httpx.Int64Query(r, "from", 0)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if _, err := h.svc.Plan(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.svc.Events(id, from))
}

// actor prefers the name given in the request and falls back to the
// authenticated principal.
func actor(r *http.Request, given string) string {
	if given != "" {
		return given
	}
	return httpx.Actor(r.Context())
}
