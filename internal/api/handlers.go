package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"

	"recurswap/internal/analytics"
	rtsup "recurswap/internal/runtime/supervisor"
	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
	"recurswap/internal/task/scheduler"
	logx "recurswap/pkg/logx"
)

const maxBodyBytes = 1 << 20

// Schedules is the registry surface the API drives.
type Schedules interface {
	Create(ctx context.Context, def swap.Definition) (swap.Schedule, error)
	Duplicate(ctx context.Context, id string) (swap.Schedule, error)
	Pause(ctx context.Context, id string) (swap.Schedule, error)
	Resume(ctx context.Context, id string) (swap.Schedule, error)
	Delete(ctx context.Context, id string) error
	Get(id string) (swap.Schedule, error)
	List() []swap.Schedule
}

type History interface {
	RecordsFor(scheduleID string) []swap.ExecutionRecord
	Len() int
}

type Analytics interface {
	Snapshot(scope string) analytics.Snapshot
}

// Backend bundles what the handlers read and mutate. The diagnostic
// callbacks are optional.
type Backend struct {
	Schedules Schedules
	History   History
	Analytics Analytics

	Engine      func() engine.Snapshot
	Scheduler   func() scheduler.Snapshot
	Supervisors func() map[string]rtsup.Snapshot
}

// ScheduleView is a schedule plus its user-facing status.
type ScheduleView struct {
	swap.Schedule
	DisplayStatus string `json:"display_status"`
}

func viewOf(s swap.Schedule) ScheduleView {
	return ScheduleView{Schedule: s, DisplayStatus: s.DisplayStatus()}
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

type Health struct {
	Status      string                    `json:"status"`
	Schedules   int                       `json:"schedules"`
	Records     int                       `json:"records"`
	Engine      *engine.Snapshot          `json:"engine,omitempty"`
	Scheduler   *scheduler.Snapshot       `json:"scheduler,omitempty"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

type handlers struct {
	b   Backend
	log logx.Logger
}

func (h *handlers) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.health)

	mux.HandleFunc("GET /v1/schedules", h.list)
	mux.HandleFunc("POST /v1/schedules", h.create)
	mux.HandleFunc("GET /v1/schedules/{id}", h.get)
	mux.HandleFunc("DELETE /v1/schedules/{id}", h.remove)
	mux.HandleFunc("POST /v1/schedules/{id}/pause", h.transition(Schedules.Pause))
	mux.HandleFunc("POST /v1/schedules/{id}/resume", h.transition(Schedules.Resume))
	mux.HandleFunc("POST /v1/schedules/{id}/duplicate", h.duplicate)
	mux.HandleFunc("GET /v1/schedules/{id}/history", h.history)
	mux.HandleFunc("GET /v1/schedules/{id}/analytics", h.scheduleAnalytics)

	mux.HandleFunc("GET /v1/analytics", h.allAnalytics)
	mux.HandleFunc("GET /v1/engine", h.engine)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	out := Health{Status: "ok", Schedules: len(h.b.Schedules.List())}
	if h.b.History != nil {
		out.Records = h.b.History.Len()
	}
	if h.b.Engine != nil {
		snap := h.b.Engine()
		out.Engine = &snap
	}
	if h.b.Scheduler != nil {
		snap := h.b.Scheduler()
		out.Scheduler = &snap
	}
	if h.b.Supervisors != nil {
		out.Supervisors = h.b.Supervisors()
		for _, s := range out.Supervisors {
			if s.FirstError != "" {
				out.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) list(w http.ResponseWriter, _ *http.Request) {
	list := h.b.Schedules.List()
	out := make([]ScheduleView, 0, len(list))
	for _, s := range list {
		out = append(out, viewOf(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	var def swap.Definition
	if err := decodeBody(w, r, &def); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: "bad_request", Message: err.Error()})
		return
	}
	s, err := h.b.Schedules.Create(r.Context(), def)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.b.Schedules.Get(r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *handlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.b.Schedules.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) transition(op func(Schedules, context.Context, string) (swap.Schedule, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := op(h.b.Schedules, r.Context(), r.PathValue("id"))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	}
}

func (h *handlers) duplicate(w http.ResponseWriter, r *http.Request) {
	s, err := h.b.Schedules.Duplicate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// history and per-schedule analytics stay readable after delete; they 404
// only when the id never produced a record.
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	recs := h.b.History.RecordsFor(id)
	if len(recs) == 0 && !h.exists(id) {
		h.fail(w, swap.NotFound(id))
		return
	}
	if recs == nil {
		recs = []swap.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) scheduleAnalytics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.exists(id) && len(h.b.History.RecordsFor(id)) == 0 {
		h.fail(w, swap.NotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, h.b.Analytics.Snapshot(id))
}

func (h *handlers) allAnalytics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.b.Analytics.Snapshot(analytics.ScopeAll))
}

func (h *handlers) engine(w http.ResponseWriter, _ *http.Request) {
	if h.b.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Code: "unavailable", Message: "task engine not wired"})
		return
	}
	writeJSON(w, http.StatusOK, h.b.Engine())
}

func (h *handlers) exists(id string) bool {
	_, err := h.b.Schedules.Get(id)
	return err == nil
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := ErrorBody{Code: code, Message: err.Error()}
	if hint := errors.FlattenHints(err); hint != "" {
		body.Hint = hint
	}
	if status >= http.StatusInternalServerError {
		h.log.Warn("api request failed", logx.Int("status", status), logx.Err(err))
	}
	writeJSON(w, status, body)
}

// classify maps the error taxonomy onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, swap.ErrInvalidDefinition):
		return http.StatusBadRequest, codeInvalidDefinition
	case errors.Is(err, swap.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, swap.ErrInvalidTransition):
		return http.StatusConflict, codeInvalidTransition
	case errors.Is(err, swap.ErrPersistence):
		return http.StatusServiceUnavailable, codePersistence
	default:
		return http.StatusInternalServerError, "internal"
	}
}

const (
	codeInvalidDefinition = "invalid_definition"
	codeNotFound          = "not_found"
	codeInvalidTransition = "invalid_transition"
	codePersistence       = "persistence"
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return errors.Wrap(err, "decode request body")
	}
	if dec.More() {
		return errors.New("trailing data after request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
