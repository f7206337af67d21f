package web

import (
	"net/http"

	"afms/internal/app"
	"afms/internal/core"

	"github.com/go-chi/chi/v5"
)

// exchangeRates handles GET /api/exchange-rates?base=&quote=&date=.
func (h *Handler) exchangeRates(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	q := r.URL.Query()
	res, err := h.svc.ExchangeRates(r.Context(), actor, app.RatesRequest{
		Base:  q.Get("base"),
		Quote: q.Get("quote"),
		Date:  q.Get("date"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// refreshRates handles POST /api/exchange-rates/refresh. A second call on
// the same day is a no-op that reports every base as skipped.
func (h *Handler) refreshRates(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	res, err := h.svc.RefreshRates(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// listSchedules handles GET /api/report-schedules.
func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	list, err := h.svc.ListSchedules(r.Context(), actor, companyID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, list)
}

// createSchedule handles POST /api/report-schedules.
func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.ScheduleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	s, err := h.svc.CreateSchedule(r.Context(), actor, companyID(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, s)
}

// getSchedule handles GET /api/report-schedules/{id}.
func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	s, err := h.svc.GetSchedule(r.Context(), actor, companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, s)
}

// deleteSchedule handles DELETE /api/report-schedules/{id}.
func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if err := h.svc.DeleteSchedule(r.Context(), actor, companyID(r), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scheduleHistory handles GET /api/report-schedules/{id}/history?limit=.
func (h *Handler) scheduleHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, r, "limit must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	runs, err := h.svc.ScheduleHistory(r.Context(), actor, companyID(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, runs)
}
