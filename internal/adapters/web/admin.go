package web

import (
	"net/http"

	"afms/internal/app"
	"afms/internal/core"

	"github.com/go-chi/chi/v5"
)

// ── Settings ──────────────────────────────────────────────────────────────────

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	s, err := h.svc.GetSettings(r.Context(), actor, companyID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.CompanySettings
	if !decodeJSON(w, r, &in) {
		return
	}
	s, err := h.svc.PutSettings(r.Context(), actor, companyID(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, s)
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	plans, err := h.svc.ListPlans(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, plans)
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.PlanInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.svc.CreatePlan(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

func (h *Handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.PlanInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.svc.UpdatePlan(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if err := h.svc.DeletePlan(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── RBAC ──────────────────────────────────────────────────────────────────────

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	perms, err := h.svc.ListPermissions(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, perms)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	roles, err := h.svc.ListRoles(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, roles)
}

// saveRole handles POST /api/rbac/roles and PUT /api/rbac/roles/{name}. The
// path name wins over the body.
func (h *Handler) saveRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.Role
	if !decodeJSON(w, r, &in) {
		return
	}
	if name := chi.URLParam(r, "name"); name != "" {
		in.Name = name
	}
	role, err := h.svc.SaveRole(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if err := h.svc.DeleteRole(r.Context(), actor, chi.URLParam(r, "name")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req struct {
		Roles []string `json:"roles"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.svc.AssignRoles(r.Context(), actor, chi.URLParam(r, "id"), req.Roles)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, u)
}

func (h *Handler) menus(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	items, err := h.svc.Menus(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, items)
}

// ── Companies & users ─────────────────────────────────────────────────────────

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	list, err := h.svc.ListCompanies(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) createCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.CompanyInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.svc.CreateCompany(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, c)
}

func (h *Handler) currentCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	c, err := h.svc.GetCompany(r.Context(), actor, companyID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.UserInput
	if !decodeJSON(w, r, &in) {
		return
	}
	u, err := h.svc.CreateUser(r.Context(), actor, companyID(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, u)
}

// ── Documents ─────────────────────────────────────────────────────────────────

// extractDocument handles POST /api/documents/extract. It returns 503 when
// no OpenAI key is configured.
func (h *Handler) extractDocument(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req struct {
		Document    string `json:"document"`
		CreateDraft bool   `json:"create_draft"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.ExtractDocument(r.Context(), actor, app.ExtractRequest{
		CompanyID:   companyID(r),
		Document:    req.Document,
		CreateDraft: req.CreateDraft,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
