package web

import (
	"errors"
	"io"
	"net/http"

	"afms/internal/app"
	"afms/internal/core"

	"github.com/go-chi/chi/v5"
)

// listAccounts handles GET /api/accounts. ?archived=true includes archived accounts.
func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	accounts, err := h.svc.ListAccounts(r.Context(), actor, companyID(r), r.URL.Query().Get("archived") == "true")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, accounts)
}

// createAccount handles POST /api/accounts.
func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.AccountInput
	if !decodeJSON(w, r, &in) {
		return
	}
	a, err := h.svc.CreateAccount(r.Context(), actor, companyID(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, a)
}

// archiveAccount handles POST /api/accounts/{id}/archive.
func (h *Handler) archiveAccount(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	a, err := h.svc.ArchiveAccount(r.Context(), actor, companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, a)
}

// listTransactions handles GET /api/transactions?status=&from=&to=&limit=.
func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, r, "limit must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	txs, err := h.svc.ListTransactions(r.Context(), actor, app.TransactionQuery{
		CompanyID: companyID(r),
		Status:    q.Get("status"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Limit:     limit,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, txs)
}

// createTransaction handles POST /api/transactions. With "post": true the
// entry is posted immediately; otherwise it is stored as a draft.
func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.TransactionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	tx, err := h.svc.CreateTransaction(r.Context(), actor, companyID(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, tx)
}

// getTransaction handles GET /api/transactions/{id}.
func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	tx, err := h.svc.GetTransaction(r.Context(), actor, companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, tx)
}

// postTransaction handles POST /api/transactions/{id}/post.
func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	tx, err := h.svc.PostTransaction(r.Context(), actor, companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, tx)
}

// voidTransaction handles POST /api/transactions/{id}/void.
func (h *Handler) voidTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	tx, err := h.svc.VoidTransaction(r.Context(), actor, companyID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, tx)
}

// reverseTransaction handles POST /api/transactions/{id}/reverse. The body
// is optional.
func (h *Handler) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var in core.ReversalInput
	if r.ContentLength != 0 {
		if err := decodeOptional(r, &in); err != nil {
			writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}
	tx, err := h.svc.ReverseTransaction(r.Context(), actor, companyID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, tx)
}

// decodeOptional is decodeJSON for bodies that may legitimately be empty.
func decodeOptional(r *http.Request, v any) error {
	err := jsonDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
