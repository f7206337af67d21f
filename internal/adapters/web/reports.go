package web

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"afms/internal/app"
	"afms/internal/core"

	"github.com/go-chi/chi/v5"
)

// reportFormat reads ?format=, defaulting to JSON.
func reportFormat(r *http.Request) core.ReportFormat {
	return core.ReportFormat(strings.ToLower(r.URL.Query().Get("format")))
}

func reportRequest(r *http.Request) app.ReportRequest {
	q := r.URL.Query()
	return app.ReportRequest{
		CompanyID: companyID(r),
		AsOf:      q.Get("as_of"),
		From:      q.Get("from"),
		To:        q.Get("to"),
	}
}

// writeReport sends report as JSON or as a CSV download.
func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, report any, basename string) {
	format := reportFormat(r)
	if format == "" || format == core.FormatJSON {
		writeJSON(w, report)
		return
	}
	out, err := core.RenderReport(report, format, basename)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeDownload(w, out)
}

func writeDownload(w http.ResponseWriter, out *core.Rendered) {
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename}))
	_, _ = w.Write(out.Body)
}

// trialBalance handles GET /api/reports/trial-balance.
func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	tb, err := h.svc.TrialBalance(r.Context(), actor, reportRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeReport(w, r, tb, "trial_balance-"+tb.AsOf.Format(core.DateLayout))
}

// profitAndLoss handles GET /api/reports/profit-and-loss.
func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	pl, err := h.svc.ProfitAndLoss(r.Context(), actor, reportRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeReport(w, r, pl, "profit_and_loss-"+pl.From+"-"+pl.To)
}

// balanceSheet handles GET /api/reports/balance-sheet.
func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	bs, err := h.svc.BalanceSheet(r.Context(), actor, reportRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeReport(w, r, bs, "balance_sheet-"+bs.AsOf)
}

// accountStatement handles GET /api/accounts/{id}/statement.
func (h *Handler) accountStatement(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	q := r.URL.Query()
	req := app.StatementRequest{
		CompanyID: companyID(r),
		AccountID: chi.URLParam(r, "id"),
		From:      q.Get("from"),
		To:        q.Get("to"),
	}
	st, err := h.svc.AccountStatement(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	switch reportFormat(r) {
	case "", core.FormatJSON:
		writeJSON(w, st)
	case core.FormatCSV:
		company, err := h.svc.GetCompany(r.Context(), actor, req.CompanyID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := core.WriteStatementCSV(&buf, st, company.BaseCurrency); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeDownload(w, &core.Rendered{
			ContentType: "text/csv",
			Filename:    "statement-" + st.Account.Number + "-" + st.To + ".csv",
			Body:        buf.Bytes(),
		})
	default:
		h.writeServiceError(w, r, &core.ValidationError{Field: "format", Message: "must be json or csv"})
	}
}
