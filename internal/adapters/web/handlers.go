package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"afms/internal/app"
	"afms/internal/metrics"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP handler.
type Options struct {
	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins []string
	SecureCookies  bool
	Metrics        *metrics.Metrics
	Store          Pinger
	Logger         *zap.Logger
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc           app.ApplicationService
	log           *zap.Logger
	store         Pinger
	jwtSecret     []byte
	tokenTTL      time.Duration
	secureCookies bool
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	h := &Handler{
		svc:           svc,
		log:           log,
		store:         opts.Store,
		jwtSecret:     []byte(opts.JWTSecret),
		tokenTTL:      ttl,
		secureCookies: opts.SecureCookies,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe(log, opts.Metrics))
	r.Use(Recoverer(log))
	r.Use(CORS(opts.AllowedOrigins))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(LimitBody(1 << 20))

		// ── Public ────────────────────────────────────────────────────────────
		r.Get("/health", h.health)
		r.Post("/auth/login", h.login)
		r.Post("/auth/logout", h.logout)

		// ── Authenticated ─────────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Get("/auth/me", h.me)

			r.Route("/reports", func(r chi.Router) {
				r.Get("/trial-balance", h.trialBalance)
				r.Get("/profit-and-loss", h.profitAndLoss)
				r.Get("/balance-sheet", h.balanceSheet)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.listAccounts)
				r.Post("/", h.createAccount)
				r.Post("/{id}/archive", h.archiveAccount)
				r.Get("/{id}/statement", h.accountStatement)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.listTransactions)
				r.Post("/", h.createTransaction)
				r.Get("/{id}", h.getTransaction)
				r.Post("/{id}/post", h.postTransaction)
				r.Post("/{id}/void", h.voidTransaction)
				r.Post("/{id}/reverse", h.reverseTransaction)
			})

			r.Route("/exchange-rates", func(r chi.Router) {
				r.Get("/", h.exchangeRates)
				r.Post("/refresh", h.refreshRates)
			})

			r.Route("/report-schedules", func(r chi.Router) {
				r.Get("/", h.listSchedules)
				r.Post("/", h.createSchedule)
				r.Get("/{id}", h.getSchedule)
				r.Delete("/{id}", h.deleteSchedule)
				r.Get("/{id}/history", h.scheduleHistory)
			})

			r.Get("/settings", h.getSettings)
			r.Put("/settings", h.putSettings)

			r.Route("/plans", func(r chi.Router) {
				r.Get("/", h.listPlans)
				r.Post("/", h.createPlan)
				r.Put("/{id}", h.updatePlan)
				r.Delete("/{id}", h.deletePlan)
			})

			r.Route("/rbac", func(r chi.Router) {
				r.Get("/permissions", h.listPermissions)
				r.Get("/roles", h.listRoles)
				r.Post("/roles", h.saveRole)
				r.Put("/roles/{name}", h.saveRole)
				r.Delete("/roles/{name}", h.deleteRole)
				r.Put("/users/{id}/roles", h.assignRoles)
				r.Get("/menus", h.menus)
			})

			r.Route("/companies", func(r chi.Router) {
				r.Get("/", h.listCompanies)
				r.Post("/", h.createCompany)
				r.Get("/current", h.currentCompany)
				r.Post("/current/users", h.createUser)
			})

			r.Post("/documents/extract", h.extractDocument)
		})
	})

	return r
}

// health reports liveness and store reachability.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
		Store  string `json:"store"`
		AI     bool   `json:"ai_enabled"`
	}
	resp := response{Status: "ok", Store: "ok", AI: h.svc.DocumentsEnabled()}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.log.Warn("health check: store unreachable", zap.Error(err))
			resp.Status, resp.Store = "degraded", "unreachable"
			writeJSONStatus(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, resp)
}

// companyID is the tenant a request targets: the token's company, or the
// ?company_id= override. The application layer rejects foreign overrides
// from anyone but a superadmin.
func companyID(r *http.Request) string {
	if id := r.URL.Query().Get("company_id"); id != "" {
		return id
	}
	a, _ := actorFromContext(r.Context())
	return a.CompanyID
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// decodeJSON decodes a strict JSON body into v. On failure it has already
// written a 413 (body over the LimitBody cap) or 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := jsonDecoder(r).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

func jsonDecoder(r *http.Request) *json.Decoder {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec
}
