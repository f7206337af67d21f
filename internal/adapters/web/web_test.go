package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"afms/internal/adapters/web"
	"afms/internal/app"
	"afms/internal/core"
	"afms/internal/metrics"
	"afms/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "k3Y!9vQ#tZ2m@Lr8Xw$Pq5Nf7Hj0Bc6D"
	testPassword = "Str0ng!Passw0rd#2026"
	superEmail   = "root@afms.test"
)

type server struct {
	t       *testing.T
	srv     *httptest.Server
	acme    *core.Company
	globex  *core.Company
	metrics *metrics.Metrics
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()
	m := metrics.New()
	svc := app.NewAppService(app.NewServices(app.Deps{Store: memory.New(), Metrics: m}, log), log)

	_, err := svc.BootstrapRBAC(ctx, app.SystemActor, core.SuperadminInput{Email: superEmail, Password: testPassword})
	require.NoError(t, err)

	s := &server{t: t, metrics: m}
	s.acme, err = svc.CreateCompany(ctx, app.SystemActor, core.CompanyInput{Code: "ACME", Name: "Acme Ltd", BaseCurrency: "USD", SeedChart: true})
	require.NoError(t, err)
	s.globex, err = svc.CreateCompany(ctx, app.SystemActor, core.CompanyInput{Code: "GLBX", Name: "Globex", BaseCurrency: "EUR", SeedChart: true})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, app.SystemActor, s.acme.ID, core.UserInput{
		Email: "owner@acme.test", Password: testPassword, Roles: []string{"admin"},
	})
	require.NoError(t, err)

	s.srv = httptest.NewServer(web.NewHandler(svc, web.Options{JWTSecret: testSecret, Metrics: m, Logger: log}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *server) login(email string) string {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	decode(s.t, resp, &out)
	require.NotEmpty(s.t, out.Token)
	return out.Token
}

func (s *server) do(method, path, token string, body any) *http.Response {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// accountID looks up an account of the caller's company by number.
func (s *server) accountID(token, number string) string {
	s.t.Helper()
	resp := s.do(http.MethodGet, "/api/accounts", token, nil)
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	var accounts []core.Account
	decode(s.t, resp, &accounts)
	for _, a := range accounts {
		if a.Number == number {
			return a.ID
		}
	}
	s.t.Fatalf("account %s not found", number)
	return ""
}

func TestTrialBalance_CashSaleEndToEnd(t *testing.T) {
	s := newServer(t)
	token := s.login("owner@acme.test")

	resp := s.do(http.MethodPost, "/api/transactions", token, core.TransactionInput{
		Date:        "2026-03-01",
		Description: "Cash sale",
		Post:        true,
		Legs: []core.LegInput{
			{AccountID: s.accountID(token, "1000"), Debit: "100"},
			{AccountID: s.accountID(token, "4000"), Credit: "100"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tx core.Transaction
	decode(t, resp, &tx)
	assert.Equal(t, "JE-2026-00001", tx.Number)

	resp = s.do(http.MethodGet, "/api/reports/trial-balance?as_of=2026-03-31", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tb struct {
		TotalDebits  string `json:"total_debits"`
		TotalCredits string `json:"total_credits"`
		Difference   string `json:"difference"`
		IsBalanced   bool   `json:"is_balanced"`
		Accounts     []struct {
			AccountNumber string `json:"account_number"`
			DebitBalance  string `json:"debit_balance"`
			CreditBalance string `json:"credit_balance"`
		} `json:"accounts"`
	}
	decode(t, resp, &tb)
	assert.Equal(t, "100.00", tb.TotalDebits)
	assert.Equal(t, "100.00", tb.TotalCredits)
	assert.Equal(t, "0.00", tb.Difference)
	assert.True(t, tb.IsBalanced)
	assert.Len(t, tb.Accounts, len(core.DefaultChart))
	for _, a := range tb.Accounts {
		switch a.AccountNumber {
		case "1000":
			assert.Equal(t, "100.00", a.DebitBalance)
			assert.Equal(t, "0.00", a.CreditBalance)
		case "4000":
			assert.Equal(t, "0.00", a.DebitBalance)
			assert.Equal(t, "100.00", a.CreditBalance)
		}
	}

	resp = s.do(http.MethodGet, "/api/reports/trial-balance?as_of=2026-03-31&format=csv", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "trial_balance-2026-03-31.csv")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "100.00")
}

func TestTenantIsolation(t *testing.T) {
	s := newServer(t)
	owner := s.login("owner@acme.test")
	root := s.login(superEmail)

	t.Run("foreign company override is forbidden", func(t *testing.T) {
		resp := s.do(http.MethodGet, "/api/reports/trial-balance?company_id="+s.globex.ID, owner, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		var e struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		}
		decode(t, resp, &e)
		assert.Equal(t, "FORBIDDEN", e.Code)
		assert.NotEmpty(t, e.RequestID)
	})

	t.Run("superadmin may target any company", func(t *testing.T) {
		resp := s.do(http.MethodGet, "/api/reports/trial-balance?company_id="+s.globex.ID, root, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unknown company is not found", func(t *testing.T) {
		resp := s.do(http.MethodGet, "/api/reports/trial-balance?company_id=nope", root, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("company creation needs superadmin", func(t *testing.T) {
		resp := s.do(http.MethodPost, "/api/companies", owner, core.CompanyInput{Code: "NEW", Name: "New", BaseCurrency: "USD"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestAuth(t *testing.T) {
	s := newServer(t)

	resp := s.do(http.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/accounts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@acme.test", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := s.login("owner@acme.test")
	resp = s.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess core.Session
	decode(t, resp, &sess)
	assert.Equal(t, s.acme.ID, sess.User.CompanyID)
	assert.Contains(t, sess.Permissions, core.PermReportsRead)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	token := s.login("owner@acme.test")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad date", http.MethodGet, "/api/reports/trial-balance?as_of=03-2026", nil, http.StatusUnprocessableEntity},
		{"unbalanced entry", http.MethodPost, "/api/transactions", core.TransactionInput{
			Date: "2026-03-01", Description: "x",
			Legs: []core.LegInput{{AccountID: s.accountID(token, "1000"), Debit: "10"}, {AccountID: s.accountID(token, "4000"), Credit: "9"}},
		}, http.StatusUnprocessableEntity},
		{"missing transaction", http.MethodGet, "/api/transactions/00000000-0000-0000-0000-000000000000", nil, http.StatusNotFound},
		{"duplicate account", http.MethodPost, "/api/accounts", core.AccountInput{Number: "1000", Name: "Cash again", Category: core.Asset}, http.StatusConflict},
		{"unknown field", http.MethodPost, "/api/accounts", map[string]string{"numbr": "1"}, http.StatusBadRequest},
		{"ai disabled", http.MethodPost, "/api/documents/extract", map[string]any{"document": "Invoice"}, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.do(tc.method, tc.path, token, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestDraftLifecycle(t *testing.T) {
	s := newServer(t)
	token := s.login("owner@acme.test")

	resp := s.do(http.MethodPost, "/api/transactions", token, core.TransactionInput{
		Date: "2026-03-02", Description: "Rent",
		Legs: []core.LegInput{
			{AccountID: s.accountID(token, "5100"), Debit: "40"},
			{AccountID: s.accountID(token, "1000"), Credit: "40"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var draft core.Transaction
	decode(t, resp, &draft)
	assert.Equal(t, core.StatusDraft, draft.Status)
	assert.Empty(t, draft.Number)

	resp = s.do(http.MethodPost, "/api/transactions/"+draft.ID+"/post", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/transactions/"+draft.ID+"/reverse", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reversal core.Transaction
	decode(t, resp, &reversal)
	assert.Equal(t, draft.ID, reversal.ReversalOf)

	resp = s.do(http.MethodPost, "/api/transactions/"+draft.ID+"/reverse", token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a transaction reverses once")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	resp := s.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "afms_http_requests_total"))
}
