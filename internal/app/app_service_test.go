package app_test

import (
	"context"
	"testing"

	"afms/internal/app"
	"afms/internal/core"
	"afms/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type env struct {
	svc      app.ApplicationService
	acme     *core.Company
	globex   *core.Company
	admin    core.Actor
	viewer   core.Actor
	accounts map[string]string // number -> id
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	svc := app.NewAppService(app.NewServices(app.Deps{Store: store, Worker: "test"}, zap.NewNop()), zap.NewNop())

	_, err := svc.BootstrapRBAC(ctx, app.SystemActor, core.SuperadminInput{})
	require.NoError(t, err)

	e := &env{svc: svc, accounts: map[string]string{}}
	e.acme, err = svc.CreateCompany(ctx, app.SystemActor, core.CompanyInput{Code: "ACME", Name: "Acme Ltd", BaseCurrency: "USD", SeedChart: true})
	require.NoError(t, err)
	e.globex, err = svc.CreateCompany(ctx, app.SystemActor, core.CompanyInput{Code: "GLBX", Name: "Globex", BaseCurrency: "EUR"})
	require.NoError(t, err)

	accounts, err := svc.ListAccounts(ctx, app.SystemActor, e.acme.ID, false)
	require.NoError(t, err)
	for _, a := range accounts {
		e.accounts[a.Number] = a.ID
	}

	e.admin = e.login(t, "admin@acme.test", "admin")
	e.viewer = e.login(t, "viewer@acme.test", "viewer")
	return e
}

func (e *env) login(t *testing.T, email, role string) core.Actor {
	t.Helper()
	ctx := context.Background()
	const password = "Str0ng!Passw0rd#2026"
	_, err := e.svc.CreateUser(ctx, app.SystemActor, e.acme.ID, core.UserInput{
		Email: email, Name: role, Password: password, Roles: []string{role},
	})
	require.NoError(t, err)
	sess, err := e.svc.Login(ctx, email, password)
	require.NoError(t, err)
	return sess.Actor()
}

func TestTrialBalance_CashAndRevenue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.CreateTransaction(ctx, e.admin, e.acme.ID, core.TransactionInput{
		Date:        "2026-03-01",
		Description: "Cash sale",
		Post:        true,
		Legs: []core.LegInput{
			{AccountID: e.accounts["1000"], Debit: "100"},
			{AccountID: e.accounts["4000"], Credit: "100"},
		},
	})
	require.NoError(t, err)

	tb, err := e.svc.TrialBalance(ctx, e.viewer, app.ReportRequest{CompanyID: e.acme.ID, AsOf: "2026-03-31"})
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.True(t, decimal.NewFromInt(100).Equal(tb.TotalDebits))
	assert.True(t, decimal.NewFromInt(100).Equal(tb.TotalCredits))
	assert.Len(t, tb.Lines, len(core.DefaultChart))
}

func TestAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("foreign tenant is denied", func(t *testing.T) {
		_, err := e.svc.TrialBalance(ctx, e.admin, app.ReportRequest{CompanyID: e.globex.ID})
		assert.ErrorIs(t, err, core.ErrAccessDenied)
	})

	t.Run("missing permission is denied", func(t *testing.T) {
		_, err := e.svc.CreateAccount(ctx, e.viewer, e.acme.ID, core.AccountInput{Number: "1999", Name: "Petty Cash", Category: core.Asset})
		assert.ErrorIs(t, err, core.ErrAccessDenied)
	})

	t.Run("superadmin reaches any tenant", func(t *testing.T) {
		tb, err := e.svc.TrialBalance(ctx, app.SystemActor, app.ReportRequest{CompanyID: e.globex.ID})
		require.NoError(t, err)
		assert.Empty(t, tb.Lines)
	})

	t.Run("unknown tenant is not found for superadmin", func(t *testing.T) {
		_, err := e.svc.TrialBalance(ctx, app.SystemActor, app.ReportRequest{CompanyID: "missing"})
		assert.ErrorIs(t, err, core.ErrCompanyNotFound)
	})

	t.Run("operator commands need superadmin", func(t *testing.T) {
		_, err := e.svc.RunDueReports(ctx, e.admin)
		assert.ErrorIs(t, err, core.ErrAccessDenied)
		_, err = e.svc.CreateCompany(ctx, e.admin, core.CompanyInput{Code: "X", Name: "X", BaseCurrency: "USD"})
		assert.ErrorIs(t, err, core.ErrAccessDenied)
	})
}

func TestReportDates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.TrialBalance(ctx, e.viewer, app.ReportRequest{CompanyID: e.acme.ID, AsOf: "31/03/2026"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.svc.ProfitAndLoss(ctx, e.viewer, app.ReportRequest{CompanyID: e.acme.ID, From: "2026-04-01", To: "2026-03-01"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestListTransactions_ValidatesQuery(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.ListTransactions(context.Background(), e.viewer, app.TransactionQuery{
		CompanyID: e.acme.ID, Status: "pending", From: "yesterday",
	})
	var problems core.ValidationErrors
	require.ErrorAs(t, err, &problems)
	assert.Len(t, problems, 2)
}

func TestPlans_VisibilityByPermission(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inactive := false

	_, err := e.svc.CreatePlan(ctx, e.admin, core.PlanInput{Code: "pro", Name: "Pro"})
	assert.ErrorIs(t, err, core.ErrAccessDenied, "company admins do not manage plans")

	_, err = e.svc.CreatePlan(ctx, app.SystemActor, core.PlanInput{Code: "pro", Name: "Pro", Price: decimal.NewFromInt(49)})
	require.NoError(t, err)
	_, err = e.svc.CreatePlan(ctx, app.SystemActor, core.PlanInput{Code: "legacy", Name: "Legacy", Active: &inactive})
	require.NoError(t, err)

	visible, err := e.svc.ListPlans(ctx, e.viewer)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "pro", visible[0].Code)

	all, err := e.svc.ListPlans(ctx, app.SystemActor)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMenus_FilteredByPermission(t *testing.T) {
	e := newEnv(t)
	menus, err := e.svc.Menus(context.Background(), e.viewer)
	require.NoError(t, err)
	for _, m := range menus {
		assert.NotEqual(t, "admin.plans", m.Key)
		assert.NotEqual(t, "settings.roles", m.Key)
	}
}

func TestExtractDocument_DisabledWithoutAgent(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.svc.DocumentsEnabled())
	_, err := e.svc.ExtractDocument(context.Background(), e.admin, app.ExtractRequest{CompanyID: e.acme.ID, Document: "Invoice #1"})
	assert.ErrorIs(t, err, core.ErrUnavailable)
}
