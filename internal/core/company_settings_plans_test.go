package core_test

import (
	"context"
	"errors"
	"testing"

	"afms/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyCreate_SeedsChartAndSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	companies := core.NewCompanyService(f.store, f.ledger, zapNop())

	c, err := companies.Create(ctx, core.CompanyInput{Code: "IN01", Name: "Local Operations India", BaseCurrency: "inr", SeedChart: true})
	require.NoError(t, err)
	assert.Equal(t, "INR", c.BaseCurrency)

	accounts, err := f.ledger.ListAccounts(ctx, c.ID, true)
	require.NoError(t, err)
	require.Len(t, accounts, len(core.DefaultChart))
	assert.Equal(t, "1000", accounts[0].Number)
	assert.Equal(t, core.NormalCredit, accounts[8].NormalBalance, "retained earnings is credit-normal")

	settings, err := core.NewSettingsService(f.store).Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "01-01", settings.FiscalYearStart)

	_, err = companies.Create(ctx, core.CompanyInput{Code: "IN01", Name: "Dup", BaseCurrency: "INR"})
	assert.ErrorIs(t, err, core.ErrConflict)
	_, err = companies.Create(ctx, core.CompanyInput{Code: "X", Name: "Bad", BaseCurrency: "Rupee"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSettings_PutAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := core.NewSettingsService(f.store)

	saved, err := svc.Put(ctx, f.company.ID, core.CompanySettings{
		FiscalYearStart:     "04-01",
		Timezone:            "Asia/Kolkata",
		DefaultReportFormat: core.FormatCSV,
		ReportRecipients:    []string{"CFO <cfo@acme.test>"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cfo@acme.test"}, saved.ReportRecipients)
	assert.Equal(t, core.DateLayout, saved.DateFormat)

	got, err := svc.Get(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, "04-01", got.FiscalYearStart)
	assert.Equal(t, core.FormatCSV, got.DefaultReportFormat)

	_, err = svc.Put(ctx, f.company.ID, core.CompanySettings{
		FiscalYearStart: "13-01", Timezone: "Nowhere/City", DateFormat: "YYYY", ReportRecipients: []string{"not-an-email"},
	})
	var problems core.ValidationErrors
	require.True(t, errors.As(err, &problems))
	assert.Len(t, problems, 4)

	_, err = svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrCompanyNotFound)
}

func TestPlans_CRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := core.NewPlanService(f.store)

	starter, err := svc.Create(ctx, core.PlanInput{Code: "Starter", Name: "Starter", Price: decimal.RequireFromString("19.00"), MaxUsers: 3})
	require.NoError(t, err)
	assert.Equal(t, "starter", starter.Code)
	assert.Equal(t, "month", starter.Interval)
	assert.True(t, starter.Active)

	_, err = svc.Create(ctx, core.PlanInput{Code: "starter", Name: "Again"})
	assert.ErrorIs(t, err, core.ErrConflict)
	_, err = svc.Create(ctx, core.PlanInput{Code: "neg", Name: "Neg", Price: decimal.NewFromInt(-1), Interval: "week"})
	assert.ErrorIs(t, err, core.ErrValidation)

	inactive := false
	updated, err := svc.Update(ctx, starter.ID, core.PlanInput{Name: "Starter+", Price: decimal.NewFromInt(29), Interval: "year", Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "starter", updated.Code, "code is immutable")
	assert.False(t, updated.Active)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.Delete(ctx, starter.ID))
	_, err = svc.Get(ctx, starter.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
