package core_test

import (
	"context"
	"encoding/json"
	"testing"

	"afms/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrialBalance_CashRevenueScenario(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-03-01", "1000", "4000", "100")

	tb, err := f.reports.TrialBalance(context.Background(), f.company.ID, date("2026-03-15"))
	require.NoError(t, err)

	assert.True(t, tb.IsBalanced)
	assert.True(t, tb.TotalDebits.Equal(decimal.NewFromInt(100)))
	assert.True(t, tb.TotalCredits.Equal(decimal.NewFromInt(100)))
	assert.True(t, tb.Difference.IsZero())

	cash := f.line(t, tb, "1000")
	assert.Equal(t, "100", cash.DebitBalance.String())
	assert.True(t, cash.CreditBalance.IsZero())

	rev := f.line(t, tb, "4000")
	assert.Equal(t, "100", rev.CreditBalance.String())
	assert.True(t, rev.DebitBalance.IsZero())
	assert.Equal(t, "100", rev.Balance.String(), "revenue balance is positive in its normal direction")
	assert.False(t, rev.IsContra)

	raw, err := json.Marshal(tb)
	require.NoError(t, err)
	var body struct {
		AsOf         string `json:"as_of"`
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
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "2026-03-15", body.AsOf)
	assert.Equal(t, "100.00", body.TotalDebits)
	assert.Equal(t, "100.00", body.TotalCredits)
	assert.Equal(t, "0.00", body.Difference)
	assert.True(t, body.IsBalanced)
	assert.Equal(t, "1000", body.Accounts[0].AccountNumber)
	assert.Equal(t, "100.00", body.Accounts[0].DebitBalance)
	assert.Equal(t, "0.00", body.Accounts[0].CreditBalance)
	assert.Zero(t, f.tripped)
}

func TestTrialBalance_EveryAccountOnceInNumberOrder(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-03-01", "1000", "4000", "50")

	tb, err := f.reports.TrialBalance(context.Background(), f.company.ID, fixedNow)
	require.NoError(t, err)

	require.Len(t, tb.Lines, len(f.accounts))
	seen := map[string]int{}
	for i, l := range tb.Lines {
		seen[l.AccountID]++
		if i > 0 {
			assert.Less(t, tb.Lines[i-1].AccountNumber, l.AccountNumber)
		}
	}
	for number, a := range f.accounts {
		assert.Equal(t, 1, seen[a.ID], "account %s", number)
	}

	rent := f.line(t, tb, "5100")
	assert.True(t, rent.DebitBalance.IsZero())
	assert.True(t, rent.CreditBalance.IsZero())
}

func TestTrialBalance_ColumnsAreExclusive(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-01-05", "1000", "3000", "1000")
	f.post(t, "2026-01-10", "5100", "1000", "400")
	f.post(t, "2026-01-12", "1200", "4000", "250.50")
	f.post(t, "2026-01-20", "1000", "1200", "100")
	// Over-refund drives revenue to a debit (contra) position.
	f.post(t, "2026-01-25", "4000", "1000", "300")

	tb, err := f.reports.TrialBalance(context.Background(), f.company.ID, fixedNow)
	require.NoError(t, err)
	require.True(t, tb.IsBalanced)

	for _, l := range tb.Lines {
		assert.False(t, !l.DebitBalance.IsZero() && !l.CreditBalance.IsZero(),
			"account %s has both columns set", l.AccountNumber)
		assert.False(t, l.DebitBalance.IsNegative() || l.CreditBalance.IsNegative())
	}

	rev := f.line(t, tb, "4000")
	assert.Equal(t, "49.5", rev.DebitBalance.String())
	assert.Equal(t, "-49.5", rev.Balance.String())
	assert.True(t, rev.IsContra)
}

func TestTrialBalance_ExcludesDraftsVoidsAndLaterPostings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, "2026-02-01", "1000", "4000", "100")
	f.post(t, "2026-04-01", "1000", "4000", "900")

	draft, err := f.ledger.CreateTransaction(ctx, f.company.ID, core.TransactionInput{
		Date: "2026-02-02", Description: "draft",
		Legs: []core.LegInput{{AccountID: f.id("1000"), Debit: "70"}, {AccountID: f.id("4000"), Credit: "70"}},
	})
	require.NoError(t, err)
	voided, err := f.ledger.CreateTransaction(ctx, f.company.ID, core.TransactionInput{
		Date: "2026-02-03", Description: "to void",
		Legs: []core.LegInput{{AccountID: f.id("1000"), Debit: "30"}, {AccountID: f.id("4000"), Credit: "30"}},
	})
	require.NoError(t, err)
	_, err = f.ledger.VoidTransaction(ctx, f.company.ID, voided.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDraft, draft.Status)

	tb, err := f.reports.TrialBalance(ctx, f.company.ID, date("2026-03-31"))
	require.NoError(t, err)
	assert.Equal(t, "100", tb.TotalDebits.String())
	assert.Equal(t, "100", f.line(t, tb, "1000").DebitBalance.String())

	tb, err = f.reports.TrialBalance(ctx, f.company.ID, date("2026-04-01"))
	require.NoError(t, err)
	assert.Equal(t, "1000", tb.TotalDebits.String(), "posting on the as-of day is included")
}

func TestTrialBalance_ReversalNetsToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.post(t, "2026-03-01", "1000", "4000", "100")

	_, err := f.ledger.ReverseTransaction(ctx, f.company.ID, tx.ID, core.ReversalInput{Date: "2026-03-02"})
	require.NoError(t, err)

	tb, err := f.reports.TrialBalance(ctx, f.company.ID, fixedNow)
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.True(t, tb.TotalDebits.IsZero())
	assert.True(t, f.line(t, tb, "1000").Balance.IsZero())
}

func TestTrialBalance_UnbalancedInjectionIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, "2026-03-01", "1000", "4000", "100")

	// A corrupt posted entry written straight to the store, bypassing validation.
	err := f.store.Tenant(f.company.ID).CreateTransaction(ctx, &core.Transaction{
		ID:          uuid.NewString(),
		Date:        date("2026-03-02"),
		Description: "corrupt",
		Currency:    "USD",
		Status:      core.StatusPosted,
		Legs: []core.Leg{
			{AccountID: f.id("1000"), Debit: decimal.RequireFromString("25.00")},
			{AccountID: f.id("4000"), Credit: decimal.RequireFromString("10.00")},
		},
	})
	require.NoError(t, err)

	tb, err := f.reports.TrialBalance(ctx, f.company.ID, fixedNow)
	require.NoError(t, err, "an unbalanced ledger is a result, not an error")
	assert.False(t, tb.IsBalanced)
	assert.Equal(t, "15", tb.Difference.String())
	assert.Equal(t, 1, f.tripped)
}

func TestTrialBalance_UnknownCompany(t *testing.T) {
	f := newFixture(t)
	_, err := f.reports.TrialBalance(context.Background(), "nope", fixedNow)
	assert.ErrorIs(t, err, core.ErrCompanyNotFound)
}

func TestTrialBalance_TenantsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, "2026-03-01", "1000", "4000", "100")

	other, err := core.NewCompanyService(f.store, f.ledger, zapNop()).Create(ctx,
		core.CompanyInput{Code: "OTHER", Name: "Other", BaseCurrency: "EUR"})
	require.NoError(t, err)

	tb, err := f.reports.TrialBalance(ctx, other.ID, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, tb.Lines)
	assert.True(t, tb.IsBalanced)
	assert.True(t, tb.TotalDebits.IsZero())
}

func TestBuildTrialBalance_OrphanLegsStayVisible(t *testing.T) {
	company := core.Company{ID: "c1", Name: "C", BaseCurrency: "USD"}
	accounts := []core.Account{{ID: "a1", Number: "1000", Name: "Cash", Category: core.Asset}}
	txs := []core.Transaction{{
		Status: core.StatusPosted,
		Date:   date("2026-01-01"),
		Legs: []core.Leg{
			{AccountID: "a1", Debit: decimal.NewFromInt(5)},
			{AccountID: "ghost", Credit: decimal.NewFromInt(5)},
		},
	}}

	tb := core.BuildTrialBalance(company, accounts, txs, date("2026-01-31"))
	require.Len(t, tb.Lines, 2)
	assert.Equal(t, "unknown account ghost", tb.Lines[1].AccountName)
	assert.True(t, tb.IsBalanced)
}

func TestBuildTrialBalance_CurrencyPrecision(t *testing.T) {
	accounts := []core.Account{
		{ID: "a", Number: "1", Category: core.Asset},
		{ID: "b", Number: "2", Category: core.Revenue},
	}
	txs := []core.Transaction{{
		Status: core.StatusPosted,
		Date:   date("2026-01-01"),
		Legs: []core.Leg{
			{AccountID: "a", Debit: decimal.RequireFromString("1000.004")},
			{AccountID: "b", Credit: decimal.RequireFromString("1000")},
		},
	}}

	usd := core.BuildTrialBalance(core.Company{BaseCurrency: "USD"}, accounts, txs, date("2026-01-01"))
	assert.True(t, usd.IsBalanced, "sub-cent residue rounds away in USD")
	assert.Equal(t, "0.004", usd.Difference.String())

	kwd := core.BuildTrialBalance(core.Company{BaseCurrency: "KWD"}, accounts, txs, date("2026-01-01"))
	assert.False(t, kwd.IsBalanced, "KWD has three minor digits")

	raw, err := json.Marshal(usd)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"difference":"0.004"`)
	assert.Contains(t, string(raw), `"total_debits":"1000.00"`)
}

func TestCurrencyPrecision(t *testing.T) {
	assert.Equal(t, int32(2), core.CurrencyPrecision("USD"))
	assert.Equal(t, int32(0), core.CurrencyPrecision("jpy"))
	assert.Equal(t, int32(3), core.CurrencyPrecision("BHD"))
}
