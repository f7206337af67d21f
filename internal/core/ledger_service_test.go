package core_test

import (
	"context"
	"testing"

	"afms/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction_Validation(t *testing.T) {
	f := newFixture(t)
	cash, rev := f.id("1000"), f.id("4000")

	tests := []struct {
		name  string
		input core.TransactionInput
	}{
		{
			name: "single leg",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x",
				Legs: []core.LegInput{{AccountID: cash, Debit: "10"}}},
		},
		{
			name: "both sides on one leg",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x",
				Legs: []core.LegInput{{AccountID: cash, Debit: "10", Credit: "10"}, {AccountID: rev, Credit: "10"}}},
		},
		{
			name: "blank amount after normalization",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x",
				Legs: []core.LegInput{{AccountID: cash, Debit: "10"}, {AccountID: rev, Credit: "0.00"}}},
		},
		{
			name: "negative amount",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x",
				Legs: []core.LegInput{{AccountID: cash, Debit: "-10"}, {AccountID: rev, Credit: "-10"}}},
		},
		{
			name: "unbalanced",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x",
				Legs: []core.LegInput{{AccountID: cash, Debit: "10"}, {AccountID: rev, Credit: "9.99"}}},
		},
		{
			name: "bad date",
			input: core.TransactionInput{Date: "01/03/2026", Description: "x",
				Legs: []core.LegInput{{AccountID: cash, Debit: "10"}, {AccountID: rev, Credit: "10"}}},
		},
		{
			name: "unknown account",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x",
				Legs: []core.LegInput{{AccountID: "missing", Debit: "10"}, {AccountID: rev, Credit: "10"}}},
		},
		{
			name: "foreign currency without a rate",
			input: core.TransactionInput{Date: "2026-03-01", Description: "x", Currency: "EUR",
				Legs: []core.LegInput{{AccountID: cash, Debit: "10"}, {AccountID: rev, Credit: "10"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.CreateTransaction(context.Background(), f.company.ID, tt.input)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestCreateTransaction_RejectsOtherTenantsAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := core.NewCompanyService(f.store, f.ledger, zapNop()).Create(ctx,
		core.CompanyInput{Code: "OTHER", Name: "Other", BaseCurrency: "USD", SeedChart: true})
	require.NoError(t, err)

	_, err = f.ledger.CreateTransaction(ctx, other.ID, core.TransactionInput{
		Date: "2026-03-01", Description: "cross-tenant",
		Legs: []core.LegInput{{AccountID: f.id("1000"), Debit: "10"}, {AccountID: f.id("4000"), Credit: "10"}},
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCreateTransaction_ArchivedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.ArchiveAccount(ctx, f.company.ID, f.id("5100"))
	require.NoError(t, err)

	_, err = f.ledger.CreateTransaction(ctx, f.company.ID, core.TransactionInput{
		Date: "2026-03-01", Description: "rent",
		Legs: []core.LegInput{{AccountID: f.id("5100"), Debit: "10"}, {AccountID: f.id("1000"), Credit: "10"}},
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	active, err := f.ledger.ListAccounts(ctx, f.company.ID, false)
	require.NoError(t, err)
	assert.Len(t, active, len(f.accounts)-1)

	tb, err := f.reports.TrialBalance(ctx, f.company.ID, fixedNow)
	require.NoError(t, err)
	assert.True(t, f.line(t, tb, "5100").Archived, "archived accounts stay in reports")
}

func TestCreateTransaction_ForeignCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Rates().Upsert(ctx, []core.ExchangeRate{
		{Base: "USD", Quote: "EUR", Rate: decimal.RequireFromString("0.8"), Date: date("2026-02-28"), Source: "test"},
	})
	require.NoError(t, err)

	tx, err := f.ledger.CreateTransaction(ctx, f.company.ID, core.TransactionInput{
		Date: "2026-03-01", Description: "EUR sale", Currency: "eur",
		Legs: []core.LegInput{{AccountID: f.id("1200"), Debit: "80"}, {AccountID: f.id("4000"), Credit: "80"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", tx.Currency)
	assert.Equal(t, "1.25", tx.ExchangeRate.String(), "inverse of the stored USD/EUR rate")
	assert.Equal(t, "100", tx.Legs[0].Debit.String())
	assert.Equal(t, "80", tx.Legs[0].Amount.String())

	explicit, err := f.ledger.CreateTransaction(ctx, f.company.ID, core.TransactionInput{
		Date: "2026-03-01", Description: "GBP sale", Currency: "GBP", ExchangeRate: "1.3",
		Legs: []core.LegInput{{AccountID: f.id("1200"), Debit: "10"}, {AccountID: f.id("4000"), Credit: "10"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "13", explicit.Legs[1].Credit.String())
}

func TestPostTransaction_GaplessNumbering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.post(t, "2026-01-10", "1000", "4000", "1")
	b := f.post(t, "2026-02-10", "1000", "4000", "1")
	c := f.post(t, "2027-01-02", "1000", "4000", "1")
	assert.Equal(t, "JE-2026-00001", a.Number)
	assert.Equal(t, "JE-2026-00002", b.Number)
	assert.Equal(t, "JE-2027-00001", c.Number)

	draft, err := f.ledger.CreateTransaction(ctx, f.company.ID, core.TransactionInput{
		Date: "2026-03-01", Description: "later",
		Legs: []core.LegInput{{AccountID: f.id("1000"), Debit: "5"}, {AccountID: f.id("4000"), Credit: "5"}},
	})
	require.NoError(t, err)
	assert.Empty(t, draft.Number, "drafts are unnumbered")

	posted, err := f.ledger.PostTransaction(ctx, f.company.ID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "JE-2026-00003", posted.Number)
	assert.NotNil(t, posted.PostedAt)

	_, err = f.ledger.PostTransaction(ctx, f.company.ID, draft.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.ledger.VoidTransaction(ctx, f.company.ID, draft.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState, "posted entries are reversed, never voided")
}

func TestReverseTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := f.post(t, "2026-03-01", "1000", "4000", "100")

	_, err := f.ledger.ReverseTransaction(ctx, f.company.ID, orig.ID, core.ReversalInput{Date: "2026-02-01"})
	assert.ErrorIs(t, err, core.ErrValidation, "reversal cannot predate the original")

	rev, err := f.ledger.ReverseTransaction(ctx, f.company.ID, orig.ID, core.ReversalInput{Date: "2026-03-05"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusPosted, rev.Status)
	assert.Equal(t, orig.ID, rev.ReversalOf)
	assert.Equal(t, orig.Number, rev.Reference)
	assert.Equal(t, "JE-2026-00002", rev.Number)
	assert.Equal(t, "Reversal of JE-2026-00001", rev.Description)
	assert.Equal(t, "100", rev.Legs[0].Credit.String())
	assert.True(t, rev.Legs[0].Debit.IsZero())

	stored, err := f.ledger.GetTransaction(ctx, f.company.ID, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, stored.ReversedBy)

	_, err = f.ledger.ReverseTransaction(ctx, f.company.ID, orig.ID, core.ReversalInput{})
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestCreateAccount_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreateAccount(ctx, f.company.ID, core.AccountInput{Number: "1000", Name: "Dup", Category: core.Asset})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = f.ledger.CreateAccount(ctx, f.company.ID, core.AccountInput{Number: "9000", Name: "Bad", Category: "income"})
	assert.ErrorIs(t, err, core.ErrValidation)

	a, err := f.ledger.CreateAccount(ctx, f.company.ID, core.AccountInput{Number: "1500", Name: "Accumulated Depreciation",
		Category: core.Asset, NormalBalance: core.NormalCredit})
	require.NoError(t, err)
	assert.Equal(t, core.NormalCredit, a.NormalBalance)

	_, err = f.ledger.CreateAccount(ctx, "unknown", core.AccountInput{Number: "1", Name: "x", Category: core.Asset})
	assert.ErrorIs(t, err, core.ErrCompanyNotFound)
}

func TestListTransactions_Filter(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-01-10", "1000", "4000", "1")
	f.post(t, "2026-02-10", "1000", "4000", "2")
	f.post(t, "2026-03-10", "1000", "4000", "3")

	txs, err := f.ledger.ListTransactions(context.Background(), f.company.ID, core.TransactionFilter{
		Status: core.StatusPosted, From: date("2026-02-01"), To: date("2026-03-31"), Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "JE-2026-00003", txs[0].Number, "newest first")
}
