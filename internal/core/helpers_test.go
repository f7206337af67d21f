package core_test

import (
	"context"
	"testing"
	"time"

	"afms/internal/core"
	"afms/internal/store/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fixture is one company with a small chart of accounts on a memory store.
type fixture struct {
	store    *memory.Store
	ledger   core.LedgerService
	reports  core.ReportingService
	company  *core.Company
	accounts map[string]*core.Account // by number
	tripped  int
}

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), accounts: map[string]*core.Account{}}
	log := zap.NewNop()

	f.ledger = core.NewLedgerService(f.store, log)
	f.reports = core.NewReportingService(f.store, log,
		core.WithClock(func() time.Time { return fixedNow }),
		core.WithUnbalancedHook(func() { f.tripped++ }))

	companies := core.NewCompanyService(f.store, f.ledger, log)
	c, err := companies.Create(ctx, core.CompanyInput{Code: "ACME", Name: "Acme Ltd", BaseCurrency: "USD"})
	require.NoError(t, err)
	f.company = c

	for _, in := range []core.AccountInput{
		{Number: "1000", Name: "Cash", Category: core.Asset},
		{Number: "1200", Name: "Accounts Receivable", Category: core.Asset},
		{Number: "2000", Name: "Accounts Payable", Category: core.Liability},
		{Number: "3000", Name: "Owner Capital", Category: core.Equity},
		{Number: "4000", Name: "Revenue", Category: core.Revenue},
		{Number: "5100", Name: "Rent Expense", Category: core.Expense},
	} {
		a, err := f.ledger.CreateAccount(ctx, c.ID, in)
		require.NoError(t, err)
		f.accounts[in.Number] = a
	}
	return f
}

func (f *fixture) id(number string) string { return f.accounts[number].ID }

// post records and posts a two-leg entry debiting dr and crediting cr.
func (f *fixture) post(t *testing.T, date, dr, cr, amount string) *core.Transaction {
	t.Helper()
	tx, err := f.ledger.CreateTransaction(context.Background(), f.company.ID, core.TransactionInput{
		Date:        date,
		Description: "test entry",
		Post:        true,
		Legs: []core.LegInput{
			{AccountID: f.id(dr), Debit: amount},
			{AccountID: f.id(cr), Credit: amount},
		},
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) line(t *testing.T, tb *core.TrialBalance, number string) core.TrialBalanceLine {
	t.Helper()
	for _, l := range tb.Lines {
		if l.AccountNumber == number {
			return l
		}
	}
	t.Fatalf("no trial balance line for account %s", number)
	return core.TrialBalanceLine{}
}

func date(s string) time.Time {
	d, err := time.Parse(core.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func zapNop() *zap.Logger { return zap.NewNop() }
