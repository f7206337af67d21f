package core_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"afms/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfitAndLoss(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-02-20", "1000", "4000", "999") // before the period
	f.post(t, "2026-03-01", "1200", "4000", "500")
	f.post(t, "2026-03-05", "5100", "1000", "200")

	pl, err := f.reports.ProfitAndLoss(context.Background(), f.company.ID, date("2026-03-01"), date("2026-03-31"))
	require.NoError(t, err)
	assert.Equal(t, "500", pl.TotalRevenue.String())
	assert.Equal(t, "200", pl.TotalExpenses.String())
	assert.Equal(t, "300", pl.NetIncome.String())

	_, err = f.reports.ProfitAndLoss(context.Background(), f.company.ID, date("2026-03-31"), date("2026-03-01"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestBalanceSheet(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-01-01", "1000", "3000", "1000")
	f.post(t, "2026-01-10", "1200", "4000", "500")
	f.post(t, "2026-01-11", "5100", "2000", "150")

	bs, err := f.reports.BalanceSheet(context.Background(), f.company.ID, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "1500", bs.TotalAssets.String())
	assert.Equal(t, "150", bs.TotalLiabilities.String())
	assert.Equal(t, "1350", bs.TotalEquity.String())
	assert.True(t, bs.IsBalanced)

	last := bs.Equity[len(bs.Equity)-1]
	assert.Equal(t, core.CurrentEarningsName, last.Name)
	assert.Equal(t, "350", last.Balance.String())
}

func TestAccountStatement(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-01-01", "1000", "4000", "100")
	f.post(t, "2026-01-15", "1000", "4000", "200")
	f.post(t, "2026-02-01", "4000", "1000", "50")

	stmt, err := f.reports.AccountStatement(context.Background(), f.company.ID, f.id("1000"),
		date("2026-01-10"), date("2026-02-28"))
	require.NoError(t, err)
	assert.Equal(t, "100", stmt.OpeningBalance.String())
	require.Len(t, stmt.Lines, 2)
	assert.Equal(t, "300", stmt.Lines[0].RunningBalance.String())
	assert.Equal(t, "250", stmt.Lines[1].RunningBalance.String())
	assert.Equal(t, "250", stmt.ClosingBalance.String())

	_, err = f.reports.AccountStatement(context.Background(), f.company.ID, "missing", date("2026-01-01"), fixedNow)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRenderReport_TrialBalanceCSV(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-03-01", "1000", "4000", "100")
	tb, err := f.reports.TrialBalance(context.Background(), f.company.ID, fixedNow)
	require.NoError(t, err)

	out, err := core.RenderReport(tb, core.FormatCSV, "trial_balance-2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", out.ContentType)
	assert.Equal(t, "trial_balance-2026-03-15.csv", out.Filename)

	rows, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(rows), len(f.accounts))
	body := string(out.Body)
	assert.Contains(t, body, "100.00")
	assert.Contains(t, body, "Total")

	_, err = core.RenderReport(tb, "pdf", "x")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCSVSafe(t *testing.T) {
	assert.Equal(t, "'=SUM(A1)", core.CSVSafe("=SUM(A1)"))
	assert.Equal(t, "'+1", core.CSVSafe("+1"))
	assert.Equal(t, "Cash", core.CSVSafe("Cash"))
}

type stubExtractor struct {
	out *core.DocumentExtraction
	err error
	coa string
}

func (s *stubExtractor) Extract(_ context.Context, _ string, coa string) (*core.DocumentExtraction, error) {
	s.coa = coa
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.out
	return &cp, nil
}

func TestDocumentService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	disabled := core.NewDocumentService(nil, f.ledger, zapNop())
	_, err := disabled.Extract(ctx, f.company.ID, "invoice", false)
	assert.ErrorIs(t, err, core.ErrUnavailable)

	stub := &stubExtractor{out: &core.DocumentExtraction{
		Vendor: "Landlord", InvoiceNumber: "R-7", IssueDate: "2026-03-01", Currency: "usd", Total: "1,200.00",
		Summary: "March rent",
		Legs: []core.LegInput{
			{AccountID: f.id("5100"), Debit: "1,200.00"},
			{AccountID: f.id("2000"), Credit: "1200"},
		},
		Confidence: 0.95,
	}}
	svc := core.NewDocumentService(stub, f.ledger, zapNop())

	res, err := svc.Extract(ctx, f.company.ID, "RENT INVOICE R-7", true)
	require.NoError(t, err)
	assert.Contains(t, stub.coa, "5100 Rent Expense")
	require.NotNil(t, res.Draft)
	assert.Equal(t, core.StatusDraft, res.Draft.Status)
	assert.Equal(t, "R-7", res.Draft.Reference)
	assert.Equal(t, "1200", res.Draft.Legs[0].Debit.String())

	stub.out.Legs[1].Credit = "1000"
	_, err = svc.Extract(ctx, f.company.ID, "RENT INVOICE R-7", false)
	assert.ErrorIs(t, err, core.ErrValidation)

	stub.err = errors.New("model timeout")
	_, err = svc.Extract(ctx, f.company.ID, "RENT INVOICE R-7", false)
	assert.Error(t, err)
}
