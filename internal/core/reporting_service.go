package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ── Report types ──────────────────────────────────────────────────────────────

// AccountLine is a single account entry in a P&L or Balance Sheet report.
// Balance is expressed in the sign convention for that section:
//   - P&L Revenue:  positive = income received
//   - P&L Expenses: positive = cost incurred
//   - BS Assets:    positive = net debit
//   - BS Liabilities/Equity: positive = net credit
type AccountLine struct {
	AccountID string          `json:"account_id"`
	Number    string          `json:"number"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
}

// PLReport is the Profit & Loss report for an inclusive date range.
type PLReport struct {
	CompanyID     string          `json:"company_id"`
	Currency      string          `json:"currency"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Revenue       []AccountLine   `json:"revenue"`
	Expenses      []AccountLine   `json:"expenses"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	NetIncome     decimal.Decimal `json:"net_income"`
}

// BSReport is the Balance Sheet as of a given date. Revenue and expense to
// date are folded into a synthetic current-earnings equity line, so
// IsBalanced holds for any correctly posted ledger without a closing entry.
type BSReport struct {
	CompanyID        string          `json:"company_id"`
	Currency         string          `json:"currency"`
	AsOf             string          `json:"as_of"`
	Assets           []AccountLine   `json:"assets"`
	Liabilities      []AccountLine   `json:"liabilities"`
	Equity           []AccountLine   `json:"equity"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	TotalEquity      decimal.Decimal `json:"total_equity"`
	IsBalanced       bool            `json:"is_balanced"`
}

// StatementLine represents a single leg in an account statement.
// RunningBalance is the cumulative net-debit position after this line.
type StatementLine struct {
	Date           string          `json:"date"`
	Number         string          `json:"number"`
	TransactionID  string          `json:"transaction_id"`
	Description    string          `json:"description"`
	Reference      string          `json:"reference,omitempty"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type AccountStatement struct {
	Account        Account         `json:"account"`
	From           string          `json:"from,omitempty"`
	To             string          `json:"to"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Lines          []StatementLine `json:"lines"`
}

// CurrentEarningsName labels the synthetic equity line on the balance sheet.
const CurrentEarningsName = "Current earnings"

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only reports over one tenant's ledger.
// Authorization is the caller's job; every method resolves the company first
// and returns ErrCompanyNotFound before touching ledger data.
type ReportingService interface {
	TrialBalance(ctx context.Context, companyID string, asOf time.Time) (*TrialBalance, error)

	// ProfitAndLoss covers posted transactions dated within [from, to].
	ProfitAndLoss(ctx context.Context, companyID string, from, to time.Time) (*PLReport, error)

	BalanceSheet(ctx context.Context, companyID string, asOf time.Time) (*BSReport, error)

	// AccountStatement lists the account's posted legs in [from, to], ordered
	// by date then number. A zero from means no lower bound.
	AccountStatement(ctx context.Context, companyID, accountID string, from, to time.Time) (*AccountStatement, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type reportingService struct {
	store  Store
	log    *zap.Logger
	now    func() time.Time
	onTrip func()
}

// ReportingOption customises NewReportingService.
type ReportingOption func(*reportingService)

// WithClock overrides the time source used for GeneratedAt.
func WithClock(now func() time.Time) ReportingOption {
	return func(s *reportingService) { s.now = now }
}

// WithUnbalancedHook registers a callback invoked for every trial balance
// that does not balance.
func WithUnbalancedHook(fn func()) ReportingOption {
	return func(s *reportingService) { s.onTrip = fn }
}

func NewReportingService(store Store, log *zap.Logger, opts ...ReportingOption) ReportingService {
	s := &reportingService{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *reportingService) snapshot(ctx context.Context, companyID string, through time.Time) (*Company, *LedgerSnapshot, error) {
	company, err := s.store.Companies().Get(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	snap, err := s.store.Tenant(company.ID).LedgerSnapshot(ctx, DateOnly(through))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	return company, snap, nil
}

// ── TrialBalance ──────────────────────────────────────────────────────────────

func (s *reportingService) TrialBalance(ctx context.Context, companyID string, asOf time.Time) (*TrialBalance, error) {
	company, snap, err := s.snapshot(ctx, companyID, asOf)
	if err != nil {
		return nil, err
	}

	tb := BuildTrialBalance(*company, snap.Accounts, snap.Transactions, asOf)
	tb.GeneratedAt = s.now().UTC()

	if !tb.IsBalanced {
		s.log.Warn("trial balance does not balance",
			zap.String("company_id", company.ID),
			zap.String("as_of", tb.AsOf.Format(DateLayout)),
			zap.String("total_debits", tb.TotalDebits.String()),
			zap.String("total_credits", tb.TotalCredits.String()),
			zap.String("difference", tb.Difference.String()))
		if s.onTrip != nil {
			s.onTrip()
		}
	}
	return tb, nil
}

// ── ProfitAndLoss ─────────────────────────────────────────────────────────────

func (s *reportingService) ProfitAndLoss(ctx context.Context, companyID string, from, to time.Time) (*PLReport, error) {
	from, to = DateOnly(from), DateOnly(to)
	if to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}

	company, snap, err := s.snapshot(ctx, companyID, to)
	if err != nil {
		return nil, err
	}

	debits, credits := sumByAccount(snap.Transactions, from, to)
	report := &PLReport{
		CompanyID: company.ID,
		Currency:  company.BaseCurrency,
		From:      from.Format(DateLayout),
		To:        to.Format(DateLayout),
	}

	for _, a := range sortedAccounts(snap.Accounts) {
		switch a.Category {
		case Revenue:
			bal := credits[a.ID].Sub(debits[a.ID])
			report.Revenue = append(report.Revenue, AccountLine{AccountID: a.ID, Number: a.Number, Name: a.Name, Balance: bal})
			report.TotalRevenue = report.TotalRevenue.Add(bal)
		case Expense:
			bal := debits[a.ID].Sub(credits[a.ID])
			report.Expenses = append(report.Expenses, AccountLine{AccountID: a.ID, Number: a.Number, Name: a.Name, Balance: bal})
			report.TotalExpenses = report.TotalExpenses.Add(bal)
		}
	}

	report.NetIncome = report.TotalRevenue.Sub(report.TotalExpenses)
	return report, nil
}

// ── BalanceSheet ──────────────────────────────────────────────────────────────

func (s *reportingService) BalanceSheet(ctx context.Context, companyID string, asOf time.Time) (*BSReport, error) {
	asOf = DateOnly(asOf)
	company, snap, err := s.snapshot(ctx, companyID, asOf)
	if err != nil {
		return nil, err
	}

	debits, credits := sumByAccount(snap.Transactions, time.Time{}, asOf)
	report := &BSReport{
		CompanyID: company.ID,
		Currency:  company.BaseCurrency,
		AsOf:      asOf.Format(DateLayout),
	}

	var earnings decimal.Decimal
	for _, a := range sortedAccounts(snap.Accounts) {
		netDebit := debits[a.ID].Sub(credits[a.ID])
		line := AccountLine{AccountID: a.ID, Number: a.Number, Name: a.Name}
		switch a.Category {
		case Asset:
			line.Balance = netDebit
			report.Assets = append(report.Assets, line)
			report.TotalAssets = report.TotalAssets.Add(line.Balance)
		case Liability:
			line.Balance = netDebit.Neg()
			report.Liabilities = append(report.Liabilities, line)
			report.TotalLiabilities = report.TotalLiabilities.Add(line.Balance)
		case Equity:
			line.Balance = netDebit.Neg()
			report.Equity = append(report.Equity, line)
			report.TotalEquity = report.TotalEquity.Add(line.Balance)
		case Revenue, Expense:
			earnings = earnings.Sub(netDebit)
		}
	}

	if !earnings.IsZero() {
		report.Equity = append(report.Equity, AccountLine{Name: CurrentEarningsName, Balance: earnings})
		report.TotalEquity = report.TotalEquity.Add(earnings)
	}

	p := CurrencyPrecision(company.BaseCurrency)
	report.IsBalanced = report.TotalAssets.Round(p).Equal(report.TotalLiabilities.Add(report.TotalEquity).Round(p))
	return report, nil
}

// ── AccountStatement ──────────────────────────────────────────────────────────

func (s *reportingService) AccountStatement(ctx context.Context, companyID, accountID string, from, to time.Time) (*AccountStatement, error) {
	to = DateOnly(to)
	if !from.IsZero() {
		from = DateOnly(from)
		if to.Before(from) {
			return nil, invalid("to", "must not be before from")
		}
	}

	company, err := s.store.Companies().Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	tenant := s.store.Tenant(company.ID)
	account, err := tenant.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snap, err := tenant.LedgerSnapshot(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	txs := make([]Transaction, 0, len(snap.Transactions))
	for _, tx := range snap.Transactions {
		if tx.Status == StatusPosted {
			txs = append(txs, tx)
		}
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].Number < txs[j].Number
	})

	stmt := &AccountStatement{Account: *account, To: to.Format(DateLayout)}
	if !from.IsZero() {
		stmt.From = from.Format(DateLayout)
	}

	running := decimal.Zero
	for _, tx := range txs {
		day := DateOnly(tx.Date)
		for _, leg := range tx.Legs {
			if leg.AccountID != account.ID {
				continue
			}
			running = running.Add(leg.Debit).Sub(leg.Credit)
			if !from.IsZero() && day.Before(from) {
				stmt.OpeningBalance = running
				continue
			}
			stmt.Lines = append(stmt.Lines, StatementLine{
				Date:           day.Format(DateLayout),
				Number:         tx.Number,
				TransactionID:  tx.ID,
				Description:    tx.Description,
				Reference:      tx.Reference,
				Debit:          leg.Debit,
				Credit:         leg.Credit,
				RunningBalance: running,
			})
		}
	}
	stmt.ClosingBalance = running
	return stmt, nil
}

// sumByAccount totals posted legs dated within [from, to]. A zero from means
// no lower bound.
func sumByAccount(txs []Transaction, from, to time.Time) (debits, credits map[string]decimal.Decimal) {
	debits = make(map[string]decimal.Decimal)
	credits = make(map[string]decimal.Decimal)
	for _, tx := range txs {
		day := DateOnly(tx.Date)
		if tx.Status != StatusPosted || day.After(to) || (!from.IsZero() && day.Before(from)) {
			continue
		}
		for _, leg := range tx.Legs {
			debits[leg.AccountID] = debits[leg.AccountID].Add(leg.Debit)
			credits[leg.AccountID] = credits[leg.AccountID].Add(leg.Credit)
		}
	}
	return debits, credits
}

func sortedAccounts(accounts []Account) []Account {
	out := make([]Account, len(accounts))
	copy(out, accounts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
