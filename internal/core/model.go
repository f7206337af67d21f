package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

type AccountCategory string

const (
	Asset     AccountCategory = "asset"
	Liability AccountCategory = "liability"
	Equity    AccountCategory = "equity"
	Revenue   AccountCategory = "revenue"
	Expense   AccountCategory = "expense"
)

// Valid reports whether c is one of the five ledger categories.
func (c AccountCategory) Valid() bool {
	switch c {
	case Asset, Liability, Equity, Revenue, Expense:
		return true
	}
	return false
}

// NormalBalance is the side on which an account's balance is expected to be positive.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "debit"
	NormalCredit NormalBalance = "credit"
)

// DefaultNormalBalance returns the conventional direction for a category.
func DefaultNormalBalance(c AccountCategory) NormalBalance {
	switch c {
	case Asset, Expense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

type Company struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account is never deleted; Archived hides it from posting but not from reports.
type Account struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id"`
	Number        string          `json:"number"`
	Name          string          `json:"name"`
	Category      AccountCategory `json:"category"`
	NormalBalance NormalBalance   `json:"normal_balance"`
	Archived      bool            `json:"archived"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TransactionStatus string

const (
	StatusDraft  TransactionStatus = "draft"
	StatusPosted TransactionStatus = "posted"
	StatusVoid   TransactionStatus = "void"
)

// Transaction is a double-entry ledger event. Number is assigned when the
// transaction is posted and is gapless per company and calendar year.
type Transaction struct {
	ID           string            `json:"id"`
	CompanyID    string            `json:"company_id"`
	Number       string            `json:"number,omitempty"`
	Date         time.Time         `json:"date"`
	Description  string            `json:"description"`
	Reference    string            `json:"reference,omitempty"`
	Currency     string            `json:"currency"`
	ExchangeRate decimal.Decimal   `json:"exchange_rate"`
	Status       TransactionStatus `json:"status"`
	ReversalOf   string            `json:"reversal_of,omitempty"`
	ReversedBy   string            `json:"reversed_by,omitempty"`
	Legs         []Leg             `json:"legs"`
	CreatedAt    time.Time         `json:"created_at"`
	PostedAt     *time.Time        `json:"posted_at,omitempty"`
}

// Leg is one debit or credit line. Debit and Credit are in the company base
// currency; Amount is the same value in the transaction currency.
type Leg struct {
	AccountID string          `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
}

// Totals returns the sum of debits and credits across all legs.
func (t *Transaction) Totals() (debits, credits decimal.Decimal) {
	for _, l := range t.Legs {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

type ExchangeRate struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Rate      decimal.Decimal `json:"rate"`
	Date      time.Time       `json:"date"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type ReportType string

const (
	ReportTrialBalance  ReportType = "trial_balance"
	ReportProfitAndLoss ReportType = "profit_and_loss"
	ReportBalanceSheet  ReportType = "balance_sheet"
)

type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
)

// ReportSchedule is a recurring report for one company. NextRunAt is the
// claim token: runners advance it with a conditional update.
type ReportSchedule struct {
	ID         string       `json:"id"`
	CompanyID  string       `json:"company_id"`
	Name       string       `json:"name"`
	ReportType ReportType   `json:"report_type"`
	Format     ReportFormat `json:"format"`
	Recurrence string       `json:"recurrence"`
	Timezone   string       `json:"timezone"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	Active     bool         `json:"active"`
	NextRunAt  time.Time    `json:"next_run_at"`
	LastRunAt  *time.Time   `json:"last_run_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ScheduledReportRun is the audit record for one executed occurrence.
type ScheduledReportRun struct {
	ID           string    `json:"id"`
	ScheduleID   string    `json:"schedule_id"`
	CompanyID    string    `json:"company_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
	Worker       string    `json:"worker,omitempty"`
	IsBalanced   *bool     `json:"is_balanced,omitempty"`
	Payload      []byte    `json:"-"`
}

type Permission struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
}

type Role struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	System      bool     `json:"system" yaml:"system"`
}

type MenuItem struct {
	Key        string `json:"key" yaml:"key"`
	Label      string `json:"label" yaml:"label"`
	Path       string `json:"path" yaml:"path"`
	Permission string `json:"permission,omitempty" yaml:"permission"`
	Parent     string `json:"parent,omitempty" yaml:"parent"`
	Order      int    `json:"order" yaml:"order"`
}

// User is scoped to one company unless Superadmin is set.
type User struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id,omitempty"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	Superadmin   bool      `json:"superadmin"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Plan struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Interval  string          `json:"interval"`
	MaxUsers  int             `json:"max_users"`
	Features  []string        `json:"features"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CompanySettings struct {
	CompanyID           string       `json:"company_id"`
	FiscalYearStart     string       `json:"fiscal_year_start"`
	Timezone            string       `json:"timezone"`
	DateFormat          string       `json:"date_format"`
	DefaultReportFormat ReportFormat `json:"default_report_format"`
	ReportRecipients    []string     `json:"report_recipients"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	UserID      string
	CompanyID   string
	Permissions []string
	Superadmin  bool
}

// Can reports whether the actor holds perm. Superadmins hold every permission.
func (a Actor) Can(perm string) bool {
	if a.Superadmin {
		return true
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// CanAccess reports whether the actor may read or write companyID's data.
func (a Actor) CanAccess(companyID string) bool {
	return a.Superadmin || (companyID != "" && a.CompanyID == companyID)
}

// DateOnly truncates t to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD value into a UTC calendar day. field names
// the input in the returned ValidationError.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: "must be in YYYY-MM-DD format"}
	}
	return t, nil
}
