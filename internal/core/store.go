package core

import (
	"context"
	"time"
)

// Store is the root of persistence. Every ledger read or write goes through
// a TenantStore obtained from Tenant, so tenant isolation is a parameter of
// the call rather than an ambient filter.
//
// Implementations: store/postgres (pgx), store/mongo (mongo-driver) and
// store/memory (tests and local development).
type Store interface {
	Companies() CompanyRepository
	Tenant(companyID string) TenantStore
	Rates() RateRepository
	Schedules() ScheduleRepository
	Users() UserRepository
	RBAC() RBACRepository
	Plans() PlanRepository

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// LedgerSnapshot is a consistent view of one tenant's chart of accounts and
// posted transactions. Implementations must never expose a transaction with
// only some of its legs.
type LedgerSnapshot struct {
	Accounts     []Account
	Transactions []Transaction
}

// TenantStore is bound to a single company. None of its methods can read or
// write another company's rows.
type TenantStore interface {
	CompanyID() string

	// LedgerSnapshot returns all accounts (archived included) and every posted
	// transaction dated on or before through.
	LedgerSnapshot(ctx context.Context, through time.Time) (*LedgerSnapshot, error)

	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	// CreateAccount returns ErrConflict when the account number is taken.
	CreateAccount(ctx context.Context, a *Account) error
	SetAccountArchived(ctx context.Context, id string, archived bool) error

	// CreateTransaction stores t as given. Validation is the caller's job; a
	// posted transaction inserted here receives no number.
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	// PostTransaction moves a draft to posted and assigns the next number in
	// the company's sequence for the transaction's year, atomically.
	// Returns ErrInvalidState when the transaction is not a draft.
	PostTransaction(ctx context.Context, id string, postedAt time.Time) (*Transaction, error)
	// VoidTransaction moves a draft to void. Returns ErrInvalidState otherwise.
	VoidTransaction(ctx context.Context, id string) error
	// ReverseTransaction posts reversal and links it to the original in one
	// atomic step. Returns ErrInvalidState if the original is not posted or
	// is already reversed.
	ReverseTransaction(ctx context.Context, originalID string, reversal *Transaction) error

	// GetSettings returns ErrNotFound when nothing has been saved yet.
	GetSettings(ctx context.Context) (*CompanySettings, error)
	PutSettings(ctx context.Context, s *CompanySettings) error
}

// TransactionFilter narrows ListTransactions. Zero values mean no bound.
type TransactionFilter struct {
	Status TransactionStatus
	From   time.Time
	To     time.Time
	Limit  int
}

type CompanyRepository interface {
	// Create returns ErrConflict when the code is taken.
	Create(ctx context.Context, c *Company) error
	// Get returns ErrCompanyNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Company, error)
	List(ctx context.Context) ([]Company, error)
}

type RateRepository interface {
	// HasRatesFor reports whether any record exists for base on day.
	HasRatesFor(ctx context.Context, base string, day time.Time) (bool, error)
	// Upsert writes rates keyed on (base, quote, date) and returns how many
	// records were written.
	Upsert(ctx context.Context, rates []ExchangeRate) (int, error)
	// Latest returns the newest record for the pair dated on or before day,
	// or ErrNotFound.
	Latest(ctx context.Context, base, quote string, day time.Time) (*ExchangeRate, error)
	List(ctx context.Context, base string, day time.Time) ([]ExchangeRate, error)
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *ReportSchedule) error
	Get(ctx context.Context, companyID, id string) (*ReportSchedule, error)
	List(ctx context.Context, companyID string) ([]ReportSchedule, error)
	Delete(ctx context.Context, companyID, id string) error

	// ListDue returns active schedules of every tenant with NextRunAt <= now.
	ListDue(ctx context.Context, now time.Time) ([]ReportSchedule, error)
	// Claim advances NextRunAt from expected to next only if it still equals
	// expected. Exactly one concurrent caller observes true.
	Claim(ctx context.Context, id string, expected, next, claimedAt time.Time) (bool, error)

	AppendRun(ctx context.Context, run *ScheduledReportRun) error
	ListRuns(ctx context.Context, companyID, scheduleID string, limit int) ([]ScheduledReportRun, error)
}

type UserRepository interface {
	// Upsert inserts or updates the user keyed by email.
	Upsert(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetRoles(ctx context.Context, id string, roles []string) error
}

type RBACRepository interface {
	UpsertPermission(ctx context.Context, p Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)

	UpsertRole(ctx context.Context, r Role) error
	GetRole(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	DeleteRole(ctx context.Context, name string) error

	UpsertMenu(ctx context.Context, m MenuItem) error
	ListMenus(ctx context.Context) ([]MenuItem, error)
}

type PlanRepository interface {
	// Create returns ErrConflict when the code is taken.
	Create(ctx context.Context, p *Plan) error
	Update(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context, activeOnly bool) ([]Plan, error)
	Delete(ctx context.Context, id string) error
}
