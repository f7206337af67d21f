package app

import (
	"context"

	"afms/internal/core"
)

// SystemActor runs operator commands (CLI, bootstrap) that have no logged-in
// user behind them.
var SystemActor = core.Actor{UserID: "system", Superadmin: true}

// ApplicationService is the single interface the UI adapters (Web, CLI) call.
// It authorises the actor against the target tenant and the required
// permission, then delegates to the core services. Implementations contain no
// HTTP or terminal concerns.
type ApplicationService interface {
	// Login verifies credentials and returns the session with its resolved
	// permissions. Any credential failure is core.ErrUnauthenticated.
	Login(ctx context.Context, email, password string) (*core.Session, error)

	// Session reloads an authenticated user's session, picking up role changes.
	Session(ctx context.Context, userID string) (*core.Session, error)

	CreateCompany(ctx context.Context, actor core.Actor, in core.CompanyInput) (*core.Company, error)
	GetCompany(ctx context.Context, actor core.Actor, companyID string) (*core.Company, error)
	ListCompanies(ctx context.Context, actor core.Actor) ([]core.Company, error)
	CreateUser(ctx context.Context, actor core.Actor, companyID string, in core.UserInput) (*core.User, error)

	// TrialBalance returns the trial balance as of req.AsOf (today when empty).
	TrialBalance(ctx context.Context, actor core.Actor, req ReportRequest) (*core.TrialBalance, error)
	ProfitAndLoss(ctx context.Context, actor core.Actor, req ReportRequest) (*core.PLReport, error)
	BalanceSheet(ctx context.Context, actor core.Actor, req ReportRequest) (*core.BSReport, error)
	AccountStatement(ctx context.Context, actor core.Actor, req StatementRequest) (*core.AccountStatement, error)

	ListAccounts(ctx context.Context, actor core.Actor, companyID string, includeArchived bool) ([]core.Account, error)
	CreateAccount(ctx context.Context, actor core.Actor, companyID string, in core.AccountInput) (*core.Account, error)
	ArchiveAccount(ctx context.Context, actor core.Actor, companyID, accountID string) (*core.Account, error)

	ListTransactions(ctx context.Context, actor core.Actor, req TransactionQuery) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, actor core.Actor, companyID, id string) (*core.Transaction, error)
	CreateTransaction(ctx context.Context, actor core.Actor, companyID string, in core.TransactionInput) (*core.Transaction, error)
	PostTransaction(ctx context.Context, actor core.Actor, companyID, id string) (*core.Transaction, error)
	VoidTransaction(ctx context.Context, actor core.Actor, companyID, id string) (*core.Transaction, error)
	ReverseTransaction(ctx context.Context, actor core.Actor, companyID, id string, in core.ReversalInput) (*core.Transaction, error)

	// ExchangeRates lists stored rates for a base currency and day. Rates are
	// platform-wide, so no tenant is involved.
	ExchangeRates(ctx context.Context, actor core.Actor, req RatesRequest) (*RatesResult, error)
	RefreshRates(ctx context.Context, actor core.Actor) (*core.RefreshResult, error)

	ListSchedules(ctx context.Context, actor core.Actor, companyID string) ([]core.ReportSchedule, error)
	GetSchedule(ctx context.Context, actor core.Actor, companyID, id string) (*core.ReportSchedule, error)
	CreateSchedule(ctx context.Context, actor core.Actor, companyID string, in core.ScheduleInput) (*core.ReportSchedule, error)
	DeleteSchedule(ctx context.Context, actor core.Actor, companyID, id string) error
	ScheduleHistory(ctx context.Context, actor core.Actor, companyID, id string, limit int) ([]core.ScheduledReportRun, error)

	// RunDueReports executes every due schedule once. Superadmin only.
	RunDueReports(ctx context.Context, actor core.Actor) (int, error)

	GetSettings(ctx context.Context, actor core.Actor, companyID string) (*core.CompanySettings, error)
	PutSettings(ctx context.Context, actor core.Actor, companyID string, in core.CompanySettings) (*core.CompanySettings, error)

	// ListPlans returns active plans to everyone; plan managers also see
	// inactive ones.
	ListPlans(ctx context.Context, actor core.Actor) ([]core.Plan, error)
	CreatePlan(ctx context.Context, actor core.Actor, in core.PlanInput) (*core.Plan, error)
	UpdatePlan(ctx context.Context, actor core.Actor, id string, in core.PlanInput) (*core.Plan, error)
	DeletePlan(ctx context.Context, actor core.Actor, id string) error

	// BootstrapRBAC seeds permissions, roles and menus and upserts the
	// superadmin. Safe to run repeatedly.
	BootstrapRBAC(ctx context.Context, actor core.Actor, su core.SuperadminInput) (*core.BootstrapResult, error)
	ListPermissions(ctx context.Context, actor core.Actor) ([]core.Permission, error)
	ListRoles(ctx context.Context, actor core.Actor) ([]core.Role, error)
	SaveRole(ctx context.Context, actor core.Actor, role core.Role) (*core.Role, error)
	DeleteRole(ctx context.Context, actor core.Actor, name string) error
	AssignRoles(ctx context.Context, actor core.Actor, userID string, roles []string) (*core.User, error)
	Menus(ctx context.Context, actor core.Actor) ([]core.MenuItem, error)

	// ExtractDocument asks the AI agent to read a document and optionally
	// stores the proposed entry as a draft. core.ErrUnavailable when AI is off.
	ExtractDocument(ctx context.Context, actor core.Actor, req ExtractRequest) (*core.DocumentResult, error)
	DocumentsEnabled() bool
}
