package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afms/internal/core"

	"go.uber.org/zap"
)

// Services bundles the core services the application layer delegates to.
type Services struct {
	Ledger    core.LedgerService
	Reports   core.ReportingService
	Rates     *core.RateRefresher
	Schedules *core.ScheduleService
	RBAC      *core.RBACService
	Users     *core.UserService
	Companies *core.CompanyService
	Settings  *core.SettingsService
	Plans     *core.PlanService
	Documents *core.DocumentService
}

type appService struct {
	svc Services
	log *zap.Logger
	now func() time.Time
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(svc Services, log *zap.Logger) ApplicationService {
	return &appService{svc: svc, log: log, now: time.Now}
}

// authorize checks tenant access before the permission so that a foreign
// tenant is always reported as access denied.
func authorize(actor core.Actor, companyID, perm string) error {
	if companyID == "" {
		return &core.ValidationError{Field: "company_id", Message: "is required"}
	}
	if !actor.CanAccess(companyID) {
		return fmt.Errorf("company %s: %w", companyID, core.ErrAccessDenied)
	}
	return requirePermission(actor, perm)
}

func requirePermission(actor core.Actor, perm string) error {
	if perm != "" && !actor.Can(perm) {
		return fmt.Errorf("missing permission %s: %w", perm, core.ErrAccessDenied)
	}
	return nil
}

func requireSuperadmin(actor core.Actor) error {
	if !actor.Superadmin {
		return fmt.Errorf("superadmin only: %w", core.ErrAccessDenied)
	}
	return nil
}

// dateOr parses value, falling back to def when value is empty.
func dateOr(field, value string, def time.Time) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return core.DateOnly(def), nil
	}
	return core.ParseDate(field, strings.TrimSpace(value))
}

// ── Auth & tenants ────────────────────────────────────────────────────────────

func (s *appService) Login(ctx context.Context, email, password string) (*core.Session, error) {
	sess, err := s.svc.Users.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			s.log.Info("login rejected", zap.String("email", strings.ToLower(strings.TrimSpace(email))))
		}
		return nil, err
	}
	return sess, nil
}

func (s *appService) Session(ctx context.Context, userID string) (*core.Session, error) {
	sess, err := s.svc.Users.Session(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrUnauthenticated
	}
	return sess, err
}

func (s *appService) CreateCompany(ctx context.Context, actor core.Actor, in core.CompanyInput) (*core.Company, error) {
	if err := requireSuperadmin(actor); err != nil {
		return nil, err
	}
	return s.svc.Companies.Create(ctx, in)
}

func (s *appService) GetCompany(ctx context.Context, actor core.Actor, companyID string) (*core.Company, error) {
	if err := authorize(actor, companyID, ""); err != nil {
		return nil, err
	}
	return s.svc.Companies.Get(ctx, companyID)
}

func (s *appService) ListCompanies(ctx context.Context, actor core.Actor) ([]core.Company, error) {
	if err := requireSuperadmin(actor); err != nil {
		return nil, err
	}
	return s.svc.Companies.List(ctx)
}

func (s *appService) CreateUser(ctx context.Context, actor core.Actor, companyID string, in core.UserInput) (*core.User, error) {
	if err := authorize(actor, companyID, core.PermRBACManage); err != nil {
		return nil, err
	}
	return s.svc.Users.CreateUser(ctx, companyID, in)
}

// ── Reports ───────────────────────────────────────────────────────────────────

func (s *appService) TrialBalance(ctx context.Context, actor core.Actor, req ReportRequest) (*core.TrialBalance, error) {
	if err := authorize(actor, req.CompanyID, core.PermReportsRead); err != nil {
		return nil, err
	}
	asOf, err := dateOr("as_of", req.AsOf, s.now())
	if err != nil {
		return nil, err
	}
	return s.svc.Reports.TrialBalance(ctx, req.CompanyID, asOf)
}

func (s *appService) ProfitAndLoss(ctx context.Context, actor core.Actor, req ReportRequest) (*core.PLReport, error) {
	if err := authorize(actor, req.CompanyID, core.PermReportsRead); err != nil {
		return nil, err
	}
	today := core.DateOnly(s.now())
	from, err := dateOr("from", req.From, time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	to, err := dateOr("to", req.To, today)
	if err != nil {
		return nil, err
	}
	return s.svc.Reports.ProfitAndLoss(ctx, req.CompanyID, from, to)
}

func (s *appService) BalanceSheet(ctx context.Context, actor core.Actor, req ReportRequest) (*core.BSReport, error) {
	if err := authorize(actor, req.CompanyID, core.PermReportsRead); err != nil {
		return nil, err
	}
	asOf, err := dateOr("as_of", req.AsOf, s.now())
	if err != nil {
		return nil, err
	}
	return s.svc.Reports.BalanceSheet(ctx, req.CompanyID, asOf)
}

func (s *appService) AccountStatement(ctx context.Context, actor core.Actor, req StatementRequest) (*core.AccountStatement, error) {
	if err := authorize(actor, req.CompanyID, core.PermReportsRead); err != nil {
		return nil, err
	}
	today := core.DateOnly(s.now())
	from, err := dateOr("from", req.From, today.AddDate(0, -1, 0))
	if err != nil {
		return nil, err
	}
	to, err := dateOr("to", req.To, today)
	if err != nil {
		return nil, err
	}
	return s.svc.Reports.AccountStatement(ctx, req.CompanyID, req.AccountID, from, to)
}

// ── Ledger ────────────────────────────────────────────────────────────────────

func (s *appService) ListAccounts(ctx context.Context, actor core.Actor, companyID string, includeArchived bool) ([]core.Account, error) {
	if err := authorize(actor, companyID, core.PermAccountsRead); err != nil {
		return nil, err
	}
	return s.svc.Ledger.ListAccounts(ctx, companyID, includeArchived)
}

func (s *appService) CreateAccount(ctx context.Context, actor core.Actor, companyID string, in core.AccountInput) (*core.Account, error) {
	if err := authorize(actor, companyID, core.PermAccountsWrite); err != nil {
		return nil, err
	}
	return s.svc.Ledger.CreateAccount(ctx, companyID, in)
}

func (s *appService) ArchiveAccount(ctx context.Context, actor core.Actor, companyID, accountID string) (*core.Account, error) {
	if err := authorize(actor, companyID, core.PermAccountsWrite); err != nil {
		return nil, err
	}
	return s.svc.Ledger.ArchiveAccount(ctx, companyID, accountID)
}

func (s *appService) ListTransactions(ctx context.Context, actor core.Actor, req TransactionQuery) ([]core.Transaction, error) {
	if err := authorize(actor, req.CompanyID, core.PermTransactionsRead); err != nil {
		return nil, err
	}
	var (
		f        core.TransactionFilter
		problems core.ValidationErrors
	)
	switch status := core.TransactionStatus(strings.ToLower(req.Status)); status {
	case "", core.StatusDraft, core.StatusPosted, core.StatusVoid:
		f.Status = status
	default:
		problems = append(problems, &core.ValidationError{Field: "status", Message: "must be draft, posted or void"})
	}
	var ve *core.ValidationError
	if req.From != "" {
		from, err := core.ParseDate("from", req.From)
		if errors.As(err, &ve) {
			problems = append(problems, ve)
		}
		f.From = from
	}
	if req.To != "" {
		to, err := core.ParseDate("to", req.To)
		if errors.As(err, &ve) {
			problems = append(problems, ve)
		}
		f.To = to
	}
	if req.Limit < 0 {
		problems = append(problems, &core.ValidationError{Field: "limit", Message: "must not be negative"})
	}
	f.Limit = req.Limit
	if err := problems.OrNil(); err != nil {
		return nil, err
	}
	return s.svc.Ledger.ListTransactions(ctx, req.CompanyID, f)
}

func (s *appService) GetTransaction(ctx context.Context, actor core.Actor, companyID, id string) (*core.Transaction, error) {
	if err := authorize(actor, companyID, core.PermTransactionsRead); err != nil {
		return nil, err
	}
	return s.svc.Ledger.GetTransaction(ctx, companyID, id)
}

func (s *appService) CreateTransaction(ctx context.Context, actor core.Actor, companyID string, in core.TransactionInput) (*core.Transaction, error) {
	if err := authorize(actor, companyID, core.PermTransactionsWrite); err != nil {
		return nil, err
	}
	return s.svc.Ledger.CreateTransaction(ctx, companyID, in)
}

func (s *appService) PostTransaction(ctx context.Context, actor core.Actor, companyID, id string) (*core.Transaction, error) {
	if err := authorize(actor, companyID, core.PermTransactionsWrite); err != nil {
		return nil, err
	}
	return s.svc.Ledger.PostTransaction(ctx, companyID, id)
}

func (s *appService) VoidTransaction(ctx context.Context, actor core.Actor, companyID, id string) (*core.Transaction, error) {
	if err := authorize(actor, companyID, core.PermTransactionsWrite); err != nil {
		return nil, err
	}
	return s.svc.Ledger.VoidTransaction(ctx, companyID, id)
}

func (s *appService) ReverseTransaction(ctx context.Context, actor core.Actor, companyID, id string, in core.ReversalInput) (*core.Transaction, error) {
	if err := authorize(actor, companyID, core.PermTransactionsWrite); err != nil {
		return nil, err
	}
	return s.svc.Ledger.ReverseTransaction(ctx, companyID, id, in)
}

// ── Exchange rates ────────────────────────────────────────────────────────────

func (s *appService) ExchangeRates(ctx context.Context, actor core.Actor, req RatesRequest) (*RatesResult, error) {
	if err := requirePermission(actor, core.PermRatesRead); err != nil {
		return nil, err
	}
	base := strings.ToUpper(strings.TrimSpace(req.Base))
	if base == "" {
		base = "USD"
	}
	day, err := dateOr("date", req.Date, s.now())
	if err != nil {
		return nil, err
	}

	res := &RatesResult{Base: base, Date: day.Format(core.DateLayout)}
	if req.Quote != "" {
		rate, err := s.svc.Rates.Lookup(ctx, base, req.Quote, day)
		if err != nil {
			return nil, err
		}
		res.Rates = []core.ExchangeRate{*rate}
		return res, nil
	}
	rates, err := s.svc.Rates.List(ctx, base, day)
	if err != nil {
		return nil, err
	}
	res.Rates = rates
	return res, nil
}

func (s *appService) RefreshRates(ctx context.Context, actor core.Actor) (*core.RefreshResult, error) {
	if err := requirePermission(actor, core.PermRatesManage); err != nil {
		return nil, err
	}
	return s.svc.Rates.Refresh(ctx)
}

// ── Report schedules ──────────────────────────────────────────────────────────

func (s *appService) ListSchedules(ctx context.Context, actor core.Actor, companyID string) ([]core.ReportSchedule, error) {
	if err := authorize(actor, companyID, core.PermSchedulesRead); err != nil {
		return nil, err
	}
	return s.svc.Schedules.List(ctx, companyID)
}

func (s *appService) GetSchedule(ctx context.Context, actor core.Actor, companyID, id string) (*core.ReportSchedule, error) {
	if err := authorize(actor, companyID, core.PermSchedulesRead); err != nil {
		return nil, err
	}
	return s.svc.Schedules.Get(ctx, companyID, id)
}

func (s *appService) CreateSchedule(ctx context.Context, actor core.Actor, companyID string, in core.ScheduleInput) (*core.ReportSchedule, error) {
	if err := authorize(actor, companyID, core.PermSchedulesManage); err != nil {
		return nil, err
	}
	return s.svc.Schedules.Create(ctx, companyID, in)
}

func (s *appService) DeleteSchedule(ctx context.Context, actor core.Actor, companyID, id string) error {
	if err := authorize(actor, companyID, core.PermSchedulesManage); err != nil {
		return err
	}
	return s.svc.Schedules.Delete(ctx, companyID, id)
}

func (s *appService) ScheduleHistory(ctx context.Context, actor core.Actor, companyID, id string, limit int) ([]core.ScheduledReportRun, error) {
	if err := authorize(actor, companyID, core.PermSchedulesRead); err != nil {
		return nil, err
	}
	return s.svc.Schedules.History(ctx, companyID, id, limit)
}

func (s *appService) RunDueReports(ctx context.Context, actor core.Actor) (int, error) {
	if err := requireSuperadmin(actor); err != nil {
		return 0, err
	}
	return s.svc.Schedules.RunDue(ctx)
}

// ── Settings & plans ──────────────────────────────────────────────────────────

func (s *appService) GetSettings(ctx context.Context, actor core.Actor, companyID string) (*core.CompanySettings, error) {
	if err := authorize(actor, companyID, core.PermSettingsRead); err != nil {
		return nil, err
	}
	return s.svc.Settings.Get(ctx, companyID)
}

func (s *appService) PutSettings(ctx context.Context, actor core.Actor, companyID string, in core.CompanySettings) (*core.CompanySettings, error) {
	if err := authorize(actor, companyID, core.PermSettingsManage); err != nil {
		return nil, err
	}
	return s.svc.Settings.Put(ctx, companyID, in)
}

func (s *appService) ListPlans(ctx context.Context, actor core.Actor) ([]core.Plan, error) {
	return s.svc.Plans.List(ctx, !actor.Can(core.PermPlansManage))
}

func (s *appService) CreatePlan(ctx context.Context, actor core.Actor, in core.PlanInput) (*core.Plan, error) {
	if err := requirePermission(actor, core.PermPlansManage); err != nil {
		return nil, err
	}
	return s.svc.Plans.Create(ctx, in)
}

func (s *appService) UpdatePlan(ctx context.Context, actor core.Actor, id string, in core.PlanInput) (*core.Plan, error) {
	if err := requirePermission(actor, core.PermPlansManage); err != nil {
		return nil, err
	}
	return s.svc.Plans.Update(ctx, id, in)
}

func (s *appService) DeletePlan(ctx context.Context, actor core.Actor, id string) error {
	if err := requirePermission(actor, core.PermPlansManage); err != nil {
		return err
	}
	return s.svc.Plans.Delete(ctx, id)
}

// ── RBAC ──────────────────────────────────────────────────────────────────────

func (s *appService) BootstrapRBAC(ctx context.Context, actor core.Actor, su core.SuperadminInput) (*core.BootstrapResult, error) {
	if err := requireSuperadmin(actor); err != nil {
		return nil, err
	}
	return s.svc.RBAC.Bootstrap(ctx, su)
}

func (s *appService) ListPermissions(ctx context.Context, actor core.Actor) ([]core.Permission, error) {
	if err := requirePermission(actor, core.PermRBACRead); err != nil {
		return nil, err
	}
	return s.svc.RBAC.ListPermissions(ctx)
}

func (s *appService) ListRoles(ctx context.Context, actor core.Actor) ([]core.Role, error) {
	if err := requirePermission(actor, core.PermRBACRead); err != nil {
		return nil, err
	}
	return s.svc.RBAC.ListRoles(ctx)
}

// SaveRole and DeleteRole change platform-wide role definitions, so only a
// superadmin may call them even though company admins hold rbac:manage.
func (s *appService) SaveRole(ctx context.Context, actor core.Actor, role core.Role) (*core.Role, error) {
	if err := requireSuperadmin(actor); err != nil {
		return nil, err
	}
	return s.svc.RBAC.SaveRole(ctx, role)
}

func (s *appService) DeleteRole(ctx context.Context, actor core.Actor, name string) error {
	if err := requireSuperadmin(actor); err != nil {
		return err
	}
	return s.svc.RBAC.DeleteRole(ctx, name)
}

func (s *appService) AssignRoles(ctx context.Context, actor core.Actor, userID string, roles []string) (*core.User, error) {
	if err := requirePermission(actor, core.PermRBACManage); err != nil {
		return nil, err
	}
	return s.svc.RBAC.AssignRoles(ctx, actor, userID, roles)
}

func (s *appService) Menus(ctx context.Context, actor core.Actor) ([]core.MenuItem, error) {
	return s.svc.RBAC.MenusFor(ctx, actor)
}

// ── Documents ─────────────────────────────────────────────────────────────────

func (s *appService) ExtractDocument(ctx context.Context, actor core.Actor, req ExtractRequest) (*core.DocumentResult, error) {
	if err := authorize(actor, req.CompanyID, core.PermDocumentsWrite); err != nil {
		return nil, err
	}
	return s.svc.Documents.Extract(ctx, req.CompanyID, req.Document, req.CreateDraft)
}

func (s *appService) DocumentsEnabled() bool {
	return s.svc.Documents != nil && s.svc.Documents.Enabled()
}
