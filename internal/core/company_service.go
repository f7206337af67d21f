package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompanyInput is the request to register a tenant.
type CompanyInput struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
	// SeedChart creates the default chart of accounts.
	SeedChart bool `json:"seed_chart"`
}

// DefaultChart is the starter chart of accounts for a new company.
var DefaultChart = []AccountInput{
	{Number: "1000", Name: "Cash", Category: Asset},
	{Number: "1100", Name: "Bank Account", Category: Asset},
	{Number: "1200", Name: "Accounts Receivable", Category: Asset},
	{Number: "1300", Name: "Furniture & Fixtures", Category: Asset},
	{Number: "1400", Name: "Inventory", Category: Asset},
	{Number: "2000", Name: "Accounts Payable", Category: Liability},
	{Number: "2100", Name: "Short-Term Loans", Category: Liability},
	{Number: "3000", Name: "Owner Capital", Category: Equity},
	{Number: "3100", Name: "Retained Earnings", Category: Equity},
	{Number: "4000", Name: "Sales Revenue", Category: Revenue},
	{Number: "4100", Name: "Service Revenue", Category: Revenue},
	{Number: "5000", Name: "Cost of Goods Sold", Category: Expense},
	{Number: "5100", Name: "Rent Expense", Category: Expense},
	{Number: "5200", Name: "Salary Expense", Category: Expense},
	{Number: "5300", Name: "Utilities Expense", Category: Expense},
}

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// CompanyService registers tenants.
type CompanyService struct {
	store  Store
	ledger LedgerService
	log    *zap.Logger
	now    func() time.Time
}

func NewCompanyService(store Store, ledger LedgerService, log *zap.Logger) *CompanyService {
	return &CompanyService{store: store, ledger: ledger, log: log, now: time.Now}
}

// Create registers a company with default settings and, when requested,
// the default chart of accounts.
func (s *CompanyService) Create(ctx context.Context, in CompanyInput) (*Company, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.BaseCurrency = strings.ToUpper(strings.TrimSpace(in.BaseCurrency))

	var problems ValidationErrors
	if in.Code == "" {
		problems = append(problems, invalid("code", "is required"))
	}
	if in.Name == "" {
		problems = append(problems, invalid("name", "is required"))
	}
	if !currencyCode.MatchString(in.BaseCurrency) {
		problems = append(problems, invalid("base_currency", "must be a 3-letter ISO 4217 code"))
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &Company{
		ID:           uuid.NewString(),
		Code:         in.Code,
		Name:         in.Name,
		BaseCurrency: in.BaseCurrency,
		CreatedAt:    now,
	}
	if err := s.store.Companies().Create(ctx, c); err != nil {
		return nil, err
	}

	settings := DefaultSettings(c.ID)
	settings.UpdatedAt = now
	if err := s.store.Tenant(c.ID).PutSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to store default settings: %w", err)
	}

	if in.SeedChart {
		for _, a := range DefaultChart {
			if _, err := s.ledger.CreateAccount(ctx, c.ID, a); err != nil {
				return nil, fmt.Errorf("failed to seed account %s: %w", a.Number, err)
			}
		}
	}

	s.log.Info("company created",
		zap.String("company_id", c.ID),
		zap.String("code", c.Code),
		zap.Bool("seeded_chart", in.SeedChart))
	return c, nil
}

func (s *CompanyService) Get(ctx context.Context, id string) (*Company, error) {
	return s.store.Companies().Get(ctx, id)
}

func (s *CompanyService) List(ctx context.Context) ([]Company, error) {
	return s.store.Companies().List(ctx)
}
