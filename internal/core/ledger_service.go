package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountInput is the request to add an account to a company's chart.
// NormalBalance defaults from Category when empty.
type AccountInput struct {
	Number        string          `json:"number"`
	Name          string          `json:"name"`
	Category      AccountCategory `json:"category"`
	NormalBalance NormalBalance   `json:"normal_balance"`
}

// ReversalInput dates and describes a reversing entry. Empty fields default
// to today and "Reversal of <number>".
type ReversalInput struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

// LedgerService maintains the chart of accounts and the transaction journal
// of one tenant at a time.
type LedgerService interface {
	CreateAccount(ctx context.Context, companyID string, in AccountInput) (*Account, error)
	ListAccounts(ctx context.Context, companyID string, includeArchived bool) ([]Account, error)
	ArchiveAccount(ctx context.Context, companyID, accountID string) (*Account, error)

	// CreateTransaction validates in and stores it as a draft, or posts it
	// straight away when in.Post is set.
	CreateTransaction(ctx context.Context, companyID string, in TransactionInput) (*Transaction, error)
	GetTransaction(ctx context.Context, companyID, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, companyID string, f TransactionFilter) ([]Transaction, error)
	PostTransaction(ctx context.Context, companyID, id string) (*Transaction, error)
	VoidTransaction(ctx context.Context, companyID, id string) (*Transaction, error)

	// ReverseTransaction posts a new entry with every leg's sides swapped.
	// A posted transaction can be reversed once.
	ReverseTransaction(ctx context.Context, companyID, id string, in ReversalInput) (*Transaction, error)
}

type ledgerService struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewLedgerService(store Store, log *zap.Logger) LedgerService {
	return &ledgerService{store: store, log: log, now: time.Now}
}

func (s *ledgerService) tenant(ctx context.Context, companyID string) (*Company, TenantStore, error) {
	company, err := s.store.Companies().Get(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	return company, s.store.Tenant(company.ID), nil
}

// ── Accounts ─────────────────────────────────────────────────────────────────

func (s *ledgerService) CreateAccount(ctx context.Context, companyID string, in AccountInput) (*Account, error) {
	in.Number = strings.TrimSpace(in.Number)
	in.Name = strings.TrimSpace(in.Name)
	in.Category = AccountCategory(strings.ToLower(string(in.Category)))

	var problems ValidationErrors
	if in.Number == "" {
		problems = append(problems, invalid("number", "is required"))
	}
	if in.Name == "" {
		problems = append(problems, invalid("name", "is required"))
	}
	if !in.Category.Valid() {
		problems = append(problems, invalid("category", "must be one of asset, liability, equity, revenue, expense"))
	}
	if in.NormalBalance == "" {
		in.NormalBalance = DefaultNormalBalance(in.Category)
	} else if in.NormalBalance != NormalDebit && in.NormalBalance != NormalCredit {
		problems = append(problems, invalid("normal_balance", "must be debit or credit"))
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}

	a := &Account{
		ID:            uuid.NewString(),
		CompanyID:     tenant.CompanyID(),
		Number:        in.Number,
		Name:          in.Name,
		Category:      in.Category,
		NormalBalance: in.NormalBalance,
		CreatedAt:     s.now().UTC(),
	}
	if err := tenant.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ledgerService) ListAccounts(ctx context.Context, companyID string, includeArchived bool) ([]Account, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	accounts, err := tenant.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := accounts[:0]
	for _, a := range sortedAccounts(accounts) {
		if includeArchived || !a.Archived {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *ledgerService) ArchiveAccount(ctx context.Context, companyID, accountID string) (*Account, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := tenant.SetAccountArchived(ctx, accountID, true); err != nil {
		return nil, err
	}
	return tenant.GetAccount(ctx, accountID)
}

// ── Transactions ─────────────────────────────────────────────────────────────

func (s *ledgerService) CreateTransaction(ctx context.Context, companyID string, in TransactionInput) (*Transaction, error) {
	in.Normalize()

	var problems ValidationErrors
	date, err := ParseDate("date", in.Date)
	if err != nil {
		problems = append(problems, err.(*ValidationError))
	}
	if in.Description == "" {
		problems = append(problems, invalid("description", "is required"))
	}
	parsed, err := in.parseLegs()
	if err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			problems = append(problems, ve...)
		}
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	company, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if err := s.checkAccounts(ctx, tenant, parsed); err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = company.BaseCurrency
	}
	rate, err := s.resolveRate(ctx, company, currency, in.ExchangeRate, date)
	if err != nil {
		return nil, err
	}

	legs, err := toBaseLegs(parsed, rate, CurrencyPrecision(company.BaseCurrency))
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:           uuid.NewString(),
		CompanyID:    company.ID,
		Date:         date,
		Description:  in.Description,
		Reference:    strings.TrimSpace(in.Reference),
		Currency:     currency,
		ExchangeRate: rate,
		Status:       StatusDraft,
		Legs:         legs,
		CreatedAt:    s.now().UTC(),
	}
	if err := tenant.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	if !in.Post {
		return tx, nil
	}
	return tenant.PostTransaction(ctx, tx.ID, s.now().UTC())
}

// checkAccounts rejects legs that reference accounts outside the tenant's
// chart or archived accounts.
func (s *ledgerService) checkAccounts(ctx context.Context, tenant TenantStore, legs []parsedLeg) error {
	accounts, err := tenant.ListAccounts(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	var problems ValidationErrors
	for i, l := range legs {
		a, ok := byID[l.AccountID]
		switch {
		case !ok:
			problems = append(problems, invalid(fmt.Sprintf("legs[%d].account_id", i), "unknown account %s", l.AccountID))
		case a.Archived:
			problems = append(problems, invalid(fmt.Sprintf("legs[%d].account_id", i), "account %s is archived", a.Number))
		}
	}
	return problems.OrNil()
}

// resolveRate returns the rate converting one unit of currency into the
// company's base currency. An explicit rate wins; otherwise the stored rate
// for the transaction date is used, inverted when only the opposite pair
// is on file.
func (s *ledgerService) resolveRate(ctx context.Context, company *Company, currency, explicit string, date time.Time) (decimal.Decimal, error) {
	if explicit != "" {
		rate, err := decimal.NewFromString(explicit)
		if err != nil {
			return decimal.Zero, invalid("exchange_rate", "invalid exchange rate %q", explicit)
		}
		if !rate.IsPositive() {
			return decimal.Zero, invalid("exchange_rate", "must be > 0")
		}
		return rate, nil
	}
	if currency == company.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}

	rates := s.store.Rates()
	r, err := rates.Latest(ctx, currency, company.BaseCurrency, date)
	if err == nil {
		return r.Rate, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return decimal.Zero, fmt.Errorf("failed to look up exchange rate: %w", err)
	}

	r, err = rates.Latest(ctx, company.BaseCurrency, currency, date)
	if err == nil && r.Rate.IsPositive() {
		return decimal.NewFromInt(1).DivRound(r.Rate, 10), nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return decimal.Zero, fmt.Errorf("failed to look up exchange rate: %w", err)
	}
	return decimal.Zero, invalid("exchange_rate", "no rate on file for %s/%s on or before %s; supply exchange_rate",
		currency, company.BaseCurrency, date.Format(DateLayout))
}

func (s *ledgerService) GetTransaction(ctx context.Context, companyID, id string) (*Transaction, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return tenant.GetTransaction(ctx, id)
}

func (s *ledgerService) ListTransactions(ctx context.Context, companyID string, f TransactionFilter) ([]Transaction, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return tenant.ListTransactions(ctx, f)
}

func (s *ledgerService) PostTransaction(ctx context.Context, companyID, id string) (*Transaction, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	tx, err := tenant.PostTransaction(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Info("transaction posted",
		zap.String("company_id", tx.CompanyID),
		zap.String("transaction_id", tx.ID),
		zap.String("number", tx.Number))
	return tx, nil
}

func (s *ledgerService) VoidTransaction(ctx context.Context, companyID, id string) (*Transaction, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := tenant.VoidTransaction(ctx, id); err != nil {
		return nil, err
	}
	return tenant.GetTransaction(ctx, id)
}

func (s *ledgerService) ReverseTransaction(ctx context.Context, companyID, id string, in ReversalInput) (*Transaction, error) {
	_, tenant, err := s.tenant(ctx, companyID)
	if err != nil {
		return nil, err
	}
	original, err := tenant.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if original.Status != StatusPosted {
		return nil, fmt.Errorf("only posted transactions can be reversed: %w", ErrInvalidState)
	}
	if original.ReversedBy != "" {
		return nil, fmt.Errorf("transaction %s already reversed by %s: %w", original.Number, original.ReversedBy, ErrInvalidState)
	}

	date := DateOnly(s.now())
	if strings.TrimSpace(in.Date) != "" {
		if date, err = ParseDate("date", strings.TrimSpace(in.Date)); err != nil {
			return nil, err
		}
	}
	if date.Before(DateOnly(original.Date)) {
		return nil, invalid("date", "reversal cannot predate the original entry")
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "Reversal of " + original.Number
	}

	now := s.now().UTC()
	reversal := &Transaction{
		ID:           uuid.NewString(),
		CompanyID:    original.CompanyID,
		Date:         date,
		Description:  desc,
		Reference:    original.Number,
		Currency:     original.Currency,
		ExchangeRate: original.ExchangeRate,
		Status:       StatusPosted,
		ReversalOf:   original.ID,
		Legs:         make([]Leg, len(original.Legs)),
		CreatedAt:    now,
		PostedAt:     &now,
	}
	for i, l := range original.Legs {
		reversal.Legs[i] = Leg{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit, Amount: l.Amount, Memo: l.Memo}
	}

	if err := tenant.ReverseTransaction(ctx, original.ID, reversal); err != nil {
		return nil, err
	}
	s.log.Info("transaction reversed",
		zap.String("company_id", original.CompanyID),
		zap.String("original", original.Number),
		zap.String("reversal", reversal.Number))
	return reversal, nil
}
