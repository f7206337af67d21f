package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanInput is the writable part of a subscription plan.
type PlanInput struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Interval string          `json:"interval"`
	MaxUsers int             `json:"max_users"`
	Features []string        `json:"features"`
	Active   *bool           `json:"active"`
}

func (in *PlanInput) validate() error {
	in.Code = strings.ToLower(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Interval = strings.ToLower(strings.TrimSpace(in.Interval))
	if in.Currency == "" {
		in.Currency = "USD"
	}
	if in.Interval == "" {
		in.Interval = "month"
	}

	var problems ValidationErrors
	if in.Code == "" {
		problems = append(problems, invalid("code", "is required"))
	}
	if in.Name == "" {
		problems = append(problems, invalid("name", "is required"))
	}
	if in.Price.IsNegative() {
		problems = append(problems, invalid("price", "must not be negative"))
	}
	if !currencyCode.MatchString(in.Currency) {
		problems = append(problems, invalid("currency", "must be a 3-letter ISO 4217 code"))
	}
	if in.Interval != "month" && in.Interval != "year" {
		problems = append(problems, invalid("interval", "must be month or year"))
	}
	if in.MaxUsers < 0 {
		problems = append(problems, invalid("max_users", "must not be negative"))
	}
	return problems.OrNil()
}

// PlanService manages the global subscription plan catalogue.
type PlanService struct {
	store Store
	now   func() time.Time
}

func NewPlanService(store Store) *PlanService {
	return &PlanService{store: store, now: time.Now}
}

func (s *PlanService) Create(ctx context.Context, in PlanInput) (*Plan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &Plan{
		ID:        uuid.NewString(),
		Code:      in.Code,
		Name:      in.Name,
		Price:     in.Price,
		Currency:  in.Currency,
		Interval:  in.Interval,
		MaxUsers:  in.MaxUsers,
		Features:  nonNil(in.Features),
		Active:    in.Active == nil || *in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Plans().Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces every writable field. The code is immutable.
func (s *PlanService) Update(ctx context.Context, id string, in PlanInput) (*Plan, error) {
	p, err := s.store.Plans().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in.Code = p.Code
	if err := in.validate(); err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.Price = in.Price
	p.Currency = in.Currency
	p.Interval = in.Interval
	p.MaxUsers = in.MaxUsers
	p.Features = nonNil(in.Features)
	if in.Active != nil {
		p.Active = *in.Active
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Plans().Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PlanService) Get(ctx context.Context, id string) (*Plan, error) {
	return s.store.Plans().Get(ctx, id)
}

func (s *PlanService) List(ctx context.Context, activeOnly bool) ([]Plan, error) {
	return s.store.Plans().List(ctx, activeOnly)
}

func (s *PlanService) Delete(ctx context.Context, id string) error {
	return s.store.Plans().Delete(ctx, id)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
