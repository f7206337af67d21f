// Package postgres implements core.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"afms/internal/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// NewPool parses databaseURL, connects and pings.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse DATABASE_URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Companies() core.CompanyRepository  { return companyRepo{s.pool} }
func (s *Store) Rates() core.RateRepository         { return rateRepo{s.pool} }
func (s *Store) Schedules() core.ScheduleRepository { return scheduleRepo{s.pool} }
func (s *Store) Users() core.UserRepository         { return userRepo{s.pool} }
func (s *Store) RBAC() core.RBACRepository          { return rbacRepo{s.pool} }
func (s *Store) Plans() core.PlanRepository         { return planRepo{s.pool} }

func (s *Store) Tenant(companyID string) core.TenantStore {
	return &tenant{pool: s.pool, companyID: companyID}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports a 23505 error from Postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// validID rejects ids that would make Postgres raise a cast error, so an
// unknown id surfaces as not found rather than a server error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ── Companies ────────────────────────────────────────────────────────────────

type companyRepo struct{ pool *pgxpool.Pool }

func (r companyRepo) Create(ctx context.Context, c *core.Company) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO companies (id, code, name, base_currency, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Code, c.Name, c.BaseCurrency, c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("company code %s: %w", c.Code, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert company: %w", err)
	}
	return nil
}

func (r companyRepo) Get(ctx context.Context, id string) (*core.Company, error) {
	if !validID(id) {
		return nil, fmt.Errorf("company %s: %w", id, core.ErrCompanyNotFound)
	}
	var c core.Company
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, base_currency, created_at FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.Code, &c.Name, &c.BaseCurrency, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("company %s: %w", id, core.ErrCompanyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read company: %w", err)
	}
	return &c, nil
}

func (r companyRepo) List(ctx context.Context) ([]core.Company, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, name, base_currency, created_at FROM companies ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var out []core.Company
	for rows.Next() {
		var c core.Company
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.BaseCurrency, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ── Rates ────────────────────────────────────────────────────────────────────

type rateRepo struct{ pool *pgxpool.Pool }

func (r rateRepo) HasRatesFor(ctx context.Context, base string, day time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM exchange_rates WHERE base_currency = $1 AND rate_date = $2)`,
		base, core.DateOnly(day)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check exchange rates: %w", err)
	}
	return exists, nil
}

func (r rateRepo) Upsert(ctx context.Context, rates []core.ExchangeRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, rate := range rates {
		batch.Queue(`
			INSERT INTO exchange_rates (base_currency, quote_currency, rate_date, rate, source, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (base_currency, quote_currency, rate_date)
			DO UPDATE SET rate = EXCLUDED.rate, source = EXCLUDED.source, fetched_at = EXCLUDED.fetched_at`,
			rate.Base, rate.Quote, core.DateOnly(rate.Date), rate.Rate, rate.Source, rate.FetchedAt)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("failed to upsert exchange rates: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit exchange rates: %w", err)
	}
	return len(rates), nil
}

func (r rateRepo) Latest(ctx context.Context, base, quote string, day time.Time) (*core.ExchangeRate, error) {
	var rate core.ExchangeRate
	err := r.pool.QueryRow(ctx, `
		SELECT base_currency, quote_currency, rate, rate_date, source, fetched_at
		FROM exchange_rates
		WHERE base_currency = $1 AND quote_currency = $2 AND rate_date <= $3
		ORDER BY rate_date DESC
		LIMIT 1`, base, quote, core.DateOnly(day),
	).Scan(&rate.Base, &rate.Quote, &rate.Rate, &rate.Date, &rate.Source, &rate.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rate %s/%s: %w", base, quote, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange rate: %w", err)
	}
	return &rate, nil
}

func (r rateRepo) List(ctx context.Context, base string, day time.Time) ([]core.ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT base_currency, quote_currency, rate, rate_date, source, fetched_at
		FROM exchange_rates
		WHERE base_currency = $1 AND rate_date = $2
		ORDER BY quote_currency`, base, core.DateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	defer rows.Close()

	var out []core.ExchangeRate
	for rows.Next() {
		var rate core.ExchangeRate
		if err := rows.Scan(&rate.Base, &rate.Quote, &rate.Rate, &rate.Date, &rate.Source, &rate.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}
