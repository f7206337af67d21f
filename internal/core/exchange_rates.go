package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/mock_rates.go -package=mocks afms/internal/core RateProvider,RateCache

// RateQuote is one provider response: every quote currency against Base.
type RateQuote struct {
	Base      string
	Rates     map[string]decimal.Decimal
	UpdatedAt time.Time
	Source    string
}

// RateProvider fetches current rates from a remote service.
type RateProvider interface {
	Latest(ctx context.Context, base string) (*RateQuote, error)
}

// RateCache is a read-through cache in front of the rate repository.
type RateCache interface {
	Get(ctx context.Context, base, quote string) (*ExchangeRate, error)
	Set(ctx context.Context, rate ExchangeRate) error
}

// RefreshResult summarises one refresh pass.
type RefreshResult struct {
	Day      string   `json:"day"`
	Fetched  []string `json:"fetched"`
	Skipped  []string `json:"skipped"`
	Failed   []string `json:"failed,omitempty"`
	Upserted int      `json:"upserted"`
}

// RateRefresher keeps one set of rates per base currency per UTC day.
type RateRefresher struct {
	store    Store
	provider RateProvider
	cache    RateCache
	bases    []string
	log      *zap.Logger
	now      func() time.Time
	onWrite  func(n int)
}

// NewRateRefresher builds a refresher for the configured base currencies.
// Every company's base currency is added at refresh time. cache may be nil.
func NewRateRefresher(store Store, provider RateProvider, cache RateCache, bases []string, log *zap.Logger) *RateRefresher {
	return &RateRefresher{
		store:    store,
		provider: provider,
		cache:    cache,
		bases:    bases,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source; used by tests and the CLI.
func (r *RateRefresher) SetClock(now func() time.Time) { r.now = now }

// OnWrite registers a callback receiving the number of records written.
func (r *RateRefresher) OnWrite(fn func(n int)) { r.onWrite = fn }

// Refresh fetches rates for every base currency that has no record for the
// current UTC day. Bases already on file are skipped without a remote call,
// so repeated runs on one day are no-ops. Per-base failures are collected
// and returned together after all bases have been attempted.
func (r *RateRefresher) Refresh(ctx context.Context) (*RefreshResult, error) {
	day := DateOnly(r.now())
	result := &RefreshResult{Day: day.Format(DateLayout)}

	bases, err := r.baseCurrencies(ctx)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, base := range bases {
		has, err := r.store.Rates().HasRatesFor(ctx, base, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
			result.Failed = append(result.Failed, base)
			continue
		}
		if has {
			result.Skipped = append(result.Skipped, base)
			continue
		}

		n, err := r.refreshBase(ctx, base, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
			result.Failed = append(result.Failed, base)
			continue
		}
		result.Fetched = append(result.Fetched, base)
		result.Upserted += n
	}

	if r.onWrite != nil && result.Upserted > 0 {
		r.onWrite(result.Upserted)
	}
	return result, errors.Join(errs...)
}

func (r *RateRefresher) refreshBase(ctx context.Context, base string, day time.Time) (int, error) {
	quote, err := r.provider.Latest(ctx, base)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rates: %w", err)
	}

	fetchedAt := r.now().UTC()
	records := make([]ExchangeRate, 0, len(quote.Rates))
	for q, rate := range quote.Rates {
		q = strings.ToUpper(q)
		if q == base || !rate.IsPositive() {
			continue
		}
		records = append(records, ExchangeRate{
			Base:      base,
			Quote:     q,
			Rate:      rate,
			Date:      day,
			Source:    quote.Source,
			FetchedAt: fetchedAt,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Quote < records[j].Quote })

	n, err := r.store.Rates().Upsert(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("failed to store rates: %w", err)
	}

	if r.cache != nil {
		for _, rec := range records {
			if err := r.cache.Set(ctx, rec); err != nil {
				r.log.Warn("failed to cache exchange rate",
					zap.String("base", rec.Base), zap.String("quote", rec.Quote), zap.Error(err))
				break
			}
		}
	}

	r.log.Info("exchange rates refreshed",
		zap.String("base", base),
		zap.String("day", day.Format(DateLayout)),
		zap.Int("records", n))
	return n, nil
}

func (r *RateRefresher) baseCurrencies(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for _, b := range r.bases {
		if b = strings.ToUpper(strings.TrimSpace(b)); b != "" {
			set[b] = struct{}{}
		}
	}
	companies, err := r.store.Companies().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	for _, c := range companies {
		if c.BaseCurrency != "" {
			set[strings.ToUpper(c.BaseCurrency)] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Strings(out)
	return out, nil
}

// RunScheduled is the periodic-job entry point. Failures are logged here and
// the next tick retries; the returned error only feeds job metrics.
func (r *RateRefresher) RunScheduled(ctx context.Context) error {
	res, err := r.Refresh(ctx)
	if err != nil {
		r.log.Error("exchange rate refresh failed", zap.Error(err), zap.Strings("failed", res.Failed))
		return err
	}
	r.log.Info("exchange rate refresh complete",
		zap.Strings("fetched", res.Fetched),
		zap.Strings("skipped", res.Skipped),
		zap.Int("upserted", res.Upserted))
	return nil
}

// Lookup returns the latest stored rate for a pair on or before day,
// consulting the cache first when day is today.
func (r *RateRefresher) Lookup(ctx context.Context, base, quote string, day time.Time) (*ExchangeRate, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)
	today := DateOnly(r.now())
	if r.cache != nil && DateOnly(day).Equal(today) {
		if cached, err := r.cache.Get(ctx, base, quote); err == nil && cached != nil {
			return cached, nil
		}
	}
	rate, err := r.store.Rates().Latest(ctx, base, quote, DateOnly(day))
	if err != nil {
		return nil, err
	}
	if r.cache != nil && DateOnly(rate.Date).Equal(today) {
		_ = r.cache.Set(ctx, *rate)
	}
	return rate, nil
}

// List returns stored records for base on day.
func (r *RateRefresher) List(ctx context.Context, base string, day time.Time) ([]ExchangeRate, error) {
	return r.store.Rates().List(ctx, strings.ToUpper(base), DateOnly(day))
}
