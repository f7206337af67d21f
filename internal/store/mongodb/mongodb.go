// Package mongodb implements core.Store on MongoDB. Transaction legs are
// embedded in their transaction document, so a multi-leg entry is written
// and read atomically without multi-document transactions.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"afms/internal/core"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colCompanies   = "companies"
	colAccounts    = "accounts"
	colTransaction = "transactions"
	colCounters    = "counters"
	colRates       = "exchange_rates"
	colSchedules   = "report_schedules"
	colRuns        = "scheduled_report_history"
	colSettings    = "company_settings"
	colUsers       = "users"
	colPermissions = "permissions"
	colRoles       = "roles"
	colMenus       = "menus"
	colPlans       = "plans"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ core.Store = (*Store)(nil)

// Connect dials uri, pings and returns a store on database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("MONGO_URI environment variable not set")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// EnsureIndexes creates the unique and lookup indexes the repositories rely
// on. It is safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := map[string][]mongo.IndexModel{
		colCompanies: {{Keys: bson.D{{Key: "code", Value: 1}}, Options: unique}},
		colAccounts:  {{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "number", Value: 1}}, Options: unique}},
		colTransaction: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "status", Value: 1}, {Key: "date", Value: 1}}},
			{
				Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"number": bson.M{"$type": "string"}}),
			},
		},
		colRates:     {{Keys: bson.D{{Key: "base", Value: 1}, {Key: "quote", Value: 1}, {Key: "date", Value: 1}}, Options: unique}},
		colSchedules: {{Keys: bson.D{{Key: "active", Value: 1}, {Key: "next_run_at", Value: 1}}}},
		colRuns:      {{Keys: bson.D{{Key: "schedule_id", Value: 1}, {Key: "scheduled_for", Value: 1}}, Options: unique}},
		colUsers:     {{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}},
		colPlans:     {{Keys: bson.D{{Key: "code", Value: 1}}, Options: unique}},
	}
	for col, models := range specs {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", col, err)
		}
	}
	return nil
}

// Database exposes the underlying database for tests and tooling.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Companies() core.CompanyRepository  { return companyRepo{s.db.Collection(colCompanies)} }
func (s *Store) Rates() core.RateRepository         { return rateRepo{s.db.Collection(colRates)} }
func (s *Store) Schedules() core.ScheduleRepository { return scheduleRepo{s.db} }
func (s *Store) Users() core.UserRepository         { return userRepo{s.db.Collection(colUsers)} }
func (s *Store) RBAC() core.RBACRepository          { return rbacRepo{s.db} }
func (s *Store) Plans() core.PlanRepository         { return planRepo{s.db.Collection(colPlans)} }

func (s *Store) Tenant(companyID string) core.TenantStore {
	return &tenant{db: s.db, companyID: companyID}
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// ── Decimal mapping ──────────────────────────────────────────────────────────

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// Only reachable beyond 34 significant digits.
		panic(fmt.Sprintf("decimal %s out of Decimal128 range: %v", d, err))
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

// ── Companies ────────────────────────────────────────────────────────────────

type companyRepo struct{ col *mongo.Collection }

type companyDoc struct {
	ID           string    `bson:"_id"`
	Code         string    `bson:"code"`
	Name         string    `bson:"name"`
	BaseCurrency string    `bson:"base_currency"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (r companyRepo) Create(ctx context.Context, c *core.Company) error {
	_, err := r.col.InsertOne(ctx, companyDoc(*c))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("company code %s: %w", c.Code, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert company: %w", err)
	}
	return nil
}

func (r companyRepo) Get(ctx context.Context, id string) (*core.Company, error) {
	var doc companyDoc
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("company %s: %w", id, core.ErrCompanyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read company: %w", err)
	}
	c := core.Company(doc)
	return &c, nil
}

func (r companyRepo) List(ctx context.Context) ([]core.Company, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "code", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	var docs []companyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode companies: %w", err)
	}
	out := make([]core.Company, len(docs))
	for i, d := range docs {
		out[i] = core.Company(d)
	}
	return out, nil
}

// ── Rates ────────────────────────────────────────────────────────────────────

type rateRepo struct{ col *mongo.Collection }

type rateDoc struct {
	Base      string               `bson:"base"`
	Quote     string               `bson:"quote"`
	Rate      primitive.Decimal128 `bson:"rate"`
	Date      time.Time            `bson:"date"`
	Source    string               `bson:"source"`
	FetchedAt time.Time            `bson:"fetched_at"`
}

func (d rateDoc) model() core.ExchangeRate {
	return core.ExchangeRate{
		Base: d.Base, Quote: d.Quote, Rate: fromDecimal128(d.Rate),
		Date: d.Date.UTC(), Source: d.Source, FetchedAt: d.FetchedAt,
	}
}

func (r rateRepo) HasRatesFor(ctx context.Context, base string, day time.Time) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"base": base, "date": core.DateOnly(day)}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check exchange rates: %w", err)
	}
	return n > 0, nil
}

func (r rateRepo) Upsert(ctx context.Context, rates []core.ExchangeRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(rates))
	for _, rate := range rates {
		day := core.DateOnly(rate.Date)
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"base": rate.Base, "quote": rate.Quote, "date": day}).
			SetUpdate(bson.M{"$set": rateDoc{
				Base: rate.Base, Quote: rate.Quote, Rate: toDecimal128(rate.Rate),
				Date: day, Source: rate.Source, FetchedAt: rate.FetchedAt,
			}}).
			SetUpsert(true))
	}
	if _, err := r.col.BulkWrite(ctx, models); err != nil {
		return 0, fmt.Errorf("failed to upsert exchange rates: %w", err)
	}
	return len(rates), nil
}

func (r rateRepo) Latest(ctx context.Context, base, quote string, day time.Time) (*core.ExchangeRate, error) {
	var doc rateDoc
	err := r.col.FindOne(ctx,
		bson.M{"base": base, "quote": quote, "date": bson.M{"$lte": core.DateOnly(day)}},
		options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("rate %s/%s", base, quote))
	}
	rate := doc.model()
	return &rate, nil
}

func (r rateRepo) List(ctx context.Context, base string, day time.Time) ([]core.ExchangeRate, error) {
	cur, err := r.col.Find(ctx, bson.M{"base": base, "date": core.DateOnly(day)},
		options.Find().SetSort(bson.D{{Key: "quote", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	var docs []rateDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode exchange rates: %w", err)
	}
	out := make([]core.ExchangeRate, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}
