package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"afms/internal/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// tenant adds company_id to every filter.
type tenant struct {
	db        *mongo.Database
	companyID string
}

func (t *tenant) CompanyID() string { return t.companyID }

func (t *tenant) scope(filter bson.M) bson.M {
	filter["company_id"] = t.companyID
	return filter
}

// ── Accounts ─────────────────────────────────────────────────────────────────

type accountDoc struct {
	ID            string    `bson:"_id"`
	CompanyID     string    `bson:"company_id"`
	Number        string    `bson:"number"`
	Name          string    `bson:"name"`
	Category      string    `bson:"category"`
	NormalBalance string    `bson:"normal_balance"`
	Archived      bool      `bson:"archived"`
	CreatedAt     time.Time `bson:"created_at"`
}

func (d accountDoc) model() core.Account {
	return core.Account{
		ID: d.ID, CompanyID: d.CompanyID, Number: d.Number, Name: d.Name,
		Category: core.AccountCategory(d.Category), NormalBalance: core.NormalBalance(d.NormalBalance),
		Archived: d.Archived, CreatedAt: d.CreatedAt,
	}
}

func (t *tenant) ListAccounts(ctx context.Context) ([]core.Account, error) {
	cur, err := t.db.Collection(colAccounts).Find(ctx, t.scope(bson.M{}),
		options.Find().SetSort(bson.D{{Key: "number", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	out := make([]core.Account, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

func (t *tenant) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	var doc accountDoc
	if err := t.db.Collection(colAccounts).FindOne(ctx, t.scope(bson.M{"_id": id})).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "account "+id)
	}
	a := doc.model()
	return &a, nil
}

func (t *tenant) CreateAccount(ctx context.Context, a *core.Account) error {
	a.CompanyID = t.companyID
	_, err := t.db.Collection(colAccounts).InsertOne(ctx, accountDoc{
		ID: a.ID, CompanyID: a.CompanyID, Number: a.Number, Name: a.Name,
		Category: string(a.Category), NormalBalance: string(a.NormalBalance),
		Archived: a.Archived, CreatedAt: a.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("account number %s: %w", a.Number, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (t *tenant) SetAccountArchived(ctx context.Context, id string, archived bool) error {
	res, err := t.db.Collection(colAccounts).UpdateOne(ctx, t.scope(bson.M{"_id": id}),
		bson.M{"$set": bson.M{"archived": archived}})
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// ── Transactions ─────────────────────────────────────────────────────────────

type legDoc struct {
	AccountID string               `bson:"account_id"`
	Debit     primitive.Decimal128 `bson:"debit"`
	Credit    primitive.Decimal128 `bson:"credit"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Memo      string               `bson:"memo,omitempty"`
}

type transactionDoc struct {
	ID           string               `bson:"_id"`
	CompanyID    string               `bson:"company_id"`
	Number       *string              `bson:"number,omitempty"`
	Date         time.Time            `bson:"date"`
	Description  string               `bson:"description"`
	Reference    string               `bson:"reference,omitempty"`
	Currency     string               `bson:"currency"`
	ExchangeRate primitive.Decimal128 `bson:"exchange_rate"`
	Status       string               `bson:"status"`
	ReversalOf   string               `bson:"reversal_of,omitempty"`
	ReversedBy   string               `bson:"reversed_by,omitempty"`
	Legs         []legDoc             `bson:"legs"`
	CreatedAt    time.Time            `bson:"created_at"`
	PostedAt     *time.Time           `bson:"posted_at,omitempty"`
}

func newTransactionDoc(tr *core.Transaction) transactionDoc {
	doc := transactionDoc{
		ID: tr.ID, CompanyID: tr.CompanyID, Date: core.DateOnly(tr.Date),
		Description: tr.Description, Reference: tr.Reference, Currency: tr.Currency,
		ExchangeRate: toDecimal128(tr.ExchangeRate), Status: string(tr.Status),
		ReversalOf: tr.ReversalOf, ReversedBy: tr.ReversedBy,
		CreatedAt: tr.CreatedAt, PostedAt: tr.PostedAt,
	}
	if tr.Number != "" {
		n := tr.Number
		doc.Number = &n
	}
	for _, l := range tr.Legs {
		doc.Legs = append(doc.Legs, legDoc{
			AccountID: l.AccountID, Debit: toDecimal128(l.Debit), Credit: toDecimal128(l.Credit),
			Amount: toDecimal128(l.Amount), Memo: l.Memo,
		})
	}
	return doc
}

func (d transactionDoc) model() core.Transaction {
	tr := core.Transaction{
		ID: d.ID, CompanyID: d.CompanyID, Date: d.Date.UTC(),
		Description: d.Description, Reference: d.Reference, Currency: d.Currency,
		ExchangeRate: fromDecimal128(d.ExchangeRate), Status: core.TransactionStatus(d.Status),
		ReversalOf: d.ReversalOf, ReversedBy: d.ReversedBy, CreatedAt: d.CreatedAt, PostedAt: d.PostedAt,
	}
	if d.Number != nil {
		tr.Number = *d.Number
	}
	for _, l := range d.Legs {
		tr.Legs = append(tr.Legs, core.Leg{
			AccountID: l.AccountID, Debit: fromDecimal128(l.Debit), Credit: fromDecimal128(l.Credit),
			Amount: fromDecimal128(l.Amount), Memo: l.Memo,
		})
	}
	return tr
}

func (t *tenant) findTransactions(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]core.Transaction, error) {
	cur, err := t.db.Collection(colTransaction).Find(ctx, t.scope(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	out := make([]core.Transaction, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

// LedgerSnapshot relies on legs being embedded: each transaction is read
// whole, so no reader sees a partial entry.
func (t *tenant) LedgerSnapshot(ctx context.Context, through time.Time) (*core.LedgerSnapshot, error) {
	accounts, err := t.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := t.findTransactions(ctx,
		bson.M{"status": string(core.StatusPosted), "date": bson.M{"$lte": core.DateOnly(through)}},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "number", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return &core.LedgerSnapshot{Accounts: accounts, Transactions: txs}, nil
}

func (t *tenant) CreateTransaction(ctx context.Context, tr *core.Transaction) error {
	tr.CompanyID = t.companyID
	_, err := t.db.Collection(colTransaction).InsertOne(ctx, newTransactionDoc(tr))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("transaction %s: %w", tr.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *tenant) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	var doc transactionDoc
	if err := t.db.Collection(colTransaction).FindOne(ctx, t.scope(bson.M{"_id": id})).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "transaction "+id)
	}
	tr := doc.model()
	return &tr, nil
}

func (t *tenant) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	date := bson.M{}
	if !f.From.IsZero() {
		date["$gte"] = core.DateOnly(f.From)
	}
	if !f.To.IsZero() {
		date["$lte"] = core.DateOnly(f.To)
	}
	if len(date) > 0 {
		filter["date"] = date
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "created_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return t.findTransactions(ctx, filter, opts)
}

// nextNumber increments the (company, year) counter. A number drawn here is
// consumed even if the caller's following write fails.
func (t *tenant) nextNumber(ctx context.Context, year int) (string, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := t.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": fmt.Sprintf("%s:%d", t.companyID, year)},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return "", fmt.Errorf("failed to generate sequence number: %w", err)
	}
	return fmt.Sprintf("JE-%d-%05d", year, counter.Seq), nil
}

// statusError distinguishes a missing transaction from one in the wrong state
// after a conditional update matched nothing.
func (t *tenant) statusError(ctx context.Context, id string) error {
	tr, err := t.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("transaction %s is %s: %w", id, tr.Status, core.ErrInvalidState)
}

// PostTransaction first flips the draft to posted with a conditional update,
// so only one caller draws a number for it.
func (t *tenant) PostTransaction(ctx context.Context, id string, postedAt time.Time) (*core.Transaction, error) {
	col := t.db.Collection(colTransaction)
	var doc transactionDoc
	err := col.FindOneAndUpdate(ctx,
		t.scope(bson.M{"_id": id, "status": string(core.StatusDraft)}),
		bson.M{"$set": bson.M{"status": string(core.StatusPosted), "posted_at": postedAt}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, t.statusError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to post transaction: %w", err)
	}

	number, err := t.nextNumber(ctx, doc.Date.UTC().Year())
	if err != nil {
		return nil, err
	}
	if _, err := col.UpdateOne(ctx, t.scope(bson.M{"_id": id}), bson.M{"$set": bson.M{"number": number}}); err != nil {
		return nil, fmt.Errorf("failed to number transaction: %w", err)
	}
	tr := doc.model()
	tr.Number = number
	return &tr, nil
}

func (t *tenant) VoidTransaction(ctx context.Context, id string) error {
	res, err := t.db.Collection(colTransaction).UpdateOne(ctx,
		t.scope(bson.M{"_id": id, "status": string(core.StatusDraft)}),
		bson.M{"$set": bson.M{"status": string(core.StatusVoid)}})
	if err != nil {
		return fmt.Errorf("failed to void transaction: %w", err)
	}
	if res.ModifiedCount == 0 {
		return t.statusError(ctx, id)
	}
	return nil
}

// ReverseTransaction links the original first; the link is the claim that
// makes a second reversal fail. If inserting the reversal fails the link is
// removed again.
func (t *tenant) ReverseTransaction(ctx context.Context, originalID string, reversal *core.Transaction) error {
	col := t.db.Collection(colTransaction)
	res, err := col.UpdateOne(ctx,
		t.scope(bson.M{
			"_id":         originalID,
			"status":      string(core.StatusPosted),
			"reversed_by": bson.M{"$exists": false},
		}),
		bson.M{"$set": bson.M{"reversed_by": reversal.ID}})
	if err != nil {
		return fmt.Errorf("failed to link reversal: %w", err)
	}
	if res.ModifiedCount == 0 {
		if _, err := t.GetTransaction(ctx, originalID); err != nil {
			return err
		}
		return fmt.Errorf("transaction %s cannot be reversed: %w", originalID, core.ErrInvalidState)
	}

	unlink := func() {
		_, _ = col.UpdateOne(context.Background(), t.scope(bson.M{"_id": originalID}),
			bson.M{"$unset": bson.M{"reversed_by": ""}})
	}
	number, err := t.nextNumber(ctx, reversal.Date.Year())
	if err != nil {
		unlink()
		return err
	}
	reversal.CompanyID = t.companyID
	reversal.Status = core.StatusPosted
	reversal.ReversalOf = originalID
	reversal.Number = number
	if _, err := col.InsertOne(ctx, newTransactionDoc(reversal)); err != nil {
		unlink()
		return fmt.Errorf("failed to insert reversal: %w", err)
	}
	return nil
}

// ── Settings ─────────────────────────────────────────────────────────────────

type settingsDoc struct {
	CompanyID           string    `bson:"_id"`
	FiscalYearStart     string    `bson:"fiscal_year_start"`
	Timezone            string    `bson:"timezone"`
	DateFormat          string    `bson:"date_format"`
	DefaultReportFormat string    `bson:"default_report_format"`
	ReportRecipients    []string  `bson:"report_recipients"`
	UpdatedAt           time.Time `bson:"updated_at"`
}

func (t *tenant) GetSettings(ctx context.Context) (*core.CompanySettings, error) {
	var doc settingsDoc
	if err := t.db.Collection(colSettings).FindOne(ctx, bson.M{"_id": t.companyID}).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "settings for "+t.companyID)
	}
	return &core.CompanySettings{
		CompanyID: doc.CompanyID, FiscalYearStart: doc.FiscalYearStart, Timezone: doc.Timezone,
		DateFormat: doc.DateFormat, DefaultReportFormat: core.ReportFormat(doc.DefaultReportFormat),
		ReportRecipients: doc.ReportRecipients, UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (t *tenant) PutSettings(ctx context.Context, s *core.CompanySettings) error {
	s.CompanyID = t.companyID
	recipients := s.ReportRecipients
	if recipients == nil {
		recipients = []string{}
	}
	_, err := t.db.Collection(colSettings).ReplaceOne(ctx, bson.M{"_id": t.companyID}, settingsDoc{
		CompanyID: s.CompanyID, FiscalYearStart: s.FiscalYearStart, Timezone: s.Timezone,
		DateFormat: s.DateFormat, DefaultReportFormat: string(s.DefaultReportFormat),
		ReportRecipients: recipients, UpdatedAt: s.UpdatedAt,
	}, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
