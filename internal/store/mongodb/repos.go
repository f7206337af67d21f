package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afms/internal/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ── Schedules ────────────────────────────────────────────────────────────────

type scheduleRepo struct{ db *mongo.Database }

type scheduleDoc struct {
	ID         string     `bson:"_id"`
	CompanyID  string     `bson:"company_id"`
	Name       string     `bson:"name"`
	ReportType string     `bson:"report_type"`
	Format     string     `bson:"format"`
	Recurrence string     `bson:"recurrence"`
	Timezone   string     `bson:"timezone"`
	WebhookURL string     `bson:"webhook_url,omitempty"`
	Active     bool       `bson:"active"`
	NextRunAt  time.Time  `bson:"next_run_at"`
	LastRunAt  *time.Time `bson:"last_run_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
}

func (d scheduleDoc) model() core.ReportSchedule {
	return core.ReportSchedule{
		ID: d.ID, CompanyID: d.CompanyID, Name: d.Name,
		ReportType: core.ReportType(d.ReportType), Format: core.ReportFormat(d.Format),
		Recurrence: d.Recurrence, Timezone: d.Timezone, WebhookURL: d.WebhookURL, Active: d.Active,
		NextRunAt: d.NextRunAt, LastRunAt: d.LastRunAt, CreatedAt: d.CreatedAt,
	}
}

func (r scheduleRepo) find(ctx context.Context, filter bson.M, sortKey string) ([]core.ReportSchedule, error) {
	cur, err := r.db.Collection(colSchedules).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: sortKey, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query report schedules: %w", err)
	}
	var docs []scheduleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode report schedules: %w", err)
	}
	out := make([]core.ReportSchedule, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

func (r scheduleRepo) Create(ctx context.Context, s *core.ReportSchedule) error {
	_, err := r.db.Collection(colSchedules).InsertOne(ctx, scheduleDoc{
		ID: s.ID, CompanyID: s.CompanyID, Name: s.Name,
		ReportType: string(s.ReportType), Format: string(s.Format),
		Recurrence: s.Recurrence, Timezone: s.Timezone, WebhookURL: s.WebhookURL, Active: s.Active,
		NextRunAt: s.NextRunAt, LastRunAt: s.LastRunAt, CreatedAt: s.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert report schedule: %w", err)
	}
	return nil
}

func (r scheduleRepo) Get(ctx context.Context, companyID, id string) (*core.ReportSchedule, error) {
	var doc scheduleDoc
	err := r.db.Collection(colSchedules).FindOne(ctx, bson.M{"_id": id, "company_id": companyID}).Decode(&doc)
	if err != nil {
		return nil, notFoundOr(err, "report schedule "+id)
	}
	s := doc.model()
	return &s, nil
}

func (r scheduleRepo) List(ctx context.Context, companyID string) ([]core.ReportSchedule, error) {
	return r.find(ctx, bson.M{"company_id": companyID}, "created_at")
}

func (r scheduleRepo) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.Collection(colSchedules).DeleteOne(ctx, bson.M{"_id": id, "company_id": companyID})
	if err != nil {
		return fmt.Errorf("failed to delete report schedule: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r scheduleRepo) ListDue(ctx context.Context, now time.Time) ([]core.ReportSchedule, error) {
	return r.find(ctx, bson.M{"active": true, "next_run_at": bson.M{"$lte": now}}, "next_run_at")
}

// Claim is a compare-and-set on next_run_at: a single-document update is
// atomic, so at most one caller modifies the document.
func (r scheduleRepo) Claim(ctx context.Context, id string, expected, next, claimedAt time.Time) (bool, error) {
	res, err := r.db.Collection(colSchedules).UpdateOne(ctx,
		bson.M{"_id": id, "active": true, "next_run_at": expected},
		bson.M{"$set": bson.M{"next_run_at": next, "last_run_at": claimedAt}})
	if err != nil {
		return false, fmt.Errorf("failed to claim report schedule: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

type runDoc struct {
	ID           string           `bson:"_id"`
	ScheduleID   string           `bson:"schedule_id"`
	CompanyID    string           `bson:"company_id"`
	ScheduledFor time.Time        `bson:"scheduled_for"`
	StartedAt    time.Time        `bson:"started_at"`
	FinishedAt   time.Time        `bson:"finished_at"`
	Status       string           `bson:"status"`
	Error        string           `bson:"error,omitempty"`
	Worker       string           `bson:"worker,omitempty"`
	IsBalanced   *bool            `bson:"is_balanced,omitempty"`
	Payload      primitive.Binary `bson:"payload"`
}

func (r scheduleRepo) AppendRun(ctx context.Context, run *core.ScheduledReportRun) error {
	_, err := r.db.Collection(colRuns).InsertOne(ctx, runDoc{
		ID: run.ID, ScheduleID: run.ScheduleID, CompanyID: run.CompanyID, ScheduledFor: run.ScheduledFor,
		StartedAt: run.StartedAt, FinishedAt: run.FinishedAt, Status: string(run.Status),
		Error: run.Error, Worker: run.Worker, IsBalanced: run.IsBalanced,
		Payload: primitive.Binary{Data: run.Payload},
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("run for %s at %s: %w", run.ScheduleID, run.ScheduledFor.Format(time.RFC3339), core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert report run: %w", err)
	}
	return nil
}

func (r scheduleRepo) ListRuns(ctx context.Context, companyID, scheduleID string, limit int) ([]core.ScheduledReportRun, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_for", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.db.Collection(colRuns).Find(ctx, bson.M{"company_id": companyID, "schedule_id": scheduleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list report runs: %w", err)
	}
	var docs []runDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode report runs: %w", err)
	}
	out := make([]core.ScheduledReportRun, len(docs))
	for i, d := range docs {
		out[i] = core.ScheduledReportRun{
			ID: d.ID, ScheduleID: d.ScheduleID, CompanyID: d.CompanyID, ScheduledFor: d.ScheduledFor,
			StartedAt: d.StartedAt, FinishedAt: d.FinishedAt, Status: core.RunStatus(d.Status),
			Error: d.Error, Worker: d.Worker, IsBalanced: d.IsBalanced, Payload: d.Payload.Data,
		}
	}
	return out, nil
}

// ── Users ────────────────────────────────────────────────────────────────────

type userRepo struct{ col *mongo.Collection }

type userDoc struct {
	ID           string    `bson:"_id"`
	CompanyID    string    `bson:"company_id,omitempty"`
	Email        string    `bson:"email"`
	Name         string    `bson:"name"`
	PasswordHash string    `bson:"password_hash"`
	Roles        []string  `bson:"roles"`
	Superadmin   bool      `bson:"superadmin"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (r userRepo) Upsert(ctx context.Context, u *core.User) error {
	u.Email = strings.ToLower(u.Email)
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	var doc userDoc
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"email": u.Email},
		bson.M{
			"$set": bson.M{
				"company_id": u.CompanyID, "name": u.Name, "password_hash": u.PasswordHash,
				"roles": roles, "superadmin": u.Superadmin, "active": u.Active,
			},
			"$setOnInsert": bson.M{"_id": u.ID, "created_at": u.CreatedAt},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	u.ID = doc.ID
	u.CreatedAt = doc.CreatedAt
	return nil
}

func (r userRepo) findOne(ctx context.Context, filter bson.M, what string) (*core.User, error) {
	var doc userDoc
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFoundOr(err, what)
	}
	u := core.User(doc)
	return &u, nil
}

func (r userRepo) Get(ctx context.Context, id string) (*core.User, error) {
	return r.findOne(ctx, bson.M{"_id": id}, "user "+id)
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)}, "user "+email)
}

func (r userRepo) SetRoles(ctx context.Context, id string, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"roles": roles}})
	if err != nil {
		return fmt.Errorf("failed to update user roles: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// ── RBAC ─────────────────────────────────────────────────────────────────────

type rbacRepo struct{ db *mongo.Database }

type permissionDoc struct {
	Code        string `bson:"_id"`
	Description string `bson:"description"`
}

type roleDoc struct {
	Name        string   `bson:"_id"`
	Description string   `bson:"description"`
	Permissions []string `bson:"permissions"`
	System      bool     `bson:"system"`
}

type menuDoc struct {
	Key        string `bson:"_id"`
	Label      string `bson:"label"`
	Path       string `bson:"path"`
	Permission string `bson:"permission,omitempty"`
	Parent     string `bson:"parent,omitempty"`
	Order      int    `bson:"order"`
}

func (r rbacRepo) replace(ctx context.Context, col string, id string, doc any) error {
	_, err := r.db.Collection(col).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", col, id, err)
	}
	return nil
}

func (r rbacRepo) UpsertPermission(ctx context.Context, p core.Permission) error {
	return r.replace(ctx, colPermissions, p.Code, permissionDoc(p))
}

func (r rbacRepo) ListPermissions(ctx context.Context) ([]core.Permission, error) {
	var docs []permissionDoc
	if err := r.all(ctx, colPermissions, &docs); err != nil {
		return nil, err
	}
	out := make([]core.Permission, len(docs))
	for i, d := range docs {
		out[i] = core.Permission(d)
	}
	return out, nil
}

func (r rbacRepo) UpsertRole(ctx context.Context, role core.Role) error {
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return r.replace(ctx, colRoles, role.Name, roleDoc(role))
}

func (r rbacRepo) GetRole(ctx context.Context, name string) (*core.Role, error) {
	var doc roleDoc
	if err := r.db.Collection(colRoles).FindOne(ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "role "+name)
	}
	role := core.Role(doc)
	return &role, nil
}

func (r rbacRepo) ListRoles(ctx context.Context) ([]core.Role, error) {
	var docs []roleDoc
	if err := r.all(ctx, colRoles, &docs); err != nil {
		return nil, err
	}
	out := make([]core.Role, len(docs))
	for i, d := range docs {
		out[i] = core.Role(d)
	}
	return out, nil
}

func (r rbacRepo) DeleteRole(ctx context.Context, name string) error {
	res, err := r.db.Collection(colRoles).DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("role %s: %w", name, core.ErrNotFound)
	}
	return nil
}

func (r rbacRepo) UpsertMenu(ctx context.Context, m core.MenuItem) error {
	return r.replace(ctx, colMenus, m.Key, menuDoc(m))
}

func (r rbacRepo) ListMenus(ctx context.Context) ([]core.MenuItem, error) {
	var docs []menuDoc
	if err := r.all(ctx, colMenus, &docs); err != nil {
		return nil, err
	}
	out := make([]core.MenuItem, len(docs))
	for i, d := range docs {
		out[i] = core.MenuItem(d)
	}
	return out, nil
}

// all decodes a whole collection ordered by _id.
func (r rbacRepo) all(ctx context.Context, col string, into any) error {
	cur, err := r.db.Collection(col).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", col, err)
	}
	if err := cur.All(ctx, into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", col, err)
	}
	return nil
}

// ── Plans ────────────────────────────────────────────────────────────────────

type planRepo struct{ col *mongo.Collection }

type planDoc struct {
	ID        string               `bson:"_id"`
	Code      string               `bson:"code"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Currency  string               `bson:"currency"`
	Interval  string               `bson:"interval"`
	MaxUsers  int                  `bson:"max_users"`
	Features  []string             `bson:"features"`
	Active    bool                 `bson:"active"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func newPlanDoc(p *core.Plan) planDoc {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return planDoc{
		ID: p.ID, Code: p.Code, Name: p.Name, Price: toDecimal128(p.Price), Currency: p.Currency,
		Interval: p.Interval, MaxUsers: p.MaxUsers, Features: features, Active: p.Active,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (d planDoc) model() core.Plan {
	return core.Plan{
		ID: d.ID, Code: d.Code, Name: d.Name, Price: fromDecimal128(d.Price), Currency: d.Currency,
		Interval: d.Interval, MaxUsers: d.MaxUsers, Features: d.Features, Active: d.Active,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func (r planRepo) Create(ctx context.Context, p *core.Plan) error {
	_, err := r.col.InsertOne(ctx, newPlanDoc(p))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("plan code %s: %w", p.Code, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (r planRepo) Update(ctx context.Context, p *core.Plan) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": p.ID}, newPlanDoc(p))
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("plan %s: %w", p.ID, core.ErrNotFound)
	}
	return nil
}

func (r planRepo) Get(ctx context.Context, id string) (*core.Plan, error) {
	var doc planDoc
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	p := doc.model()
	return &p, nil
}

func (r planRepo) List(ctx context.Context, activeOnly bool) ([]core.Plan, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "code", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	var docs []planDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode plans: %w", err)
	}
	out := make([]core.Plan, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

func (r planRepo) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	return nil
}
