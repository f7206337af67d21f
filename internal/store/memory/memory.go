// Package memory is an in-process core.Store for tests and local
// development. Every method runs under one RWMutex, so readers always see
// whole transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"afms/internal/core"
)

type seqKey struct {
	companyID string
	year      int
}

type rateKey struct {
	base, quote string
	day         time.Time
}

type Store struct {
	mu sync.RWMutex

	companies    map[string]core.Company
	accounts     map[string]core.Account
	transactions map[string]core.Transaction
	sequences    map[seqKey]int
	settings     map[string]core.CompanySettings
	rates        map[rateKey]core.ExchangeRate
	schedules    map[string]core.ReportSchedule
	runs         []core.ScheduledReportRun
	users        map[string]core.User
	permissions  map[string]core.Permission
	roles        map[string]core.Role
	menus        map[string]core.MenuItem
	plans        map[string]core.Plan
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		companies:    make(map[string]core.Company),
		accounts:     make(map[string]core.Account),
		transactions: make(map[string]core.Transaction),
		sequences:    make(map[seqKey]int),
		settings:     make(map[string]core.CompanySettings),
		rates:        make(map[rateKey]core.ExchangeRate),
		schedules:    make(map[string]core.ReportSchedule),
		users:        make(map[string]core.User),
		permissions:  make(map[string]core.Permission),
		roles:        make(map[string]core.Role),
		menus:        make(map[string]core.MenuItem),
		plans:        make(map[string]core.Plan),
	}
}

func (s *Store) Companies() core.CompanyRepository  { return companyRepo{s} }
func (s *Store) Rates() core.RateRepository         { return rateRepo{s} }
func (s *Store) Schedules() core.ScheduleRepository { return scheduleRepo{s} }
func (s *Store) Users() core.UserRepository         { return userRepo{s} }
func (s *Store) RBAC() core.RBACRepository          { return rbacRepo{s} }
func (s *Store) Plans() core.PlanRepository         { return planRepo{s} }

func (s *Store) Tenant(companyID string) core.TenantStore {
	return &tenant{s: s, companyID: companyID}
}

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

func cloneTx(t core.Transaction) core.Transaction {
	t.Legs = append([]core.Leg(nil), t.Legs...)
	if t.PostedAt != nil {
		p := *t.PostedAt
		t.PostedAt = &p
	}
	return t
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

// ── Companies ────────────────────────────────────────────────────────────────

type companyRepo struct{ s *Store }

func (r companyRepo) Create(_ context.Context, c *core.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.companies {
		if existing.Code == c.Code {
			return fmt.Errorf("company code %s: %w", c.Code, core.ErrConflict)
		}
	}
	r.s.companies[c.ID] = *c
	return nil
}

func (r companyRepo) Get(_ context.Context, id string) (*core.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, fmt.Errorf("company %s: %w", id, core.ErrCompanyNotFound)
	}
	return &c, nil
}

func (r companyRepo) List(context.Context) ([]core.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]core.Company, 0, len(r.s.companies))
	for _, c := range r.s.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ── Tenant ───────────────────────────────────────────────────────────────────

type tenant struct {
	s         *Store
	companyID string
}

func (t *tenant) CompanyID() string { return t.companyID }

func (t *tenant) LedgerSnapshot(_ context.Context, through time.Time) (*core.LedgerSnapshot, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	snap := &core.LedgerSnapshot{}
	for _, a := range t.s.accounts {
		if a.CompanyID == t.companyID {
			snap.Accounts = append(snap.Accounts, a)
		}
	}
	cutoff := core.DateOnly(through)
	for _, tx := range t.s.transactions {
		if tx.CompanyID != t.companyID || tx.Status != core.StatusPosted {
			continue
		}
		if core.DateOnly(tx.Date).After(cutoff) {
			continue
		}
		snap.Transactions = append(snap.Transactions, cloneTx(tx))
	}
	sort.Slice(snap.Transactions, func(i, j int) bool {
		a, b := snap.Transactions[i], snap.Transactions[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Number < b.Number
	})
	return snap, nil
}

func (t *tenant) ListAccounts(context.Context) ([]core.Account, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []core.Account
	for _, a := range t.s.accounts {
		if a.CompanyID == t.companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *tenant) GetAccount(_ context.Context, id string) (*core.Account, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[id]
	if !ok || a.CompanyID != t.companyID {
		return nil, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return &a, nil
}

func (t *tenant) CreateAccount(_ context.Context, a *core.Account) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, existing := range t.s.accounts {
		if existing.CompanyID == t.companyID && existing.Number == a.Number {
			return fmt.Errorf("account number %s: %w", a.Number, core.ErrConflict)
		}
	}
	a.CompanyID = t.companyID
	t.s.accounts[a.ID] = *a
	return nil
}

func (t *tenant) SetAccountArchived(_ context.Context, id string, archived bool) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.accounts[id]
	if !ok || a.CompanyID != t.companyID {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	a.Archived = archived
	t.s.accounts[id] = a
	return nil
}

func (t *tenant) CreateTransaction(_ context.Context, tx *core.Transaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, exists := t.s.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrConflict)
	}
	tx.CompanyID = t.companyID
	t.s.transactions[tx.ID] = cloneTx(*tx)
	return nil
}

func (t *tenant) GetTransaction(_ context.Context, id string) (*core.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	tx, ok := t.s.transactions[id]
	if !ok || tx.CompanyID != t.companyID {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	tx = cloneTx(tx)
	return &tx, nil
}

func (t *tenant) ListTransactions(_ context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range t.s.transactions {
		if tx.CompanyID != t.companyID {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && tx.Date.Before(core.DateOnly(f.From)) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(core.DateOnly(f.To)) {
			continue
		}
		out = append(out, cloneTx(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// nextNumberLocked must be called with the write lock held.
func (t *tenant) nextNumberLocked(date time.Time) string {
	k := seqKey{companyID: t.companyID, year: date.Year()}
	t.s.sequences[k]++
	return fmt.Sprintf("JE-%d-%05d", k.year, t.s.sequences[k])
}

func (t *tenant) PostTransaction(_ context.Context, id string, postedAt time.Time) (*core.Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tx, ok := t.s.transactions[id]
	if !ok || tx.CompanyID != t.companyID {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if tx.Status != core.StatusDraft {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, core.ErrInvalidState)
	}
	tx.Status = core.StatusPosted
	tx.Number = t.nextNumberLocked(tx.Date)
	tx.PostedAt = &postedAt
	t.s.transactions[id] = tx
	out := cloneTx(tx)
	return &out, nil
}

func (t *tenant) VoidTransaction(_ context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tx, ok := t.s.transactions[id]
	if !ok || tx.CompanyID != t.companyID {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if tx.Status != core.StatusDraft {
		return fmt.Errorf("transaction %s is %s: %w", id, tx.Status, core.ErrInvalidState)
	}
	tx.Status = core.StatusVoid
	t.s.transactions[id] = tx
	return nil
}

func (t *tenant) ReverseTransaction(_ context.Context, originalID string, reversal *core.Transaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	orig, ok := t.s.transactions[originalID]
	if !ok || orig.CompanyID != t.companyID {
		return fmt.Errorf("transaction %s: %w", originalID, core.ErrNotFound)
	}
	if orig.Status != core.StatusPosted || orig.ReversedBy != "" {
		return fmt.Errorf("transaction %s cannot be reversed: %w", originalID, core.ErrInvalidState)
	}
	reversal.CompanyID = t.companyID
	reversal.Status = core.StatusPosted
	reversal.ReversalOf = originalID
	reversal.Number = t.nextNumberLocked(reversal.Date)
	t.s.transactions[reversal.ID] = cloneTx(*reversal)
	orig.ReversedBy = reversal.ID
	t.s.transactions[originalID] = orig
	return nil
}

func (t *tenant) GetSettings(context.Context) (*core.CompanySettings, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	st, ok := t.s.settings[t.companyID]
	if !ok {
		return nil, fmt.Errorf("settings for %s: %w", t.companyID, core.ErrNotFound)
	}
	st.ReportRecipients = cloneStrings(st.ReportRecipients)
	return &st, nil
}

func (t *tenant) PutSettings(_ context.Context, st *core.CompanySettings) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cp := *st
	cp.CompanyID = t.companyID
	cp.ReportRecipients = cloneStrings(st.ReportRecipients)
	t.s.settings[t.companyID] = cp
	return nil
}

// ── Rates ────────────────────────────────────────────────────────────────────

type rateRepo struct{ s *Store }

func (r rateRepo) HasRatesFor(_ context.Context, base string, day time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	day = core.DateOnly(day)
	for k := range r.s.rates {
		if k.base == base && k.day.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (r rateRepo) Upsert(_ context.Context, rates []core.ExchangeRate) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rate := range rates {
		rate.Date = core.DateOnly(rate.Date)
		r.s.rates[rateKey{base: rate.Base, quote: rate.Quote, day: rate.Date}] = rate
	}
	return len(rates), nil
}

func (r rateRepo) Latest(_ context.Context, base, quote string, day time.Time) (*core.ExchangeRate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	day = core.DateOnly(day)
	var best *core.ExchangeRate
	for k, rate := range r.s.rates {
		if k.base != base || k.quote != quote || k.day.After(day) {
			continue
		}
		if best == nil || k.day.After(best.Date) {
			rate := rate
			best = &rate
		}
	}
	if best == nil {
		return nil, fmt.Errorf("rate %s/%s: %w", base, quote, core.ErrNotFound)
	}
	return best, nil
}

func (r rateRepo) List(_ context.Context, base string, day time.Time) ([]core.ExchangeRate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	day = core.DateOnly(day)
	var out []core.ExchangeRate
	for k, rate := range r.s.rates {
		if k.base == base && k.day.Equal(day) {
			out = append(out, rate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quote < out[j].Quote })
	return out, nil
}

// ── Schedules ────────────────────────────────────────────────────────────────

type scheduleRepo struct{ s *Store }

func (r scheduleRepo) Create(_ context.Context, sc *core.ReportSchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.schedules[sc.ID] = *sc
	return nil
}

func (r scheduleRepo) Get(_ context.Context, companyID, id string) (*core.ReportSchedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sc, ok := r.s.schedules[id]
	if !ok || sc.CompanyID != companyID {
		return nil, fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	return &sc, nil
}

func (r scheduleRepo) List(_ context.Context, companyID string) ([]core.ReportSchedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.ReportSchedule
	for _, sc := range r.s.schedules {
		if sc.CompanyID == companyID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r scheduleRepo) Delete(_ context.Context, companyID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.schedules[id]
	if !ok || sc.CompanyID != companyID {
		return fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	delete(r.s.schedules, id)
	return nil
}

func (r scheduleRepo) ListDue(_ context.Context, now time.Time) ([]core.ReportSchedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.ReportSchedule
	for _, sc := range r.s.schedules {
		if sc.Active && !sc.NextRunAt.After(now) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (r scheduleRepo) Claim(_ context.Context, id string, expected, next, claimedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.schedules[id]
	if !ok || !sc.Active || !sc.NextRunAt.Equal(expected) {
		return false, nil
	}
	sc.NextRunAt = next
	sc.LastRunAt = &claimedAt
	r.s.schedules[id] = sc
	return true, nil
}

func (r scheduleRepo) AppendRun(_ context.Context, run *core.ScheduledReportRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.runs = append(r.s.runs, *run)
	return nil
}

func (r scheduleRepo) ListRuns(_ context.Context, companyID, scheduleID string, limit int) ([]core.ScheduledReportRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.ScheduledReportRun
	for i := len(r.s.runs) - 1; i >= 0; i-- {
		run := r.s.runs[i]
		if run.CompanyID != companyID || run.ScheduleID != scheduleID {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── Users ────────────────────────────────────────────────────────────────────

type userRepo struct{ s *Store }

func (r userRepo) Upsert(_ context.Context, u *core.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email := strings.ToLower(u.Email)
	for id, existing := range r.s.users {
		if strings.ToLower(existing.Email) == email && id != u.ID {
			u.ID = id
			u.CreatedAt = existing.CreatedAt
		}
	}
	cp := *u
	cp.Roles = cloneStrings(u.Roles)
	r.s.users[u.ID] = cp
	return nil
}

func (r userRepo) Get(_ context.Context, id string) (*core.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	u.Roles = cloneStrings(u.Roles)
	return &u, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*core.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range r.s.users {
		if strings.ToLower(u.Email) == email {
			u.Roles = cloneStrings(u.Roles)
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, core.ErrNotFound)
}

func (r userRepo) SetRoles(_ context.Context, id string, roles []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	u.Roles = cloneStrings(roles)
	r.s.users[id] = u
	return nil
}

// ── RBAC ─────────────────────────────────────────────────────────────────────

type rbacRepo struct{ s *Store }

func (r rbacRepo) UpsertPermission(_ context.Context, p core.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.permissions[p.Code] = p
	return nil
}

func (r rbacRepo) ListPermissions(context.Context) ([]core.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]core.Permission, 0, len(r.s.permissions))
	for _, p := range r.s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r rbacRepo) UpsertRole(_ context.Context, role core.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role.Permissions = cloneStrings(role.Permissions)
	r.s.roles[role.Name] = role
	return nil
}

func (r rbacRepo) GetRole(_ context.Context, name string) (*core.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[name]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", name, core.ErrNotFound)
	}
	role.Permissions = cloneStrings(role.Permissions)
	return &role, nil
}

func (r rbacRepo) ListRoles(context.Context) ([]core.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]core.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		role.Permissions = cloneStrings(role.Permissions)
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r rbacRepo) DeleteRole(_ context.Context, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[name]; !ok {
		return fmt.Errorf("role %s: %w", name, core.ErrNotFound)
	}
	delete(r.s.roles, name)
	return nil
}

func (r rbacRepo) UpsertMenu(_ context.Context, m core.MenuItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.menus[m.Key] = m
	return nil
}

func (r rbacRepo) ListMenus(context.Context) ([]core.MenuItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]core.MenuItem, 0, len(r.s.menus))
	for _, m := range r.s.menus {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ── Plans ────────────────────────────────────────────────────────────────────

type planRepo struct{ s *Store }

func (r planRepo) Create(_ context.Context, p *core.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.plans {
		if existing.Code == p.Code {
			return fmt.Errorf("plan code %s: %w", p.Code, core.ErrConflict)
		}
	}
	cp := *p
	cp.Features = cloneStrings(p.Features)
	r.s.plans[p.ID] = cp
	return nil
}

func (r planRepo) Update(_ context.Context, p *core.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[p.ID]; !ok {
		return fmt.Errorf("plan %s: %w", p.ID, core.ErrNotFound)
	}
	cp := *p
	cp.Features = cloneStrings(p.Features)
	r.s.plans[p.ID] = cp
	return nil
}

func (r planRepo) Get(_ context.Context, id string) (*core.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	p.Features = cloneStrings(p.Features)
	return &p, nil
}

func (r planRepo) List(_ context.Context, activeOnly bool) ([]core.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []core.Plan
	for _, p := range r.s.plans {
		if activeOnly && !p.Active {
			continue
		}
		p.Features = cloneStrings(p.Features)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r planRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[id]; !ok {
		return fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	delete(r.s.plans, id)
	return nil
}
