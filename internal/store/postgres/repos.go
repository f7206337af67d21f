package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afms/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ── Schedules ────────────────────────────────────────────────────────────────

type scheduleRepo struct{ pool *pgxpool.Pool }

const scheduleColumns = `id, company_id, name, report_type, format, recurrence, timezone, webhook_url,
	active, next_run_at, last_run_at, created_at`

func scanSchedule(row pgx.Row) (core.ReportSchedule, error) {
	var (
		s           core.ReportSchedule
		typ, format string
	)
	err := row.Scan(&s.ID, &s.CompanyID, &s.Name, &typ, &format, &s.Recurrence, &s.Timezone, &s.WebhookURL,
		&s.Active, &s.NextRunAt, &s.LastRunAt, &s.CreatedAt)
	s.ReportType = core.ReportType(typ)
	s.Format = core.ReportFormat(format)
	return s, err
}

func (r scheduleRepo) query(ctx context.Context, sql string, args ...any) ([]core.ReportSchedule, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report schedules: %w", err)
	}
	defer rows.Close()

	var out []core.ReportSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r scheduleRepo) Create(ctx context.Context, s *core.ReportSchedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO report_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.CompanyID, s.Name, string(s.ReportType), string(s.Format), s.Recurrence, s.Timezone,
		s.WebhookURL, s.Active, s.NextRunAt, s.LastRunAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report schedule: %w", err)
	}
	return nil
}

func (r scheduleRepo) Get(ctx context.Context, companyID, id string) (*core.ReportSchedule, error) {
	if !validID(id) || !validID(companyID) {
		return nil, fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM report_schedules WHERE company_id = $1 AND id = $2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report schedule: %w", err)
	}
	return &s, nil
}

func (r scheduleRepo) List(ctx context.Context, companyID string) ([]core.ReportSchedule, error) {
	if !validID(companyID) {
		return nil, nil
	}
	return r.query(ctx,
		`SELECT `+scheduleColumns+` FROM report_schedules WHERE company_id = $1 ORDER BY created_at`, companyID)
}

func (r scheduleRepo) Delete(ctx context.Context, companyID, id string) error {
	if !validID(id) || !validID(companyID) {
		return fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM report_schedules WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		return fmt.Errorf("failed to delete report schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report schedule %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r scheduleRepo) ListDue(ctx context.Context, now time.Time) ([]core.ReportSchedule, error) {
	return r.query(ctx, `
		SELECT `+scheduleColumns+` FROM report_schedules
		WHERE active AND next_run_at <= $1
		ORDER BY next_run_at`, now)
}

// Claim is a compare-and-set on next_run_at. Of any number of concurrent
// callers holding the same expected value, one sees a row affected.
func (r scheduleRepo) Claim(ctx context.Context, id string, expected, next, claimedAt time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE report_schedules SET next_run_at = $3, last_run_at = $4
		WHERE id = $1 AND active AND next_run_at = $2`, id, expected, next, claimedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim report schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r scheduleRepo) AppendRun(ctx context.Context, run *core.ScheduledReportRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_report_history
			(id, schedule_id, company_id, scheduled_for, started_at, finished_at, status, error, worker, is_balanced, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.ScheduleID, run.CompanyID, run.ScheduledFor, run.StartedAt, run.FinishedAt,
		string(run.Status), run.Error, run.Worker, run.IsBalanced, run.Payload)
	if isUniqueViolation(err) {
		return fmt.Errorf("run for %s at %s: %w", run.ScheduleID, run.ScheduledFor.Format(time.RFC3339), core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert report run: %w", err)
	}
	return nil
}

func (r scheduleRepo) ListRuns(ctx context.Context, companyID, scheduleID string, limit int) ([]core.ScheduledReportRun, error) {
	if !validID(companyID) || !validID(scheduleID) {
		return nil, nil
	}
	sql := `
		SELECT id, schedule_id, company_id, scheduled_for, started_at, finished_at, status, error, worker, is_balanced, payload
		FROM scheduled_report_history
		WHERE company_id = $1 AND schedule_id = $2
		ORDER BY scheduled_for DESC`
	args := []any{companyID, scheduleID}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list report runs: %w", err)
	}
	defer rows.Close()

	var out []core.ScheduledReportRun
	for rows.Next() {
		var (
			run    core.ScheduledReportRun
			status string
		)
		if err := rows.Scan(&run.ID, &run.ScheduleID, &run.CompanyID, &run.ScheduledFor, &run.StartedAt,
			&run.FinishedAt, &status, &run.Error, &run.Worker, &run.IsBalanced, &run.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan report run: %w", err)
		}
		run.Status = core.RunStatus(status)
		out = append(out, run)
	}
	return out, rows.Err()
}

// ── Users ────────────────────────────────────────────────────────────────────

type userRepo struct{ pool *pgxpool.Pool }

const userColumns = `id, company_id, email, name, password_hash, roles, superadmin, active, created_at`

func scanUser(row pgx.Row) (*core.User, error) {
	var (
		u         core.User
		companyID *string
	)
	if err := row.Scan(&u.ID, &companyID, &u.Email, &u.Name, &u.PasswordHash, &u.Roles,
		&u.Superadmin, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CompanyID = derefString(companyID)
	return &u, nil
}

// Upsert keys on email. On conflict the existing id and created_at win and
// are written back into u.
func (r userRepo) Upsert(ctx context.Context, u *core.User) error {
	u.Email = strings.ToLower(u.Email)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			password_hash = EXCLUDED.password_hash,
			roles = EXCLUDED.roles,
			superadmin = EXCLUDED.superadmin,
			active = EXCLUDED.active
		RETURNING id, created_at`,
		u.ID, nullString(u.CompanyID), u.Email, u.Name, u.PasswordHash, nonNil(u.Roles),
		u.Superadmin, u.Active, u.CreatedAt,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r userRepo) Get(ctx context.Context, id string) (*core.User, error) {
	if !validID(id) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	return u, nil
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	return u, nil
}

func (r userRepo) SetRoles(ctx context.Context, id string, roles []string) error {
	if !validID(id) {
		return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET roles = $2 WHERE id = $1`, id, nonNil(roles))
	if err != nil {
		return fmt.Errorf("failed to update user roles: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// ── RBAC ─────────────────────────────────────────────────────────────────────

type rbacRepo struct{ pool *pgxpool.Pool }

func (r rbacRepo) UpsertPermission(ctx context.Context, p core.Permission) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permissions (code, description) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description`, p.Code, p.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert permission %s: %w", p.Code, err)
	}
	return nil
}

func (r rbacRepo) ListPermissions(ctx context.Context) ([]core.Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var out []core.Permission
	for rows.Next() {
		var p core.Permission
		if err := rows.Scan(&p.Code, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r rbacRepo) UpsertRole(ctx context.Context, role core.Role) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roles (name, description, permissions, system) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			permissions = EXCLUDED.permissions,
			system = EXCLUDED.system`,
		role.Name, role.Description, nonNil(role.Permissions), role.System)
	if err != nil {
		return fmt.Errorf("failed to upsert role %s: %w", role.Name, err)
	}
	return nil
}

func (r rbacRepo) GetRole(ctx context.Context, name string) (*core.Role, error) {
	var role core.Role
	err := r.pool.QueryRow(ctx,
		`SELECT name, description, permissions, system FROM roles WHERE name = $1`, name,
	).Scan(&role.Name, &role.Description, &role.Permissions, &role.System)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read role: %w", err)
	}
	return &role, nil
}

func (r rbacRepo) ListRoles(ctx context.Context) ([]core.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, description, permissions, system FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []core.Role
	for rows.Next() {
		var role core.Role
		if err := rows.Scan(&role.Name, &role.Description, &role.Permissions, &role.System); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r rbacRepo) DeleteRole(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %s: %w", name, core.ErrNotFound)
	}
	return nil
}

func (r rbacRepo) UpsertMenu(ctx context.Context, m core.MenuItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO menus (key, label, path, permission, parent, sort_order) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			label = EXCLUDED.label,
			path = EXCLUDED.path,
			permission = EXCLUDED.permission,
			parent = EXCLUDED.parent,
			sort_order = EXCLUDED.sort_order`,
		m.Key, m.Label, m.Path, m.Permission, m.Parent, m.Order)
	if err != nil {
		return fmt.Errorf("failed to upsert menu %s: %w", m.Key, err)
	}
	return nil
}

func (r rbacRepo) ListMenus(ctx context.Context) ([]core.MenuItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, label, path, permission, parent, sort_order FROM menus ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menus: %w", err)
	}
	defer rows.Close()

	var out []core.MenuItem
	for rows.Next() {
		var m core.MenuItem
		if err := rows.Scan(&m.Key, &m.Label, &m.Path, &m.Permission, &m.Parent, &m.Order); err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── Plans ────────────────────────────────────────────────────────────────────

type planRepo struct{ pool *pgxpool.Pool }

const planColumns = `id, code, name, price, currency, billing_interval, max_users, features, active, created_at, updated_at`

func scanPlan(row pgx.Row) (core.Plan, error) {
	var p core.Plan
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Currency, &p.Interval, &p.MaxUsers,
		&p.Features, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r planRepo) Create(ctx context.Context, p *core.Plan) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Code, p.Name, p.Price, p.Currency, p.Interval, p.MaxUsers, nonNil(p.Features),
		p.Active, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("plan code %s: %w", p.Code, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (r planRepo) Update(ctx context.Context, p *core.Plan) error {
	if !validID(p.ID) {
		return fmt.Errorf("plan %s: %w", p.ID, core.ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE plans SET name = $2, price = $3, currency = $4, billing_interval = $5, max_users = $6,
			features = $7, active = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Name, p.Price, p.Currency, p.Interval, p.MaxUsers, nonNil(p.Features), p.Active, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %s: %w", p.ID, core.ErrNotFound)
	}
	return nil
}

func (r planRepo) Get(ctx context.Context, id string) (*core.Plan, error) {
	if !validID(id) {
		return nil, fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	p, err := scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return &p, nil
}

func (r planRepo) List(ctx context.Context, activeOnly bool) ([]core.Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE active OR NOT $1 ORDER BY code`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []core.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r planRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %s: %w", id, core.ErrNotFound)
	}
	return nil
}
