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

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tenant scopes every statement with company_id = $1.
type tenant struct {
	pool      *pgxpool.Pool
	companyID string
}

func (t *tenant) CompanyID() string { return t.companyID }

const accountColumns = `id, company_id, account_number, name, category, normal_balance, archived, created_at`

func scanAccount(row pgx.Row) (core.Account, error) {
	var a core.Account
	var category, normal string
	err := row.Scan(&a.ID, &a.CompanyID, &a.Number, &a.Name, &category, &normal, &a.Archived, &a.CreatedAt)
	a.Category = core.AccountCategory(category)
	a.NormalBalance = core.NormalBalance(normal)
	return a, err
}

func (t *tenant) listAccounts(ctx context.Context, q querier) ([]core.Account, error) {
	if !validID(t.companyID) {
		return nil, nil
	}
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id = $1 ORDER BY account_number`, t.companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LedgerSnapshot reads accounts, posted transactions and their legs in one
// REPEATABLE READ, READ ONLY transaction so a concurrent posting is seen
// either completely or not at all.
func (t *tenant) LedgerSnapshot(ctx context.Context, through time.Time) (*core.LedgerSnapshot, error) {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	accounts, err := t.listAccounts(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !validID(t.companyID) {
		return &core.LedgerSnapshot{}, nil
	}
	txs, err := t.queryTransactions(ctx, tx, `
		WHERE t.company_id = $1 AND t.status = 'posted' AND t.entry_date <= $2
		ORDER BY t.entry_date, t.entry_number`, t.companyID, core.DateOnly(through))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to end snapshot: %w", err)
	}
	return &core.LedgerSnapshot{Accounts: accounts, Transactions: txs}, nil
}

func (t *tenant) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return t.listAccounts(ctx, t.pool)
}

func (t *tenant) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	if !validID(id) || !validID(t.companyID) {
		return nil, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	a, err := scanAccount(t.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE company_id = $1 AND id = $2`, t.companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	return &a, nil
}

func (t *tenant) CreateAccount(ctx context.Context, a *core.Account) error {
	a.CompanyID = t.companyID
	_, err := t.pool.Exec(ctx, `
		INSERT INTO accounts (id, company_id, account_number, name, category, normal_balance, archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.CompanyID, a.Number, a.Name, string(a.Category), string(a.NormalBalance), a.Archived, a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account number %s: %w", a.Number, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (t *tenant) SetAccountArchived(ctx context.Context, id string, archived bool) error {
	if !validID(id) || !validID(t.companyID) {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	tag, err := t.pool.Exec(ctx,
		`UPDATE accounts SET archived = $3 WHERE company_id = $1 AND id = $2`, t.companyID, id, archived)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// ── Transactions ─────────────────────────────────────────────────────────────

const transactionColumns = `t.id, t.company_id, t.entry_number, t.entry_date, t.description, t.reference,
	t.currency, t.exchange_rate, t.status, t.reversal_of, t.reversed_by, t.created_at, t.posted_at`

// queryTransactions loads headers matching where, then their legs.
func (t *tenant) queryTransactions(ctx context.Context, q querier, where string, args ...any) ([]core.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions t `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	var (
		out   []core.Transaction
		ids   []string
		index = make(map[string]int)
	)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		index[tx.ID] = len(out)
		ids = append(ids, tx.ID)
		out = append(out, tx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	legRows, err := q.Query(ctx, `
		SELECT transaction_id, account_id, debit, credit, amount, memo
		FROM transaction_legs
		WHERE transaction_id = ANY($1::uuid[])
		ORDER BY transaction_id, line_no`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction legs: %w", err)
	}
	defer legRows.Close()
	for legRows.Next() {
		var txID string
		var l core.Leg
		if err := legRows.Scan(&txID, &l.AccountID, &l.Debit, &l.Credit, &l.Amount, &l.Memo); err != nil {
			return nil, fmt.Errorf("failed to scan transaction leg: %w", err)
		}
		i := index[txID]
		out[i].Legs = append(out[i].Legs, l)
	}
	return out, legRows.Err()
}

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx                             core.Transaction
		number, reversalOf, reversedBy *string
		status                         string
	)
	err := row.Scan(&tx.ID, &tx.CompanyID, &number, &tx.Date, &tx.Description, &tx.Reference,
		&tx.Currency, &tx.ExchangeRate, &status, &reversalOf, &reversedBy, &tx.CreatedAt, &tx.PostedAt)
	tx.Number = derefString(number)
	tx.ReversalOf = derefString(reversalOf)
	tx.ReversedBy = derefString(reversedBy)
	tx.Status = core.TransactionStatus(status)
	return tx, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *core.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, company_id, entry_number, entry_date, description, reference,
			currency, exchange_rate, status, reversal_of, created_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.CompanyID, nullString(t.Number), core.DateOnly(t.Date), t.Description, t.Reference,
		t.Currency, t.ExchangeRate, string(t.Status), nullString(t.ReversalOf), t.CreatedAt, t.PostedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range t.Legs {
		batch.Queue(`
			INSERT INTO transaction_legs (transaction_id, line_no, account_id, debit, credit, amount, memo)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, i+1, l.AccountID, l.Debit, l.Credit, l.Amount, l.Memo)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert transaction legs: %w", err)
	}
	return nil
}

func (t *tenant) CreateTransaction(ctx context.Context, tr *core.Transaction) error {
	tr.CompanyID = t.companyID
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTransaction(ctx, tx, tr); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *tenant) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	if !validID(id) || !validID(t.companyID) {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	txs, err := t.queryTransactions(ctx, t.pool, `WHERE t.company_id = $1 AND t.id = $2`, t.companyID, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return &txs[0], nil
}

func (t *tenant) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	if !validID(t.companyID) {
		return nil, nil
	}
	var (
		conds = []string{"t.company_id = $1"}
		args  = []any{t.companyID}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, core.DateOnly(f.From))
		conds = append(conds, fmt.Sprintf("t.entry_date >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, core.DateOnly(f.To))
		conds = append(conds, fmt.Sprintf("t.entry_date <= $%d", len(args)))
	}
	where := "WHERE " + strings.Join(conds, " AND ") + " ORDER BY t.entry_date DESC, t.created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		where += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return t.queryTransactions(ctx, t.pool, where, args...)
}

// nextNumber advances the company's sequence for year inside tx. The row
// lock taken by the upsert serialises concurrent posters, and a rollback
// returns the number, so the sequence stays gapless.
func (t *tenant) nextNumber(ctx context.Context, tx pgx.Tx, year int) (string, error) {
	var last int64
	err := tx.QueryRow(ctx, `
		INSERT INTO transaction_sequences (company_id, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, year)
		DO UPDATE SET last_number = transaction_sequences.last_number + 1
		RETURNING last_number`, t.companyID, year).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to generate gapless sequence number: %w", err)
	}
	return fmt.Sprintf("JE-%d-%05d", year, last), nil
}

// lockStatus reads a transaction's status and date under FOR UPDATE.
func (t *tenant) lockStatus(ctx context.Context, tx pgx.Tx, id string) (core.TransactionStatus, time.Time, *string, error) {
	var (
		status     string
		date       time.Time
		reversedBy *string
	)
	err := tx.QueryRow(ctx, `
		SELECT status, entry_date, reversed_by FROM transactions
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`, t.companyID, id).Scan(&status, &date, &reversedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return "", time.Time{}, nil, fmt.Errorf("failed to read transaction for update: %w", err)
	}
	return core.TransactionStatus(status), date, reversedBy, nil
}

func (t *tenant) PostTransaction(ctx context.Context, id string, postedAt time.Time) (*core.Transaction, error) {
	if !validID(id) || !validID(t.companyID) {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, date, _, err := t.lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if status != core.StatusDraft {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, status, core.ErrInvalidState)
	}
	number, err := t.nextNumber(ctx, tx, date.Year())
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET status = 'posted', entry_number = $3, posted_at = $4
		WHERE company_id = $1 AND id = $2`, t.companyID, id, number, postedAt); err != nil {
		return nil, fmt.Errorf("failed to post transaction: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t.GetTransaction(ctx, id)
}

func (t *tenant) VoidTransaction(ctx context.Context, id string) error {
	if !validID(id) || !validID(t.companyID) {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, _, _, err := t.lockStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if status != core.StatusDraft {
		return fmt.Errorf("transaction %s is %s: %w", id, status, core.ErrInvalidState)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET status = 'void' WHERE company_id = $1 AND id = $2`, t.companyID, id); err != nil {
		return fmt.Errorf("failed to void transaction: %w", err)
	}
	return tx.Commit(ctx)
}

func (t *tenant) ReverseTransaction(ctx context.Context, originalID string, reversal *core.Transaction) error {
	if !validID(originalID) || !validID(t.companyID) {
		return fmt.Errorf("transaction %s: %w", originalID, core.ErrNotFound)
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, _, reversedBy, err := t.lockStatus(ctx, tx, originalID)
	if err != nil {
		return err
	}
	if status != core.StatusPosted || reversedBy != nil {
		return fmt.Errorf("transaction %s cannot be reversed: %w", originalID, core.ErrInvalidState)
	}

	number, err := t.nextNumber(ctx, tx, reversal.Date.Year())
	if err != nil {
		return err
	}
	reversal.CompanyID = t.companyID
	reversal.Status = core.StatusPosted
	reversal.ReversalOf = originalID
	reversal.Number = number
	if err := insertTransaction(ctx, tx, reversal); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET reversed_by = $3 WHERE company_id = $1 AND id = $2`,
		t.companyID, originalID, reversal.ID); err != nil {
		return fmt.Errorf("failed to link reversal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reversal: %w", err)
	}
	return nil
}

// ── Settings ─────────────────────────────────────────────────────────────────

func (t *tenant) GetSettings(ctx context.Context) (*core.CompanySettings, error) {
	if !validID(t.companyID) {
		return nil, fmt.Errorf("settings for %s: %w", t.companyID, core.ErrNotFound)
	}
	var (
		s      core.CompanySettings
		format string
	)
	err := t.pool.QueryRow(ctx, `
		SELECT company_id, fiscal_year_start, timezone, date_format, default_report_format, report_recipients, updated_at
		FROM company_settings WHERE company_id = $1`, t.companyID,
	).Scan(&s.CompanyID, &s.FiscalYearStart, &s.Timezone, &s.DateFormat, &format, &s.ReportRecipients, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settings for %s: %w", t.companyID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	s.DefaultReportFormat = core.ReportFormat(format)
	return &s, nil
}

func (t *tenant) PutSettings(ctx context.Context, s *core.CompanySettings) error {
	s.CompanyID = t.companyID
	_, err := t.pool.Exec(ctx, `
		INSERT INTO company_settings (company_id, fiscal_year_start, timezone, date_format, default_report_format, report_recipients, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id) DO UPDATE SET
			fiscal_year_start = EXCLUDED.fiscal_year_start,
			timezone = EXCLUDED.timezone,
			date_format = EXCLUDED.date_format,
			default_report_format = EXCLUDED.default_report_format,
			report_recipients = EXCLUDED.report_recipients,
			updated_at = EXCLUDED.updated_at`,
		s.CompanyID, s.FiscalYearStart, s.Timezone, s.DateFormat, string(s.DefaultReportFormat),
		nonNil(s.ReportRecipients), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
