// Package postgres is the durable Store. Each unit of work is one
// database transaction; accounts are locked with SELECT ... FOR UPDATE in
// ascending id order, and serialization or deadlock failures surface as
// common.ErrConflict for the ledger service to retry.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
)

// Store wraps a Postgres connection pool.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside one database transaction. Any error rolls the
// whole unit of work back; retryable SQLSTATEs are translated to
// common.ErrConflict.
func (s *Store) RunInTx(ctx context.Context, fn func(uow interfaces.UnitOfWork) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateErr(err)
	}

	if err := fn(&unitOfWork{tx: dbTx}); err != nil {
		dbTx.Rollback()
		return translateErr(err)
	}
	if err := dbTx.Commit(); err != nil {
		return translateErr(err)
	}
	return nil
}

// translateErr maps serialization (40001) and deadlock (40P01) failures
// to the retryable conflict sentinel.
func translateErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%v: %w", err, common.ErrConflict)
		}
	}
	return err
}

type unitOfWork struct {
	tx *sql.Tx
}

const accountColumns = `id, owner_id, name, type, status, balance, currency, is_default, created_at, updated_at, deleted_at`

func (u *unitOfWork) AccountsForUpdate(ctx context.Context, ids ...string) (map[string]*models.Account, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	// ORDER BY id makes Postgres acquire the row locks in ascending id
	// order, so two transfers over the same account pair in opposite
	// directions cannot deadlock.
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	rows, err := u.tx.QueryContext(ctx, query, pq.Array(sorted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.Account, len(sorted))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[account.ID] = account
	}
	return out, rows.Err()
}

func (u *unitOfWork) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(u.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

func (u *unitOfWork) InsertAccount(ctx context.Context, a *models.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := u.tx.ExecContext(ctx, query,
		a.ID, a.OwnerID, a.Name, a.Type, a.Status, a.Balance, a.Currency,
		a.IsDefault, a.CreatedAt, a.UpdatedAt, nullTime(a.DeletedAt))
	return err
}

func (u *unitOfWork) UpdateAccount(ctx context.Context, a *models.Account) error {
	// balance deliberately omitted: it moves only through AdjustBalance.
	const query = `UPDATE accounts
		SET name=$2, type=$3, status=$4, currency=$5, is_default=$6, updated_at=$7, deleted_at=$8
		WHERE id=$1`
	res, err := u.tx.ExecContext(ctx, query,
		a.ID, a.Name, a.Type, a.Status, a.Currency, a.IsDefault, a.UpdatedAt, nullTime(a.DeletedAt))
	if err != nil {
		return err
	}
	return requireRow(res, "account", a.ID)
}

func (u *unitOfWork) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id`
	rows, err := u.tx.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (u *unitOfWork) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	const query = `UPDATE accounts SET balance = balance + $2, updated_at = now()
		WHERE id = $1 RETURNING balance`
	var balance decimal.Decimal
	err := u.tx.QueryRowContext(ctx, query, accountID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("account %s: %w", accountID, common.ErrNotFound)
	}
	return balance, err
}

func (u *unitOfWork) ClearDefaultFlag(ctx context.Context, ownerID, exceptID string) error {
	const query = `UPDATE accounts SET is_default = FALSE
		WHERE owner_id = $1 AND id <> $2 AND deleted_at IS NULL AND is_default`
	_, err := u.tx.ExecContext(ctx, query, ownerID, exceptID)
	return err
}

func (u *unitOfWork) LatestActiveAccount(ctx context.Context, ownerID, exceptID string) (*models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts
		WHERE owner_id = $1 AND id <> $2 AND deleted_at IS NULL AND status = 'ACTIVE'
		ORDER BY created_at DESC, id LIMIT 1`
	account, err := scanAccount(u.tx.QueryRowContext(ctx, query, ownerID, exceptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

const transactionColumns = `id, owner_id, type, status, amount, currency, account_id, to_account_id,
	category_id, transaction_date, description, transfer_fee, created_at, updated_at, deleted_at`

func (u *unitOfWork) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(u.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := u.tx.ExecContext(ctx, query,
		t.ID, t.OwnerID, t.Type, t.Status, t.Amount, t.Currency, t.AccountID,
		nullString(t.ToAccountID), nullString(t.CategoryID), t.TransactionDate,
		t.Description, t.TransferFee, t.CreatedAt, t.UpdatedAt, nullTime(t.DeletedAt))
	return err
}

func (u *unitOfWork) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	const query = `UPDATE transactions
		SET type=$2, status=$3, amount=$4, currency=$5, account_id=$6, to_account_id=$7,
			category_id=$8, transaction_date=$9, description=$10, transfer_fee=$11,
			updated_at=$12, deleted_at=$13
		WHERE id=$1`
	res, err := u.tx.ExecContext(ctx, query,
		t.ID, t.Type, t.Status, t.Amount, t.Currency, t.AccountID,
		nullString(t.ToAccountID), nullString(t.CategoryID), t.TransactionDate,
		t.Description, t.TransferFee, t.UpdatedAt, nullTime(t.DeletedAt))
	if err != nil {
		return err
	}
	return requireRow(res, "transaction", t.ID)
}

func (u *unitOfWork) ListTransactions(ctx context.Context, ownerID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE owner_id = $1 AND deleted_at IS NULL`
	args := []any{ownerID}

	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}
	if filter.AccountID != "" {
		add(` AND (account_id = $%[1]d OR to_account_id = $%[1]d)`, filter.AccountID)
	}
	if filter.CategoryID != "" {
		add(` AND category_id = $%d`, filter.CategoryID)
	}
	if filter.Type != "" {
		add(` AND type = $%d`, filter.Type)
	}
	if filter.Status != "" {
		add(` AND status = $%d`, filter.Status)
	}
	if !filter.From.IsZero() {
		add(` AND transaction_date >= $%d`, filter.From)
	}
	if !filter.To.IsZero() {
		add(` AND transaction_date <= $%d`, filter.To)
	}
	query += ` ORDER BY transaction_date DESC, id`

	rows, err := u.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (u *unitOfWork) CountPendingRefs(ctx context.Context, accountID string) (int, error) {
	const query = `SELECT COUNT(*) FROM transactions
		WHERE (account_id = $1 OR to_account_id = $1)
		AND status = 'PENDING' AND deleted_at IS NULL`
	var count int
	err := u.tx.QueryRowContext(ctx, query, accountID).Scan(&count)
	return count, err
}

func (u *unitOfWork) SumExpenses(ctx context.Context, ownerID string, from, to time.Time, categoryID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE owner_id = $1 AND type = 'EXPENSE' AND status = 'COMPLETED' AND deleted_at IS NULL
		AND transaction_date >= $2 AND transaction_date <= $3
		AND ($4 = '' OR category_id = $4)`
	var sum decimal.Decimal
	err := u.tx.QueryRowContext(ctx, query, ownerID, from, to, categoryID).Scan(&sum)
	return sum, err
}

const budgetColumns = `id, owner_id, name, amount, category_id, start_date, end_date,
	spent_amount, remaining_amount, created_at, updated_at, deleted_at`

func (u *unitOfWork) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	const query = `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1`
	budget, err := scanBudget(u.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return budget, err
}

func (u *unitOfWork) InsertBudget(ctx context.Context, b *models.Budget) error {
	const query = `INSERT INTO budgets (` + budgetColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := u.tx.ExecContext(ctx, query,
		b.ID, b.OwnerID, b.Name, b.Amount, nullString(b.CategoryID), b.StartDate, b.EndDate,
		b.SpentAmount, b.RemainingAmount, b.CreatedAt, b.UpdatedAt, nullTime(b.DeletedAt))
	return err
}

func (u *unitOfWork) UpdateBudget(ctx context.Context, b *models.Budget) error {
	const query = `UPDATE budgets
		SET name=$2, amount=$3, category_id=$4, start_date=$5, end_date=$6,
			spent_amount=$7, remaining_amount=$8, updated_at=$9, deleted_at=$10
		WHERE id=$1`
	res, err := u.tx.ExecContext(ctx, query,
		b.ID, b.Name, b.Amount, nullString(b.CategoryID), b.StartDate, b.EndDate,
		b.SpentAmount, b.RemainingAmount, b.UpdatedAt, nullTime(b.DeletedAt))
	if err != nil {
		return err
	}
	return requireRow(res, "budget", b.ID)
}

func (u *unitOfWork) ListBudgets(ctx context.Context, ownerID string) ([]*models.Budget, error) {
	const query = `SELECT ` + budgetColumns + ` FROM budgets
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY start_date DESC, id`
	rows, err := u.tx.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, budget)
	}
	return out, rows.Err()
}

const categoryColumns = `id, owner_id, name, type, created_at, updated_at, deleted_at`

func (u *unitOfWork) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	const query = `SELECT ` + categoryColumns + ` FROM categories WHERE id = $1`
	category, err := scanCategory(u.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return category, err
}

func (u *unitOfWork) InsertCategory(ctx context.Context, c *models.Category) error {
	const query = `INSERT INTO categories (` + categoryColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := u.tx.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.Name, c.Type, c.CreatedAt, c.UpdatedAt, nullTime(c.DeletedAt))
	return err
}

func (u *unitOfWork) UpdateCategory(ctx context.Context, c *models.Category) error {
	const query = `UPDATE categories SET name=$2, type=$3, updated_at=$4, deleted_at=$5 WHERE id=$1`
	res, err := u.tx.ExecContext(ctx, query, c.ID, c.Name, c.Type, c.UpdatedAt, nullTime(c.DeletedAt))
	if err != nil {
		return err
	}
	return requireRow(res, "category", c.ID)
}

func (u *unitOfWork) ListCategories(ctx context.Context, ownerID string) ([]*models.Category, error) {
	const query = `SELECT ` + categoryColumns + ` FROM categories
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id`
	rows, err := u.tx.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	var deletedAt sql.NullTime
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.Status, &a.Balance,
		&a.Currency, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	a.DeletedAt = timePtr(deletedAt)
	return &a, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	var toAccount, category sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(&t.ID, &t.OwnerID, &t.Type, &t.Status, &t.Amount, &t.Currency,
		&t.AccountID, &toAccount, &category, &t.TransactionDate, &t.Description,
		&t.TransferFee, &t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	t.ToAccountID = toAccount.String
	t.CategoryID = category.String
	t.DeletedAt = timePtr(deletedAt)
	return &t, nil
}

func scanBudget(row scanner) (*models.Budget, error) {
	var b models.Budget
	var category sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Amount, &category, &b.StartDate,
		&b.EndDate, &b.SpentAmount, &b.RemainingAmount, &b.CreatedAt, &b.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	b.CategoryID = category.String
	b.DeletedAt = timePtr(deletedAt)
	return &b, nil
}

func scanCategory(row scanner) (*models.Category, error) {
	var c models.Category
	var deletedAt sql.NullTime
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Type, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	c.DeletedAt = timePtr(deletedAt)
	return &c, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Compile-time check: Store implements the storage contract.
var _ interfaces.Store = (*Store)(nil)
var _ interfaces.UnitOfWork = (*unitOfWork)(nil)
