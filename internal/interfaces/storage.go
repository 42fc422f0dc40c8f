package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/models"
)

// Store is the persistence boundary for the ledger core. Every mutating
// service call runs inside RunInTx: the callback either commits as a whole
// or leaves no trace. Implementations must make concurrent balance
// adjustments against the same account serialize (row locks or
// optimistic retry), and must surface unresolvable contention as
// common.ErrConflict so the ledger service can retry.
type Store interface {
	RunInTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// UnitOfWork is the set of operations available inside one atomic store
// transaction. A UnitOfWork is only valid for the duration of the RunInTx
// callback that produced it.
type UnitOfWork interface {
	// AccountsForUpdate loads the given accounts with exclusive row
	// locks, acquiring them in ascending id order regardless of argument
	// order so that concurrent transfers over the same pair cannot
	// deadlock. Soft-deleted accounts are returned; callers decide
	// whether a tombstone is an error. Missing ids map to absent keys.
	AccountsForUpdate(ctx context.Context, ids ...string) (map[string]*models.Account, error)

	GetAccount(ctx context.Context, id string) (*models.Account, error)
	InsertAccount(ctx context.Context, account *models.Account) error
	UpdateAccount(ctx context.Context, account *models.Account) error
	ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error)

	// AdjustBalance applies a single atomic signed increment to the
	// account balance and returns the new balance.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)

	// ClearDefaultFlag unsets is_default on every non-deleted account of
	// the owner except the one given (empty exceptID clears all).
	ClearDefaultFlag(ctx context.Context, ownerID, exceptID string) error

	// LatestActiveAccount returns the most recently created non-deleted
	// ACTIVE account of the owner, excluding exceptID, or nil.
	LatestActiveAccount(ctx context.Context, ownerID, exceptID string) (*models.Account, error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, ownerID string, filter models.TransactionFilter) ([]*models.Transaction, error)

	// CountPendingRefs counts non-deleted PENDING transactions that
	// reference the account as source or destination.
	CountPendingRefs(ctx context.Context, accountID string) (int, error)

	// SumExpenses totals non-deleted COMPLETED EXPENSE transactions of
	// the owner with transaction date in [from, to], optionally filtered
	// by category.
	SumExpenses(ctx context.Context, ownerID string, from, to time.Time, categoryID string) (decimal.Decimal, error)

	GetBudget(ctx context.Context, id string) (*models.Budget, error)
	InsertBudget(ctx context.Context, budget *models.Budget) error
	UpdateBudget(ctx context.Context, budget *models.Budget) error
	ListBudgets(ctx context.Context, ownerID string) ([]*models.Budget, error)

	GetCategory(ctx context.Context, id string) (*models.Category, error)
	InsertCategory(ctx context.Context, category *models.Category) error
	UpdateCategory(ctx context.Context, category *models.Category) error
	ListCategories(ctx context.Context, ownerID string) ([]*models.Category, error)
}
