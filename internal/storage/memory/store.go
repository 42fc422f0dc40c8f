// Package memory is an in-memory Store used by tests and the demo server.
// A single mutex serializes units of work, which trivially satisfies the
// no-lost-updates requirement; atomicity comes from snapshotting all state
// at the start of a unit of work and restoring it if the callback fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
)

// Store keeps all ledger state in maps guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	budgets      map[string]*models.Budget
	categories   map[string]*models.Category
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
		budgets:      make(map[string]*models.Budget),
		categories:   make(map[string]*models.Category),
	}
}

// RunInTx holds the store lock for the whole callback and rolls every map
// back to its pre-callback state on error, so partial effects are never
// observable.
func (s *Store) RunInTx(ctx context.Context, fn func(uow interfaces.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(&unitOfWork{s: s}); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type state struct {
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	budgets      map[string]*models.Budget
	categories   map[string]*models.Category
}

func (s *Store) snapshot() state {
	return state{
		accounts:     cloneMap(s.accounts),
		transactions: cloneMap(s.transactions),
		budgets:      cloneMap(s.budgets),
		categories:   cloneMap(s.categories),
	}
}

func (s *Store) restore(st state) {
	s.accounts = st.accounts
	s.transactions = st.transactions
	s.budgets = st.budgets
	s.categories = st.categories
}

func cloneMap[T any](in map[string]*T) map[string]*T {
	out := make(map[string]*T, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// unitOfWork operates directly on the store maps; the store lock is
// already held for its whole lifetime.
type unitOfWork struct {
	s *Store
}

func (u *unitOfWork) AccountsForUpdate(ctx context.Context, ids ...string) (map[string]*models.Account, error) {
	// The store-wide mutex already serializes writers; ordering is moot
	// here but the contract (ascending id acquisition) is honored by the
	// postgres implementation where it matters.
	out := make(map[string]*models.Account, len(ids))
	for _, id := range ids {
		if a, ok := u.s.accounts[id]; ok {
			out[id] = clone(a)
		}
	}
	return out, nil
}

func (u *unitOfWork) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return clone(u.s.accounts[id]), nil
}

func (u *unitOfWork) InsertAccount(ctx context.Context, account *models.Account) error {
	u.s.accounts[account.ID] = clone(account)
	return nil
}

func (u *unitOfWork) UpdateAccount(ctx context.Context, account *models.Account) error {
	existing, ok := u.s.accounts[account.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", account.ID, common.ErrNotFound)
	}
	c := clone(account)
	c.Balance = existing.Balance // balance moves only through AdjustBalance
	u.s.accounts[account.ID] = c
	return nil
}

func (u *unitOfWork) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	var out []*models.Account
	for _, a := range u.s.accounts {
		if a.OwnerID == ownerID && !a.Deleted() {
			out = append(out, clone(a))
		}
	}
	sortNewestFirst(out, func(a *models.Account) (time.Time, string) { return a.CreatedAt, a.ID })
	return out, nil
}

func (u *unitOfWork) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	account, ok := u.s.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("account %s: %w", accountID, common.ErrNotFound)
	}
	account.Balance = account.Balance.Add(delta)
	return account.Balance, nil
}

func (u *unitOfWork) ClearDefaultFlag(ctx context.Context, ownerID, exceptID string) error {
	for _, a := range u.s.accounts {
		if a.OwnerID == ownerID && a.ID != exceptID && !a.Deleted() {
			a.IsDefault = false
		}
	}
	return nil
}

func (u *unitOfWork) LatestActiveAccount(ctx context.Context, ownerID, exceptID string) (*models.Account, error) {
	var latest *models.Account
	for _, a := range u.s.accounts {
		if a.OwnerID != ownerID || a.ID == exceptID || a.Deleted() || a.Status != models.AccountActive {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	return clone(latest), nil
}

func (u *unitOfWork) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return clone(u.s.transactions[id]), nil
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	c := clone(tx)
	c.Account, c.ToAccount = nil, nil
	u.s.transactions[tx.ID] = c
	return nil
}

func (u *unitOfWork) UpdateTransaction(ctx context.Context, tx *models.Transaction) error {
	if _, ok := u.s.transactions[tx.ID]; !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, common.ErrNotFound)
	}
	c := clone(tx)
	c.Account, c.ToAccount = nil, nil
	u.s.transactions[tx.ID] = c
	return nil
}

func (u *unitOfWork) ListTransactions(ctx context.Context, ownerID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range u.s.transactions {
		if tx.OwnerID != ownerID || tx.Voided() {
			continue
		}
		if filter.AccountID != "" && tx.AccountID != filter.AccountID && tx.ToAccountID != filter.AccountID {
			continue
		}
		if filter.CategoryID != "" && tx.CategoryID != filter.CategoryID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && tx.TransactionDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && tx.TransactionDate.After(filter.To) {
			continue
		}
		out = append(out, clone(tx))
	}
	sortNewestFirst(out, func(t *models.Transaction) (time.Time, string) { return t.TransactionDate, t.ID })
	return out, nil
}

func (u *unitOfWork) CountPendingRefs(ctx context.Context, accountID string) (int, error) {
	count := 0
	for _, tx := range u.s.transactions {
		if tx.Voided() || tx.Status != models.TxPending {
			continue
		}
		if tx.AccountID == accountID || tx.ToAccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (u *unitOfWork) SumExpenses(ctx context.Context, ownerID string, from, to time.Time, categoryID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tx := range u.s.transactions {
		if tx.OwnerID != ownerID || tx.Voided() {
			continue
		}
		if tx.Type != models.TxExpense || tx.Status != models.TxCompleted {
			continue
		}
		if tx.TransactionDate.Before(from) || tx.TransactionDate.After(to) {
			continue
		}
		if categoryID != "" && tx.CategoryID != categoryID {
			continue
		}
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

func (u *unitOfWork) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	return clone(u.s.budgets[id]), nil
}

func (u *unitOfWork) InsertBudget(ctx context.Context, budget *models.Budget) error {
	u.s.budgets[budget.ID] = clone(budget)
	return nil
}

func (u *unitOfWork) UpdateBudget(ctx context.Context, budget *models.Budget) error {
	if _, ok := u.s.budgets[budget.ID]; !ok {
		return fmt.Errorf("budget %s: %w", budget.ID, common.ErrNotFound)
	}
	u.s.budgets[budget.ID] = clone(budget)
	return nil
}

func (u *unitOfWork) ListBudgets(ctx context.Context, ownerID string) ([]*models.Budget, error) {
	var out []*models.Budget
	for _, b := range u.s.budgets {
		if b.OwnerID == ownerID && !b.Deleted() {
			out = append(out, clone(b))
		}
	}
	sortNewestFirst(out, func(b *models.Budget) (time.Time, string) { return b.StartDate, b.ID })
	return out, nil
}

func (u *unitOfWork) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	return clone(u.s.categories[id]), nil
}

func (u *unitOfWork) InsertCategory(ctx context.Context, category *models.Category) error {
	u.s.categories[category.ID] = clone(category)
	return nil
}

func (u *unitOfWork) UpdateCategory(ctx context.Context, category *models.Category) error {
	if _, ok := u.s.categories[category.ID]; !ok {
		return fmt.Errorf("category %s: %w", category.ID, common.ErrNotFound)
	}
	u.s.categories[category.ID] = clone(category)
	return nil
}

func (u *unitOfWork) ListCategories(ctx context.Context, ownerID string) ([]*models.Category, error) {
	var out []*models.Category
	for _, c := range u.s.categories {
		if c.OwnerID == ownerID && !c.Deleted() {
			out = append(out, clone(c))
		}
	}
	sortNewestFirst(out, func(c *models.Category) (time.Time, string) { return c.CreatedAt, c.ID })
	return out, nil
}

func sortNewestFirst[T any](items []*T, key func(*T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi < idj
	})
}

// Compile-time check: Store implements the storage contract.
var _ interfaces.Store = (*Store)(nil)
var _ interfaces.UnitOfWork = (*unitOfWork)(nil)
