package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
	"github.com/finledger/finledger/internal/storage/memory"
)

const owner = "user-1"

func newTestLedger() (*Ledger, *memory.Store) {
	store := memory.NewStore()
	return New(store, nil, common.NewSilentLogger()), store
}

func seedAccount(t *testing.T, store *memory.Store, id, ownerID, balance string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		return uow.InsertAccount(context.Background(), &models.Account{
			ID: id, OwnerID: ownerID, Name: id,
			Type: models.AccountCash, Status: models.AccountActive,
			Balance: dec(balance), Currency: "CNY",
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func seedCategory(t *testing.T, store *memory.Store, id, ownerID string, categoryType models.TransactionType) {
	t.Helper()
	now := time.Now().UTC()
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		return uow.InsertCategory(context.Background(), &models.Category{
			ID: id, OwnerID: ownerID, Name: id, Type: categoryType,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store *memory.Store, id string) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		account, err := uow.GetAccount(context.Background(), id)
		require.NotNil(t, account)
		balance = account.Balance
		return err
	})
	require.NoError(t, err)
	return balance
}

// replayBalance recomputes an account balance from initial plus the delta
// of every non-voided transaction touching it.
func replayBalance(t *testing.T, store *memory.Store, accountID, ownerID string, initial decimal.Decimal) decimal.Decimal {
	t.Helper()
	var txs []*models.Transaction
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		var err error
		txs, err = uow.ListTransactions(context.Background(), ownerID, models.TransactionFilter{AccountID: accountID})
		return err
	})
	require.NoError(t, err)

	balance := initial
	for _, tx := range txs {
		for _, d := range Deltas(tx) {
			if d.AccountID == accountID {
				balance = balance.Add(d.Amount)
			}
		}
	}
	return balance
}

func TestPostIncomeCreditsAccount(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "100.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("50.25"), AccountID: "a",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TxCompleted, tx.Status)
	assert.Equal(t, "CNY", tx.Currency)
	require.NotNil(t, tx.Account)
	assert.True(t, tx.Account.Balance.Equal(dec("150.25")))
	assert.True(t, balanceOf(t, store, "a").Equal(dec("150.25")))
}

func TestPostExpenseDebitsAccount(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "1000.00")

	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("150.00"), AccountID: "a",
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("850.00")))
}

func TestTransferConservation(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "1000.00")
	seedAccount(t, store, "b", owner, "0.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxTransfer, Amount: dec("200.00"), TransferFee: dec("5.00"),
		AccountID: "a", ToAccountID: "b",
	})
	require.NoError(t, err)

	assert.True(t, balanceOf(t, store, "a").Equal(dec("795.00")))
	assert.True(t, balanceOf(t, store, "b").Equal(dec("200.00")))
	require.NotNil(t, tx.ToAccount)
	assert.True(t, tx.ToAccount.Balance.Equal(dec("200.00")))

	// The fee vanishes: total system balance drops by exactly the fee.
	total := balanceOf(t, store, "a").Add(balanceOf(t, store, "b"))
	assert.True(t, total.Equal(dec("995.00")))
}

func TestVoidRestoresBalanceAndIsIdempotent(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "1000.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("150.00"), AccountID: "a",
	})
	require.NoError(t, err)
	require.True(t, balanceOf(t, store, "a").Equal(dec("850.00")))

	require.NoError(t, l.Void(context.Background(), owner, tx.ID))
	assert.True(t, balanceOf(t, store, "a").Equal(dec("1000.00")))

	// Second void is a no-op, not an error, and reverses nothing.
	require.NoError(t, l.Void(context.Background(), owner, tx.ID))
	assert.True(t, balanceOf(t, store, "a").Equal(dec("1000.00")))

	_, err = l.Get(context.Background(), owner, tx.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAmendAmountMovesBalanceByDifference(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "500.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("100.00"), AccountID: "a",
	})
	require.NoError(t, err)
	require.True(t, balanceOf(t, store, "a").Equal(dec("400.00")))

	newAmount := dec("130.00")
	_, err = l.Amend(context.Background(), owner, tx.ID, Patch{Amount: &newAmount})
	require.NoError(t, err)

	// b - a = 30 more spent.
	assert.True(t, balanceOf(t, store, "a").Equal(dec("370.00")))
}

func TestAmendMovesTransactionBetweenAccounts(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "500.00")
	seedAccount(t, store, "b", owner, "500.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("100.00"), AccountID: "a",
	})
	require.NoError(t, err)

	target := "b"
	_, err = l.Amend(context.Background(), owner, tx.ID, Patch{AccountID: &target})
	require.NoError(t, err)

	assert.True(t, balanceOf(t, store, "a").Equal(dec("500.00")))
	assert.True(t, balanceOf(t, store, "b").Equal(dec("400.00")))
}

func TestAmendStatusTransitionsMoveMoneyOnCompletedBoundary(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "100.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("40.00"), AccountID: "a",
		Status: models.TxPending,
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("100.00")), "pending must not move money")

	completed := models.TxCompleted
	_, err = l.Amend(context.Background(), owner, tx.ID, Patch{Status: &completed})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("60.00")))

	cancelled := models.TxCancelled
	_, err = l.Amend(context.Background(), owner, tx.ID, Patch{Status: &cancelled})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("100.00")), "leaving COMPLETED reverses")
}

func TestCategoryMismatchRejectedWithoutSideEffects(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "300.00")
	seedCategory(t, store, "salary", owner, models.TxIncome)

	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("10.00"), AccountID: "a",
		CategoryID: "salary",
	})
	assert.ErrorIs(t, err, common.ErrInvalidOperation)

	// Nothing was written: balance matches a replay over an empty log.
	assert.True(t, balanceOf(t, store, "a").Equal(dec("300.00")))
	assert.True(t, replayBalance(t, store, "a", owner, dec("300.00")).Equal(dec("300.00")))
}

func TestTransferValidation(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "100.00")

	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxTransfer, Amount: dec("10.00"), AccountID: "a",
	})
	assert.ErrorIs(t, err, common.ErrInvalidOperation, "missing destination")

	_, err = l.Post(context.Background(), owner, PostIntent{
		Type: models.TxTransfer, Amount: dec("10.00"), AccountID: "a", ToAccountID: "a",
	})
	assert.ErrorIs(t, err, common.ErrInvalidOperation, "self transfer")

	_, err = l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("-5.00"), AccountID: "a",
	})
	assert.ErrorIs(t, err, common.ErrInvalidOperation, "non-positive amount")
}

func TestOwnershipEnforced(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", "someone-else", "100.00")

	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("10.00"), AccountID: "a",
	})
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("10.00"), AccountID: "missing",
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestVoidOtherOwnersTransactionForbidden(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "100.00")

	tx, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("10.00"), AccountID: "a",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, l.Void(context.Background(), "intruder", tx.ID), common.ErrForbidden)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("110.00")))
}

func TestReplayInvariantAcrossPostAmendVoid(t *testing.T) {
	l, store := newTestLedger()
	initial := dec("1000.00")
	seedAccount(t, store, "a", owner, "1000.00")
	seedAccount(t, store, "b", owner, "250.00")

	e1, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("120.00"), AccountID: "a"})
	require.NoError(t, err)
	_, err = l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("75.50"), AccountID: "a"})
	require.NoError(t, err)
	tr, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxTransfer, Amount: dec("300.00"), TransferFee: dec("2.50"),
		AccountID: "a", ToAccountID: "b"})
	require.NoError(t, err)

	amended := dec("150.00")
	_, err = l.Amend(context.Background(), owner, e1.ID, Patch{Amount: &amended})
	require.NoError(t, err)
	require.NoError(t, l.Void(context.Background(), owner, tr.ID))

	assert.True(t, balanceOf(t, store, "a").Equal(replayBalance(t, store, "a", owner, initial)))
	assert.True(t, balanceOf(t, store, "b").Equal(replayBalance(t, store, "b", owner, dec("250.00"))))
}

func TestConcurrentPostsAgainstOneAccountSerialize(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "1000.00")

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Post(context.Background(), owner, PostIntent{
				Type: models.TxExpense, Amount: dec("1.00"), AccountID: "a",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, balanceOf(t, store, "a").Equal(dec("980.00")), "no lost updates")
}

// flakyStore fails the first n units of work with a retryable conflict.
type flakyStore struct {
	inner    interfaces.Store
	failures int
}

func (f *flakyStore) RunInTx(ctx context.Context, fn func(uow interfaces.UnitOfWork) error) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("serialization failure: %w", common.ErrConflict)
	}
	return f.inner.RunInTx(ctx, fn)
}

func TestConflictIsRetriedThenSucceeds(t *testing.T) {
	store := memory.NewStore()
	seedAccount(t, store, "a", owner, "100.00")
	l := New(&flakyStore{inner: store, failures: 2}, nil, common.NewSilentLogger())

	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("10.00"), AccountID: "a",
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("110.00")))
}

func TestConflictSurfacesAfterRetriesExhausted(t *testing.T) {
	store := memory.NewStore()
	seedAccount(t, store, "a", owner, "100.00")
	l := New(&flakyStore{inner: store, failures: maxRetries}, nil, common.NewSilentLogger())

	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxIncome, Amount: dec("10.00"), AccountID: "a",
	})
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.True(t, balanceOf(t, store, "a").Equal(dec("100.00")))
}

func TestStats(t *testing.T) {
	l, store := newTestLedger()
	seedAccount(t, store, "a", owner, "0.00")

	for _, amount := range []string{"10.00", "20.00"} {
		_, err := l.Post(context.Background(), owner, PostIntent{
			Type: models.TxIncome, Amount: dec(amount), AccountID: "a"})
		require.NoError(t, err)
	}
	_, err := l.Post(context.Background(), owner, PostIntent{
		Type: models.TxExpense, Amount: dec("5.00"), AccountID: "a"})
	require.NoError(t, err)

	stats, err := l.Stats(context.Background(), owner, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCount)
	assert.True(t, stats.TotalAmount.Equal(dec("35.00")))
	require.Len(t, stats.ByType, 2)
	assert.Equal(t, models.TxIncome, stats.ByType[0].Type)
	assert.True(t, stats.ByType[0].Amount.Equal(dec("30.00")))
	assert.Equal(t, 2, stats.ByType[0].Count)
}
