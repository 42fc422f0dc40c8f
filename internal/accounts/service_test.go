package accounts

import (
	"context"
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

func newService() (*Service, *memory.Store) {
	store := memory.NewStore()
	return NewService(store, common.NewSilentLogger()), store
}

func create(t *testing.T, s *Service, name string, isDefault bool) *models.Account {
	t.Helper()
	account, err := s.Create(context.Background(), owner, CreateParams{
		Name: name, Type: models.AccountBank,
		InitialBalance: decimal.RequireFromString("100.00"),
		IsDefault:      isDefault,
	})
	require.NoError(t, err)
	return account
}

func TestCreateAppliesDefaults(t *testing.T) {
	s, _ := newService()

	account := create(t, s, "checking", false)
	assert.Equal(t, models.AccountActive, account.Status)
	assert.Equal(t, DefaultCurrency, account.Currency)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("100.00")))

	_, err := s.Create(context.Background(), owner, CreateParams{Name: "bad", Type: "PIGGY_BANK"})
	assert.ErrorIs(t, err, common.ErrInvalidOperation)
}

func TestDefaultFlagIsMutuallyExclusive(t *testing.T) {
	s, _ := newService()

	first := create(t, s, "first", true)
	second := create(t, s, "second", true)

	list, err := s.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, list, 2)

	defaults := 0
	for _, account := range list {
		if account.IsDefault {
			defaults++
			assert.Equal(t, second.ID, account.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	// Explicit SetDefault moves the flag back.
	_, err = s.SetDefault(context.Background(), owner, first.ID)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), owner, first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)
	got, err = s.Get(context.Background(), owner, second.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestCloseRejectedWithPendingTransactions(t *testing.T) {
	s, store := newService()
	account := create(t, s, "checking", false)

	now := time.Now().UTC()
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		return uow.InsertTransaction(context.Background(), &models.Transaction{
			ID: "tx-1", OwnerID: owner, Type: models.TxExpense,
			Status: models.TxPending, Amount: decimal.RequireFromString("5.00"),
			Currency: "CNY", AccountID: account.ID,
			TransactionDate: now, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	err = s.Close(context.Background(), owner, account.ID)
	assert.ErrorIs(t, err, common.ErrBusinessRule)

	// Still open.
	got, err := s.Get(context.Background(), owner, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountActive, got.Status)
}

func TestCloseRejectedWithPendingIncomingTransfer(t *testing.T) {
	s, store := newService()
	source := create(t, s, "source", false)
	dest := create(t, s, "dest", false)

	now := time.Now().UTC()
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		return uow.InsertTransaction(context.Background(), &models.Transaction{
			ID: "tx-1", OwnerID: owner, Type: models.TxTransfer,
			Status: models.TxPending, Amount: decimal.RequireFromString("5.00"),
			Currency: "CNY", AccountID: source.ID, ToAccountID: dest.ID,
			TransactionDate: now, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Close(context.Background(), owner, dest.ID), common.ErrBusinessRule)
}

func TestCloseReassignsDefaultToNewestActive(t *testing.T) {
	s, store := newService()

	older := create(t, s, "older", false)
	// Creation timestamps must differ for "most recently created" to be
	// deterministic.
	err := store.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		a, err := uow.GetAccount(context.Background(), older.ID)
		require.NoError(t, err)
		a.CreatedAt = a.CreatedAt.Add(-time.Hour)
		return uow.InsertAccount(context.Background(), a)
	})
	require.NoError(t, err)

	newer := create(t, s, "newer", false)
	closing := create(t, s, "closing", true)

	require.NoError(t, s.Close(context.Background(), owner, closing.ID))

	_, err = s.Get(context.Background(), owner, closing.ID)
	assert.ErrorIs(t, err, common.ErrNotFound, "closed accounts are tombstoned")

	got, err := s.Get(context.Background(), owner, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault, "newest active account inherits the default flag")

	got, err = s.Get(context.Background(), owner, older.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestCloseLastAccountLeavesNoDefault(t *testing.T) {
	s, _ := newService()
	only := create(t, s, "only", true)

	require.NoError(t, s.Close(context.Background(), owner, only.ID))

	list, err := s.List(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOwnershipEnforced(t *testing.T) {
	s, _ := newService()
	account := create(t, s, "mine", false)

	_, err := s.Get(context.Background(), "intruder", account.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	err = s.Close(context.Background(), "intruder", account.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = s.Get(context.Background(), owner, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdateDoesNotTouchBalance(t *testing.T) {
	s, _ := newService()
	account := create(t, s, "checking", false)

	name := "renamed"
	status := models.AccountInactive
	got, err := s.Update(context.Background(), owner, account.ID, UpdateParams{
		Name: &name, Status: &status,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, models.AccountInactive, got.Status)
	assert.True(t, got.Balance.Equal(account.Balance))
}
