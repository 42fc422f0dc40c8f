package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
)

func seed(t *testing.T, s *Store, balance string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		return uow.InsertAccount(context.Background(), &models.Account{
			ID: "a", OwnerID: "u", Type: models.AccountCash,
			Status: models.AccountActive, Currency: "CNY",
			Balance:   decimal.RequireFromString(balance),
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	seed(t, s, "100.00")

	boom := errors.New("boom")
	err := s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		if _, err := uow.AdjustBalance(context.Background(), "a", decimal.RequireFromString("-40.00")); err != nil {
			return err
		}
		if err := uow.InsertTransaction(context.Background(), &models.Transaction{
			ID: "tx", OwnerID: "u", Type: models.TxExpense, Status: models.TxCompleted,
			Amount: decimal.RequireFromString("40.00"), Currency: "CNY", AccountID: "a",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Neither the balance change nor the transaction survived.
	err = s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		account, err := uow.GetAccount(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.RequireFromString("100.00")))

		tx, err := uow.GetTransaction(context.Background(), "tx")
		require.NoError(t, err)
		assert.Nil(t, tx)
		return nil
	})
	require.NoError(t, err)
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewStore()
	seed(t, s, "100.00")

	err := s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		account, err := uow.GetAccount(context.Background(), "a")
		require.NoError(t, err)
		account.Balance = decimal.RequireFromString("999999.00")
		return nil
	})
	require.NoError(t, err)

	err = s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		account, err := uow.GetAccount(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.RequireFromString("100.00")),
			"mutating a read result must not touch stored state")
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateAccountPreservesBalance(t *testing.T) {
	s := NewStore()
	seed(t, s, "100.00")

	err := s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		account, err := uow.GetAccount(context.Background(), "a")
		require.NoError(t, err)
		account.Name = "renamed"
		account.Balance = decimal.RequireFromString("0.01")
		return uow.UpdateAccount(context.Background(), account)
	})
	require.NoError(t, err)

	err = s.RunInTx(context.Background(), func(uow interfaces.UnitOfWork) error {
		account, err := uow.GetAccount(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "renamed", account.Name)
		assert.True(t, account.Balance.Equal(decimal.RequireFromString("100.00")),
			"balance moves only through AdjustBalance")
		return nil
	})
	require.NoError(t, err)
}

func TestCancelledContextRejected(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunInTx(ctx, func(uow interfaces.UnitOfWork) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
