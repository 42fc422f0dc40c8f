package categories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/models"
	"github.com/finledger/finledger/internal/storage/memory"
)

const owner = "user-1"

func TestCreateRejectsTransferType(t *testing.T) {
	r := NewRegistry(memory.NewStore())

	_, err := r.Create(context.Background(), owner, "moves", models.TxTransfer)
	assert.ErrorIs(t, err, common.ErrInvalidOperation)

	_, err = r.Create(context.Background(), owner, "food", models.TxExpense)
	assert.NoError(t, err)
}

func TestLifecycle(t *testing.T) {
	r := NewRegistry(memory.NewStore())

	category, err := r.Create(context.Background(), owner, "food", models.TxExpense)
	require.NoError(t, err)

	got, err := r.Get(context.Background(), owner, category.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxExpense, got.Type)

	got, err = r.Rename(context.Background(), owner, category.ID, "groceries")
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.Name)

	require.NoError(t, r.Delete(context.Background(), owner, category.ID))
	_, err = r.Get(context.Background(), owner, category.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOwnershipEnforced(t *testing.T) {
	r := NewRegistry(memory.NewStore())

	category, err := r.Create(context.Background(), owner, "food", models.TxExpense)
	require.NoError(t, err)

	_, err = r.Get(context.Background(), "intruder", category.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	err = r.Delete(context.Background(), "intruder", category.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}
