// Package categories is the registry mapping categories to transaction
// types. The ledger consults it to reject type-mismatched labels.
package categories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
)

// Registry exposes owner-scoped category CRUD.
type Registry struct {
	store interfaces.Store
}

// NewRegistry creates a category registry over the given store.
func NewRegistry(store interfaces.Store) *Registry {
	return &Registry{store: store}
}

// Create stores a new category. Type must be INCOME or EXPENSE.
func (r *Registry) Create(ctx context.Context, ownerID, name string, categoryType models.TransactionType) (*models.Category, error) {
	if !models.ValidCategoryType(categoryType) {
		return nil, fmt.Errorf("category type %q: %w", categoryType, common.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	category := &models.Category{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Type:      categoryType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		return uow.InsertCategory(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

// Get returns a non-deleted category owned by ownerID.
func (r *Registry) Get(ctx context.Context, ownerID, id string) (*models.Category, error) {
	var out *models.Category
	err := r.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		category, err := r.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		out = category
		return nil
	})
	return out, err
}

// List returns the owner's non-deleted categories, newest first.
func (r *Registry) List(ctx context.Context, ownerID string) ([]*models.Category, error) {
	var out []*models.Category
	err := r.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		categories, err := uow.ListCategories(ctx, ownerID)
		if err != nil {
			return err
		}
		out = categories
		return nil
	})
	return out, err
}

// Rename changes a category's display name.
func (r *Registry) Rename(ctx context.Context, ownerID, id, name string) (*models.Category, error) {
	var out *models.Category
	err := r.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		category, err := r.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		category.Name = name
		category.UpdatedAt = time.Now().UTC()
		if err := uow.UpdateCategory(ctx, category); err != nil {
			return err
		}
		out = category
		return nil
	})
	return out, err
}

// Delete soft-deletes a category. Existing transactions keep the label;
// new postings against it are rejected as NotFound.
func (r *Registry) Delete(ctx context.Context, ownerID, id string) error {
	return r.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		category, err := r.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		category.DeletedAt = &now
		category.UpdatedAt = now
		return uow.UpdateCategory(ctx, category)
	})
}

func (r *Registry) getOwned(ctx context.Context, uow interfaces.UnitOfWork, ownerID, id string) (*models.Category, error) {
	category, err := uow.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if category == nil || category.Deleted() {
		return nil, fmt.Errorf("category %s: %w", id, common.ErrNotFound)
	}
	if category.OwnerID != ownerID {
		return nil, fmt.Errorf("category %s: %w", id, common.ErrForbidden)
	}
	return category, nil
}
