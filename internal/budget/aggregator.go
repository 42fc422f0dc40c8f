// Package budget derives spend progress from the transaction log. Spend
// is never maintained incrementally: every read path recomputes it by
// summing matching ledger rows, so budgets created or re-windowed after
// transactions already exist, overlapping budgets, and out-of-order edits
// all come out correct by construction.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
)

// Aggregator recomputes budget spend from the ledger and owns the derived
// SpentAmount/RemainingAmount fields.
type Aggregator struct {
	store interfaces.Store
	log   *common.Logger
}

// NewAggregator creates a budget aggregator over the given store.
func NewAggregator(store interfaces.Store, log *common.Logger) *Aggregator {
	if log == nil {
		log = common.NewSilentLogger()
	}
	return &Aggregator{store: store, log: log}
}

// CreateParams describes a new budget.
type CreateParams struct {
	Name       string
	Amount     decimal.Decimal
	CategoryID string // empty means all expense categories
	StartDate  time.Time
	EndDate    time.Time
}

// Create stores a new budget and derives its initial spend immediately,
// so a budget over a window that already contains expenses starts out
// correct.
func (a *Aggregator) Create(ctx context.Context, ownerID string, params CreateParams) (*models.Budget, error) {
	if !params.StartDate.Before(params.EndDate) {
		return nil, fmt.Errorf("budget start date must precede end date: %w", common.ErrInvalidOperation)
	}
	if params.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("budget amount must be positive: %w", common.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	budget := &models.Budget{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Name:            params.Name,
		Amount:          params.Amount,
		CategoryID:      params.CategoryID,
		StartDate:       params.StartDate,
		EndDate:         params.EndDate,
		SpentAmount:     decimal.Zero,
		RemainingAmount: params.Amount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := a.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		if budget.CategoryID != "" {
			if err := a.checkCategory(ctx, uow, ownerID, budget.CategoryID); err != nil {
				return err
			}
		}
		if err := uow.InsertBudget(ctx, budget); err != nil {
			return err
		}
		return a.recompute(ctx, uow, budget)
	})
	if err != nil {
		return nil, err
	}

	a.log.Info().Str("budget_id", budget.ID).Str("name", budget.Name).Msg("budget created")
	return budget, nil
}

// Get returns a budget with freshly derived spend.
func (a *Aggregator) Get(ctx context.Context, ownerID, id string) (*models.Budget, error) {
	var out *models.Budget
	err := a.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		budget, err := a.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		if err := a.recompute(ctx, uow, budget); err != nil {
			return err
		}
		out = budget
		return nil
	})
	return out, err
}

// List returns the owner's budgets, each refreshed before returning.
func (a *Aggregator) List(ctx context.Context, ownerID string) ([]*models.Budget, error) {
	var out []*models.Budget
	err := a.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		budgets, err := uow.ListBudgets(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if err := a.recompute(ctx, uow, b); err != nil {
				return err
			}
		}
		out = budgets
		return nil
	})
	return out, err
}

// UpdateParams is a partial budget edit. Nil fields are left unchanged; a
// pointer to the empty string clears the category filter.
type UpdateParams struct {
	Name       *string          `json:"name"`
	Amount     *decimal.Decimal `json:"amount"`
	CategoryID *string          `json:"category_id"`
	StartDate  *time.Time       `json:"start_date"`
	EndDate    *time.Time       `json:"end_date"`
}

// Update edits a budget and re-derives spend against the patched window
// and filter.
func (a *Aggregator) Update(ctx context.Context, ownerID, id string, params UpdateParams) (*models.Budget, error) {
	var out *models.Budget
	err := a.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		budget, err := a.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		if params.Name != nil {
			budget.Name = *params.Name
		}
		if params.Amount != nil {
			if params.Amount.LessThanOrEqual(decimal.Zero) {
				return fmt.Errorf("budget amount must be positive: %w", common.ErrInvalidOperation)
			}
			budget.Amount = *params.Amount
		}
		if params.CategoryID != nil {
			if *params.CategoryID != "" {
				if err := a.checkCategory(ctx, uow, ownerID, *params.CategoryID); err != nil {
					return err
				}
			}
			budget.CategoryID = *params.CategoryID
		}
		if params.StartDate != nil {
			budget.StartDate = *params.StartDate
		}
		if params.EndDate != nil {
			budget.EndDate = *params.EndDate
		}
		if !budget.StartDate.Before(budget.EndDate) {
			return fmt.Errorf("budget start date must precede end date: %w", common.ErrInvalidOperation)
		}
		budget.UpdatedAt = time.Now().UTC()
		if err := a.recompute(ctx, uow, budget); err != nil {
			return err
		}
		out = budget
		return nil
	})
	return out, err
}

// Refresh recomputes and persists derived spend for one budget. It is a
// pure function of ledger state: two calls with no intervening ledger
// mutation yield identical results.
func (a *Aggregator) Refresh(ctx context.Context, ownerID, id string) (*models.Budget, error) {
	return a.Get(ctx, ownerID, id)
}

// RefreshAll recomputes every budget of the owner whose window contains
// asOf. A zero asOf refreshes all of them.
func (a *Aggregator) RefreshAll(ctx context.Context, ownerID string, asOf time.Time) error {
	return a.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		budgets, err := uow.ListBudgets(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if !asOf.IsZero() && !b.Covers(asOf) {
				continue
			}
			if err := a.recompute(ctx, uow, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete soft-deletes a budget. The ledger is untouched.
func (a *Aggregator) Delete(ctx context.Context, ownerID, id string) error {
	return a.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		budget, err := a.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		budget.DeletedAt = &now
		budget.UpdatedAt = now
		return uow.UpdateBudget(ctx, budget)
	})
}

// recompute derives SpentAmount and RemainingAmount from the ledger and
// persists them.
func (a *Aggregator) recompute(ctx context.Context, uow interfaces.UnitOfWork, budget *models.Budget) error {
	spent, err := uow.SumExpenses(ctx, budget.OwnerID, budget.StartDate, budget.EndDate, budget.CategoryID)
	if err != nil {
		return err
	}
	budget.SpentAmount = spent
	budget.RemainingAmount = budget.Amount.Sub(spent)
	return uow.UpdateBudget(ctx, budget)
}

func (a *Aggregator) checkCategory(ctx context.Context, uow interfaces.UnitOfWork, ownerID, categoryID string) error {
	category, err := uow.GetCategory(ctx, categoryID)
	if err != nil {
		return err
	}
	if category == nil || category.Deleted() {
		return fmt.Errorf("category %s: %w", categoryID, common.ErrNotFound)
	}
	if category.OwnerID != ownerID {
		return fmt.Errorf("category %s: %w", categoryID, common.ErrForbidden)
	}
	return nil
}

func (a *Aggregator) getOwned(ctx context.Context, uow interfaces.UnitOfWork, ownerID, id string) (*models.Budget, error) {
	budget, err := uow.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	if budget == nil || budget.Deleted() {
		return nil, fmt.Errorf("budget %s: %w", id, common.ErrNotFound)
	}
	if budget.OwnerID != ownerID {
		return nil, fmt.Errorf("budget %s: %w", id, common.ErrForbidden)
	}
	return budget, nil
}
