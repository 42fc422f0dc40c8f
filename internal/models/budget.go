package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget caps expense spend over a date window, optionally restricted to a
// single category. SpentAmount and RemainingAmount are derived: they are
// recomputed from the transaction log on every read or explicit refresh
// rather than maintained incrementally, so a budget created or re-windowed
// after transactions already exist is always correct.
type Budget struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	CategoryID      string          `json:"category_id,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	SpentAmount     decimal.Decimal `json:"spent_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// IsExceeded reports whether spend has passed the cap.
func (b *Budget) IsExceeded() bool {
	return b.SpentAmount.GreaterThan(b.Amount)
}

// Deleted reports whether the budget has been soft-deleted.
func (b *Budget) Deleted() bool {
	return b.DeletedAt != nil
}

// Covers reports whether t falls inside the budget window, inclusive on
// both ends.
func (b *Budget) Covers(t time.Time) bool {
	return !t.Before(b.StartDate) && !t.After(b.EndDate)
}
