package models

import "time"

// Category labels transactions for reporting and budget filtering. A
// category is typed: an INCOME category can only label INCOME
// transactions, an EXPENSE category only EXPENSE transactions. Transfers
// carry no category.
type Category struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Type      TransactionType `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// Deleted reports whether the category has been soft-deleted.
func (c *Category) Deleted() bool {
	return c.DeletedAt != nil
}

// ValidCategoryType returns true for the types a category may carry.
// TRANSFER is not a category type.
func ValidCategoryType(t TransactionType) bool {
	return t == TxIncome || t == TxExpense
}
