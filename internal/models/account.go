package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType categorizes what kind of financial account a record represents.
type AccountType string

const (
	AccountCash       AccountType = "CASH"
	AccountBank       AccountType = "BANK"
	AccountCreditCard AccountType = "CREDIT_CARD"
	AccountInvestment AccountType = "INVESTMENT"
	AccountLoan       AccountType = "LOAN"
	AccountOther      AccountType = "OTHER"
)

var validAccountTypes = map[AccountType]bool{
	AccountCash:       true,
	AccountBank:       true,
	AccountCreditCard: true,
	AccountInvestment: true,
	AccountLoan:       true,
	AccountOther:      true,
}

// ValidAccountType returns true if t is a recognized account type.
func ValidAccountType(t AccountType) bool {
	return validAccountTypes[t]
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
	AccountClosed   AccountStatus = "CLOSED"
)

// Account holds the authoritative balance for one user account.
// Balance is derived state: it equals the initial balance plus the signed
// sum of every non-deleted COMPLETED transaction delta that targets the
// account, and is mutated only through the ledger's unit of work.
type Account struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Status    AccountStatus   `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	IsDefault bool            `json:"is_default"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// Deleted reports whether the account has been soft-deleted.
func (a *Account) Deleted() bool {
	return a.DeletedAt != nil
}
