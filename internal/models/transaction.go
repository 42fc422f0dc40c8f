package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the financial direction of a transaction.
type TransactionType string

const (
	TxIncome   TransactionType = "INCOME"
	TxExpense  TransactionType = "EXPENSE"
	TxTransfer TransactionType = "TRANSFER"
)

var validTransactionTypes = map[TransactionType]bool{
	TxIncome:   true,
	TxExpense:  true,
	TxTransfer: true,
}

// ValidTransactionType returns true if t is a recognized transaction type.
func ValidTransactionType(t TransactionType) bool {
	return validTransactionTypes[t]
}

// TransactionStatus is the settlement state of a transaction. Only
// COMPLETED transactions move money; PENDING and CANCELLED rows exist in
// the ledger but contribute no balance deltas.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxCancelled TransactionStatus = "CANCELLED"
)

var validTransactionStatuses = map[TransactionStatus]bool{
	TxPending:   true,
	TxCompleted: true,
	TxCancelled: true,
}

// ValidTransactionStatus returns true if s is a recognized status.
func ValidTransactionStatus(s TransactionStatus) bool {
	return validTransactionStatuses[s]
}

// Transaction is a single ledger row: the source of truth from which
// account balances and budget spend are derived.
//
// ToAccountID is set only for transfers and must differ from AccountID.
// TransferFee applies to transfers only: it is debited from the source
// account on top of Amount and credited nowhere.
type Transaction struct {
	ID              string            `json:"id"`
	OwnerID         string            `json:"owner_id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	AccountID       string            `json:"account_id"`
	ToAccountID     string            `json:"to_account_id,omitempty"`
	CategoryID      string            `json:"category_id,omitempty"`
	TransactionDate time.Time         `json:"transaction_date"`
	Description     string            `json:"description,omitempty"`
	TransferFee     decimal.Decimal   `json:"transfer_fee"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty"`

	// Account snapshots populated on write paths after balances settle.
	// Never persisted; the stored row carries only the ids.
	Account   *Account `json:"account,omitempty"`
	ToAccount *Account `json:"to_account,omitempty"`
}

// Voided reports whether the transaction has been soft-deleted.
func (t *Transaction) Voided() bool {
	return t.DeletedAt != nil
}

// TransactionFilter narrows a ledger listing. Zero values mean "no
// constraint". Voided rows are always excluded.
type TransactionFilter struct {
	AccountID  string
	CategoryID string
	Type       TransactionType
	Status     TransactionStatus
	From       time.Time
	To         time.Time
}

// Delta is the signed balance change a transaction implies for one account.
type Delta struct {
	AccountID string
	Amount    decimal.Decimal
}
