package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics for ledger event publication.
const (
	TopicTransactionPosted  = "transaction.posted"
	TopicTransactionAmended = "transaction.amended"
	TopicTransactionVoided  = "transaction.voided"
)

// TransactionEvent is the envelope published after a ledger write commits.
// It carries a snapshot of the row, never a reference consumers could use
// to mutate the ledger.
type TransactionEvent struct {
	TransactionID string          `json:"transaction_id"`
	OwnerID       string          `json:"owner_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AccountID     string          `json:"account_id"`
	ToAccountID   string          `json:"to_account_id,omitempty"`
	CategoryID    string          `json:"category_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
