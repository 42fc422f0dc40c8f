// Package ledger implements the transaction log and the balance
// consistency rules around it: posting, amending and voiding transactions
// together with the account balance effects they imply, inside one atomic
// unit of work per operation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/models"
	"github.com/finledger/finledger/internal/models/events"
)

const (
	maxRetries = 3
	retryBase  = 10 * time.Millisecond
)

// Ledger is the orchestrator other subsystems call to mutate the
// transaction log. Every write validates ownership and category
// compatibility before touching anything, then runs the row write and its
// balance effects in a single store transaction. Conflicts from
// concurrent contention are retried with backoff before being surfaced.
type Ledger struct {
	store     interfaces.Store
	publisher interfaces.EventPublisher
	log       *common.Logger
}

// New creates a Ledger over the given store. publisher may be nil when no
// event delivery is wanted.
func New(store interfaces.Store, publisher interfaces.EventPublisher, log *common.Logger) *Ledger {
	if log == nil {
		log = common.NewSilentLogger()
	}
	return &Ledger{store: store, publisher: publisher, log: log}
}

// PostIntent describes a transaction to be recorded. Post is not
// idempotent: a caller that retries after an ambiguous failure must
// deduplicate with its own idempotency key before re-issuing.
type PostIntent struct {
	Type            models.TransactionType   `json:"type"`
	Status          models.TransactionStatus `json:"status"` // defaults to COMPLETED
	Amount          decimal.Decimal          `json:"amount"`
	Currency        string                   `json:"currency"` // defaults to the source account currency
	AccountID       string                   `json:"account_id"`
	ToAccountID     string                   `json:"to_account_id"` // transfers only
	CategoryID      string                   `json:"category_id"`
	TransactionDate time.Time                `json:"transaction_date"` // defaults to now
	Description     string                   `json:"description"`
	TransferFee     decimal.Decimal          `json:"transfer_fee"` // transfers only
}

// Patch is a partial edit of an existing transaction. Nil fields are left
// unchanged; a pointer to the zero value clears the field. Like Post,
// Amend must be deduplicated by the caller.
type Patch struct {
	Type            *models.TransactionType   `json:"type"`
	Status          *models.TransactionStatus `json:"status"`
	Amount          *decimal.Decimal          `json:"amount"`
	Currency        *string                   `json:"currency"`
	AccountID       *string                   `json:"account_id"`
	ToAccountID     *string                   `json:"to_account_id"`
	CategoryID      *string                   `json:"category_id"`
	TransactionDate *time.Time                `json:"transaction_date"`
	Description     *string                   `json:"description"`
	TransferFee     *decimal.Decimal          `json:"transfer_fee"`
}

func (p Patch) applyTo(tx *models.Transaction) {
	if p.Type != nil {
		tx.Type = *p.Type
	}
	if p.Status != nil {
		tx.Status = *p.Status
	}
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Currency != nil {
		tx.Currency = *p.Currency
	}
	if p.AccountID != nil {
		tx.AccountID = *p.AccountID
	}
	if p.ToAccountID != nil {
		tx.ToAccountID = *p.ToAccountID
	}
	if p.CategoryID != nil {
		tx.CategoryID = *p.CategoryID
	}
	if p.TransactionDate != nil {
		tx.TransactionDate = *p.TransactionDate
	}
	if p.Description != nil {
		tx.Description = *p.Description
	}
	if p.TransferFee != nil {
		tx.TransferFee = *p.TransferFee
	}
}

// Post records a new transaction and applies its balance deltas in one
// unit of work. The returned transaction carries account snapshots taken
// after the balances settled.
func (l *Ledger) Post(ctx context.Context, ownerID string, intent PostIntent) (*models.Transaction, error) {
	now := time.Now().UTC()
	tx := &models.Transaction{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Type:            intent.Type,
		Status:          intent.Status,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		AccountID:       intent.AccountID,
		ToAccountID:     intent.ToAccountID,
		CategoryID:      intent.CategoryID,
		TransactionDate: intent.TransactionDate,
		Description:     intent.Description,
		TransferFee:     intent.TransferFee,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if tx.Status == "" {
		tx.Status = models.TxCompleted
	}
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = now
	}
	if err := validateShape(tx); err != nil {
		return nil, err
	}

	err := l.withRetry(ctx, func() error {
		return l.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
			accounts, err := l.lockLive(ctx, uow, ownerID, accountIDs(tx))
			if err != nil {
				return err
			}
			if tx.Currency == "" {
				tx.Currency = accounts[tx.AccountID].Currency
			}
			if err := l.checkCategory(ctx, uow, ownerID, tx.CategoryID, tx.Type); err != nil {
				return err
			}
			if err := uow.InsertTransaction(ctx, tx); err != nil {
				return err
			}
			if err := applyDeltas(ctx, uow, accounts, Deltas(tx)); err != nil {
				return err
			}
			attachSnapshots(tx, accounts)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, events.TopicTransactionPosted, tx)
	l.log.Info().
		Str("transaction_id", tx.ID).
		Str("type", string(tx.Type)).
		Str("amount", tx.Amount.String()).
		Msg("transaction posted")
	return tx, nil
}

// Amend edits an existing transaction, reversing its old balance effect
// and applying the new one atomically. Referenced accounts and category
// are re-validated against the patched state; on any validation failure
// nothing changes.
func (l *Ledger) Amend(ctx context.Context, ownerID, id string, patch Patch) (*models.Transaction, error) {
	var out *models.Transaction
	err := l.withRetry(ctx, func() error {
		return l.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
			existing, err := uow.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil || existing.Voided() {
				return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
			}
			if existing.OwnerID != ownerID {
				return fmt.Errorf("transaction %s: %w", id, common.ErrForbidden)
			}

			updated := *existing
			patch.applyTo(&updated)
			updated.Account, updated.ToAccount = nil, nil
			if err := validateShape(&updated); err != nil {
				return err
			}

			// Lock the union of old and new accounts. Accounts the patch
			// moves the transaction onto must be live; accounts only the
			// old state references may already be closed, the reversal
			// still lands on them.
			ids := accountIDs(existing)
			ids = append(ids, accountIDs(&updated)...)
			slices.Sort(ids)
			ids = slices.Compact(ids)
			accounts, err := uow.AccountsForUpdate(ctx, ids...)
			if err != nil {
				return err
			}
			for _, accID := range accountIDs(&updated) {
				if err := requireLive(accounts[accID], accID, ownerID); err != nil {
					return err
				}
			}
			for _, accID := range accountIDs(existing) {
				if accounts[accID] == nil {
					return fmt.Errorf("account %s: %w", accID, common.ErrNotFound)
				}
			}

			if err := l.checkCategory(ctx, uow, ownerID, updated.CategoryID, updated.Type); err != nil {
				return err
			}

			if err := applyDeltas(ctx, uow, accounts, Reverse(Deltas(existing))); err != nil {
				return err
			}
			if err := applyDeltas(ctx, uow, accounts, Deltas(&updated)); err != nil {
				return err
			}

			updated.UpdatedAt = time.Now().UTC()
			if err := uow.UpdateTransaction(ctx, &updated); err != nil {
				return err
			}
			attachSnapshots(&updated, accounts)
			out = &updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, events.TopicTransactionAmended, out)
	l.log.Info().Str("transaction_id", out.ID).Msg("transaction amended")
	return out, nil
}

// Void soft-deletes a transaction and reverses its balance effect exactly
// once. Voiding an already-voided transaction is a no-op, not an error,
// so callers can retry freely.
func (l *Ledger) Void(ctx context.Context, ownerID, id string) error {
	var voided *models.Transaction
	err := l.withRetry(ctx, func() error {
		return l.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
			tx, err := uow.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if tx == nil {
				return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
			}
			if tx.OwnerID != ownerID {
				return fmt.Errorf("transaction %s: %w", id, common.ErrForbidden)
			}
			if tx.Voided() {
				return nil
			}

			accounts, err := uow.AccountsForUpdate(ctx, accountIDs(tx)...)
			if err != nil {
				return err
			}
			if err := applyDeltas(ctx, uow, accounts, Reverse(Deltas(tx))); err != nil {
				return err
			}

			now := time.Now().UTC()
			tx.DeletedAt = &now
			tx.UpdatedAt = now
			if err := uow.UpdateTransaction(ctx, tx); err != nil {
				return err
			}
			voided = tx
			return nil
		})
	})
	if err != nil {
		return err
	}

	if voided != nil {
		l.publish(ctx, events.TopicTransactionVoided, voided)
		l.log.Info().Str("transaction_id", voided.ID).Msg("transaction voided")
	}
	return nil
}

// Get returns a transaction by id. Voided transactions are NotFound.
func (l *Ledger) Get(ctx context.Context, ownerID, id string) (*models.Transaction, error) {
	var out *models.Transaction
	err := l.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		tx, err := uow.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil || tx.Voided() {
			return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
		if tx.OwnerID != ownerID {
			return fmt.Errorf("transaction %s: %w", id, common.ErrForbidden)
		}
		out = tx
		return nil
	})
	return out, err
}

// List returns the owner's non-voided transactions matching the filter,
// newest first.
func (l *Ledger) List(ctx context.Context, ownerID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := l.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		txs, err := uow.ListTransactions(ctx, ownerID, filter)
		if err != nil {
			return err
		}
		out = txs
		return nil
	})
	return out, err
}

// TypeTotal is an aggregate over one transaction type.
type TypeTotal struct {
	Type   models.TransactionType `json:"type"`
	Amount decimal.Decimal        `json:"amount"`
	Count  int                    `json:"count"`
}

// Statistics summarizes the owner's non-voided transactions in a window.
type Statistics struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCount  int             `json:"total_count"`
	ByType      []TypeTotal     `json:"by_type"`
}

// Stats totals the owner's transactions between from and to, grouped by
// type. Zero bounds leave that side of the window open.
func (l *Ledger) Stats(ctx context.Context, ownerID string, from, to time.Time) (*Statistics, error) {
	txs, err := l.List(ctx, ownerID, models.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	stats := &Statistics{TotalAmount: decimal.Zero}
	byType := map[models.TransactionType]*TypeTotal{}
	for _, tx := range txs {
		stats.TotalAmount = stats.TotalAmount.Add(tx.Amount)
		stats.TotalCount++
		tt, ok := byType[tx.Type]
		if !ok {
			tt = &TypeTotal{Type: tx.Type, Amount: decimal.Zero}
			byType[tx.Type] = tt
		}
		tt.Amount = tt.Amount.Add(tx.Amount)
		tt.Count++
	}
	for _, t := range []models.TransactionType{models.TxIncome, models.TxExpense, models.TxTransfer} {
		if tt, ok := byType[t]; ok {
			stats.ByType = append(stats.ByType, *tt)
		}
	}
	return stats, nil
}

// validateShape checks the internal consistency of a transaction row
// before any store access.
func validateShape(tx *models.Transaction) error {
	if !models.ValidTransactionType(tx.Type) {
		return fmt.Errorf("transaction type %q: %w", tx.Type, common.ErrInvalidOperation)
	}
	if !models.ValidTransactionStatus(tx.Status) {
		return fmt.Errorf("transaction status %q: %w", tx.Status, common.ErrInvalidOperation)
	}
	if tx.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive: %w", common.ErrInvalidOperation)
	}
	if tx.AccountID == "" {
		return fmt.Errorf("account id required: %w", common.ErrInvalidOperation)
	}
	if tx.Type == models.TxTransfer {
		if tx.ToAccountID == "" {
			return fmt.Errorf("transfer requires destination account: %w", common.ErrInvalidOperation)
		}
		if tx.ToAccountID == tx.AccountID {
			return fmt.Errorf("transfer to same account: %w", common.ErrInvalidOperation)
		}
		if tx.TransferFee.IsNegative() {
			return fmt.Errorf("transfer fee must not be negative: %w", common.ErrInvalidOperation)
		}
	} else {
		if tx.ToAccountID != "" {
			return fmt.Errorf("destination account only valid for transfers: %w", common.ErrInvalidOperation)
		}
		if !tx.TransferFee.IsZero() {
			return fmt.Errorf("transfer fee only valid for transfers: %w", common.ErrInvalidOperation)
		}
	}
	return nil
}

// lockLive locks the given accounts and requires each to exist, be
// non-deleted and belong to the owner.
func (l *Ledger) lockLive(ctx context.Context, uow interfaces.UnitOfWork, ownerID string, ids []string) (map[string]*models.Account, error) {
	accounts, err := uow.AccountsForUpdate(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := requireLive(accounts[id], id, ownerID); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func requireLive(a *models.Account, id, ownerID string) error {
	if a == nil || a.Deleted() {
		return fmt.Errorf("account %s: %w", id, common.ErrNotFound)
	}
	if a.OwnerID != ownerID {
		return fmt.Errorf("account %s: %w", id, common.ErrForbidden)
	}
	return nil
}

func (l *Ledger) checkCategory(ctx context.Context, uow interfaces.UnitOfWork, ownerID, categoryID string, txType models.TransactionType) error {
	if categoryID == "" {
		return nil
	}
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
	if category.Type != txType {
		return fmt.Errorf("category type %s does not match transaction type %s: %w",
			category.Type, txType, common.ErrInvalidOperation)
	}
	return nil
}

// applyDeltas adjusts each implicated balance and refreshes the locked
// snapshots so they reflect the settled values.
func applyDeltas(ctx context.Context, uow interfaces.UnitOfWork, accounts map[string]*models.Account, deltas []models.Delta) error {
	for _, d := range deltas {
		balance, err := uow.AdjustBalance(ctx, d.AccountID, d.Amount)
		if err != nil {
			return err
		}
		if a := accounts[d.AccountID]; a != nil {
			a.Balance = balance
		}
	}
	return nil
}

func attachSnapshots(tx *models.Transaction, accounts map[string]*models.Account) {
	tx.Account = accounts[tx.AccountID]
	if tx.ToAccountID != "" {
		tx.ToAccount = accounts[tx.ToAccountID]
	}
}

// accountIDs returns the accounts a transaction touches: the source, plus
// the destination for transfers.
func accountIDs(tx *models.Transaction) []string {
	ids := []string{tx.AccountID}
	if tx.Type == models.TxTransfer && tx.ToAccountID != "" {
		ids = append(ids, tx.ToAccountID)
	}
	return ids
}

func (l *Ledger) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, common.ErrConflict) {
			return err
		}
		delay := retryBase << attempt
		l.log.Warn().Err(err).Dur("backoff", delay).Msg("ledger conflict, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (l *Ledger) publish(ctx context.Context, topic string, tx *models.Transaction) {
	if l.publisher == nil {
		return
	}
	event := events.TransactionEvent{
		TransactionID: tx.ID,
		OwnerID:       tx.OwnerID,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		AccountID:     tx.AccountID,
		ToAccountID:   tx.ToAccountID,
		CategoryID:    tx.CategoryID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := l.publisher.Publish(ctx, topic, event); err != nil {
		l.log.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}
