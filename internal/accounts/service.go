// Package accounts manages account records and their lifecycle. Balances
// live here but are written only through the ledger's unit of work.
package accounts

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

// DefaultCurrency is assumed when an account is created without one.
const DefaultCurrency = "CNY"

// Service exposes account CRUD and lifecycle rules: the single-default
// invariant and the close guard against pending transactions.
type Service struct {
	store interfaces.Store
	log   *common.Logger
}

// NewService creates an account service over the given store.
func NewService(store interfaces.Store, log *common.Logger) *Service {
	if log == nil {
		log = common.NewSilentLogger()
	}
	return &Service{store: store, log: log}
}

// CreateParams describes a new account.
type CreateParams struct {
	Name           string
	Type           models.AccountType
	InitialBalance decimal.Decimal
	Currency       string
	IsDefault      bool
}

// Create stores a new ACTIVE account with the given initial balance. If
// the account is marked default, the flag is cleared on every other
// account of the owner in the same unit of work.
func (s *Service) Create(ctx context.Context, ownerID string, params CreateParams) (*models.Account, error) {
	if !models.ValidAccountType(params.Type) {
		return nil, fmt.Errorf("account type %q: %w", params.Type, common.ErrInvalidOperation)
	}
	if params.Currency == "" {
		params.Currency = DefaultCurrency
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      params.Name,
		Type:      params.Type,
		Status:    models.AccountActive,
		Balance:   params.InitialBalance,
		Currency:  params.Currency,
		IsDefault: params.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		if account.IsDefault {
			if err := uow.ClearDefaultFlag(ctx, ownerID, ""); err != nil {
				return err
			}
		}
		return uow.InsertAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("account_id", account.ID).Str("name", account.Name).Msg("account created")
	return account, nil
}

// Get returns a non-deleted account owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*models.Account, error) {
	var out *models.Account
	err := s.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		account, err := s.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		out = account
		return nil
	})
	return out, err
}

// List returns the owner's non-deleted accounts, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.Account, error) {
	var out []*models.Account
	err := s.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		accounts, err := uow.ListAccounts(ctx, ownerID)
		if err != nil {
			return err
		}
		out = accounts
		return nil
	})
	return out, err
}

// UpdateParams is a partial account edit. Nil fields are left unchanged.
// Balance is absent on purpose: it moves only through the ledger.
type UpdateParams struct {
	Name      *string               `json:"name"`
	Type      *models.AccountType   `json:"type"`
	Status    *models.AccountStatus `json:"status"`
	IsDefault *bool                 `json:"is_default"`
}

// Update edits account attributes. Setting IsDefault true clears the flag
// on the owner's other accounts atomically.
func (s *Service) Update(ctx context.Context, ownerID, id string, params UpdateParams) (*models.Account, error) {
	if params.Type != nil && !models.ValidAccountType(*params.Type) {
		return nil, fmt.Errorf("account type %q: %w", *params.Type, common.ErrInvalidOperation)
	}

	var out *models.Account
	err := s.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		account, err := s.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}
		if params.Name != nil {
			account.Name = *params.Name
		}
		if params.Type != nil {
			account.Type = *params.Type
		}
		if params.Status != nil {
			account.Status = *params.Status
		}
		if params.IsDefault != nil {
			if *params.IsDefault && !account.IsDefault {
				if err := uow.ClearDefaultFlag(ctx, ownerID, id); err != nil {
					return err
				}
			}
			account.IsDefault = *params.IsDefault
		}
		account.UpdatedAt = time.Now().UTC()
		if err := uow.UpdateAccount(ctx, account); err != nil {
			return err
		}
		out = account
		return nil
	})
	return out, err
}

// SetDefault marks the account as the owner's default, clearing the flag
// everywhere else in the same unit of work.
func (s *Service) SetDefault(ctx context.Context, ownerID, id string) (*models.Account, error) {
	isDefault := true
	return s.Update(ctx, ownerID, id, UpdateParams{IsDefault: &isDefault})
}

// Close soft-deletes an account. It is rejected while any non-deleted
// PENDING transaction references the account as source or destination.
// If the closed account was the default, the most recently created
// remaining ACTIVE account inherits the flag.
func (s *Service) Close(ctx context.Context, ownerID, id string) error {
	err := s.store.RunInTx(ctx, func(uow interfaces.UnitOfWork) error {
		account, err := s.getOwned(ctx, uow, ownerID, id)
		if err != nil {
			return err
		}

		pending, err := uow.CountPendingRefs(ctx, id)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("account has %d pending transactions: %w", pending, common.ErrBusinessRule)
		}

		if account.IsDefault {
			next, err := uow.LatestActiveAccount(ctx, ownerID, id)
			if err != nil {
				return err
			}
			if next != nil {
				next.IsDefault = true
				next.UpdatedAt = time.Now().UTC()
				if err := uow.UpdateAccount(ctx, next); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		account.Status = models.AccountClosed
		account.IsDefault = false
		account.DeletedAt = &now
		account.UpdatedAt = now
		return uow.UpdateAccount(ctx, account)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("account_id", id).Msg("account closed")
	return nil
}

func (s *Service) getOwned(ctx context.Context, uow interfaces.UnitOfWork, ownerID, id string) (*models.Account, error) {
	account, err := uow.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Deleted() {
		return nil, fmt.Errorf("account %s: %w", id, common.ErrNotFound)
	}
	if account.OwnerID != ownerID {
		return nil, fmt.Errorf("account %s: %w", id, common.ErrForbidden)
	}
	return account, nil
}
