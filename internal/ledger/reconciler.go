package ledger

import (
	"github.com/finledger/finledger/internal/models"
)

// Deltas computes the signed balance changes a transaction implies.
//
// Only a COMPLETED, non-voided transaction moves money; anything else
// yields an empty set. A transfer debits amount+fee from the source and
// credits amount to the destination: the fee is a sink, reducing the
// source without being credited anywhere.
func Deltas(tx *models.Transaction) []models.Delta {
	if tx.Status != models.TxCompleted || tx.Voided() {
		return nil
	}

	switch tx.Type {
	case models.TxIncome:
		return []models.Delta{{AccountID: tx.AccountID, Amount: tx.Amount}}
	case models.TxExpense:
		return []models.Delta{{AccountID: tx.AccountID, Amount: tx.Amount.Neg()}}
	case models.TxTransfer:
		return []models.Delta{
			{AccountID: tx.AccountID, Amount: tx.Amount.Add(tx.TransferFee).Neg()},
			{AccountID: tx.ToAccountID, Amount: tx.Amount},
		}
	}
	return nil
}

// Reverse negates a delta set. Applying Reverse(Deltas(tx)) after
// Deltas(tx) restores every implicated balance exactly.
func Reverse(deltas []models.Delta) []models.Delta {
	if len(deltas) == 0 {
		return nil
	}
	reversed := make([]models.Delta, len(deltas))
	for i, d := range deltas {
		reversed[i] = models.Delta{AccountID: d.AccountID, Amount: d.Amount.Neg()}
	}
	return reversed
}
