// README: Wallet transaction record and the balance arithmetic.
package ledger

import (
	"motorcab/internal/modules/trip"
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

type TxType string

const (
	TxTopUp    TxType = "topup"
	TxWithdraw TxType = "withdraw"
	TxCredit   TxType = "credit"
	TxDebit    TxType = "debit"
)

// Credits reports whether the type adds to balance.
func (t TxType) Credits() bool {
	return t == TxTopUp || t == TxCredit
}

type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxApproved TxStatus = "approved"
	TxRejected TxStatus = "rejected"
)

// Transaction mirrors transactions/{driverId}/{txId}. Field names are part of
// the wire contract with the admin approval tools; do not rename.
type Transaction struct {
	ID         types.ID `json:"-"`
	Amount     int64    `json:"amount"`
	Type       TxType   `json:"type"`
	Status     TxStatus `json:"status"`
	Method     string   `json:"method,omitempty"`
	Reference  string   `json:"txId,omitempty"`
	SenderName string   `json:"senderName,omitempty"`
	Date       int64    `json:"date"`
}

// Balance derives the canonical balance from the transaction log and the
// completed-trip history. Only approved transactions count; pending top-ups
// are informational until an approver flips them. A trip with a frozen
// commissionAmount contributes exactly that amount forever; trips completed
// before freezing existed fall back to the live schedule.
func Balance(txs []Transaction, completed []trip.Trip, live trip.FeeSchedule) int64 {
	var balance int64
	for _, tx := range txs {
		if tx.Status != TxApproved {
			continue
		}
		if tx.Type.Credits() {
			balance += tx.Amount
		} else {
			balance -= tx.Amount
		}
	}
	for _, t := range completed {
		if t.CommissionAmount != nil {
			balance -= *t.CommissionAmount
			continue
		}
		balance -= live.Deduction(t.Fare)
	}
	return balance
}

// Store paths.

func TransactionsPath(driverID types.ID) string {
	return realtime.Join("transactions", string(driverID))
}

func CompletedTripsPath(driverID types.ID) string {
	return realtime.Join("completedTrips", string(driverID))
}
