package models

import (
	"time"

	"github.com/google/uuid"
)

// TxKind is the business reason for a balance-affecting event.
type TxKind string

const (
	TxTaskFunding      TxKind = "task_funding"
	TxTaskPayout       TxKind = "task_payout"
	TxRefund           TxKind = "refund"
	TxWithdrawal       TxKind = "withdrawal"
	TxAdjustmentCredit TxKind = "adjustment_credit"
)

// Valid reports whether k is one of the known kinds.
func (k TxKind) Valid() bool {
	switch k {
	case TxTaskFunding, TxTaskPayout, TxRefund, TxWithdrawal, TxAdjustmentCredit:
		return true
	}
	return false
}

// TxStatus is the settlement state of a transaction record.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Direction tells whether a record takes money out of or puts money into its wallet.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// ExternalCounterparty is the counterparty recorded for money entering or
// leaving the platform.
const ExternalCounterparty = "external"

// Transaction is an append-only record of one balance-affecting event, filed
// under the wallet owner it affects. Amount is always positive; Direction
// carries the sign.
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	OperationID    uuid.UUID  `json:"operation_id"`
	WalletID       uuid.UUID  `json:"wallet_id"`
	UserID         string     `json:"user_id"`
	OwnerKind      OwnerKind  `json:"owner_kind"`
	CounterpartyID *string    `json:"counterparty_id,omitempty"`
	Direction      Direction  `json:"direction"`
	Amount         int64      `json:"amount"`
	Kind           TxKind     `json:"kind"`
	TaskID         *uuid.UUID `json:"task_id,omitempty"`
	Status         TxStatus   `json:"status"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	BalanceAfter   *int64     `json:"balance_after,omitempty"`
	ExternalRef    *string    `json:"external_ref,omitempty"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Signed returns the amount with the sign implied by Direction.
func (t *Transaction) Signed() int64 {
	if t.Direction == Debit {
		return -t.Amount
	}
	return t.Amount
}
