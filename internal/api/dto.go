package api

import (
	"time"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/money"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateTaskRequest struct {
	Title           string `json:"title"`
	Budget          string `json:"budget"`
	PerTesterAmount string `json:"per_tester_amount"`
}

type AmountRequest struct {
	Amount string `json:"amount"`
}

type WithdrawalRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

type DepositRequest struct {
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type WalletDTO struct {
	OwnerID          string `json:"owner_id"`
	OwnerKind        string `json:"owner_kind"`
	Balance          int64  `json:"balance"`
	BalanceDisplay   string `json:"balance_display"`
	Held             int64  `json:"held"`
	Available        int64  `json:"available"`
	AvailableDisplay string `json:"available_display"`
}

func toWalletDTO(w *models.Wallet) WalletDTO {
	return WalletDTO{
		OwnerID:          w.OwnerID,
		OwnerKind:        string(w.OwnerKind),
		Balance:          w.Balance,
		BalanceDisplay:   money.Format(w.Balance),
		Held:             w.Held,
		Available:        w.Available(),
		AvailableDisplay: money.Format(w.Available()),
	}
}

type TransactionDTO struct {
	ID             string    `json:"id"`
	OperationID    string    `json:"operation_id"`
	Kind           string    `json:"kind"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	AmountDisplay  string    `json:"amount_display"`
	CounterpartyID *string   `json:"counterparty_id,omitempty"`
	TaskID         *string   `json:"task_id,omitempty"`
	BalanceAfter   *int64    `json:"balance_after,omitempty"`
	ExternalRef    *string   `json:"external_ref,omitempty"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toTransactionDTO(t *models.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:             t.ID.String(),
		OperationID:    t.OperationID.String(),
		Kind:           string(t.Kind),
		Direction:      string(t.Direction),
		Status:         string(t.Status),
		Amount:         t.Amount,
		AmountDisplay:  money.Format(t.Amount),
		CounterpartyID: t.CounterpartyID,
		BalanceAfter:   t.BalanceAfter,
		ExternalRef:    t.ExternalRef,
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
	}
	if t.TaskID != nil {
		s := t.TaskID.String()
		dto.TaskID = &s
	}
	return dto
}

func toTransactionDTOs(txs []*models.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionDTO(t))
	}
	return out
}

type TransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	// NextBefore is the cursor for the next page, empty on the last one.
	NextBefore string `json:"next_before,omitempty"`
}

// TransferDTO reports both legs of a committed transfer.
type TransferDTO struct {
	OperationID string         `json:"operation_id"`
	Debit       TransactionDTO `json:"debit"`
	Credit      TransactionDTO `json:"credit"`
	Replayed    bool           `json:"replayed"`
}

func toTransferDTO(r *ledger.TransferResult) TransferDTO {
	return TransferDTO{
		OperationID: r.OperationID.String(),
		Debit:       toTransactionDTO(r.Debit),
		Credit:      toTransactionDTO(r.Credit),
		Replayed:    r.Replayed,
	}
}

type TaskDTO struct {
	ID                     string            `json:"id"`
	CreatorID              string            `json:"creator_id"`
	Title                  string            `json:"title"`
	Budget                 int64             `json:"budget"`
	BudgetDisplay          string            `json:"budget_display"`
	PerTesterAmount        int64             `json:"per_tester_amount"`
	PerTesterAmountDisplay string            `json:"per_tester_amount_display"`
	FundingState           string            `json:"funding_state"`
	Status                 string            `json:"status"`
	Escrow                 *int64            `json:"escrow,omitempty"`
	EscrowDisplay          string            `json:"escrow_display,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	Responses              []TaskResponseDTO `json:"responses,omitempty"`
}

func toTaskDTO(t *models.Task) TaskDTO {
	return TaskDTO{
		ID:                     t.ID.String(),
		CreatorID:              t.CreatorID.String(),
		Title:                  t.Title,
		Budget:                 t.BudgetAmount,
		BudgetDisplay:          money.Format(t.BudgetAmount),
		PerTesterAmount:        t.PerTesterAmount,
		PerTesterAmountDisplay: money.Format(t.PerTesterAmount),
		FundingState:           t.FundingState,
		Status:                 t.Status,
		CreatedAt:              t.CreatedAt,
	}
}

type TaskResponseDTO struct {
	TesterID    string  `json:"tester_id"`
	Status      string  `json:"status"`
	PayoutTxnID *string `json:"payout_txn_id,omitempty"`
}

func toTaskResponseDTO(r *models.TaskResponse) TaskResponseDTO {
	dto := TaskResponseDTO{TesterID: r.TesterID.String(), Status: r.Status}
	if r.PayoutTxnID != nil {
		s := r.PayoutTxnID.String()
		dto.PayoutTxnID = &s
	}
	return dto
}

type BackfillResponse struct {
	Created int `json:"created"`
}
