package models

import (
	"time"

	"github.com/google/uuid"
)

// Task funding and lifecycle enums.
const (
	TaskUnfunded = "unfunded"
	TaskFunded   = "funded"
	TaskRefunded = "refunded"

	TaskStatusOpen   = "open"
	TaskStatusClosed = "closed"
)

// Tester response (task history) statuses.
const (
	ResponseSubmitted = "submitted"
	ResponseAccepted  = "accepted"
	ResponseRejected  = "rejected"
)

// Task is the slice of a posted task the ledger cares about.
type Task struct {
	ID              uuid.UUID  `json:"id"`
	CreatorID       uuid.UUID  `json:"creator_id"`
	Title           string     `json:"title"`
	BudgetAmount    int64      `json:"budget_amount"`
	PerTesterAmount int64      `json:"per_tester_amount"`
	FundingState    string     `json:"funding_state"`
	FundingTxnID    *uuid.UUID `json:"funding_txn_id,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TaskResponse is a tester's history entry for a task.
type TaskResponse struct {
	TaskID      uuid.UUID  `json:"task_id"`
	TesterID    uuid.UUID  `json:"tester_id"`
	Status      string     `json:"status"`
	PayoutTxnID *uuid.UUID `json:"payout_txn_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
