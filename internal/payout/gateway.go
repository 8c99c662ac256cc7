// Package payout is the boundary to the external system that actually moves
// money off the platform.
package payout

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Request asks the provider to pay Amount (minor units) to Destination.
// Reference is the ledger's pending withdrawal id; providers deduplicate on it.
type Request struct {
	Reference   uuid.UUID
	Amount      int64
	Destination string
}

// Result is the provider's answer to a payout request.
type Result struct {
	Success     bool
	ExternalRef string
	Reason      string
}

// State is the provider-side state of a payout reference.
type State string

const (
	StatePaid     State = "paid"
	StateFailed   State = "failed"
	StateNotFound State = "not_found"
	// StateUnknown means the provider has not decided yet or could not be asked.
	StateUnknown State = "unknown"
)

// Status describes a payout as the provider sees it.
type Status struct {
	State       State
	ExternalRef string
	Reason      string
}

// ErrOutcomeUnknown is returned by Payout when the provider accepted the
// request without deciding it yet.
var ErrOutcomeUnknown = errors.New("payout outcome unknown")

// Gateway is the payout capability the withdrawal flow depends on.
//
// Payout must return a Result with Success=false only when the provider
// definitely will not pay the reference. Any error means the payout may or
// may not have happened; Status answers for it later.
type Gateway interface {
	Payout(ctx context.Context, req Request) (*Result, error)
	Status(ctx context.Context, reference uuid.UUID) (*Status, error)
}
