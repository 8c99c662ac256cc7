package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when the source wallet's available
	// balance does not cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransfer is returned for self-transfers, malformed owner
	// references, or operations the owner's kind does not allow.
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrWalletNotFound is returned when a wallet that must be provisioned
	// explicitly does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrEntityNotFound is returned when a referenced task, user or record is missing.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrPersistence marks storage-layer failures. They are retryable.
	ErrPersistence = errors.New("persistence error")

	// ErrExternalPayoutFailed is returned when the payout capability did not pay out.
	ErrExternalPayoutFailed = errors.New("external payout failed")

	// ErrConcurrentModification is returned when the store aborted the unit
	// because of contention (serialization failure, deadlock, lock timeout).
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// for a different operation.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")

	// ErrForbidden is returned when the caller does not own the referenced entity.
	ErrForbidden = errors.New("forbidden")

	// ErrNotPending is returned when settling a transaction that already left pending.
	ErrNotPending = errors.New("transaction is not pending")
)

// InsufficientFundsError carries the shortfall details.
type InsufficientFundsError struct {
	OwnerID   string
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: owner %s available %d, requested %d",
		e.OwnerID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Persistence wraps err as a PersistenceError unless it already carries a
// ledger classification.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrConcurrentModification) ||
		IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrNotPending) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrPersistence)
}

// IsClientError returns true if the error is due to invalid caller input or
// a business rule, never a transient condition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound) || errors.Is(err, ErrEntityNotFound)
}
