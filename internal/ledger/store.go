package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/models"
)

// Owner identifies a wallet by (owner id, owner kind).
type Owner struct {
	ID   string
	Kind models.OwnerKind
}

// SystemOwner is the singleton System wallet.
func SystemOwner() Owner {
	return Owner{ID: models.SystemOwnerID, Kind: models.OwnerSystem}
}

// EscrowOwner is the escrow wallet holding funds for one task.
func EscrowOwner(taskID uuid.UUID) Owner {
	return Owner{ID: taskID.String(), Kind: models.OwnerEscrow}
}

// UserOwner is the wallet of a registered user.
func UserOwner(userID uuid.UUID, kind models.OwnerKind) Owner {
	return Owner{ID: userID.String(), Kind: kind}
}

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID
}

// Validate rejects malformed references.
func (o Owner) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidTransfer)
	}
	if _, err := models.ParseOwnerKind(string(o.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransfer, err)
	}
	if (o.Kind == models.OwnerSystem) != (o.ID == models.SystemOwnerID) {
		return fmt.Errorf("%w: system wallet is a singleton", ErrInvalidTransfer)
	}
	return nil
}

// TransactionFilter narrows ListForUser queries.
type TransactionFilter struct {
	Kinds    []models.TxKind
	TaskOnly bool
	TaskID   *uuid.UUID
	Status   models.TxStatus
	// Before pages backwards: only records appended before the transaction
	// with this id are returned.
	Before   *uuid.UUID
	Limit    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f TransactionFilter) normalized() TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return f
}

// Store is the durable record of wallets and transactions.
//
// Implementations must run InTx callbacks as one atomic unit: either every
// write inside fn commits or none is visible to other readers. Contention
// aborts must surface as ErrConcurrentModification so callers can retry.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error

	// GetWallet returns ErrWalletNotFound if the wallet does not exist.
	GetWallet(ctx context.Context, owner Owner) (*models.Wallet, error)
	// ListTransactions returns the owner's records newest first.
	ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]*models.Transaction, error)
	// ListTaskTransactions returns the task's records newest first.
	ListTaskTransactions(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error)
	// ListPendingWithdrawals returns pending withdrawals created before the cutoff, oldest first.
	ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Transaction, error)
	// GetTransaction returns ErrEntityNotFound if the record does not exist.
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// TotalBalance sums every wallet balance.
	TotalBalance(ctx context.Context) (int64, error)
}

// StoreTx is a transaction-scoped handle. It is only valid inside the InTx
// callback that produced it.
type StoreTx interface {
	// EnsureWallet atomically creates the wallet if missing. created reports
	// whether this call inserted it.
	EnsureWallet(ctx context.Context, owner Owner) (w *models.Wallet, created bool, err error)
	// FindWallet returns ErrWalletNotFound if the wallet does not exist.
	FindWallet(ctx context.Context, owner Owner) (*models.Wallet, error)
	// LockWallet takes the row lock and returns the current state.
	LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	// UpdateWallet applies the deltas only if the result keeps
	// 0 <= held <= balance; otherwise it returns ErrInsufficientFunds.
	UpdateWallet(ctx context.Context, id uuid.UUID, balanceDelta, heldDelta int64) (*models.Wallet, error)

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	TransactionsByKey(ctx context.Context, key string) ([]*models.Transaction, error)
	// TransactionForUpdate returns ErrEntityNotFound if the record does not exist.
	TransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// SettleTransaction moves a pending record to completed or failed. It
	// returns ErrNotPending if the record already left pending.
	SettleTransaction(ctx context.Context, id uuid.UUID, s Settlement) error
}

// Settlement describes the terminal state of a pending record.
type Settlement struct {
	Status        models.TxStatus
	ExternalRef   *string
	FailureReason *string
	BalanceAfter  *int64
	At            time.Time
}
