package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/models"
)

// Recorder appends transaction records and answers history queries.
// Records are never edited; a correction is a new record.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Append persists t inside the caller's unit. If the unit rolls back the
// record does not exist.
func (r *Recorder) Append(ctx context.Context, tx StoreTx, t *models.Transaction) error {
	if t.Amount <= 0 {
		return fmt.Errorf("%w: record amount %d", ErrInvalidAmount, t.Amount)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransfer, t.Kind)
	}
	if t.Direction != models.Debit && t.Direction != models.Credit {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTransfer, t.Direction)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.OperationID == uuid.Nil {
		t.OperationID = t.ID
	}
	if t.Status == "" {
		t.Status = models.TxCompleted
	}
	now := r.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	return Persistence("append transaction", tx.InsertTransaction(ctx, t))
}

// ListForUser returns the user's records, most recent first.
func (r *Recorder) ListForUser(ctx context.Context, userID string, f TransactionFilter) ([]*models.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidTransfer)
	}
	out, err := r.store.ListTransactions(ctx, userID, f.normalized())
	return out, Persistence("list transactions", err)
}

// ListForTask returns every record linked to the task, most recent first.
func (r *Recorder) ListForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	out, err := r.store.ListTaskTransactions(ctx, taskID)
	return out, Persistence("list task transactions", err)
}
