package tasks

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/models"
)

// ErrDuplicateResponse is returned when a tester responds to the same task twice.
var ErrDuplicateResponse = errors.New("tester already responded to this task")

// Store persists tasks and tester responses. Missing rows are reported as
// ledger.ErrEntityNotFound.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListTasksByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Task, error)
	MarkTaskFunded(ctx context.Context, id, txnID uuid.UUID) error
	CloseTask(ctx context.Context, id uuid.UUID, fundingState string) error

	CreateResponse(ctx context.Context, r *models.TaskResponse) error
	GetResponse(ctx context.Context, taskID, testerID uuid.UUID) (*models.TaskResponse, error)
	ListResponses(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResponse, error)
	SetResponseStatus(ctx context.Context, taskID, testerID uuid.UUID, status string, payoutTxnID *uuid.UUID) error
}

// UserLookup resolves users referenced by task events.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}
