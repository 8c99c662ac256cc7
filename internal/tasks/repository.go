package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

const (
	taskColumns     = `id, creator_id, title, budget_amount, per_tester_amount, funding_state, funding_txn_id, status, created_at, updated_at`
	responseColumns = `task_id, tester_id, status, payout_txn_id, created_at, updated_at`
)

// Repository is the Postgres task store.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateTask(ctx context.Context, t *models.Task) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, creator_id, title, budget_amount, per_tester_amount, funding_state, funding_txn_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, t.ID, t.CreatorID, t.Title, t.BudgetAmount, t.PerTesterAmount, t.FundingState, t.FundingTxnID, t.Status).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	return ledger.Persistence("create task", err)
}

func (r *Repository) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	err := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.CreatorID, &t.Title, &t.BudgetAmount, &t.PerTesterAmount, &t.FundingState,
			&t.FundingTxnID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ledger.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, ledger.Persistence("get task", err)
	}
	return &t, nil
}

func (r *Repository) ListTasksByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE creator_id = $1 ORDER BY created_at DESC
	`, creatorID)
	if err != nil {
		return nil, ledger.Persistence("list tasks", err)
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.CreatorID, &t.Title, &t.BudgetAmount, &t.PerTesterAmount, &t.FundingState,
			&t.FundingTxnID, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, ledger.Persistence("list tasks", err)
		}
		list = append(list, &t)
	}
	return list, ledger.Persistence("list tasks", rows.Err())
}

func (r *Repository) MarkTaskFunded(ctx context.Context, id, txnID uuid.UUID) error {
	return r.execOne(ctx, "mark task funded", `
		UPDATE tasks SET funding_state = $2, funding_txn_id = $3, updated_at = now() WHERE id = $1
	`, id, models.TaskFunded, txnID)
}

func (r *Repository) CloseTask(ctx context.Context, id uuid.UUID, fundingState string) error {
	return r.execOne(ctx, "close task", `
		UPDATE tasks SET funding_state = $2, status = $3, updated_at = now() WHERE id = $1
	`, id, fundingState, models.TaskStatusClosed)
}

func (r *Repository) CreateResponse(ctx context.Context, resp *models.TaskResponse) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO task_responses (task_id, tester_id, status, payout_txn_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, resp.TaskID, resp.TesterID, resp.Status, resp.PayoutTxnID).Scan(&resp.CreatedAt, &resp.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateResponse
	}
	return ledger.Persistence("create response", err)
}

func (r *Repository) GetResponse(ctx context.Context, taskID, testerID uuid.UUID) (*models.TaskResponse, error) {
	var resp models.TaskResponse
	err := r.pool.QueryRow(ctx, `
		SELECT `+responseColumns+` FROM task_responses WHERE task_id = $1 AND tester_id = $2
	`, taskID, testerID).Scan(&resp.TaskID, &resp.TesterID, &resp.Status, &resp.PayoutTxnID, &resp.CreatedAt, &resp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: response of tester %s on task %s", ledger.ErrEntityNotFound, testerID, taskID)
	}
	if err != nil {
		return nil, ledger.Persistence("get response", err)
	}
	return &resp, nil
}

func (r *Repository) ListResponses(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResponse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+responseColumns+` FROM task_responses WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, ledger.Persistence("list responses", err)
	}
	defer rows.Close()
	var list []*models.TaskResponse
	for rows.Next() {
		var resp models.TaskResponse
		if err := rows.Scan(&resp.TaskID, &resp.TesterID, &resp.Status, &resp.PayoutTxnID, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
			return nil, ledger.Persistence("list responses", err)
		}
		list = append(list, &resp)
	}
	return list, ledger.Persistence("list responses", rows.Err())
}

func (r *Repository) SetResponseStatus(ctx context.Context, taskID, testerID uuid.UUID, status string, payoutTxnID *uuid.UUID) error {
	return r.execOne(ctx, "set response status", `
		UPDATE task_responses
		SET status = $3, payout_txn_id = COALESCE($4, payout_txn_id), updated_at = now()
		WHERE task_id = $1 AND tester_id = $2
	`, taskID, testerID, status, payoutTxnID)
}

func (r *Repository) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return ledger.Persistence(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrEntityNotFound, op)
	}
	return nil
}
