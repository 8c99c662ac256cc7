package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/tasks"
)

const (
	taskColumns     = `id, creator_id, title, budget_amount, per_tester_amount, funding_state, funding_txn_id, status, created_at, updated_at`
	responseColumns = `task_id, tester_id, status, payout_txn_id, created_at, updated_at`
)

var _ tasks.Store = (*Store)(nil)

func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreatorID, t.Title, t.BudgetAmount, t.PerTesterAmount, t.FundingState, t.FundingTxnID,
		t.Status, t.CreatedAt, t.UpdatedAt)
	return classify("create task", err)
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ledger.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, classify("get task", err)
	}
	return t, nil
}

func (s *Store) ListTasksByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE creator_id = ? ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, classify("list tasks", err)
		}
		out = append(out, t)
	}
	return out, classify("list tasks", rows.Err())
}

func (s *Store) MarkTaskFunded(ctx context.Context, id, txnID uuid.UUID) error {
	return s.execOne(ctx, "mark task funded", `
		UPDATE tasks SET funding_state = ?, funding_txn_id = ?, updated_at = ?
		WHERE id = ?`, models.TaskFunded, txnID, time.Now().UTC(), id)
}

func (s *Store) CloseTask(ctx context.Context, id uuid.UUID, fundingState string) error {
	return s.execOne(ctx, "close task", `
		UPDATE tasks SET funding_state = ?, status = ?, updated_at = ?
		WHERE id = ?`, fundingState, models.TaskStatusClosed, time.Now().UTC(), id)
}

func (s *Store) CreateResponse(ctx context.Context, r *models.TaskResponse) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_responses (`+responseColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.TesterID, r.Status, r.PayoutTxnID, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return tasks.ErrDuplicateResponse
	}
	return classify("create response", err)
}

func (s *Store) GetResponse(ctx context.Context, taskID, testerID uuid.UUID) (*models.TaskResponse, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM task_responses WHERE task_id = ? AND tester_id = ?`, taskID, testerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: response of tester %s on task %s", ledger.ErrEntityNotFound, testerID, taskID)
	}
	if err != nil {
		return nil, classify("get response", err)
	}
	return r, nil
}

func (s *Store) ListResponses(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+responseColumns+` FROM task_responses WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, classify("list responses", err)
	}
	defer rows.Close()

	var out []*models.TaskResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, classify("list responses", err)
		}
		out = append(out, r)
	}
	return out, classify("list responses", rows.Err())
}

func (s *Store) SetResponseStatus(ctx context.Context, taskID, testerID uuid.UUID, status string, payoutTxnID *uuid.UUID) error {
	return s.execOne(ctx, "set response status", `
		UPDATE task_responses SET status = ?, payout_txn_id = COALESCE(?, payout_txn_id), updated_at = ?
		WHERE task_id = ? AND tester_id = ?`, status, payoutTxnID, time.Now().UTC(), taskID, testerID)
}

// execOne runs an update that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrEntityNotFound, op)
	}
	return nil
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.CreatorID, &t.Title, &t.BudgetAmount, &t.PerTesterAmount, &t.FundingState,
		&t.FundingTxnID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanResponse(row scanner) (*models.TaskResponse, error) {
	var r models.TaskResponse
	if err := row.Scan(&r.TaskID, &r.TesterID, &r.Status, &r.PayoutTxnID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
