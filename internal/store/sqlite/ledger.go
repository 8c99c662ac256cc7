package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

const (
	walletColumns = `id, owner_id, owner_kind, balance, held, version, created_at, updated_at`
	txColumns     = `id, operation_id, wallet_id, user_id, owner_kind, counterparty_id, direction, amount,
		kind, task_id, status, idempotency_key, balance_after, external_ref, failure_reason, created_at, updated_at`
)

// =============================================================================
// READS (ledger.Store)
// =============================================================================

func (s *Store) GetWallet(ctx context.Context, owner ledger.Owner) (*models.Wallet, error) {
	return findWallet(ctx, s.db, owner)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, f ledger.TransactionFilter) ([]*models.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if f.TaskOnly {
		where = append(where, "task_id IS NOT NULL")
	}
	if f.TaskID != nil {
		where = append(where, "task_id = ?")
		args = append(args, *f.TaskID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Before != nil {
		where = append(where, "seq < (SELECT seq FROM transactions WHERE id = ?)")
		args = append(args, *f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY seq DESC LIMIT ?`
	return queryTransactions(ctx, s.db, "list transactions", query, args...)
}

func (s *Store) ListTaskTransactions(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	return queryTransactions(ctx, s.db, "list task transactions",
		`SELECT `+txColumns+` FROM transactions WHERE task_id = ? ORDER BY seq DESC`, taskID)
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Transaction, error) {
	return queryTransactions(ctx, s.db, "list pending withdrawals",
		`SELECT `+txColumns+` FROM transactions
		WHERE kind = 'withdrawal' AND status = 'pending' AND created_at < ?
		ORDER BY seq LIMIT ?`, createdBefore.UTC(), limit)
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func (s *Store) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(balance), 0) FROM wallets`).Scan(&total); err != nil {
		return 0, classify("total balance", err)
	}
	return total, nil
}

// =============================================================================
// WRITES (ledger.StoreTx)
// =============================================================================

func (t *txStore) EnsureWallet(ctx context.Context, owner ledger.Owner) (*models.Wallet, bool, error) {
	now := time.Now().UTC()
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO wallets (id, owner_id, owner_kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, owner_kind) DO NOTHING
		RETURNING `+walletColumns, uuid.New(), owner.ID, string(owner.Kind), now, now)
	w, err := scanWallet(row)
	if err == nil {
		return w, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, classify("ensure wallet", err)
	}
	w, err = findWallet(ctx, t.tx, owner)
	return w, false, err
}

func (t *txStore) FindWallet(ctx context.Context, owner ledger.Owner) (*models.Wallet, error) {
	return findWallet(ctx, t.tx, owner)
}

// LockWallet reads the row. The unit already holds the database write lock.
func (t *txStore) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", ledger.ErrWalletNotFound, id)
	}
	if err != nil {
		return nil, classify("lock wallet", err)
	}
	return w, nil
}

func (t *txStore) UpdateWallet(ctx context.Context, id uuid.UUID, balanceDelta, heldDelta int64) (*models.Wallet, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance + ?1, held = held + ?2, version = version + 1, updated_at = ?3
		WHERE id = ?4
		  AND balance + ?1 >= 0
		  AND held + ?2 >= 0
		  AND held + ?2 <= balance + ?1
		RETURNING `+walletColumns, balanceDelta, heldDelta, time.Now().UTC(), id)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", ledger.ErrInsufficientFunds, id)
	}
	if err != nil {
		return nil, classify("update wallet", err)
	}
	return w, nil
}

func (t *txStore) InsertTransaction(ctx context.Context, rec *models.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OperationID, rec.WalletID, rec.UserID, string(rec.OwnerKind), rec.CounterpartyID,
		string(rec.Direction), rec.Amount, string(rec.Kind), rec.TaskID, string(rec.Status),
		rec.IdempotencyKey, rec.BalanceAfter, rec.ExternalRef, rec.FailureReason,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	return classify("insert transaction", err)
}

func (t *txStore) TransactionsByKey(ctx context.Context, key string) ([]*models.Transaction, error) {
	return queryTransactions(ctx, t.tx, "transactions by key",
		`SELECT `+txColumns+` FROM transactions WHERE idempotency_key = ? ORDER BY seq`, key)
}

func (t *txStore) TransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *txStore) SettleTransaction(ctx context.Context, id uuid.UUID, s ledger.Settlement) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?,
		    external_ref = COALESCE(?, external_ref),
		    failure_reason = ?,
		    balance_after = COALESCE(?, balance_after),
		    updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(s.Status), s.ExternalRef, s.FailureReason, s.BalanceAfter, s.At.UTC(), id)
	if err != nil {
		return classify("settle transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("settle transaction", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrNotPending, id)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func findWallet(ctx context.Context, q queryer, owner ledger.Owner) (*models.Wallet, error) {
	row := q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = ? AND owner_kind = ?`,
		owner.ID, string(owner.Kind))
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, owner)
	}
	if err != nil {
		return nil, classify("find wallet", err)
	}
	return w, nil
}

func getTransaction(ctx context.Context, q queryer, id uuid.UUID) (*models.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, classify("get transaction", err)
	}
	return t, nil
}

func queryTransactions(ctx context.Context, q queryer, op, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func scanWallet(row scanner) (*models.Wallet, error) {
	var w models.Wallet
	var kind string
	if err := row.Scan(&w.ID, &w.OwnerID, &kind, &w.Balance, &w.Held, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.OwnerKind = models.OwnerKind(kind)
	return &w, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	var ownerKind, direction, kind, st string
	err := row.Scan(&t.ID, &t.OperationID, &t.WalletID, &t.UserID, &ownerKind, &t.CounterpartyID,
		&direction, &t.Amount, &kind, &t.TaskID, &st, &t.IdempotencyKey, &t.BalanceAfter,
		&t.ExternalRef, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.OwnerKind = models.OwnerKind(ownerKind)
	t.Direction = models.Direction(direction)
	t.Kind = models.TxKind(kind)
	t.Status = models.TxStatus(st)
	return &t, nil
}
