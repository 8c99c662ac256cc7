package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darshannathani/pp-sub001/internal/models"
)

const (
	walletColumns = `id, owner_id, owner_kind, balance, held, version, created_at, updated_at`
	txColumns     = `id, operation_id, wallet_id, user_id, owner_kind, counterparty_id, direction, amount,
		kind, task_id, status, idempotency_key, balance_after, external_ref, failure_reason, created_at, updated_at`
)

const defaultLockTimeout = 5 * time.Second

// Repository is the Postgres Store. Wallet rows are locked with
// SELECT ... FOR UPDATE; callers lock in ascending id order.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, lockTimeout: defaultLockTimeout}
}

// WithLockTimeout bounds how long a transaction waits for a row lock
// before failing with ErrConcurrentModification.
func (r *Repository) WithLockTimeout(d time.Duration) *Repository {
	r.lockTimeout = d
	return r
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classifyPg("begin", err)
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classifyPg("set lock timeout", err)
		}
	}
	if err := fn(ctx, &pgStoreTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPg("commit", err)
	}
	return nil
}

func (r *Repository) GetWallet(ctx context.Context, owner Owner) (*models.Wallet, error) {
	return findWallet(ctx, r.pool, owner)
}

func (r *Repository) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]*models.Transaction, error) {
	f = f.normalized()
	where := []string{"user_id = $1"}
	args := []any{userID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		where = append(where, "kind = ANY("+next(kinds)+")")
	}
	if f.TaskOnly {
		where = append(where, "task_id IS NOT NULL")
	}
	if f.TaskID != nil {
		where = append(where, "task_id = "+next(*f.TaskID))
	}
	if f.Status != "" {
		where = append(where, "status = "+next(string(f.Status)))
	}
	if f.Before != nil {
		where = append(where, "seq < (SELECT seq FROM transactions WHERE id = "+next(*f.Before)+")")
	}
	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY seq DESC LIMIT ` + next(f.Limit)
	return queryTransactions(ctx, r.pool, "list transactions", query, args...)
}

func (r *Repository) ListTaskTransactions(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	return queryTransactions(ctx, r.pool, "list task transactions",
		`SELECT `+txColumns+` FROM transactions WHERE task_id = $1 ORDER BY seq DESC`, taskID)
}

func (r *Repository) ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Transaction, error) {
	return queryTransactions(ctx, r.pool, "list pending withdrawals",
		`SELECT `+txColumns+` FROM transactions
		WHERE kind = 'withdrawal' AND status = 'pending' AND created_at < $1
		ORDER BY seq LIMIT $2`, createdBefore, limit)
}

func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, classifyPg("get transaction", err)
	}
	return t, nil
}

func (r *Repository) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0)::BIGINT FROM wallets`).Scan(&total)
	if err != nil {
		return 0, classifyPg("total balance", err)
	}
	return total, nil
}

type pgStoreTx struct {
	tx pgx.Tx
}

func (t *pgStoreTx) EnsureWallet(ctx context.Context, owner Owner) (*models.Wallet, bool, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO wallets (id, owner_id, owner_kind, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (owner_id, owner_kind) DO NOTHING
		RETURNING `+walletColumns, uuid.New(), owner.ID, string(owner.Kind))
	w, err := scanWallet(row)
	if err == nil {
		return w, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, classifyPg("ensure wallet", err)
	}
	w, err = findWallet(ctx, t.tx, owner)
	return w, false, err
}

func (t *pgStoreTx) FindWallet(ctx context.Context, owner Owner) (*models.Wallet, error) {
	return findWallet(ctx, t.tx, owner)
}

func (t *pgStoreTx) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", ErrWalletNotFound, id)
	}
	if err != nil {
		return nil, classifyPg("lock wallet", err)
	}
	return w, nil
}

func (t *pgStoreTx) UpdateWallet(ctx context.Context, id uuid.UUID, balanceDelta, heldDelta int64) (*models.Wallet, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $2, held = held + $3, version = version + 1, updated_at = now()
		WHERE id = $1
		  AND balance + $2 >= 0
		  AND held + $3 >= 0
		  AND held + $3 <= balance + $2
		RETURNING `+walletColumns, id, balanceDelta, heldDelta)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", ErrInsufficientFunds, id)
	}
	if err != nil {
		return nil, classifyPg("update wallet", err)
	}
	return w, nil
}

func (t *pgStoreTx) InsertTransaction(ctx context.Context, rec *models.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.OperationID, rec.WalletID, rec.UserID, string(rec.OwnerKind), rec.CounterpartyID,
		string(rec.Direction), rec.Amount, string(rec.Kind), rec.TaskID, string(rec.Status),
		rec.IdempotencyKey, rec.BalanceAfter, rec.ExternalRef, rec.FailureReason, rec.CreatedAt, rec.UpdatedAt)
	return classifyPg("insert transaction", err)
}

func (t *pgStoreTx) TransactionsByKey(ctx context.Context, key string) ([]*models.Transaction, error) {
	return queryTransactions(ctx, t.tx, "transactions by key",
		`SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1 ORDER BY seq`, key)
}

func (t *pgStoreTx) TransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	rec, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, classifyPg("lock transaction", err)
	}
	return rec, nil
}

func (t *pgStoreTx) SettleTransaction(ctx context.Context, id uuid.UUID, s Settlement) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2,
		    external_ref = COALESCE($3, external_ref),
		    failure_reason = $4,
		    balance_after = COALESCE($5, balance_after),
		    updated_at = $6
		WHERE id = $1 AND status = 'pending'`,
		id, string(s.Status), s.ExternalRef, s.FailureReason, s.BalanceAfter, s.At)
	if err != nil {
		return classifyPg("settle transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findWallet(ctx context.Context, q querier, owner Owner) (*models.Wallet, error) {
	row := q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND owner_kind = $2`,
		owner.ID, string(owner.Kind))
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, owner)
	}
	if err != nil {
		return nil, classifyPg("find wallet", err)
	}
	return w, nil
}

func queryTransactions(ctx context.Context, q querier, op, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPg(op, err)
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classifyPg(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg(op, err)
	}
	return out, nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	var kind string
	err := row.Scan(&w.ID, &w.OwnerID, &kind, &w.Balance, &w.Held, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.OwnerKind = models.OwnerKind(kind)
	return &w, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var kind, ownerKind, direction, status string
	err := row.Scan(&t.ID, &t.OperationID, &t.WalletID, &t.UserID, &ownerKind, &t.CounterpartyID,
		&direction, &t.Amount, &kind, &t.TaskID, &status, &t.IdempotencyKey, &t.BalanceAfter,
		&t.ExternalRef, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.OwnerKind = models.OwnerKind(ownerKind)
	t.Direction = models.Direction(direction)
	t.Kind = models.TxKind(kind)
	t.Status = models.TxStatus(status)
	return &t, nil
}

// Postgres error codes that signal contention rather than a broken request.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// classifyPg maps driver errors onto ledger sentinels. A unique violation
// means a concurrent unit committed the same idempotency key first; the
// retry replays it. A check violation is a wallet constraint refusing the
// write.
func classifyPg(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgUniqueViolation:
			return fmt.Errorf("%w: %s: %s", ErrConcurrentModification, op, pgErr.Message)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s: %s", ErrInsufficientFunds, op, pgErr.ConstraintName)
		}
	}
	return Persistence(op, err)
}
