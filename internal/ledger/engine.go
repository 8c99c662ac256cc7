package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/models"
)

// Engine is the only component that changes wallet balances. Every
// operation runs as one store transaction and is retried with bounded
// backoff when the store reports contention.
type Engine struct {
	store       Store
	recorder    *Recorder
	logger      *slog.Logger
	maxAttempts int
	initialWait time.Duration
	maxElapsed  time.Duration
	now         func() time.Time
}

type EngineOption func(*Engine)

// WithMaxAttempts caps how many times a contended unit is attempted.
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
		e.recorder.now = now
	}
}

func NewEngine(store Store, recorder *Recorder, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		recorder:    recorder,
		logger:      slog.Default(),
		maxAttempts: 5,
		initialWait: 20 * time.Millisecond,
		maxElapsed:  2 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransferRequest moves Amount from Source to Dest.
type TransferRequest struct {
	Source         Owner
	Dest           Owner
	Amount         int64
	Kind           models.TxKind
	TaskID         *uuid.UUID
	IdempotencyKey string
}

func (r TransferRequest) validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, r.Amount)
	}
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if err := r.Dest.Validate(); err != nil {
		return err
	}
	if r.Source == r.Dest {
		return fmt.Errorf("%w: source and destination are both %s", ErrInvalidTransfer, r.Source)
	}
	if !r.Kind.Valid() || r.Kind == models.TxWithdrawal {
		return fmt.Errorf("%w: kind %q cannot be transferred", ErrInvalidTransfer, r.Kind)
	}
	return nil
}

// TransferResult holds both legs of a committed transfer.
type TransferResult struct {
	OperationID uuid.UUID
	Debit       *models.Transaction
	Credit      *models.Transaction
	// Replayed is true when the idempotency key matched an earlier commit
	// and nothing was applied this time.
	Replayed bool
}

// Transfer debits Source and credits Dest atomically, recording a debit and
// a credit leg that share an operation id.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var res *TransferResult
	err := e.run(ctx, "transfer", func(ctx context.Context, tx StoreTx) error {
		r, err := e.transfer(ctx, tx, req)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		e.logger.InfoContext(ctx, "transfer committed",
			"operation_id", res.OperationID,
			"kind", req.Kind,
			"source", req.Source.String(),
			"dest", req.Dest.String(),
			"amount", req.Amount,
		)
	}
	return res, nil
}

func (e *Engine) transfer(ctx context.Context, tx StoreTx, req TransferRequest) (*TransferResult, error) {
	src, err := resolveWallet(ctx, tx, req.Source)
	if err != nil {
		return nil, err
	}
	dst, err := resolveWallet(ctx, tx, req.Dest)
	if err != nil {
		return nil, err
	}
	locked, err := lockInOrder(ctx, tx, src.ID, dst.ID)
	if err != nil {
		return nil, err
	}
	src, dst = locked[src.ID], locked[dst.ID]

	if req.IdempotencyKey != "" {
		prior, err := tx.TransactionsByKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if len(prior) > 0 {
			return replayTransfer(prior, req, src, dst)
		}
	}

	if src.Available() < req.Amount {
		return nil, &InsufficientFundsError{OwnerID: req.Source.String(), Available: src.Available(), Requested: req.Amount}
	}
	src, err = tx.UpdateWallet(ctx, src.ID, -req.Amount, 0)
	if err != nil {
		return nil, err
	}
	dst, err = tx.UpdateWallet(ctx, dst.ID, req.Amount, 0)
	if err != nil {
		return nil, err
	}

	opID := uuid.New()
	at := e.now().UTC()
	debit := e.leg(opID, src, dst.OwnerID, models.Debit, req, at)
	credit := e.leg(opID, dst, src.OwnerID, models.Credit, req, at)
	if err := e.recorder.Append(ctx, tx, debit); err != nil {
		return nil, err
	}
	if err := e.recorder.Append(ctx, tx, credit); err != nil {
		return nil, err
	}
	return &TransferResult{OperationID: opID, Debit: debit, Credit: credit}, nil
}

func (e *Engine) leg(opID uuid.UUID, w *models.Wallet, counterparty string, dir models.Direction, req TransferRequest, at time.Time) *models.Transaction {
	return &models.Transaction{
		ID:             uuid.New(),
		OperationID:    opID,
		WalletID:       w.ID,
		UserID:         w.OwnerID,
		OwnerKind:      w.OwnerKind,
		CounterpartyID: strPtr(counterparty),
		Direction:      dir,
		Amount:         req.Amount,
		Kind:           req.Kind,
		TaskID:         req.TaskID,
		Status:         models.TxCompleted,
		IdempotencyKey: optionalKey(req.IdempotencyKey),
		BalanceAfter:   int64Ptr(w.Balance),
		CreatedAt:      at,
	}
}

func replayTransfer(prior []*models.Transaction, req TransferRequest, src, dst *models.Wallet) (*TransferResult, error) {
	var debit, credit *models.Transaction
	for _, t := range prior {
		switch t.Direction {
		case models.Debit:
			debit = t
		case models.Credit:
			credit = t
		}
	}
	if debit == nil || credit == nil ||
		debit.WalletID != src.ID || credit.WalletID != dst.ID ||
		debit.Amount != req.Amount || debit.Kind != req.Kind ||
		!sameTask(debit.TaskID, req.TaskID) {
		return nil, fmt.Errorf("%w: %q", ErrIdempotencyConflict, req.IdempotencyKey)
	}
	return &TransferResult{OperationID: debit.OperationID, Debit: debit, Credit: credit, Replayed: true}, nil
}

// DepositRequest credits a wallet with money entering from outside the
// platform.
type DepositRequest struct {
	Owner          Owner
	Amount         int64
	Reference      string
	IdempotencyKey string
}

// Deposit records a single-sided adjustment credit. The wallet must exist or
// be lazily creatable. IdempotencyKey only replays deposits to the same owner.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	key := scopedKey("deposit", req.Owner, req.IdempotencyKey)
	var out *models.Transaction
	err := e.run(ctx, "deposit", func(ctx context.Context, tx StoreTx) error {
		w, err := resolveWallet(ctx, tx, req.Owner)
		if err != nil {
			return err
		}
		if _, err := tx.LockWallet(ctx, w.ID); err != nil {
			return err
		}
		if key != "" {
			prior, err := tx.TransactionsByKey(ctx, key)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				p := prior[0]
				if len(prior) != 1 || p.WalletID != w.ID || p.Amount != req.Amount || p.Kind != models.TxAdjustmentCredit {
					return fmt.Errorf("%w: %q", ErrIdempotencyConflict, req.IdempotencyKey)
				}
				out = p
				return nil
			}
		}
		w, err = tx.UpdateWallet(ctx, w.ID, req.Amount, 0)
		if err != nil {
			return err
		}
		rec := &models.Transaction{
			WalletID:       w.ID,
			UserID:         w.OwnerID,
			OwnerKind:      w.OwnerKind,
			CounterpartyID: strPtr(models.ExternalCounterparty),
			Direction:      models.Credit,
			Amount:         req.Amount,
			Kind:           models.TxAdjustmentCredit,
			Status:         models.TxCompleted,
			IdempotencyKey: optionalKey(key),
			BalanceAfter:   int64Ptr(w.Balance),
			ExternalRef:    optionalKey(req.Reference),
			CreatedAt:      e.now().UTC(),
		}
		if err := e.recorder.Append(ctx, tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HoldWithdrawal records a pending withdrawal and reserves the amount so
// no other operation can spend it while the payout is in flight. The
// balance itself is unchanged until CompleteWithdrawal. A non-empty key
// replays an earlier withdrawal by the same owner.
func (e *Engine) HoldWithdrawal(ctx context.Context, owner Owner, amount int64, key string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if !owner.Kind.CanWithdraw() {
		return nil, fmt.Errorf("%w: %s wallets cannot withdraw", ErrInvalidTransfer, owner.Kind)
	}
	requested := key
	key = scopedKey("withdrawal", owner, key)
	var out *models.Transaction
	err := e.run(ctx, "hold withdrawal", func(ctx context.Context, tx StoreTx) error {
		w, err := resolveWallet(ctx, tx, owner)
		if err != nil {
			return err
		}
		w, err = tx.LockWallet(ctx, w.ID)
		if err != nil {
			return err
		}
		if key != "" {
			prior, err := tx.TransactionsByKey(ctx, key)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				p := prior[0]
				if len(prior) != 1 || p.WalletID != w.ID || p.Amount != amount || p.Kind != models.TxWithdrawal {
					return fmt.Errorf("%w: %q", ErrIdempotencyConflict, requested)
				}
				out = p
				return nil
			}
		}
		if w.Available() < amount {
			return &InsufficientFundsError{OwnerID: owner.String(), Available: w.Available(), Requested: amount}
		}
		if _, err := tx.UpdateWallet(ctx, w.ID, 0, amount); err != nil {
			return err
		}
		rec := &models.Transaction{
			WalletID:       w.ID,
			UserID:         w.OwnerID,
			OwnerKind:      w.OwnerKind,
			CounterpartyID: strPtr(models.ExternalCounterparty),
			Direction:      models.Debit,
			Amount:         amount,
			Kind:           models.TxWithdrawal,
			Status:         models.TxPending,
			IdempotencyKey: optionalKey(key),
			CreatedAt:      e.now().UTC(),
		}
		if err := e.recorder.Append(ctx, tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteWithdrawal settles a pending withdrawal as paid: the held amount
// leaves the balance.
func (e *Engine) CompleteWithdrawal(ctx context.Context, txnID uuid.UUID, externalRef string) (*models.Transaction, error) {
	return e.settleWithdrawal(ctx, txnID, func(ctx context.Context, tx StoreTx, rec *models.Transaction) (Settlement, error) {
		w, err := tx.UpdateWallet(ctx, rec.WalletID, -rec.Amount, -rec.Amount)
		if err != nil {
			return Settlement{}, err
		}
		return Settlement{
			Status:       models.TxCompleted,
			ExternalRef:  optionalKey(externalRef),
			BalanceAfter: int64Ptr(w.Balance),
		}, nil
	})
}

// FailWithdrawal settles a pending withdrawal as not paid: the hold is
// released and the balance is untouched.
func (e *Engine) FailWithdrawal(ctx context.Context, txnID uuid.UUID, reason string) (*models.Transaction, error) {
	return e.settleWithdrawal(ctx, txnID, func(ctx context.Context, tx StoreTx, rec *models.Transaction) (Settlement, error) {
		w, err := tx.UpdateWallet(ctx, rec.WalletID, 0, -rec.Amount)
		if err != nil {
			return Settlement{}, err
		}
		return Settlement{
			Status:        models.TxFailed,
			FailureReason: strPtr(reason),
			BalanceAfter:  int64Ptr(w.Balance),
		}, nil
	})
}

type settleFunc func(ctx context.Context, tx StoreTx, rec *models.Transaction) (Settlement, error)

func (e *Engine) settleWithdrawal(ctx context.Context, txnID uuid.UUID, apply settleFunc) (*models.Transaction, error) {
	var out *models.Transaction
	err := e.run(ctx, "settle withdrawal", func(ctx context.Context, tx StoreTx) error {
		rec, err := tx.TransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if rec.Kind != models.TxWithdrawal {
			return fmt.Errorf("%w: transaction %s is a %s", ErrInvalidTransfer, txnID, rec.Kind)
		}
		if rec.Status != models.TxPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, txnID, rec.Status)
		}
		if _, err := tx.LockWallet(ctx, rec.WalletID); err != nil {
			return err
		}
		s, err := apply(ctx, tx, rec)
		if err != nil {
			return err
		}
		s.At = e.now().UTC()
		if err := tx.SettleTransaction(ctx, rec.ID, s); err != nil {
			return err
		}
		rec.Status = s.Status
		if s.ExternalRef != nil {
			rec.ExternalRef = s.ExternalRef
		}
		rec.FailureReason = s.FailureReason
		rec.BalanceAfter = s.BalanceAfter
		rec.UpdatedAt = s.At
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "withdrawal settled", "txn_id", txnID, "status", out.Status, "amount", out.Amount)
	return out, nil
}

// run executes fn in a store transaction, retrying only on contention.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, tx StoreTx) error) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(e.initialWait),
		backoff.WithMaxElapsedTime(e.maxElapsed),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := e.store.InTx(ctx, fn)
		if err == nil || errors.Is(err, ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		e.logger.WarnContext(ctx, "ledger unit contended, retrying",
			"op", op, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return Persistence(op, err)
	}
	return nil
}

// resolveWallet finds the owner's wallet, creating it when the kind allows.
func resolveWallet(ctx context.Context, tx StoreTx, owner Owner) (*models.Wallet, error) {
	if owner.Kind.LazyCreate() {
		w, _, err := tx.EnsureWallet(ctx, owner)
		return w, err
	}
	return tx.FindWallet(ctx, owner)
}

// lockInOrder takes row locks in ascending id order so two transfers over
// the same pair of wallets cannot deadlock.
func lockInOrder(ctx context.Context, tx StoreTx, ids ...uuid.UUID) (map[uuid.UUID]*models.Wallet, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	out := make(map[uuid.UUID]*models.Wallet, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

func sameTask(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// scopedKey confines a caller-supplied idempotency key to one operation and
// one owner, so it can never match another owner's key or a key issued by
// the payment coordinators.
func scopedKey(op string, owner Owner, key string) string {
	if key == "" {
		return ""
	}
	return op + ":" + owner.String() + ":" + key
}

func optionalKey(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
