package withdrawals_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/payout"
	"github.com/darshannathani/pp-sub001/internal/store/sqlite"
	"github.com/darshannathani/pp-sub001/internal/withdrawals"
)

type env struct {
	store   *sqlite.Store
	engine  *ledger.Engine
	gateway *payout.Fake
	coord   *withdrawals.Coordinator
	recon   *withdrawals.Reconciler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.NewEngine(st, ledger.NewRecorder(st), ledger.WithEngineLogger(logger))
	gw := payout.NewFake()
	return &env{
		store:   st,
		engine:  engine,
		gateway: gw,
		coord:   withdrawals.NewCoordinator(engine, st, gw, logger),
		recon:   withdrawals.NewReconciler(st, engine, gw, 0, logger),
	}
}

func (e *env) funded(t *testing.T, kind models.OwnerKind, amount int64) ledger.Owner {
	t.Helper()
	owner := ledger.UserOwner(uuid.New(), kind)
	if !kind.LazyCreate() {
		_, err := ledger.NewWallets(e.store, nil).Provision(context.Background(), owner)
		require.NoError(t, err)
	}
	_, err := e.engine.Deposit(context.Background(), ledger.DepositRequest{Owner: owner, Amount: amount})
	require.NoError(t, err)
	return owner
}

func (e *env) wallet(t *testing.T, owner ledger.Owner) *models.Wallet {
	t.Helper()
	w, err := e.store.GetWallet(context.Background(), owner)
	require.NoError(t, err)
	return w
}

func (e *env) withdrawals(t *testing.T, owner ledger.Owner) []*models.Transaction {
	t.Helper()
	txs, err := e.store.ListTransactions(context.Background(), owner.ID, ledger.TransactionFilter{
		Kinds: []models.TxKind{models.TxWithdrawal},
	})
	require.NoError(t, err)
	return txs
}

func TestWithdraw_Success(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 500)

	rec, err := e.coord.Withdraw(context.Background(), withdrawals.Request{
		Owner: owner, Amount: 200, Destination: "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, rec.Status)
	require.NotNil(t, rec.ExternalRef)
	assert.Equal(t, "fake-"+rec.ID.String(), *rec.ExternalRef)

	w := e.wallet(t, owner)
	assert.Equal(t, int64(300), w.Balance)
	assert.Zero(t, w.Held)

	calls := e.gateway.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, rec.ID, calls[0].Reference)
	assert.Equal(t, "acct-1", calls[0].Destination)
}

func TestWithdraw_CreatorsAndAdminsCanWithdraw(t *testing.T) {
	e := newEnv(t)
	for _, kind := range []models.OwnerKind{models.OwnerCreator, models.OwnerAdmin} {
		owner := e.funded(t, kind, 100)
		_, err := e.coord.Withdraw(context.Background(), withdrawals.Request{Owner: owner, Amount: 100, Destination: "acct"})
		require.NoError(t, err, kind)
		assert.Zero(t, e.wallet(t, owner).Balance)
	}
}

func TestWithdraw_DeclineLeavesBalanceAndFailsRecord(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 500)
	e.gateway.Decline = "account closed"

	rec, err := e.coord.Withdraw(context.Background(), withdrawals.Request{Owner: owner, Amount: 200, Destination: "acct-1"})
	require.ErrorIs(t, err, ledger.ErrExternalPayoutFailed)
	require.NotNil(t, rec)
	assert.Equal(t, models.TxFailed, rec.Status)
	require.NotNil(t, rec.FailureReason)
	assert.Equal(t, "account closed", *rec.FailureReason)

	w := e.wallet(t, owner)
	assert.Equal(t, int64(500), w.Balance)
	assert.Zero(t, w.Held)

	recs := e.withdrawals(t, owner)
	require.Len(t, recs, 1)
	assert.Equal(t, models.TxFailed, recs[0].Status)
}

func TestWithdraw_TransportErrorLeavesRecordPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.funded(t, models.OwnerCreator, 100)
	e.gateway.Err = errors.New("connection refused")

	rec, err := e.coord.Withdraw(ctx, withdrawals.Request{Owner: owner, Amount: 100, Destination: "acct"})
	require.ErrorIs(t, err, ledger.ErrExternalPayoutFailed)
	require.NotNil(t, rec)
	assert.Equal(t, models.TxPending, rec.Status)

	w := e.wallet(t, owner)
	assert.Equal(t, int64(100), w.Balance)
	assert.Equal(t, int64(100), w.Held)

	rep, err := e.recon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, withdrawals.Report{Checked: 1, Failed: 1}, rep)
	assert.Equal(t, int64(100), e.wallet(t, owner).Available())
}

// lostResponse pays through the fake and then reports a transport error,
// as when the provider's answer never arrives.
type lostResponse struct {
	*payout.Fake
}

func (g lostResponse) Payout(ctx context.Context, req payout.Request) (*payout.Result, error) {
	if _, err := g.Fake.Payout(ctx, req); err != nil {
		return nil, err
	}
	return nil, context.DeadlineExceeded
}

func TestWithdraw_LostResponseIsDebitedByReconciler(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.funded(t, models.OwnerTester, 500)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := lostResponse{Fake: e.gateway}
	coord := withdrawals.NewCoordinator(e.engine, e.store, gw, logger)

	rec, err := coord.Withdraw(ctx, withdrawals.Request{Owner: owner, Amount: 200, Destination: "acct"})
	require.ErrorIs(t, err, ledger.ErrExternalPayoutFailed)
	assert.Equal(t, models.TxPending, rec.Status)

	_, err = coord.Withdraw(ctx, withdrawals.Request{Owner: owner, Amount: 400, Destination: "acct"})
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(300), insufficient.Available)

	rep, err := withdrawals.NewReconciler(e.store, e.engine, gw, 0, logger).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, withdrawals.Report{Checked: 1, Completed: 1}, rep)

	got, err := e.store.GetTransaction(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, got.Status)
	w := e.wallet(t, owner)
	assert.Equal(t, int64(300), w.Balance)
	assert.Zero(t, w.Held)
}

// cancelsCaller cancels the request context while the payout is in flight.
type cancelsCaller struct {
	*payout.Fake
	cancel context.CancelFunc
}

func (g cancelsCaller) Payout(ctx context.Context, req payout.Request) (*payout.Result, error) {
	g.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Fake.Payout(ctx, req)
}

func TestWithdraw_PayoutOutlivesCallerCancellation(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord := withdrawals.NewCoordinator(e.engine, e.store, cancelsCaller{Fake: e.gateway, cancel: cancel}, nil)

	rec, err := coord.Withdraw(ctx, withdrawals.Request{Owner: owner, Amount: 60, Destination: "acct"})
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, rec.Status)
	assert.Equal(t, int64(40), e.wallet(t, owner).Balance)
}

func TestWithdraw_RetryWithKeySettlesUnknownOutcome(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 300)
	req := withdrawals.Request{Owner: owner, Amount: 100, Destination: "acct", IdempotencyKey: "wd-9"}

	e.gateway.Err = errors.New("i/o timeout")
	first, err := e.coord.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, ledger.ErrExternalPayoutFailed)
	assert.Equal(t, models.TxPending, first.Status)

	e.gateway.Err = nil
	second, err := e.coord.Withdraw(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.TxCompleted, second.Status)
	assert.Equal(t, int64(200), e.wallet(t, owner).Balance)
	assert.Len(t, e.withdrawals(t, owner), 1)
}

func TestWithdraw_InsufficientCreatesNoRecord(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 150)

	for _, key := range []string{"", "wd-1"} {
		_, err := e.coord.Withdraw(context.Background(), withdrawals.Request{
			Owner: owner, Amount: 200, Destination: "acct", IdempotencyKey: key,
		})
		var insufficient *ledger.InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(150), insufficient.Available)
		assert.Equal(t, int64(200), insufficient.Requested)
	}

	assert.Empty(t, e.withdrawals(t, owner))
	assert.Empty(t, e.gateway.Calls())
	assert.Equal(t, int64(150), e.wallet(t, owner).Balance)
}

func TestWithdraw_IdempotencyKeyReplaysOutcome(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 500)
	req := withdrawals.Request{Owner: owner, Amount: 200, Destination: "acct", IdempotencyKey: "wd-42"}

	first, err := e.coord.Withdraw(context.Background(), req)
	require.NoError(t, err)
	second, err := e.coord.Withdraw(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, e.gateway.Calls(), 1)
	assert.Equal(t, int64(300), e.wallet(t, owner).Balance)

	req.Amount = 250
	_, err = e.coord.Withdraw(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
}

func TestWithdraw_FailedKeyReplaysFailure(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 500)
	e.gateway.Decline = "limit exceeded"
	req := withdrawals.Request{Owner: owner, Amount: 100, Destination: "acct", IdempotencyKey: "wd-7"}

	_, err := e.coord.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, ledger.ErrExternalPayoutFailed)

	e.gateway.Decline = ""
	rec, err := e.coord.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, ledger.ErrExternalPayoutFailed)
	assert.Equal(t, models.TxFailed, rec.Status)
	assert.Len(t, e.gateway.Calls(), 1)
}

func TestWithdraw_RejectsBadRequests(t *testing.T) {
	e := newEnv(t)
	owner := e.funded(t, models.OwnerTester, 100)

	tests := []struct {
		name string
		req  withdrawals.Request
		want error
	}{
		{"zero amount", withdrawals.Request{Owner: owner, Amount: 0, Destination: "acct"}, ledger.ErrInvalidAmount},
		{"no destination", withdrawals.Request{Owner: owner, Amount: 10, Destination: "  "}, ledger.ErrInvalidTransfer},
		{"escrow wallet", withdrawals.Request{Owner: ledger.EscrowOwner(uuid.New()), Amount: 10, Destination: "acct"}, ledger.ErrInvalidTransfer},
		{"system wallet", withdrawals.Request{Owner: ledger.SystemOwner(), Amount: 10, Destination: "acct"}, ledger.ErrInvalidTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.coord.Withdraw(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, e.gateway.Calls())
}

func TestReconciler_SettlesStalePending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.funded(t, models.OwnerTester, 1000)

	hold := func() *models.Transaction {
		rec, err := e.engine.HoldWithdrawal(ctx, owner, 100, "")
		require.NoError(t, err)
		return rec
	}
	paid, failed, missing, undecided := hold(), hold(), hold(), hold()

	e.gateway.SetState(paid.ID, payout.Status{State: payout.StatePaid, ExternalRef: "prov-9"})
	e.gateway.SetState(failed.ID, payout.Status{State: payout.StateFailed, Reason: "bank rejected"})
	e.gateway.SetState(undecided.ID, payout.Status{State: payout.StateUnknown})

	rep, err := e.recon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, withdrawals.Report{Checked: 4, Completed: 1, Failed: 2, Pending: 1}, rep)

	get := func(id uuid.UUID) *models.Transaction {
		rec, err := e.store.GetTransaction(ctx, id)
		require.NoError(t, err)
		return rec
	}
	assert.Equal(t, models.TxCompleted, get(paid.ID).Status)
	assert.Equal(t, "prov-9", *get(paid.ID).ExternalRef)
	assert.Equal(t, models.TxFailed, get(failed.ID).Status)
	assert.Equal(t, "bank rejected", *get(failed.ID).FailureReason)
	assert.Equal(t, models.TxFailed, get(missing.ID).Status)
	assert.Equal(t, models.TxPending, get(undecided.ID).Status)

	w := e.wallet(t, owner)
	assert.Equal(t, int64(900), w.Balance)
	assert.Equal(t, int64(100), w.Held)

	e.gateway.SetState(undecided.ID, payout.Status{State: payout.StatePaid})
	rep, err = e.recon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, withdrawals.Report{Checked: 1, Completed: 1}, rep)
	w = e.wallet(t, owner)
	assert.Equal(t, int64(800), w.Balance)
	assert.Zero(t, w.Held)
}

func TestReconciler_IgnoresFreshRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.funded(t, models.OwnerTester, 100)
	_, err := e.engine.HoldWithdrawal(ctx, owner, 50, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recon := withdrawals.NewReconciler(e.store, e.engine, e.gateway, time.Hour, logger)
	rep, err := recon.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Checked)
}
