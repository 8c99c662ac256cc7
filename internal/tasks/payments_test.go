package tasks_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/store/sqlite"
	"github.com/darshannathani/pp-sub001/internal/tasks"
)

type env struct {
	store    *sqlite.Store
	engine   *ledger.Engine
	payments *tasks.Payments
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.NewEngine(st, ledger.NewRecorder(st), ledger.WithEngineLogger(logger))
	return &env{
		store:    st,
		engine:   engine,
		payments: tasks.NewPayments(st, st, engine, st, logger),
	}
}

func (e *env) user(t *testing.T, kind models.OwnerKind) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		DisplayName:  string(kind),
		Kind:         kind,
		PasswordHash: "x",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *env) deposit(t *testing.T, u *models.User, amount int64) {
	t.Helper()
	_, err := e.engine.Deposit(context.Background(), ledger.DepositRequest{
		Owner: ledger.UserOwner(u.ID, u.Kind), Amount: amount, Reference: "card",
	})
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, owner ledger.Owner) int64 {
	t.Helper()
	w, err := e.store.GetWallet(context.Background(), owner)
	if ledger.IsNotFound(err) {
		return 0
	}
	require.NoError(t, err)
	return w.Balance
}

func TestPayments_FundThenPayout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	tst := e.user(t, models.OwnerTester)
	e.deposit(t, c, 1000)

	task, err := e.payments.CreateTask(ctx, c.ID, "Checkout flow", 500, 500)
	require.NoError(t, err)
	assert.Equal(t, models.TaskUnfunded, task.FundingState)

	res, err := e.payments.FundTask(ctx, task.ID, c.ID, 500)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(500), e.balance(t, ledger.UserOwner(c.ID, c.Kind)))
	escrow, err := e.payments.EscrowBalance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), escrow)

	got, err := e.payments.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFunded, got.FundingState)
	require.NotNil(t, got.FundingTxnID)
	assert.Equal(t, res.Debit.ID, *got.FundingTxnID)

	_, err = e.payments.SubmitResponse(ctx, task.ID, tst.ID)
	require.NoError(t, err)
	paid, err := e.payments.PayoutTester(ctx, task.ID, tst.ID, 500)
	require.NoError(t, err)

	assert.Equal(t, int64(500), e.balance(t, ledger.UserOwner(tst.ID, tst.Kind)))
	escrow, err = e.payments.EscrowBalance(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, escrow)

	resp, err := e.store.GetResponse(ctx, task.ID, tst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAccepted, resp.Status)
	require.NotNil(t, resp.PayoutTxnID)
	assert.Equal(t, paid.Credit.ID, *resp.PayoutTxnID)

	txs, err := e.store.ListTaskTransactions(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 4)
}

func TestPayments_ReplaysAreIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	tst := e.user(t, models.OwnerTester)
	e.deposit(t, c, 1000)

	task, err := e.payments.CreateTask(ctx, c.ID, "Search", 400, 100)
	require.NoError(t, err)
	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 400)
	require.NoError(t, err)
	again, err := e.payments.FundTask(ctx, task.ID, c.ID, 400)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(600), e.balance(t, ledger.UserOwner(c.ID, c.Kind)))

	_, err = e.payments.SubmitResponse(ctx, task.ID, tst.ID)
	require.NoError(t, err)
	_, err = e.payments.PayoutTester(ctx, task.ID, tst.ID, 100)
	require.NoError(t, err)
	replay, err := e.payments.PayoutTester(ctx, task.ID, tst.ID, 100)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, int64(100), e.balance(t, ledger.UserOwner(tst.ID, tst.Kind)))

	_, err = e.payments.PayoutTester(ctx, task.ID, tst.ID, 150)
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
}

func TestPayments_RejectKeepsEscrowAndRefundReturnsRest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	paidTester := e.user(t, models.OwnerTester)
	rejected := e.user(t, models.OwnerTester)
	e.deposit(t, c, 300)

	task, err := e.payments.CreateTask(ctx, c.ID, "Signup", 300, 100)
	require.NoError(t, err)
	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 300)
	require.NoError(t, err)

	for _, u := range []*models.User{paidTester, rejected} {
		_, err := e.payments.SubmitResponse(ctx, task.ID, u.ID)
		require.NoError(t, err)
	}
	_, err = e.payments.PayoutTester(ctx, task.ID, paidTester.ID, 100)
	require.NoError(t, err)

	require.NoError(t, e.payments.RejectResponse(ctx, task.ID, rejected.ID))
	require.NoError(t, e.payments.RejectResponse(ctx, task.ID, rejected.ID), "second reject is a no-op")
	escrow, err := e.payments.EscrowBalance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), escrow)

	_, err = e.payments.PayoutTester(ctx, task.ID, rejected.ID, 100)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)
	assert.ErrorIs(t, e.payments.RejectResponse(ctx, task.ID, paidTester.ID), ledger.ErrInvalidTransfer)

	refund, err := e.payments.RefundTask(ctx, task.ID, c.ID)
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, int64(200), refund.Credit.Amount)
	assert.Equal(t, models.TxRefund, refund.Credit.Kind)
	assert.Equal(t, int64(200), e.balance(t, ledger.UserOwner(c.ID, c.Kind)))

	closed, err := e.payments.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRefunded, closed.FundingState)
	assert.Equal(t, models.TaskStatusClosed, closed.Status)

	again, err := e.payments.RefundTask(ctx, task.ID, c.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = e.payments.SubmitResponse(ctx, task.ID, e.user(t, models.OwnerTester).ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)
	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 300)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)
}

func TestPayments_FundingRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	other := e.user(t, models.OwnerCreator)
	e.deposit(t, c, 100)

	task, err := e.payments.CreateTask(ctx, c.ID, "Onboarding", 200, 50)
	require.NoError(t, err)

	_, err = e.payments.FundTask(ctx, task.ID, other.ID, 200)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 150)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 200)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Available)

	reloaded, err := e.payments.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskUnfunded, reloaded.FundingState)

	_, err = e.payments.RefundTask(ctx, task.ID, c.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)

	_, err = e.payments.FundTask(ctx, uuid.New(), c.ID, 200)
	assert.ErrorIs(t, err, ledger.ErrEntityNotFound)
}

func TestPayments_CreateTaskRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	tst := e.user(t, models.OwnerTester)

	tests := []struct {
		name      string
		creator   uuid.UUID
		budget    int64
		perTester int64
		want      error
	}{
		{"zero budget", c.ID, 0, 10, ledger.ErrInvalidAmount},
		{"per tester over budget", c.ID, 10, 20, ledger.ErrInvalidAmount},
		{"tester cannot post", tst.ID, 100, 10, ledger.ErrForbidden},
		{"unknown creator", uuid.New(), 100, 10, ledger.ErrEntityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.payments.CreateTask(ctx, tt.creator, "x", tt.budget, tt.perTester)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := e.payments.ListTasks(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPayments_ResponseRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	tst := e.user(t, models.OwnerTester)
	e.deposit(t, c, 100)

	task, err := e.payments.CreateTask(ctx, c.ID, "Profile", 100, 100)
	require.NoError(t, err)

	_, err = e.payments.SubmitResponse(ctx, task.ID, c.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer, "creators cannot respond")

	_, err = e.payments.SubmitResponse(ctx, task.ID, tst.ID)
	require.NoError(t, err)
	_, err = e.payments.SubmitResponse(ctx, task.ID, tst.ID)
	assert.ErrorIs(t, err, tasks.ErrDuplicateResponse)

	_, err = e.payments.PayoutTester(ctx, task.ID, tst.ID, 100)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer, "unfunded task cannot pay out")

	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 100)
	require.NoError(t, err)
	_, err = e.payments.PayoutTester(ctx, task.ID, tst.ID, 101)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	stranger := e.user(t, models.OwnerTester)
	_, err = e.payments.PayoutTester(ctx, task.ID, stranger.ID, 50)
	assert.ErrorIs(t, err, ledger.ErrEntityNotFound, "no response on file")

	responses, err := e.payments.ListResponses(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, models.ResponseSubmitted, responses[0].Status)
}

func TestPayments_ClientKeysCannotBlockTaskPayments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.user(t, models.OwnerCreator)
	tst := e.user(t, models.OwnerTester)
	other := e.user(t, models.OwnerTester)
	e.deposit(t, c, 1000)
	e.deposit(t, other, 10)

	task, err := e.payments.CreateTask(ctx, c.ID, "Signup form", 400, 400)
	require.NoError(t, err)

	otherOwner := ledger.UserOwner(other.ID, other.Kind)
	for _, key := range []string{
		"fund:" + task.ID.String(),
		"payout:" + task.ID.String() + ":" + tst.ID.String(),
		"refund:" + task.ID.String(),
	} {
		_, err := e.engine.HoldWithdrawal(ctx, otherOwner, 1, key)
		require.NoError(t, err, key)
		_, err = e.engine.Deposit(ctx, ledger.DepositRequest{Owner: otherOwner, Amount: 1, IdempotencyKey: key})
		require.NoError(t, err, key)
	}

	_, err = e.payments.FundTask(ctx, task.ID, c.ID, 400)
	require.NoError(t, err)
	_, err = e.payments.SubmitResponse(ctx, task.ID, tst.ID)
	require.NoError(t, err)
	_, err = e.payments.PayoutTester(ctx, task.ID, tst.ID, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), e.balance(t, ledger.UserOwner(tst.ID, tst.Kind)))
}
