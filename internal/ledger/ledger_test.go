package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/store/sqlite"
)

type fixture struct {
	store    *sqlite.Store
	wallets  *ledger.Wallets
	recorder *ledger.Recorder
	engine   *ledger.Engine
	svc      ledger.Service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...ledger.EngineOption) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := discardLogger()
	f := &fixture{store: st}
	f.wallets = ledger.NewWallets(st, logger)
	f.recorder = ledger.NewRecorder(st)
	f.engine = ledger.NewEngine(st, f.recorder, append([]ledger.EngineOption{ledger.WithEngineLogger(logger)}, opts...)...)
	f.svc = ledger.NewService(st, f.wallets, f.recorder, f.engine)
	return f
}

func creator() ledger.Owner { return ledger.UserOwner(uuid.New(), models.OwnerCreator) }
func tester() ledger.Owner  { return ledger.UserOwner(uuid.New(), models.OwnerTester) }

// fund credits owner with amount from outside the system.
func (f *fixture) fund(t *testing.T, owner ledger.Owner, amount int64) {
	t.Helper()
	_, err := f.engine.Deposit(context.Background(), ledger.DepositRequest{
		Owner:     owner,
		Amount:    amount,
		Reference: "test-topup",
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, owner ledger.Owner) int64 {
	t.Helper()
	b, err := f.wallets.GetBalance(context.Background(), owner)
	require.NoError(t, err)
	return b
}

func (f *fixture) wallet(t *testing.T, owner ledger.Owner) *models.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), owner)
	require.NoError(t, err)
	return w
}

func (f *fixture) history(t *testing.T, owner ledger.Owner) []*models.Transaction {
	t.Helper()
	txs, err := f.recorder.ListForUser(context.Background(), owner.ID, ledger.TransactionFilter{Limit: 500})
	require.NoError(t, err)
	return txs
}

func (f *fixture) total(t *testing.T) int64 {
	t.Helper()
	total, err := f.svc.TotalBalance(context.Background())
	require.NoError(t, err)
	return total
}
