//go:build integration

package ledger_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/migrations"
	"github.com/darshannathani/pp-sub001/internal/models"
)

// Run with: LEDGER_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/ledger/
func newPgRepository(t *testing.T) (*ledger.Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	require.NoError(t, migrations.Up(ctx, db, migrations.Postgres))
	return ledger.NewRepository(pool), pool
}

func TestRepository_OpposingTransfersDoNotDeadlock(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()
	engine := ledger.NewEngine(repo, ledger.NewRecorder(repo), ledger.WithEngineLogger(discardLogger()), ledger.WithMaxAttempts(20))
	a, b := creator(), creator()
	for _, o := range []ledger.Owner{a, b} {
		_, err := engine.Deposit(ctx, ledger.DepositRequest{Owner: o, Amount: 1000})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(ctx, ledger.TransferRequest{Source: a, Dest: b, Amount: 10, Kind: models.TxTaskPayout})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(ctx, ledger.TransferRequest{Source: b, Dest: a, Amount: 10, Kind: models.TxTaskPayout})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	wa, err := repo.GetWallet(ctx, a)
	require.NoError(t, err)
	wb, err := repo.GetWallet(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), wa.Balance+wb.Balance)
	assert.Equal(t, int64(1000), wa.Balance)
}

func TestRepository_LockTimeoutIsContention(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()
	owner := tester()

	var walletID uuid.UUID
	require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx ledger.StoreTx) error {
		w, _, err := tx.EnsureWallet(ctx, owner)
		walletID = w.ID
		return err
	}))

	holder, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx)
	_, err = holder.Exec(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	require.NoError(t, err)

	start := time.Now()
	err = repo.WithLockTimeout(100*time.Millisecond).InTx(ctx, func(ctx context.Context, tx ledger.StoreTx) error {
		_, err := tx.LockWallet(ctx, walletID)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRepository_GuardsAndUniqueKeys(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()
	owner := tester()

	err := repo.InTx(ctx, func(ctx context.Context, tx ledger.StoreTx) error {
		w, _, err := tx.EnsureWallet(ctx, owner)
		if err != nil {
			return err
		}
		_, err = tx.UpdateWallet(ctx, w.ID, -1, 0)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	key := "dup-" + uuid.NewString()
	insert := func() error {
		return repo.InTx(ctx, func(ctx context.Context, tx ledger.StoreTx) error {
			w, _, err := tx.EnsureWallet(ctx, owner)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			return tx.InsertTransaction(ctx, &models.Transaction{
				ID: uuid.New(), OperationID: uuid.New(), WalletID: w.ID, UserID: owner.ID, OwnerKind: owner.Kind,
				Direction: models.Credit, Amount: 1, Kind: models.TxAdjustmentCredit, Status: models.TxCompleted,
				IdempotencyKey: &key, CreatedAt: now, UpdatedAt: now,
			})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ledger.ErrConcurrentModification)
}
