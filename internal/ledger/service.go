package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/models"
)

// Service is the read and administrative surface of the ledger exposed to
// the API layer. Task and withdrawal money movement goes through their
// coordinators instead.
type Service interface {
	GetBalance(ctx context.Context, owner Owner) (int64, error)
	GetWallet(ctx context.Context, owner Owner) (*models.Wallet, error)
	ProvisionWallet(ctx context.Context, owner Owner) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]*models.Transaction, error)
	ListTaskTransactions(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error)
	Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error)
	BackfillWallets(ctx context.Context, users UserLister) (int, error)
	TotalBalance(ctx context.Context) (int64, error)
}

type service struct {
	store    Store
	wallets  *Wallets
	recorder *Recorder
	engine   *Engine
}

func NewService(store Store, wallets *Wallets, recorder *Recorder, engine *Engine) Service {
	return &service{store: store, wallets: wallets, recorder: recorder, engine: engine}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, owner Owner) (int64, error) {
	return s.wallets.GetBalance(ctx, owner)
}

func (s *service) GetWallet(ctx context.Context, owner Owner) (*models.Wallet, error) {
	return s.wallets.GetOrCreate(ctx, owner)
}

func (s *service) ProvisionWallet(ctx context.Context, owner Owner) (*models.Wallet, error) {
	return s.wallets.Provision(ctx, owner)
}

func (s *service) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]*models.Transaction, error) {
	return s.recorder.ListForUser(ctx, userID, f)
}

func (s *service) ListTaskTransactions(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	return s.recorder.ListForTask(ctx, taskID)
}

func (s *service) Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	return s.engine.Deposit(ctx, req)
}

func (s *service) BackfillWallets(ctx context.Context, users UserLister) (int, error) {
	return s.wallets.Backfill(ctx, users)
}

func (s *service) TotalBalance(ctx context.Context) (int64, error) {
	total, err := s.store.TotalBalance(ctx)
	return total, Persistence("total balance", err)
}
