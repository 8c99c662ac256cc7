package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/models"
)

// Wallets resolves the single wallet belonging to an owner.
type Wallets struct {
	store  Store
	logger *slog.Logger
}

func NewWallets(store Store, logger *slog.Logger) *Wallets {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wallets{store: store, logger: logger}
}

// GetOrCreate returns the owner's wallet, creating it with a zero balance
// if the kind allows lazy creation. Concurrent first calls converge on one
// row through the (owner_id, owner_kind) uniqueness constraint.
func (w *Wallets) GetOrCreate(ctx context.Context, owner Owner) (*models.Wallet, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if !owner.Kind.LazyCreate() {
		return w.get(ctx, owner)
	}
	return w.ensure(ctx, owner)
}

// Provision explicitly creates a wallet of any kind, including admin
// wallets which are never created lazily. It is idempotent.
func (w *Wallets) Provision(ctx context.Context, owner Owner) (*models.Wallet, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return w.ensure(ctx, owner)
}

// GetBalance returns the owner's balance. Lazy kinds read as zero on first
// access; admin and system wallets must already exist.
func (w *Wallets) GetBalance(ctx context.Context, owner Owner) (int64, error) {
	wallet, err := w.GetOrCreate(ctx, owner)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (w *Wallets) get(ctx context.Context, owner Owner) (*models.Wallet, error) {
	wallet, err := w.store.GetWallet(ctx, owner)
	if err != nil {
		return nil, Persistence("get wallet", err)
	}
	return wallet, nil
}

func (w *Wallets) ensure(ctx context.Context, owner Owner) (*models.Wallet, error) {
	if wallet, err := w.store.GetWallet(ctx, owner); err == nil {
		return wallet, nil
	} else if !errors.Is(err, ErrWalletNotFound) {
		return nil, Persistence("get wallet", err)
	}

	var wallet *models.Wallet
	var created bool
	err := w.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
		var err error
		wallet, created, err = tx.EnsureWallet(ctx, owner)
		return err
	})
	if err != nil {
		return nil, Persistence("ensure wallet", err)
	}
	if created {
		w.logger.InfoContext(ctx, "wallet created", "owner", owner.String(), "wallet_id", wallet.ID)
	}
	return wallet, nil
}

// UserLister enumerates registered users for the backfill pass.
type UserLister interface {
	ListUsers(ctx context.Context, after uuid.UUID, limit int) ([]*models.User, error)
}

const backfillPageSize = 200

// Backfill creates the wallet for every existing user that lacks one and
// returns how many were created. Running it again creates nothing.
func (w *Wallets) Backfill(ctx context.Context, users UserLister) (int, error) {
	created := 0
	after := uuid.Nil
	for {
		page, err := users.ListUsers(ctx, after, backfillPageSize)
		if err != nil {
			return created, fmt.Errorf("list users: %w", err)
		}
		for _, u := range page {
			owner := UserOwner(u.ID, u.Kind)
			var made bool
			err := w.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
				var err error
				_, made, err = tx.EnsureWallet(ctx, owner)
				return err
			})
			if err != nil {
				return created, Persistence("backfill wallet", err)
			}
			if made {
				created++
			}
			after = u.ID
		}
		if len(page) < backfillPageSize {
			break
		}
	}
	w.logger.InfoContext(ctx, "wallet backfill finished", "created", created)
	return created, nil
}
