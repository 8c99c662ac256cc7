// Package withdrawals moves money off the platform through the payout
// gateway and keeps the ledger consistent with what the provider did.
package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/payout"
)

// Settler is the part of the ledger engine that manages withdrawal records.
type Settler interface {
	HoldWithdrawal(ctx context.Context, owner ledger.Owner, amount int64, key string) (*models.Transaction, error)
	CompleteWithdrawal(ctx context.Context, txnID uuid.UUID, externalRef string) (*models.Transaction, error)
	FailWithdrawal(ctx context.Context, txnID uuid.UUID, reason string) (*models.Transaction, error)
}

// WalletReader reads a wallet without creating it.
type WalletReader interface {
	GetWallet(ctx context.Context, owner ledger.Owner) (*models.Wallet, error)
}

type Request struct {
	Owner          ledger.Owner
	Amount         int64
	Destination    string
	IdempotencyKey string
}

type Coordinator struct {
	ledger  Settler
	wallets WalletReader
	gateway payout.Gateway
	logger  *slog.Logger
}

func NewCoordinator(l Settler, wallets WalletReader, gateway payout.Gateway, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{ledger: l, wallets: wallets, gateway: gateway, logger: logger}
}

// Withdraw pays req.Amount out of the owner's wallet. The pending record is
// durable before the provider is called. A declined payout leaves the
// balance untouched, marks the record failed and returns
// ledger.ErrExternalPayoutFailed together with the failed record.
// When the provider cannot be reached the outcome is unknown: the record
// stays pending with its hold in place, ErrExternalPayoutFailed is returned
// with it, and the Reconciler settles it from the provider's status.
func (c *Coordinator) Withdraw(ctx context.Context, req Request) (*models.Transaction, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ledger.ErrInvalidAmount, req.Amount)
	}
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	if !req.Owner.Kind.CanWithdraw() {
		return nil, fmt.Errorf("%w: %s wallets cannot withdraw", ledger.ErrInvalidTransfer, req.Owner.Kind)
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, fmt.Errorf("%w: missing payout destination", ledger.ErrInvalidTransfer)
	}

	available := int64(0)
	w, err := c.wallets.GetWallet(ctx, req.Owner)
	switch {
	case err == nil:
		available = w.Available()
	case !errors.Is(err, ledger.ErrWalletNotFound):
		return nil, ledger.Persistence("read wallet", err)
	}
	if available < req.Amount && req.IdempotencyKey == "" {
		return nil, &ledger.InsufficientFundsError{OwnerID: req.Owner.String(), Available: available, Requested: req.Amount}
	}

	hold, err := c.ledger.HoldWithdrawal(ctx, req.Owner, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	switch hold.Status {
	case models.TxCompleted:
		return hold, nil
	case models.TxFailed:
		return hold, fmt.Errorf("%w: %s", ledger.ErrExternalPayoutFailed, deref(hold.FailureReason))
	}

	// The hold is committed; settle it even if the caller goes away.
	settleCtx := context.WithoutCancel(ctx)
	res, err := c.gateway.Payout(settleCtx, payout.Request{
		Reference:   hold.ID,
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "payout outcome unknown; withdrawal left pending for reconciliation",
			"txn_id", hold.ID, "owner", req.Owner.String(), "error", err)
		return hold, fmt.Errorf("%w: outcome unknown, left pending: %v", ledger.ErrExternalPayoutFailed, err)
	}
	if !res.Success {
		reason := res.Reason
		if reason == "" {
			reason = "payout declined"
		}
		failed, ferr := c.ledger.FailWithdrawal(settleCtx, hold.ID, reason)
		if ferr != nil {
			c.logger.ErrorContext(ctx, "payout declined and withdrawal could not be marked failed",
				"txn_id", hold.ID, "reason", reason, "error", ferr)
			return hold, fmt.Errorf("%w: %s", ledger.ErrExternalPayoutFailed, reason)
		}
		c.logger.WarnContext(ctx, "withdrawal payout declined", "txn_id", hold.ID, "owner", req.Owner.String(), "reason", reason)
		return failed, fmt.Errorf("%w: %s", ledger.ErrExternalPayoutFailed, reason)
	}

	done, err := c.ledger.CompleteWithdrawal(settleCtx, hold.ID, res.ExternalRef)
	if err != nil {
		c.logger.ErrorContext(ctx, "payout sent but withdrawal not completed; left for reconciliation",
			"txn_id", hold.ID, "external_ref", res.ExternalRef, "error", err)
		return hold, err
	}
	c.logger.InfoContext(ctx, "withdrawal completed", "txn_id", done.ID, "owner", req.Owner.String(), "amount", done.Amount)
	return done, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
