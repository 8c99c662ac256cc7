package withdrawals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/payout"
)

// PendingLister finds withdrawals that never left pending.
type PendingLister interface {
	ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Transaction, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Reconciler settles withdrawals left pending, typically by a crash between
// the hold and the payout answer, according to what the provider reports.
type Reconciler struct {
	pending    PendingLister
	ledger     Settler
	gateway    payout.Gateway
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

func NewReconciler(pending PendingLister, l Settler, gateway payout.Gateway, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		pending:    pending,
		ledger:     l,
		gateway:    gateway,
		staleAfter: staleAfter,
		batchSize:  100,
		logger:     logger,
		now:        time.Now,
	}
}

// Run checks every withdrawal pending for longer than staleAfter.
// Paid references are completed, failed or unknown-to-provider references are
// failed, and anything else stays pending for the next pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	cutoff := r.now().Add(-r.staleAfter)
	recs, err := r.pending.ListPendingWithdrawals(ctx, cutoff, r.batchSize)
	if err != nil {
		return rep, ledger.Persistence("list pending withdrawals", err)
	}
	for _, rec := range recs {
		rep.Checked++
		st, err := r.gateway.Status(ctx, rec.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "payout status unavailable", "txn_id", rec.ID, "error", err)
			rep.Pending++
			continue
		}
		switch st.State {
		case payout.StatePaid:
			_, err = r.ledger.CompleteWithdrawal(ctx, rec.ID, st.ExternalRef)
			if err == nil {
				rep.Completed++
			}
		case payout.StateFailed, payout.StateNotFound:
			reason := st.Reason
			if reason == "" {
				reason = "reconciled: provider reports " + string(st.State)
			}
			_, err = r.ledger.FailWithdrawal(ctx, rec.ID, reason)
			if err == nil {
				rep.Failed++
			}
		default:
			rep.Pending++
		}
		if errors.Is(err, ledger.ErrNotPending) {
			continue
		}
		if err != nil {
			return rep, err
		}
	}
	if rep.Checked > 0 {
		r.logger.InfoContext(ctx, "withdrawal reconciliation finished",
			"checked", rep.Checked, "completed", rep.Completed, "failed", rep.Failed, "pending", rep.Pending)
	}
	return rep, nil
}

// Loop runs a pass every interval until ctx is cancelled. It is used when
// no job queue is available.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "withdrawal reconciliation failed", "error", err)
			}
		}
	}
}
