package withdrawals

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

// ReconcileArgs is the periodic reconciliation job.
type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "reconcile_withdrawals" }

// InsertOpts keeps at most one pass queued at a time.
func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	reconciler *Reconciler
}

func NewReconcileWorker(r *Reconciler) *ReconcileWorker {
	return &ReconcileWorker{reconciler: r}
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	if _, err := w.reconciler.Run(ctx); err != nil {
		return fmt.Errorf("reconcile withdrawals: %w", err)
	}
	return nil
}

// PeriodicJob schedules ReconcileArgs every interval.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReconcileArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
