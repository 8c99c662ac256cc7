// Package app assembles the ledger services on top of the storage backend
// selected by configuration. It is shared by the API server and ledgerctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/darshannathani/pp-sub001/internal/auth"
	"github.com/darshannathani/pp-sub001/internal/config"
	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/migrations"
	"github.com/darshannathani/pp-sub001/internal/payout"
	"github.com/darshannathani/pp-sub001/internal/store/sqlite"
	"github.com/darshannathani/pp-sub001/internal/tasks"
	"github.com/darshannathani/pp-sub001/internal/withdrawals"
)

// App is the wired service graph.
type App struct {
	Config *config.Config
	Driver config.Driver
	Logger *slog.Logger

	Store       ledger.Store
	Users       auth.UserStore
	Engine      *ledger.Engine
	Ledger      ledger.Service
	Auth        auth.Service
	Tasks       *tasks.Payments
	Withdrawals *withdrawals.Coordinator
	Reconciler  *withdrawals.Reconciler
	Gateway     payout.Gateway

	pool   *pgxpool.Pool
	sqlite *sqlite.Store
}

// Open connects to the configured database, applies migrations and builds
// every service.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	driver, dsn, err := cfg.Database()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Driver: driver, Logger: logger}

	var taskStore tasks.Store
	switch driver {
	case config.DriverPostgres:
		pool, err := openPostgres(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.Store = ledger.NewRepository(pool)
		a.Users = auth.NewRepository(pool)
		taskStore = tasks.NewRepository(pool)
	case config.DriverSQLite:
		st, err := sqlite.New(dsn)
		if err != nil {
			return nil, err
		}
		a.sqlite = st
		a.Store = st
		a.Users = st
		taskStore = st
		logger.Info("using sqlite store", "path", dsn)
	}

	recorder := ledger.NewRecorder(a.Store)
	wallets := ledger.NewWallets(a.Store, logger)
	a.Engine = ledger.NewEngine(a.Store, recorder,
		ledger.WithMaxAttempts(cfg.TransferMaxAttempts),
		ledger.WithEngineLogger(logger),
	)
	a.Ledger = ledger.NewService(a.Store, wallets, recorder, a.Engine)
	a.Auth = auth.NewService(a.Users, a.Ledger, cfg.JWTSecret, logger)
	a.Tasks = tasks.NewPayments(taskStore, a.Users, a.Engine, a.Store, logger)

	if cfg.PayoutGatewayURL != "" {
		a.Gateway = payout.NewHTTPGateway(cfg.PayoutGatewayURL, cfg.PayoutTimeout, logger)
	} else {
		logger.Warn("PAYOUT_GATEWAY_URL not set; withdrawals are paid by the in-process fake gateway")
		a.Gateway = payout.NewFake()
	}
	a.Withdrawals = withdrawals.NewCoordinator(a.Engine, a.Store, a.Gateway, logger)
	a.Reconciler = withdrawals.NewReconciler(a.Store, a.Engine, a.Gateway, cfg.ReconcileStaleAfter, logger)
	return a, nil
}

func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolCfg.ConnConfig.Tracer = ledger.NewQueryTracer(logger)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach PostgreSQL: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrations.Up(ctx, db, migrations.Postgres); err != nil {
		pool.Close()
		return nil, err
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("river migrate up: %w", err)
	}
	logger.Info("migrations applied")
	return pool, nil
}

// SchemaVersion reports the applied ledger schema version.
func (a *App) SchemaVersion(ctx context.Context) (int64, error) {
	if a.sqlite != nil {
		return migrations.Version(ctx, a.sqlite.DB(), migrations.SQLite)
	}
	db := stdlib.OpenDBFromPool(a.pool)
	defer db.Close()
	return migrations.Version(ctx, db, migrations.Postgres)
}

// StartBackground starts withdrawal reconciliation: a river periodic job
// on Postgres, a ticker loop on SQLite. The returned stop function blocks
// until the background work has shut down.
func (a *App) StartBackground(ctx context.Context) (stop func(), err error) {
	interval := a.Config.ReconcileInterval
	if a.pool == nil {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.Reconciler.Loop(loopCtx, interval)
		}()
		return func() { cancel(); <-done }, nil
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, withdrawals.NewReconcileWorker(a.Reconciler))
	client, err := river.NewClient(riverpgxv5.New(a.pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{withdrawals.PeriodicJob(interval)},
		Logger:       a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start river client: %w", err)
	}
	return func() {
		if err := client.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("river client stop", "error", err)
		}
	}, nil
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.Logger.Error("close sqlite store", "error", err)
		}
	}
}
