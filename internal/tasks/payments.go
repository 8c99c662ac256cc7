package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

// Transferer moves money between wallets. *ledger.Engine satisfies it.
type Transferer interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error)
}

// WalletReader reads a wallet without creating it. ledger.Store satisfies it.
type WalletReader interface {
	GetWallet(ctx context.Context, owner ledger.Owner) (*models.Wallet, error)
}

// Payments triggers ledger transfers at task lifecycle events. Task state
// is written only after the transfer commits; a call retried after a failed
// state write replays the committed transfer through its idempotency key.
type Payments struct {
	store   Store
	users   UserLookup
	engine  Transferer
	wallets WalletReader
	logger  *slog.Logger
}

func NewPayments(store Store, users UserLookup, engine Transferer, wallets WalletReader, logger *slog.Logger) *Payments {
	if logger == nil {
		logger = slog.Default()
	}
	return &Payments{store: store, users: users, engine: engine, wallets: wallets, logger: logger}
}

func fundKey(taskID uuid.UUID) string { return "fund:" + taskID.String() }

func payoutKey(taskID, testerID uuid.UUID) string {
	return "payout:" + taskID.String() + ":" + testerID.String()
}

func refundKey(taskID uuid.UUID) string { return "refund:" + taskID.String() }

// CreateTask registers an unfunded task owned by creatorID.
func (p *Payments) CreateTask(ctx context.Context, creatorID uuid.UUID, title string, budget, perTester int64) (*models.Task, error) {
	if budget <= 0 || perTester <= 0 {
		return nil, fmt.Errorf("%w: budget and per-tester amount must be positive", ledger.ErrInvalidAmount)
	}
	if perTester > budget {
		return nil, fmt.Errorf("%w: per-tester amount %d exceeds budget %d", ledger.ErrInvalidAmount, perTester, budget)
	}
	creator, err := p.users.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if !creator.Kind.CanFundTasks() {
		return nil, fmt.Errorf("%w: %s users cannot post tasks", ledger.ErrForbidden, creator.Kind)
	}
	t := &models.Task{
		ID:              uuid.New(),
		CreatorID:       creatorID,
		Title:           title,
		BudgetAmount:    budget,
		PerTesterAmount: perTester,
		FundingState:    models.TaskUnfunded,
		Status:          models.TaskStatusOpen,
	}
	if err := p.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Payments) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return p.store.GetTask(ctx, taskID)
}

func (p *Payments) ListTasks(ctx context.Context, creatorID uuid.UUID) ([]*models.Task, error) {
	return p.store.ListTasksByCreator(ctx, creatorID)
}

func (p *Payments) ListResponses(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResponse, error) {
	if _, err := p.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return p.store.ListResponses(ctx, taskID)
}

// FundTask moves the task budget from the creator into the task's escrow
// wallet.
func (p *Payments) FundTask(ctx context.Context, taskID, creatorID uuid.UUID, amount int64) (*ledger.TransferResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ledger.ErrInvalidAmount, amount)
	}
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != creatorID {
		return nil, fmt.Errorf("%w: task %s belongs to another creator", ledger.ErrForbidden, taskID)
	}
	if task.Status != models.TaskStatusOpen || task.FundingState == models.TaskRefunded {
		return nil, fmt.Errorf("%w: task %s is closed", ledger.ErrInvalidTransfer, taskID)
	}
	if amount != task.BudgetAmount {
		return nil, fmt.Errorf("%w: funding %d does not match budget %d", ledger.ErrInvalidAmount, amount, task.BudgetAmount)
	}
	creator, err := p.users.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if !creator.Kind.CanFundTasks() {
		return nil, fmt.Errorf("%w: %s wallets cannot fund tasks", ledger.ErrInvalidTransfer, creator.Kind)
	}

	res, err := p.engine.Transfer(ctx, ledger.TransferRequest{
		Source:         ledger.UserOwner(creatorID, creator.Kind),
		Dest:           ledger.EscrowOwner(taskID),
		Amount:         amount,
		Kind:           models.TxTaskFunding,
		TaskID:         &taskID,
		IdempotencyKey: fundKey(taskID),
	})
	if err != nil {
		return nil, err
	}
	if task.FundingState != models.TaskFunded {
		if err := p.store.MarkTaskFunded(ctx, taskID, res.Debit.ID); err != nil {
			p.logger.ErrorContext(ctx, "task funded in ledger but state not saved", "task_id", taskID, "error", err)
			return nil, err
		}
	}
	p.logger.InfoContext(ctx, "task funded", "task_id", taskID, "amount", amount, "replayed", res.Replayed)
	return res, nil
}

// SubmitResponse records a tester's response to an open task.
func (p *Payments) SubmitResponse(ctx context.Context, taskID, testerID uuid.UUID) (*models.TaskResponse, error) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: task %s is closed", ledger.ErrInvalidTransfer, taskID)
	}
	if _, err := p.tester(ctx, testerID); err != nil {
		return nil, err
	}
	r := &models.TaskResponse{TaskID: taskID, TesterID: testerID, Status: models.ResponseSubmitted}
	if err := p.store.CreateResponse(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// PayoutTester accepts the tester's response and pays them from escrow.
func (p *Payments) PayoutTester(ctx context.Context, taskID, testerID uuid.UUID, amount int64) (*ledger.TransferResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ledger.ErrInvalidAmount, amount)
	}
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.FundingState != models.TaskFunded {
		return nil, fmt.Errorf("%w: task %s is %s", ledger.ErrInvalidTransfer, taskID, task.FundingState)
	}
	tester, err := p.tester(ctx, testerID)
	if err != nil {
		return nil, err
	}
	resp, err := p.store.GetResponse(ctx, taskID, testerID)
	if err != nil {
		return nil, err
	}
	if resp.Status == models.ResponseRejected {
		return nil, fmt.Errorf("%w: response was rejected", ledger.ErrInvalidTransfer)
	}

	res, err := p.engine.Transfer(ctx, ledger.TransferRequest{
		Source:         ledger.EscrowOwner(taskID),
		Dest:           ledger.UserOwner(testerID, tester.Kind),
		Amount:         amount,
		Kind:           models.TxTaskPayout,
		TaskID:         &taskID,
		IdempotencyKey: payoutKey(taskID, testerID),
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != models.ResponseAccepted {
		if err := p.store.SetResponseStatus(ctx, taskID, testerID, models.ResponseAccepted, &res.Credit.ID); err != nil {
			p.logger.ErrorContext(ctx, "tester paid in ledger but response not saved",
				"task_id", taskID, "tester_id", testerID, "error", err)
			return nil, err
		}
	}
	p.logger.InfoContext(ctx, "tester paid", "task_id", taskID, "tester_id", testerID, "amount", amount, "replayed", res.Replayed)
	return res, nil
}

// RejectResponse marks the response rejected. No money moves; the funds
// stay in escrow for other testers or a later refund.
func (p *Payments) RejectResponse(ctx context.Context, taskID, testerID uuid.UUID) error {
	if _, err := p.store.GetTask(ctx, taskID); err != nil {
		return err
	}
	resp, err := p.store.GetResponse(ctx, taskID, testerID)
	if err != nil {
		return err
	}
	switch resp.Status {
	case models.ResponseRejected:
		return nil
	case models.ResponseAccepted:
		return fmt.Errorf("%w: response was already paid", ledger.ErrInvalidTransfer)
	}
	if err := p.store.SetResponseStatus(ctx, taskID, testerID, models.ResponseRejected, nil); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "response rejected", "task_id", taskID, "tester_id", testerID)
	return nil
}

// RefundTask returns whatever is left in the task's escrow to the creator
// and closes the task. It returns a nil result when nothing was left.
func (p *Payments) RefundTask(ctx context.Context, taskID, creatorID uuid.UUID) (*ledger.TransferResult, error) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != creatorID {
		return nil, fmt.Errorf("%w: task %s belongs to another creator", ledger.ErrForbidden, taskID)
	}
	switch task.FundingState {
	case models.TaskUnfunded:
		return nil, fmt.Errorf("%w: task %s was never funded", ledger.ErrInvalidTransfer, taskID)
	case models.TaskRefunded:
		return nil, nil
	}
	creator, err := p.users.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	remaining, err := p.EscrowBalance(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var res *ledger.TransferResult
	if remaining > 0 {
		res, err = p.engine.Transfer(ctx, ledger.TransferRequest{
			Source:         ledger.EscrowOwner(taskID),
			Dest:           ledger.UserOwner(creatorID, creator.Kind),
			Amount:         remaining,
			Kind:           models.TxRefund,
			TaskID:         &taskID,
			IdempotencyKey: refundKey(taskID),
		})
		if err != nil {
			return nil, err
		}
	}
	if err := p.store.CloseTask(ctx, taskID, models.TaskRefunded); err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "task refunded", "task_id", taskID, "amount", remaining)
	return res, nil
}

// EscrowBalance is the amount currently held for the task.
func (p *Payments) EscrowBalance(ctx context.Context, taskID uuid.UUID) (int64, error) {
	w, err := p.wallets.GetWallet(ctx, ledger.EscrowOwner(taskID))
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, ledger.Persistence("escrow balance", err)
	}
	return w.Balance, nil
}

func (p *Payments) tester(ctx context.Context, testerID uuid.UUID) (*models.User, error) {
	u, err := p.users.GetUser(ctx, testerID)
	if err != nil {
		return nil, err
	}
	if u.Kind != models.OwnerTester {
		return nil, fmt.Errorf("%w: user %s is not a tester", ledger.ErrInvalidTransfer, testerID)
	}
	return u, nil
}
