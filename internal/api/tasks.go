package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/auth"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/money"
)

// CreateTask posts an unfunded task for the calling creator.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req CreateTaskRequest
	if !h.readBody(w, r, SchemaCreateTask, &req) {
		return
	}
	budget, ok := parseAmount(w, req.Budget)
	if !ok {
		return
	}
	perTester, ok := parseAmount(w, req.PerTesterAmount)
	if !ok {
		return
	}
	task, err := h.Tasks.CreateTask(r.Context(), id.UserID, req.Title, budget, perTester)
	if err != nil {
		h.writeLedgerError(w, r, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(task))
}

// ListTasks returns the calling creator's tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Tasks.ListTasks(r.Context(), id.UserID)
	if err != nil {
		h.writeLedgerError(w, r, "list tasks", err)
		return
	}
	out := make([]TaskDTO, 0, len(list))
	for _, t := range list {
		out = append(out, toTaskDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTask returns the task with its escrow balance. The creator and admins
// also see the responses.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	task, err := h.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeLedgerError(w, r, "get task", err)
		return
	}
	escrow, err := h.Tasks.EscrowBalance(r.Context(), taskID)
	if err != nil {
		h.writeLedgerError(w, r, "escrow balance", err)
		return
	}
	dto := toTaskDTO(task)
	dto.Escrow = &escrow
	dto.EscrowDisplay = money.Format(escrow)

	if canManage(id, task) {
		responses, err := h.Tasks.ListResponses(r.Context(), taskID)
		if err != nil {
			h.writeLedgerError(w, r, "list responses", err)
			return
		}
		for _, resp := range responses {
			dto.Responses = append(dto.Responses, toTaskResponseDTO(resp))
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// FundTask moves the budget into escrow. The amount defaults to the budget.
func (h *Handler) FundTask(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AmountRequest
	if !h.readBody(w, r, SchemaFundTask, &req) {
		return
	}
	amount := int64(0)
	if req.Amount != "" {
		if amount, ok = parseAmount(w, req.Amount); !ok {
			return
		}
	} else {
		task, err := h.Tasks.GetTask(r.Context(), taskID)
		if err != nil {
			h.writeLedgerError(w, r, "get task", err)
			return
		}
		amount = task.BudgetAmount
	}
	res, err := h.Tasks.FundTask(r.Context(), taskID, id.UserID, amount)
	if err != nil {
		h.writeLedgerError(w, r, "fund task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(res))
}

// SubmitResponse records the calling tester's response.
func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	resp, err := h.Tasks.SubmitResponse(r.Context(), taskID, id.UserID)
	if err != nil {
		h.writeLedgerError(w, r, "submit response", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponseDTO(resp))
}

// AcceptResponse pays the tester from escrow. The amount defaults to the
// task's per-tester amount.
func (h *Handler) AcceptResponse(w http.ResponseWriter, r *http.Request) {
	task, testerID, ok := h.managedResponse(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !h.readBody(w, r, SchemaAcceptResponse, &req) {
		return
	}
	amount := task.PerTesterAmount
	if req.Amount != "" {
		if amount, ok = parseAmount(w, req.Amount); !ok {
			return
		}
	}
	res, err := h.Tasks.PayoutTester(r.Context(), task.ID, testerID, amount)
	if err != nil {
		h.writeLedgerError(w, r, "payout tester", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(res))
}

// RejectResponse rejects the tester's response without moving money.
func (h *Handler) RejectResponse(w http.ResponseWriter, r *http.Request) {
	task, testerID, ok := h.managedResponse(w, r)
	if !ok {
		return
	}
	if err := h.Tasks.RejectResponse(r.Context(), task.ID, testerID); err != nil {
		h.writeLedgerError(w, r, "reject response", err)
		return
	}
	writeJSON(w, http.StatusOK, TaskResponseDTO{TesterID: testerID.String(), Status: models.ResponseRejected})
}

// RefundTask returns what is left in escrow to the creator and closes the task.
func (h *Handler) RefundTask(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.Tasks.RefundTask(r.Context(), taskID, id.UserID)
	if err != nil {
		h.writeLedgerError(w, r, "refund task", err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{"refunded": 0, "refunded_display": money.Format(0)})
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(res))
}

// ListTaskTransactions returns every ledger record of the task. Only the
// creator and admins may see them.
func (h *Handler) ListTaskTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	task, err := h.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeLedgerError(w, r, "get task", err)
		return
	}
	if !canManage(id, task) {
		writeError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	txs, err := h.Ledger.ListTaskTransactions(r.Context(), taskID)
	if err != nil {
		h.writeLedgerError(w, r, "list task transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{Transactions: toTransactionDTOs(txs)})
}

// managedResponse resolves {id} and {testerID} and checks that the caller
// created the task.
func (h *Handler) managedResponse(w http.ResponseWriter, r *http.Request) (*models.Task, uuid.UUID, bool) {
	id, ok := identity(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	taskID, ok := pathUUID(w, r, "id")
	if !ok {
		return nil, uuid.Nil, false
	}
	testerID, ok := pathUUID(w, r, "testerID")
	if !ok {
		return nil, uuid.Nil, false
	}
	task, err := h.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeLedgerError(w, r, "get task", err)
		return nil, uuid.Nil, false
	}
	if task.CreatorID != id.UserID {
		writeError(w, http.StatusForbidden, "task belongs to another creator", nil)
		return nil, uuid.Nil, false
	}
	return task, testerID, true
}

func canManage(id auth.Identity, task *models.Task) bool {
	return id.Kind == models.OwnerAdmin || id.UserID == task.CreatorID
}
