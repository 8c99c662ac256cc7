/*
Package api exposes the wallet ledger over HTTP.

ENDPOINTS (all under /api/v1, JSON, Bearer JWT except auth):

	GET  /me                                       caller's profile and wallet
	GET  /wallet                                   caller's balance
	GET  /wallet/transactions                      caller's history (kind, task_only, limit, before)
	POST /withdrawals                              pay out to an external destination
	POST /tasks                                    creator posts a task
	GET  /tasks/{id}                               task with escrow balance
	POST /tasks/{id}/fund                          creator funds the escrow
	POST /tasks/{id}/responses                     tester submits a response
	POST /tasks/{id}/responses/{testerID}/accept   creator pays the tester
	POST /tasks/{id}/responses/{testerID}/reject   creator rejects without payment
	POST /tasks/{id}/refund                        creator takes back what is left
	GET  /tasks/{id}/transactions                  ledger records of the task
	POST /admin/deposits                           record an external top-up
	POST /admin/backfill-wallets                   create missing user wallets
	POST /admin/reconcile                          settle stale pending withdrawals

Amounts are decimal strings on input ("12.50"). Responses carry integer
minor units plus a display string.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/auth"
	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
	"github.com/darshannathani/pp-sub001/internal/money"
	"github.com/darshannathani/pp-sub001/internal/tasks"
	"github.com/darshannathani/pp-sub001/internal/withdrawals"
)

// TaskPayments is the task lifecycle surface. *tasks.Payments satisfies it.
type TaskPayments interface {
	CreateTask(ctx context.Context, creatorID uuid.UUID, title string, budget, perTester int64) (*models.Task, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, creatorID uuid.UUID) ([]*models.Task, error)
	ListResponses(ctx context.Context, taskID uuid.UUID) ([]*models.TaskResponse, error)
	FundTask(ctx context.Context, taskID, creatorID uuid.UUID, amount int64) (*ledger.TransferResult, error)
	SubmitResponse(ctx context.Context, taskID, testerID uuid.UUID) (*models.TaskResponse, error)
	PayoutTester(ctx context.Context, taskID, testerID uuid.UUID, amount int64) (*ledger.TransferResult, error)
	RejectResponse(ctx context.Context, taskID, testerID uuid.UUID) error
	RefundTask(ctx context.Context, taskID, creatorID uuid.UUID) (*ledger.TransferResult, error)
	EscrowBalance(ctx context.Context, taskID uuid.UUID) (int64, error)
}

var _ TaskPayments = (*tasks.Payments)(nil)

// Withdrawer pays money out of a wallet. *withdrawals.Coordinator satisfies it.
type Withdrawer interface {
	Withdraw(ctx context.Context, req withdrawals.Request) (*models.Transaction, error)
}

// Reconciler settles stale pending withdrawals. *withdrawals.Reconciler satisfies it.
type Reconciler interface {
	Run(ctx context.Context) (withdrawals.Report, error)
}

// Users looks up and enumerates registered users.
type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context, after uuid.UUID, limit int) ([]*models.User, error)
}

// Handler holds the dependencies of the ledger endpoints.
type Handler struct {
	Ledger      ledger.Service
	Tasks       TaskPayments
	Withdrawals Withdrawer
	Reconciler  Reconciler
	Users       Users
	Validator   *Validator
	Logger      *slog.Logger
}

const maxBodyBytes = 1 << 20

// readBody validates the request body against schema and decodes it into v.
// An empty body is treated as {} so optional-body endpoints accept it.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, schema string, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body", nil)
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		if errors.Is(err, ErrValidation) {
			writeError(w, http.StatusUnprocessableEntity, "request validation failed", err)
			return false
		}
		h.Logger.Error("validate request", "schema", schema, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", nil)
		return false
	}
	return true
}

// identity returns the authenticated caller or writes 401.
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
	}
	return id, ok
}

// parseAmount converts a validated decimal string to a positive minor-unit
// amount, writing 400 when it is not.
func parseAmount(w http.ResponseWriter, s string) (int64, bool) {
	n, err := money.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return 0, false
	}
	if n <= 0 {
		writeError(w, http.StatusBadRequest, "invalid amount", ledger.ErrInvalidAmount)
		return 0, false
	}
	return n, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param, nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeLedgerError maps ledger and collaborator errors to a status code.
// Client errors carry their message; server errors are logged and hidden.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), op, "error", err)
		msg := "internal error"
		switch status {
		case http.StatusServiceUnavailable:
			msg = "storage unavailable, retry later"
		case http.StatusBadGateway:
			msg = "payout failed"
			writeError(w, status, msg, err)
			return
		}
		writeError(w, status, msg, nil)
		return
	}
	writeError(w, status, err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidTransfer):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrIdempotencyConflict),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrNotPending),
		errors.Is(err, tasks.ErrDuplicateResponse):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrExternalPayoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
