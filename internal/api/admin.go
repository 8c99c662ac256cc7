package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/ledger"
)

// CreateDeposit credits a user's wallet with money that arrived from
// outside the platform.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !h.readBody(w, r, SchemaDeposit, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id", nil)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	user, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, "get user", err)
		return
	}
	rec, err := h.Ledger.Deposit(r.Context(), ledger.DepositRequest{
		Owner:          ledger.UserOwner(user.ID, user.Kind),
		Amount:         amount,
		Reference:      req.Reference,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.writeLedgerError(w, r, "deposit", err)
		return
	}
	h.Logger.InfoContext(r.Context(), "deposit recorded", "user_id", user.ID, "amount", amount, "txn_id", rec.ID)
	writeJSON(w, http.StatusCreated, toTransactionDTO(rec))
}

// BackfillWallets creates the wallet of every user that lacks one.
func (h *Handler) BackfillWallets(w http.ResponseWriter, r *http.Request) {
	created, err := h.Ledger.BackfillWallets(r.Context(), h.Users)
	if err != nil {
		h.writeLedgerError(w, r, "backfill wallets", err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillResponse{Created: created})
}

// Reconcile settles stale pending withdrawals now instead of waiting for
// the periodic pass.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reconciler.Run(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
