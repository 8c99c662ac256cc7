package api

import (
	"errors"
	"net/http"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/withdrawals"
)

// IdempotencyKeyHeader lets clients retry money-moving requests safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// WithdrawalResponse is returned for paid, failed and unsettled payouts so the
// client can see the record that was written.
type WithdrawalResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Error       string         `json:"error,omitempty"`
}

// CreateWithdrawal pays money out of the caller's wallet.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req WithdrawalRequest
	if !h.readBody(w, r, SchemaWithdrawal, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	rec, err := h.Withdrawals.Withdraw(r.Context(), withdrawals.Request{
		Owner:          id.Owner(),
		Amount:         amount,
		Destination:    req.Destination,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, WithdrawalResponse{Transaction: toTransactionDTO(rec)})
	case errors.Is(err, ledger.ErrExternalPayoutFailed) && rec != nil:
		h.Logger.WarnContext(r.Context(), "withdrawal failed", "txn_id", rec.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, WithdrawalResponse{Transaction: toTransactionDTO(rec), Error: err.Error()})
	default:
		h.writeLedgerError(w, r, "withdraw", err)
	}
}
