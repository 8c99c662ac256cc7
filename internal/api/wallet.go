package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

// GetWallet returns the caller's wallet, creating it on first access for
// kinds that allow it.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	wallet, err := h.Ledger.GetWallet(r.Context(), id.Owner())
	if err != nil {
		h.writeLedgerError(w, r, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wallet))
}

// ListTransactions returns the caller's history, newest first.
// Query: kind (repeatable or comma separated), task_only, limit, before (transaction id).
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	txs, err := h.Ledger.ListTransactions(r.Context(), id.Owner().ID, f)
	if err != nil {
		h.writeLedgerError(w, r, "list transactions", err)
		return
	}
	resp := TransactionsResponse{Transactions: toTransactionDTOs(txs)}
	if len(txs) == f.Limit {
		resp.NextBefore = txs[len(txs)-1].ID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(r *http.Request) (ledger.TransactionFilter, error) {
	f := ledger.TransactionFilter{Limit: defaultPageSize}
	q := r.URL.Query()

	for _, raw := range q["kind"] {
		for _, k := range strings.Split(raw, ",") {
			kind := models.TxKind(strings.TrimSpace(k))
			if kind == "" {
				continue
			}
			if !kind.Valid() {
				return f, filterError("unknown kind " + strconv.Quote(string(kind)))
			}
			f.Kinds = append(f.Kinds, kind)
		}
	}
	if v := q.Get("task_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, filterError("task_only must be a boolean")
		}
		f.TaskOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, filterError("limit must be a positive integer")
		}
		f.Limit = min(n, maxPageSize)
	}
	if v := q.Get("before"); v != "" {
		before, err := uuid.Parse(v)
		if err != nil {
			return f, filterError("before must be a transaction id")
		}
		f.Before = &before
	}
	return f, nil
}
