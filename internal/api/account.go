package api

import (
	"net/http"
	"time"
)

type MeResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Kind        string    `json:"kind"`
	Wallet      WalletDTO `json:"wallet"`
	CreatedAt   time.Time `json:"created_at"`
}

// GET /api/v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	u, err := h.Users.GetUser(r.Context(), id.UserID)
	if err != nil {
		h.writeLedgerError(w, r, "get user", err)
		return
	}
	wallet, err := h.Ledger.GetWallet(r.Context(), id.Owner())
	if err != nil {
		h.writeLedgerError(w, r, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Kind:        string(u.Kind),
		Wallet:      toWalletDTO(wallet),
		CreatedAt:   u.CreatedAt,
	})
}
