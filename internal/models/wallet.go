package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OwnerKind identifies which side of the marketplace a wallet belongs to.
// Each kind carries the ledger policy that applies to it, so callers resolve
// the kind once at the boundary and ask it what is allowed.
type OwnerKind string

const (
	OwnerTester  OwnerKind = "tester"
	OwnerCreator OwnerKind = "creator"
	OwnerAdmin   OwnerKind = "admin"
	OwnerSystem  OwnerKind = "system"
	OwnerEscrow  OwnerKind = "escrow"
)

// SystemOwnerID is the owner id of the singleton System wallet.
const SystemOwnerID = "system"

// SystemWalletID is the fixed id the System wallet is seeded with.
var SystemWalletID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// ParseOwnerKind resolves a kind string, rejecting anything outside the known set.
func ParseOwnerKind(s string) (OwnerKind, error) {
	k := OwnerKind(s)
	switch k {
	case OwnerTester, OwnerCreator, OwnerAdmin, OwnerSystem, OwnerEscrow:
		return k, nil
	}
	return "", fmt.Errorf("unknown owner kind %q", s)
}

// LazyCreate reports whether a wallet of this kind is created on first reference.
// Admin and System wallets must be provisioned explicitly.
func (k OwnerKind) LazyCreate() bool {
	return k == OwnerTester || k == OwnerCreator || k == OwnerEscrow
}

// CanWithdraw reports whether funds may leave the platform from this kind of wallet.
func (k OwnerKind) CanWithdraw() bool {
	return k == OwnerTester || k == OwnerCreator || k == OwnerAdmin
}

// CanFundTasks reports whether this kind of wallet may post and fund tasks.
func (k OwnerKind) CanFundTasks() bool {
	return k == OwnerCreator
}

// UserFacing reports whether the kind belongs to a registered user.
func (k OwnerKind) UserFacing() bool {
	return k == OwnerTester || k == OwnerCreator || k == OwnerAdmin
}

// Wallet is the durable balance record for one (owner, kind) pair.
// Balance and Held are in the smallest currency unit.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	OwnerKind OwnerKind `json:"owner_kind"`
	Balance   int64     `json:"balance"`
	Held      int64     `json:"held"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is the part of the balance not reserved by pending withdrawals.
func (w *Wallet) Available() int64 {
	return w.Balance - w.Held
}
