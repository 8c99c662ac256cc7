package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Kind         OwnerKind `json:"kind"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
