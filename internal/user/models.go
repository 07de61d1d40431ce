package user

import (
	"time"

	"github.com/alecgard/loopkit/internal/loop"
)

// Account is a stored member: the API-facing user plus the fields that never
// leave the server.
type Account struct {
	loop.User
	PasswordHash    string    `json:"-"`
	SelectedChainID string    `json:"selected_chain_uid,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateUserInput holds the fields required to create a new member.
type CreateUserInput struct {
	Email       string                 `json:"email"`
	Password    string                 `json:"password"`
	Name        string                 `json:"name"`
	PhoneNumber string                 `json:"phone_number"`
	Address     string                 `json:"address"`
	Chains      []loop.ChainMembership `json:"chains"`
}

// Session represents an active member session.
type Session struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
