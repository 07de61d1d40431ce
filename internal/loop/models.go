package loop

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSignupBase is the public site that hosts loop signup pages.
const DefaultSignupBase = "https://www.clothingloop.org"

// ChainMembership relates a user to a chain with approval and admin flags.
type ChainMembership struct {
	ChainID      string `json:"chain_uid"`
	IsApproved   bool   `json:"is_approved"`
	IsChainAdmin bool   `json:"is_chain_admin"`
}

// User is the authenticated member as returned by the loop API.
type User struct {
	ID          string            `json:"uid"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	PhoneNumber string            `json:"phone_number"`
	Address     string            `json:"address"`
	PausedUntil *time.Time        `json:"paused_until"`
	Chains      []ChainMembership `json:"chains"`
}

// Clone returns a deep copy so snapshots never share mutable state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.PausedUntil != nil {
		t := *u.PausedUntil
		c.PausedUntil = &t
	}
	c.Chains = append([]ChainMembership(nil), u.Chains...)
	return &c
}

// Chain is a local clothing loop.
type Chain struct {
	ID               string   `json:"uid"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	OpenToNewMembers bool     `json:"open_to_new_members"`
	Published        bool     `json:"published"`
	Sizes            []string `json:"sizes"`
}

// Clone returns a deep copy of the chain.
func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Sizes = append([]string(nil), c.Sizes...)
	return &cp
}

// SignupURL returns the shareable link new members use to join the chain.
// An empty base selects DefaultSignupBase.
func (c *Chain) SignupURL(base string) string {
	if base == "" {
		base = DefaultSignupBase
	}
	return fmt.Sprintf("%s/loops/%s/users/signup", strings.TrimRight(base, "/"), c.ID)
}

// Bag is a shared bag rotating through a chain.
type Bag struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Color     string    `json:"color"`
	ChainID   string    `json:"chain_uid"`
	UserID    string    `json:"user_uid"`
	UpdatedAt time.Time `json:"updated_at"`
}
