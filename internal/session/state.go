package session

import (
	"slices"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
)

// AuthState is the tri-state authentication status of a session.
type AuthState int

const (
	// AuthUnknown means authentication has not completed yet.
	AuthUnknown AuthState = iota
	AuthAuthenticated
	AuthUnauthenticated
)

func (a AuthState) String() string {
	switch a {
	case AuthAuthenticated:
		return "authenticated"
	case AuthUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name so JSON output stays readable.
func (a AuthState) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// State is a consistent snapshot of the session.
type State struct {
	Auth        AuthState   `json:"auth"`
	User        *loop.User  `json:"user"`
	ActiveChain *loop.Chain `json:"active_chain"`
	Bags        []loop.Bag  `json:"bags"`
}

// Flags are the values derived from a State at a point in time.
type Flags struct {
	Paused   bool `json:"paused"`
	StaleBag bool `json:"stale_bag"`
	IsAdmin  bool `json:"is_admin"`
}

// Flags derives the pause, stale-bag and admin flags as of now. They depend
// on the wall clock, so callers recompute them instead of caching.
func (s State) Flags(now time.Time) Flags {
	var f Flags
	if s.Auth != AuthAuthenticated || s.User == nil {
		return f
	}
	f.Paused = loop.IsPaused(s.User.PausedUntil, now)
	f.StaleBag = loop.HasStaleBag(s.Bags, now, loop.DefaultStaleBagDays)
	if s.ActiveChain != nil {
		f.IsAdmin = loop.IsAdminOf(s.User, s.ActiveChain.ID)
	}
	return f
}

func (s State) clone() State {
	return State{
		Auth:        s.Auth,
		User:        s.User.Clone(),
		ActiveChain: s.ActiveChain.Clone(),
		Bags:        slices.Clone(s.Bags),
	}
}

func loggedOut() State {
	return State{Auth: AuthUnauthenticated, Bags: []loop.Bag{}}
}
