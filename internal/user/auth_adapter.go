package user

import (
	"context"
	"log/slog"
	"time"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/loop"
)

// sessionSource is the part of Store the adapter needs.
type sessionSource interface {
	SessionByHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	GetByID(ctx context.Context, id string) (*Account, error)
}

// AuthAdapter adapts Store to the auth.SessionLookup interface, consulting an
// optional cache first.
type AuthAdapter struct {
	store sessionSource
	cache SessionCache
	now   func() time.Time
}

// NewAuthAdapter creates a new AuthAdapter. cache may be nil.
func NewAuthAdapter(store sessionSource, cache SessionCache) *AuthAdapter {
	return &AuthAdapter{store: store, cache: cache, now: time.Now}
}

// LookupSession resolves a session token to the member it belongs to. The
// member record itself is always read fresh.
func (a *AuthAdapter) LookupSession(ctx context.Context, token string) (*loop.User, error) {
	hash := auth.HashToken(token)

	userID := ""
	if a.cache != nil {
		id, ok, err := a.cache.Get(ctx, hash)
		if err != nil {
			slog.Warn("session cache lookup failed", "error", err)
		} else if ok {
			userID = id
		}
	}

	if userID == "" {
		sess, err := a.store.SessionByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		userID = sess.UserID
		if a.cache != nil {
			if err := a.cache.Set(ctx, hash, userID, sess.ExpiresAt.Sub(a.now())); err != nil {
				slog.Warn("session cache store failed", "error", err)
			}
		}
	}

	acct, err := a.store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u := acct.User
	return &u, nil
}

// Revoke ends the session for token and evicts it from the cache.
func (a *AuthAdapter) Revoke(ctx context.Context, token string) error {
	hash := auth.HashToken(token)
	if a.cache != nil {
		if err := a.cache.Delete(ctx, hash); err != nil {
			slog.Warn("session cache delete failed", "error", err)
		}
	}
	return a.store.DeleteSession(ctx, hash)
}
