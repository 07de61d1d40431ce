package session

import (
	"context"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
)

// CredentialStorage persists the session token between runs. Load returns an
// empty token when none is stored.
type CredentialStorage interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Backend is the loop API as seen by the session store. An empty chainID in
// UpdateUserChainSelection clears the selection; a nil pausedUntil unpauses.
type Backend interface {
	FetchCurrentUser(ctx context.Context, token string) (*loop.User, error)
	FetchChain(ctx context.Context, chainID string) (*loop.Chain, error)
	UpdateUserPause(ctx context.Context, userID string, pausedUntil *time.Time) error
	UpdateUserChainSelection(ctx context.Context, userID, chainID string) error
	LogoutRemote(ctx context.Context, token string) error
}

// BagSource lists the bags currently held by a user.
type BagSource interface {
	FetchBagsForUser(ctx context.Context, userID string) ([]loop.Bag, error)
}

// ChainPreferences is the device-local half of the chain selection. An empty
// chainID means no selection.
type ChainPreferences interface {
	LoadChainID(ctx context.Context, userID string) (string, error)
	SaveChainID(ctx context.Context, userID, chainID string) error
}

// Recorder receives state-transition and failure events, e.g. for metrics.
type Recorder interface {
	AuthTransition(from, to string)
	OperationFailed(op, kind string)
}
