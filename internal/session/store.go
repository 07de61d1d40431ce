package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options configures a Store. Credentials, Backend and Bags are required.
type Options struct {
	Credentials CredentialStorage
	Backend     Backend
	Bags        BagSource
	Preferences ChainPreferences // optional
	Recorder    Recorder         // optional
	Logger      *slog.Logger
	Now         func() time.Time
}

type subscriber struct {
	id int
	fn func(State)
}

// Store owns the session state of the signed-in member. All mutation goes
// through its operations; readers take snapshots or subscribe.
//
// Collaborator calls never run under the state lock. Each operation applies
// its result in one critical section and then notifies subscribers with a
// full snapshot.
type Store struct {
	creds    CredentialStorage
	backend  Backend
	bags     BagSource
	prefs    ChainPreferences
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state State
	token string

	// generation changes on logout; results of operations started in an
	// earlier generation are discarded.
	generation uint64

	// Issued and applied sequence numbers for last-write-wins operations.
	chainSeq, chainApplied uint64
	pauseSeq, pauseApplied uint64
	bagsSeq, bagsApplied   uint64

	subs    []subscriber
	nextSub int
	emitMu  sync.Mutex // serializes notifications; taken before mu

	prefsMu sync.Mutex // orders chain preference writes

	auth singleflight.Group
}

// NewStore creates a Store in the AuthUnknown state.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		creds:    opts.Credentials,
		backend:  opts.Backend,
		bags:     opts.Bags,
		prefs:    opts.Preferences,
		recorder: opts.Recorder,
		logger:   logger,
		now:      now,
		state:    State{Auth: AuthUnknown, Bags: []loop.Bag{}},
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Flags derives the current flags from a fresh snapshot and the store clock.
func (s *Store) Flags() Flags {
	return s.Snapshot().Flags(s.now())
}

// Subscribe registers fn to receive a snapshot after every state change and
// returns a function that removes it. Subscribers run synchronously, in
// change order. They may read the store with Snapshot or Flags but must not
// call operations that change it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

// commit applies fn under the state lock. fn returns false to leave state
// untouched. On change, subscribers are notified once with the new snapshot.
//
// emitMu is always taken before mu, and mu is released before any subscriber
// runs, so subscribers can read the store while notifications are in flight.
func (s *Store) commit(fn func(st *State) bool) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	from := s.state.Auth
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	to := s.state.Auth
	snap := s.state.clone()
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	if from != to && s.recorder != nil {
		s.recorder.AuthTransition(from.String(), to.String())
	}
	for _, sub := range subs {
		sub.fn(snap.clone())
	}
	return true
}

func (s *Store) failed(op string, err error) {
	if s.recorder == nil || err == nil {
		return
	}
	kind := "unknown"
	if k := loop.Kind(err); k != nil {
		switch k {
		case loop.ErrAuth:
			kind = "auth"
		case loop.ErrValidation:
			kind = "validation"
		case loop.ErrNotFound:
			kind = "not_found"
		case loop.ErrNetwork:
			kind = "network"
		}
	}
	s.recorder.OperationFailed(op, kind)
}

// Init loads any persisted token. Storage failures are logged and the store
// proceeds as if no token were stored.
func (s *Store) Init(ctx context.Context) {
	token, err := s.creds.Load(ctx)
	if err != nil {
		s.logger.Warn("loading stored credentials", "error", err)
		token = ""
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// SetCredentials persists a freshly issued token and makes it the one the
// next Authenticate uses.
func (s *Store) SetCredentials(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("empty session token: %w", loop.ErrValidation)
	}
	if err := s.creds.Save(ctx, token); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Authenticate resolves the loaded token into the current user. On failure
// the session becomes unauthenticated and the error is returned to the
// caller. Concurrent calls share a single fetch, which is detached from any
// one caller's cancellation: a caller whose ctx ends stops waiting, and the
// shared result still applies for the others.
func (s *Store) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	key := strconv.FormatUint(s.generation, 10)
	s.mu.Unlock()

	ch := s.auth.DoChan(key, func() (any, error) {
		return nil, s.authenticate(context.WithoutCancel(ctx))
	})
	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		err = fmt.Errorf("authenticate: %w", ctx.Err())
	}
	if err != nil {
		s.failed("authenticate", err)
	}
	return err
}

func (s *Store) authenticate(ctx context.Context) error {
	s.mu.Lock()
	token, gen := s.token, s.generation
	s.mu.Unlock()

	if token == "" {
		s.unauthenticate(gen)
		return fmt.Errorf("no stored credentials: %w", loop.ErrAuth)
	}

	user, err := s.backend.FetchCurrentUser(ctx, token)
	if err == nil && user == nil {
		err = fmt.Errorf("empty user record: %w", loop.ErrAuth)
	}
	if err != nil {
		s.unauthenticate(gen)
		return err
	}

	restored := s.restoreChain(ctx, user)

	applied := s.commit(func(st *State) bool {
		if s.generation != gen {
			return false
		}
		sameUser := st.User != nil && st.User.ID == user.ID
		if !sameUser {
			st.Bags = []loop.Bag{}
		}
		switch {
		case restored != nil:
			st.ActiveChain = restored
		case sameUser && st.ActiveChain != nil && loop.IsApprovedMember(user, st.ActiveChain.ID):
			// keep the current selection
		default:
			st.ActiveChain = nil
		}
		st.Auth = AuthAuthenticated
		st.User = user.Clone()
		return true
	})
	if !applied {
		return fmt.Errorf("session ended during authentication: %w", loop.ErrAuth)
	}
	s.logger.Debug("authenticated", "user_id", user.ID)
	return nil
}

// unauthenticate resets the session after a failed authentication, unless a
// logout already moved it to a newer generation.
func (s *Store) unauthenticate(gen uint64) {
	s.commit(func(st *State) bool {
		if s.generation != gen {
			return false
		}
		*st = loggedOut()
		return true
	})
}

// restoreChain looks up the locally persisted chain selection for user. It is
// best effort: any failure leaves the selection empty.
func (s *Store) restoreChain(ctx context.Context, user *loop.User) *loop.Chain {
	if s.prefs == nil {
		return nil
	}
	chainID, err := s.prefs.LoadChainID(ctx, user.ID)
	if err != nil {
		s.logger.Warn("loading chain preference", "user_id", user.ID, "error", err)
		return nil
	}
	if chainID == "" || !loop.IsApprovedMember(user, chainID) {
		return nil
	}
	chain, err := s.backend.FetchChain(ctx, chainID)
	if err != nil {
		s.logger.Warn("restoring selected chain", "chain_id", chainID, "error", err)
		return nil
	}
	return chain.Clone()
}

// current returns the authenticated user and generation, or an ErrAuth error.
// Must be called with s.mu held.
func (s *Store) current(op string) (*loop.User, uint64, error) {
	if s.state.Auth != AuthAuthenticated || s.state.User == nil {
		return nil, 0, fmt.Errorf("%s: %w", op, loop.ErrAuth)
	}
	return s.state.User, s.generation, nil
}

// SetChain selects chain as the active chain of userID, or clears the
// selection when chain is nil. The chain must be one of the user's approved
// memberships; the selection is persisted remotely before state changes.
func (s *Store) SetChain(ctx context.Context, chain *loop.Chain, userID string) error {
	err := s.setChain(ctx, chain, userID)
	if err != nil {
		s.failed("set_chain", err)
	}
	return err
}

func (s *Store) setChain(ctx context.Context, chain *loop.Chain, userID string) error {
	s.mu.Lock()
	user, gen, err := s.current("set chain")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if userID != user.ID {
		s.mu.Unlock()
		return fmt.Errorf("set chain for user %q: %w", userID, loop.ErrValidation)
	}
	if chain != nil && !loop.IsApprovedMember(user, chain.ID) {
		s.mu.Unlock()
		return fmt.Errorf("chain %q is not an approved membership: %w", chain.ID, loop.ErrValidation)
	}
	s.chainSeq++
	seq := s.chainSeq
	s.mu.Unlock()

	chainID := ""
	if chain != nil {
		chainID = chain.ID
	}
	if err := s.backend.UpdateUserChainSelection(ctx, userID, chainID); err != nil {
		return err
	}

	applied := s.commit(func(st *State) bool {
		if s.generation != gen || st.User == nil || st.User.ID != userID || seq < s.chainApplied {
			return false
		}
		s.chainApplied = seq
		st.ActiveChain = chain.Clone()
		return true
	})
	if applied && s.prefs != nil {
		s.saveChainPreference(ctx, gen, seq, userID, chainID)
	}
	return nil
}

// saveChainPreference persists the local half of a selection unless a later
// SetChain was applied in the meantime. prefsMu keeps the writes in apply
// order, so the stored chain always matches ActiveChain.
func (s *Store) saveChainPreference(ctx context.Context, gen, seq uint64, userID, chainID string) {
	s.prefsMu.Lock()
	defer s.prefsMu.Unlock()

	s.mu.Lock()
	latest := s.generation == gen && s.chainApplied == seq
	s.mu.Unlock()
	if !latest {
		return
	}
	if err := s.prefs.SaveChainID(ctx, userID, chainID); err != nil {
		s.logger.Warn("saving chain preference", "user_id", userID, "chain_id", chainID, "error", err)
	}
}

// SetPause pauses participation for the duration mode selects, or unpauses
// for loop.PauseNone. Local state changes only after the backend accepts.
func (s *Store) SetPause(ctx context.Context, mode loop.PauseMode) error {
	err := s.setPause(ctx, mode)
	if err != nil {
		s.failed("set_pause", err)
	}
	return err
}

func (s *Store) setPause(ctx context.Context, mode loop.PauseMode) error {
	until, err := mode.Until(s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	user, gen, err := s.current("set pause")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	userID := user.ID
	s.pauseSeq++
	seq := s.pauseSeq
	s.mu.Unlock()

	if err := s.backend.UpdateUserPause(ctx, userID, until); err != nil {
		return err
	}

	s.commit(func(st *State) bool {
		if s.generation != gen || st.User == nil || st.User.ID != userID || seq < s.pauseApplied {
			return false
		}
		s.pauseApplied = seq
		u := st.User.Clone()
		u.PausedUntil = until
		st.User = u
		return true
	})
	return nil
}

// RefreshBags replaces the bag list with the bags the user currently holds.
func (s *Store) RefreshBags(ctx context.Context) error {
	s.mu.Lock()
	user, gen, err := s.current("refresh bags")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	userID := user.ID
	s.bagsSeq++
	seq := s.bagsSeq
	s.mu.Unlock()

	bags, err := s.bags.FetchBagsForUser(ctx, userID)
	if err != nil {
		s.failed("refresh_bags", err)
		return err
	}

	s.commit(func(st *State) bool {
		if s.generation != gen || st.User == nil || st.User.ID != userID || seq < s.bagsApplied {
			return false
		}
		s.bagsApplied = seq
		st.Bags = slices.Clone(bags)
		if st.Bags == nil {
			st.Bags = []loop.Bag{}
		}
		return true
	})
	return nil
}

// ListChains fetches the details of every approved membership, in membership
// order.
func (s *Store) ListChains(ctx context.Context) ([]loop.Chain, error) {
	s.mu.Lock()
	user, _, err := s.current("list chains")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ids := slices.Collect(loop.ApprovedChainIDs(user))
	s.mu.Unlock()

	chains := make([]loop.Chain, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			c, err := s.backend.FetchChain(gctx, id)
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("chain %q: %w", id, loop.ErrNotFound)
			}
			chains[i] = *c.Clone()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.failed("list_chains", err)
		return nil, err
	}
	return chains, nil
}

// Logout ends the session. Local state and stored credentials are reset
// unconditionally; remote failures are logged, not returned.
func (s *Store) Logout(ctx context.Context) {
	var token string
	s.commit(func(st *State) bool {
		token = s.token
		s.token = ""
		s.generation++
		*st = loggedOut()
		return true
	})

	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Warn("clearing stored credentials", "error", err)
	}
	if token == "" {
		return
	}
	if err := s.backend.LogoutRemote(ctx, token); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, loop.ErrAuth) {
			level = slog.LevelInfo
		}
		s.logger.Log(ctx, level, "remote logout failed", "error", err)
	}
}
