package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/loopkit/internal/client"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/alecgard/loopkit/internal/session"
)

type memCredentials struct {
	mu    sync.Mutex
	token string
}

func (m *memCredentials) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memCredentials) Save(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memCredentials) Clear(ctx context.Context) error {
	return m.Save(ctx, "")
}

type memPrefs struct {
	mu     sync.Mutex
	chains map[string]string
}

func (m *memPrefs) LoadChainID(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chains[userID], nil
}

func (m *memPrefs) SaveChainID(ctx context.Context, userID, chainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[userID] = chainID
	return nil
}

// TestSessionFlow drives a session store against the real router over HTTP.
func TestSessionFlow(t *testing.T) {
	s := newTestServer(t, 10)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx := context.Background()
	now := time.Now()
	creds := &memCredentials{}
	prefs := &memPrefs{chains: map[string]string{}}

	newStore := func() (*session.Store, *client.Client) {
		api := client.New(client.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
		st := session.NewStore(session.Options{
			Credentials: creds,
			Backend:     api,
			Bags:        api,
			Preferences: prefs,
			Recorder:    s.metrics,
			Now:         func() time.Time { return now },
		})
		st.Init(ctx)
		return st, api
	}

	store, api := newStore()

	if err := store.Authenticate(ctx); !errors.Is(err, loop.ErrAuth) {
		t.Fatalf("expected ErrAuth without credentials, got %v", err)
	}

	res, err := api.Login(ctx, "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := store.SetCredentials(ctx, res.Token); err != nil {
		t.Fatal(err)
	}
	if err := store.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := store.Snapshot(); got.Auth != session.AuthAuthenticated || got.User.ID != "u1" {
		t.Fatalf("unexpected state after login: %+v", got)
	}

	chains, err := store.ListChains(ctx)
	if err == nil {
		t.Fatalf("expected ListChains to fail for the deleted chain, got %v", chains)
	}

	c1, err := api.FetchChain(ctx, "c1")
	if err != nil {
		t.Fatalf("FetchChain: %v", err)
	}
	if err := store.SetChain(ctx, c1, "u1"); err != nil {
		t.Fatalf("SetChain: %v", err)
	}
	if got := s.members.account("u1").SelectedChainID; got != "c1" {
		t.Errorf("server selection: expected c1, got %q", got)
	}
	if got, _ := prefs.LoadChainID(ctx, "u1"); got != "c1" {
		t.Errorf("local selection: expected c1, got %q", got)
	}
	if !store.Flags().IsAdmin {
		t.Error("u1 hosts c1 and should be admin")
	}

	err = store.SetChain(ctx, &loop.Chain{ID: "c2"}, "u1")
	if !errors.Is(err, loop.ErrValidation) {
		t.Errorf("expected ErrValidation for unapproved chain, got %v", err)
	}

	if err := store.SetPause(ctx, loop.Pause2Weeks); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	want := now.AddDate(0, 0, 14)
	if got := s.members.account("u1").PausedUntil; got == nil || !got.Equal(want) {
		t.Errorf("server pause: expected %v, got %v", want, got)
	}
	if !store.Flags().Paused {
		t.Error("expected paused flag")
	}

	if err := store.RefreshBags(ctx); err != nil {
		t.Fatalf("RefreshBags: %v", err)
	}
	if bags := store.Snapshot().Bags; len(bags) != 1 || bags[0].ID != "b1" {
		t.Errorf("unexpected bags %+v", bags)
	}

	// A new process restores the session and the chain from local storage.
	restored, _ := newStore()
	if err := restored.Authenticate(ctx); err != nil {
		t.Fatalf("restored Authenticate: %v", err)
	}
	if st := restored.Snapshot(); st.ActiveChain == nil || st.ActiveChain.ID != "c1" {
		t.Errorf("expected restored chain c1, got %+v", st.ActiveChain)
	}

	restored.Logout(ctx)
	if tok, _ := creds.Load(ctx); tok != "" {
		t.Error("logout should clear stored credentials")
	}
	if s.members.hasToken(res.Token) {
		t.Error("logout should revoke the server session")
	}

	// The first store still holds the revoked token.
	if err := store.RefreshBags(ctx); !errors.Is(err, loop.ErrAuth) {
		t.Errorf("expected ErrAuth with a revoked token, got %v", err)
	}

	summary, err := s.metrics.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Session.Transitions == 0 || summary.Session.Failures == 0 {
		t.Errorf("expected recorded session activity, got %+v", summary.Session)
	}
}
