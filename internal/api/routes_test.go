package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
	"github.com/alecgard/loopkit/internal/metrics"
	"github.com/alecgard/loopkit/internal/ratelimit"
	"github.com/alecgard/loopkit/internal/user"
	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeMembers struct {
	mu       sync.Mutex
	accounts map[string]*user.Account
	tokens   map[string]string // token -> user id
	getErr   error
}

func (f *fakeMembers) GetByID(ctx context.Context, id string) (*user.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("getting user by id: %w", loop.ErrNotFound)
	}
	return a, nil
}

func (f *fakeMembers) GetByEmail(ctx context.Context, email string) (*user.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, a := range f.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("getting user by email: %w", loop.ErrNotFound)
}

func (f *fakeMembers) CreateSession(ctx context.Context, userID string) (string, *user.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := fmt.Sprintf("lk_session_%d", len(f.tokens)+1)
	f.tokens[tok] = userID
	return tok, &user.Session{UserID: userID}, nil
}

func (f *fakeMembers) SetPausedUntil(ctx context.Context, id string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return fmt.Errorf("setting paused_until: %w", loop.ErrNotFound)
	}
	a.PausedUntil = until
	return nil
}

func (f *fakeMembers) SetSelectedChain(ctx context.Context, id, chainID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return fmt.Errorf("setting selected chain: %w", loop.ErrNotFound)
	}
	a.SelectedChainID = chainID
	return nil
}

// LookupSession and Revoke make fakeMembers usable as Sessions too.
func (f *fakeMembers) LookupSession(ctx context.Context, token string) (*loop.User, error) {
	f.mu.Lock()
	id, ok := f.tokens[token]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("getting session: %w", loop.ErrNotFound)
	}
	a, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.User.Clone(), nil
}

// account returns a copy of the stored account for assertions.
func (f *fakeMembers) account(id string) user.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[id]
}

func (f *fakeMembers) hasToken(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tokens[token]
	return ok
}

func (f *fakeMembers) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

type fakeChains map[string]*loop.Chain

func (f fakeChains) Get(ctx context.Context, id string) (*loop.Chain, error) {
	c, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("getting chain: %w", loop.ErrNotFound)
	}
	return c, nil
}

type fakeBags map[string][]loop.Bag

func (f fakeBags) ListByUser(ctx context.Context, userID string) ([]loop.Bag, error) {
	if b, ok := f[userID]; ok {
		return b, nil
	}
	return []loop.Bag{}, nil
}

func (f fakeBags) ListByChain(ctx context.Context, chainID string) ([]loop.Bag, error) {
	out := []loop.Bag{}
	for _, bags := range f {
		for _, b := range bags {
			if b.ChainID == chainID {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type testServer struct {
	handler http.Handler
	members *fakeMembers
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, loginLimit int, allowedOrigins ...string) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	members := &fakeMembers{
		accounts: map[string]*user.Account{
			"u1": {
				User: loop.User{ID: "u1", Name: "Ada", Email: "ada@example.com", Chains: []loop.ChainMembership{
					{ChainID: "c1", IsApproved: true, IsChainAdmin: true},
					{ChainID: "c2", IsApproved: false},
					{ChainID: "gone", IsApproved: true},
				}},
				PasswordHash: string(hash),
			},
			"u2": {User: loop.User{ID: "u2", Name: "Bo", Email: "bo@example.com"}, PasswordHash: string(hash)},
		},
		tokens: map[string]string{"tok-u1": "u1", "tok-u2": "u2"},
	}
	m := metrics.New()
	h := NewRouter(RouterDeps{
		Members:  members,
		Sessions: members,
		Chains: fakeChains{
			"c1": {ID: "c1", Name: "Utrecht", Sizes: []string{"1"}},
			"c2": {ID: "c2", Name: "Delft", Sizes: []string{}},
		},
		Bags: fakeBags{
			"u1": {{ID: "b1", Number: "7", ChainID: "c1", UserID: "u1"}},
		},
		LoginLimiter:   ratelimit.New(loginLimit, time.Minute),
		Metrics:        m,
		AllowedOrigins: allowedOrigins,
	})
	return &testServer{handler: h, members: members, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.1:4321"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env.Error.Code
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthCheck_OK(t *testing.T) {
	handler := NewRouter(RouterDeps{DB: fakePinger{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" || body["database"] != "connected" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	handler := NewRouter(RouterDeps{DB: fakePinger{err: errors.New("connection refused")}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/v2/auth/login", "", `{"email":"ADA@example.com","password":"hunter22"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Token string    `json:"token"`
		User  loop.User `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" || resp.User.ID != "u1" {
		t.Errorf("unexpected login response %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("login response must not include the password hash")
	}

	if me := s.do(t, http.MethodGet, "/api/v2/user/me", resp.Token, ""); me.Code != http.StatusOK {
		t.Errorf("new token should authenticate, got %d", me.Code)
	}
}

func TestLogin_Failures(t *testing.T) {
	s := newTestServer(t, 10)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing fields", `{"email":"ada@example.com"}`, http.StatusUnprocessableEntity},
		{"unknown email", `{"email":"nobody@example.com","password":"hunter22"}`, http.StatusUnauthorized},
		{"wrong password", `{"email":"ada@example.com","password":"nope"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v2/auth/login", "", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/v2/auth/login", "", `{"email":"ada@example.com","password":"nope"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := s.do(t, http.MethodPost, "/api/v2/auth/login", "", `{"email":"ada@example.com","password":"hunter22"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "rate_limited" {
		t.Errorf("expected rate_limited, got %q", code)
	}

	summary, err := s.metrics.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.RateLimit.Rejections != 1 {
		t.Errorf("expected 1 recorded rejection, got %v", summary.RateLimit.Rejections)
	}
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/v2/auth/logout", "tok-u1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v2/user/me", "tok-u1", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked token should be rejected, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t, 10)

	for _, path := range []string{"/api/v2/user/me", "/api/v2/chain/c1", "/api/v2/bags"} {
		if rec := s.do(t, http.MethodGet, path, "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: expected 401, got %d", path, rec.Code)
		}
		if rec := s.do(t, http.MethodGet, path, "bogus", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with bogus token: expected 401, got %d", path, rec.Code)
		}
	}

	summary, err := s.metrics.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Auth.Failures != 6 {
		t.Errorf("expected 6 auth failures, got %v", summary.Auth.Failures)
	}
}

// ---------------------------------------------------------------------------
// Member
// ---------------------------------------------------------------------------

func TestMe(t *testing.T) {
	s := newTestServer(t, 10)
	s.members.accounts["u1"].SelectedChainID = "c1"

	rec := s.do(t, http.MethodGet, "/api/v2/user/me", "tok-u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["uid"] != "u1" || body["selected_chain_uid"] != "c1" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["chains"].([]any); !ok {
		t.Errorf("expected chains array, got %v", body["chains"])
	}
}

func TestSetPause(t *testing.T) {
	s := newTestServer(t, 10)
	until := time.Now().Add(7 * 24 * time.Hour).UTC().Truncate(time.Second)

	rec := s.do(t, http.MethodPatch, "/api/v2/user/u1/pause", "tok-u1",
		fmt.Sprintf(`{"paused_until":%q}`, until.Format(time.RFC3339)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	got := s.members.accounts["u1"].PausedUntil
	if got == nil || !got.Equal(until) {
		t.Errorf("expected paused until %v, got %v", until, got)
	}

	rec = s.do(t, http.MethodPatch, "/api/v2/user/u1/pause", "tok-u1", `{"paused_until":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if s.members.accounts["u1"].PausedUntil != nil {
		t.Error("null paused_until should unpause")
	}
}

func TestSetPause_PastTimeUnpauses(t *testing.T) {
	s := newTestServer(t, 10)
	past := time.Now().Add(-time.Hour)
	s.members.accounts["u1"].PausedUntil = &past

	rec := s.do(t, http.MethodPatch, "/api/v2/user/u1/pause", "tok-u1",
		fmt.Sprintf(`{"paused_until":%q}`, past.UTC().Format(time.RFC3339)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if s.members.accounts["u1"].PausedUntil != nil {
		t.Error("a window in the past should be stored as unpaused")
	}
}

func TestSelfOnlyRoutes(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPatch, "/api/v2/user/u2/pause", "tok-u1", `{"paused_until":null}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("pause for another member: expected 403, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPut, "/api/v2/user/u2/chain", "tok-u1", `{"chain_uid":null}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("chain for another member: expected 403, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v2/bags?user_uid=u2", "tok-u1", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("bags of another member: expected 403, got %d", rec.Code)
	}
}

func TestSetChain(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantChain string
	}{
		{"approved chain", `{"chain_uid":"c1"}`, http.StatusOK, "c1"},
		{"unapproved chain", `{"chain_uid":"c2"}`, http.StatusUnprocessableEntity, "prev"},
		{"not a member", `{"chain_uid":"c9"}`, http.StatusUnprocessableEntity, "prev"},
		{"approved but deleted chain", `{"chain_uid":"gone"}`, http.StatusNotFound, "prev"},
		{"clear", `{"chain_uid":null}`, http.StatusOK, ""},
		{"bad body", `[`, http.StatusBadRequest, "prev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, 10)
			s.members.accounts["u1"].SelectedChainID = "prev"

			rec := s.do(t, http.MethodPut, "/api/v2/user/u1/chain", "tok-u1", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body)
			}
			if got := s.members.accounts["u1"].SelectedChainID; got != tt.wantChain {
				t.Errorf("selected chain: expected %q, got %q", tt.wantChain, got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Chains and bags
// ---------------------------------------------------------------------------

func TestGetChain(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/api/v2/chain/c1", "tok-u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var c loop.Chain
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatal(err)
	}
	if c.ID != "c1" || c.Name != "Utrecht" {
		t.Errorf("unexpected chain %+v", c)
	}

	rec = s.do(t, http.MethodGet, "/api/v2/chain/missing", "tok-u1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "not_found" {
		t.Errorf("expected not_found, got %q", code)
	}
}

func TestListBags(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/api/v2/bags?user_uid=u1", "tok-u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bags []loop.Bag
	if err := json.NewDecoder(rec.Body).Decode(&bags); err != nil {
		t.Fatal(err)
	}
	if len(bags) != 1 || bags[0].ID != "b1" {
		t.Errorf("unexpected bags %+v", bags)
	}

	rec = s.do(t, http.MethodGet, "/api/v2/bags", "tok-u2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("member without bags should get [], got %s", body)
	}
}

func TestListChainBags(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		wantBags int
	}{
		{"approved member", "/api/v2/chain/c1/bags", "tok-u1", http.StatusOK, 1},
		{"pending membership", "/api/v2/chain/c2/bags", "tok-u1", http.StatusForbidden, 0},
		{"not a member", "/api/v2/chain/c1/bags", "tok-u2", http.StatusForbidden, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, 10)
			rec := s.do(t, http.MethodGet, tt.path, tt.token, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var bags []loop.Bag
			if err := json.NewDecoder(rec.Body).Decode(&bags); err != nil {
				t.Fatal(err)
			}
			if len(bags) != tt.wantBags {
				t.Errorf("expected %d bags, got %+v", tt.wantBags, bags)
			}
		})
	}
}

func TestStoreErrorIsInternal(t *testing.T) {
	s := newTestServer(t, 10)
	s.members.getErr = errors.New("connection reset")

	rec := s.do(t, http.MethodPost, "/api/v2/auth/login", "", `{"email":"ada@example.com","password":"hunter22"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Metrics endpoints
// ---------------------------------------------------------------------------

func TestMetricsEndpoints(t *testing.T) {
	s := newTestServer(t, 10)
	s.do(t, http.MethodGet, "/api/v2/chain/c1", "tok-u1", "")

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `loopkit_http_requests_total{method="GET",path_pattern="/api/v2/chain/{uid}",status_code="200"} 1`) {
		t.Errorf("expected chain request in exposition, got:\n%s", rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/api/v2/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /api/v2/metrics, got %d", rec.Code)
	}
	var summary metrics.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Auth.Successes != 1 {
		t.Errorf("expected 1 auth success, got %v", summary.Auth.Successes)
	}
}
