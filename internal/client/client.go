// Package client talks to the loop API over HTTP. It implements the backend
// and bag source the session store consumes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alecgard/loopkit/internal/loop"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read (1 MB).
const maxResponseSize = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is an HTTP client for the loop API. The bearer token is set by
// FetchCurrentUser or Login and cleared by LogoutRemote.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter

	mu    sync.RWMutex
	token string
}

// New creates a Client. A zero RequestsPerSecond disables throttling.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		limiter: limiter,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the response of a successful login.
type LoginResult struct {
	Token string     `json:"token"`
	User  *loop.User `json:"user"`
}

// Login exchanges email and password for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/api/v2/auth/login", "", loginRequest{Email: email, Password: password}, &res)
	if err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, fmt.Errorf("login response without token: %w", loop.ErrAuth)
	}
	c.setToken(res.Token)
	return &res, nil
}

// FetchCurrentUser returns the user token belongs to and adopts token for
// subsequent calls.
func (c *Client) FetchCurrentUser(ctx context.Context, token string) (*loop.User, error) {
	var u loop.User
	if err := c.do(ctx, http.MethodGet, "/api/v2/user/me", token, nil, &u); err != nil {
		return nil, err
	}
	c.setToken(token)
	return &u, nil
}

// FetchChain returns a chain by ID.
func (c *Client) FetchChain(ctx context.Context, chainID string) (*loop.Chain, error) {
	var ch loop.Chain
	if err := c.do(ctx, http.MethodGet, "/api/v2/chain/"+url.PathEscape(chainID), c.currentToken(), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

type pauseRequest struct {
	PausedUntil *time.Time `json:"paused_until"`
}

// UpdateUserPause sets or clears (nil) the user's pause window.
func (c *Client) UpdateUserPause(ctx context.Context, userID string, pausedUntil *time.Time) error {
	path := "/api/v2/user/" + url.PathEscape(userID) + "/pause"
	return c.do(ctx, http.MethodPatch, path, c.currentToken(), pauseRequest{PausedUntil: pausedUntil}, nil)
}

type chainSelectionRequest struct {
	ChainID *string `json:"chain_uid"`
}

// UpdateUserChainSelection stores the user's selected chain; "" clears it.
func (c *Client) UpdateUserChainSelection(ctx context.Context, userID, chainID string) error {
	var body chainSelectionRequest
	if chainID != "" {
		body.ChainID = &chainID
	}
	path := "/api/v2/user/" + url.PathEscape(userID) + "/chain"
	return c.do(ctx, http.MethodPut, path, c.currentToken(), body, nil)
}

// LogoutRemote revokes token on the server. The local token is forgotten
// whether or not the call succeeds.
func (c *Client) LogoutRemote(ctx context.Context, token string) error {
	c.setToken("")
	return c.do(ctx, http.MethodPost, "/api/v2/auth/logout", token, nil, nil)
}

// FetchBagsForUser lists the bags userID currently holds.
func (c *Client) FetchBagsForUser(ctx context.Context, userID string) ([]loop.Bag, error) {
	var bags []loop.Bag
	path := "/api/v2/bags?user_uid=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, c.currentToken(), nil, &bags); err != nil {
		return nil, err
	}
	if bags == nil {
		bags = []loop.Bag{}
	}
	return bags, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
// Non-2xx responses become *APIError values wrapping a loop error kind.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w: %w", loop.ErrNetwork, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, loop.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w: %w", loop.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the loop API.
type APIError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("loop api: %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("loop api: %d: %s", e.Status, msg)
}

// Unwrap exposes the error kind for errors.Is.
func (e *APIError) Unwrap() error { return e.kind }

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, kind: kindForStatus(status)}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	return e
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return loop.ErrAuth
	case http.StatusNotFound:
		return loop.ErrNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return loop.ErrValidation
	default:
		return loop.ErrNetwork
	}
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
