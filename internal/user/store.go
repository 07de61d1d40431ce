package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const defaultSessionTTL = 30 * 24 * time.Hour

const accountColumns = `id, email, password_hash, name, phone_number, address, paused_until, chains, COALESCE(selected_chain_id::text, ''), created_at`

// Store provides database operations for members and sessions.
type Store struct {
	pool       *pgxpool.Pool
	sessionTTL time.Duration
}

// NewStore creates a new member store backed by the given connection pool.
// Sessions it creates live for sessionTTL (30 days when zero).
func NewStore(pool *pgxpool.Pool, sessionTTL time.Duration) *Store {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Store{pool: pool, sessionTTL: sessionTTL}
}

// scanAccount scans an account row, handling the JSONB chains column.
func scanAccount(scan func(dest ...any) error) (*Account, error) {
	a := &Account{}
	var chainsJSON []byte
	err := scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.PhoneNumber, &a.Address,
		&a.PausedUntil, &chainsJSON, &a.SelectedChainID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Chains, err = unmarshalChains(chainsJSON)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func unmarshalChains(data []byte) ([]loop.ChainMembership, error) {
	chains := []loop.ChainMembership{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &chains); err != nil {
			return nil, fmt.Errorf("unmarshaling chains: %w", err)
		}
	}
	if chains == nil {
		chains = []loop.ChainMembership{}
	}
	return chains, nil
}

// marshalChains converts memberships to JSON for storage, keeping only the
// first membership per chain.
func marshalChains(chains []loop.ChainMembership) ([]byte, error) {
	seen := make(map[string]bool, len(chains))
	out := make([]loop.ChainMembership, 0, len(chains))
	for _, c := range chains {
		if seen[c.ChainID] {
			continue
		}
		seen[c.ChainID] = true
		out = append(out, c)
	}
	return json.Marshal(out)
}

// notFound maps pgx.ErrNoRows to loop.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, loop.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Create inserts a new member with a bcrypt-hashed password.
func (s *Store) Create(ctx context.Context, in CreateUserInput) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	chainsJSON, err := marshalChains(in.Chains)
	if err != nil {
		return nil, fmt.Errorf("marshaling chains: %w", err)
	}

	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, name, phone_number, address, chains)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+accountColumns,
			in.Email, string(hash), in.Name, in.PhoneNumber, in.Address, chainsJSON,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return a, nil
}

// GetByID retrieves a member by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM users WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, notFound(err, "getting user by id")
	}
	return a, nil
}

// GetByEmail retrieves a member by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM users WHERE lower(email) = lower($1)`, email,
		).Scan(dest...)
	})
	if err != nil {
		return nil, notFound(err, "getting user by email")
	}
	return a, nil
}

// SetPausedUntil sets the member's pause window; nil unpauses.
func (s *Store) SetPausedUntil(ctx context.Context, id string, pausedUntil *time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET paused_until = $1 WHERE id = $2`, pausedUntil, id)
	if err != nil {
		return fmt.Errorf("setting paused_until: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting paused_until: %w", loop.ErrNotFound)
	}
	return nil
}

// SetSelectedChain stores the member's selected chain; "" clears it.
func (s *Store) SetSelectedChain(ctx context.Context, id, chainID string) error {
	var arg any
	if chainID != "" {
		arg = chainID
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET selected_chain_id = $1 WHERE id = $2`, arg, id)
	if err != nil {
		return fmt.Errorf("setting selected chain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting selected chain: %w", loop.ErrNotFound)
	}
	return nil
}

// CheckPassword verifies a plaintext password against the member's stored hash.
func CheckPassword(a *Account, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// CreateSession creates a new session for the given member. It returns the
// opaque plaintext token (to be sent to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, *Session, error) {
	tok, plaintext, err := auth.GenerateSessionToken()
	if err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(s.sessionTTL)

	sess := &Session{}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, user_id, created_at, expires_at`,
		tok.Hash, userID, now, expiresAt,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// SessionByHash returns the live session with the given token hash.
func (s *Store) SessionByHash(ctx context.Context, tokenHash string) (*Session, error) {
	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, user_id, created_at, expires_at
		 FROM sessions WHERE token_hash = $1 AND expires_at > now()`,
		tokenHash,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, notFound(err, "getting session")
	}
	return sess, nil
}

// DeleteSession removes a session by its token hash.
func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
