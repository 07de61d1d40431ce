package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/alecgard/loopkit/internal/loop"
)

// tokenPrefix marks loopkit session tokens so leaked ones are easy to grep.
const tokenPrefix = "lk_"

// SessionToken holds the hash stored server side for an issued token.
type SessionToken struct {
	Hash string
}

// SessionLookup resolves a plaintext session token to its member.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*loop.User, error)
}

// GenerateSessionToken creates a new opaque session token: "lk_" followed by
// 43 URL-safe random characters. It returns the hash to store and the
// plaintext to hand to the client.
func GenerateSessionToken() (SessionToken, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return SessionToken{}, "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(b)
	return SessionToken{Hash: HashToken(plaintext)}, plaintext, nil
}

// HashToken returns the hex-encoded SHA-256 hash of the given plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
