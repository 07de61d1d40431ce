package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alecgard/loopkit/internal/loop"
)

type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// ContextWithSession returns a new context carrying the member and the token
// they authenticated with.
func ContextWithSession(ctx context.Context, user *loop.User, token string) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, tokenContextKey, token)
}

// UserFromContext extracts the member from the context, or nil if not present.
func UserFromContext(ctx context.Context) *loop.User {
	user, _ := ctx.Value(userContextKey).(*loop.User)
	return user
}

// TokenFromContext extracts the session token from the context.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// Outcome is called with the result of each authentication attempt.
type Outcome func(ok bool)

// SessionMiddleware validates the bearer session token and injects the member
// into the request context.
func SessionMiddleware(sessions SessionLookup, outcome ...Outcome) func(http.Handler) http.Handler {
	report := func(ok bool) {
		for _, fn := range outcome {
			fn(ok)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				report(false)
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			user, err := sessions.LookupSession(r.Context(), token)
			if err != nil || user == nil {
				report(false)
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			report(true)
			ctx := ContextWithSession(r.Context(), user, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SelfOnly rejects requests whose {uid} path value is not the authenticated
// member. It must run after SessionMiddleware.
func SelfOnly(param func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				writeUnauthorized(w, "not authenticated")
				return
			}
			if param(r) != user.ID {
				writeForbidden(w, "members can only change their own account")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}

func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "forbidden",
			Message: message,
		},
	})
}
