package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/alecgard/loopkit/internal/metrics"
	"github.com/alecgard/loopkit/internal/ratelimit"
	"github.com/alecgard/loopkit/internal/user"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MemberStore is the member persistence the handlers need.
type MemberStore interface {
	GetByID(ctx context.Context, id string) (*user.Account, error)
	GetByEmail(ctx context.Context, email string) (*user.Account, error)
	CreateSession(ctx context.Context, userID string) (string, *user.Session, error)
	SetPausedUntil(ctx context.Context, id string, pausedUntil *time.Time) error
	SetSelectedChain(ctx context.Context, id, chainID string) error
}

// Sessions resolves and revokes bearer session tokens.
type Sessions interface {
	auth.SessionLookup
	Revoke(ctx context.Context, token string) error
}

// ChainReader looks up chains by ID.
type ChainReader interface {
	Get(ctx context.Context, id string) (*loop.Chain, error)
}

// BagReader lists bags by holder or by chain.
type BagReader interface {
	ListByUser(ctx context.Context, userID string) ([]loop.Bag, error)
	ListByChain(ctx context.Context, chainID string) ([]loop.Bag, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Members        MemberStore
	Sessions       Sessions
	Chains         ChainReader
	Bags           BagReader
	LoginLimiter   *ratelimit.Limiter
	Metrics        *metrics.Metrics
	DB             Pinger
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/health", healthHandler(deps.DB))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/api/v2/metrics", deps.Metrics.Handler())
	}

	authH := newAuthHandler(deps.Members, deps.Sessions)
	members := newMemberHandler(deps.Members, deps.Chains)
	chains := newChainHandler(deps.Chains)
	bags := newBagHandler(deps.Bags)

	var outcome []auth.Outcome
	var onReject []func()
	if deps.Metrics != nil {
		outcome = append(outcome, deps.Metrics.AuthOutcome("session"))
		onReject = append(onReject, func() { deps.Metrics.IncRateLimitRejection("login") })
	}

	r.Route("/api/v2", func(ar chi.Router) {
		ar.Group(func(pub chi.Router) {
			if deps.LoginLimiter != nil {
				pub.Use(ratelimit.Middleware(deps.LoginLimiter, ratelimit.ByClientIP, onReject...))
			}
			pub.Post("/auth/login", authH.Login)
		})

		ar.Group(func(pr chi.Router) {
			pr.Use(auth.SessionMiddleware(deps.Sessions, outcome...))

			pr.Post("/auth/logout", authH.Logout)
			pr.Get("/user/me", members.Me)
			pr.Get("/chain/{uid}", chains.Get)
			pr.Get("/chain/{uid}/bags", bags.ListForChain)
			pr.Get("/bags", bags.ListForUser)

			pr.Group(func(self chi.Router) {
				self.Use(auth.SelfOnly(func(r *http.Request) string { return chi.URLParam(r, "uid") }))
				self.Patch("/user/{uid}/pause", members.SetPause)
				self.Put("/user/{uid}/chain", members.SetChain)
			})
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				slog.Warn("health check: database unreachable", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
