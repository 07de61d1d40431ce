package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/loopkit/internal/api"
	"github.com/alecgard/loopkit/internal/bag"
	"github.com/alecgard/loopkit/internal/chain"
	"github.com/alecgard/loopkit/internal/config"
	"github.com/alecgard/loopkit/internal/metrics"
	"github.com/alecgard/loopkit/internal/ratelimit"
	"github.com/alecgard/loopkit/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const sessionSweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the loop API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterPool("loop", func() metrics.PoolStats {
		st := pool.Stat()
		return metrics.PoolStats{
			Idle:         st.IdleConns(),
			InUse:        st.AcquiredConns(),
			Max:          st.MaxConns(),
			AcquireWaits: st.EmptyAcquireCount(),
			AcquireTime:  st.AcquireDuration(),
		}
	})

	userStore := user.NewStore(pool, cfg.Server.SessionTTL)

	var cache user.SessionCache
	if cfg.Redis.Addr != "" {
		rdb, err := user.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache = user.NewRedisSessionCache(rdb, cfg.Redis.TTL)
	}
	sessions := user.NewAuthAdapter(userStore, cache)

	loginLimiter := ratelimit.New(cfg.RateLimit.Login, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		Members:        userStore,
		Sessions:       sessions,
		Chains:         chain.NewService(chain.NewStore(pool)),
		Bags:           bag.NewStore(pool),
		LoginLimiter:   loginLimiter,
		Metrics:        m,
		DB:             pool,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	go sweep(ctx, userStore, loginLimiter, cfg.RateLimit.Window)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// sweep periodically drops expired sessions and idle login buckets.
func sweep(ctx context.Context, users *user.Store, limiter *ratelimit.Limiter, idle time.Duration) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.CleanExpiredSessions(ctx)
			if err != nil {
				slog.Warn("cleaning expired sessions", "error", err)
			} else if n > 0 {
				slog.Info("cleaned expired sessions", "count", n)
			}
			if dropped := limiter.Sweep(idle); dropped > 0 {
				slog.Debug("swept idle login buckets", "count", dropped)
			}
		}
	}
}
