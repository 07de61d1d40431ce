package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecgard/loopkit/internal/client"
	"github.com/alecgard/loopkit/internal/config"
	"github.com/alecgard/loopkit/internal/credential"
	"github.com/alecgard/loopkit/internal/crypto"
	"github.com/alecgard/loopkit/internal/prefs"
	"github.com/alecgard/loopkit/internal/session"
	"github.com/spf13/cobra"
)

var verbose bool

// memberSession wires the session store to the HTTP client and the local
// credential and preference stores.
type memberSession struct {
	cfg   *config.Config
	api   *client.Client
	prefs *prefs.Store
	store *session.Store
}

// logRecorder reports session transitions at debug level.
type logRecorder struct {
	logger *slog.Logger
}

func (r logRecorder) AuthTransition(from, to string) {
	r.logger.Debug("session state changed", "from", from, "to", to)
}

func (r logRecorder) OperationFailed(op, kind string) {
	r.logger.Debug("session operation failed", "op", op, "kind", kind)
}

// newSessionStore creates the store, subscribes the state logger and loads
// stored credentials.
func newSessionStore(ctx context.Context, opts session.Options) *session.Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := session.NewStore(opts)
	store.Subscribe(logStateChanges(logger, time.Now))
	store.Init(ctx)
	return store
}

// logStateChanges reports every session change at debug level, along with
// the flags derived from it.
func logStateChanges(logger *slog.Logger, now func() time.Time) func(session.State) {
	return func(st session.State) {
		flags := st.Flags(now())
		attrs := []any{"auth", st.Auth.String(), "bags", len(st.Bags)}
		if st.User != nil {
			attrs = append(attrs, "user_id", st.User.ID)
		}
		if st.ActiveChain != nil {
			attrs = append(attrs, "chain_id", st.ActiveChain.ID)
		}
		attrs = append(attrs, "paused", flags.Paused, "stale_bag", flags.StaleBag, "is_admin", flags.IsAdmin)
		logger.Debug("session updated", attrs...)
	}
}

func openSession(ctx context.Context) (*memberSession, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sealer, err := crypto.NewSealer(cfg.Client.CredentialsKey)
	if err != nil {
		return nil, err
	}

	p, err := prefs.Open(cfg.Client.PreferencesDB)
	if err != nil {
		return nil, err
	}

	api := client.New(client.Options{
		BaseURL:           cfg.Client.APIURL,
		Timeout:           cfg.Client.Timeout,
		RequestsPerSecond: cfg.Client.RequestsPerSecond,
	})

	store := newSessionStore(ctx, session.Options{
		Credentials: credential.NewFileStore(cfg.Client.CredentialsFile, sealer),
		Backend:     api,
		Bags:        api,
		Preferences: p,
		Recorder:    logRecorder{logger: logger},
		Logger:      logger,
	})

	return &memberSession{cfg: cfg, api: api, prefs: p, store: store}, nil
}

func (s *memberSession) Close() {
	if err := s.prefs.Close(); err != nil {
		slog.Warn("closing preferences", "error", err)
	}
}

// withSession opens a session, authenticates it and runs fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *memberSession) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.Authenticate(ctx); err != nil {
		return describe(err)
	}
	return fn(ctx, s)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log session activity to stderr")
}
