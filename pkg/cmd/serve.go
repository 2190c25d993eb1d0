package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/telekom/mailguard/pkg/api"
	"github.com/telekom/mailguard/pkg/audit"
	"github.com/telekom/mailguard/pkg/config"
	"github.com/telekom/mailguard/pkg/guard"
	"github.com/telekom/mailguard/pkg/lockout"
	"github.com/telekom/mailguard/pkg/mail"
	"github.com/telekom/mailguard/pkg/ratelimit"
	"github.com/telekom/mailguard/pkg/store"
	"github.com/telekom/mailguard/pkg/system"
	"github.com/telekom/mailguard/pkg/telemetry"
	"github.com/telekom/mailguard/pkg/version"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the notification API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			zl, err := rt.Logger()
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			defer func() { _ = zl.Sync() }()
			system.RouteKlog(zl)
			log := zl.Sugar()
			log.With("version", version.Version).Info("Starting mailguard")

			cfg, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, zl, rt.debug)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}

// app owns every long-lived component of the serve command.
type app struct {
	server     *api.Server
	limiter    *ratelimit.Limiter
	tracker    *lockout.Tracker
	audit      *audit.Log
	closeStore func() error
	shutdownTP telemetry.ShutdownFunc
	cfg        config.Config
	log        *zap.SugaredLogger
}

func newApp(ctx context.Context, cfg config.Config, zl *zap.Logger, debug bool) (*app, error) {
	log := zl.Sugar()
	a := &app{cfg: cfg, log: log, closeStore: func() error { return nil }}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	_, shutdownTP, err := telemetry.Init(ctx, cfg.Tracing.Options(log))
	if err != nil {
		return nil, err
	}
	a.shutdownTP = shutdownTP

	cs, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closeStore = closeStore

	sinks, err := buildAuditSinks(cfg.Audit, zl)
	if err != nil {
		return nil, err
	}
	a.audit = audit.New(log, sinks)

	rlCfg := cfg.RateLimits.RateLimitConfig()
	a.limiter = ratelimit.New(rlCfg)
	a.tracker = lockout.New(cfg.Lockout.LockoutConfig(), lockout.WithLogger(log))

	transport := mail.NewTransport(log,
		mail.WithFailureRecorder(a.tracker),
		mail.WithOptions(cfg.Transport.Options()))

	fp, err := newFingerprinter(cfg.Guard.FingerprintSalt, log)
	if err != nil {
		return nil, err
	}

	g, err := guard.New(guard.Deps{
		Store:         cs,
		Limiter:       a.limiter,
		Lockout:       a.tracker,
		Mailer:        transport,
		Audit:         a.audit,
		Fingerprinter: fp,
		Log:           log,
	}, guard.Options{
		MaxBodyBytes:         cfg.Guard.MaxBodyBytes,
		VerifyOnConfigChange: cfg.Guard.VerifyOnConfigChange,
		GlobalSendLimit:      cfg.RateLimits.SendGlobal != nil,
		AllowedRecipients:    cfg.Guard.AllowedRecipients,
	})
	if err != nil {
		return nil, err
	}

	a.server = api.NewServer(zl, cfg.Server, debug, a.limiter)
	a.server.AddReadinessCheck("config-store", func(ctx context.Context) error {
		if _, err := cs.LoadConfig(ctx); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})
	if err := a.server.RegisterAll([]api.APIController{
		api.NewGuardController(log, g, cs),
	}); err != nil {
		return nil, fmt.Errorf("error registering controllers: %w", err)
	}
	ready = true
	return a, nil
}

// Run serves until ctx is done. Expired lockout entries are swept in the
// background for the lifetime of the server.
func (a *app) Run(ctx context.Context) error {
	go wait.UntilWithContext(ctx, func(context.Context) {
		a.tracker.Sweep()
	}, a.cfg.Lockout.GetSweepInterval())

	return a.server.Listen(ctx)
}

func (a *app) Close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Warnw("Failed to close audit sinks", "error", err)
		}
	}
	if err := a.closeStore(); err != nil {
		a.log.Warnw("Failed to close config store", "error", err)
	}
	if a.shutdownTP != nil {
		if err := a.shutdownTP(context.Background()); err != nil {
			a.log.Warnw("Failed to flush traces", "error", err)
		}
	}
}

func openStore(cfg config.Store) (store.ConfigStore, func() error, error) {
	var (
		cs      store.ConfigStore
		closeFn = func() error { return nil }
	)
	switch cfg.GetBackend() {
	case config.StoreMemory:
		cs = store.NewMemoryStore()
	case config.StoreBolt:
		b, err := store.OpenBolt(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		cs, closeFn = b, b.Close
	default:
		return nil, nil, fmt.Errorf("store backend %q is not supported", cfg.Backend)
	}
	if cfg.Keyring {
		cs = store.NewKeyringStore(cs, cfg.KeyringService)
	}
	return cs, closeFn, nil
}

func buildAuditSinks(cfg config.Audit, zl *zap.Logger) (sinks []audit.Sink, err error) {
	defer func() {
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
		}
	}()

	if !cfg.DisableLogSink {
		sinks = append(sinks, audit.NewLogSink(zl))
	}
	if cfg.File != "" {
		fs, err := audit.NewFileSink(cfg.File)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.Kafka != nil {
		ks, err := audit.NewKafkaSink(*cfg.Kafka, zl)
		if err != nil {
			return sinks, fmt.Errorf("kafka audit sink: %w", err)
		}
		sinks = append(sinks, audit.NewCircuitBreakerSink(ks, cfg.CircuitBreaker.Config(), nil, zl))
	}
	if len(sinks) == 0 {
		return nil, errors.New("audit: every sink is disabled")
	}
	return sinks, nil
}

// newFingerprinter uses salt, or a random one when salt is empty. A random
// salt changes every caller fingerprint on restart.
func newFingerprinter(salt string, log *zap.SugaredLogger) (*guard.Fingerprinter, error) {
	if salt == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate fingerprint salt: %w", err)
		}
		log.Warn("No fingerprint salt configured; generated a random one. Caller fingerprints will change on restart")
		return guard.NewFingerprinter(buf)
	}
	return guard.NewFingerprinter([]byte(salt))
}
