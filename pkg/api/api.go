package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/mailguard/pkg/apiresponses"
	"github.com/telekom/mailguard/pkg/config"
	"github.com/telekom/mailguard/pkg/metrics"
	"github.com/telekom/mailguard/pkg/ratelimit"
	"github.com/telekom/mailguard/pkg/system"
	"github.com/telekom/mailguard/pkg/telemetry"
)

// DefaultMaxRequestBytes caps request bodies before JSON decoding.
const DefaultMaxRequestBytes = 2 << 20

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	gin     *gin.Engine
	config  config.Server
	limiter *ratelimit.Limiter
	log     *zap.SugaredLogger

	checkNames []string
	checks     map[string]ReadinessCheck
}

// NewServer builds the gin engine with tracing, logging, recovery, optional CORS and
// the unauthenticated /healthz and /metrics endpoints. A non-nil limiter
// applies the API request class to every route under /api.
func NewServer(log *zap.Logger, cfg config.Server, debug bool, limiter *ratelimit.Limiter) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		telemetry.Middleware(),
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)

	// Without explicit proxies ClientIP is the socket peer, so callers cannot
	// choose their own fingerprint with X-Forwarded-For.
	// Config.Validate rejects bad entries; a server built without it trusts
	// nobody rather than a partial list.
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Sugar().Errorw("Invalid trusted proxies, X-Forwarded-For will be ignored",
			"trustedProxies", cfg.TrustedProxies, "error", err)
		if err := engine.SetTrustedProxies(nil); err != nil {
			log.Sugar().Errorw("Failed to reset trusted proxies", "error", err)
		}
	}

	if len(cfg.AllowedOrigins) > 0 {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: cfg.AllowedOrigins,
				AllowMethods: []string{"GET", "PUT", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Content-Type", "traceparent", "tracestate"},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:     engine,
		config:  cfg,
		limiter: limiter,
		log:     log.Sugar(),
		checks:  map[string]ReadinessCheck{},
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/readyz", s.readyz)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

// AddReadinessCheck registers a check run by /readyz. Must be called before
// serving.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	if _, ok := s.checks[name]; !ok {
		s.checkNames = append(s.checkNames, name)
	}
	s.checks[name] = check
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api", limitBody(DefaultMaxRequestBytes))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(ratelimit.ClassAPI))
	}
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves on the configured address until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.GetListenAddress())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	timeouts := s.config.GetServerTimeouts()
	srv := &http.Server{
		Handler:           s.gin,
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadHeaderTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
		MaxHeaderBytes:    timeouts.GetMaxHeaderBytes(),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			err = srv.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()
	s.log.Infow("Listening", "address", ln.Addr().String(), "tls", s.config.TLSCertFile != "")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.GetShutdownTimeout())
	defer cancel()
	s.log.Infow("Shutting down HTTP server", "timeout", s.config.GetShutdownTimeout())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	apiresponses.RespondOK(c, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	for _, name := range s.checkNames {
		if err := s.checks[name](c.Request.Context()); err != nil {
			s.log.Warnw("Readiness check failed", "check", name, "error", err)
			apiresponses.RespondServiceUnavailable(c, name)
			return
		}
	}
	apiresponses.RespondOK(c, gin.H{"status": "ready"})
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
