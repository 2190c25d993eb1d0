package mail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"k8s.io/utils/clock"

	"github.com/telekom/mailguard/api/v1alpha1"
	"github.com/telekom/mailguard/pkg/metrics"
)

const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	defaultLocalName      = "localhost"
)

// FailureRecorder receives the outcome of every authentication exchange.
// *lockout.Tracker satisfies it.
type FailureRecorder interface {
	RecordFailure(target string) bool
	RecordSuccess(target string)
}

// ContextDialer opens the TCP connection to the relay. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Delivery describes a message accepted by the relay. Acceptance is the only
// guarantee; nothing is known about final delivery.
type Delivery struct {
	Attempts   int
	AcceptedAt time.Time
	MessageID  string
}

// Options holds the retry and timeout settings of a Transport.
type Options struct {
	// AttemptTimeout bounds one relay session, including connect.
	AttemptTimeout time.Duration
	// MaxAttempts is the total number of sessions tried for one message.
	MaxAttempts int
	// InitialBackoff is doubled after every retryable failure.
	InitialBackoff time.Duration
	// LocalName is sent with EHLO.
	LocalName string
}

// MaxSendDuration is the longest a Send can take: every attempt runs into
// its timeout and every backoff between attempts is waited out.
func (o Options) MaxSendDuration() time.Duration {
	total := time.Duration(o.MaxAttempts) * o.AttemptTimeout
	backoff := o.InitialBackoff
	for i := 1; i < o.MaxAttempts; i++ {
		total += backoff
		backoff *= 2
	}
	return total
}

// Transport delivers single messages to the configured relay over an
// encrypted, certificate-verified session.
type Transport struct {
	opts     Options
	dialer   ContextDialer
	failures FailureRecorder
	clock    clock.PassiveClock
	sleep    func(ctx context.Context, d time.Duration) error
	log      *zap.SugaredLogger
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the network dialer.
func WithDialer(d ContextDialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithFailureRecorder wires authentication outcomes into a lockout tracker.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(t *Transport) { t.failures = r }
}

// WithClock replaces the clock used for Date headers and delivery timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transport) { t.sleep = sleep }
}

// WithOptions overrides retry and timeout settings. Zero fields keep their defaults.
func WithOptions(o Options) Option {
	return func(t *Transport) {
		if o.AttemptTimeout > 0 {
			t.opts.AttemptTimeout = o.AttemptTimeout
		}
		if o.MaxAttempts > 0 {
			t.opts.MaxAttempts = o.MaxAttempts
		}
		if o.InitialBackoff > 0 {
			t.opts.InitialBackoff = o.InitialBackoff
		}
		if o.LocalName != "" {
			t.opts.LocalName = o.LocalName
		}
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordFailure(string) bool { return false }
func (noopRecorder) RecordSuccess(string)      {}

// NewTransport creates a Transport with 3 attempts, 30s per attempt and
// 1s initial backoff unless overridden.
func NewTransport(log *zap.SugaredLogger, opts ...Option) *Transport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Transport{
		opts: Options{
			AttemptTimeout: DefaultAttemptTimeout,
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			LocalName:      defaultLocalName,
		},
		dialer:   &net.Dialer{},
		failures: noopRecorder{},
		clock:    clock.RealClock{},
		sleep:    sleepContext,
		log:      log.Named("mail"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send delivers msg to the relay described by cfg. Retryable failures are
// retried with exponential backoff; every returned error is a *TransportError.
func (t *Transport) Send(ctx context.Context, cfg *v1alpha1.MailConfig, msg *v1alpha1.OutboundMessage) (*Delivery, error) {
	if cfg == nil {
		return nil, &TransportError{Kind: KindNotConfigured, Err: ErrNotConfigured}
	}
	host := cfg.Host
	m, messageID := newMessage(cfg, msg, t.clock.Now())

	backoff := t.opts.InitialBackoff
	var lastErr *TransportError
	attempt := 1
	for ; attempt <= t.opts.MaxAttempts; attempt++ {
		err := t.session(ctx, cfg, func(s *session) error {
			return gomail.Send(s, m)
		})
		if err == nil {
			metrics.MailSendAttempts.WithLabelValues(host, "success").Inc()
			metrics.MailSendSuccess.WithLabelValues(host).Inc()
			t.log.Infow("Message accepted by relay", "host", host, "port", cfg.Port, "attempt", attempt, "messageID", messageID)
			return &Delivery{Attempts: attempt, AcceptedAt: t.clock.Now(), MessageID: messageID}, nil
		}

		lastErr = err
		metrics.MailSendAttempts.WithLabelValues(host, string(err.Kind)).Inc()
		if !err.Retryable() || attempt == t.opts.MaxAttempts {
			break
		}

		t.log.Warnw("Send attempt failed, retrying", "host", host, "attempt", attempt, "kind", err.Kind, "backoff", backoff.String(), "error", err.Err)
		metrics.MailSendRetries.WithLabelValues(host).Inc()
		if serr := t.sleep(ctx, backoff); serr != nil {
			lastErr = classify(ctx, stageConnect, serr)
			break
		}
		// Exponential backoff: 1s, 2s, ...
		backoff *= 2
	}

	lastErr.Attempts = attempt
	metrics.MailSendFailure.WithLabelValues(host, string(lastErr.Kind)).Inc()
	t.log.Errorw("Failed to deliver message", "host", host, "attempts", attempt, "kind", lastErr.Kind, "error", lastErr.Err)
	return nil, lastErr
}

// Verify opens one session, negotiates encryption, authenticates and quits.
func (t *Transport) Verify(ctx context.Context, cfg *v1alpha1.MailConfig) error {
	if cfg == nil {
		return &TransportError{Kind: KindNotConfigured, Err: ErrNotConfigured}
	}
	if err := t.session(ctx, cfg, nil); err != nil {
		err.Attempts = 1
		t.log.Warnw("Relay verification failed", "host", cfg.Host, "port", cfg.Port, "mode", cfg.Mode(), "kind", err.Kind, "error", err.Err)
		return err
	}
	t.log.Infow("Relay verified", "host", cfg.Host, "port", cfg.Port, "mode", cfg.Mode())
	return nil
}

// session runs one relay session bounded by AttemptTimeout. body runs after
// authentication; a nil body only verifies the connection.
func (t *Transport) session(ctx context.Context, cfg *v1alpha1.MailConfig, body func(*session) error) *TransportError {
	actx, cancel := context.WithTimeout(ctx, t.opts.AttemptTimeout)
	defer cancel()

	s, err := t.open(actx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if body != nil {
		if err := body(s); err != nil {
			if s.err != nil {
				return s.err
			}
			return classify(actx, stageEnvelope, err)
		}
	}
	if err := s.client.Quit(); err != nil {
		t.log.Debugw("QUIT failed", "host", cfg.Host, "error", err)
	}
	return nil
}

func (t *Transport) open(ctx context.Context, cfg *v1alpha1.MailConfig) (*session, *TransportError) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, &TransportError{Kind: KindTLS, Err: err}
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, classify(ctx, stageConnect, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	s := &session{ctx: ctx, conn: conn}
	s.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })

	if cfg.UseSSL {
		tc := tls.Client(conn, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			s.close()
			return nil, classify(ctx, stageTLS, err)
		}
		s.conn = tc
	}

	client, err := smtp.NewClient(s.conn, cfg.Host)
	if err != nil {
		s.close()
		return nil, classify(ctx, stageConnect, err)
	}
	s.client = client

	if err := client.Hello(t.opts.LocalName); err != nil {
		s.close()
		return nil, classify(ctx, stageConnect, err)
	}

	if cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			s.close()
			return nil, &TransportError{Kind: KindTLS, Err: errors.New("relay does not offer STARTTLS")}
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			s.close()
			return nil, classify(ctx, stageTLS, err)
		}
	}

	if cfg.AuthEnabled() {
		if terr := t.authenticate(ctx, client, cfg); terr != nil {
			s.close()
			return nil, terr
		}
	}
	return s, nil
}

func (t *Transport) authenticate(ctx context.Context, client *smtp.Client, cfg *v1alpha1.MailConfig) *TransportError {
	target := cfg.AccountKey()
	ok, mechs := client.Extension("AUTH")
	if !ok {
		return &TransportError{Kind: KindAuth, Err: errors.New("relay does not offer AUTH")}
	}
	auth := chooseAuth(mechs, cfg.Username, cfg.Password.Reveal(), cfg.Host)
	if auth == nil {
		return &TransportError{Kind: KindAuth, Err: errors.New("relay offers neither PLAIN nor LOGIN")}
	}

	if err := client.Auth(auth); err != nil {
		terr := classify(ctx, stageAuth, err)
		// Only a permanent rejection by the relay counts against the account.
		if terr.Kind == KindAuth && terr.Code >= 500 {
			if t.failures.RecordFailure(target) {
				t.log.Warnw("Relay account locked after repeated authentication failures", "host", cfg.Host, "port", cfg.Port)
			}
		}
		return terr
	}
	t.failures.RecordSuccess(target)
	return nil
}

func buildTLSConfig(cfg *v1alpha1.MailConfig) (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if cfg.CertificateAuthority != "" && !pool.AppendCertsFromPEM([]byte(cfg.CertificateAuthority)) {
		return nil, errors.New("failed to parse certificateAuthority PEM")
	}
	return &tls.Config{
		ServerName: cfg.Host,
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// session is one connected, encrypted and authenticated relay session. It
// implements gomail.Sender so gomail drives MAIL, RCPT and DATA.
type session struct {
	ctx    context.Context
	conn   net.Conn
	client *smtp.Client
	stop   func() bool
	// err keeps the typed failure, gomail.Send only wraps it as text.
	err *TransportError
}

var _ gomail.Sender = (*session)(nil)

func (s *session) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return s.fail(err)
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return s.fail(err)
		}
	}
	w, err := s.client.Data()
	if err != nil {
		return s.fail(err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return s.fail(err)
	}
	if err := w.Close(); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *session) fail(err error) error {
	s.err = classify(s.ctx, stageEnvelope, err)
	return err
}

func (s *session) close() {
	if s.stop != nil {
		s.stop()
	}
	if s.client != nil {
		_ = s.client.Close()
		return
	}
	_ = s.conn.Close()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
