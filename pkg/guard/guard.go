// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/telekom/mailguard/api/v1alpha1"
	"github.com/telekom/mailguard/pkg/audit"
	"github.com/telekom/mailguard/pkg/mail"
	"github.com/telekom/mailguard/pkg/metrics"
	"github.com/telekom/mailguard/pkg/ratelimit"
	"github.com/telekom/mailguard/pkg/sanitize"
	"github.com/telekom/mailguard/pkg/store"
)

// Generic reasons handed to callers.
const (
	ReasonInvalidRecipient = "invalid recipient"
	ReasonInvalidMessage   = "invalid message"
	ReasonLockedOut        = "temporarily unavailable, try again in a few minutes"
	ReasonDeliveryFailed   = "delivery failed"
	ReasonVerifyFailed     = "relay verification failed"
	ReasonInternal         = "internal error"
)

const tracerName = "github.com/telekom/mailguard/pkg/guard"

// RateLimitedReason formats the rate-limit reason with a whole-second hint.
func RateLimitedReason(retryAfterSeconds int) string {
	return fmt.Sprintf("rate limited, retry after %ds", retryAfterSeconds)
}

// RateLimiter is the part of *ratelimit.Limiter the guard uses.
type RateLimiter interface {
	CheckAndConsume(class ratelimit.Class, key string) ratelimit.Decision
}

// LockoutChecker is the read side of *lockout.Tracker. Failures are
// recorded by the mail transport, which sees the relay's auth replies.
type LockoutChecker interface {
	IsLocked(target string) (bool, time.Time)
}

// Mailer delivers messages and verifies relay settings.
type Mailer interface {
	Send(ctx context.Context, cfg *v1alpha1.MailConfig, msg *v1alpha1.OutboundMessage) (*mail.Delivery, error)
	Verify(ctx context.Context, cfg *v1alpha1.MailConfig) error
}

// Auditor records operation outcomes.
type Auditor interface {
	Record(ctx context.Context, op audit.Operation, fingerprint string, outcome audit.Outcome, detail audit.Detail) error
}

// Options tunes guard behavior.
type Options struct {
	// MaxBodyBytes bounds message bodies. Zero means v1alpha1.DefaultMaxBodyBytes.
	MaxBodyBytes int
	// VerifyOnConfigChange runs a full relay handshake before a new
	// configuration is saved.
	VerifyOnConfigChange bool
	// GlobalSendLimit additionally checks the send-global class keyed by
	// ratelimit.GlobalKey.
	GlobalSendLimit bool
	// AllowedRecipients restricts recipients, see RecipientPolicy.
	AllowedRecipients []string
}

// Deps are the collaborators of a Guard. All fields except Log are required.
type Deps struct {
	Store         store.ConfigStore
	Limiter       RateLimiter
	Lockout       LockoutChecker
	Mailer        Mailer
	Audit         Auditor
	Fingerprinter *Fingerprinter
	Log           *zap.SugaredLogger
}

// SendResult is returned by HandleSend.
type SendResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	// RetryAfter is set in whole seconds when the caller was rate limited.
	RetryAfter int `json:"retryAfterSeconds,omitempty"`
	// MessageID identifies an accepted message.
	MessageID string `json:"messageId,omitempty"`

	Outcome audit.Outcome `json:"-"`
}

// ConfigChangeResult is returned by HandleConfigChange. Errors are detailed
// for validation failures and generic for everything else.
type ConfigChangeResult struct {
	Accepted   bool     `json:"accepted"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	RetryAfter int      `json:"retryAfterSeconds,omitempty"`

	Outcome audit.Outcome `json:"-"`
}

// Guard orchestrates the request pipeline. It is safe for concurrent use.
type Guard struct {
	deps       Deps
	opts       Options
	recipients *RecipientPolicy
	log        *zap.SugaredLogger
}

// New validates deps and returns a Guard.
func New(deps Deps, opts Options) (*Guard, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("guard: config store is required")
	case deps.Limiter == nil:
		return nil, errors.New("guard: rate limiter is required")
	case deps.Lockout == nil:
		return nil, errors.New("guard: lockout tracker is required")
	case deps.Mailer == nil:
		return nil, errors.New("guard: mailer is required")
	case deps.Audit == nil:
		return nil, errors.New("guard: audit log is required")
	case deps.Fingerprinter == nil:
		return nil, errors.New("guard: fingerprinter is required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = v1alpha1.DefaultMaxBodyBytes
	}
	recipients, err := NewRecipientPolicy(opts.AllowedRecipients)
	if err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	return &Guard{deps: deps, opts: opts, recipients: recipients, log: log.Named("guard")}, nil
}

// HandleSend validates, sanitizes and rate-checks msg, then delivers it
// through the stored relay configuration.
func (g *Guard) HandleSend(ctx context.Context, msg *v1alpha1.OutboundMessage, caller CallerContext) SendResult {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "guard.send")
	defer span.End()
	fp := g.deps.Fingerprinter.Fingerprint(caller)
	res, detail := g.send(ctx, msg, fp)
	g.finish(ctx, audit.OperationSend, fp, res.Outcome, detail, start)
	return res
}

func (g *Guard) send(ctx context.Context, msg *v1alpha1.OutboundMessage, fp string) (SendResult, audit.Detail) {
	// Validated
	if errs := v1alpha1.ValidateMessage(msg, g.opts.MaxBodyBytes); len(errs) > 0 {
		reason := ReasonInvalidMessage
		if hasField(errs, "to") {
			reason = ReasonInvalidRecipient
		}
		return SendResult{Reason: reason, Outcome: audit.OutcomeValidationFailure},
			audit.Detail{Fields: fieldPaths(errs)}
	}
	detail := audit.Detail{Recipient: msg.To}
	if !g.recipients.Allows(msg.To) {
		detail.Note = "recipient not allowed"
		return SendResult{Reason: ReasonInvalidRecipient, Outcome: audit.OutcomeValidationFailure}, detail
	}

	// Sanitized
	clean := &v1alpha1.OutboundMessage{
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: sanitize.Header(msg.Subject),
		Body:    sanitize.Content(msg.Body),
	}

	// RateChecked
	if d := g.checkRate(ratelimit.ClassSend, fp); !d.Allowed {
		return g.rateLimitedSend(d, detail)
	}
	if g.opts.GlobalSendLimit {
		if d := g.checkRate(ratelimit.ClassSendGlobal, ratelimit.GlobalKey); !d.Allowed {
			detail.Note = "global limit"
			return g.rateLimitedSend(d, detail)
		}
	}

	cfg, err := g.deps.Store.LoadConfig(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		detail.Kind = string(mail.KindNotConfigured)
		return SendResult{Reason: ReasonDeliveryFailed, Outcome: audit.OutcomeTransportFailure}, detail
	case err != nil:
		g.log.Errorw("Failed to load mail configuration", "error", err)
		detail.Reason = "config load failed"
		return SendResult{Reason: ReasonInternal, Outcome: audit.OutcomeInternalFailure}, detail
	}
	detail.Host, detail.Port = cfg.Host, cfg.Port

	// LockoutChecked
	if g.locked(cfg.AccountKey()) {
		return SendResult{Reason: ReasonLockedOut, Outcome: audit.OutcomeLockedOut}, detail
	}

	// Executed
	delivery, err := g.deps.Mailer.Send(ctx, cfg, clean)
	if err != nil {
		var te *mail.TransportError
		if errors.As(err, &te) {
			detail.Kind, detail.Attempts = string(te.Kind), te.Attempts
		}
		detail.Reason = err.Error()
		return SendResult{Reason: ReasonDeliveryFailed, Outcome: audit.OutcomeTransportFailure}, detail
	}
	detail.Attempts = delivery.Attempts
	return SendResult{Accepted: true, MessageID: delivery.MessageID, Outcome: audit.OutcomeSuccess}, detail
}

func (g *Guard) rateLimitedSend(d ratelimit.Decision, detail audit.Detail) (SendResult, audit.Detail) {
	secs := ratelimit.RetryAfterSeconds(d.RetryAfter)
	detail.RetryAfter, detail.Reason = secs, string(d.Reason)
	return SendResult{Reason: RateLimitedReason(secs), RetryAfter: secs, Outcome: audit.OutcomeRateLimited}, detail
}

// HandleConfigChange validates cfg and, when every gate passes, replaces the
// stored configuration.
func (g *Guard) HandleConfigChange(ctx context.Context, cfg *v1alpha1.MailConfig, caller CallerContext) ConfigChangeResult {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "guard.config_change")
	defer span.End()
	fp := g.deps.Fingerprinter.Fingerprint(caller)
	res, detail := g.configChange(ctx, cfg, fp)
	g.finish(ctx, audit.OperationConfigChange, fp, res.Outcome, detail, start)
	return res
}

func (g *Guard) configChange(ctx context.Context, cfg *v1alpha1.MailConfig, fp string) (ConfigChangeResult, audit.Detail) {
	// Validated
	if cfg == nil {
		return ConfigChangeResult{Errors: []string{"configuration is required"}, Outcome: audit.OutcomeValidationFailure},
			audit.Detail{Note: "empty configuration"}
	}
	detail := audit.Detail{Host: cfg.Host, Port: cfg.Port}
	vr := v1alpha1.ValidateConfig(cfg)
	if !vr.IsValid() {
		detail.Fields = fieldPaths(vr.Errors)
		return ConfigChangeResult{Errors: vr.ErrorMessages(), Warnings: vr.Warnings, Outcome: audit.OutcomeValidationFailure}, detail
	}

	// RateChecked
	if d := g.checkRate(ratelimit.ClassConfigChange, fp); !d.Allowed {
		secs := ratelimit.RetryAfterSeconds(d.RetryAfter)
		detail.RetryAfter, detail.Reason = secs, string(d.Reason)
		return ConfigChangeResult{Errors: []string{RateLimitedReason(secs)}, RetryAfter: secs, Outcome: audit.OutcomeRateLimited}, detail
	}

	// LockoutChecked
	if g.locked(cfg.AccountKey()) {
		return ConfigChangeResult{Errors: []string{ReasonLockedOut}, Outcome: audit.OutcomeLockedOut}, detail
	}

	// Executed
	if cfg.Password.IsPlaceholder() {
		resolved, errMsg := g.keepStoredPassword(ctx, cfg)
		if errMsg != "" {
			detail.Fields, detail.Note = []string{"password"}, "redacted password without matching stored account"
			return ConfigChangeResult{Errors: []string{errMsg}, Outcome: audit.OutcomeValidationFailure}, detail
		}
		cfg = resolved
	}
	if g.opts.VerifyOnConfigChange {
		if err := g.deps.Mailer.Verify(ctx, cfg); err != nil {
			detail.Kind, detail.Note = string(mail.KindOf(err)), "verification failed"
			return ConfigChangeResult{Errors: []string{ReasonVerifyFailed}, Outcome: audit.OutcomeTransportFailure}, detail
		}
	}
	if err := g.deps.Store.SaveConfig(ctx, cfg); err != nil {
		g.log.Errorw("Failed to save mail configuration", "error", err)
		detail.Reason = "config save failed"
		return ConfigChangeResult{Errors: []string{ReasonInternal}, Outcome: audit.OutcomeInternalFailure}, detail
	}
	g.log.Infow("Mail configuration replaced", "host", cfg.Host, "port", cfg.Port, "mode", cfg.Mode())
	return ConfigChangeResult{Accepted: true, Warnings: vr.Warnings, Outcome: audit.OutcomeSuccess}, detail
}

// keepStoredPassword resolves a [REDACTED] password, as returned by a read of
// the stored configuration, to the stored secret. The secret is only reused
// for the same relay account so it can never be sent to another host.
func (g *Guard) keepStoredPassword(ctx context.Context, cfg *v1alpha1.MailConfig) (*v1alpha1.MailConfig, string) {
	stored, err := g.deps.Store.LoadConfig(ctx)
	if err != nil || stored.AccountKey() != cfg.AccountKey() || stored.Password.IsEmpty() {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			g.log.Warnw("Failed to load stored mail configuration", "error", err)
		}
		return nil, "password: Invalid value: the redacted placeholder is only accepted for the stored relay account"
	}
	out := *cfg
	out.Password = stored.Password
	return &out, ""
}

func (g *Guard) checkRate(class ratelimit.Class, key string) ratelimit.Decision {
	return g.deps.Limiter.CheckAndConsume(class, key)
}

func (g *Guard) locked(target string) bool {
	locked, _ := g.deps.Lockout.IsLocked(target)
	if locked {
		metrics.LockoutRejections.Inc()
	}
	return locked
}

// finish is the Logged state. Audit failures are logged and never change
// the caller's result.
func (g *Guard) finish(ctx context.Context, op audit.Operation, fp string, outcome audit.Outcome, detail audit.Detail, start time.Time) {
	if err := g.deps.Audit.Record(ctx, op, fp, outcome, detail); err != nil {
		g.log.Warnw("Audit record failed", "operation", op, "outcome", outcome, "error", err)
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("mailguard.outcome", string(outcome)),
		attribute.String("mailguard.fingerprint", fp),
	)
	if outcome != audit.OutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}
	metrics.GuardRequests.WithLabelValues(string(op), string(outcome)).Inc()
	metrics.GuardRequestDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}

func hasField(errs field.ErrorList, name string) bool {
	for _, e := range errs {
		if e.Field == name {
			return true
		}
	}
	return false
}

func fieldPaths(errs field.ErrorList) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}
