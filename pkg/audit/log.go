// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/mailguard/pkg/metrics"
)

// Log writes one record per guarded operation to its sinks. Record is
// synchronous: when it returns, every sink has either persisted the record
// or reported an error.
type Log struct {
	sink  *MultiSink
	clock clock.PassiveClock
	log   *zap.SugaredLogger
	newID func() string
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the clock used for record timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(l *Log) {
		l.clock = c
	}
}

// WithIDGenerator replaces the uuid generator for record ids.
func WithIDGenerator(fn func() string) Option {
	return func(l *Log) {
		l.newID = fn
	}
}

// New creates a Log writing to sinks. With no sinks, records only reach the
// structured logger.
func New(log *zap.SugaredLogger, sinks []Sink, opts ...Option) *Log {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("audit")
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink(log.Desugar())}
	}

	l := &Log{
		sink:  NewMultiSink(sinks, log.Desugar()),
		clock: clock.RealClock{},
		log:   log,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record builds a redacted record and writes it to every sink. The returned
// error reports sink failures only; callers must not change their response
// because of it.
func (l *Log) Record(ctx context.Context, op Operation, fingerprint string, outcome Outcome, detail Detail) error {
	rec := &Record{
		ID:          l.newID(),
		Timestamp:   l.clock.Now().UTC(),
		Operation:   op,
		Fingerprint: fingerprint,
		Outcome:     outcome,
		Detail:      detail.Render(),
	}
	metrics.AuditRecords.WithLabelValues(string(op), string(outcome)).Inc()

	// The write must complete even if the caller has gone away.
	if err := l.sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		l.log.Warnw("audit record not fully persisted",
			"recordID", rec.ID,
			"operation", op,
			"outcome", outcome,
			"error", err.Error())
		return fmt.Errorf("audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Close closes every sink.
func (l *Log) Close() error {
	return l.sink.Close()
}
