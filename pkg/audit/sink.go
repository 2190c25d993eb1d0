// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mailguard/pkg/metrics"
)

// Sink defines the interface for audit record destinations. Sinks are
// append-only: there is no way to update or delete a written record.
type Sink interface {
	// Write persists a record. It returns only once the record is durable
	// as far as the sink can guarantee.
	Write(ctx context.Context, rec *Record) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes audit records to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Write logs the audit record.
func (s *LogSink) Write(_ context.Context, rec *Record) error {
	fields := []zap.Field{
		zap.String("record_id", rec.ID),
		zap.String("operation", string(rec.Operation)),
		zap.String("outcome", string(rec.Outcome)),
		zap.Time("timestamp", rec.Timestamp),
		zap.String("fingerprint", rec.Fingerprint),
	}
	if rec.Detail != "" {
		fields = append(fields, zap.String("detail", rec.Detail))
	}

	s.logger.Info("audit_record", fields...)
	return nil
}

// Close flushes the logger.
func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// MultiSink writes to multiple sinks in order. A failing sink does not stop
// the remaining ones.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger,
	}
}

// Write sends the record to all sinks and joins their errors.
func (s *MultiSink) Write(ctx context.Context, rec *Record) error {
	var errs []error
	for _, sink := range s.sinks {
		start := time.Now()
		err := sink.Write(ctx, rec)
		metrics.AuditSinkLatency.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.AuditSinkErrors.WithLabelValues(sink.Name()).Inc()
			// Use string representation to avoid noisy stacktraces for transient errors
			s.logger.Warn("audit sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("record_id", rec.ID),
				zap.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}

// Len returns the number of wrapped sinks.
func (s *MultiSink) Len() int {
	return len(s.sinks)
}
