/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/mailguard/pkg/metrics"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int32

const (
	// CircuitClosed indicates normal operation - writes flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit is tripped - writes are skipped.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is probing with a single write.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// OpenTimeout is how long to wait before letting a probe write through.
	// Default: 30s
	OpenTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// ErrCircuitOpen is returned when a write is skipped because the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerSink wraps a remote sink so an unreachable destination costs
// one fast error per record instead of a full write timeout. Skipped writes
// still fail, so they remain visible in logs and metrics.
type CircuitBreakerSink struct {
	sink   Sink
	cfg    CircuitBreakerConfig
	clock  clock.PassiveClock
	logger *zap.Logger

	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	openedAt         time.Time
	probing          bool
}

// NewCircuitBreakerSink wraps sink with circuit breaker protection. A nil
// clock means the real clock.
func NewCircuitBreakerSink(sink Sink, cfg CircuitBreakerConfig, clk clock.PassiveClock, logger *zap.Logger) *CircuitBreakerSink {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(sink.Name()).Set(float64(CircuitClosed))
	return &CircuitBreakerSink{
		sink:   sink,
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("circuit-breaker").With(zap.String("sink", sink.Name())),
	}
}

// Write forwards the record unless the circuit is open.
func (s *CircuitBreakerSink) Write(ctx context.Context, rec *Record) error {
	if !s.admit() {
		metrics.AuditCircuitBreakerRejections.WithLabelValues(s.sink.Name()).Inc()
		return ErrCircuitOpen
	}

	err := s.sink.Write(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.probing = false
	if err != nil {
		s.consecutiveFails++
		if s.state == CircuitHalfOpen || s.consecutiveFails >= s.cfg.FailureThreshold {
			s.transitionLocked(CircuitOpen)
		}
		return err
	}
	s.consecutiveFails = 0
	if s.state != CircuitClosed {
		s.transitionLocked(CircuitClosed)
	}
	return nil
}

func (s *CircuitBreakerSink) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if s.clock.Since(s.openedAt) < s.cfg.OpenTimeout {
			return false
		}
		s.transitionLocked(CircuitHalfOpen)
		s.probing = true
		return true
	default:
		// Half-open admits one probe at a time.
		if s.probing {
			return false
		}
		s.probing = true
		return true
	}
}

func (s *CircuitBreakerSink) transitionLocked(to CircuitState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if to == CircuitOpen {
		s.openedAt = s.clock.Now()
	}
	if to == CircuitClosed {
		s.consecutiveFails = 0
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(s.sink.Name()).Set(float64(to))
	s.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// State returns the current circuit state.
func (s *CircuitBreakerSink) State() CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close closes the underlying sink.
func (s *CircuitBreakerSink) Close() error {
	return s.sink.Close()
}

// Name returns the wrapped sink's name.
func (s *CircuitBreakerSink) Name() string {
	return s.sink.Name()
}
