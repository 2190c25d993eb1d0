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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"
)

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}

func TestCircuitBreakerSink_OpensAfterThreshold(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	inner := &recordingSink{name: "kafka", err: errors.New("broker down")}
	cb := NewCircuitBreakerSink(inner, CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: 30 * time.Second}, clk, zaptest.NewLogger(t))

	for range 3 {
		err := cb.Write(context.Background(), &Record{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Write(context.Background(), &Record{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "kafka", cb.Name())
}

func TestCircuitBreakerSink_ProbeRecovers(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	inner := &recordingSink{name: "kafka", err: errors.New("broker down")}
	cb := NewCircuitBreakerSink(inner, CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 10 * time.Second}, clk, zaptest.NewLogger(t))

	require.Error(t, cb.Write(context.Background(), &Record{}))
	require.Equal(t, CircuitOpen, cb.State())

	clk.Step(5 * time.Second)
	assert.ErrorIs(t, cb.Write(context.Background(), &Record{}), ErrCircuitOpen)

	clk.Step(5 * time.Second)
	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()

	require.NoError(t, cb.Write(context.Background(), &Record{ID: "probe"}))
	assert.Equal(t, CircuitClosed, cb.State())
	require.Len(t, inner.Records(), 1)
}

func TestCircuitBreakerSink_FailedProbeReopens(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	inner := &recordingSink{name: "kafka", err: errors.New("broker down")}
	cb := NewCircuitBreakerSink(inner, CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Second}, clk, zaptest.NewLogger(t))

	require.Error(t, cb.Write(context.Background(), &Record{}))
	require.Error(t, cb.Write(context.Background(), &Record{}))
	require.Equal(t, CircuitOpen, cb.State())

	clk.Step(time.Second)
	err := cb.Write(context.Background(), &Record{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, cb.State())

	// The open timer restarted with the failed probe.
	assert.ErrorIs(t, cb.Write(context.Background(), &Record{}), ErrCircuitOpen)
}

func TestCircuitBreakerSink_SuccessResetsCount(t *testing.T) {
	inner := &recordingSink{name: "kafka"}
	cb := NewCircuitBreakerSink(inner, CircuitBreakerConfig{FailureThreshold: 2}, nil, zaptest.NewLogger(t))

	inner.err = errors.New("blip")
	require.Error(t, cb.Write(context.Background(), &Record{}))
	inner.err = nil
	require.NoError(t, cb.Write(context.Background(), &Record{}))
	inner.err = errors.New("blip")
	require.Error(t, cb.Write(context.Background(), &Record{}))

	assert.Equal(t, CircuitClosed, cb.State())
	require.NoError(t, cb.Close())
	assert.True(t, inner.closed)
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.OpenTimeout)
}
