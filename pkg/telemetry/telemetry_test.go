// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func restoreProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitDisabled(t *testing.T) {
	restoreProvider(t)
	ctx := context.Background()

	tp, shutdown, err := Init(ctx, Options{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp)
	assert.NoError(t, shutdown(ctx))
}

func TestInitExporters(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "none", opts: Options{Exporter: ExporterNone, ServiceName: "test-service", SamplingRate: 1.0}},
		{name: "stdout", opts: Options{Exporter: ExporterStdout, SamplingRate: 0.5}},
		// The OTLP exporter connects lazily, so an unroutable endpoint is fine.
		{name: "otlp", opts: Options{Exporter: ExporterOTLP, Endpoint: "localhost:0", Insecure: true}},
		{name: "default exporter is otlp", opts: Options{Endpoint: "localhost:0", Insecure: true}},
		{name: "negative sampling rate", opts: Options{Exporter: ExporterNone, SamplingRate: -0.5}},
		{name: "sampling rate above one", opts: Options{Exporter: ExporterNone, SamplingRate: 2.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreProvider(t)
			ctx := context.Background()
			tt.opts.Enabled = true
			tt.opts.Logger = zap.NewNop().Sugar()

			tp, shutdown, err := Init(ctx, tt.opts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = shutdown(ctx) })

			assert.IsType(t, &sdktrace.TracerProvider{}, tp)
			assert.Same(t, tp, otel.GetTracerProvider())
		})
	}
}

func TestInitInvalidExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{Enabled: true, Exporter: "jaeger"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"jaeger"`)
}

func TestShutdownTwice(t *testing.T) {
	restoreProvider(t)
	ctx := context.Background()

	_, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: ExporterNone})
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))
	_ = shutdown(ctx)
}
