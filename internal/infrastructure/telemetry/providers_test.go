package telemetry

import (
	"context"
	"testing"

	"github.com/erp/costing/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func disabledTelemetry() config.TelemetryConfig {
	return config.TelemetryConfig{
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "costing-test",
	}
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, disabledTelemetry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("test"))
	require.NoError(t, tp.EnableSpanProfiles())
	assert.False(t, tp.IsSpanProfilesEnabled())
	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1.0).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")

	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(2).Description())
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	mp, err := NewMeterProvider(ctx, disabledTelemetry(), nil)
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	meter := mp.Meter("test")
	require.NotNil(t, meter)

	m, err := NewCostingMetrics(meter)
	require.NoError(t, err)
	m.RecordRebuild(ctx, RebuildReasonManual)

	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	lp, err := NewLoggerProvider(ctx, disabledTelemetry(), zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	core := lp.ZapCore(zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(ctx))

	var nilProvider *LoggerProvider
	assert.False(t, nilProvider.ZapCore(zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}

	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.WarnLevel))

	logger := zap.New(core).With(zap.String("product_id", "p-1"))
	logger.Info("dropped")
	logger.Warn("rebuilding product state")
	logger.Error("consistency fault")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "rebuilding product state", entries[0].Message)
	assert.Equal(t, "p-1", entries[1].ContextMap()["product_id"])
}

func TestProfiler(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		p, err := NewProfiler(config.ProfilingConfig{}, "costing-test", zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.False(t, p.IsEnabled())
		assert.False(t, p.SpanProfilesRequested())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
	})

	t.Run("enabled requires server address", func(t *testing.T) {
		_, err := NewProfiler(config.ProfilingConfig{Enabled: true}, "costing-test", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server address")
	})

	t.Run("enabled requires application name", func(t *testing.T) {
		_, err := NewProfiler(config.ProfilingConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "application name")
	})
}
