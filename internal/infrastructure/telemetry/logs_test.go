package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogsConfigFrom(t *testing.T) {
	cfg := LogsConfigFrom(config.TelemetryConfig{
		Enabled:           true,
		LogsEnabled:       false,
		CollectorEndpoint: "collector:4317",
		ServiceName:       "stockledger",
	}, "1.2.0")

	assert.False(t, cfg.Enabled, "logs need both switches")
	assert.Equal(t, "collector:4317", cfg.CollectorEndpoint)
	assert.Equal(t, "1.2.0", cfg.ServiceVersion)
}

func TestNewLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	lp, err := NewLoggerProvider(ctx, LogsConfig{ServiceName: "stockledger"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.Equal(t, "stockledger", lp.GetConfig().ServiceName)
	assert.NoError(t, lp.ForceFlush(ctx))
	assert.NoError(t, lp.Shutdown(ctx))
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestNewLoggerProvider_EnabledWithoutCollector(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping exporter test in short mode")
	}
	ctx := context.Background()

	// the gRPC exporter connects lazily, so creation succeeds without a collector
	lp, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "stockledger",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, lp.IsEnabled())

	core := NewZapOTELCore("stockledger", lp, zapcore.WarnLevel)
	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = lp.Shutdown(shutdownCtx)
}

func TestNewZapOTELCore_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, zap.NewNop())
	require.NoError(t, err)

	for _, provider := range []*LoggerProvider{nil, lp} {
		core := NewZapOTELCore("stockledger", provider, zapcore.InfoLevel)
		assert.False(t, core.Enabled(zapcore.ErrorLevel))
	}
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}

	logger := zap.New(core).With(zap.String("component", "ledger"))
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept too")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "ledger", entry.ContextMap()["component"])
}

func TestNewBridgedLogger(t *testing.T) {
	base, baseLogs := observer.New(zapcore.InfoLevel)
	other, otherLogs := observer.New(zapcore.ErrorLevel)

	logger := NewBridgedLogger(base, other)
	logger.Info("info")
	logger.Error("error")

	assert.Equal(t, 2, baseLogs.Len())
	assert.Equal(t, 1, otherLogs.Len())
}
