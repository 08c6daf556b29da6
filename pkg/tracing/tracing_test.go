package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "peerlink", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	assert.Equal(t, span, trace.SpanFromContext(ctx))
	span.End()
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx, attribute.String("test.key", "test.value"))
		RecordError(ctx, errors.New("test error"))
		MeasureDuration(ctx, time.Now().Add(-10*time.Millisecond), "test.operation")
	})
}

func TestTraceHelpers(t *testing.T) {
	ctx := context.Background()

	_, span := TraceHTTPRequest(ctx, "GET", "/api/v1/connections")
	require.NotNil(t, span)
	span.End()

	_, span = TraceWebSocketMessage(ctx, "offer", "conn-1")
	require.NotNil(t, span)
	span.End()

	_, span = TraceConnection(ctx, "create_offer", "conn-1")
	require.NotNil(t, span)
	span.End()

	_, span = TraceMedia(ctx, "acquire", "local")
	require.NotNil(t, span)
	span.End()
}
