package tracing

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTraceparentWithoutSpan(t *testing.T) {
	assert.Equal(t, "", W3CTraceparent(context.Background()))
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectTraceparent(context.Background(), req)
	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestTraceparentFromSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	got := W3CTraceparent(ctx)
	parts := strings.Split(got, "-")
	require.Len(t, parts, 4)
	assert.Equal(t, "00", parts[0])
	assert.Equal(t, span.SpanContext().TraceID().String(), parts[1])

	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	InjectTraceparent(ctx, req)
	assert.Equal(t, got, req.Header.Get("traceparent"))
}
