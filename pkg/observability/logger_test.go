package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("invoice_id", 7).Debug("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, float64(7), entry["invoice_id"])
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LogConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")

	FromContext(ctx).Info("handled")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "req-1", hook.LastEntry().Data["request_id"])
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestWithTraceContext(t *testing.T) {
	logger, hook := test.NewNullLogger()

	WithTraceContext(context.Background(), logger).Info("no span")
	assert.NotContains(t, hook.LastEntry().Data, "trace_id")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	WithTraceContext(ctx, logger).Info("with span")
	assert.Equal(t, span.SpanContext().TraceID().String(), hook.LastEntry().Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), hook.LastEntry().Data["span_id"])
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	}()

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "PANIC recovered", hook.LastEntry().Message)
	assert.Equal(t, "worker", hook.LastEntry().Data["context"])
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
		panic("again")
	}()
	assert.True(t, called)

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
