package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{Enabled: false}, &buf)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Zero(t, buf.Len())
}

func TestInitExportsSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		Enabled:     true,
		ServiceName: "debugtimeline-test",
		SampleRatio: 1,
	}, &buf)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "step")
	span.End()

	// Shutdown flushes the batcher
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"step"`)
	assert.Contains(t, buf.String(), "debugtimeline-test")
}
