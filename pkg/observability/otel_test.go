package observability

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), OTelConfig{Enabled: false}, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestInitTracing_MissingEndpoint(t *testing.T) {
	_, err := InitTracing(context.Background(), OTelConfig{Enabled: true}, discardLogger())
	assert.Error(t, err)
}

func TestShutdownTracing(t *testing.T) {
	require.NoError(t, ShutdownTracing(context.Background(), nil, discardLogger()))

	tp := sdktrace.NewTracerProvider()
	require.NoError(t, ShutdownTracing(context.Background(), tp, discardLogger()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
