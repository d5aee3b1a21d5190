package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LifeContext/lifecontext-sub000/config"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, tracer, err := SetupTelemetry(context.Background(), config.TelemetryConfig{ServiceName: "lifecontext"}, TelemetryOptions{})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetryShutdown(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}
