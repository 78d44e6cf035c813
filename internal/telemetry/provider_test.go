package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/config"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), config.Telemetry{})
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.TracerProvider)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so no collector is needed here.
	p, err := Setup(context.Background(), config.Telemetry{
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "saksflyt-test",
	})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "probe")
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Flushing against a missing collector with a canceled context fails fast.
	_ = p.Shutdown(ctx)
}
