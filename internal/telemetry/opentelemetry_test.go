package telemetry_test

import (
	"context"
	"testing"

	"github.com/pilab-dev/discord-verifier/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitMeterProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp, err := telemetry.InitMeterProvider(reg)
	require.NoError(t, err)

	counter, err := otel.Meter("test").Int64Counter("lookups")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "lookups_total")

	require.NoError(t, telemetry.Shutdown(context.Background(), nil, mp))
}

func TestShutdown_Nil(t *testing.T) {
	assert.NoError(t, telemetry.Shutdown(context.Background(), nil, nil))
}
