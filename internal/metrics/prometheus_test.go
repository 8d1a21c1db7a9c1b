package metrics_test

import (
	"testing"

	"github.com/pilab-dev/discord-verifier/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	// registering twice is tolerated
	require.NoError(t, metrics.Register(reg))

	assert.Error(t, metrics.Register(nil))
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	before := testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("failed"))
	metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("failed")), 0.001)

	metrics.VerificationsTotal.WithLabelValues("verified").Inc()
	n, err := testutil.GatherAndCount(reg, "discord_verifier_verifications_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
