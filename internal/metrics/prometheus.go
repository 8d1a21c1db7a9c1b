package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "discord_verifier"

// Collectors are created eagerly so recording never has to nil-check.
var (
	VerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Verification callbacks by outcome.",
	}, []string{"outcome"})

	ReputationChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reputation_checks_total",
		Help:      "IP reputation checks by result (clean, flagged, error, skipped).",
	}, []string{"result"})

	EnrichmentFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_failures_total",
		Help:      "Best-effort enrichment steps that failed and were skipped.",
	}, []string{"step"})

	WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Audit webhook deliveries by result.",
	}, []string{"result"})

	VerificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "verification_duration_seconds",
		Help:      "Time spent handling one verification callback.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})
)

// Register registers every collector with reg. Already registered collectors are not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		return errors.New("prometheus registerer is nil")
	}

	collectors := []prometheus.Collector{
		VerificationsTotal,
		ReputationChecksTotal,
		EnrichmentFailuresTotal,
		WebhookDeliveriesTotal,
		VerificationDuration,
	}

	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
