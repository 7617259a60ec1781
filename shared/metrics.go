package shared

import (
	"panic-button/sos"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts SOS gestures and their outcomes.
type Metrics struct {
	presses       prometheus.Counter
	cancellations prometheus.Counter
	inFlight      prometheus.Gauge
	alerts        *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		presses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sos_presses_total",
			Help: "Presses accepted by the SOS control.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sos_cancelled_total",
			Help: "Presses released before the hold threshold.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sos_alerts_in_flight",
			Help: "Alerts currently capturing telemetry or being submitted.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_alerts_total",
			Help: "Completed SOS gestures by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sos_alert_duration_seconds",
			Help:    "Time from the hold threshold to the end of the submission.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	registerer.MustRegister(metrics.presses, metrics.cancellations, metrics.inFlight,
		metrics.alerts, metrics.duration)

	return metrics
}

// ObserveTransition is registered with sos.Control.OnTransition.
func (metrics *Metrics) ObserveTransition(from, to sos.State) {
	switch {
	case from == sos.Idle && to == sos.Pressing:
		metrics.presses.Inc()

	case from == sos.Pressing && to == sos.Idle:
		metrics.cancellations.Inc()

	case to == sos.Sending:
		metrics.inFlight.Inc()

	case from == sos.Sending:
		metrics.inFlight.Dec()
	}
}

// Notify implements sos.Notifier.
func (metrics *Metrics) Notify(outcome sos.Outcome) {
	label := "succeeded"

	if !outcome.Succeeded() {
		label = "failed"
	}

	metrics.alerts.WithLabelValues(label, string(outcome.Kind())).Inc()
	metrics.duration.Observe(outcome.Finished.Sub(outcome.Started).Seconds())
}
