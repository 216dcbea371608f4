package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the pipeline collectors.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	// publishTotal counts publish attempts by exchange and outcome.
	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_publish_total",
			Help: "Proposal publish attempts by exchange and outcome.",
		},
		[]string{"exchange", "outcome"},
	)

	sweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proposal_sweep_runs_total",
			Help: "Completed retry sweep runs.",
		},
	)

	// sweepPending is the number of Unsent proposals seen by the latest sweep.
	sweepPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proposal_sweep_pending",
			Help: "Proposals awaiting integration at the start of the last sweep.",
		},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_completions_total",
			Help: "Completion messages handled by outcome.",
		},
		[]string{"outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_notifications_total",
			Help: "Real-time notifications by outcome.",
		},
		[]string{"outcome"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proposal_ws_clients",
			Help: "Connected WebSocket observers.",
		},
	)
)

func init() {
	prometheus.MustRegister(publishTotal, sweepRuns, sweepPending, completionsTotal, notificationsTotal, wsClients)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObservePublish records one publish attempt.
func ObservePublish(exchange string, err error) {
	publishTotal.WithLabelValues(exchange, outcome(err)).Inc()
}

// ObserveSweep records a finished sweep and the backlog it started with.
func ObserveSweep(pending int) {
	sweepRuns.Inc()
	sweepPending.Set(float64(pending))
}

// ObserveCompletion records a handled completion with an explicit outcome label.
func ObserveCompletion(label string) {
	completionsTotal.WithLabelValues(label).Inc()
}

// ObserveNotification records one dispatch to the real-time topic.
func ObserveNotification(err error) {
	notificationsTotal.WithLabelValues(outcome(err)).Inc()
}

// SetWSClients publishes the current observer count.
func SetWSClients(n int) {
	wsClients.Set(float64(n))
}
