package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeNoRefreshToken = "no_refresh_token"
	OutcomeReused         = "reused"
)

// Metrics counts refresh and session activity. A nil *Metrics is a no-op.
type Metrics struct {
	refreshTotal     *prometheus.CounterVec
	retriesTotal     prometheus.Counter
	transitionsTotal *prometheus.CounterVec
	refreshInFlight  prometheus.Gauge
	refreshDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authclient_refresh_total",
				Help: "Token refresh attempts by outcome.",
			},
			[]string{"outcome"},
		),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authclient_request_retries_total",
			Help: "Requests re-sent after a 401 and a refresh.",
		}),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authclient_session_transitions_total",
				Help: "Session state transitions by target state.",
			},
			[]string{"to"},
		),
		refreshInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authclient_refresh_in_flight",
			Help: "Refresh calls currently on the network.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authclient_refresh_duration_seconds",
			Help:    "Refresh call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshTotal, m.retriesTotal, m.transitionsTotal, m.refreshInFlight, m.refreshDuration)
	}
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

// RefreshStarted marks a refresh call on the network and returns the func that ends it.
func (m *Metrics) RefreshStarted() func() {
	if m == nil {
		return func() {}
	}
	m.refreshInFlight.Inc()
	timer := prometheus.NewTimer(m.refreshDuration)
	return func() {
		timer.ObserveDuration()
		m.refreshInFlight.Dec()
	}
}

// RefreshCount returns the counter for outcome, for tests and status output.
func (m *Metrics) RefreshCount(outcome string) prometheus.Counter {
	return m.refreshTotal.WithLabelValues(outcome)
}

func (m *Metrics) RetryCount() prometheus.Counter {
	return m.retriesTotal
}

func (m *Metrics) TransitionCount(to string) prometheus.Counter {
	return m.transitionsTotal.WithLabelValues(to)
}
