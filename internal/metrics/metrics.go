// Package metrics holds the Prometheus instrumentation for the probing and
// remediation loop: probe outcomes, emitted decision-engine actions, notify
// delivery, and the live size of each site's offline set.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus metrics exposed by the supervisor loop.
type Metrics struct {
	ProbesTotal     *prometheus.CounterVec
	ProbeDuration   *prometheus.HistogramVec
	ActionsTotal    *prometheus.CounterVec
	NotifyTotal     *prometheus.CounterVec
	RestartsTotal   *prometheus.CounterVec
	InactiveServers *prometheus.GaugeVec
}

// NewMetrics registers and returns the supervisor's metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backendwatch_probes_total",
			Help: "Total backend probes by site and outcome.",
		}, []string{"site", "outcome"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backendwatch_probe_duration_seconds",
			Help:    "Wall time of a site's probe pass divided by the number of backends probed, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"site"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backendwatch_decision_actions_total",
			Help: "Total decision-engine actions emitted, by site and kind.",
		}, []string{"site", "kind"}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backendwatch_notify_total",
			Help: "Total notification deliveries attempted, by site and result.",
		}, []string{"site", "result"}),
		RestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backendwatch_restarts_total",
			Help: "Total restart actions launched, by site and recover type.",
		}, []string{"site", "recover_type"}),
		InactiveServers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backendwatch_inactive_servers",
			Help: "Current number of backends believed offline, by site.",
		}, []string{"site"}),
	}

	reg.MustRegister(
		m.ProbesTotal,
		m.ProbeDuration,
		m.ActionsTotal,
		m.NotifyTotal,
		m.RestartsTotal,
		m.InactiveServers,
	)

	return m
}

// ObserveProbe records one probe's outcome and duration for a site.
func (m *Metrics) ObserveProbe(site, outcome string, durationSeconds float64) {
	m.ProbesTotal.WithLabelValues(site, outcome).Inc()
	m.ProbeDuration.WithLabelValues(site).Observe(durationSeconds)
}

// ObserveAction records one emitted decision-engine action.
func (m *Metrics) ObserveAction(site, kind string) {
	m.ActionsTotal.WithLabelValues(site, kind).Inc()
}

// ObserveNotify records the result of one notify delivery attempt.
func (m *Metrics) ObserveNotify(site, result string) {
	m.NotifyTotal.WithLabelValues(site, result).Inc()
}

// ObserveRestart records one restart action launch.
func (m *Metrics) ObserveRestart(site, recoverType string) {
	m.RestartsTotal.WithLabelValues(site, recoverType).Inc()
}

// SetInactive reports the current size of a site's offline set.
func (m *Metrics) SetInactive(site string, count int) {
	m.InactiveServers.WithLabelValues(site).Set(float64(count))
}
