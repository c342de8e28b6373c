// Package metrics holds the Prometheus collectors exported by pac-server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pac"

// Metrics groups the collectors on a private registry so tests and multiple
// servers in one process never collide on the default registry.
type Metrics struct {
	Registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	lastSuccess     prometheus.Gauge
	rules           prometheus.Gauge
	domains         prometheus.Gauge
	artifactBytes   prometheus.Gauge
	snapshotVersion prometheus.Gauge
	checks          *prometheus.CounterVec
	requests        *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "total",
			Help:      "Count of refresh cycles by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Time (in seconds) each refresh cycle took.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastSuccess: newGauge("refresh", "last_success_timestamp", "Last time a refresh cycle replaced the script."),
		rules:       newGauge("compile", "rules", "Count of rules in the last compiled list."),
		domains:     newGauge("compile", "domains", "Count of reduced domains in the last fast-mode script."),
		artifactBytes: newGauge("compile", "artifact_bytes",
			"Size of the last rendered script in bytes."),
		snapshotVersion: newGauge("snapshot", "version", "Version of the latest persisted snapshot."),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "total",
			Help:      "Count of host checks by decision.",
		}, []string{"decision"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshes,
		m.refreshDuration,
		m.lastSuccess,
		m.rules,
		m.domains,
		m.artifactBytes,
		m.snapshotVersion,
		m.checks,
		m.requests,
	)
	return m
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// RefreshSucceeded records a successful cycle.
func (m *Metrics) RefreshSucceeded(d time.Duration, at time.Time, rules, domains, size int, version uint64) {
	m.refreshes.WithLabelValues("success").Inc()
	m.refreshDuration.Observe(d.Seconds())
	m.lastSuccess.Set(float64(at.Unix()))
	m.rules.Set(float64(rules))
	m.domains.Set(float64(domains))
	m.artifactBytes.Set(float64(size))
	m.snapshotVersion.Set(float64(version))
}

// RefreshFailed records a failed cycle.
func (m *Metrics) RefreshFailed(d time.Duration) {
	m.refreshes.WithLabelValues("failure").Inc()
	m.refreshDuration.Observe(d.Seconds())
}

// RefreshSkipped records a cycle that did not run because another was in flight.
func (m *Metrics) RefreshSkipped() {
	m.refreshes.WithLabelValues("skipped").Inc()
}

// Checked records a host check.
func (m *Metrics) Checked(proxied bool) {
	if proxied {
		m.checks.WithLabelValues("proxy").Inc()
		return
	}
	m.checks.WithLabelValues("direct").Inc()
}

// Request records an HTTP response.
func (m *Metrics) Request(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}
