/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelProfile = "profile"
	metricsLabelDryRun  = "dry_run"
)

const (
	metricsValYes = "yes"
	metricsValNo  = "no"
)

// MetricsCollector represents a collector of metrics for rate limiting decisions.
type MetricsCollector interface {
	// IncAllows increments the total number of allowed requests for the profile.
	IncAllows(profileName string)

	// IncRejects increments the total number of rejected requests for the profile.
	IncRejects(profileName string, dryRun bool)
}

// PrometheusMetrics represents Prometheus metrics for rate limiting decisions.
type PrometheusMetrics struct {
	Allows  *prometheus.CounterVec
	Rejects *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	allows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_allows_total",
		Help:      "Number of allowed requests per rate limiting profile.",
	}, []string{metricsLabelProfile})

	rejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejects_total",
		Help:      "Number of rejected requests due to rate limit exceeded.",
	}, []string{metricsLabelProfile, metricsLabelDryRun})

	return &PrometheusMetrics{Allows: allows, Rejects: rejects}
}

// IncAllows implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncAllows(profileName string) {
	pm.Allows.With(prometheus.Labels{metricsLabelProfile: profileName}).Inc()
}

// IncRejects implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncRejects(profileName string, dryRun bool) {
	dryRunVal := metricsValNo
	if dryRun {
		dryRunVal = metricsValYes
	}
	pm.Rejects.With(prometheus.Labels{metricsLabelProfile: profileName, metricsLabelDryRun: dryRunVal}).Inc()
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Allows, pm.Rejects)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Allows)
	prometheus.Unregister(pm.Rejects)
}

type disabledMetrics struct{}

func (disabledMetrics) IncAllows(string)        {}
func (disabledMetrics) IncRejects(string, bool) {}
