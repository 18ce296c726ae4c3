/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics("test")
	pm.MustRegister()
	defer pm.Unregister()

	next, _ := makeNext()
	handler := MustRateLimitWithOpts(makeTestEngine(t), "authentication", RateLimitOpts{
		MetricsCollector: pm,
	})(next)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, 3, int(testutil.ToFloat64(pm.Allows.WithLabelValues("authentication"))))
	require.Equal(t, 2, int(testutil.ToFloat64(pm.Rejects.WithLabelValues("authentication", metricsValNo))))
	require.Equal(t, 0, int(testutil.ToFloat64(pm.Rejects.WithLabelValues("authentication", metricsValYes))))
}

func TestPrometheusMetricsDryRun(t *testing.T) {
	pm := NewPrometheusMetrics("test_dry_run")
	pm.MustRegister()
	defer pm.Unregister()

	next, servedCount := makeNext()
	handler := MustRateLimitWithOpts(makeTestEngine(t), "authentication", RateLimitOpts{
		DryRun:           true,
		MetricsCollector: pm,
	})(next)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, 5, int(servedCount.Load()))
	require.Equal(t, 3, int(testutil.ToFloat64(pm.Allows.WithLabelValues("authentication"))))
	require.Equal(t, 2, int(testutil.ToFloat64(pm.Rejects.WithLabelValues("authentication", metricsValYes))))
}
