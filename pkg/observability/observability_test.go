package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("report_id", "r-123").Info("token issued")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token issued", entry["msg"])
	assert.Equal(t, "r-123", entry["report_id"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	assert.Empty(t, buf.String())

	logger.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("request failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])

	// nil error leaves the logger unchanged
	same := logger.WithError(nil)
	assert.Same(t, logger, same)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARN"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("info"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	got := GetLogger(ctx)
	assert.Same(t, logger, got)

	// FromContext on a bare context still returns a usable logger
	fallback := FromContext(context.Background())
	assert.NotNil(t, fallback)
}

func TestMetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.CacheHitsTotal.WithLabelValues("embed_credentials").Inc()
	metrics.CacheHitsTotal.WithLabelValues("embed_credentials").Inc()
	metrics.TokensIssuedTotal.WithLabelValues("r-1").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("embed_credentials")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TokensIssuedTotal.WithLabelValues("r-1")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/reports", "418")))
}

func TestHealthCheckerAllHealthy(t *testing.T) {
	checker := NewHealthChecker("1.2.3")
	checker.AddProbe("platform", func(ctx context.Context) error { return nil })
	checker.AddProbe("identity", func(ctx context.Context) error { return nil })

	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Len(t, status.Dependencies, 2)
}

func TestHealthCheckerRequiredFailureIsUnhealthy(t *testing.T) {
	checker := NewHealthChecker("1.2.3")
	checker.AddProbe("platform", func(ctx context.Context) error { return errors.New("connection refused") })

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["platform"].Status)
	assert.Contains(t, status.Dependencies["platform"].Message, "connection refused")
}

func TestHealthCheckerOptionalFailureIsDegraded(t *testing.T) {
	checker := NewHealthChecker("1.2.3")
	checker.AddProbe("platform", func(ctx context.Context) error { return nil })
	checker.AddOptionalProbe("redis", func(ctx context.Context) error { return errors.New("down") })

	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
}

func TestReadinessEndpoint(t *testing.T) {
	checker := NewHealthChecker("dev")
	checker.AddProbe("platform", func(ctx context.Context) error { return errors.New("unreachable") })

	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	func() {
		defer RecoverPanic(logger, "test operation")
		panic("kaboom")
	}()

	assert.Contains(t, buf.String(), "kaboom")
	assert.Contains(t, buf.String(), "test operation")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)
	called := false

	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
		panic("kaboom")
	}()

	assert.True(t, called)
}
