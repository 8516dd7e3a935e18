package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Ticks.Inc()
	prom.Metrics.Ticks.Inc()
	prom.Metrics.EntryFailed.Inc()
	prom.Metrics.RiskBreaches.Inc()

	assertCounter(t, prom.counters["ticks_total"], 2)
	assertCounter(t, prom.counters["entry_failed_total"], 1)
	assertCounter(t, prom.counters["risk_breaches_total"], 1)
	assertCounter(t, prom.counters["exits_total"], 0)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.LiquidationBuffer.Set(0.1333)
	prom.Metrics.LifecycleState.Set(LifecycleCode("DEGRADED"))
	prom.Metrics.PerpMarginBuffer.Set(0.0667)

	if got := testutil.ToFloat64(prom.gauges["liquidation_buffer"]); got != 0.1333 {
		t.Fatalf("expected 0.1333, got %v", got)
	}
	if got := testutil.ToFloat64(prom.gauges["perp_margin_buffer"]); got != 0.0667 {
		t.Fatalf("expected 0.0667, got %v", got)
	}
	if got := testutil.ToFloat64(prom.gauges["lifecycle_state"]); got != 6 {
		t.Fatalf("expected 6, got %v", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Ticks.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "dn_carry_bot_ticks_total 1") {
		t.Fatalf("expected ticks counter in output, got %s", body)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.Ticks.Inc()
	m.NetAPY.Set(1)
	if LifecycleCode("UNKNOWN") != -1 {
		t.Fatalf("expected -1 for unknown state")
	}
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
