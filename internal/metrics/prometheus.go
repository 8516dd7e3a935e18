package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "dn_carry_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.Metrics = &Metrics{
		Ticks:             p.counter("ticks_total", "Total number of controller ticks."),
		Entries:           p.counter("entries_total", "Total number of completed entries."),
		EntryFailed:       p.counter("entry_failed_total", "Total number of entry sequences halted in DEGRADED."),
		Exits:             p.counter("exits_total", "Total number of completed exits."),
		ExitFailed:        p.counter("exit_failed_total", "Total number of exit sequences halted in DEGRADED."),
		VenueRetries:      p.counter("venue_retries_total", "Total number of venue call retries."),
		AmbiguousOutcomes: p.counter("ambiguous_outcomes_total", "Total number of venue calls whose outcome could not be resolved."),
		RiskBreaches:      p.counter("risk_breaches_total", "Total number of liquidation buffer breaches."),
		StaleSnapshots:    p.counter("stale_snapshots_total", "Total number of ticks skipped for stale or missing data."),
		TickRecordsDrop:   p.counter("tick_records_dropped_total", "Total number of tick records dropped by sinks."),
		NetAPY:            p.gauge("net_apy", "Latest net annualized yield estimate on collateral value."),
		LiquidationBuffer: p.gauge("liquidation_buffer", "Latest liquidation buffer in LTV points."),
		LTV:               p.gauge("ltv", "Latest loan-to-value."),
		DeltaDrift:        p.gauge("delta_drift", "Latest hedge mismatch as a fraction of collateral."),
		PerpMarginBuffer:  p.gauge("perp_margin_buffer", "Latest perp account value over maintenance margin, minus one."),
		LifecycleState:    p.gauge("lifecycle_state", "Current lifecycle state code."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) gauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return promGauge{g}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
