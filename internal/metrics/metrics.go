package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	Ticks             Counter
	Entries           Counter
	EntryFailed       Counter
	Exits             Counter
	ExitFailed        Counter
	VenueRetries      Counter
	AmbiguousOutcomes Counter
	RiskBreaches      Counter
	StaleSnapshots    Counter
	TickRecordsDrop   Counter

	NetAPY            Gauge
	LiquidationBuffer Gauge
	LTV               Gauge
	DeltaDrift        Gauge
	PerpMarginBuffer  Gauge
	LifecycleState    Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Ticks:             n,
		Entries:           n,
		EntryFailed:       n,
		Exits:             n,
		ExitFailed:        n,
		VenueRetries:      n,
		AmbiguousOutcomes: n,
		RiskBreaches:      n,
		StaleSnapshots:    n,
		TickRecordsDrop:   n,
		NetAPY:            g,
		LiquidationBuffer: g,
		LTV:               g,
		DeltaDrift:        g,
		PerpMarginBuffer:  g,
		LifecycleState:    g,
	}
}

// LifecycleCode maps lifecycle names onto a stable gauge value.
func LifecycleCode(state string) float64 {
	switch state {
	case "IDLE":
		return 0
	case "EVALUATING":
		return 1
	case "ENTERING":
		return 2
	case "ACTIVE":
		return 3
	case "MONITORING":
		return 4
	case "EXITING":
		return 5
	case "DEGRADED":
		return 6
	default:
		return -1
	}
}
