package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	Cycles          Counter
	CyclesSkipped   Counter
	OrdersPlaced    Counter
	OrdersCancelled Counter
	OrdersFailed    Counter
	FillsObserved   Counter
	HedgesSucceeded Counter
	HedgesFailed    Counter
	BreakerTrips    Counter
	EmergencyHalts  Counter

	NetDelta       Gauge
	CooldownActive Gauge
	CycleSeconds   Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Cycles:          c,
		CyclesSkipped:   c,
		OrdersPlaced:    c,
		OrdersCancelled: c,
		OrdersFailed:    c,
		FillsObserved:   c,
		HedgesSucceeded: c,
		HedgesFailed:    c,
		BreakerTrips:    c,
		EmergencyHalts:  c,
		NetDelta:        g,
		CooldownActive:  g,
		CycleSeconds:    g,
	}
}
