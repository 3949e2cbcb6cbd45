package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "mm_hedge_bot"

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

	cycles          prometheus.Counter
	cyclesSkipped   prometheus.Counter
	ordersPlaced    prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersFailed    prometheus.Counter
	fillsObserved   prometheus.Counter
	hedgesSucceeded prometheus.Counter
	hedgesFailed    prometheus.Counter
	breakerTrips    prometheus.Counter
	emergencyHalts  prometheus.Counter
	netDelta        prometheus.Gauge
	cooldownActive  prometheus.Gauge
	cycleSeconds    prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}

	p := &Prometheus{
		registry:        registry,
		cycles:          counter("cycles_total", "Total number of control-loop cycles run."),
		cyclesSkipped:   counter("cycles_skipped_total", "Total number of cycles skipped on snapshot fetch failure."),
		ordersPlaced:    counter("orders_placed_total", "Total number of resting orders placed."),
		ordersCancelled: counter("orders_cancelled_total", "Total number of resting orders cancelled."),
		ordersFailed:    counter("orders_failed_total", "Total number of order placement or cancel failures."),
		fillsObserved:   counter("fills_observed_total", "Total number of maker fills observed."),
		hedgesSucceeded: counter("hedges_succeeded_total", "Total number of hedge executions that resolved successfully."),
		hedgesFailed:    counter("hedges_failed_total", "Total number of hedge executions that failed."),
		breakerTrips:    counter("breaker_trips_total", "Total number of circuit breaker activations."),
		emergencyHalts:  counter("emergency_halts_total", "Total number of manual-intervention halts."),
		netDelta:        gauge("net_delta", "Current combined position delta across both venues."),
		cooldownActive:  gauge("breaker_cooldown_active", "1 while the circuit breaker cooldown is running."),
		cycleSeconds:    gauge("cycle_seconds", "Duration of the most recent control-loop cycle."),
	}
	registry.MustRegister(
		p.cycles, p.cyclesSkipped,
		p.ordersPlaced, p.ordersCancelled, p.ordersFailed,
		p.fillsObserved,
		p.hedgesSucceeded, p.hedgesFailed,
		p.breakerTrips, p.emergencyHalts,
		p.netDelta, p.cooldownActive, p.cycleSeconds,
	)

	p.Metrics = &Metrics{
		Cycles:          promCounter{p.cycles},
		CyclesSkipped:   promCounter{p.cyclesSkipped},
		OrdersPlaced:    promCounter{p.ordersPlaced},
		OrdersCancelled: promCounter{p.ordersCancelled},
		OrdersFailed:    promCounter{p.ordersFailed},
		FillsObserved:   promCounter{p.fillsObserved},
		HedgesSucceeded: promCounter{p.hedgesSucceeded},
		HedgesFailed:    promCounter{p.hedgesFailed},
		BreakerTrips:    promCounter{p.breakerTrips},
		EmergencyHalts:  promCounter{p.emergencyHalts},
		NetDelta:        promGauge{p.netDelta},
		CooldownActive:  promGauge{p.cooldownActive},
		CycleSeconds:    promGauge{p.cycleSeconds},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
