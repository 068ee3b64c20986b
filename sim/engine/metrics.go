package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run loop's prometheus collectors.
type Metrics struct {
	population prometheus.Gauge
	clock      prometheus.Gauge
	plans      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		population: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "popsim",
			Name:      "population_size",
			Help:      "Number of live people",
		}),
		clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "popsim",
			Name:      "clock_ticks",
			Help:      "Tick of the most recently executed plan",
		}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popsim",
			Name:      "plans_executed_total",
			Help:      "Executed plans, by owning actor",
		}, []string{"owner"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.population, m.clock, m.plans} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering engine metrics: %w", err)
		}
	}
	return m, nil
}
