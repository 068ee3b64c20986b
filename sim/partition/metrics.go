package partition

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the registry's prometheus collectors. Collectors are
// registered on the Registerer passed to NewMetrics, never on the global
// default registry, so concurrent runs each keep their own.
type Metrics struct {
	members     *prometheus.GaugeVec
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	samples     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		members: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "popsim",
			Name:      "partition_members",
			Help:      "Current number of members per partition",
		}, []string{"partition"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popsim",
			Name:      "partition_events_total",
			Help:      "Population events dispatched to partitions, by event kind",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popsim",
			Name:      "partition_transitions_total",
			Help:      "Index changes per partition, by direction (enter, exit, relocate)",
		}, []string{"partition", "direction"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popsim",
			Name:      "partition_samples_total",
			Help:      "Sample queries per partition, by result (hit, empty)",
		}, []string{"partition", "result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.members, m.events, m.transitions, m.samples} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering partition metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(key Key, p *Partition, before Stats) {
	after := p.stats
	k := string(key)
	m.members.WithLabelValues(k).Set(float64(p.Size()))
	if d := after.Entered - before.Entered; d > 0 {
		m.transitions.WithLabelValues(k, "enter").Add(float64(d))
	}
	if d := after.Exited - before.Exited; d > 0 {
		m.transitions.WithLabelValues(k, "exit").Add(float64(d))
	}
	if d := after.Relocated - before.Relocated; d > 0 {
		m.transitions.WithLabelValues(k, "relocate").Add(float64(d))
	}
}

func (m *Metrics) forget(key Key) {
	k := string(key)
	m.members.DeleteLabelValues(k)
	for _, dir := range []string{"enter", "exit", "relocate"} {
		m.transitions.DeleteLabelValues(k, dir)
	}
	for _, res := range []string{"hit", "empty"} {
		m.samples.DeleteLabelValues(k, res)
	}
}
