// Package metrics exports generator progress as Prometheus metrics.
//
// A Collector is a generator.Observer with its own registry, so several
// runs in one process never share counters. After a run the registry can be
// written to a node-exporter style text file with WriteTextfile.
package metrics

import (
	"fmt"

	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pathsim"

// Collector counts draws, acceptances and rejections. It is safe for
// concurrent use.
type Collector struct {
	registry *prometheus.Registry

	drawn    prometheus.Counter
	accepted prometheus.Counter
	rejected *prometheus.CounterVec
	orders   *prometheus.CounterVec
	batches  prometheus.Histogram
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		drawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuits_drawn_total",
			Help:      "Candidate circuits sampled from the weighted pools.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuits_accepted_total",
			Help:      "Candidate circuits that passed every restriction.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuits_rejected_total",
			Help:      "Candidate circuits removed, by the restriction that removed them.",
		}, []string{"predicate"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Finished orders by final state.",
		}, []string{"outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batches_per_order",
			Help:      "Generator iterations needed per order.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}),
	}
	c.registry.MustRegister(c.drawn, c.accepted, c.rejected, c.orders, c.batches)
	return c
}

// Registry exposes the collector's registry, e.g. for an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// BatchEvaluated implements generator.Observer.
func (c *Collector) BatchEvaluated(ev generator.BatchEvent) {
	c.drawn.Add(float64(ev.Drawn))
	c.accepted.Add(float64(ev.Accepted))
	for _, r := range ev.Rejections {
		c.rejected.WithLabelValues(r.Predicate).Add(float64(r.Count))
	}
}

// OrderFinished implements generator.Observer.
func (c *Collector) OrderFinished(ev generator.OrderEvent) {
	c.orders.WithLabelValues(ev.State.String()).Inc()
	c.batches.Observe(float64(ev.Batches))
}

// WriteTextfile writes every metric to path in the Prometheus text format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

var _ generator.Observer = (*Collector)(nil)
