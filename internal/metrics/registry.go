// Package metrics exposes scrape-time Prometheus metrics derived from the
// snapshot store, alongside the counters registered by the refresh and feed
// packages.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// Collector is implemented by metric sources that compute their values when
// scraped.
type Collector interface {
	// Name returns the human-readable name of the collector (e.g. "snapshots").
	Name() string
	Describe(ch chan<- *prometheus.Desc)
	Collect(ch chan<- prometheus.Metric)
}

// Registry holds the scrape-time collectors and implements the
// prometheus.Collector interface so it can be registered with a
// prometheus.Registry directly.
type Registry struct {
	collectors []Collector
	mu         sync.RWMutex
	logger     *logrus.Entry
}

// compile-time check
var _ prometheus.Collector = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		logger: logger.WithField("component", "metrics"),
	}
}

// Register adds a collector to the registry.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, c)
	r.logger.WithField("collector", c.Name()).Info("registered collector")
}

// Collectors returns a snapshot of all registered collectors.
func (r *Registry) Collectors() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collector, len(r.collectors))
	copy(out, r.collectors)
	return out
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range r.Collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, c := range r.Collectors() {
		c.Collect(ch)
	}
}

// NewGatherer builds the Prometheus registry served on /metrics: Go runtime
// and process collectors, r, and any extra collectors.
func NewGatherer(r *Registry, extra ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	all := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r,
	}, extra...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
