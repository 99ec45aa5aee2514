// Package prom adapts the store.Metrics interface to Prometheus
// collectors.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/userkv/userkv/store"
)

// Adapter implements store.Metrics and exports Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric
// types are goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   prometheus.Counter
	indexed  prometheus.Gauge
	resident prometheus.Gauge
	load     prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Store hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Store misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evictions_total",
			Help:        "Records evicted by the recency window",
			ConstLabels: constLabels,
		}),
		indexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "indexed_records",
			Help:        "Records linked in the hash index",
			ConstLabels: constLabels,
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "resident_records",
			Help:        "Records resident in the recency window",
			ConstLabels: constLabels,
		}),
		load: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "index_load_factor",
			Help:        "Hash index load factor",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.indexed, a.resident, a.load)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter.
func (a *Adapter) Evict() { a.evicts.Inc() }

// Size updates the gauges for indexed and resident record counts.
func (a *Adapter) Size(indexed, resident int) {
	a.indexed.Set(float64(indexed))
	a.resident.Set(float64(resident))
}

// LoadFactor updates the load factor gauge.
func (a *Adapter) LoadFactor(lf float64) { a.load.Set(lf) }

// Compile-time check: ensure Adapter implements store.Metrics.
var _ store.Metrics = (*Adapter)(nil)
