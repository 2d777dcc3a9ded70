// Package metrics exposes Prometheus counters for bindings, the batcher and
// the refresh provider.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector in their Config without nil checks at every call site.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "regbind"

// Collector holds the registered metric vectors.
type Collector struct {
	reads     *prometheus.CounterVec
	writes    *prometheus.CounterVec
	coalesced *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failures  *prometheus.CounterVec

	batchReads  *prometheus.CounterVec
	singleReads prometheus.Counter

	pollPasses prometheus.Counter
	pollOps    prometheus.Counter
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "reads_total",
			Help:      "Total number of ReadValue calls issued by bindings",
		}, []string{"qualifier"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "writes_total",
			Help:      "Total number of WriteValue calls issued by bindings",
		}, []string{"qualifier"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "coalesced_total",
			Help:      "Requests merged into an in-flight or queued operation",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "dropped_total",
			Help:      "Requests dropped by qualifier policy",
		}, []string{"qualifier", "kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "failures_total",
			Help:      "Failed target operations",
		}, []string{"kind"}),
		batchReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "multi_reads_total",
			Help:      "Multi-register reads issued, by run length",
		}, []string{"length"}),
		singleReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "single_reads_total",
			Help:      "Single-register reads issued by the batcher",
		}),
		pollPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "passes_total",
			Help:      "Completed refresh passes",
		}),
		pollOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "operations_total",
			Help:      "Operations reported by refreshers",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.reads, c.writes, c.coalesced, c.dropped, c.failures,
		c.batchReads, c.singleReads, c.pollPasses, c.pollOps,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Read records a binding read.
func (c *Collector) Read(qualifier string) {
	if c == nil {
		return
	}
	c.reads.WithLabelValues(qualifier).Inc()
}

// Write records a binding write.
func (c *Collector) Write(qualifier string) {
	if c == nil {
		return
	}
	c.writes.WithLabelValues(qualifier).Inc()
}

// Coalesced records a request merged into existing work ("read" or "write").
func (c *Collector) Coalesced(kind string) {
	if c == nil {
		return
	}
	c.coalesced.WithLabelValues(kind).Inc()
}

// Dropped records a request discarded by a qualifier policy.
func (c *Collector) Dropped(qualifier, kind string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(qualifier, kind).Inc()
}

// Failure records a failed read or write.
func (c *Collector) Failure(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

// BatchRead records one multi-register read of n registers.
func (c *Collector) BatchRead(n int) {
	if c == nil {
		return
	}
	c.batchReads.WithLabelValues(strconv.Itoa(n)).Inc()
}

// SingleRead records one single-register read from the batcher.
func (c *Collector) SingleRead() {
	if c == nil {
		return
	}
	c.singleReads.Inc()
}

// PollPass records a completed refresh pass that performed ops operations.
func (c *Collector) PollPass(ops int) {
	if c == nil {
		return
	}
	c.pollPasses.Inc()
	c.pollOps.Add(float64(ops))
}
