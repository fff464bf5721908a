// Package metrics exports Prometheus counters for the ledger write path and
// the verification service. A nil *Collector is a no-op, so callers never
// guard their observations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the service's Prometheus instruments.
type Collector struct {
	transitionsTotal  *prometheus.CounterVec
	appendConflicts   prometheus.Counter
	appendDuration    prometheus.Histogram
	contentMismatches prometheus.Counter
	corruptionTotal   prometheus.Counter
	verificationsRun  *prometheus.CounterVec
}

// NewCollector registers the ledger instruments with the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blocksentinel",
			Name:      "ledger_transitions_total",
			Help:      "Chain entries appended, by payload kind",
		}, []string{"kind"}),
		appendConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blocksentinel",
			Name:      "ledger_append_conflicts_total",
			Help:      "Optimistic append attempts that lost the head race",
		}),
		appendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blocksentinel",
			Name:      "ledger_append_duration_seconds",
			Help:      "End to end latency of accepted transitions, retries included",
			Buckets:   prometheus.DefBuckets,
		}),
		contentMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blocksentinel",
			Name:      "content_hash_mismatches_total",
			Help:      "Rejected attachments whose content did not match its claimed hash",
		}),
		corruptionTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blocksentinel",
			Name:      "chain_corruption_detected_total",
			Help:      "Reads that found a lane inconsistent with its stored head",
		}),
		verificationsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blocksentinel",
			Name:      "verifications_total",
			Help:      "Verification runs, by outcome",
		}, []string{"outcome"}),
	}
}

func (c *Collector) TransitionApplied(kind string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) AppendConflict() {
	if c == nil {
		return
	}
	c.appendConflicts.Inc()
}

func (c *Collector) AppendLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.appendDuration.Observe(d.Seconds())
}

func (c *Collector) ContentMismatch() {
	if c == nil {
		return
	}
	c.contentMismatches.Inc()
}

func (c *Collector) CorruptionDetected() {
	if c == nil {
		return
	}
	c.corruptionTotal.Inc()
}

func (c *Collector) VerificationCompleted(valid bool) {
	if c == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	c.verificationsRun.WithLabelValues(outcome).Inc()
}
