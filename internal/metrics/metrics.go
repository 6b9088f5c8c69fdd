// Package metrics reinstates the administrative reporting surface of
// original_source/include/bitcoin/node/events.hpp: a superset of chase-bus
// tags used purely for timing and counting, distinct from the chain-progress
// events carried on internal/eventbus.Bus. Observations are exported via
// github.com/prometheus/client_golang/prometheus, the metrics dependency
// this module's domain stack carries for per-peer and per-stage reporting.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Event identifies one administrative reporting point.
type Event uint8

const (
	// Candidate chain.
	HeaderArchived Event = iota
	HeaderOrganized
	HeaderReorganized

	// Blocks.
	BlockArchived
	BlockBuffered
	BlockValidated
	BlockConfirmed
	BlockUnconfirmable
	ValidateBypassed
	ConfirmBypassed

	// Transactions.
	TxArchived
	TxValidated
	TxInvalidated

	// Confirmed chain.
	BlockOrganized
	BlockReorganized

	// Mining.
	TemplateIssued
)

var eventNames = map[Event]string{
	HeaderArchived: "header_archived", HeaderOrganized: "header_organized",
	HeaderReorganized: "header_reorganized", BlockArchived: "block_archived",
	BlockBuffered: "block_buffered", BlockValidated: "block_validated",
	BlockConfirmed: "block_confirmed", BlockUnconfirmable: "block_unconfirmable",
	ValidateBypassed: "validate_bypassed", ConfirmBypassed: "confirm_bypassed",
	TxArchived: "tx_archived", TxValidated: "tx_validated",
	TxInvalidated: "tx_invalidated", BlockOrganized: "block_organized",
	BlockReorganized: "block_reorganized", TemplateIssued: "template_issued",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

var eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "node",
	Subsystem: "events",
	Name:      "total",
	Help:      "Count of administrative reporting events by kind.",
}, []string{"event"})

// Count records one occurrence of event.
func Count(event Event) {
	eventCounter.WithLabelValues(event.String()).Inc()
}

// timespanHistogram backs the *_msecs/*_secs timespan events
// (snapshot_secs, reload_msecs, block_msecs, ancestry_msecs, filter_msecs,
// filterhashes_msecs, filterchecks_msecs, prune_msecs).
var timespanHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "node",
	Subsystem: "events",
	Name:      "timespan_seconds",
	Help:      "Duration of administrative operations, by kind.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

// Timespan kinds, named after their events.hpp counterparts.
const (
	SnapshotTimespan       = "snapshot_secs"
	PruneTimespan          = "prune_msecs"
	ReloadTimespan         = "reload_msecs"
	BlockTimespan          = "block_msecs"
	AncestryTimespan       = "ancestry_msecs"
	FilterTimespan         = "filter_msecs"
	FilterHashesTimespan   = "filterhashes_msecs"
	FilterChecksTimespan   = "filterchecks_msecs"
)

// ObserveTimespan records a duration, in seconds, against kind.
func ObserveTimespan(kind string, seconds float64) {
	timespanHistogram.WithLabelValues(kind).Observe(seconds)
}

// Register adds this package's collectors to reg, for wiring into
// cmd/node's metrics HTTP endpoint. Safe to call once per registry.
func Register(reg prometheus.Registerer) error {
	if err := reg.Register(eventCounter); err != nil {
		return err
	}
	return reg.Register(timespanHistogram)
}
