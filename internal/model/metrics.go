package model

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// TelemetryMetrics is the set of optional per-hop measurements an INT
// switch may contribute. Every scalar field is optional: a hop may
// report only some of them. Custom preserves insertion order, matching
// the indexmap::IndexMap the original engine keeps for operator-defined
// metrics that don't fit the fixed scalar set.
type TelemetryMetrics struct {
	QueueUtil    *float64 // fraction in [0.0, 1.0]
	DelayNs      *uint64
	BandwidthBps *uint64
	DropCount    *uint64
	EgressPort   *uint32
	IngressPort  *uint32
	Custom       *orderedmap.OrderedMap[string, any]
}

// WithBasicMetrics builds a TelemetryMetrics carrying only queue
// utilization and delay, the common case for synthetic/test flows.
func WithBasicMetrics(queueUtil float64, delayNs uint64) TelemetryMetrics {
	return TelemetryMetrics{
		QueueUtil: &queueUtil,
		DelayNs:   &delayNs,
	}
}

// AddCustomMetric records a named custom measurement, creating the
// backing map on first use.
func (m *TelemetryMetrics) AddCustomMetric(key string, value any) {
	if m.Custom == nil {
		m.Custom = orderedmap.New[string, any]()
	}
	m.Custom.Set(key, value)
}

// IsEmpty reports whether every optional field is absent and the
// custom map, if present, is empty.
func (m TelemetryMetrics) IsEmpty() bool {
	return m.QueueUtil == nil &&
		m.DelayNs == nil &&
		m.BandwidthBps == nil &&
		m.DropCount == nil &&
		m.EgressPort == nil &&
		m.IngressPort == nil &&
		(m.Custom == nil || m.Custom.Len() == 0)
}
