package model

import "time"

// Hop is a single point on a path where an INT switch recorded
// telemetry for a packet.
type Hop struct {
	HopIndex  uint32
	SwitchID  string
	Timestamp time.Time
	Metrics   TelemetryMetrics
}

// NewHop builds a Hop from its parts.
func NewHop(hopIndex uint32, switchID string, timestamp time.Time, metrics TelemetryMetrics) Hop {
	return Hop{
		HopIndex:  hopIndex,
		SwitchID:  switchID,
		Timestamp: timestamp,
		Metrics:   metrics,
	}
}

// NewHopWithBasicMetrics builds a Hop carrying only queue utilization and delay.
func NewHopWithBasicMetrics(hopIndex uint32, switchID string, timestamp time.Time, queueUtil float64, delayNs uint64) Hop {
	return NewHop(hopIndex, switchID, timestamp, WithBasicMetrics(queueUtil, delayNs))
}

// Delay returns the hop's reported delay, if any.
func (h Hop) Delay() (uint64, bool) {
	if h.Metrics.DelayNs == nil {
		return 0, false
	}
	return *h.Metrics.DelayNs, true
}

// QueueUtilization returns the hop's reported queue utilization, if any.
func (h Hop) QueueUtilization() (float64, bool) {
	if h.Metrics.QueueUtil == nil {
		return 0, false
	}
	return *h.Metrics.QueueUtil, true
}

// HasTelemetry reports whether this hop carries any meaningful metrics.
func (h Hop) HasTelemetry() bool {
	return !h.Metrics.IsEmpty()
}
