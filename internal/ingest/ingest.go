// Package ingest converts wire-shaped hop/flow input into validated
// domain model values.
package ingest

import (
	"time"

	"github.com/lzhtan/intdb/internal/model"
)

// HopInput is the wire shape for a single hop's telemetry, as
// submitted by a caller before hop_index is known (it's assigned from
// slice position during conversion).
type HopInput struct {
	SwitchID     string
	Timestamp    time.Time
	QueueUtil    *float64
	DelayNs      *uint64
	BandwidthBps *uint64
	DropCount    *uint64
	EgressPort   *uint32
	IngressPort  *uint32
}

func (h HopInput) toHop(hopIndex uint32) model.Hop {
	metrics := model.TelemetryMetrics{
		QueueUtil:    h.QueueUtil,
		DelayNs:      h.DelayNs,
		BandwidthBps: h.BandwidthBps,
		DropCount:    h.DropCount,
		EgressPort:   h.EgressPort,
		IngressPort:  h.IngressPort,
	}
	return model.NewHop(hopIndex, h.SwitchID, h.Timestamp, metrics)
}

// FlowInput is the wire shape for a new or appended flow submission.
type FlowInput struct {
	FlowID    string
	Telemetry []HopInput
}

// ToFlow validates and converts a FlowInput into a domain Flow.
// hop_index is assigned from each hop's position in Telemetry,
// matching the order submitted.
func ToFlow(input FlowInput) (*model.Flow, error) {
	hops := make([]model.Hop, len(input.Telemetry))
	for i, hopInput := range input.Telemetry {
		hops[i] = hopInput.toHop(uint32(i))
	}
	return model.NewFlow(input.FlowID, hops)
}
