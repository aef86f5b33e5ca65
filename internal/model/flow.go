package model

import (
	"sort"
	"time"

	"github.com/lzhtan/intdb/internal/storageerr"
)

// FlowStatusKind enumerates the lifecycle states of a Flow.
type FlowStatusKind int

const (
	// StatusComplete means the flow carries all expected hops.
	StatusComplete FlowStatusKind = iota
	// StatusPartial means the flow is still being assembled.
	StatusPartial
	// StatusTimeout means the flow timed out waiting for missing hops.
	StatusTimeout
	// StatusError means the flow has errors or inconsistencies.
	StatusError
)

// FlowStatus is a Flow's lifecycle state. ErrorMessage is only
// meaningful when Kind is StatusError.
type FlowStatus struct {
	Kind         FlowStatusKind
	ErrorMessage string
}

// Complete builds the Complete status.
func Complete() FlowStatus { return FlowStatus{Kind: StatusComplete} }

// Partial builds the Partial status.
func Partial() FlowStatus { return FlowStatus{Kind: StatusPartial} }

// Timeout builds the Timeout status.
func Timeout() FlowStatus { return FlowStatus{Kind: StatusTimeout} }

// ErrorStatusWithMessage builds an Error status carrying a reason.
func ErrorStatusWithMessage(message string) FlowStatus {
	return FlowStatus{Kind: StatusError, ErrorMessage: message}
}

// Flow is a complete record of a packet flow's journey: the path it
// traveled, the telemetry recorded at each hop, and its time bounds.
type Flow struct {
	FlowID    string
	Path      Path
	Hops      []Hop
	StartTime time.Time
	EndTime   time.Time
	Status    FlowStatus
}

// NewFlow builds a Complete flow from a fully-ordered hop sequence.
// Hops must be non-empty, indexed 0..len(hops)-1 in order, and
// non-decreasing in timestamp from first to last.
func NewFlow(flowID string, hops []Hop) (*Flow, error) {
	if len(hops) == 0 {
		return nil, storageerr.NewFlowError(storageerr.EmptyFlow)
	}
	for i, h := range hops {
		if int(h.HopIndex) != i {
			return nil, storageerr.NewFlowError(storageerr.InvalidHopOrdering)
		}
	}

	switches := make([]string, len(hops))
	for i, h := range hops {
		switches[i] = h.SwitchID
	}
	path := NewPath(switches)

	startTime := hops[0].Timestamp
	endTime := hops[len(hops)-1].Timestamp
	if startTime.After(endTime) {
		return nil, storageerr.NewFlowError(storageerr.InvalidTimeOrdering)
	}

	return &Flow{
		FlowID:    flowID,
		Path:      path,
		Hops:      hops,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    Complete(),
	}, nil
}

// NewPartialFlow builds a Partial flow, sorting hops by index. It never
// fails: a flow with no hops gets the current time as its start/end
// bound, to be widened as hops arrive.
func NewPartialFlow(flowID string, hops []Hop) *Flow {
	sorted := make([]Hop, len(hops))
	copy(sorted, hops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].HopIndex < sorted[j].HopIndex })

	switches := make([]string, len(sorted))
	for i, h := range sorted {
		switches[i] = h.SwitchID
	}
	path := NewPath(switches)

	var startTime, endTime time.Time
	if len(sorted) > 0 {
		startTime = sorted[0].Timestamp
		endTime = sorted[len(sorted)-1].Timestamp
	} else {
		startTime = time.Now()
		endTime = startTime
	}

	return &Flow{
		FlowID:    flowID,
		Path:      path,
		Hops:      sorted,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    Partial(),
	}
}

// AddHop appends a hop to a partial flow, re-sorts by index, and
// rebuilds the path and time bounds. It rejects a hop whose index is
// already present.
func (f *Flow) AddHop(hop Hop) error {
	for _, h := range f.Hops {
		if h.HopIndex == hop.HopIndex {
			return storageerr.NewFlowError(storageerr.DuplicateHop)
		}
	}

	f.Hops = append(f.Hops, hop)
	sort.Slice(f.Hops, func(i, j int) bool { return f.Hops[i].HopIndex < f.Hops[j].HopIndex })

	switches := make([]string, len(f.Hops))
	for i, h := range f.Hops {
		switches[i] = h.SwitchID
	}
	f.Path = NewPath(switches)

	f.StartTime = f.Hops[0].Timestamp
	f.EndTime = f.Hops[len(f.Hops)-1].Timestamp
	return nil
}

// MarkComplete transitions the flow to Complete.
func (f *Flow) MarkComplete() { f.Status = Complete() }

// MarkTimeout transitions the flow to Timeout.
func (f *Flow) MarkTimeout() { f.Status = Timeout() }

// PathLength returns the number of switches in the flow's path.
func (f *Flow) PathLength() int { return f.Path.Length() }

// TotalDelay sums the delay reported at every hop that has one. It
// returns false if no hop reported a delay.
func (f *Flow) TotalDelay() (uint64, bool) {
	var total uint64
	found := false
	for _, h := range f.Hops {
		if d, ok := h.Delay(); ok {
			total += d
			found = true
		}
	}
	return total, found
}

// MaxQueueUtilization returns the highest queue utilization reported
// across all hops.
func (f *Flow) MaxQueueUtilization() (float64, bool) {
	var max float64
	found := false
	for _, h := range f.Hops {
		if u, ok := h.QueueUtilization(); ok {
			if !found || u > max {
				max = u
			}
			found = true
		}
	}
	return max, found
}

// AvgQueueUtilization returns the mean queue utilization across all
// hops that reported one.
func (f *Flow) AvgQueueUtilization() (float64, bool) {
	var sum float64
	var count int
	for _, h := range f.Hops {
		if u, ok := h.QueueUtilization(); ok {
			sum += u
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// ContainsSwitch reports whether any hop in the flow occurred at switchID.
func (f *Flow) ContainsSwitch(switchID string) bool {
	for _, h := range f.Hops {
		if h.SwitchID == switchID {
			return true
		}
	}
	return false
}

// DurationMS returns the flow's duration in milliseconds.
func (f *Flow) DurationMS() int64 {
	return f.EndTime.UnixMilli() - f.StartTime.UnixMilli()
}

// IsComplete reports whether the flow's status is Complete.
func (f *Flow) IsComplete() bool {
	return f.Status.Kind == StatusComplete
}

// PathHash returns the flow's path content hash, the exact-path index key.
func (f *Flow) PathHash() string {
	return f.Path.Hash()
}
