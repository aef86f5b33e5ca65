// Package storageerr defines the typed error taxonomy for flow
// construction and storage engine operations.
package storageerr

import "fmt"

// FlowKind categorizes an error raised while constructing or mutating a Flow.
type FlowKind int

const (
	// EmptyFlow is returned when a flow is constructed with no hops.
	EmptyFlow FlowKind = iota
	// InvalidHopOrdering is returned when hops[i].HopIndex != i.
	InvalidHopOrdering
	// InvalidTimeOrdering is returned when the first hop's timestamp is after the last hop's.
	InvalidTimeOrdering
	// DuplicateHop is returned when AddHop is called with an already-present hop index.
	DuplicateHop
)

func (k FlowKind) String() string {
	switch k {
	case EmptyFlow:
		return "empty_flow"
	case InvalidHopOrdering:
		return "invalid_hop_ordering"
	case InvalidTimeOrdering:
		return "invalid_time_ordering"
	case DuplicateHop:
		return "duplicate_hop"
	default:
		return "unknown"
	}
}

// FlowError is a typed error raised by flow construction and mutation.
type FlowError struct {
	Kind    FlowKind
	Message string
}

func (e *FlowError) Error() string {
	return e.Message
}

// NewFlowError builds a FlowError with the default message for its kind.
func NewFlowError(kind FlowKind) *FlowError {
	var msg string
	switch kind {
	case EmptyFlow:
		msg = "flow cannot be empty"
	case InvalidHopOrdering:
		msg = "invalid hop ordering"
	case InvalidTimeOrdering:
		msg = "invalid time ordering"
	case DuplicateHop:
		msg = "duplicate hop index"
	default:
		msg = "flow error"
	}
	return &FlowError{Kind: kind, Message: msg}
}

// Is allows errors.Is(err, &FlowError{Kind: storageerr.EmptyFlow}) style
// comparisons, since FlowKind is not itself an error.
func (e *FlowError) Is(target error) bool {
	other, ok := target.(*FlowError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// EngineKind categorizes an error raised by the storage engine's public operations.
type EngineKind int

const (
	// ReadOnly is returned when InsertFlow is called on a read-only engine.
	ReadOnly EngineKind = iota
	// StorageFull is returned when InsertFlow would exceed the configured capacity.
	StorageFull
	// InvalidQuery is returned when a query builder carries a malformed condition.
	InvalidQuery
)

func (k EngineKind) String() string {
	switch k {
	case ReadOnly:
		return "read_only"
	case StorageFull:
		return "storage_full"
	case InvalidQuery:
		return "invalid_query"
	default:
		return "unknown"
	}
}

// EngineError is a typed error raised by the storage engine.
type EngineError struct {
	Kind    EngineKind
	Message string
}

func (e *EngineError) Error() string {
	return e.Message
}

// Is allows errors.Is(err, &EngineError{Kind: storageerr.ReadOnly}) style comparisons.
func (e *EngineError) Is(target error) bool {
	other, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// NewReadOnlyError builds the ReadOnly engine error.
func NewReadOnlyError() *EngineError {
	return &EngineError{Kind: ReadOnly, Message: "engine is read-only"}
}

// NewStorageFullError builds the StorageFull engine error.
func NewStorageFullError(maxFlows int) *EngineError {
	return &EngineError{Kind: StorageFull, Message: fmt.Sprintf("storage full: reached maximum capacity of %d flows", maxFlows)}
}

// NewInvalidQueryError builds an InvalidQuery engine error with a specific message.
func NewInvalidQueryError(message string) *EngineError {
	return &EngineError{Kind: InvalidQuery, Message: fmt.Sprintf("invalid query: %s", message)}
}
