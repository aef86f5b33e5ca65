// Package queryproto defines the wire vocabulary for submitting
// queries: JSON condition DTOs tagged the way the original engine's
// API layer tagged them (`{"type": "...", "value": {...}}`), plus
// conversions into internal/query.Builder conditions. This is kept as
// part of the engine's stable contract rather than folded into an
// (excluded) HTTP transport package, since the tag names and payload
// shapes are engine vocabulary, not transport plumbing.
package queryproto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lzhtan/intdb/internal/model"
	"github.com/lzhtan/intdb/internal/query"
)

// taggedValue is the {"type": "...", "value": {...}} envelope every
// condition DTO shares.
type taggedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// PathConditionDTO is the wire form of a query.PathCondition.
type PathConditionDTO struct {
	Type string
	raw  taggedValue
}

// UnmarshalJSON decodes a {"type", "value"} envelope, keeping the raw
// value for ToCondition to decode once the caller knows the type.
func (d *PathConditionDTO) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	d.Type = tv.Type
	d.raw = tv
	return nil
}

// MarshalJSON re-encodes the envelope, for round-tripping.
func (d PathConditionDTO) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// ToCondition converts the DTO into a query.PathCondition.
func (d PathConditionDTO) ToCondition() (query.PathCondition, error) {
	switch d.Type {
	case "exact_path":
		var body struct {
			Switches []string `json:"switches"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.ExactPath(model.NewPath(body.Switches)), nil
	case "contains_path":
		var body struct {
			Switches []string `json:"switches"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.ContainsPath(body.Switches), nil
	case "starts_with":
		var body struct {
			Switches []string `json:"switches"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.StartsWith(body.Switches), nil
	case "ends_with":
		var body struct {
			Switches []string `json:"switches"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.EndsWith(body.Switches), nil
	case "through_switch":
		var body struct {
			SwitchID string `json:"switch_id"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.ThroughSwitch(body.SwitchID), nil
	case "length_equals":
		var body struct {
			Length int `json:"length"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.LengthEquals(body.Length), nil
	case "length_range":
		var body struct {
			Min int `json:"min"`
			Max int `json:"max"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.LengthInRange(body.Min, body.Max), nil
	default:
		return nil, fmt.Errorf("queryproto: unknown path condition type %q", d.Type)
	}
}

// TimeConditionDTO is the wire form of a query.TimeCondition.
type TimeConditionDTO struct {
	Type string
	raw  taggedValue
}

func (d *TimeConditionDTO) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	d.Type = tv.Type
	d.raw = tv
	return nil
}

func (d TimeConditionDTO) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// ToCondition converts the DTO into a query.TimeCondition.
func (d TimeConditionDTO) ToCondition() (query.TimeCondition, error) {
	switch d.Type {
	case "after":
		var body struct {
			Time time.Time `json:"time"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.After(body.Time), nil
	case "before":
		var body struct {
			Time time.Time `json:"time"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.Before(body.Time), nil
	case "range":
		var body struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.InRange(body.Start, body.End), nil
	case "within_seconds":
		var body struct {
			Seconds int64 `json:"seconds"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.WithinLastSeconds(body.Seconds), nil
	case "within_minutes":
		var body struct {
			Minutes int64 `json:"minutes"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.WithinLastMinutes(body.Minutes), nil
	case "within_hours":
		var body struct {
			Hours int64 `json:"hours"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.WithinLastHours(body.Hours), nil
	default:
		return nil, fmt.Errorf("queryproto: unknown time condition type %q", d.Type)
	}
}

// MetricConditionDTO is the wire form of a query.MetricCondition.
type MetricConditionDTO struct {
	Type string
	raw  taggedValue
}

func (d *MetricConditionDTO) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	d.Type = tv.Type
	d.raw = tv
	return nil
}

func (d MetricConditionDTO) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// ToCondition converts the DTO into a query.MetricCondition.
func (d MetricConditionDTO) ToCondition() (query.MetricCondition, error) {
	switch d.Type {
	case "delay_gt":
		var body struct {
			Threshold uint64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.TotalDelayGreaterThan(body.Threshold), nil
	case "delay_lt":
		var body struct {
			Threshold uint64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.TotalDelayLessThan(body.Threshold), nil
	case "delay_range":
		var body struct {
			Min uint64 `json:"min"`
			Max uint64 `json:"max"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.TotalDelayInRange(body.Min, body.Max), nil
	case "queue_util_gt":
		var body struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.MaxQueueUtilGreaterThan(body.Threshold), nil
	case "queue_util_lt":
		var body struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.MaxQueueUtilLessThan(body.Threshold), nil
	case "avg_queue_util_gt":
		var body struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.AvgQueueUtilGreaterThan(body.Threshold), nil
	case "duration_gt":
		var body struct {
			Threshold int64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.DurationGreaterThan(body.Threshold), nil
	case "duration_lt":
		var body struct {
			Threshold int64 `json:"threshold"`
		}
		if err := json.Unmarshal(d.raw.Value, &body); err != nil {
			return nil, err
		}
		return query.DurationLessThan(body.Threshold), nil
	default:
		return nil, fmt.Errorf("queryproto: unknown metric condition type %q", d.Type)
	}
}

// QueryRequest is the wire form of a full query submission.
type QueryRequest struct {
	PathConditions   []PathConditionDTO   `json:"path_conditions"`
	TimeConditions   []TimeConditionDTO   `json:"time_conditions"`
	MetricConditions []MetricConditionDTO `json:"metric_conditions"`
	Limit            *int                 `json:"limit"`
	Skip             *int                 `json:"skip"`
	IncludeFlows     bool                 `json:"include_flows"`
}

// ToBuilder converts the request into a query.Builder ready for
// Engine.Query.
func (r QueryRequest) ToBuilder() (*query.Builder, error) {
	b := query.New()
	for _, dto := range r.PathConditions {
		cond, err := dto.ToCondition()
		if err != nil {
			return nil, err
		}
		b.WithPathCondition(cond)
	}
	for _, dto := range r.TimeConditions {
		cond, err := dto.ToCondition()
		if err != nil {
			return nil, err
		}
		b.WithTimeCondition(cond)
	}
	for _, dto := range r.MetricConditions {
		cond, err := dto.ToCondition()
		if err != nil {
			return nil, err
		}
		b.WithMetricCondition(cond)
	}
	if r.Limit != nil {
		b.Limit(*r.Limit)
	}
	if r.Skip != nil {
		b.Skip(*r.Skip)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// QueryResponse is the wire form of a query.Result, optionally
// carrying the full flow payloads when the request set include_flows.
type QueryResponse struct {
	FlowIDs    []string     `json:"flow_ids"`
	Flows      []model.Flow `json:"flows,omitempty"`
	TotalCount int          `json:"total_count"`
	HasMore    bool         `json:"has_more"`
	Count      int          `json:"count"`
}

// NewQueryResponse builds a QueryResponse from an engine result. skip
// is the same offset the originating request carried, needed to
// compute has_more.
func NewQueryResponse(result query.Result, skip int) QueryResponse {
	return QueryResponse{
		FlowIDs:    result.FlowIDs,
		TotalCount: result.TotalCount,
		HasMore:    result.HasMore(skip),
		Count:      result.Count(),
	}
}
