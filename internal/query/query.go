// Package query defines the condition language and result types the
// storage engine evaluates: path, time, and metric conditions combined
// with AND semantics, plus pagination.
package query

import (
	"fmt"
	"time"

	"github.com/lzhtan/intdb/internal/model"
	"github.com/lzhtan/intdb/internal/pathindex"
	"github.com/lzhtan/intdb/internal/storageerr"
)

// PathIndexer is the subset of internal/pathindex.Index the planner
// needs to narrow path conditions to a candidate set. Conditions the
// path index can answer exactly (ExactPath, ThroughSwitch, StartsWith,
// ContainsPath) implement PathIndexProber against this interface; the
// rest (EndsWith, LengthEquals, LengthInRange) contribute nothing at
// the index-probe stage and are left to the residual filter.
type PathIndexer interface {
	FindExactPath(path model.Path) *pathindex.FlowSet
	FindFlowsThroughSwitch(switchID string) *pathindex.FlowSet
	FindFlowsWithPrefix(prefix []string) *pathindex.FlowSet
	FindFlowsContainingPath(subpath []string) *pathindex.FlowSet
}

// PathIndexProber is implemented by path conditions the path index can
// resolve directly. ok is false for conditions without an index
// fast path.
type PathIndexProber interface {
	ProbePathIndex(idx PathIndexer) (set *pathindex.FlowSet, ok bool)
}

// TimeIndexer is the subset of internal/timeindex.Index the planner
// needs to narrow time conditions to a candidate set.
type TimeIndexer interface {
	FindFlowsAfter(t time.Time) *pathindex.FlowSet
	FindFlowsBefore(t time.Time) *pathindex.FlowSet
	FindFlowsInRange(start, end time.Time) *pathindex.FlowSet
}

// TimeIndexProber is implemented by every time condition; all of them
// reduce to a bucket-range scan.
type TimeIndexProber interface {
	ProbeTimeIndex(idx TimeIndexer, now time.Time) *pathindex.FlowSet
}

// PathCondition is a predicate over a flow's path. Implementations are
// sealed to this package; build one with the constructors below
// (ExactPath, ContainsPath, StartsWith, ...).
type PathCondition interface {
	Matches(flow *model.Flow, now time.Time) bool
	isPathCondition()
}

// TimeCondition is a predicate over a flow's start time.
type TimeCondition interface {
	Matches(flow *model.Flow, now time.Time) bool
	isTimeCondition()
}

// MetricCondition is a predicate over a flow's aggregate telemetry.
type MetricCondition interface {
	Matches(flow *model.Flow, now time.Time) bool
	isMetricCondition()
}

type exactPathCondition struct{ path model.Path }

func (c exactPathCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.Path.Hash() == c.path.Hash()
}
func (exactPathCondition) isPathCondition() {}

func (c exactPathCondition) ProbePathIndex(idx PathIndexer) (*pathindex.FlowSet, bool) {
	return idx.FindExactPath(c.path), true
}

// ExactPath matches flows whose path hash equals path's.
func ExactPath(path model.Path) PathCondition { return exactPathCondition{path: path} }

type containsPathCondition struct{ subpath []string }

func (c containsPathCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.Path.ContainsSubpath(c.subpath)
}
func (containsPathCondition) isPathCondition() {}

func (c containsPathCondition) ProbePathIndex(idx PathIndexer) (*pathindex.FlowSet, bool) {
	return idx.FindFlowsContainingPath(c.subpath), true
}

// ContainsPath matches flows whose path contains subpath as a
// contiguous window.
func ContainsPath(subpath []string) PathCondition { return containsPathCondition{subpath: subpath} }

type startsWithCondition struct{ prefix []string }

func (c startsWithCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.Path.StartsWith(c.prefix)
}
func (startsWithCondition) isPathCondition() {}

func (c startsWithCondition) ProbePathIndex(idx PathIndexer) (*pathindex.FlowSet, bool) {
	return idx.FindFlowsWithPrefix(c.prefix), true
}

// StartsWith matches flows whose path begins with prefix.
func StartsWith(prefix []string) PathCondition { return startsWithCondition{prefix: prefix} }

type endsWithCondition struct{ suffix []string }

func (c endsWithCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.Path.EndsWith(c.suffix)
}
func (endsWithCondition) isPathCondition() {}

// EndsWith matches flows whose path ends with suffix.
func EndsWith(suffix []string) PathCondition { return endsWithCondition{suffix: suffix} }

type throughSwitchCondition struct{ switchID string }

func (c throughSwitchCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.ContainsSwitch(c.switchID)
}
func (throughSwitchCondition) isPathCondition() {}

func (c throughSwitchCondition) ProbePathIndex(idx PathIndexer) (*pathindex.FlowSet, bool) {
	return idx.FindFlowsThroughSwitch(c.switchID), true
}

// ThroughSwitch matches flows that pass through switchID.
func ThroughSwitch(switchID string) PathCondition { return throughSwitchCondition{switchID: switchID} }

type lengthEqualsCondition struct{ length int }

func (c lengthEqualsCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.PathLength() == c.length
}
func (lengthEqualsCondition) isPathCondition() {}

// LengthEquals matches flows whose path has exactly length switches.
func LengthEquals(length int) PathCondition { return lengthEqualsCondition{length: length} }

type lengthInRangeCondition struct{ min, max int }

func (c lengthInRangeCondition) Matches(flow *model.Flow, _ time.Time) bool {
	l := flow.PathLength()
	return l >= c.min && l <= c.max
}
func (lengthInRangeCondition) isPathCondition() {}

func (c lengthInRangeCondition) validate() error {
	if c.min > c.max {
		return storageerr.NewInvalidQueryError(fmt.Sprintf("LengthInRange: min (%d) greater than max (%d)", c.min, c.max))
	}
	return nil
}

// LengthInRange matches flows whose path length falls in [min, max].
func LengthInRange(min, max int) PathCondition { return lengthInRangeCondition{min: min, max: max} }

type afterCondition struct{ t time.Time }

func (c afterCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return !flow.StartTime.Before(c.t)
}
func (afterCondition) isTimeCondition() {}

func (c afterCondition) ProbeTimeIndex(idx TimeIndexer, _ time.Time) *pathindex.FlowSet {
	return idx.FindFlowsAfter(c.t)
}

// After matches flows whose start time is at or after t.
func After(t time.Time) TimeCondition { return afterCondition{t: t} }

type beforeCondition struct{ t time.Time }

func (c beforeCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return !flow.StartTime.After(c.t)
}
func (beforeCondition) isTimeCondition() {}

func (c beforeCondition) ProbeTimeIndex(idx TimeIndexer, _ time.Time) *pathindex.FlowSet {
	return idx.FindFlowsBefore(c.t)
}

// Before matches flows whose start time is at or before t.
func Before(t time.Time) TimeCondition { return beforeCondition{t: t} }

type inRangeCondition struct{ start, end time.Time }

func (c inRangeCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return !flow.StartTime.Before(c.start) && !flow.StartTime.After(c.end)
}
func (inRangeCondition) isTimeCondition() {}

func (c inRangeCondition) validate() error {
	if c.end.Before(c.start) {
		return storageerr.NewInvalidQueryError(fmt.Sprintf("InRange: end (%s) before start (%s)", c.end, c.start))
	}
	return nil
}

func (c inRangeCondition) ProbeTimeIndex(idx TimeIndexer, _ time.Time) *pathindex.FlowSet {
	return idx.FindFlowsInRange(c.start, c.end)
}

// InRange matches flows whose start time falls in [start, end].
func InRange(start, end time.Time) TimeCondition { return inRangeCondition{start: start, end: end} }

type withinLastCondition struct{ d time.Duration }

func (c withinLastCondition) Matches(flow *model.Flow, now time.Time) bool {
	return !flow.StartTime.Before(now.Add(-c.d))
}
func (withinLastCondition) isTimeCondition() {}

func (c withinLastCondition) ProbeTimeIndex(idx TimeIndexer, now time.Time) *pathindex.FlowSet {
	return idx.FindFlowsAfter(now.Add(-c.d))
}

// WithinLastSeconds matches flows started within the last N seconds of
// the query's sampled "now".
func WithinLastSeconds(seconds int64) TimeCondition {
	return withinLastCondition{d: time.Duration(seconds) * time.Second}
}

// WithinLastMinutes matches flows started within the last N minutes.
func WithinLastMinutes(minutes int64) TimeCondition {
	return withinLastCondition{d: time.Duration(minutes) * time.Minute}
}

// WithinLastHours matches flows started within the last N hours.
func WithinLastHours(hours int64) TimeCondition {
	return withinLastCondition{d: time.Duration(hours) * time.Hour}
}

type totalDelayGreaterThanCondition struct{ threshold uint64 }

func (c totalDelayGreaterThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	d, ok := flow.TotalDelay()
	return ok && d > c.threshold
}
func (totalDelayGreaterThanCondition) isMetricCondition() {}

// TotalDelayGreaterThan matches flows whose summed hop delay exceeds threshold.
func TotalDelayGreaterThan(threshold uint64) MetricCondition {
	return totalDelayGreaterThanCondition{threshold: threshold}
}

type totalDelayLessThanCondition struct{ threshold uint64 }

func (c totalDelayLessThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	d, ok := flow.TotalDelay()
	return ok && d < c.threshold
}
func (totalDelayLessThanCondition) isMetricCondition() {}

// TotalDelayLessThan matches flows whose summed hop delay is below threshold.
func TotalDelayLessThan(threshold uint64) MetricCondition {
	return totalDelayLessThanCondition{threshold: threshold}
}

type totalDelayInRangeCondition struct{ min, max uint64 }

func (c totalDelayInRangeCondition) Matches(flow *model.Flow, _ time.Time) bool {
	d, ok := flow.TotalDelay()
	return ok && d >= c.min && d <= c.max
}
func (totalDelayInRangeCondition) isMetricCondition() {}

func (c totalDelayInRangeCondition) validate() error {
	if c.min > c.max {
		return storageerr.NewInvalidQueryError(fmt.Sprintf("TotalDelayInRange: min (%d) greater than max (%d)", c.min, c.max))
	}
	return nil
}

// TotalDelayInRange matches flows whose summed hop delay falls in [min, max].
func TotalDelayInRange(min, max uint64) MetricCondition {
	return totalDelayInRangeCondition{min: min, max: max}
}

type maxQueueUtilGreaterThanCondition struct{ threshold float64 }

func (c maxQueueUtilGreaterThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	u, ok := flow.MaxQueueUtilization()
	return ok && u > c.threshold
}
func (maxQueueUtilGreaterThanCondition) isMetricCondition() {}

// MaxQueueUtilGreaterThan matches flows whose peak queue utilization exceeds threshold.
func MaxQueueUtilGreaterThan(threshold float64) MetricCondition {
	return maxQueueUtilGreaterThanCondition{threshold: threshold}
}

type maxQueueUtilLessThanCondition struct{ threshold float64 }

func (c maxQueueUtilLessThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	u, ok := flow.MaxQueueUtilization()
	return ok && u < c.threshold
}
func (maxQueueUtilLessThanCondition) isMetricCondition() {}

// MaxQueueUtilLessThan matches flows whose peak queue utilization is below threshold.
func MaxQueueUtilLessThan(threshold float64) MetricCondition {
	return maxQueueUtilLessThanCondition{threshold: threshold}
}

type avgQueueUtilGreaterThanCondition struct{ threshold float64 }

func (c avgQueueUtilGreaterThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	u, ok := flow.AvgQueueUtilization()
	return ok && u > c.threshold
}
func (avgQueueUtilGreaterThanCondition) isMetricCondition() {}

// AvgQueueUtilGreaterThan matches flows whose mean queue utilization exceeds threshold.
func AvgQueueUtilGreaterThan(threshold float64) MetricCondition {
	return avgQueueUtilGreaterThanCondition{threshold: threshold}
}

type durationGreaterThanCondition struct{ thresholdMS int64 }

func (c durationGreaterThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.DurationMS() > c.thresholdMS
}
func (durationGreaterThanCondition) isMetricCondition() {}

// DurationGreaterThan matches flows whose duration in milliseconds exceeds thresholdMS.
func DurationGreaterThan(thresholdMS int64) MetricCondition {
	return durationGreaterThanCondition{thresholdMS: thresholdMS}
}

type durationLessThanCondition struct{ thresholdMS int64 }

func (c durationLessThanCondition) Matches(flow *model.Flow, _ time.Time) bool {
	return flow.DurationMS() < c.thresholdMS
}
func (durationLessThanCondition) isMetricCondition() {}

// DurationLessThan matches flows whose duration in milliseconds is below thresholdMS.
func DurationLessThan(thresholdMS int64) MetricCondition {
	return durationLessThanCondition{thresholdMS: thresholdMS}
}

// Builder accumulates path, time, and metric conditions plus
// pagination settings for a single query. All conditions combine with
// AND semantics.
type Builder struct {
	pathConditions   []PathCondition
	timeConditions   []TimeCondition
	metricConditions []MetricCondition
	limit            *int
	skip             *int
}

// New builds an empty query.
func New() *Builder {
	return &Builder{}
}

// WithPathCondition appends a path condition.
func (b *Builder) WithPathCondition(c PathCondition) *Builder {
	b.pathConditions = append(b.pathConditions, c)
	return b
}

// WithTimeCondition appends a time condition.
func (b *Builder) WithTimeCondition(c TimeCondition) *Builder {
	b.timeConditions = append(b.timeConditions, c)
	return b
}

// WithMetricCondition appends a metric condition.
func (b *Builder) WithMetricCondition(c MetricCondition) *Builder {
	b.metricConditions = append(b.metricConditions, c)
	return b
}

// Limit caps the number of results returned.
func (b *Builder) Limit(limit int) *Builder {
	b.limit = &limit
	return b
}

// Skip sets how many matching flows to skip, for pagination.
func (b *Builder) Skip(skip int) *Builder {
	b.skip = &skip
	return b
}

// ExactPathQuery builds a query for an exact path match.
func ExactPathQuery(path model.Path) *Builder {
	return New().WithPathCondition(ExactPath(path))
}

// ThroughSwitchQuery builds a query for flows through switchID.
func ThroughSwitchQuery(switchID string) *Builder {
	return New().WithPathCondition(ThroughSwitch(switchID))
}

// InTimeRangeQuery builds a query for flows started in [start, end].
func InTimeRangeQuery(start, end time.Time) *Builder {
	return New().WithTimeCondition(InRange(start, end))
}

// InLastMinutesQuery builds a query for flows started within the last N minutes.
func InLastMinutesQuery(minutes int64) *Builder {
	return New().WithTimeCondition(WithinLastMinutes(minutes))
}

// WithHighDelayQuery builds a query for flows whose total delay exceeds thresholdNs.
func WithHighDelayQuery(thresholdNs uint64) *Builder {
	return New().WithMetricCondition(TotalDelayGreaterThan(thresholdNs))
}

type validatable interface {
	validate() error
}

// Validate reports the first malformed condition accumulated on b, if
// any. A condition like LengthInRange(min > max) or
// TotalDelayInRange(min > max) builds without error but can never
// match a flow; Validate catches that here instead of Query silently
// returning an empty page.
func (b *Builder) Validate() error {
	for _, c := range b.pathConditions {
		if v, ok := c.(validatable); ok {
			if err := v.validate(); err != nil {
				return err
			}
		}
	}
	for _, c := range b.timeConditions {
		if v, ok := c.(validatable); ok {
			if err := v.validate(); err != nil {
				return err
			}
		}
	}
	for _, c := range b.metricConditions {
		if v, ok := c.(validatable); ok {
			if err := v.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Conditions exposes the accumulated condition slices for inspection.
func (b *Builder) Conditions() ([]PathCondition, []TimeCondition, []MetricCondition) {
	return b.pathConditions, b.timeConditions, b.metricConditions
}

// Pagination exposes the limit and skip settings.
func (b *Builder) Pagination() (limit, skip *int) {
	return b.limit, b.skip
}

// Result is the outcome of executing a query: the page of matching
// flow ids, the total number of matches before pagination, and the
// limit that was applied.
type Result struct {
	FlowIDs    []string
	TotalCount int
	Limit      *int
}

// IsEmpty reports whether the result page has no flows.
func (r Result) IsEmpty() bool { return len(r.FlowIDs) == 0 }

// Count returns the number of flows in this result page.
func (r Result) Count() int { return len(r.FlowIDs) }

// HasMore reports whether more matches exist beyond this page.
func (r Result) HasMore(skip int) bool {
	return skip+len(r.FlowIDs) < r.TotalCount
}
