// Package storage implements IntDB's in-memory flow store: the
// primary flow map, the path and time secondary indexes, the
// append-and-renumber insert protocol, and the query planner that
// combines index probes with residual filtering.
package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lzhtan/intdb/internal/model"
	"github.com/lzhtan/intdb/internal/pathindex"
	"github.com/lzhtan/intdb/internal/query"
	"github.com/lzhtan/intdb/internal/storageerr"
	"github.com/lzhtan/intdb/internal/timeindex"
)

// MetricsRecorder receives observations about engine operations. It is
// satisfied by internal/engineobs.Metrics; a nil recorder disables
// recording entirely.
type MetricsRecorder interface {
	RecordInsert(outcome string, latency time.Duration)
	RecordQuery(candidates int, latency time.Duration)
	SetActiveFlows(count int)
}

type noopRecorder struct{}

func (noopRecorder) RecordInsert(string, time.Duration) {}
func (noopRecorder) RecordQuery(int, time.Duration)     {}
func (noopRecorder) SetActiveFlows(int)                 {}

// SpanStarter traces engine operations. It is satisfied by
// internal/engineobs.Tracer; the default noopTracer discards spans.
type SpanStarter interface {
	StartInsertSpan(ctx context.Context, flowID string) (context.Context, trace.Span)
	StartQuerySpan(ctx context.Context) (context.Context, trace.Span)
}

type noopTracer struct {
	tracer trace.Tracer
}

func newNoopTracer() noopTracer {
	return noopTracer{tracer: noop.NewTracerProvider().Tracer("intdb")}
}

func (t noopTracer) StartInsertSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "intdb.insert")
}

func (t noopTracer) StartQuerySpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "intdb.query")
}

// Engine is IntDB's thread-safe storage engine. A single composite
// sync.RWMutex guards the primary map and both secondary indexes
// together: readers run concurrently, writers are fully exclusive, and
// an insert or append holds the write lock for its entire
// read-modify-write so no reader ever observes a half-updated flow.
type Engine struct {
	mu        sync.RWMutex
	flows     map[string]*model.Flow
	pathIndex *pathindex.Index
	timeIndex *timeindex.Index
	config    Config
	logger    *slog.Logger
	metrics   MetricsRecorder
	tracer    SpanStarter
}

// New builds an engine with the given configuration, backfilling
// zero-valued fields with DefaultConfig.
func New(config Config) *Engine {
	config = config.WithDefaults()
	return &Engine{
		flows:     make(map[string]*model.Flow),
		pathIndex: pathindex.New(),
		timeIndex: timeindex.New(config.TimeBucketSizeSeconds),
		config:    config,
		logger:    slog.Default(),
		metrics:   noopRecorder{},
		tracer:    newNoopTracer(),
	}
}

// SetLogger overrides the engine's structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics wires a MetricsRecorder the engine reports insert and
// query observations to. Passing nil disables recording.
func (e *Engine) SetMetrics(recorder MetricsRecorder) {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	e.metrics = recorder
}

// SetTracer wires a SpanStarter the engine opens insert and query
// spans through. Passing nil disables tracing.
func (e *Engine) SetTracer(tracer SpanStarter) {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	e.tracer = tracer
}

// InsertFlow stores flow using a background context. See
// InsertFlowContext for the context-aware form used when insert spans
// should join a caller's trace.
func (e *Engine) InsertFlow(flow *model.Flow) error {
	return e.InsertFlowContext(context.Background(), flow)
}

// InsertFlowContext stores flow. If flow.FlowID is new, it's inserted
// directly. If flow.FlowID already exists, its hops are appended
// (renumbered to continue the existing hop_index sequence) and its
// path and time footprint widened; the flow is never replaced.
func (e *Engine) InsertFlowContext(ctx context.Context, flow *model.Flow) (err error) {
	_, span := e.tracer.StartInsertSpan(ctx, flow.FlowID)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.ReadOnly {
		e.metrics.RecordInsert("rejected", time.Since(start))
		return storageerr.NewReadOnlyError()
	}

	existing, exists := e.flows[flow.FlowID]
	if !exists {
		if e.config.MaxFlows > 0 && len(e.flows) >= e.config.MaxFlows {
			e.logger.Warn("intdb_storage_full", "max_flows", e.config.MaxFlows)
			e.metrics.RecordInsert("rejected", time.Since(start))
			return storageerr.NewStorageFullError(e.config.MaxFlows)
		}
		e.flows[flow.FlowID] = flow
		e.pathIndex.AddFlow(flow)
		e.timeIndex.AddFlow(flow)
		e.metrics.RecordInsert("new", time.Since(start))
		e.metrics.SetActiveFlows(len(e.flows))
		return nil
	}

	e.pathIndex.RemoveFlow(existing)
	e.timeIndex.RemoveFlow(existing)

	merged := appendFlow(existing, flow)
	e.flows[flow.FlowID] = merged
	e.pathIndex.AddFlow(merged)
	e.timeIndex.AddFlow(merged)
	e.metrics.RecordInsert("appended", time.Since(start))
	e.metrics.SetActiveFlows(len(e.flows))
	return nil
}

// appendFlow merges incoming's hops into existing, renumbering the new
// hops to continue existing's hop_index sequence, widening the time
// range to the union of both, and extending the switch path with any
// switch from incoming not already present (first occurrence only —
// a revisited switch is not re-added).
func appendFlow(existing, incoming *model.Flow) *model.Flow {
	base := uint32(0)
	for _, h := range existing.Hops {
		if h.HopIndex+1 > base {
			base = h.HopIndex + 1
		}
	}

	hops := make([]model.Hop, len(existing.Hops), len(existing.Hops)+len(incoming.Hops))
	copy(hops, existing.Hops)
	for j, h := range incoming.Hops {
		hops = append(hops, model.NewHop(base+uint32(j), h.SwitchID, h.Timestamp, h.Metrics))
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i].HopIndex < hops[j].HopIndex })

	switches := make([]string, 0, len(existing.Path.Switches())+len(incoming.Path.Switches()))
	seen := make(map[string]struct{}, len(existing.Path.Switches()))
	for _, sw := range existing.Path.Switches() {
		switches = append(switches, sw)
		seen[sw] = struct{}{}
	}
	for _, sw := range incoming.Path.Switches() {
		if _, ok := seen[sw]; ok {
			continue
		}
		switches = append(switches, sw)
		seen[sw] = struct{}{}
	}

	startTime := existing.StartTime
	if incoming.StartTime.Before(startTime) {
		startTime = incoming.StartTime
	}
	endTime := existing.EndTime
	if incoming.EndTime.After(endTime) {
		endTime = incoming.EndTime
	}

	return &model.Flow{
		FlowID:    existing.FlowID,
		Path:      model.NewPath(switches),
		Hops:      hops,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    existing.Status,
	}
}

// GetFlow returns the flow stored under flowID, if any.
func (e *Engine) GetFlow(flowID string) (*model.Flow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	flow, ok := e.flows[flowID]
	return flow, ok
}

// GetFlows returns the flows stored under flowIDs, silently dropping
// ids that aren't present.
func (e *Engine) GetFlows(flowIDs []string) []*model.Flow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Flow, 0, len(flowIDs))
	for _, id := range flowIDs {
		if flow, ok := e.flows[id]; ok {
			out = append(out, flow)
		}
	}
	return out
}

// FlowCount returns the number of flows currently stored.
func (e *Engine) FlowCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.flows)
}

// Query executes q against the current flow set: index-assisted
// candidate assembly, residual filtering, descending start-time sort
// (ties broken by flow id ascending), then skip/limit pagination. The
// wall clock is sampled once at entry and threaded through every
// relative time condition so the whole operation is atomic with
// respect to "now". It returns an InvalidQuery EngineError if q
// carries a malformed condition, e.g. LengthInRange(min > max).
func (e *Engine) Query(q *query.Builder) (query.Result, error) {
	return e.QueryContext(context.Background(), q)
}

// QueryContext is the context-aware form of Query, used when query
// spans should join a caller's trace.
func (e *Engine) QueryContext(ctx context.Context, q *query.Builder) (query.Result, error) {
	_, span := e.tracer.StartQuerySpan(ctx)
	defer span.End()

	if err := q.Validate(); err != nil {
		span.RecordError(err)
		return query.Result{}, err
	}

	opStart := time.Now()
	now := opStart

	e.mu.RLock()
	defer e.mu.RUnlock()

	pathConditions, timeConditions, metricConditions := q.Conditions()

	candidates, hasCandidates := e.assembleCandidates(pathConditions, timeConditions, now)
	if hasCandidates && len(candidates) == 0 {
		e.metrics.RecordQuery(0, time.Since(opStart))
		limit, _ := q.Pagination()
		return query.Result{FlowIDs: []string{}, TotalCount: 0, Limit: limit}, nil
	}

	type match struct {
		flow *model.Flow
	}
	var matches []match
	for _, id := range candidates {
		flow, ok := e.flows[id]
		if !ok {
			continue
		}
		if matchesAll(flow, pathConditions, timeConditions, metricConditions, now) {
			matches = append(matches, match{flow: flow})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].flow, matches[j].flow
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.FlowID < b.FlowID
	})

	totalCount := len(matches)
	limit, skip := q.Pagination()
	skipN := 0
	if skip != nil {
		skipN = *skip
	}
	if skipN > len(matches) {
		skipN = len(matches)
	}
	paged := matches[skipN:]
	if limit != nil && *limit < len(paged) {
		paged = paged[:*limit]
	}

	flowIDs := make([]string, len(paged))
	for i, m := range paged {
		flowIDs[i] = m.flow.FlowID
	}

	e.metrics.RecordQuery(len(candidates), time.Since(opStart))
	return query.Result{FlowIDs: flowIDs, TotalCount: totalCount, Limit: limit}, nil
}

// assembleCandidates narrows to an index-derived candidate set. It
// returns hasCandidates=false when no indexable condition contributed,
// meaning the caller must fall back to scanning every stored flow.
func (e *Engine) assembleCandidates(pathConditions []query.PathCondition, timeConditions []query.TimeCondition, now time.Time) ([]string, bool) {
	var candidates *pathindex.FlowSet
	contributed := false

	for _, c := range pathConditions {
		set := e.pathCandidatesFor(c)
		if set == nil {
			continue
		}
		contributed = true
		candidates = intersect(candidates, set)
		if candidates != nil && candidates.Len() == 0 {
			return nil, true
		}
	}

	for _, c := range timeConditions {
		set := e.timeCandidatesFor(c, now)
		contributed = true
		candidates = intersect(candidates, set)
		if candidates != nil && candidates.Len() == 0 {
			return nil, true
		}
	}

	if !contributed {
		ids := make([]string, 0, len(e.flows))
		for id := range e.flows {
			ids = append(ids, id)
		}
		return ids, false
	}
	return candidates.SortedIDs(), true
}

// pathCandidatesFor returns the index-derived candidate set for path
// conditions the path index can answer exactly. It returns nil for
// conditions (EndsWith, LengthEquals, LengthInRange) the index cannot
// narrow, leaving them to the residual filter.
func (e *Engine) pathCandidatesFor(c query.PathCondition) *pathindex.FlowSet {
	prober, ok := c.(query.PathIndexProber)
	if !ok {
		return nil
	}
	set, ok := prober.ProbePathIndex(e.pathIndex)
	if !ok {
		return nil
	}
	return set
}

func (e *Engine) timeCandidatesFor(c query.TimeCondition, now time.Time) *pathindex.FlowSet {
	prober := c.(query.TimeIndexProber)
	return prober.ProbeTimeIndex(e.timeIndex, now)
}

func intersect(existing *pathindex.FlowSet, next *pathindex.FlowSet) *pathindex.FlowSet {
	if existing == nil {
		return next
	}
	result := pathindex.NewFlowSet()
	for _, id := range existing.SortedIDs() {
		if next.Contains(id) {
			result.Add(id)
		}
	}
	return result
}

func matchesAll(flow *model.Flow, pathConditions []query.PathCondition, timeConditions []query.TimeCondition, metricConditions []query.MetricCondition, now time.Time) bool {
	for _, c := range pathConditions {
		if !c.Matches(flow, now) {
			return false
		}
	}
	for _, c := range timeConditions {
		if !c.Matches(flow, now) {
			return false
		}
	}
	for _, c := range metricConditions {
		if !c.Matches(flow, now) {
			return false
		}
	}
	return true
}

// ExpireFlowsBefore removes every flow whose end time is strictly
// before cutoff from the primary map and both indexes, atomically. It
// returns the number of flows removed. Used by the retention reaper.
func (e *Engine) ExpireFlowsBefore(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []*model.Flow
	for _, flow := range e.flows {
		if flow.EndTime.Before(cutoff) {
			expired = append(expired, flow)
		}
	}
	for _, flow := range expired {
		delete(e.flows, flow.FlowID)
		e.pathIndex.RemoveFlow(flow)
		e.timeIndex.RemoveFlow(flow)
	}
	if len(expired) > 0 {
		e.logger.Info("intdb_retention_expired", "count", len(expired), "cutoff", cutoff)
		e.metrics.SetActiveFlows(len(e.flows))
	}
	return len(expired)
}

// EstimateMemoryUsage returns an advisory (not authoritative) estimate
// of bytes held by the primary map and its flows: flow id length, a
// fixed per-hop overhead, and switch id lengths.
func (e *Engine) EstimateMemoryUsage() int64 {
	const perHopOverhead = 96
	const perFlowOverhead = 64

	e.mu.RLock()
	defer e.mu.RUnlock()

	var total int64
	for id, flow := range e.flows {
		total += int64(len(id)) + perFlowOverhead
		total += int64(len(flow.Hops)) * perHopOverhead
		for _, sw := range flow.Path.Switches() {
			total += int64(len(sw))
		}
	}
	return total
}
