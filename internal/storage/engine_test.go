package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lzhtan/intdb/internal/engineobs"
	"github.com/lzhtan/intdb/internal/model"
	"github.com/lzhtan/intdb/internal/query"
	"github.com/lzhtan/intdb/internal/storageerr"
)

func buildFlow(t *testing.T, flowID string, switches []string, start time.Time, delayNs uint64, queueUtil float64) *model.Flow {
	t.Helper()
	hops := make([]model.Hop, len(switches))
	for i, sw := range switches {
		hops[i] = model.NewHopWithBasicMetrics(uint32(i), sw, start.Add(time.Duration(i)*time.Second), queueUtil, delayNs)
	}
	flow, err := model.NewFlow(flowID, hops)
	if err != nil {
		t.Fatalf("unexpected error building flow: %v", err)
	}
	return flow
}

func TestEngine_InsertAndGetFlow(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	flow := buildFlow(t, "flow_001", []string{"s1", "s2"}, now, 100, 0.3)

	if err := e.InsertFlow(flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := e.GetFlow("flow_001")
	if !ok {
		t.Fatal("expected flow to be retrievable")
	}
	if got.FlowID != "flow_001" {
		t.Errorf("unexpected flow id: %s", got.FlowID)
	}
	if e.FlowCount() != 1 {
		t.Errorf("expected flow count 1, got %d", e.FlowCount())
	}
}

func TestEngine_InsertFlow_AppendAndRenumber(t *testing.T) {
	e := New(Config{})
	now := time.Now()

	first := buildFlow(t, "flow_001", []string{"s1", "s2"}, now, 100, 0.3)
	if err := e.InsertFlow(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Appended hops arrive with hop_index starting back at 0; the engine
	// must renumber them to continue from the existing sequence.
	appendStart := now.Add(time.Hour)
	second := buildFlow(t, "flow_001", []string{"s2", "s3"}, appendStart, 200, 0.5)
	if err := e.InsertFlow(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	merged, ok := e.GetFlow("flow_001")
	if !ok {
		t.Fatal("expected merged flow to exist")
	}
	if len(merged.Hops) != 4 {
		t.Fatalf("expected 4 hops after append, got %d", len(merged.Hops))
	}
	for i, h := range merged.Hops {
		if int(h.HopIndex) != i {
			t.Errorf("hop %d has HopIndex %d, want sequential renumbering", i, h.HopIndex)
		}
	}

	// s2 appears in both submissions; first-occurrence-only means it is
	// not re-added to the path.
	want := []string{"s1", "s2", "s3"}
	got := merged.Path.Switches()
	if len(got) != len(want) {
		t.Fatalf("unexpected merged path: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("merged path[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if !merged.StartTime.Equal(now) {
		t.Errorf("expected start time widened to the earliest hop, got %v", merged.StartTime)
	}
	if !merged.EndTime.After(now) {
		t.Errorf("expected end time widened by the append, got %v", merged.EndTime)
	}

	// Re-keying must have happened: the index should reflect the merged
	// path, not the original 2-hop path.
	throughS3, err := e.Query(query.ThroughSwitchQuery("s3"))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if throughS3.Count() != 1 || throughS3.FlowIDs[0] != "flow_001" {
		t.Errorf("expected index re-keyed to include s3, got %v", throughS3.FlowIDs)
	}
}

func TestEngine_InsertFlow_ReadOnlyRejected(t *testing.T) {
	e := New(Config{ReadOnly: true})
	flow := buildFlow(t, "flow_001", []string{"s1"}, time.Now(), 100, 0.1)

	err := e.InsertFlow(flow)
	if err == nil {
		t.Fatal("expected an error on a read-only engine")
	}
	engErr, ok := err.(*storageerr.EngineError)
	if !ok || engErr.Kind != storageerr.ReadOnly {
		t.Errorf("expected ReadOnly EngineError, got %v", err)
	}
}

func TestEngine_InsertFlow_StorageFullRejected(t *testing.T) {
	e := New(Config{MaxFlows: 1})
	now := time.Now()

	if err := e.InsertFlow(buildFlow(t, "flow_001", []string{"s1"}, now, 100, 0.1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := e.InsertFlow(buildFlow(t, "flow_002", []string{"s2"}, now, 100, 0.1))
	if err == nil {
		t.Fatal("expected an error once capacity is reached")
	}
	engErr, ok := err.(*storageerr.EngineError)
	if !ok || engErr.Kind != storageerr.StorageFull {
		t.Errorf("expected StorageFull EngineError, got %v", err)
	}

	// Appending to an existing flow id must not be blocked by the cap.
	if err := e.InsertFlow(buildFlow(t, "flow_001", []string{"s3"}, now.Add(time.Hour), 50, 0.2)); err != nil {
		t.Errorf("expected append to succeed despite the engine being at capacity: %v", err)
	}
}

func TestEngine_Query_ExactPath(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	flow := buildFlow(t, "flow_001", []string{"s1", "s2", "s3"}, now, 100, 0.1)
	if err := e.InsertFlow(flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.InsertFlow(buildFlow(t, "flow_002", []string{"s4", "s5"}, now, 100, 0.1))

	result, err := e.Query(query.ExactPathQuery(flow.Path))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if result.Count() != 1 || result.FlowIDs[0] != "flow_001" {
		t.Errorf("unexpected exact path result: %v", result.FlowIDs)
	}
}

func TestEngine_Query_CompoundPathAndMetricCondition(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	e.InsertFlow(buildFlow(t, "flow_001", []string{"s1", "s2", "s3"}, now, 100, 0.3))
	e.InsertFlow(buildFlow(t, "flow_002", []string{"s1", "s2", "s4"}, now, 100, 0.6))
	e.InsertFlow(buildFlow(t, "flow_003", []string{"s2", "s3", "s4"}, now, 100, 0.7))

	q := query.New().
		WithPathCondition(query.ThroughSwitch("s2")).
		WithMetricCondition(query.MaxQueueUtilGreaterThan(0.4))
	result, err := e.Query(q)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}

	want := map[string]bool{"flow_002": true, "flow_003": true}
	if result.Count() != len(want) {
		t.Fatalf("expected %d matches, got %d: %v", len(want), result.Count(), result.FlowIDs)
	}
	for _, id := range result.FlowIDs {
		if !want[id] {
			t.Errorf("unexpected flow in result: %s", id)
		}
	}
}

func TestEngine_Query_LengthConditionIsResidualOnly(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	e.InsertFlow(buildFlow(t, "flow_001", []string{"s1", "s2"}, now, 100, 0.1))
	e.InsertFlow(buildFlow(t, "flow_002", []string{"s1", "s2", "s3"}, now, 100, 0.1))

	result, err := e.Query(query.New().WithPathCondition(query.LengthEquals(2)))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if result.Count() != 1 || result.FlowIDs[0] != "flow_001" {
		t.Errorf("unexpected length-filtered result: %v", result.FlowIDs)
	}
}

func TestEngine_Query_InvalidLengthRangeReturnsInvalidQueryError(t *testing.T) {
	e := New(Config{})
	e.InsertFlow(buildFlow(t, "flow_001", []string{"s1", "s2"}, time.Now(), 0, 0))

	_, err := e.Query(query.New().WithPathCondition(query.LengthInRange(5, 2)))
	if err == nil {
		t.Fatal("expected an error for a malformed LengthInRange condition")
	}
	engErr, ok := err.(*storageerr.EngineError)
	if !ok || engErr.Kind != storageerr.InvalidQuery {
		t.Errorf("expected InvalidQuery EngineError, got %v", err)
	}
}

func TestEngine_Query_SortOrderAndPagination(t *testing.T) {
	e := New(Config{})
	base := time.Now()

	// Insert out of chronological order; results must still sort by
	// start time descending, with flow id ascending as the tiebreak.
	e.InsertFlow(buildFlow(t, "flow_b", []string{"s1"}, base, 0, 0))
	e.InsertFlow(buildFlow(t, "flow_a", []string{"s1"}, base, 0, 0))
	e.InsertFlow(buildFlow(t, "flow_c", []string{"s1"}, base.Add(time.Minute), 0, 0))

	all, err := e.Query(query.ThroughSwitchQuery("s1"))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	want := []string{"flow_c", "flow_a", "flow_b"}
	if len(all.FlowIDs) != len(want) {
		t.Fatalf("unexpected result set: %v", all.FlowIDs)
	}
	for i := range want {
		if all.FlowIDs[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, all.FlowIDs[i], want[i])
		}
	}

	paged, err := e.Query(query.New().WithPathCondition(query.ThroughSwitch("s1")).Skip(1).Limit(1))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(paged.FlowIDs) != 1 || paged.FlowIDs[0] != "flow_a" {
		t.Errorf("unexpected paged result: %v", paged.FlowIDs)
	}
	if paged.TotalCount != 3 {
		t.Errorf("expected TotalCount=3, got %d", paged.TotalCount)
	}
	if !paged.HasMore(1) {
		t.Error("expected HasMore to report true with one result left")
	}
}

func TestEngine_Query_NoMatchesReturnsEmptyResult(t *testing.T) {
	e := New(Config{})
	e.InsertFlow(buildFlow(t, "flow_001", []string{"s1"}, time.Now(), 0, 0))

	result, err := e.Query(query.ThroughSwitchQuery("nonexistent"))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if !result.IsEmpty() || result.TotalCount != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestEngine_ExpireFlowsBefore(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	e.InsertFlow(buildFlow(t, "flow_old", []string{"s1"}, now.Add(-2*time.Hour), 0, 0))
	e.InsertFlow(buildFlow(t, "flow_new", []string{"s1"}, now, 0, 0))

	expired := e.ExpireFlowsBefore(now.Add(-time.Hour))
	if expired != 1 {
		t.Fatalf("expected 1 flow expired, got %d", expired)
	}
	if _, ok := e.GetFlow("flow_old"); ok {
		t.Error("expected expired flow removed from the primary map")
	}
	if _, ok := e.GetFlow("flow_new"); !ok {
		t.Error("expected unexpired flow to remain")
	}

	// The index must be cleaned up too, not just the map.
	result, err := e.Query(query.ThroughSwitchQuery("s1"))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if result.Count() != 1 || result.FlowIDs[0] != "flow_new" {
		t.Errorf("expected index to reflect the expiry, got %v", result.FlowIDs)
	}
}

func TestEngine_EstimateMemoryUsage(t *testing.T) {
	e := New(Config{})
	if e.EstimateMemoryUsage() != 0 {
		t.Error("expected zero estimate for an empty engine")
	}
	e.InsertFlow(buildFlow(t, "flow_001", []string{"s1", "s2"}, time.Now(), 0, 0))
	if e.EstimateMemoryUsage() <= 0 {
		t.Error("expected a positive estimate once a flow is stored")
	}
}

func TestEngine_SetTracer_WrapsInsertAndQuery(t *testing.T) {
	e := New(Config{})
	tracer, err := engineobs.NewTracer(context.Background(), engineobs.TraceConfig{
		Enabled:      true,
		ServiceName:  "intdb-test",
		ExporterType: engineobs.ExporterStdout,
		SampleRate:   1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error building tracer: %v", err)
	}
	e.SetTracer(tracer)

	flow := buildFlow(t, "flow_001", []string{"s1"}, time.Now(), 0, 0)
	if err := e.InsertFlowContext(context.Background(), flow); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	result, err := e.QueryContext(context.Background(), query.ThroughSwitchQuery("s1"))
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if result.Count() != 1 {
		t.Errorf("expected 1 match, got %d", result.Count())
	}
}

func TestEngine_SetTracer_NilDisablesTracing(t *testing.T) {
	e := New(Config{})
	e.SetTracer(nil)
	if err := e.InsertFlow(buildFlow(t, "flow_001", []string{"s1"}, time.Now(), 0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_ConcurrentInsertAndQuery(t *testing.T) {
	e := New(Config{})
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flow := buildFlow(t, "flow_concurrent", []string{"s1", "s2"}, now.Add(time.Duration(i)*time.Millisecond), uint64(i), 0.1)
			if err := e.InsertFlow(flow); err != nil {
				t.Errorf("unexpected insert error: %v", err)
			}
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Query(query.ThroughSwitchQuery("s1"))
		}()
	}
	wg.Wait()

	merged, ok := e.GetFlow("flow_concurrent")
	if !ok {
		t.Fatal("expected the concurrently-appended flow to exist")
	}
	if len(merged.Hops) != 100 {
		t.Errorf("expected 100 hops after 50 concurrent 2-hop appends, got %d", len(merged.Hops))
	}
	for i, h := range merged.Hops {
		if int(h.HopIndex) != i {
			t.Errorf("hop %d has HopIndex %d after concurrent appends, expected sequential renumbering", i, h.HopIndex)
			break
		}
	}
}
