package query

import (
	"testing"
	"time"

	"github.com/lzhtan/intdb/internal/model"
)

func flowWithPath(t *testing.T, flowID string, switches []string, start time.Time, delayNs uint64, queueUtil float64) *model.Flow {
	t.Helper()
	hops := make([]model.Hop, len(switches))
	for i, sw := range switches {
		hops[i] = model.NewHopWithBasicMetrics(uint32(i), sw, start.Add(time.Duration(i)*time.Second), queueUtil, delayNs)
	}
	flow, err := model.NewFlow(flowID, hops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return flow
}

func TestPathConditions_Matches(t *testing.T) {
	now := time.Now()
	flow := flowWithPath(t, "flow_001", []string{"s1", "s2", "s3"}, now, 100, 0.3)

	if !ExactPath(flow.Path).Matches(flow, now) {
		t.Error("expected ExactPath to match its own path")
	}
	if !ContainsPath([]string{"s2", "s3"}).Matches(flow, now) {
		t.Error("expected ContainsPath to match a contained window")
	}
	if !StartsWith([]string{"s1"}).Matches(flow, now) {
		t.Error("expected StartsWith to match the leading switch")
	}
	if !EndsWith([]string{"s3"}).Matches(flow, now) {
		t.Error("expected EndsWith to match the trailing switch")
	}
	if !ThroughSwitch("s2").Matches(flow, now) {
		t.Error("expected ThroughSwitch to match a switch in the path")
	}
	if !LengthEquals(3).Matches(flow, now) {
		t.Error("expected LengthEquals(3) to match a 3-hop path")
	}
	if !LengthInRange(2, 4).Matches(flow, now) {
		t.Error("expected LengthInRange(2,4) to match a 3-hop path")
	}
	if LengthEquals(5).Matches(flow, now) {
		t.Error("expected LengthEquals(5) to reject a 3-hop path")
	}
}

func TestTimeConditions_Matches(t *testing.T) {
	now := time.Now()
	flow := flowWithPath(t, "flow_001", []string{"s1"}, now, 100, 0.3)

	if !After(now.Add(-time.Minute)).Matches(flow, now) {
		t.Error("expected After to match a flow starting after the threshold")
	}
	if After(now.Add(time.Minute)).Matches(flow, now) {
		t.Error("expected After to reject a flow starting before the threshold")
	}
	if !Before(now.Add(time.Minute)).Matches(flow, now) {
		t.Error("expected Before to match a flow starting before the threshold")
	}
	if !InRange(now.Add(-time.Minute), now.Add(time.Minute)).Matches(flow, now) {
		t.Error("expected InRange to match a flow within the window")
	}
	if !WithinLastMinutes(5).Matches(flow, now) {
		t.Error("expected WithinLastMinutes to match a flow starting at now")
	}
	if WithinLastMinutes(5).Matches(flow, now.Add(10*time.Minute)) {
		t.Error("expected WithinLastMinutes to reject a flow outside the window relative to a later now")
	}
}

func TestMetricConditions_Matches(t *testing.T) {
	now := time.Now()
	flow := flowWithPath(t, "flow_001", []string{"s1", "s2"}, now, 100, 0.6)

	if !TotalDelayGreaterThan(150).Matches(flow, now) {
		t.Error("expected TotalDelayGreaterThan(150) to match a flow with 200ns total delay")
	}
	if TotalDelayLessThan(150).Matches(flow, now) {
		t.Error("expected TotalDelayLessThan(150) to reject a flow with 200ns total delay")
	}
	if !MaxQueueUtilGreaterThan(0.5).Matches(flow, now) {
		t.Error("expected MaxQueueUtilGreaterThan(0.5) to match a flow with max util 0.6")
	}
	if !AvgQueueUtilGreaterThan(0.5).Matches(flow, now) {
		t.Error("expected AvgQueueUtilGreaterThan(0.5) to match a flow averaging 0.6")
	}
}

func TestMetricConditions_UndefinedAggregateNeverMatches(t *testing.T) {
	now := time.Now()
	flow, err := model.NewFlow("flow_001", []model.Hop{
		model.NewHop(0, "s1", now, model.TelemetryMetrics{}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if TotalDelayGreaterThan(0).Matches(flow, now) {
		t.Error("expected TotalDelayGreaterThan to be false when no hop reports delay")
	}
	if MaxQueueUtilGreaterThan(0).Matches(flow, now) {
		t.Error("expected MaxQueueUtilGreaterThan to be false when no hop reports queue utilization")
	}
}

func TestBuilder_AccumulatesConditionsAndPagination(t *testing.T) {
	b := New().
		WithPathCondition(ThroughSwitch("s2")).
		WithTimeCondition(WithinLastMinutes(5)).
		WithMetricCondition(TotalDelayGreaterThan(100)).
		Limit(10).
		Skip(5)

	paths, times, metrics := b.Conditions()
	if len(paths) != 1 || len(times) != 1 || len(metrics) != 1 {
		t.Fatalf("expected 1 condition of each kind, got %d/%d/%d", len(paths), len(times), len(metrics))
	}
	limit, skip := b.Pagination()
	if limit == nil || *limit != 10 {
		t.Errorf("unexpected limit: %v", limit)
	}
	if skip == nil || *skip != 5 {
		t.Errorf("unexpected skip: %v", skip)
	}
}

func TestBuilder_Validate(t *testing.T) {
	valid := New().WithPathCondition(ThroughSwitch("s2")).WithPathCondition(LengthInRange(1, 3))
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error for a well-formed builder: %v", err)
	}

	badLength := New().WithPathCondition(LengthInRange(5, 2))
	if err := badLength.Validate(); err == nil {
		t.Error("expected an error for LengthInRange(min > max)")
	}

	badDelay := New().WithMetricCondition(TotalDelayInRange(500, 100))
	if err := badDelay.Validate(); err == nil {
		t.Error("expected an error for TotalDelayInRange(min > max)")
	}

	now := time.Now()
	badRange := New().WithTimeCondition(InRange(now, now.Add(-time.Hour)))
	if err := badRange.Validate(); err == nil {
		t.Error("expected an error for InRange(end before start)")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	path := model.NewPath([]string{"s1", "s2"})
	b := ExactPathQuery(path)
	paths, _, _ := b.Conditions()
	if len(paths) != 1 {
		t.Fatalf("expected ExactPathQuery to add one path condition")
	}

	b = ThroughSwitchQuery("s2")
	paths, _, _ = b.Conditions()
	if len(paths) != 1 {
		t.Fatalf("expected ThroughSwitchQuery to add one path condition")
	}

	b = InLastMinutesQuery(5)
	_, times, _ := b.Conditions()
	if len(times) != 1 {
		t.Fatalf("expected InLastMinutesQuery to add one time condition")
	}

	b = WithHighDelayQuery(500)
	_, _, metrics := b.Conditions()
	if len(metrics) != 1 {
		t.Fatalf("expected WithHighDelayQuery to add one metric condition")
	}
}

func TestResult_Helpers(t *testing.T) {
	r := Result{FlowIDs: []string{"a", "b"}, TotalCount: 5}
	if r.IsEmpty() {
		t.Error("expected non-empty result")
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if !r.HasMore(0) {
		t.Error("expected HasMore(0) to be true when 2 of 5 returned")
	}
	if r.HasMore(3) {
		t.Error("expected HasMore(3) to be false when skip+len covers all matches")
	}
}

func TestPathIndexProber_ImplementedByIndexExactConditions(t *testing.T) {
	var _ PathIndexProber = ExactPath(model.Path{})
	var _ PathIndexProber = ContainsPath(nil)
	var _ PathIndexProber = StartsWith(nil)
	var _ PathIndexProber = ThroughSwitch("s1")

	if _, ok := EndsWith(nil).(PathIndexProber); ok {
		t.Error("expected EndsWith to have no index fast path")
	}
	if _, ok := LengthEquals(1).(PathIndexProber); ok {
		t.Error("expected LengthEquals to have no index fast path")
	}
}

func TestTimeIndexProber_ImplementedByEveryTimeCondition(t *testing.T) {
	now := time.Now()
	var _ TimeIndexProber = After(now)
	var _ TimeIndexProber = Before(now)
	var _ TimeIndexProber = InRange(now, now)
	var _ TimeIndexProber = WithinLastMinutes(5)
}
