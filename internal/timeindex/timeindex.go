// Package timeindex buckets flows by start time so range/after/before
// queries can narrow to a small set of buckets instead of scanning
// every flow.
package timeindex

import (
	"sort"
	"time"

	"github.com/lzhtan/intdb/internal/model"
	"github.com/lzhtan/intdb/internal/pathindex"
)

// Index buckets flow start times into fixed-width windows.
type Index struct {
	buckets        map[int64]*pathindex.FlowSet // bucket epoch secs -> flow ids
	bucketSizeSecs int64
}

// New builds a time index with the given bucket width, in seconds.
func New(bucketSizeSecs int64) *Index {
	return &Index{
		buckets:        make(map[int64]*pathindex.FlowSet),
		bucketSizeSecs: bucketSizeSecs,
	}
}

// WithMinuteBuckets builds a time index with 60-second buckets.
func WithMinuteBuckets() *Index {
	return New(60)
}

func (idx *Index) bucketFor(t time.Time) int64 {
	sec := t.Unix()
	return (sec / idx.bucketSizeSecs) * idx.bucketSizeSecs
}

// AddFlow indexes flow under its start-time bucket.
func (idx *Index) AddFlow(flow *model.Flow) {
	bucket := idx.bucketFor(flow.StartTime)
	set, ok := idx.buckets[bucket]
	if !ok {
		set = pathindex.NewFlowSet()
		idx.buckets[bucket] = set
	}
	set.Add(flow.FlowID)
}

// RemoveFlow undoes AddFlow, pruning an emptied bucket.
func (idx *Index) RemoveFlow(flow *model.Flow) {
	bucket := idx.bucketFor(flow.StartTime)
	if set, ok := idx.buckets[bucket]; ok {
		set.Remove(flow.FlowID)
		if set.Len() == 0 {
			delete(idx.buckets, bucket)
		}
	}
}

func (idx *Index) sortedBuckets() []int64 {
	keys := make([]int64, 0, len(idx.buckets))
	for b := range idx.buckets {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// FindFlowsInRange returns the flow ids whose start-time bucket falls
// within [start, end], inclusive at both ends (bucket granularity, so
// the result is a conservative superset of an exact range match).
func (idx *Index) FindFlowsInRange(start, end time.Time) *pathindex.FlowSet {
	result := pathindex.NewFlowSet()
	startBucket := idx.bucketFor(start)
	endBucket := idx.bucketFor(end)
	for _, b := range idx.sortedBuckets() {
		if b >= startBucket && b <= endBucket {
			pathindex.Union(result, idx.buckets[b])
		}
	}
	return result
}

// FindFlowsAfter returns the flow ids in any bucket at or after timestamp.
func (idx *Index) FindFlowsAfter(timestamp time.Time) *pathindex.FlowSet {
	result := pathindex.NewFlowSet()
	startBucket := idx.bucketFor(timestamp)
	for _, b := range idx.sortedBuckets() {
		if b >= startBucket {
			pathindex.Union(result, idx.buckets[b])
		}
	}
	return result
}

// FindFlowsBefore returns the flow ids in any bucket at or before
// timestamp's bucket. This is a conservative superset at the boundary
// bucket (it can contain flows starting after timestamp within the
// same bucket); the residual Matches filter prunes those.
func (idx *Index) FindFlowsBefore(timestamp time.Time) *pathindex.FlowSet {
	result := pathindex.NewFlowSet()
	endBucket := idx.bucketFor(timestamp)
	for _, b := range idx.sortedBuckets() {
		if b <= endBucket {
			pathindex.Union(result, idx.buckets[b])
		}
	}
	return result
}

// EarliestTime returns the start of the earliest populated bucket.
func (idx *Index) EarliestTime() (time.Time, bool) {
	buckets := idx.sortedBuckets()
	if len(buckets) == 0 {
		return time.Time{}, false
	}
	return time.Unix(buckets[0], 0).UTC(), true
}

// LatestTime returns the start of the latest populated bucket.
func (idx *Index) LatestTime() (time.Time, bool) {
	buckets := idx.sortedBuckets()
	if len(buckets) == 0 {
		return time.Time{}, false
	}
	return time.Unix(buckets[len(buckets)-1], 0).UTC(), true
}

// Stats summarizes index cardinality, for diagnostics.
type Stats struct {
	BucketCount    int
	BucketSizeSecs int64
	EarliestTime   *time.Time
	LatestTime     *time.Time
	TotalFlowRefs  int
}

// Stats reports the index's current size.
func (idx *Index) Stats() Stats {
	total := 0
	for _, set := range idx.buckets {
		total += set.Len()
	}
	stats := Stats{
		BucketCount:    len(idx.buckets),
		BucketSizeSecs: idx.bucketSizeSecs,
		TotalFlowRefs:  total,
	}
	if t, ok := idx.EarliestTime(); ok {
		stats.EarliestTime = &t
	}
	if t, ok := idx.LatestTime(); ok {
		stats.LatestTime = &t
	}
	return stats
}
