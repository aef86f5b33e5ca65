// Package pathindex maintains secondary indexes over flow paths so the
// query planner can narrow a scan to a candidate set before applying
// residual condition checks.
package pathindex

import (
	"sort"
	"strings"

	"github.com/lzhtan/intdb/internal/model"
)

// FlowSet is an ordered set of flow ids, sorted ascending by id.
type FlowSet struct {
	ids map[string]struct{}
}

// NewFlowSet builds an empty FlowSet.
func NewFlowSet() *FlowSet {
	return &FlowSet{ids: make(map[string]struct{})}
}

// Add inserts id into the set.
func (s *FlowSet) Add(id string) { s.ids[id] = struct{}{} }

// Remove deletes id from the set, if present.
func (s *FlowSet) Remove(id string) { delete(s.ids, id) }

// Len returns the number of ids in the set.
func (s *FlowSet) Len() int { return len(s.ids) }

// Contains reports whether id is a member of the set.
func (s *FlowSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Union merges src's members into dst. A nil src is a no-op.
func Union(dst *FlowSet, src *FlowSet) {
	unionInto(dst, src)
}

// SortedIDs returns the set's members in ascending order.
func (s *FlowSet) SortedIDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func unionInto(dst *FlowSet, src *FlowSet) {
	if src == nil {
		return
	}
	for id := range src.ids {
		dst.Add(id)
	}
}

// Index maps flow paths to the flow ids that carry them, along the
// three axes the query planner needs: exact path hash, membership of a
// single switch, and path prefix.
type Index struct {
	exactPaths  map[string]*FlowSet // path hash -> flow ids
	switchFlows map[string]*FlowSet // switch id -> flow ids
	prefixIndex map[string]*FlowSet // "s1->s2" prefix key -> flow ids
}

// New builds an empty path index.
func New() *Index {
	return &Index{
		exactPaths:  make(map[string]*FlowSet),
		switchFlows: make(map[string]*FlowSet),
		prefixIndex: make(map[string]*FlowSet),
	}
}

func prefixKey(switches []string) string {
	return strings.Join(switches, "->")
}

// AddFlow indexes flow under its exact path, every switch it passes
// through, and every prefix of its path.
func (idx *Index) AddFlow(flow *model.Flow) {
	flowID := flow.FlowID
	switches := flow.Path.Switches()

	pathHash := flow.PathHash()
	set, ok := idx.exactPaths[pathHash]
	if !ok {
		set = NewFlowSet()
		idx.exactPaths[pathHash] = set
	}
	set.Add(flowID)

	for _, sw := range switches {
		set, ok := idx.switchFlows[sw]
		if !ok {
			set = NewFlowSet()
			idx.switchFlows[sw] = set
		}
		set.Add(flowID)
	}

	for i := 1; i <= len(switches); i++ {
		key := prefixKey(switches[:i])
		set, ok := idx.prefixIndex[key]
		if !ok {
			set = NewFlowSet()
			idx.prefixIndex[key] = set
		}
		set.Add(flowID)
	}
}

// RemoveFlow undoes AddFlow, pruning any index entry left empty.
func (idx *Index) RemoveFlow(flow *model.Flow) {
	flowID := flow.FlowID
	switches := flow.Path.Switches()

	pathHash := flow.PathHash()
	if set, ok := idx.exactPaths[pathHash]; ok {
		set.Remove(flowID)
		if set.Len() == 0 {
			delete(idx.exactPaths, pathHash)
		}
	}

	for _, sw := range switches {
		if set, ok := idx.switchFlows[sw]; ok {
			set.Remove(flowID)
			if set.Len() == 0 {
				delete(idx.switchFlows, sw)
			}
		}
	}

	for i := 1; i <= len(switches); i++ {
		key := prefixKey(switches[:i])
		if set, ok := idx.prefixIndex[key]; ok {
			set.Remove(flowID)
			if set.Len() == 0 {
				delete(idx.prefixIndex, key)
			}
		}
	}
}

// FindExactPath returns the flow ids whose path hash matches path's.
func (idx *Index) FindExactPath(path model.Path) *FlowSet {
	if set, ok := idx.exactPaths[path.Hash()]; ok {
		return set
	}
	return NewFlowSet()
}

// FindFlowsThroughSwitch returns the flow ids that pass through switchID.
func (idx *Index) FindFlowsThroughSwitch(switchID string) *FlowSet {
	if set, ok := idx.switchFlows[switchID]; ok {
		return set
	}
	return NewFlowSet()
}

// FindFlowsWithPrefix returns the flow ids whose path begins with prefix.
func (idx *Index) FindFlowsWithPrefix(prefix []string) *FlowSet {
	result := NewFlowSet()
	if len(prefix) == 0 {
		return result
	}
	key := prefixKey(prefix)
	for storedPrefix, set := range idx.prefixIndex {
		if strings.HasPrefix(storedPrefix, key) {
			unionInto(result, set)
		}
	}
	return result
}

// FindFlowsContainingPath returns the flow ids whose path contains
// subpath as a contiguous window, anywhere in the path. The candidate
// set is built from any prefix entry that contains subpath's key as a
// substring; like the prefix index itself it's a conservative
// over-approximation, narrowed by the residual Matches() check.
func (idx *Index) FindFlowsContainingPath(subpath []string) *FlowSet {
	result := NewFlowSet()
	if len(subpath) == 0 {
		return result
	}
	searchKey := prefixKey(subpath)
	if set, ok := idx.prefixIndex[searchKey]; ok {
		unionInto(result, set)
	}
	for prefix, set := range idx.prefixIndex {
		if strings.Contains(prefix, searchKey) {
			unionInto(result, set)
		}
	}
	return result
}

// Stats summarizes index cardinality, for diagnostics.
type Stats struct {
	UniquePaths    int
	UniqueSwitches int
	PrefixEntries  int
	TotalFlowRefs  int
}

// Stats reports the index's current size.
func (idx *Index) Stats() Stats {
	total := 0
	for _, set := range idx.exactPaths {
		total += set.Len()
	}
	return Stats{
		UniquePaths:    len(idx.exactPaths),
		UniqueSwitches: len(idx.switchFlows),
		PrefixEntries:  len(idx.prefixIndex),
		TotalFlowRefs:  total,
	}
}
