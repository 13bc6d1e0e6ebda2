package reconcile

import (
	"math"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/tidwall/btree"

	"nakula/pkg/ledger"
)

type bucketKey struct {
	asset string
	label ledger.Label
}

type entry struct {
	at     int64
	handle int
}

func entryLess(a, b entry) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.handle < b.handle
}

// FlowIndex is an arena of flows addressed by their position in the input slice.
// Flows are bucketed by asset and label and kept in time order inside each bucket.
// Removal only clears an availability bit, so a removed handle can always be reinserted.
type FlowIndex struct {
	flows     []ledger.Flow
	buckets   map[bucketKey]*btree.BTreeG[entry]
	available *bitset.BitSet
}

// NewFlowIndex indexes flows. Every flow starts out available.
func NewFlowIndex(flows []ledger.Flow) *FlowIndex {
	idx := &FlowIndex{
		flows:     flows,
		buckets:   make(map[bucketKey]*btree.BTreeG[entry]),
		available: bitset.New(uint(len(flows))),
	}
	for h, f := range flows {
		key := bucketKey{asset: f.Asset, label: f.Label}
		tree, ok := idx.buckets[key]
		if !ok {
			tree = btree.NewBTreeG(entryLess)
			idx.buckets[key] = tree
		}
		tree.Set(entry{at: f.Time.UnixNano(), handle: h})
		idx.available.Set(uint(h))
	}
	return idx
}

// Candidates returns the available handles with the query's asset and label whose time is
// within window of the query time, bounds included. A nil window asks for the exact
// timestamp. Handles are returned in ascending order.
func (idx *FlowIndex) Candidates(query ledger.Flow, window *time.Duration) []int {
	tree, ok := idx.buckets[bucketKey{asset: query.Asset, label: query.Label}]
	if !ok {
		return nil
	}

	at := query.Time.UnixNano()
	lo, hi := at, at
	if window != nil {
		lo = saturatingAdd(at, -int64(*window))
		hi = saturatingAdd(at, int64(*window))
	}

	var handles []int
	tree.Ascend(entry{at: lo, handle: math.MinInt}, func(e entry) bool {
		if e.at > hi {
			return false
		}
		if idx.available.Test(uint(e.handle)) {
			handles = append(handles, e.handle)
		}
		return true
	})
	slices.Sort(handles)
	return handles
}

// Remove marks h as consumed.
func (idx *FlowIndex) Remove(h int) {
	idx.available.Clear(uint(h))
}

// Reinsert makes a previously removed handle available again.
func (idx *FlowIndex) Reinsert(h int) {
	idx.available.Set(uint(h))
}

// Available reports whether h can still be bound.
func (idx *FlowIndex) Available(h int) bool {
	return idx.available.Test(uint(h))
}

// Flow returns the flow behind h.
func (idx *FlowIndex) Flow(h int) ledger.Flow {
	return idx.flows[h]
}

// Len returns the number of indexed flows, consumed or not.
func (idx *FlowIndex) Len() int {
	return len(idx.flows)
}

// Remaining returns every available handle in ascending order.
func (idx *FlowIndex) Remaining() []int {
	handles := make([]int, 0, idx.available.Count())
	for i, ok := idx.available.NextSet(0); ok && int(i) < len(idx.flows); i, ok = idx.available.NextSet(i + 1) {
		handles = append(handles, int(i))
	}
	return handles
}

func saturatingAdd(a, b int64) int64 {
	s := a + b
	if b > 0 && s < a {
		return math.MaxInt64
	}
	if b < 0 && s > a {
		return math.MinInt64
	}
	return s
}
