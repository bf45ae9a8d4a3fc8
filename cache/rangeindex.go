package cache

import "sort"

// Interval is a closed guest-address range [Lo, Hi].
type Interval struct {
	Lo, Hi uint32
}

func (iv Interval) overlaps(lo, hi uint32) bool {
	return iv.Lo <= hi && lo <= iv.Hi
}

// rangeEntry associates one block's translated-address interval with its
// location hash. A block contributes exactly one entry.
type rangeEntry struct {
	Interval
	hash uint64
}

// RangeIndex is the sorted-slice interval container spec.md §4.9 requires:
// `block_ranges`, a closed interval `[entry_pc, end_pc-1]` keyed by the
// location hashes of blocks translated within it. No interval-tree library
// appears anywhere in the example pack (see DESIGN.md), so this stays a
// plain sorted slice searched with sort.Search rather than a fancier
// self-balancing structure — proportionate to the scale a per-context
// block cache actually reaches.
type RangeIndex struct {
	entries []rangeEntry // kept sorted by Lo
}

func NewRangeIndex() *RangeIndex {
	return &RangeIndex{}
}

// AddRange records that hash's block covers [lo, hi].
func (r *RangeIndex) AddRange(lo, hi uint32, hash uint64) {
	e := rangeEntry{Interval: Interval{Lo: lo, Hi: hi}, hash: hash}
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Lo >= lo })
	r.entries = append(r.entries, rangeEntry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
}

// InvalidateRanges returns the location hashes of every block whose
// interval overlaps any of ranges, and removes those blocks' entries from
// the index (spec.md §4.9: "InvalidateRanges(set_of_intervals) -> set_of_hashes").
func (r *RangeIndex) InvalidateRanges(ranges []Interval) []uint64 {
	var hashes []uint64
	kept := r.entries[:0]
	for _, e := range r.entries {
		hit := false
		for _, q := range ranges {
			if e.overlaps(q.Lo, q.Hi) {
				hit = true
				break
			}
		}
		if hit {
			hashes = append(hashes, e.hash)
		} else {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	return hashes
}

// ClearCache discards every recorded range.
func (r *RangeIndex) ClearCache() {
	r.entries = nil
}
