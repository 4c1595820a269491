// Package aligngraph builds the guide-tree skeleton of spec section
// 4.4: a randomized graph of pairwise alignments over K sequences, a
// disjoint-set partition tracking connectivity as edges are drawn, and
// a maximum-weight spanning tree extracted via a Prim variant. Its
// per-vertex lazy-deletion priority queues are grounded on
// katalvlaran-lvlath's prim_kruskal.edgePQ pattern (container/heap,
// stale tops skipped on pop); the union-find is grounded directly on
// original_source/src/span.cpp's AlignGraph::Partition, which
// deliberately never path-compresses (spec section 9).
package aligngraph

import "sort"

// Partition is a disjoint-set structure over {0..n-1}. Unlike a
// standard union-find, it keeps the full membership set of every
// partition index and, on merge, relabels every member of the
// larger-indexed set into the smaller one rather than compressing
// paths. This makes `seqSet[0]` always the set currently containing
// vertex 0, the frontier MinSpanTree scans from.
type Partition struct {
	seqSetIdx []int
	seqSet    []map[int]bool
	NSets     int
}

// NewPartition returns the discrete partition {0},{1},...,{n-1}.
func NewPartition(n int) *Partition {
	p := &Partition{
		seqSetIdx: make([]int, n),
		seqSet:    make([]map[int]bool, n),
		NSets:     n,
	}
	for i := 0; i < n; i++ {
		p.seqSetIdx[i] = i
		p.seqSet[i] = map[int]bool{i: true}
	}
	return p
}

// InSameSet reports whether row1 and row2 are currently in the same set.
func (p *Partition) InSameSet(row1, row2 int) bool {
	return p.seqSetIdx[row1] == p.seqSetIdx[row2]
}

// Merge merges the sets containing row1 and row2, if they differ. The
// smaller set index is kept as destination; every member of the larger
// one is relabelled and absorbed, and the now-empty larger set is left
// in place (not removed) to keep every other index stable.
func (p *Partition) Merge(row1, row2 int) {
	idx1, idx2 := p.seqSetIdx[row1], p.seqSetIdx[row2]
	if idx1 == idx2 {
		return
	}
	if idx1 > idx2 {
		idx1, idx2 = idx2, idx1
	}
	for n := range p.seqSet[idx2] {
		p.seqSetIdx[n] = idx1
		p.seqSet[idx1][n] = true
	}
	p.seqSet[idx2] = map[int]bool{}
	p.NSets--
}

// SetContaining returns the member list of the set currently holding
// row, in ascending order. SetContaining(0) is the frontier
// MinSpanTree's Prim variant scans from.
func (p *Partition) SetContaining(row int) []int {
	set := p.seqSet[p.seqSetIdx[row]]
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
