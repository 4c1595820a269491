package aligngraph

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/op/go-logging"

	"github.com/mrrlab/histeval/align"
	"github.com/mrrlab/histeval/core"
)

var log = logging.MustGetLogger("aligngraph")

// Edge carries the two canonicalised (row1 < row2) endpoints of a drawn
// pairwise alignment and its log-likelihood score. Higher Lp is better.
type Edge struct {
	Row1, Row2 int
	Lp         float64
}

// Pairwise is the seam AlignGraph draws its quick pairwise alignments
// through, letting callers substitute a stub in tests instead of
// running the full aligndp DP. dist is the divergence time between the
// two sequences; implementations return the sampled path (rows keyed 0
// for x, 1 for y) and its forward log-likelihood.
type Pairwise func(xSeq, ySeq []int, dist float64, rng *rand.Rand) (path *align.Path, lp float64, err error)

// AlignGraph is the randomized graph of pairwise alignments of spec
// section 4.4: K sequences, edges drawn until the graph is both
// sufficiently dense and fully connected, then a maximum-weight
// spanning tree extracted from it.
type AlignGraph struct {
	seqs     [][]int
	dist     float64
	pairwise Pairwise

	edgePath map[[2]int]*align.Path
	edges    []*edgePQ // per-vertex max-heap on Lp
}

// New draws edges over seqs (K tokenised sequences) at divergence time
// dist, using rng as the exclusive random source and pairwise to
// compute each candidate edge's alignment and score.
func New(seqs [][]int, dist float64, pairwise Pairwise, rng *rand.Rand) (*AlignGraph, error) {
	k := len(seqs)
	g := &AlignGraph{
		seqs: seqs, dist: dist, pairwise: pairwise,
		edgePath: make(map[[2]int]*align.Path),
		edges:    make([]*edgePQ, k),
	}
	for i := range g.edges {
		g.edges[i] = &edgePQ{}
	}

	if k < 2 {
		return g, nil
	}

	nTarget := nTargetEdges(k)
	part := NewPartition(k)
	drawn := map[[2]int]bool{}

	for n := 0; n < nTarget || part.NSets > 1; n++ {
		src, dest, err := drawUndrawnPair(k, drawn, rng)
		if err != nil {
			return nil, err
		}

		localPath, lp, err := g.pairwise(seqs[src], seqs[dest], dist, rng)
		if err != nil {
			return nil, err
		}
		path, err := relabelPath(localPath, src, dest)
		if err != nil {
			return nil, err
		}
		g.edgePath[[2]int{src, dest}] = path

		e := &Edge{Row1: src, Row2: dest, Lp: lp}
		heap.Push(g.edges[src], e)
		heap.Push(g.edges[dest], e)

		part.Merge(src, dest)

		log.Debugf("aligned rows %d and %d (%d edges, %d disconnected sets)", src, dest, n+1, part.NSets)
	}

	return g, nil
}

// relabelPath copies a local (0,1)-keyed pairwise path into one keyed
// by the actual global row indices src and dest.
func relabelPath(p *align.Path, src, dest int) (*align.Path, error) {
	rows := map[int][]bool{src: make([]bool, p.NCols()), dest: make([]bool, p.NCols())}
	for c := 0; c < p.NCols(); c++ {
		rows[src][c] = p.Present(0, c)
		rows[dest][c] = p.Present(1, c)
	}
	return align.NewPath(rows)
}

func nTargetEdges(k int) int {
	full := k * (k - 1) / 2
	target := int(math.Ceil(math.Log2(float64(k)) * float64(k)))
	if target > full {
		return full
	}
	return target
}

// drawUndrawnPair rejection-samples an unordered pair never drawn
// before, canonicalising to src<dest before both the lookup and the
// eventual insertion -- resolving spec section 9's open question about
// which side of the pair the visited-set must be keyed on.
func drawUndrawnPair(k int, drawn map[[2]int]bool, rng *rand.Rand) (int, int, error) {
	if k < 2 {
		return 0, 0, &core.InvariantViolation{What: "aligngraph: cannot draw a pair from fewer than 2 sequences"}
	}
	for attempts := 0; attempts < maxRejectionAttempts(k); attempts++ {
		src, dest := rng.Intn(k), rng.Intn(k)
		if dest < src {
			src, dest = dest, src
		}
		if src == dest {
			continue
		}
		key := [2]int{src, dest}
		if drawn[key] {
			continue
		}
		drawn[key] = true
		return src, dest, nil
	}
	return 0, 0, &core.InvariantViolation{What: "aligngraph: exhausted rejection-sampling attempts for an unused pair"}
}

func maxRejectionAttempts(k int) int {
	n := k * (k - 1) / 2 * 8
	if n < 1000 {
		n = 1000
	}
	return n
}

// MinSpanTree returns the K-1 edge paths of a maximum-weight spanning
// tree, using a Prim variant that scans from the frontier currently
// holding vertex 0, lazily discarding stale (already-merged) top edges
// from each vertex's priority queue.
func (g *AlignGraph) MinSpanTree() ([]*align.Path, error) {
	k := len(g.seqs)
	if k < 2 {
		return nil, nil
	}
	part := NewPartition(k)
	var paths []*align.Path

	for part.NSets > 1 {
		var best *Edge
		for _, src := range part.SetContaining(0) {
			pq := g.edges[src]
			for pq.Len() > 0 && part.InSameSet((*pq)[0].Row1, (*pq)[0].Row2) {
				heap.Pop(pq)
			}
			if pq.Len() > 0 {
				top := (*pq)[0]
				if best == nil || top.Lp > best.Lp {
					best = top
				}
			}
		}
		if best == nil {
			return nil, &core.Disconnected{NSets: part.NSets}
		}
		paths = append(paths, g.edgePath[[2]int{best.Row1, best.Row2}])
		part.Merge(best.Row1, best.Row2)

		log.Debugf("joined rows %d and %d (%d edges, %d disconnected sets)", best.Row1, best.Row2, len(paths), part.NSets)
	}
	return paths, nil
}

// MSTPath merges the spanning tree's edge paths into one multiple
// alignment Path across every input row, via align.MergePaths.
func (g *AlignGraph) MSTPath() (*align.Path, error) {
	paths, err := g.MinSpanTree()
	if err != nil {
		return nil, err
	}
	return align.MergePaths(paths)
}

// edgePQ is a max-heap on Lp, grounded on
// katalvlaran-lvlath/prim_kruskal's edgePQ (container/heap.Interface
// over *Edge, lazy-stale-skip on pop), inverted from that min-heap
// since higher Lp is better here.
type edgePQ []*Edge

func (pq edgePQ) Len() int            { return len(pq) }
func (pq edgePQ) Less(i, j int) bool  { return pq[i].Lp > pq[j].Lp }
func (pq edgePQ) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *edgePQ) Push(x interface{}) { *pq = append(*pq, x.(*Edge)) }
func (pq *edgePQ) Pop() interface{} {
	old := *pq
	n := len(old)
	e := old[n-1]
	*pq = old[:n-1]
	return e
}
