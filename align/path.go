package align

import (
	"sort"

	"github.com/mrrlab/histeval/core"
)

// Path is a row-indexed alignment path (spec section 6's AlignPath): a
// set of bitstrings, one per participating row, where a true bit means
// "this row has a residue at this column" and false means a gap. All
// rows of a single Path share the same column count; different Paths
// (e.g. the pairwise paths drawn along different AlignGraph edges) may
// not.
type Path struct {
	rows map[int][]bool
	ncol int
}

// NewPath builds a Path from a row -> presence-bitstring map. All
// bitstrings must have equal length.
func NewPath(rows map[int][]bool) (*Path, error) {
	ncol := -1
	for row, bits := range rows {
		if ncol == -1 {
			ncol = len(bits)
		} else if len(bits) != ncol {
			return nil, &core.MalformedAlignment{Node: row, Reason: "path rows have unequal column counts"}
		}
	}
	if ncol == -1 {
		ncol = 0
	}
	return &Path{rows: rows, ncol: ncol}, nil
}

// NCols returns the path's shared column count.
func (p *Path) NCols() int { return p.ncol }

// Rows returns the row indices participating in this path, sorted.
func (p *Path) Rows() []int {
	out := make([]int, 0, len(p.rows))
	for r := range p.rows {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// Present reports whether row has a residue at column c.
func (p *Path) Present(row, c int) bool { return p.rows[row][c] }

// HasRow reports whether row participates in this path at all. Guide
// paths built by aligngraph.MSTPath only ever carry the observed leaf
// rows (spec section 4.4), so callers that may be handed an internal
// node index need to check this before calling Present/GuideSeqPos on
// it rather than indexing a row that was never populated.
func (p *Path) HasRow(row int) bool {
	_, ok := p.rows[row]
	return ok
}

// residueIndex returns, for each column, the 0-based index into row's
// ungapped residue sequence if present at that column, or -1 if absent.
func (p *Path) residueIndex(row int) []int {
	bits := p.rows[row]
	out := make([]int, len(bits))
	idx := 0
	for c, present := range bits {
		if present {
			out[c] = idx
			idx++
		} else {
			out[c] = -1
		}
	}
	return out
}

// rowLength returns the number of present residues row has in this path.
func (p *Path) rowLength(row int) int {
	n := 0
	for _, b := range p.rows[row] {
		if b {
			n++
		}
	}
	return n
}

// residueKey identifies a single residue of a single row, independent
// of which Path it was observed in.
type residueKey struct {
	row, residue int
}

// MergePaths merges a set of pairwise/partial alignment paths that
// share rows (e.g. the K-1 spanning-tree edge paths from AlignGraph)
// into one multiple-alignment Path, per the alignPathMerge collaborator
// spec section 6 documents but leaves external. It does so by unioning
// residues that co-occur in a column of any input path into "merged
// columns" via disjoint-set, then topologically sorting those merged
// columns by the per-row residue order every row's own full sequence
// imposes. Fails with *core.InvariantViolation if two different
// residues of the same row are ever unioned into one merged column, or
// if the per-row orderings are mutually inconsistent (a cycle).
func MergePaths(paths []*Path) (*Path, error) {
	if len(paths) == 0 {
		return &Path{rows: map[int][]bool{}}, nil
	}

	uf := newUnionFind()
	rowLen := map[int]int{}

	for _, p := range paths {
		residx := map[int][]int{}
		for _, row := range p.Rows() {
			residx[row] = p.residueIndex(row)
			if l := p.rowLength(row); l > rowLen[row] {
				rowLen[row] = l
			}
		}
		for c := 0; c < p.NCols(); c++ {
			var present []residueKey
			for _, row := range p.Rows() {
				if idx := residx[row][c]; idx >= 0 {
					present = append(present, residueKey{row, idx})
				}
			}
			for i := 1; i < len(present); i++ {
				uf.union(present[0], present[i])
			}
			if len(present) > 0 {
				uf.find(present[0]) // ensure registered even if singleton
			}
		}
	}

	// Component membership, with a same-row conflict check.
	compOf := map[residueKey]int{}
	compRows := map[int]map[int]int{} // comp -> row -> residue
	nextComp := 0
	for row, length := range rowLen {
		for idx := 0; idx < length; idx++ {
			key := residueKey{row, idx}
			root := uf.find(key)
			comp, ok := compOf[root]
			if !ok {
				comp = nextComp
				nextComp++
				compOf[root] = comp
				compRows[comp] = map[int]int{}
			}
			if existing, has := compRows[comp][row]; has && existing != idx {
				return nil, &core.InvariantViolation{What: "alignPathMerge: two residues of the same row were unioned into one column"}
			}
			compRows[comp][row] = idx
		}
	}

	// Topological sort of components by per-row residue order.
	indeg := make([]int, nextComp)
	adj := make([][]int, nextComp)
	compOfRowResidue := map[residueKey]int{}
	for comp, rows := range compRows {
		for row, idx := range rows {
			compOfRowResidue[residueKey{row, idx}] = comp
		}
	}
	for row, length := range rowLen {
		for idx := 0; idx+1 < length; idx++ {
			from, ok1 := compOfRowResidue[residueKey{row, idx}]
			to, ok2 := compOfRowResidue[residueKey{row, idx + 1}]
			if ok1 && ok2 && from != to {
				adj[from] = append(adj[from], to)
				indeg[to]++
			}
		}
	}
	order, err := topoSort(indeg, adj)
	if err != nil {
		return nil, err
	}

	merged := map[int][]bool{}
	for row := range rowLen {
		merged[row] = make([]bool, len(order))
	}
	for c, comp := range order {
		for row, idx := range compRows[comp] {
			_ = idx
			merged[row][c] = true
		}
	}
	return &Path{rows: merged, ncol: len(order)}, nil
}

func topoSort(indeg []int, adj [][]int) ([]int, error) {
	n := len(indeg)
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, n)
	for len(queue) > 0 {
		sort.Ints(queue)
		c := queue[0]
		queue = queue[1:]
		order = append(order, c)
		for _, nxt := range adj[c] {
			indeg[nxt]--
			if indeg[nxt] == 0 {
				queue = append(queue, nxt)
			}
		}
	}
	if len(order) != n {
		return nil, &core.InvariantViolation{What: "alignPathMerge: inconsistent per-row residue orderings form a cycle"}
	}
	return order, nil
}

// unionFind is an ordinary path-compressed, union-by-size disjoint set
// over residueKey elements; it is a different structure from
// aligngraph.Partition, which deliberately omits compression per spec
// section 9 -- merging alignment columns has no adversarial size
// concern, so the standard fast version is used here instead.
type unionFind struct {
	parent map[residueKey]residueKey
	size   map[residueKey]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[residueKey]residueKey{}, size: map[residueKey]int{}}
}

func (u *unionFind) find(x residueKey) residueKey {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		u.size[x] = 1
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b residueKey) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
