// Package sumproduct is the column sum-product engine of spec section
// 4.2: Felsenstein-style upward/downward log-space recursions per
// alignment column, posterior marginal queries, and the two
// substitution-count accumulators (direct and eigenbasis fast-path).
// It generalises the upward-only, linear-space fullSubL/observedSubL
// recursion in godon's cmodel.BaseModel (cmodel/model.go) to a genuine
// outside pass in log-space, the way the pruning algorithm is usually
// written when posterior marginals (not just the likelihood) are
// needed.
package sumproduct

import (
	"math"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"

	"github.com/mrrlab/histeval/align"
	"github.com/mrrlab/histeval/core"
	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/internal/cmatrix"
	"github.com/mrrlab/histeval/ptree"
	"github.com/mrrlab/histeval/ratemodel"
	"github.com/mrrlab/histeval/tables"
)

var log = logging.MustGetLogger("sumproduct")

var negInf = math.Inf(-1)

// ColumnSumProduct runs the per-column recursions over one gapped
// Alignment against one Tree and RateModel. A single instance is
// reused across every column; transient A-sized state (logF/logE/logG
// rows) never escapes the instance, per spec section 3's lifetime note.
type ColumnSumProduct struct {
	model ratemodel.Model
	tree  *ptree.Tree
	aln   *align.Alignment
	eng   *eigen.Engine
	tabs  *tables.LogProbTables
	logPi []float64
	a     int

	col      int
	ungapped []bool
	root     int

	logF [][]float64
	logE [][]float64
	logG [][]float64

	colLogLike float64
}

// New builds a ColumnSumProduct over aln, tree and model, using tabs
// for per-branch log-probabilities and eng for eigenbasis queries. tabs
// must already be filled.
func New(model ratemodel.Model, tree *ptree.Tree, aln *align.Alignment, eng *eigen.Engine, tabs *tables.LogProbTables) (*ColumnSumProduct, error) {
	if aln.NNodes() != tree.NNodes() {
		return nil, &core.MalformedAlignment{Reason: "alignment row count does not match tree node count"}
	}
	a := model.AlphabetSize()
	logPi := make([]float64, a)
	for i := 0; i < a; i++ {
		logPi[i] = math.Log(model.InsProb(i))
	}
	n := tree.NNodes()
	alloc := func() [][]float64 {
		m := make([][]float64, n)
		for i := range m {
			m[i] = make([]float64, a)
		}
		return m
	}
	return &ColumnSumProduct{
		model: model, tree: tree, aln: aln, eng: eng, tabs: tabs,
		logPi: logPi, a: a, col: -1,
		logF: alloc(), logE: alloc(), logG: alloc(),
	}, nil
}

// NewFromAlignment builds the per-branch tables.LogProbTables for tree
// and eng and a ColumnSumProduct over them in one call, the entry point
// a caller wiring together a tree, model and alignment from scratch
// reaches for instead of calling tables.New/Fill directly. parallel is
// forwarded to LogProbTables.Fill: true fans the branch fill out across
// a GOMAXPROCS worker pool, the one piece of this package's setup spec
// section 5 permits to run concurrently.
func NewFromAlignment(model ratemodel.Model, tree *ptree.Tree, aln *align.Alignment, eng *eigen.Engine, parallel bool) (*ColumnSumProduct, *tables.LogProbTables, error) {
	tabs := tables.New(eng, tree)
	if err := tabs.Fill(tree, parallel); err != nil {
		return nil, nil, err
	}
	sp, err := New(model, tree, aln, eng, tabs)
	if err != nil {
		return nil, nil, err
	}
	return sp, tabs, nil
}

// NCols returns the alignment's shared column count.
func (sp *ColumnSumProduct) NCols() int { return sp.aln.NCols() }

// Column returns the current column cursor, or -1 before the first
// InitColumn/NextColumn call.
func (sp *ColumnSumProduct) Column() int { return sp.col }

// ColLogLike returns the current column's log-likelihood, valid after
// FillUp.
func (sp *ColumnSumProduct) ColLogLike() float64 { return sp.colLogLike }

// Root returns the current column's root node, valid after InitColumn.
func (sp *ColumnSumProduct) Root() int { return sp.root }

// InitColumn computes U_c (the ungapped row set) and the column root
// for column c, and validates the wildcard/single-root invariants.
func (sp *ColumnSumProduct) InitColumn(c int) error {
	if c < 0 || c >= sp.aln.NCols() {
		return &core.MalformedAlignment{Column: c, Reason: "column index out of range"}
	}
	sp.col = c
	sp.ungapped = sp.aln.UngappedSet(c)

	root := -1
	for r := 0; r < sp.tree.NNodes(); r++ {
		if !sp.ungapped[r] {
			continue
		}
		p := sp.tree.Parent(r)
		if p < 0 || !sp.ungapped[p] {
			if root != -1 {
				return &core.MalformedAlignment{Column: c, Node: r, Reason: "multiple column roots"}
			}
			root = r
		}
		if !sp.tree.IsLeaf(r) && !align.IsWildcard(sp.aln.At(r, c)) {
			return &core.MalformedAlignment{Column: c, Node: r, Reason: "internal-node cell is not the wildcard character"}
		}
	}
	if root == -1 {
		return &core.MalformedAlignment{Column: c, Reason: "no ungapped row in this column"}
	}
	sp.root = root
	log.Debugf("column %d: root %d, %d ungapped rows", c, root, countTrue(sp.ungapped))
	return nil
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}

// FillUp runs the upward (F, E) recursion in post-order over U_c and
// sets ColLogLike.
func (sp *ColumnSumProduct) FillUp() error {
	c := sp.col
	for r := 0; r < sp.tree.NNodes(); r++ {
		if !sp.ungapped[r] {
			continue
		}
		if sp.tree.IsLeaf(r) {
			ch := sp.aln.At(r, c)
			x := sp.model.Tokenize(ch)
			if x < 0 {
				return &core.MalformedAlignment{Column: c, Node: r, Reason: "leaf cell is not an alphabet token"}
			}
			for i := 0; i < sp.a; i++ {
				if i == x {
					sp.logF[r][i] = 0
				} else {
					sp.logF[r][i] = negInf
				}
			}
		} else {
			for i := 0; i < sp.a; i++ {
				sp.logF[r][i] = 0
			}
			any := false
			for _, ch := range sp.tree.Children(r) {
				if !sp.ungapped[ch] {
					continue
				}
				any = true
				for i := 0; i < sp.a; i++ {
					sp.logF[r][i] += sp.logE[ch][i]
				}
			}
			if !any {
				return &core.InvariantViolation{What: "wildcard node in U_c has no ungapped children"}
			}
		}

		if r == sp.root {
			terms := make([]float64, sp.a)
			for i := 0; i < sp.a; i++ {
				terms[i] = sp.logF[r][i] + sp.logPi[i]
			}
			sp.colLogLike = logSumExpAll(terms)
			log.Debugf("column %d: colLogLike = %v", c, sp.colLogLike)
		} else {
			logP := sp.tabs.LogP(r)
			for i := 0; i < sp.a; i++ {
				terms := make([]float64, sp.a)
				for j := 0; j < sp.a; j++ {
					terms[j] = logP.At(i, j) + sp.logF[r][j]
				}
				sp.logE[r][i] = logSumExpAll(terms)
			}
		}
	}
	return nil
}

// FillDown runs the downward (G) recursion in reverse post-order over
// U_c. Must be called after FillUp.
func (sp *ColumnSumProduct) FillDown() error {
	log.Debugf("column %d: downward pass from root %d", sp.col, sp.root)
	for r := sp.tree.NNodes() - 1; r >= 0; r-- {
		if !sp.ungapped[r] {
			continue
		}
		if r == sp.root {
			copy(sp.logG[r], sp.logPi)
			continue
		}
		p := sp.tree.Parent(r)
		sibSum := sp.siblingLogESum(r)
		logP := sp.tabs.LogP(r)
		for j := 0; j < sp.a; j++ {
			terms := make([]float64, sp.a)
			for i := 0; i < sp.a; i++ {
				terms[i] = sp.logG[p][i] + logP.At(i, j) + sibSum[i]
			}
			sp.logG[r][j] = logSumExpAll(terms)
		}
	}
	return nil
}

// siblingLogESum returns, for node r, the sum over every sibling s
// present in U_c of logE[s][i], per index i. With exactly one sibling in
// U_c it is that sibling's logE row, the two-child case spec section 4.2
// writes literally. With zero siblings in U_c (an only child in this
// column) it is the all-zero vector, so no sibling factor enters.
func (sp *ColumnSumProduct) siblingLogESum(r int) []float64 {
	sum := make([]float64, sp.a)
	for _, s := range sp.tree.Siblings(r) {
		if !sp.ungapped[s] {
			continue
		}
		for i := 0; i < sp.a; i++ {
			sum[i] += sp.logE[s][i]
		}
	}
	return sum
}

// NextColumn advances to the next column and runs InitColumn, FillUp
// and FillDown on it. It returns false once every column has been
// processed.
func (sp *ColumnSumProduct) NextColumn() (bool, error) {
	c := sp.col + 1
	if c >= sp.aln.NCols() {
		return false, nil
	}
	if err := sp.InitColumn(c); err != nil {
		return false, err
	}
	if err := sp.FillUp(); err != nil {
		return false, err
	}
	if err := sp.FillDown(); err != nil {
		return false, err
	}
	return true, nil
}

// LogNodePost returns log P(node r is in state i | data) for the
// current column.
func (sp *ColumnSumProduct) LogNodePost(r, i int) float64 {
	return sp.logF[r][i] + sp.logG[r][i] - sp.colLogLike
}

// LogBranchPost returns log P(parent(r)=a, r=b | data) for the current
// column, generalised over every sibling of r present in U_c.
func (sp *ColumnSumProduct) LogBranchPost(r, a, b int) float64 {
	p := sp.tree.Parent(r)
	sibSum := sp.siblingLogESum(r)
	logP := sp.tabs.LogP(r)
	return sp.logG[p][a] + logP.At(a, b) + sp.logF[r][b] + sibSum[a] - sp.colLogLike
}

// MaxPostState returns argmax_i LogNodePost(r, i).
func (sp *ColumnSumProduct) MaxPostState(r int) int {
	best, bestI := negInf, 0
	for i := 0; i < sp.a; i++ {
		if v := sp.LogNodePost(r, i); v > best {
			best, bestI = v, i
		}
	}
	return bestI
}

// AccumRootCounts adds the current column's contribution to v, a
// length-A root-state count accumulator.
func (sp *ColumnSumProduct) AccumRootCounts(v []float64) {
	for i := 0; i < sp.a; i++ {
		v[i] += math.Exp(sp.logPi[i] + sp.logF[sp.root][i] - sp.colLogLike)
	}
}

// AccumSubCounts accumulates root counts into v and expected
// substitution counts into C, the direct (non-fast-path) way: per
// non-root node in U_c, for every (a,b) weighted by
// exp(LogBranchPost(r,a,b)).
func (sp *ColumnSumProduct) AccumSubCounts(v []float64, C *mat.Dense) error {
	sp.AccumRootCounts(v)
	for r := 0; r < sp.tree.NNodes(); r++ {
		if r == sp.root || !sp.ungapped[r] {
			continue
		}
		t := sp.tree.BranchLength(r)
		P, err := sp.eng.SubProbMatrix(t)
		if err != nil {
			return err
		}
		M := sp.tabs.M(r)
		for a := 0; a < sp.a; a++ {
			for b := 0; b < sp.a; b++ {
				w := math.Exp(sp.LogBranchPost(r, a, b))
				if w == 0 {
					continue
				}
				if err := sp.eng.AccumSubCounts(C, a, b, w, P, M); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// AccumEigenCounts accumulates root counts into v and the deferred
// eigenbasis count matrix into E, the fast path spec section 4.2
// describes: per non-root node in U_c, project F and G+siblingE into
// the eigenbasis once (O(A^2) each) instead of reconstructing an O(A^4)
// real count contribution per node.
func (sp *ColumnSumProduct) AccumEigenCounts(v []float64, E *cmatrix.Dense) error {
	sp.AccumRootCounts(v)
	V, Vinv := sp.eng.V(), sp.eng.VInv()
	for r := 0; r < sp.tree.NNodes(); r++ {
		if r == sp.root || !sp.ungapped[r] {
			continue
		}
		p := sp.tree.Parent(r)
		sibSum := sp.siblingLogESum(r)

		maxB := negInf
		for b := 0; b < sp.a; b++ {
			if sp.logF[r][b] > maxB {
				maxB = sp.logF[r][b]
			}
		}
		maxA := negInf
		for a := 0; a < sp.a; a++ {
			if v := sp.logG[p][a] + sibSum[a]; v > maxA {
				maxA = v
			}
		}

		U := make([]float64, sp.a)
		for b := 0; b < sp.a; b++ {
			U[b] = math.Exp(sp.logF[r][b] - maxB)
		}
		D := make([]float64, sp.a)
		for a := 0; a < sp.a; a++ {
			D[a] = math.Exp(sp.logG[p][a]+sibSum[a]-maxA)
		}

		Ubasis := make([]complex128, sp.a)
		for l := 0; l < sp.a; l++ {
			var s complex128
			for b := 0; b < sp.a; b++ {
				s += Vinv.At(l, b) * complex(U[b], 0)
			}
			Ubasis[l] = s
		}
		Dbasis := make([]complex128, sp.a)
		for k := 0; k < sp.a; k++ {
			var s complex128
			for a := 0; a < sp.a; a++ {
				s += V.At(a, k) * complex(D[a], 0)
			}
			Dbasis[k] = s
		}

		norm := math.Exp(sp.colLogLike - maxB - maxA)
		if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
			return &core.NumericalFailure{Op: "sumproduct.AccumEigenCounts", Indices: []int{sp.col, r}, Values: []float64{norm}, Err: errBadNorm}
		}

		M := sp.tabs.M(r)
		for k := 0; k < sp.a; k++ {
			for l := 0; l < sp.a; l++ {
				contrib := Dbasis[k] * M.At(k, l) * Ubasis[l] / complex(norm, 0)
				E.Set(k, l, E.At(k, l)+contrib)
			}
		}
	}
	return nil
}

// SubCountsFromEigenCounts back-transforms E (as accumulated by
// AccumEigenCounts, possibly across many columns) into the real A×A
// expected-substitution-count matrix.
func (sp *ColumnSumProduct) SubCountsFromEigenCounts(E *cmatrix.Dense) *mat.Dense {
	return sp.eng.SubCountsFromEigenCounts(E)
}

// logSumExpAll computes log(sum(exp(terms))) stably, reducing pairwise
// via logAccumExp so a single -Inf term never poisons the rest.
func logSumExpAll(terms []float64) float64 {
	acc := negInf
	for _, t := range terms {
		acc = logAccumExp(acc, t)
	}
	return acc
}

// logAccumExp is log(exp(a)+exp(b)) computed without overflow.
func logAccumExp(a, b float64) float64 {
	if a == negInf {
		return b
	}
	if b == negInf {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

type spError string

func (e spError) Error() string { return string(e) }

const errBadNorm spError = "sumproduct: eigenbasis normalisation factor is zero/NaN/Inf"
