// Package tables precomputes, per branch, the log-transition-probability
// table and eigen-substitution-count matrix ColumnSumProduct needs on
// every column (spec section 3's "Per-branch precomputed tables"). It
// plays the role godon's cmodel.BaseModel.ExpBranches/expBr cache plays
// -- including that function's worker-pool fan-out over branches, the
// one place spec section 5 permits concurrency inside the otherwise
// single-threaded core.
package tables

import (
	"math"
	"runtime"
	"sync"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"

	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/internal/cmatrix"
	"github.com/mrrlab/histeval/ptree"
)

var log = logging.MustGetLogger("tables")

// LogProbTables holds, per non-root tree node r, log P_r[i][j] and the
// eigen-substitution-count matrix M_r, both evaluated at branch length
// t_r. Tables are owned by the ColumnSumProduct instance that fills
// them (spec section 3's lifetime note) and are invalidated wholesale
// by Fill; there is no per-branch incremental update.
type LogProbTables struct {
	engine *eigen.Engine
	a      int

	logP []*mat.Dense       // per node; nil for the root
	m    []*cmatrix.Dense   // per node; nil for the root
}

// New allocates empty tables sized for tree's node count. Call Fill
// before querying.
func New(engine *eigen.Engine, tree *ptree.Tree) *LogProbTables {
	n := tree.NNodes()
	return &LogProbTables{
		engine: engine,
		a:      engine.AlphabetSize(),
		logP:   make([]*mat.Dense, n),
		m:      make([]*cmatrix.Dense, n),
	}
}

// Fill computes logP and M for every non-root node of tree, using its
// own branch length. When parallel is true, branches are filled
// concurrently across a worker pool sized to GOMAXPROCS, mirroring
// godon's ExpBranches; ColumnSumProduct itself never calls Fill with
// parallel=true mid-column, only once up front.
func (t *LogProbTables) Fill(tree *ptree.Tree, parallel bool) error {
	n := tree.NNodes()
	root := tree.Root()

	fillOne := func(r int) error {
		if r == root {
			return nil
		}
		br := tree.BranchLength(r)
		P, err := t.engine.SubProbMatrix(br)
		if err != nil {
			return err
		}
		logP := mat.NewDense(t.a, t.a, nil)
		for i := 0; i < t.a; i++ {
			for j := 0; j < t.a; j++ {
				logP.Set(i, j, math.Log(P.At(i, j)))
			}
		}
		t.logP[r] = logP
		t.m[r] = t.engine.EigenSubCount(br)
		return nil
	}

	if !parallel {
		for r := 0; r < n; r++ {
			if err := fillOne(r); err != nil {
				return err
			}
		}
		return nil
	}

	workers := runtime.GOMAXPROCS(0)
	log.Debugf("filling %d branch tables with %d workers", n, workers)

	jobs := make(chan int, n)
	for r := 0; r < n; r++ {
		jobs <- r
	}
	close(jobs)

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				if err := fillOne(r); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	if err, ok := <-errs; ok {
		return err
	}
	return nil
}

// LogP returns the cached log P_r[i][j] for node r (nil for the root).
func (t *LogProbTables) LogP(r int) *mat.Dense { return t.logP[r] }

// M returns the cached eigen-substitution-count matrix for node r (nil
// for the root).
func (t *LogProbTables) M(r int) *cmatrix.Dense { return t.m[r] }

// SubProbMatrix recomputes (not cached) the real P_r matrix for node r,
// for callers that need the linear-space matrix rather than its log.
func (t *LogProbTables) SubProbMatrix(tree *ptree.Tree, r int) (*mat.Dense, error) {
	return t.engine.SubProbMatrix(tree.BranchLength(r))
}
