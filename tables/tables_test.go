package tables

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/ptree"
	"github.com/mrrlab/histeval/ratemodel"
)

func jc4Model(t *testing.T) *ratemodel.Basic {
	t.Helper()
	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i != j {
				q.Set(i, j, 0.25)
			}
		}
		q.Set(i, i, -0.75)
	}
	model, err := ratemodel.NewBasic("ACGT", q, []float64{0.25, 0.25, 0.25, 0.25})
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	return model
}

func cherryTree(t *testing.T) *ptree.Tree {
	t.Helper()
	tree, err := ptree.ParseNewick(strings.NewReader("((A:0.1,B:0.2):0.3,C:0.4):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}
	return tree
}

func TestFillSequentialPopulatesEveryNonRootBranch(t *testing.T) {
	tree := cherryTree(t)
	eng, err := eigen.New(jc4Model(t))
	if err != nil {
		t.Fatalf("eigen.New: %v", err)
	}
	tabs := New(eng, tree)
	if err := tabs.Fill(tree, false); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	root := tree.Root()
	for r := 0; r < tree.NNodes(); r++ {
		if r == root {
			if tabs.LogP(r) != nil || tabs.M(r) != nil {
				t.Errorf("root %d: want nil LogP/M, got non-nil", r)
			}
			continue
		}
		if tabs.LogP(r) == nil || tabs.M(r) == nil {
			t.Errorf("node %d: want filled LogP/M, got nil", r)
		}
	}
}

func TestFillParallelMatchesSequential(t *testing.T) {
	tree := cherryTree(t)
	eng, err := eigen.New(jc4Model(t))
	if err != nil {
		t.Fatalf("eigen.New: %v", err)
	}

	seq := New(eng, tree)
	if err := seq.Fill(tree, false); err != nil {
		t.Fatalf("sequential Fill: %v", err)
	}
	par := New(eng, tree)
	if err := par.Fill(tree, true); err != nil {
		t.Fatalf("parallel Fill: %v", err)
	}

	root := tree.Root()
	for r := 0; r < tree.NNodes(); r++ {
		if r == root {
			continue
		}
		a, b := seq.LogP(r), par.LogP(r)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if math.Abs(a.At(i, j)-b.At(i, j)) > 1e-12 {
					t.Errorf("node %d logP[%d][%d]: sequential=%v parallel=%v", r, i, j, a.At(i, j), b.At(i, j))
				}
			}
		}
	}
}

// TestFillParallelPropagatesError checks that a per-branch failure
// (here, a branch length so large-magnitude-negative that clampProb's
// probability-over-one guard trips) surfaces through the worker pool's
// error channel the same way it would from the sequential path, rather
// than being swallowed by a goroutine that never reports back.
func TestFillParallelPropagatesError(t *testing.T) {
	tree, err := ptree.ParseNewick(strings.NewReader("((A:0.1,B:0.2):0.3,C:-50.0):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}
	eng, err := eigen.New(jc4Model(t))
	if err != nil {
		t.Fatalf("eigen.New: %v", err)
	}

	seq := New(eng, tree)
	if err := seq.Fill(tree, false); err == nil {
		t.Fatal("sequential Fill: expected an error from the pathological branch length, got nil")
	}

	par := New(eng, tree)
	if err := par.Fill(tree, true); err == nil {
		t.Fatal("parallel Fill: expected an error from the pathological branch length, got nil")
	}
}
