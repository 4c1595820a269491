package eigen

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mrrlab/histeval/ratemodel"
)

func jukesCantorTwoState(t *testing.T) *Engine {
	q := mat.NewDense(2, 2, []float64{-1, 1, 1, -1})
	model, err := ratemodel.NewBasic("AB", q, []float64{0.5, 0.5})
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	e, err := New(model)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestSubProbJukesCantor(t *testing.T) {
	e := jukesCantorTwoState(t)
	want := 0.5 + 0.5*math.Exp(-2)
	got, err := e.SubProb(1.0, 0, 0)
	if err != nil {
		t.Fatalf("SubProb: %v", err)
	}
	if math.Abs(got-want) > 1e-8 {
		t.Errorf("SubProb(1,0,0) = %v, want %v", got, want)
	}
	offWant := 0.5 - 0.5*math.Exp(-2)
	offGot, err := e.SubProb(1.0, 0, 1)
	if err != nil {
		t.Fatalf("SubProb: %v", err)
	}
	if math.Abs(offGot-offWant) > 1e-8 {
		t.Errorf("SubProb(1,0,1) = %v, want %v", offGot, offWant)
	}
}

func TestSubProbMatrixRowsSumToOne(t *testing.T) {
	e := jukesCantorTwoState(t)
	for _, tt := range []float64{0, 0.001, 0.5, 1, 5} {
		P, err := e.SubProbMatrix(tt)
		if err != nil {
			t.Fatalf("SubProbMatrix(%v): %v", tt, err)
		}
		for i := 0; i < e.AlphabetSize(); i++ {
			sum := 0.0
			for j := 0; j < e.AlphabetSize(); j++ {
				v := P.At(i, j)
				if v < 0 || v > 1 {
					t.Errorf("P(%v)[%d][%d]=%v out of [0,1]", tt, i, j, v)
				}
				sum += v
			}
			if math.Abs(sum-1) > 1e-8 {
				t.Errorf("row %d of P(%v) sums to %v, want 1", i, tt, sum)
			}
		}
	}
}

func TestSubProbMatrixIdentityAtZero(t *testing.T) {
	e := jukesCantorTwoState(t)
	P, err := e.SubProbMatrix(0)
	if err != nil {
		t.Fatalf("SubProbMatrix(0): %v", err)
	}
	for i := 0; i < e.AlphabetSize(); i++ {
		for j := 0; j < e.AlphabetSize(); j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(P.At(i, j)-want) > 1e-8 {
				t.Errorf("P(0)[%d][%d]=%v, want %v", i, j, P.At(i, j), want)
			}
		}
	}
}

func TestReversibility(t *testing.T) {
	e := jukesCantorTwoState(t)
	pi := []float64{0.5, 0.5}
	for _, tt := range []float64{0.3, 1.0, 2.0} {
		p01, _ := e.SubProb(tt, 0, 1)
		p10, _ := e.SubProb(tt, 1, 0)
		lhs := pi[0] * p01
		rhs := pi[1] * p10
		if math.Abs(lhs-rhs) > 1e-6 {
			t.Errorf("detailed balance violated at t=%v: %v != %v", tt, lhs, rhs)
		}
	}
}

func TestAccumSubCountsLinearInWeight(t *testing.T) {
	e := jukesCantorTwoState(t)
	tt := 0.7
	P, err := e.SubProbMatrix(tt)
	if err != nil {
		t.Fatalf("SubProbMatrix: %v", err)
	}
	M := e.EigenSubCount(tt)

	acc1 := mat.NewDense(2, 2, nil)
	if err := e.AccumSubCounts(acc1, 0, 0, 1.0, P, M); err != nil {
		t.Fatalf("AccumSubCounts: %v", err)
	}
	acc2 := mat.NewDense(2, 2, nil)
	if err := e.AccumSubCounts(acc2, 0, 0, 3.0, P, M); err != nil {
		t.Fatalf("AccumSubCounts: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(acc2.At(i, j)-3*acc1.At(i, j)) > 1e-9 {
				t.Errorf("accum not linear in weight at (%d,%d): %v vs 3*%v", i, j, acc2.At(i, j), acc1.At(i, j))
			}
		}
	}
}
