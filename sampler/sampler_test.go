package sampler

import (
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mrrlab/histeval/align"
	"github.com/mrrlab/histeval/core"
	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/envelope"
	"github.com/mrrlab/histeval/ptree"
	"github.com/mrrlab/histeval/ratemodel"
)

// zeroSource is a rand.Source that always reports 0, making
// rng.Intn(n) deterministically select index 0 regardless of n -- used
// here to pin down which internal node SampleNodeMove picks without
// depending on math/rand's algorithm.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

func jc4Model(t *testing.T) (ratemodel.Model, *eigen.Engine) {
	t.Helper()
	const mu = 1.0
	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i != j {
				q.Set(i, j, mu/4)
			}
		}
		q.Set(i, i, -3*mu/4)
	}
	pi := []float64{0.25, 0.25, 0.25, 0.25}
	model, err := ratemodel.NewBasic("ACGT", q, pi)
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	eng, err := eigen.New(model)
	if err != nil {
		t.Fatalf("eigen.New: %v", err)
	}
	return model, eng
}

func allPresent(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}

func TestSampleNodeMoveOnBinaryCherry(t *testing.T) {
	// ((A,B),C): leaves A=0,B=1, cherry=2, leaf C=3, root=4.
	tree, err := ptree.ParseNewick(strings.NewReader("((A:0.1,B:0.1):0.2,C:0.3):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}
	model, eng := jc4Model(t)

	rows := make([][]byte, tree.NNodes())
	for n := range rows {
		rows[n] = []byte("ACGT")
	}
	aln, err := align.New(rows)
	if err != nil {
		t.Fatalf("align.New: %v", err)
	}

	guide, err := align.NewPath(map[int][]bool{
		0: allPresent(4),
		1: allPresent(4),
		3: allPresent(4),
	})
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}

	s := New(model, eng, guide, 2)
	h := &History{Tree: tree, Aln: aln}
	rng := rand.New(zeroSource{})

	move, err := s.SampleNodeMove(h, rng)
	if err != nil {
		t.Fatalf("SampleNodeMove: %v", err)
	}
	if move.Node != 2 {
		t.Fatalf("Node = %d, want 2 (the cherry)", move.Node)
	}
	if move.Left != 0 || move.Right != 1 {
		t.Fatalf("Left,Right = %d,%d, want 0,1", move.Left, move.Right)
	}
	if move.Parent != 4 {
		t.Fatalf("Parent = %d, want 4", move.Parent)
	}
	if move.Matrix == nil {
		t.Fatal("Matrix is nil")
	}
	if _, err := move.Matrix.ForwardLogLikelihood(); err != nil {
		t.Fatalf("ForwardLogLikelihood: %v", err)
	}
}

// TestNodeMoveEnvPosUsesOwnRowNotCrossLeaf pins down the envelope
// position formula against a guide path that actually has a gap
// between the two anchor leaves, where the buggy cross-leaf formula
// (projecting leftLeaf onto rightLeaf) and the correct own-row formula
// (projecting a child's own guide row onto its own closest leaf)
// diverge. A fully-present guide path can't distinguish the two: both
// degenerate to the identity map.
func TestNodeMoveEnvPosUsesOwnRowNotCrossLeaf(t *testing.T) {
	// (((A,B):.1,C):.1,D):.0 -- A=0,B=1,cherryAB=2,C=3,Y=4 is the
	// parent of (cherryAB,C), D=5, root=6. Node 4's children are the
	// internal node 2 (closest leaf A=0) and the leaf 3 (closest leaf
	// is itself).
	tree, err := ptree.ParseNewick(strings.NewReader("(((A:0.1,B:0.1):0.1,C:0.1):0.1,D:0.1):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}
	model, eng := jc4Model(t)

	rows := make([][]byte, tree.NNodes())
	for n := range rows {
		rows[n] = []byte("ACGT")
	}
	aln, err := align.New(rows)
	if err != nil {
		t.Fatalf("align.New: %v", err)
	}

	// Guide path over rows 0 (A), 2 (the cherry AB), and 3 (C): row 2
	// carries an internal gap between the two flanking present columns
	// that rows 0 and 3 don't, so row 2's own projection onto leaf 0
	// differs from leaf 0's projection onto leaf 3.
	guide, err := align.NewPath(map[int][]bool{
		0: {true, true, true},
		2: {true, false, true},
		3: {true, true, true},
	})
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}

	s := New(model, eng, guide, 2)
	h := &History{Tree: tree, Aln: aln}

	move, err := s.buildNodeMove(h, 4)
	if err != nil {
		t.Fatalf("buildNodeMove: %v", err)
	}
	if move.Left != 2 || move.Right != 3 {
		t.Fatalf("Left,Right = %d,%d, want 2,3", move.Left, move.Right)
	}
	if move.LeftClosestLeaf != 0 || move.RightClosestLeaf != 3 {
		t.Fatalf("LeftClosestLeaf,RightClosestLeaf = %d,%d, want 0,3", move.LeftClosestLeaf, move.RightClosestLeaf)
	}

	lTok, err := tokenizeRow(model, aln, move.Left)
	if err != nil {
		t.Fatalf("tokenizeRow(left): %v", err)
	}
	rTok, err := tokenizeRow(model, aln, move.Right)
	if err != nil {
		t.Fatalf("tokenizeRow(right): %v", err)
	}

	wantLeft := scaleProjection(envelope.GuideSeqPos(guide, move.Left, move.LeftClosestLeaf), len(lTok))
	wantRight := scaleProjection(envelope.GuideSeqPos(guide, move.Right, move.RightClosestLeaf), len(rTok))
	if !intSliceEqual(move.LeftEnvPos, wantLeft) {
		t.Fatalf("LeftEnvPos = %v, want %v (own-row projection)", move.LeftEnvPos, wantLeft)
	}
	if !intSliceEqual(move.RightEnvPos, wantRight) {
		t.Fatalf("RightEnvPos = %v, want %v (own-row projection)", move.RightEnvPos, wantRight)
	}

	// The formula this guards against: projecting the two anchor
	// leaves onto each other instead of each child onto its own
	// closest leaf. On this guide path it gives a different answer on
	// the left side, where the gapped row 2 is not one of the anchors.
	crossLeft := scaleProjection(envelope.GuideSeqPos(guide, move.LeftClosestLeaf, move.RightClosestLeaf), len(lTok))
	if intSliceEqual(move.LeftEnvPos, crossLeft) {
		t.Fatalf("LeftEnvPos = %v equals the cross-leaf projection %v; guide path should distinguish them", move.LeftEnvPos, crossLeft)
	}
}

// TestSampleNodeMoveAboveCherryWithLeafOnlyGuide resamples a node one
// level above a cherry -- so one child is itself an internal node --
// against a guide path that only carries leaf rows, the shape
// aligngraph.MSTPath() actually produces (spec section 4.4: the guide
// is merged only from the K observed leaf sequences). Before guideRow's
// fallback this panicked on the very first column, since
// align.Path.Present indexes a nil row for any node the guide never
// populated.
func TestSampleNodeMoveAboveCherryWithLeafOnlyGuide(t *testing.T) {
	// (((A,B):.1,C):.1,D):.0 -- A=0,B=1,cherryAB=2,C=3,X=4 (parent of
	// cherryAB and C), D=5, root=6. Node 4's left child (2) is
	// internal; the guide below has no row for it.
	tree, err := ptree.ParseNewick(strings.NewReader("(((A:0.1,B:0.1):0.1,C:0.1):0.1,D:0.1):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}
	model, eng := jc4Model(t)

	rows := make([][]byte, tree.NNodes())
	for n := range rows {
		rows[n] = []byte("ACGT")
	}
	aln, err := align.New(rows)
	if err != nil {
		t.Fatalf("align.New: %v", err)
	}

	// Leaf-only guide, exactly what aligngraph.MSTPath() would hand
	// back: rows for A, B, C, D and nothing for the internal nodes.
	guide, err := align.NewPath(map[int][]bool{
		0: {true, true, false, true},
		1: {true, true, true, true},
		3: {true, false, true, true},
		5: {true, true, true, true},
	})
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}

	s := New(model, eng, guide, 2)
	h := &History{Tree: tree, Aln: aln}

	move, err := s.buildNodeMove(h, 4)
	if err != nil {
		t.Fatalf("buildNodeMove: %v", err)
	}
	if move.Left != 2 || move.Right != 3 {
		t.Fatalf("Left,Right = %d,%d, want 2,3", move.Left, move.Right)
	}
	if move.LeftClosestLeaf != 0 {
		t.Fatalf("LeftClosestLeaf = %d, want 0 (A)", move.LeftClosestLeaf)
	}
	if guide.HasRow(move.Left) {
		t.Fatalf("test setup error: guide unexpectedly has a row for internal node %d", move.Left)
	}

	lTok, err := tokenizeRow(model, aln, move.Left)
	if err != nil {
		t.Fatalf("tokenizeRow(left): %v", err)
	}
	rTok, err := tokenizeRow(model, aln, move.Right)
	if err != nil {
		t.Fatalf("tokenizeRow(right): %v", err)
	}

	// The internal left child has no guide row of its own, so its
	// projection falls back to its closest leaf's (A's) own row.
	wantLeft := scaleProjection(envelope.GuideSeqPos(guide, move.LeftClosestLeaf, move.LeftClosestLeaf), len(lTok))
	wantRight := scaleProjection(envelope.GuideSeqPos(guide, move.Right, move.RightClosestLeaf), len(rTok))
	if !intSliceEqual(move.LeftEnvPos, wantLeft) {
		t.Fatalf("LeftEnvPos = %v, want %v (fallback to closest leaf's row)", move.LeftEnvPos, wantLeft)
	}
	if !intSliceEqual(move.RightEnvPos, wantRight) {
		t.Fatalf("RightEnvPos = %v, want %v", move.RightEnvPos, wantRight)
	}
	if move.Matrix == nil {
		t.Fatal("Matrix is nil")
	}
	if _, err := move.Matrix.ForwardLogLikelihood(); err != nil {
		t.Fatalf("ForwardLogLikelihood: %v", err)
	}
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSampleNodeMoveOnNonBinaryRootFails(t *testing.T) {
	// (A,B,C): a single ternary root, no other internal node.
	tree, err := ptree.ParseNewick(strings.NewReader("(A:0.1,B:0.1,C:0.1):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}
	model, eng := jc4Model(t)

	rows := make([][]byte, tree.NNodes())
	for n := range rows {
		rows[n] = []byte("ACGT")
	}
	aln, err := align.New(rows)
	if err != nil {
		t.Fatalf("align.New: %v", err)
	}
	guide, err := align.NewPath(map[int][]bool{0: allPresent(4), 1: allPresent(4), 2: allPresent(4)})
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}

	s := New(model, eng, guide, 2)
	h := &History{Tree: tree, Aln: aln}
	rng := rand.New(zeroSource{})

	_, err = s.SampleNodeMove(h, rng)
	if err == nil {
		t.Fatal("expected a *core.NonBinaryNode error, got nil")
	}
	var nb *core.NonBinaryNode
	if !asNonBinaryNode(err, &nb) {
		t.Fatalf("expected *core.NonBinaryNode, got %T: %v", err, err)
	}
	if nb.Node != 3 || nb.NChilds != 3 {
		t.Fatalf("NonBinaryNode = %+v, want Node=3 NChilds=3", nb)
	}
}

func asNonBinaryNode(err error, target **core.NonBinaryNode) bool {
	nb, ok := err.(*core.NonBinaryNode)
	if !ok {
		return false
	}
	*target = nb
	return true
}

func TestScaleProjectionIdentityWhenLengthsMatch(t *testing.T) {
	proj := []int{0, 1, 2, 3}
	out := scaleProjection(proj, 4)
	for i := range proj {
		if out[i] != proj[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], proj[i])
		}
	}
}

func TestScaleProjectionMonotonicUnderStretch(t *testing.T) {
	proj := []int{0, 2, 4, 6}
	out := scaleProjection(proj, 8)
	if len(out) != 8 {
		t.Fatalf("len(out) = %d, want 8", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("scaleProjection is not monotonic: out[%d]=%d < out[%d]=%d", i, out[i], i-1, out[i-1])
		}
	}
}
