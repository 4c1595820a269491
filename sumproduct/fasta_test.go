package sumproduct

import (
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mrrlab/histeval/align"
	"github.com/mrrlab/histeval/bio"
	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/ptree"
	"github.com/mrrlab/histeval/ratemodel"
)

// TestFastaDrivenColumnLikelihood exercises the FASTA-ingestion path
// (bio.ParseFasta) that sits in front of ColumnSumProduct in a real
// pipeline: leaf rows come from parsed records rather than literal byte
// slices, matched to tree leaves by name exactly as a caller building
// an Alignment from a tree file and a sequence file would do it.
func TestFastaDrivenColumnLikelihood(t *testing.T) {
	fasta := ">L1\nAC\n>L2\nAC\n>L3\nGT\n"
	seqs, err := bio.ParseFasta(strings.NewReader(fasta))
	if err != nil {
		t.Fatalf("ParseFasta: %v", err)
	}
	if len(seqs) != 3 {
		t.Fatalf("parsed %d sequences, want 3", len(seqs))
	}

	tree, err := ptree.ParseNewick(strings.NewReader("((L1:0.1,L2:0.1):0.2,L3:0.3):0.0;"))
	if err != nil {
		t.Fatalf("ParseNewick: %v", err)
	}

	byName := map[string]string{}
	for _, s := range seqs {
		byName[s.Name] = s.Sequence
	}

	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i != j {
				q.Set(i, j, 1.0/4)
			}
		}
		q.Set(i, i, -3.0/4)
	}
	model, err := ratemodel.NewBasic("ACGT", q, []float64{0.25, 0.25, 0.25, 0.25})
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	eng, err := eigen.New(model)
	if err != nil {
		t.Fatalf("eigen.New: %v", err)
	}
	rows := make([][]byte, tree.NNodes())
	for n := range rows {
		rows[n] = []byte(strings.Repeat(string(align.Wildcard), len(seqs[0].Sequence)))
	}
	for _, leaf := range tree.Leaves() {
		seq, ok := byName[tree.Name(leaf)]
		if !ok {
			t.Fatalf("no FASTA record for leaf %q", tree.Name(leaf))
		}
		rows[leaf] = []byte(seq)
	}
	aln, err := align.New(rows)
	if err != nil {
		t.Fatalf("align.New: %v", err)
	}

	// Builds the tables with the concurrent worker-pool fill path
	// (spec section 5's one permitted exception to the single-threaded
	// core), exercising what a caller populating tables from scratch
	// for a real (as opposed to hand-built) alignment would actually
	// call.
	sp, _, err := NewFromAlignment(model, tree, aln, eng, true)
	if err != nil {
		t.Fatalf("NewFromAlignment: %v", err)
	}
	for {
		ok, err := sp.NextColumn()
		if err != nil {
			t.Fatalf("NextColumn: %v", err)
		}
		if !ok {
			break
		}
		if sp.ColLogLike() > 0 {
			t.Errorf("column %d log-likelihood = %v, want <= 0", sp.Column(), sp.ColLogLike())
		}
	}
}
