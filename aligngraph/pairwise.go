package aligngraph

import (
	"math/rand"

	"github.com/mrrlab/histeval/align"
	"github.com/mrrlab/histeval/aligndp"
	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/ratemodel"
)

// QuickPairwise returns a Pairwise that computes each edge's alignment
// with aligndp's full-diagonal-envelope QuickAlignMatrix, per spec
// section 4.4 step 2. This is the default AlignGraph construction uses
// outside of tests, which substitute a cheaper stub via the Pairwise
// seam.
func QuickPairwise(model ratemodel.Model, eng *eigen.Engine) Pairwise {
	return func(xSeq, ySeq []int, dist float64, rng *rand.Rand) (*align.Path, float64, error) {
		mx, err := aligndp.NewQuickAlignMatrix(model, eng, xSeq, ySeq, dist)
		if err != nil {
			return nil, 0, err
		}
		lp, err := mx.ForwardLogLikelihood()
		if err != nil {
			return nil, 0, err
		}
		path, err := mx.SampleAlignment(rng)
		if err != nil {
			return nil, 0, err
		}
		return path, lp, nil
	}
}
