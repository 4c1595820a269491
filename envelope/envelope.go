// Package envelope implements the GuideAlignmentEnvelope of spec
// section 4.3: a band of admissible DP cells around a guide alignment,
// used to restrict AlignmentMatrix's profile-profile DP to a tractable
// region instead of the full xSeq x ySeq grid. It is grounded on
// Sampler::guideSeqPos and the GuideAlignmentEnvelope constructor call
// in original_source/src/sampler.cpp, which project each row's ungapped
// positions onto one of two anchor ("closest leaf") rows of a shared
// guide path.
package envelope

import "github.com/mrrlab/histeval/align"

// GuideAlignmentEnvelope anchors a band on two rows (xRow, yRow) of a
// guide alignment Path. Two further rows -- the actual profile-profile
// DP's x/y sequences -- project onto xRow/yRow via GuideSeqPos before
// InBand can be queried against them.
type GuideAlignmentEnvelope struct {
	maxDist int
	// projYofX[px] is the yRow-coordinate position guide-aligned with
	// xRow-coordinate position px.
	projYofX []int
	projXofY []int
}

// New builds the envelope from path, anchored on xRow and yRow, with
// band half-width maxDist.
func New(path *align.Path, xRow, yRow, maxDist int) *GuideAlignmentEnvelope {
	return &GuideAlignmentEnvelope{
		maxDist:  maxDist,
		projYofX: GuideSeqPos(path, xRow, yRow),
		projXofY: GuideSeqPos(path, yRow, xRow),
	}
}

// GuideSeqPos returns, for every ungapped position of row along path,
// the sequence index along guideRow that position is aligned near:
// the running count of guideRow's ungapped columns seen so far. It is
// the direct Go counterpart of Sampler::guideSeqPos.
func GuideSeqPos(path *align.Path, row, guideRow int) []int {
	cols := path.NCols()
	out := make([]int, 0, cols)
	pos := 0
	for c := 0; c < cols; c++ {
		if path.Present(row, c) {
			out = append(out, pos)
		}
		if path.Present(guideRow, c) {
			pos++
		}
	}
	return out
}

// InBand reports whether the pair of anchor-row-projected positions
// (px, py) lies within Manhattan distance maxDist of the guide
// alignment's own projection. A position past either end of an anchor
// row is measured from that row's nearest guide point, counting the
// overhang as part of the distance.
func (e *GuideAlignmentEnvelope) InBand(px, py int) bool {
	qx, y := e.projected(px, e.projYofX)
	dy := absInt(py-y) + absInt(px-qx)
	qy, x := e.projected(py, e.projXofY)
	dx := absInt(px-x) + absInt(py-qy)
	d := dy
	if dx < d {
		d = dx
	}
	return d <= e.maxDist
}

// projected clamps p into proj's index range and returns the clamped
// index together with proj at that index.
func (e *GuideAlignmentEnvelope) projected(p int, proj []int) (int, int) {
	if len(proj) == 0 {
		return p, 0
	}
	if p < 0 {
		p = 0
	}
	if p >= len(proj) {
		p = len(proj) - 1
	}
	return p, proj[p]
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// InBandProjected is a convenience form of InBand: given the DP
// sequences' own env-position projections (xEnvPos[i], yEnvPos[j], onto
// xRow/yRow respectively), test whether token pair (i,j) is admissible.
// AlignmentMatrix does not call it; it looks up the positions itself and
// calls InBand.
func (e *GuideAlignmentEnvelope) InBandProjected(xEnvPos, yEnvPos []int, i, j int) bool {
	px, py := xEnvPos[i], yEnvPos[j]
	return e.InBand(px, py)
}
