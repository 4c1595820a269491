// Package aligndp is the banded pairwise DP of spec section 4.3:
// AlignmentMatrix (used by the node-resampling move, under a guide
// envelope) and QuickAlignMatrix (used by AlignGraph's edge-building
// step, under a full diagonal envelope). Both are built on the same
// three-state affine-gap pair-HMM; only the envelope differs. The
// contract is intentionally narrow -- construct, ForwardLogLikelihood,
// SampleAlignment -- mirroring original_source/src/sampler.cpp, whose
// own AlignmentMatrix constructor body is a literal `// WRITE ME`: the
// source never pins down a gap-transition parameterisation, so the
// affine-gap constants below (gapOpenProb, gapExtendProb) are this
// module's own choice, recorded in the design ledger rather than lifted
// from any example.
package aligndp

import (
	"math"
	"math/rand"

	"github.com/mrrlab/histeval/align"
	"github.com/mrrlab/histeval/core"
	"github.com/mrrlab/histeval/envelope"
	"github.com/mrrlab/histeval/eigen"
	"github.com/mrrlab/histeval/ratemodel"
)

const (
	gapOpenProb   = 0.05
	gapExtendProb = 0.3
)

var (
	logMM  = math.Log(1 - 2*gapOpenProb)
	logMG  = math.Log(gapOpenProb)
	logGG  = math.Log(gapExtendProb)
	logGM  = math.Log(1 - gapExtendProb)
	negInf = math.Inf(-1)
)

type cellKey struct{ i, j int }

type cellScores struct {
	match, delX, delY float64
}

// AlignmentMatrix is a banded pairwise DP over two tokenised sequences,
// restricted to admissible cells reported by a GuideAlignmentEnvelope.
// Match emission uses the single combined branch length dist directly
// -- xSeq and ySeq are treated as separated by one branch of that
// length, the same simplification AlignGraph's quick pairwise alignment
// makes (spec section 4.4), rather than reconstructing a common
// ancestor.
type AlignmentMatrix struct {
	model ratemodel.Model
	eng   *eigen.Engine
	xSeq  []int
	ySeq  []int
	dist  float64
	env   *envelope.GuideAlignmentEnvelope
	xPos  []int
	yPos  []int
	logPi []float64

	cells  map[cellKey]cellScores
	lenX   int
	lenY   int
	filled bool
}

// New builds an AlignmentMatrix over the given token sequences. xEnvPos
// and yEnvPos must have length len(xSeq) and len(ySeq) respectively --
// each token's projected position onto the envelope's anchor rows, as
// produced by envelope.GuideSeqPos.
func New(model ratemodel.Model, eng *eigen.Engine, xSeq, ySeq []int, dist float64, env *envelope.GuideAlignmentEnvelope, xEnvPos, yEnvPos []int) (*AlignmentMatrix, error) {
	if len(xEnvPos) != len(xSeq) || len(yEnvPos) != len(ySeq) {
		return nil, &core.InvariantViolation{What: "aligndp: envelope position slice length does not match sequence length"}
	}
	a := model.AlphabetSize()
	logPi := make([]float64, a)
	for i := 0; i < a; i++ {
		logPi[i] = math.Log(model.InsProb(i))
	}
	return &AlignmentMatrix{
		model: model, eng: eng, xSeq: xSeq, ySeq: ySeq, dist: dist,
		env: env, xPos: xEnvPos, yPos: yEnvPos, logPi: logPi,
		lenX: len(xSeq), lenY: len(ySeq),
		cells: make(map[cellKey]cellScores),
	}, nil
}

// NewQuickAlignMatrix builds an AlignmentMatrix under a full diagonal
// envelope (no band restriction), the mode AlignGraph's edge-building
// step uses for "a quick banded pairwise alignment with a full diagonal
// envelope" (spec section 4.4 step 2).
func NewQuickAlignMatrix(model ratemodel.Model, eng *eigen.Engine, xSeq, ySeq []int, dist float64) (*AlignmentMatrix, error) {
	ncol := len(xSeq)
	if len(ySeq) > ncol {
		ncol = len(ySeq)
	}
	xBits := append(allTrue(len(xSeq)), make([]bool, ncol-len(xSeq))...)
	yBits := append(allTrue(len(ySeq)), make([]bool, ncol-len(ySeq))...)
	full, err := align.NewPath(map[int][]bool{0: xBits, 1: yBits})
	if err != nil {
		return nil, err
	}
	// A full diagonal band has no useful anchor geometry; use a large
	// maxDist so InBand always succeeds regardless of length mismatch.
	env := envelope.New(full, 0, 1, len(xSeq)+len(ySeq)+1)
	xPos := make([]int, len(xSeq))
	yPos := make([]int, len(ySeq))
	for i := range xPos {
		xPos[i] = i
	}
	for j := range yPos {
		yPos[j] = j
	}
	return New(model, eng, xSeq, ySeq, dist, env, xPos, yPos)
}

func allTrue(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}

func (m *AlignmentMatrix) inBand(i, j int) bool {
	if (i == 0 && j == 0) || (i == m.lenX && j == m.lenY) {
		return true
	}
	px, py := 0, 0
	if i > 0 {
		px = m.xPos[i-1]
	}
	if j > 0 {
		py = m.yPos[j-1]
	}
	return m.env.InBand(px, py)
}

func (m *AlignmentMatrix) get(i, j int) cellScores {
	if i < 0 || j < 0 {
		return cellScores{negInf, negInf, negInf}
	}
	c, ok := m.cells[cellKey{i, j}]
	if !ok {
		return cellScores{negInf, negInf, negInf}
	}
	return c
}

func (m *AlignmentMatrix) emitMatch(i, j int) (float64, error) {
	p, err := m.eng.SubProb(m.dist, m.xSeq[i-1], m.ySeq[j-1])
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return negInf, nil
	}
	return m.logPi[m.xSeq[i-1]] + math.Log(p), nil
}

func (m *AlignmentMatrix) fill() error {
	if m.filled {
		return nil
	}
	for i := 0; i <= m.lenX; i++ {
		for j := 0; j <= m.lenY; j++ {
			if !m.inBand(i, j) {
				continue
			}
			var sc cellScores
			if i == 0 && j == 0 {
				sc = cellScores{match: 0, delX: negInf, delY: negInf}
			} else {
				if i > 0 && j > 0 {
					em, err := m.emitMatch(i, j)
					if err != nil {
						return err
					}
					diag := m.get(i-1, j-1)
					sc.match = em + logSumExp3(diag.match+logMM, diag.delX+logGM, diag.delY+logGM)
				} else {
					sc.match = negInf
				}
				if i > 0 {
					up := m.get(i-1, j)
					sc.delX = m.logPi[m.xSeq[i-1]] + logSumExp2(up.match+logMG, up.delX+logGG)
				} else {
					sc.delX = negInf
				}
				if j > 0 {
					left := m.get(i, j-1)
					sc.delY = m.logPi[m.ySeq[j-1]] + logSumExp2(left.match+logMG, left.delY+logGG)
				} else {
					sc.delY = negInf
				}
			}
			m.cells[cellKey{i, j}] = sc
		}
	}
	m.filled = true
	return nil
}

// ForwardLogLikelihood returns the log partition function over every
// admissible banded alignment of xSeq against ySeq.
func (m *AlignmentMatrix) ForwardLogLikelihood() (float64, error) {
	if err := m.fill(); err != nil {
		return 0, err
	}
	end := m.get(m.lenX, m.lenY)
	return logSumExp3(end.match, end.delX, end.delY), nil
}

// SampleAlignment performs a stochastic traceback from (lenX, lenY)
// back to (0,0), sampling each predecessor state with probability
// proportional to its contribution to the current cell's forward
// score, and returns the resulting AlignPath between the two rows
// (index 0 = x, index 1 = y).
func (m *AlignmentMatrix) SampleAlignment(rng *rand.Rand) (*align.Path, error) {
	if err := m.fill(); err != nil {
		return nil, err
	}
	i, j := m.lenX, m.lenY
	state := sampleState(m.get(i, j), rng)

	var xBits, yBits []bool
	for i > 0 || j > 0 {
		switch state {
		case stateMatch:
			xBits = append(xBits, true)
			yBits = append(yBits, true)
			diag := m.get(i-1, j-1)
			state = sampleWeighted(rng,
				[]int{stateMatch, stateDelX, stateDelY},
				[]float64{diag.match + logMM, diag.delX + logGM, diag.delY + logGM},
			)
			i, j = i-1, j-1
		case stateDelX:
			xBits = append(xBits, true)
			yBits = append(yBits, false)
			up := m.get(i-1, j)
			state = sampleWeighted(rng, []int{stateMatch, stateDelX}, []float64{up.match + logMG, up.delX + logGG})
			i--
		case stateDelY:
			xBits = append(xBits, false)
			yBits = append(yBits, true)
			left := m.get(i, j-1)
			state = sampleWeighted(rng, []int{stateMatch, stateDelY}, []float64{left.match + logMG, left.delY + logGG})
			j--
		default:
			return nil, &core.InvariantViolation{What: "aligndp: traceback reached an unstored cell"}
		}
	}
	reverse(xBits)
	reverse(yBits)
	return align.NewPath(map[int][]bool{0: xBits, 1: yBits})
}

const (
	stateMatch = iota
	stateDelX
	stateDelY
)

func sampleState(c cellScores, rng *rand.Rand) int {
	return sampleWeighted(rng, []int{stateMatch, stateDelX, stateDelY}, []float64{c.match, c.delX, c.delY})
}

func sampleWeighted(rng *rand.Rand, states []int, logWeights []float64) int {
	max := negInf
	for _, w := range logWeights {
		if w > max {
			max = w
		}
	}
	if max == negInf {
		return states[0]
	}
	weights := make([]float64, len(logWeights))
	total := 0.0
	for i, w := range logWeights {
		weights[i] = math.Exp(w - max)
		total += weights[i]
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return states[i]
		}
	}
	return states[len(states)-1]
}

func reverse(b []bool) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func logSumExp2(a, b float64) float64 {
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

func logSumExp3(a, b, c float64) float64 {
	return logSumExp2(logSumExp2(a, b), c)
}
