// Package ratemodel is the external-collaborator interface of section 6:
// an alphabet, an instantaneous rate matrix, and a stationary/insertion
// distribution. Reading or fitting a model from a file is explicitly out
// of scope (spec section 1) -- callers build a Model in memory, the way
// godon's cmodel.M0 builds its Q matrix before handing it to EMatrix.
package ratemodel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Model is the minimal contract EigenEngine, ColumnSumProduct and the
// alignment builder need from a substitution model.
type Model interface {
	// AlphabetSize returns A, the number of non-gap, non-wildcard tokens.
	AlphabetSize() int
	// Alphabet returns the token at index i (e.g. a base or residue letter).
	Alphabet(i int) byte
	// SubRate returns Q[i][j], the instantaneous rate i->j (i != j), or
	// the negative row sum on the diagonal.
	SubRate(i, j int) float64
	// InsProb returns the stationary/insertion probability of token i.
	InsProb(i int) float64
	// Tokenize maps an observed character to its alphabet index, or -1
	// if ch is not a member of the alphabet (e.g. gap or wildcard).
	Tokenize(ch byte) int
}

// Basic is a dense in-memory RateModel: Q as a real A x A matrix and pi
// as a length-A probability vector, indexed by a caller-supplied
// alphabet string.
type Basic struct {
	alphabet string
	q        *mat.Dense
	pi       []float64
	index    map[byte]int
}

// NewBasic builds a Basic model. q must be square with side
// len(alphabet); pi must have the same length. Rows of q are expected
// to sum to (approximately) zero; this is a caller obligation, checked
// neither here nor by eigen.New.
func NewBasic(alphabet string, q *mat.Dense, pi []float64) (*Basic, error) {
	r, c := q.Dims()
	a := len(alphabet)
	if r != a || c != a {
		return nil, fmt.Errorf("ratemodel: Q is %dx%d, expected %dx%d for alphabet %q", r, c, a, a, alphabet)
	}
	if len(pi) != a {
		return nil, fmt.Errorf("ratemodel: pi has length %d, expected %d", len(pi), a)
	}
	index := make(map[byte]int, a)
	for i := 0; i < a; i++ {
		index[alphabet[i]] = i
	}
	return &Basic{alphabet: alphabet, q: mat.DenseCopyOf(q), pi: append([]float64(nil), pi...), index: index}, nil
}

func (m *Basic) AlphabetSize() int          { return len(m.alphabet) }
func (m *Basic) Alphabet(i int) byte        { return m.alphabet[i] }
func (m *Basic) SubRate(i, j int) float64   { return m.q.At(i, j) }
func (m *Basic) InsProb(i int) float64      { return m.pi[i] }

func (m *Basic) Tokenize(ch byte) int {
	if idx, ok := m.index[ch]; ok {
		return idx
	}
	return -1
}

// QMatrix returns the underlying rate matrix. eigen.New does not use
// it; it rebuilds Q from the Model interface's SubRate.
func (m *Basic) QMatrix() *mat.Dense { return m.q }
