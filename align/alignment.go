// Package align holds the alphabet-generic alignment data model: the
// per-node gapped-row alignment ColumnSumProduct consumes (spec section
// 3), and the row-indexed presence bitset (AlignPath) the guide-tree
// builder and sampler pass around (spec section 6). It has no notion of
// a fixed nucleotide/codon alphabet -- rows carry tokens from whatever
// ratemodel.Model the caller is using.
package align

import (
	"fmt"

	"github.com/mrrlab/histeval/core"
)

// Gap and Wildcard are reserved row characters, distinct from every
// token byte any ratemodel.Model alphabet would use (A-Z, a-z).
const (
	Gap      byte = '-'
	Wildcard byte = '?'
)

// Alignment is one gapped row per tree node, all rows of equal length.
// Rows are indexed by the owning ptree.Tree's node indices.
type Alignment struct {
	rows [][]byte
	cols int
}

// New builds an Alignment from nNodes rows, validating that every row
// has the same length.
func New(rows [][]byte) (*Alignment, error) {
	if len(rows) == 0 {
		return nil, &core.MalformedAlignment{Reason: "no rows"}
	}
	cols := len(rows[0])
	for n, r := range rows {
		if len(r) != cols {
			return nil, &core.MalformedAlignment{Node: n, Reason: fmt.Sprintf("row length %d, expected %d", len(r), cols)}
		}
	}
	return &Alignment{rows: rows, cols: cols}, nil
}

// NNodes returns the number of rows (== the owning tree's node count).
func (a *Alignment) NNodes() int { return len(a.rows) }

// NCols returns the shared column count C.
func (a *Alignment) NCols() int { return a.cols }

// At returns row n's character at column c.
func (a *Alignment) At(n, c int) byte { return a.rows[n][c] }

// IsGap reports whether ch is the gap sentinel.
func IsGap(ch byte) bool { return ch == Gap }

// IsWildcard reports whether ch is the wildcard sentinel.
func IsWildcard(ch byte) bool { return ch == Wildcard }

// UngappedSet returns U_c, the set of node indices whose row is
// non-gap at column c, as a boolean membership slice sized NNodes().
func (a *Alignment) UngappedSet(c int) []bool {
	u := make([]bool, len(a.rows))
	for n, row := range a.rows {
		u[n] = !IsGap(row[c])
	}
	return u
}

// Tokenize removes gap characters from row n, returning the raw
// ungapped token string -- the "tokenise by stripping gaps" step spec
// section 4.5 calls for when building lTok/rTok/pTok.
func (a *Alignment) Tokenize(n int) []byte {
	out := make([]byte, 0, a.cols)
	for _, ch := range a.rows[n] {
		if !IsGap(ch) {
			out = append(out, ch)
		}
	}
	return out
}
