// Package core holds the error taxonomy shared by every other package in
// the module. Collecting them here avoids import cycles between eigen,
// sumproduct, aligngraph and friends, all of which need to raise and
// recognise each other's failures.
package core

import "fmt"

// NumericalFailure wraps an eigensolve/LU failure, a non-real probability
// or count, or a NaN/Inf found in an accumulator. It is never retried.
type NumericalFailure struct {
	Op      string
	Indices []int
	Values  []float64
	Err     error
}

func (e *NumericalFailure) Error() string {
	return fmt.Sprintf("numerical failure in %s: indices=%v values=%v: %v", e.Op, e.Indices, e.Values, e.Err)
}

func (e *NumericalFailure) Unwrap() error { return e.Err }

// MalformedAlignment signals unequal row lengths, a non-wildcard
// internal-node cell, multiple column roots, or a gapped parent with an
// ungapped child in the same column.
type MalformedAlignment struct {
	Column int
	Node   int
	Reason string
}

func (e *MalformedAlignment) Error() string {
	return fmt.Sprintf("malformed alignment at column=%d node=%d: %s", e.Column, e.Node, e.Reason)
}

// NonBinaryNode is raised when the node-resampling move is invoked on an
// internal node that does not have exactly two children, or on the root
// (which has no parent), whatever its child count.
type NonBinaryNode struct {
	Node     int
	NChilds  int
}

func (e *NonBinaryNode) Error() string {
	return fmt.Sprintf("node %d has %d children, expected exactly 2", e.Node, e.NChilds)
}

// Disconnected is raised when a spanning step finds no connecting edge
// despite the partition having more than one set left, which violates
// the connectivity invariant the graph builder is supposed to guarantee.
type Disconnected struct {
	NSets int
}

func (e *Disconnected) Error() string {
	return fmt.Sprintf("no valid connecting edge found with %d disconnected sets remaining", e.NSets)
}

// InvariantViolation is a generic assertion label for states that should
// never occur given the documented preconditions of the caller.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.What
}
