package qnode

import (
	"github.com/qgrad/qgrad/operation"
)

// Tape is the traced record of one builder invocation: state preparations
// and gates in application order, followed by the returned observables in
// measurement order, plus the reverse index from free-parameter slots to
// the sites where they appear.
type Tape struct {
	// Gates holds state preparations, gates, and unmeasured observables
	// (parked for tensor-product composition and ignored by devices).
	Gates []*operation.Operation

	// Observables holds the returned observables, in return-statement order.
	Observables []*operation.Operation

	// VarOps maps each free-parameter index to its (combined-tape operation
	// index, flat parameter index) use sites. Keyword slots never appear.
	VarOps map[int][]operation.ParamSite

	// Family classifies the tape as all-qubit or all-CV (identities are
	// ignored in the classification).
	Family operation.Family

	// OutputDim is the number of returned observables.
	OutputDim int

	// ScalarOutput records whether the builder returned a single observable
	// rather than a sequence.
	ScalarOutput bool

	// Model is the nested argument template used to unflatten flat
	// parameter vectors back into the builder's structure.
	Model Args

	// GradMethods maps each free-parameter index appearing in VarOps to its
	// selected gradient method.
	GradMethods map[int]operation.GradMethod
}

// size is the combined tape length.
func (t *Tape) size() int { return len(t.Gates) + len(t.Observables) }

// at returns the combined-tape operation at index i: gates first, then
// returned observables.
func (t *Tape) at(i int) *operation.Operation {
	if i < len(t.Gates) {
		return t.Gates[i]
	}

	return t.Observables[i-len(t.Gates)]
}

// successors returns the operations after index i in the combined tape,
// keeping observables when observables is true and non-observables
// otherwise. The walk is deliberately conservative: with a queue (not DAG)
// circuit representation, every later operation counts as a successor
// whether or not it is causally connected.
func (t *Tape) successors(i int, observables bool) []*operation.Operation {
	out := make([]*operation.Operation, 0, t.size()-i-1)
	for j := i + 1; j < t.size(); j++ {
		op := t.at(j)
		if (op.Desc.Kind() == operation.KindObservable) == observables {
			out = append(out, op)
		}
	}

	return out
}

// hasSamples reports whether any returned observable samples.
func (t *Tape) hasSamples() bool {
	for _, e := range t.Observables {
		if e.Return == operation.ReturnSample {
			return true
		}
	}

	return false
}

// hasVariances reports whether any returned observable is a variance.
func (t *Tape) hasVariances() bool {
	for _, e := range t.Observables {
		if e.Return == operation.ReturnVariance {
			return true
		}
	}

	return false
}
