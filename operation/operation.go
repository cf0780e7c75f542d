package operation

import (
	"fmt"

	"github.com/qgrad/qgrad/matrix"
)

// Operation is one traced circuit entry: a gate, a state preparation, or an
// observable, together with its target wires and (possibly symbolic)
// parameters. Instances are created during tracing and mutated only by the
// gradient engine through SubstituteParam.
type Operation struct {
	// Desc is the capability descriptor of the underlying gate/observable.
	Desc Descriptor

	// Wires are the target subsystem indices, in application order.
	Wires []int

	// Params are the flat operation parameters: constants or slots.
	Params []Param

	// Return tags how the observable is measured; ReturnNone for gates and
	// for observables that are not returned.
	Return ReturnType

	// SampleCount is the number of samples for ReturnSample observables.
	SampleCount int

	// order2 is the per-tape analytic-order-2 flag set by the gradient
	// method selector for Gaussian gates measured through second-order
	// observables. It never touches the descriptor.
	order2 bool
}

// Name returns the descriptor identity.
func (op *Operation) Name() string { return op.Desc.Name() }

// MarkAnalyticOrder2 flags the operation for the order-2 Heisenberg rule on
// this tape.
func (op *Operation) MarkAnalyticOrder2() { op.order2 = true }

// AnalyticOrder2 reports the per-tape order-2 flag.
func (op *Operation) AnalyticOrder2() bool { return op.order2 }

// ResolvedParams resolves every parameter against the current binding and
// returns the concrete values in order.
func (op *Operation) ResolvedParams() ([]float64, error) {
	vals := make([]float64, len(op.Params))
	var err error
	for i, p := range op.Params {
		if vals[i], err = p.Resolve(); err != nil {
			return nil, fmt.Errorf("operation: %s parameter %d: %w", op.Name(), i, err)
		}
	}

	return vals, nil
}

// SubstituteParam installs temp in place of parameter p and returns a
// restore function that reinstates the original. Callers must invoke
// restore on every control-flow exit; a dropped restore corrupts all
// subsequent evaluations of the tape.
func (op *Operation) SubstituteParam(p int, temp Param) (restore func(), err error) {
	if p < 0 || p >= len(op.Params) {
		return nil, fmt.Errorf("operation: %s: substitute parameter %d: %w", op.Name(), p, ErrParamRange)
	}
	orig := op.Params[p]
	op.Params[p] = temp

	return func() { op.Params[p] = orig }, nil
}

// HeisenbergTr returns the operation's symplectic transformation expanded to
// the full (1+2w)×(1+2w) phase-space basis of a w-wire device. Parameters
// are resolved against the current binding. inverse selects the inverse
// operation.
func (op *Operation) HeisenbergTr(numWires int, inverse bool) (*matrix.Dense, error) {
	params, err := op.ResolvedParams()
	if err != nil {
		return nil, err
	}
	local, err := op.Desc.HeisenbergLocal(params, inverse)
	if err != nil {
		return nil, fmt.Errorf("operation: %s: %w", op.Name(), err)
	}

	return expandHeisenberg(local, op.Wires, numWires, true)
}

// HeisenbergObs returns the observable's first- or second-order phase-space
// representation expanded to the full basis of a w-wire device: a
// 1×(1+2w) row vector for order 1, a (1+2w)×(1+2w) matrix for order 2.
func (op *Operation) HeisenbergObs(numWires int) (*matrix.Dense, error) {
	params, err := op.ResolvedParams()
	if err != nil {
		return nil, err
	}
	local, err := op.Desc.HeisenbergObsLocal(params)
	if err != nil {
		return nil, fmt.Errorf("operation: %s: %w", op.Name(), err)
	}
	if local.Rows() == 1 {
		return expandHeisenbergVector(local, op.Wires, numWires)
	}

	return expandHeisenberg(local, op.Wires, numWires, false)
}

// expandHeisenberg embeds an m-wire (1+2m)×(1+2m) phase-space matrix into
// the (1+2w)×(1+2w) global basis. identityFill selects whether unmapped
// coordinates act as the identity (transformation matrices) or as zero
// (observable matrices).
func expandHeisenberg(local *matrix.Dense, wires []int, numWires int, identityFill bool) (*matrix.Dense, error) {
	dim := 1 + 2*numWires
	if local.Rows() != local.Cols() || local.Rows() != 1+2*len(wires) {
		return nil, fmt.Errorf("operation: expand %dx%d over %d wires: %w",
			local.Rows(), local.Cols(), numWires, matrix.ErrShapeMismatch)
	}
	if local.Rows() == dim && contiguousFromZero(wires) {
		return local.Clone(), nil
	}

	var out *matrix.Dense
	var err error
	if identityFill {
		out = matrix.Identity(dim)
	} else {
		if out, err = matrix.New(dim, dim); err != nil {
			return nil, err
		}
	}
	idx := globalIndices(wires)
	if identityFill {
		// clear the identity rows/cols the local block overwrites;
		// the block write below restores every mapped entry
		for _, gi := range idx {
			for k := 0; k < dim; k++ {
				_ = out.Set(gi, k, 0)
				_ = out.Set(k, gi, 0)
			}
		}
	}
	for i, gi := range idx {
		for j, gj := range idx {
			v, aerr := local.At(i, j)
			if aerr != nil {
				return nil, aerr
			}
			if err = out.Set(gi, gj, v); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// expandHeisenbergVector embeds a 1×(1+2m) row vector into the global
// 1×(1+2w) basis, zero-filling unmapped coordinates.
func expandHeisenbergVector(local *matrix.Dense, wires []int, numWires int) (*matrix.Dense, error) {
	dim := 1 + 2*numWires
	if local.Rows() != 1 || local.Cols() != 1+2*len(wires) {
		return nil, fmt.Errorf("operation: expand 1x%d over %d wires: %w",
			local.Cols(), numWires, matrix.ErrShapeMismatch)
	}
	if local.Cols() == dim && contiguousFromZero(wires) {
		return local.Clone(), nil
	}

	out, err := matrix.New(1, dim)
	if err != nil {
		return nil, err
	}
	for i, gi := range globalIndices(wires) {
		v, aerr := local.At(0, i)
		if aerr != nil {
			return nil, aerr
		}
		if err = out.Set(0, gi, v); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// globalIndices lists the global basis index of every local coordinate:
// [0, 1+2·wires[0], 2+2·wires[0], 1+2·wires[1], …].
func globalIndices(wires []int) []int {
	idx := make([]int, 1, 1+2*len(wires))
	idx[0] = 0
	for _, w := range wires {
		idx = append(idx, 1+2*w, 2+2*w)
	}

	return idx
}

// contiguousFromZero reports whether wires is exactly [0, 1, …, len-1].
func contiguousFromZero(wires []int) bool {
	for i, w := range wires {
		if w != i {
			return false
		}
	}

	return true
}
