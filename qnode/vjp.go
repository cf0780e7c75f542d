package qnode

import (
	"fmt"

	"github.com/qgrad/qgrad/matrix"
)

// VJP computes the vector-Jacobian product gᵀ·J and restores the result
// into the nested structure of the circuit arguments. It is the boundary
// consumed by external automatic-differentiation integrations: g is the
// output-side cotangent, jac a Jacobian over all free parameters.
func VJP(g []float64, jac *matrix.Dense, args Args) (any, error) {
	if len(g) != jac.Rows() {
		return nil, fmt.Errorf("qnode: vjp: %d cotangents for %d outputs: %w",
			len(g), jac.Rows(), ErrShapeInternal)
	}
	flat := make([]float64, jac.Cols())
	for j := range flat {
		for i, gi := range g {
			v, err := jac.At(i, j)
			if err != nil {
				return nil, err
			}
			flat[j] += gi * v
		}
	}

	return UnflattenFloats(flat, args)
}

// VJP evaluates the node's Jacobian at args and returns the
// vector-Jacobian product arranged into the nested argument structure.
func (n *QuantumNode) VJP(g []float64, args Args, opts ...JacobianOption) (any, error) {
	jac, err := n.Jacobian(args, opts...)
	if err != nil {
		return nil, err
	}

	return VJP(g, jac, args)
}
