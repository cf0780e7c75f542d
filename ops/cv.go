// Continuous-variable Gaussian gates and observables. All phase-space
// representations use the basis [I, x₁, p₁, …] with ħ = 2, so the
// vacuum covariance is the identity and √(2ħ) = 2 scales displacements.
package ops

import (
	"fmt"
	"math"

	"github.com/qgrad/qgrad/matrix"
	"github.com/qgrad/qgrad/operation"
)

// cvShift is the finite shift used by the exact recipes of Displacement
// and Squeezing: Displacement is linear in its amplitude and Squeezing is
// linear in e^{±r}, so the scaled two-point rule recovers the derivative
// exactly.
const cvShift = 0.1

var (
	displacementDesc = &spec{name: "Displacement", kind: operation.KindGate, family: operation.FamilyCV,
		wires: 1, params: 2, grad: operation.GradAnalytic, heis: true,
		recipes: map[int]recipe{0: {multiplier: 0.5 / cvShift, shift: cvShift}},
		localTr: displacementTr}
	squeezingDesc = &spec{name: "Squeezing", kind: operation.KindGate, family: operation.FamilyCV,
		wires: 1, params: 2, grad: operation.GradAnalytic, heis: true,
		recipes: map[int]recipe{0: {multiplier: 0.5 / math.Sinh(cvShift), shift: cvShift}},
		localTr: squeezingTr}
	rotationDesc = &spec{name: "Rotation", kind: operation.KindGate, family: operation.FamilyCV,
		wires: 1, params: 1, grad: operation.GradAnalytic, heis: true,
		localTr: rotationTr}
	beamsplitterDesc = &spec{name: "Beamsplitter", kind: operation.KindGate, family: operation.FamilyCV,
		wires: 2, params: 2, grad: operation.GradAnalytic, heis: true,
		localTr: beamsplitterTr}
	kerrDesc = &spec{name: "Kerr", kind: operation.KindGate, family: operation.FamilyCV,
		wires: 1, params: 1, grad: operation.GradFinite}

	xDesc = &spec{name: "X", kind: operation.KindObservable, family: operation.FamilyCV,
		wires: 1, grad: operation.GradNone, evOrder: 1,
		localObs: func([]float64) (*matrix.Dense, error) { return matrix.RowVector([]float64{0, 1, 0}) }}
	pDesc = &spec{name: "P", kind: operation.KindObservable, family: operation.FamilyCV,
		wires: 1, grad: operation.GradNone, evOrder: 1,
		localObs: func([]float64) (*matrix.Dense, error) { return matrix.RowVector([]float64{0, 0, 1}) }}
	quadDesc = &spec{name: "QuadOperator", kind: operation.KindObservable, family: operation.FamilyCV,
		wires: 1, params: 1, grad: operation.GradFinite, evOrder: 1,
		localObs: func(p []float64) (*matrix.Dense, error) {
			return matrix.RowVector([]float64{0, math.Cos(p[0]), math.Sin(p[0])})
		}}
	numberDesc = &spec{name: "NumberOperator", kind: operation.KindObservable, family: operation.FamilyCV,
		wires: 1, grad: operation.GradNone, evOrder: 2,
		localObs: func([]float64) (*matrix.Dense, error) {
			// n = (x² + p²)/(2ħ) − 1/2 with ħ = 2
			return matrix.FromRows([][]float64{
				{-0.5, 0, 0},
				{0, 0.25, 0},
				{0, 0, 0.25},
			})
		}}
	fockDesc = &spec{name: "FockStateProjector", kind: operation.KindObservable, family: operation.FamilyCV,
		wires: 1, params: 1, grad: operation.GradNone, evOrder: 0}
)

// Displacement displaces wire in phase space by amplitude a along angle phi.
func Displacement(a, phi operation.Param, wire int) (*operation.Operation, error) {
	return newOp(displacementDesc, []int{wire}, a, phi)
}

// Squeezing squeezes wire by magnitude r along angle phi.
func Squeezing(r, phi operation.Param, wire int) (*operation.Operation, error) {
	return newOp(squeezingDesc, []int{wire}, r, phi)
}

// Rotation rotates wire in phase space by phi.
func Rotation(phi operation.Param, wire int) (*operation.Operation, error) {
	return newOp(rotationDesc, []int{wire}, phi)
}

// Beamsplitter couples two wires with transmittivity angle theta and phase phi.
func Beamsplitter(theta, phi operation.Param, wire1, wire2 int) (*operation.Operation, error) {
	return newOp(beamsplitterDesc, []int{wire1, wire2}, theta, phi)
}

// Kerr applies the non-Gaussian Kerr interaction; it has no Heisenberg
// representation, so parameters flowing through it degrade to finite
// differences.
func Kerr(kappa operation.Param, wire int) (*operation.Operation, error) {
	return newOp(kerrDesc, []int{wire}, kappa)
}

// X is the position quadrature observable on wire.
func X(wire int) (*operation.Operation, error) {
	return newOp(xDesc, []int{wire})
}

// P is the momentum quadrature observable on wire.
func P(wire int) (*operation.Operation, error) {
	return newOp(pDesc, []int{wire})
}

// QuadOperator is the generalized quadrature x·cos(phi) + p·sin(phi) on wire.
func QuadOperator(phi operation.Param, wire int) (*operation.Operation, error) {
	return newOp(quadDesc, []int{wire}, phi)
}

// NumberOperator is the photon-number observable on wire (second order in
// the quadratures).
func NumberOperator(wire int) (*operation.Operation, error) {
	return newOp(numberDesc, []int{wire})
}

// FockStateProjector is the projector |n⟩⟨n| on wire. It has no polynomial
// quadrature form, so parameters feeding circuits measured through it
// degrade to finite differences.
func FockStateProjector(n int, wire int) (*operation.Operation, error) {
	return newOp(fockDesc, []int{wire}, operation.Const(float64(n)))
}

// PolyXP is a general second-order polynomial observable ⟨q·M·qᵀ⟩ over the
// full phase-space basis q = [1, x₁, p₁, …]. The gradient engine builds it
// when transforming observables under the order-2 Heisenberg rule and for
// the CV variance shift rule; it is never recorded into a trace and is
// created with its expectation return type preset.
func PolyXP(m *matrix.Dense, wires []int) (*operation.Operation, error) {
	dim := 1 + 2*len(wires)
	if m.Rows() != dim || m.Cols() != dim {
		return nil, fmt.Errorf("ops: PolyXP: %dx%d matrix for %d wires: %w", m.Rows(), m.Cols(), len(wires), ErrBadShape)
	}
	vals := make([]float64, 0, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			v, err := m.At(i, j)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
	}
	desc := &spec{name: "PolyXP", kind: operation.KindObservable, family: operation.FamilyCV,
		wires: len(wires), params: dim * dim, grad: operation.GradNone, evOrder: 2,
		localObs: polyXPObs(dim)}

	return &operation.Operation{
		Desc:   desc,
		Wires:  wires,
		Params: consts(vals),
		Return: operation.ReturnExpectation,
	}, nil
}

// polyXPObs rebuilds the d×d coefficient matrix from flat parameters.
func polyXPObs(dim int) func(p []float64) (*matrix.Dense, error) {
	return func(p []float64) (*matrix.Dense, error) {
		if len(p) != dim*dim {
			return nil, fmt.Errorf("ops: PolyXP: %d parameters for dim %d: %w", len(p), dim, ErrBadShape)
		}
		m, err := matrix.New(dim, dim)
		if err != nil {
			return nil, err
		}
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				if err = m.Set(i, j, p[i*dim+j]); err != nil {
					return nil, err
				}
			}
		}

		return m, nil
	}
}

// displacementTr is the phase-space action of Displacement(a, phi):
// x ← x + 2a·cos(phi), p ← p + 2a·sin(phi).
func displacementTr(p []float64, inverse bool) (*matrix.Dense, error) {
	a, phi := p[0], p[1]
	if inverse {
		a = -a
	}

	return matrix.FromRows([][]float64{
		{1, 0, 0},
		{2 * a * math.Cos(phi), 1, 0},
		{2 * a * math.Sin(phi), 0, 1},
	})
}

// squeezingTr is the phase-space action of Squeezing(r, phi).
func squeezingTr(p []float64, inverse bool) (*matrix.Dense, error) {
	r, phi := p[0], p[1]
	if inverse {
		r = -r
	}
	ch, sh := math.Cosh(r), math.Sinh(r)
	c, s := math.Cos(phi), math.Sin(phi)

	return matrix.FromRows([][]float64{
		{1, 0, 0},
		{0, ch - c*sh, -s * sh},
		{0, -s * sh, ch + c*sh},
	})
}

// rotationTr is the phase-space rotation by phi.
func rotationTr(p []float64, inverse bool) (*matrix.Dense, error) {
	phi := p[0]
	if inverse {
		phi = -phi
	}
	c, s := math.Cos(phi), math.Sin(phi)

	return matrix.FromRows([][]float64{
		{1, 0, 0},
		{0, c, -s},
		{0, s, c},
	})
}

// beamsplitterTr is the two-mode phase-space action of Beamsplitter(theta, phi).
func beamsplitterTr(p []float64, inverse bool) (*matrix.Dense, error) {
	theta, phi := p[0], p[1]
	if inverse {
		theta = -theta
	}
	ct, st := math.Cos(theta), math.Sin(theta)
	c, s := math.Cos(phi), math.Sin(phi)

	// blocks: [[ct·I, −st·Rᵀ], [st·R, ct·I]] with R the rotation by phi
	return matrix.FromRows([][]float64{
		{1, 0, 0, 0, 0},
		{0, ct, 0, -st * c, -st * s},
		{0, 0, ct, st * s, -st * c},
		{0, st * c, -st * s, ct, 0},
		{0, st * s, st * c, 0, ct},
	})
}
