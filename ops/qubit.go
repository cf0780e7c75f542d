// Qubit gates, state preparations, and observables.
package ops

import (
	"fmt"

	"github.com/qgrad/qgrad/matrix"
	"github.com/qgrad/qgrad/operation"
)

var (
	rxDesc = &spec{name: "RX", kind: operation.KindGate, family: operation.FamilyQubit,
		wires: 1, params: 1, grad: operation.GradAnalytic}
	ryDesc = &spec{name: "RY", kind: operation.KindGate, family: operation.FamilyQubit,
		wires: 1, params: 1, grad: operation.GradAnalytic}
	rzDesc = &spec{name: "RZ", kind: operation.KindGate, family: operation.FamilyQubit,
		wires: 1, params: 1, grad: operation.GradAnalytic}
	rotDesc = &spec{name: "Rot", kind: operation.KindGate, family: operation.FamilyQubit,
		wires: 1, params: 3, grad: operation.GradAnalytic}
	hadamardDesc = &spec{name: "Hadamard", kind: operation.KindGate, family: operation.FamilyQubit,
		wires: 1, grad: operation.GradNone}
	cnotDesc = &spec{name: "CNOT", kind: operation.KindGate, family: operation.FamilyQubit,
		wires: 2, grad: operation.GradNone}

	basisStateDesc = &spec{name: "BasisState", kind: operation.KindStatePrep, family: operation.FamilyQubit,
		wires: -1, params: -1, grad: operation.GradNone}
	stateVectorDesc = &spec{name: "QubitStateVector", kind: operation.KindStatePrep, family: operation.FamilyQubit,
		wires: -1, params: -1, grad: operation.GradNone}

	pauliXDesc = &spec{name: "PauliX", kind: operation.KindObservable, family: operation.FamilyQubit,
		wires: 1, grad: operation.GradNone}
	pauliYDesc = &spec{name: "PauliY", kind: operation.KindObservable, family: operation.FamilyQubit,
		wires: 1, grad: operation.GradNone}
	pauliZDesc = &spec{name: "PauliZ", kind: operation.KindObservable, family: operation.FamilyQubit,
		wires: 1, grad: operation.GradNone}
	hermitianDesc = &spec{name: "Hermitian", kind: operation.KindObservable, family: operation.FamilyQubit,
		wires: 1, params: 4, grad: operation.GradFinite}
)

// RX applies a rotation about the Pauli-X axis by theta.
func RX(theta operation.Param, wire int) (*operation.Operation, error) {
	return newOp(rxDesc, []int{wire}, theta)
}

// RY applies a rotation about the Pauli-Y axis by theta.
func RY(theta operation.Param, wire int) (*operation.Operation, error) {
	return newOp(ryDesc, []int{wire}, theta)
}

// RZ applies a rotation about the Pauli-Z axis by theta.
func RZ(theta operation.Param, wire int) (*operation.Operation, error) {
	return newOp(rzDesc, []int{wire}, theta)
}

// Rot applies the general single-qubit rotation RZ(omega)·RY(theta)·RZ(phi).
func Rot(phi, theta, omega operation.Param, wire int) (*operation.Operation, error) {
	return newOp(rotDesc, []int{wire}, phi, theta, omega)
}

// Hadamard applies the Hadamard gate.
func Hadamard(wire int) (*operation.Operation, error) {
	return newOp(hadamardDesc, []int{wire})
}

// CNOT applies a controlled NOT with the given control and target wires.
func CNOT(control, target int) (*operation.Operation, error) {
	return newOp(cnotDesc, []int{control, target})
}

// BasisState prepares the computational basis state |bits⟩ on wires.
func BasisState(bits []int, wires []int) (*operation.Operation, error) {
	if len(bits) != len(wires) {
		return nil, fmt.Errorf("ops: BasisState: %d bits for %d wires: %w", len(bits), len(wires), ErrBadShape)
	}
	params := make([]operation.Param, len(bits))
	for i, b := range bits {
		params[i] = operation.Const(float64(b))
	}

	return newOp(basisStateDesc, wires, params...)
}

// QubitStateVector prepares an arbitrary real state vector on wires.
// amplitudes has 2^len(wires) entries; the device normalizes.
func QubitStateVector(amplitudes []operation.Param, wires []int) (*operation.Operation, error) {
	if len(amplitudes) != 1<<len(wires) {
		return nil, fmt.Errorf("ops: QubitStateVector: %d amplitudes for %d wires: %w",
			len(amplitudes), len(wires), ErrBadShape)
	}

	return newOp(stateVectorDesc, wires, amplitudes...)
}

// PauliX is the σ_x observable on wire.
func PauliX(wire int) (*operation.Operation, error) {
	return newOp(pauliXDesc, []int{wire})
}

// PauliY is the σ_y observable on wire.
func PauliY(wire int) (*operation.Operation, error) {
	return newOp(pauliYDesc, []int{wire})
}

// PauliZ is the σ_z observable on wire.
func PauliZ(wire int) (*operation.Operation, error) {
	return newOp(pauliZDesc, []int{wire})
}

// Hermitian is an arbitrary real symmetric 2×2 observable on wire.
func Hermitian(a *matrix.Dense, wire int) (*operation.Operation, error) {
	if a.Rows() != 2 || a.Cols() != 2 {
		return nil, fmt.Errorf("ops: Hermitian: %dx%d matrix: %w", a.Rows(), a.Cols(), ErrBadShape)
	}
	vals := make([]float64, 0, 4)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v, err := a.At(i, j)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
	}

	return newOp(hermitianDesc, []int{wire}, consts(vals)...)
}

// HermitianMatrix reconstructs the 2×2 matrix of a Hermitian observable
// from its resolved parameters. Used by the variance shift rule and by
// devices.
func HermitianMatrix(params []float64) (*matrix.Dense, error) {
	if len(params) != 4 {
		return nil, fmt.Errorf("ops: Hermitian: %d parameters: %w", len(params), ErrBadShape)
	}

	return matrix.FromRows([][]float64{{params[0], params[1]}, {params[2], params[3]}})
}

// HermitianSquared builds an unrecorded expectation of A² from a Hermitian
// variance observable's matrix. The gradient engine uses it to apply the
// variance shift rule to non-involutory observables.
func HermitianSquared(a *matrix.Dense, wire int) (*operation.Operation, error) {
	a2, err := a.Mul(a)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, 0, 4)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v, aerr := a2.At(i, j)
			if aerr != nil {
				return nil, aerr
			}
			vals = append(vals, v)
		}
	}

	return &operation.Operation{
		Desc:   hermitianDesc,
		Wires:  []int{wire},
		Params: consts(vals),
		Return: operation.ReturnExpectation,
	}, nil
}
