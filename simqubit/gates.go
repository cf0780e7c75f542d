// Gate and observable matrices of the state-vector simulator.
package simqubit

import (
	"fmt"
	"math"
	"math/cmplx"
)

func rxMatrix(theta float64) [2][2]complex128 {
	c := complex(math.Cos(theta/2), 0)
	s := complex(0, -math.Sin(theta/2))

	return [2][2]complex128{{c, s}, {s, c}}
}

func ryMatrix(theta float64) [2][2]complex128 {
	c := complex(math.Cos(theta/2), 0)
	s := complex(math.Sin(theta/2), 0)

	return [2][2]complex128{{c, -s}, {s, c}}
}

func rzMatrix(theta float64) [2][2]complex128 {
	return [2][2]complex128{
		{cmplx.Exp(complex(0, -theta/2)), 0},
		{0, cmplx.Exp(complex(0, theta/2))},
	}
}

var (
	hadamard = [2][2]complex128{
		{complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0)},
		{complex(1/math.Sqrt2, 0), complex(-1/math.Sqrt2, 0)},
	}
	pauliX = [2][2]complex128{{0, 1}, {1, 0}}
	pauliY = [2][2]complex128{{0, complex(0, -1)}, {complex(0, 1), 0}}
	pauliZ = [2][2]complex128{{1, 0}, {0, -1}}
)

// gateMatrix resolves a single-qubit gate by name.
func gateMatrix(name string, params []float64) ([2][2]complex128, error) {
	switch name {
	case "RX", "RY", "RZ":
		if len(params) != 1 {
			return [2][2]complex128{}, fmt.Errorf("simqubit: %s: %w", name, ErrBadParams)
		}
	}
	switch name {
	case "RX":
		return rxMatrix(params[0]), nil
	case "RY":
		return ryMatrix(params[0]), nil
	case "RZ":
		return rzMatrix(params[0]), nil
	case "Hadamard":
		return hadamard, nil
	case "PauliX":
		return pauliX, nil
	case "PauliY":
		return pauliY, nil
	case "PauliZ":
		return pauliZ, nil
	default:
		return [2][2]complex128{}, fmt.Errorf("simqubit: %s: %w", name, ErrUnknownGate)
	}
}

// obsMatrix resolves a single-wire observable by name. Hermitian rebuilds
// its real symmetric matrix from the flat parameters.
func obsMatrix(name string, params []float64) ([2][2]complex128, error) {
	switch name {
	case "PauliX":
		return pauliX, nil
	case "PauliY":
		return pauliY, nil
	case "PauliZ":
		return pauliZ, nil
	case "Hermitian":
		if len(params) != 4 {
			return [2][2]complex128{}, fmt.Errorf("simqubit: Hermitian: %w", ErrBadParams)
		}

		return [2][2]complex128{
			{complex(params[0], 0), complex(params[1], 0)},
			{complex(params[2], 0), complex(params[3], 0)},
		}, nil
	default:
		return [2][2]complex128{}, fmt.Errorf("simqubit: %s: %w", name, ErrUnknownObs)
	}
}

// matMul2 multiplies two 2×2 matrices.
func matMul2(a, b [2][2]complex128) [2][2]complex128 {
	var out [2][2]complex128
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			out[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j]
		}
	}

	return out
}
