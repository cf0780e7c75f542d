package qnode_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qgrad/qgrad/operation"
	"github.com/qgrad/qgrad/ops"
	"github.com/qgrad/qgrad/qnode"
	"github.com/qgrad/qgrad/simqubit"
	"github.com/qgrad/qgrad/variable"
)

// param extracts the slot at args[i].
func param(args qnode.Args, i int) operation.Param {
	return args[i].(operation.Param)
}

// fanOutBuilder is the shared-parameter circuit
// RX(θ,0); RZ(φ,0); RX(θ,0); ⟨Z₀⟩.
func fanOutBuilder(args qnode.Args, _ qnode.KwArgs) (any, error) {
	ops.RX(param(args, 0), 0)
	ops.RZ(param(args, 1), 0)
	ops.RX(param(args, 0), 0)

	return ops.Expval(ops.PauliZ(0))
}

func newQubitNode(t *testing.T, fn qnode.Builder, wires int, opts ...qnode.Option) *qnode.QuantumNode {
	t.Helper()
	dev, err := simqubit.New(wires)
	require.NoError(t, err)

	return qnode.New(fn, dev, opts...)
}

func TestEvaluate_FanOutSharedParameter(t *testing.T) {
	n := newQubitNode(t, fanOutBuilder, 1)

	theta, phi := math.Pi/4, 0.7
	out, err := n.Evaluate(qnode.Args{theta, phi}, nil)
	require.NoError(t, err)

	c, s := math.Cos(theta), math.Sin(theta)
	want := c*c + s*s*math.Cos(phi)
	assert.InDelta(t, want, out.(float64), 1e-9)
}

func TestEvaluate_Deterministic(t *testing.T) {
	n := newQubitNode(t, fanOutBuilder, 1)

	first, err := n.Evaluate(qnode.Args{0.3, -1.1}, nil)
	require.NoError(t, err)
	second, err := n.Evaluate(qnode.Args{0.3, -1.1}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestJacobian_FanOutSharedParameter(t *testing.T) {
	n := newQubitNode(t, fanOutBuilder, 1)

	theta, phi := math.Pi/4, 0.7
	jac, err := n.Jacobian(qnode.Args{theta, phi})
	require.NoError(t, err)
	require.Equal(t, 1, jac.Rows())
	require.Equal(t, 2, jac.Cols())

	dTheta, err := jac.At(0, 0)
	require.NoError(t, err)
	dPhi, err := jac.At(0, 1)
	require.NoError(t, err)

	s := math.Sin(theta)
	assert.InDelta(t, -math.Sin(2*theta)*(1-math.Cos(phi)), dTheta, 1e-9)
	assert.InDelta(t, -s*s*math.Sin(phi), dPhi, 1e-9)
}

func TestJacobian_AnalyticAgreesWithFiniteDifferences(t *testing.T) {
	theta, phi := 0.37, -0.92
	n := newQubitNode(t, fanOutBuilder, 1)

	analytic, err := n.Jacobian(qnode.Args{theta, phi}, qnode.WithMethod(qnode.MethodAnalytic))
	require.NoError(t, err)
	finite, err := n.Jacobian(qnode.Args{theta, phi},
		qnode.WithMethod(qnode.MethodFinite), qnode.WithOrder(2), qnode.WithStep(1e-5))
	require.NoError(t, err)

	for j := 0; j < 2; j++ {
		a, aerr := analytic.At(0, j)
		require.NoError(t, aerr)
		f, ferr := finite.At(0, j)
		require.NoError(t, ferr)
		assert.InDelta(t, a, f, 1e-6, "column %d", j)
	}
}

// multiOutBuilder prepares (|00⟩+|10⟩+|11⟩)/√3, applies Rot and CNOT, and
// measures ⟨Z₀⟩ and ⟨Y₁⟩.
func multiOutCircuit(x, y, z operation.Param) (any, error) {
	amps := []operation.Param{
		operation.Const(1), operation.Const(0), operation.Const(1), operation.Const(1),
	}
	ops.QubitStateVector(amps, []int{0, 1})
	ops.Rot(x, y, z, 0)
	ops.CNOT(0, 1)
	z0, err := ops.Expval(ops.PauliZ(0))
	if err != nil {
		return nil, err
	}
	y1, err := ops.Expval(ops.PauliY(1))
	if err != nil {
		return nil, err
	}

	return []*operation.Operation{z0, y1}, nil
}

func TestEvaluate_MultiOutputArgShapesAgree(t *testing.T) {
	flatArgs := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		return multiOutCircuit(param(args, 0), param(args, 1), param(args, 2))
	}
	tailPacked := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		yz := args[1].([]any)
		return multiOutCircuit(param(args, 0), yz[0].(operation.Param), yz[1].(operation.Param))
	}
	allPacked := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		xyz := args[0].([]any)
		return multiOutCircuit(xyz[0].(operation.Param), xyz[1].(operation.Param), xyz[2].(operation.Param))
	}

	x, y, z := 0.2, -0.4, 0.7
	n1 := newQubitNode(t, flatArgs, 2)
	n2 := newQubitNode(t, tailPacked, 2)
	n3 := newQubitNode(t, allPacked, 2)

	out1, err := n1.Evaluate(qnode.Args{x, y, z}, nil)
	require.NoError(t, err)
	out2, err := n2.Evaluate(qnode.Args{x, []float64{y, z}}, nil)
	require.NoError(t, err)
	out3, err := n3.Evaluate(qnode.Args{[]float64{x, y, z}}, nil)
	require.NoError(t, err)

	v1 := out1.([]float64)
	require.Len(t, v1, 2)
	assert.InDeltaSlice(t, v1, out2.([]float64), 1e-12)
	assert.InDeltaSlice(t, v1, out3.([]float64), 1e-12)

	jac1, err := n1.Jacobian(qnode.Args{x, y, z})
	require.NoError(t, err)
	jac3, err := n3.Jacobian(qnode.Args{[]float64{x, y, z}})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			a, _ := jac1.At(i, j)
			b, _ := jac3.At(i, j)
			assert.InDelta(t, a, b, 1e-9)
		}
	}
}

// keywordBuilder uses a keyword placeholder state and one free rotation.
func keywordBuilder(args qnode.Args, kw qnode.KwArgs) (any, error) {
	st := kw["input_state"].([]any)
	amps := []operation.Param{st[0].(operation.Param), st[1].(operation.Param)}
	ops.QubitStateVector(amps, []int{0})
	ops.RX(param(args, 0), 0)

	return ops.Expval(ops.PauliZ(0))
}

func TestJacobian_KeywordPlaceholderExcluded(t *testing.T) {
	n := newQubitNode(t, keywordBuilder, 1,
		qnode.WithDefaultKwargs(qnode.KwArgs{"input_state": []float64{1, 0}}))

	jac, err := n.Jacobian(qnode.Args{0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, jac.Rows())
	assert.Equal(t, 1, jac.Cols())

	d, err := jac.At(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, -math.Sin(0.5), d, 1e-9)
}

func TestEvaluate_KeywordValueChangesWithoutRetrace(t *testing.T) {
	calls := 0
	counted := func(args qnode.Args, kw qnode.KwArgs) (any, error) {
		calls++

		return keywordBuilder(args, kw)
	}
	n := newQubitNode(t, counted, 1,
		qnode.WithCache(true),
		qnode.WithDefaultKwargs(qnode.KwArgs{"input_state": []float64{1, 0}}))

	up, err := n.Evaluate(qnode.Args{0.0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, up.(float64), 1e-9)

	down, err := n.Evaluate(qnode.Args{0.0}, qnode.KwArgs{"input_state": []float64{0, 1}})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, down.(float64), 1e-9)

	assert.Equal(t, 1, calls, "cached node must not retrace on keyword changes")
}

func TestConstruct_WrongReturnOrder(t *testing.T) {
	builder := func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
		z1, err := ops.Expval(ops.PauliZ(1))
		if err != nil {
			return nil, err
		}
		z0, err := ops.Expval(ops.PauliZ(0))
		if err != nil {
			return nil, err
		}

		return []*operation.Operation{z0, z1}, nil
	}
	n := newQubitNode(t, builder, 2)

	_, err := n.Evaluate(qnode.Args{}, nil)
	assert.ErrorIs(t, err, qnode.ErrReturnOrder)
}

func TestConstruct_MixedFamiliesRejected(t *testing.T) {
	builder := func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
		ops.RX(operation.Const(0.3), 0)
		ops.Displacement(operation.Const(0.2), operation.Const(0), 0)

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	_, err := n.Evaluate(qnode.Args{}, nil)
	assert.ErrorIs(t, err, qnode.ErrMixedFamilies)
}

func TestJacobian_SampleDifferentiationForbidden(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		ops.RX(param(args, 0), 0)

		obs, err := ops.PauliZ(0)
		if err != nil {
			return nil, err
		}

		return ops.Sample(10, obs, nil)
	}
	n := newQubitNode(t, builder, 1)

	out, err := n.Evaluate(qnode.Args{0.4}, nil)
	require.NoError(t, err)
	assert.Len(t, out.([]float64), 10)

	_, err = n.Jacobian(qnode.Args{0.4})
	assert.ErrorIs(t, err, qnode.ErrSampleDifferentiation)
}

func TestConstruct_GateAfterMeasurement(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		z, err := ops.Expval(ops.PauliZ(0))
		if err != nil {
			return nil, err
		}
		ops.RX(param(args, 0), 0) // illegal: gate after a measured observable

		return z, nil
	}
	n := newQubitNode(t, builder, 1)

	_, err := n.Evaluate(qnode.Args{0.1}, nil)
	assert.ErrorIs(t, err, qnode.ErrGateAfterMeasure)
}

func TestConstruct_ReentrantTraceRejected(t *testing.T) {
	inner := newQubitNode(t, fanOutBuilder, 1)
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		if _, err := inner.Evaluate(qnode.Args{0.1, 0.2}, nil); err != nil {
			return nil, err
		}

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	_, err := n.Evaluate(qnode.Args{}, nil)
	assert.ErrorIs(t, err, qnode.ErrTraceActive)
}

func TestConstruct_ReturnShapeValidation(t *testing.T) {
	cases := []struct {
		name    string
		builder qnode.Builder
	}{
		{"no observables", func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
			ops.Hadamard(0)

			return 42.0, nil
		}},
		{"empty sequence", func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
			return []*operation.Operation{}, nil
		}},
		{"unmeasured observable", func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
			z, err := ops.PauliZ(0)
			if err != nil {
				return nil, err
			}

			return z, nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := newQubitNode(t, tc.builder, 1)
			_, err := n.Evaluate(qnode.Args{}, nil)
			require.Error(t, err)
			ok := errors.Is(err, qnode.ErrReturnShape) ||
				errors.Is(err, qnode.ErrMissingReturnType) ||
				errors.Is(err, qnode.ErrReturnOrder)
			assert.True(t, ok, "got error: %v", err)
		})
	}
}

func TestEvaluate_WireMeasuredTwice(t *testing.T) {
	builder := func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
		z, err := ops.Expval(ops.PauliZ(0))
		if err != nil {
			return nil, err
		}
		x, err := ops.Expval(ops.PauliX(0))
		if err != nil {
			return nil, err
		}

		return []*operation.Operation{z, x}, nil
	}
	n := newQubitNode(t, builder, 1)

	_, err := n.Evaluate(qnode.Args{}, nil)
	assert.ErrorIs(t, err, qnode.ErrWireRepeat)
}

func TestEvaluate_WireOutOfRange(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		ops.RX(param(args, 0), 3)

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 2)

	_, err := n.Evaluate(qnode.Args{0.1}, nil)
	assert.ErrorIs(t, err, qnode.ErrWireRange)
}

func TestJacobian_UnusedParameterGivesZeroColumn(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		ops.RX(param(args, 0), 0)

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	jac, err := n.Jacobian(qnode.Args{0.5, 123.0})
	require.NoError(t, err)
	require.Equal(t, 2, jac.Cols())

	used, err := jac.At(0, 0)
	require.NoError(t, err)
	unused, err := jac.At(0, 1)
	require.NoError(t, err)
	assert.InDelta(t, -math.Sin(0.5), used, 1e-9)
	assert.Zero(t, unused)
}

func TestJacobian_RestoresSubstitutedParameters(t *testing.T) {
	n := newQubitNode(t, fanOutBuilder, 1, qnode.WithCache(true))

	_, err := n.Jacobian(qnode.Args{0.3, 0.4})
	require.NoError(t, err)

	tape := n.Tape()
	require.NotNil(t, tape)
	for k, sites := range tape.VarOps {
		for _, site := range sites {
			op := tape.Gates[site.Op] // fan-out circuit: all sites are gates
			slot, ok := op.Params[site.Param].(variable.Slot)
			require.True(t, ok, "parameter %d of %s is not a slot", site.Param, op.Name())
			assert.Equal(t, k, slot.Idx, "leftover substitution on %s", op.Name())
			assert.Empty(t, slot.Name)
		}
	}
}

func TestRetrace_TriggeredByLengthChangeOrCacheOff(t *testing.T) {
	calls := 0
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		calls++
		ops.RX(param(args, 0), 0)

		return ops.Expval(ops.PauliZ(0))
	}

	cached := newQubitNode(t, builder, 1, qnode.WithCache(true))
	_, err := cached.Evaluate(qnode.Args{0.1}, nil)
	require.NoError(t, err)
	_, err = cached.Evaluate(qnode.Args{0.2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "same flat length with caching must not retrace")

	_, err = cached.Evaluate(qnode.Args{0.2, 9.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "flat length change must retrace")

	calls = 0
	uncached := newQubitNode(t, builder, 1)
	_, err = uncached.Evaluate(qnode.Args{0.1}, nil)
	require.NoError(t, err)
	_, err = uncached.Evaluate(qnode.Args{0.1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "caching off must retrace every call")
}

func TestJacobian_ArgumentValidation(t *testing.T) {
	n := newQubitNode(t, fanOutBuilder, 1)

	_, err := n.Jacobian(qnode.Args{0.1, 0.2}, qnode.WithWhich([]int{5}))
	assert.ErrorIs(t, err, qnode.ErrWhichRange)

	_, err = n.Jacobian(qnode.Args{0.1, 0.2}, qnode.WithWhich([]int{0, 0}))
	assert.ErrorIs(t, err, qnode.ErrWhichDuplicate)

	_, err = n.Jacobian(qnode.Args{0.1, 0.2}, qnode.WithMethod(qnode.Method(42)))
	assert.ErrorIs(t, err, qnode.ErrUnknownMethod)

	_, err = n.Jacobian(qnode.Args{0.1, 0.2}, qnode.WithOrder(3))
	assert.ErrorIs(t, err, qnode.ErrFiniteOrder)
}

func TestJacobian_NonDifferentiableParameter(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		amps := []operation.Param{param(args, 0), operation.Const(1)}
		ops.QubitStateVector(amps, []int{0})

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	_, err := n.Jacobian(qnode.Args{0.6})
	assert.ErrorIs(t, err, qnode.ErrNonDifferentiable)
}

func TestEvaluate_ScalarMultipliedSlot(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		theta := args[0].(variable.Slot).Scale(2)
		ops.RX(theta, 0)

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	out, err := n.Evaluate(qnode.Args{0.4}, nil)
	require.NoError(t, err)
	assert.InDelta(t, math.Cos(0.8), out.(float64), 1e-9)

	jac, err := n.Jacobian(qnode.Args{0.4})
	require.NoError(t, err)
	d, err := jac.At(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, -2*math.Sin(0.8), d, 1e-9)
}

func TestEvaluate_MixedSampleAndExpectationOutput(t *testing.T) {
	builder := func(_ qnode.Args, _ qnode.KwArgs) (any, error) {
		obs0, err := ops.PauliZ(0)
		if err != nil {
			return nil, err
		}
		s, err := ops.Sample(5, obs0, nil)
		if err != nil {
			return nil, err
		}
		e, err := ops.Expval(ops.PauliZ(1))
		if err != nil {
			return nil, err
		}

		return []*operation.Operation{s, e}, nil
	}
	n := newQubitNode(t, builder, 2)

	out, err := n.Evaluate(qnode.Args{}, nil)
	require.NoError(t, err)
	mixed := out.([]any)
	require.Len(t, mixed, 2)
	assert.Len(t, mixed[0].([]float64), 5)
	assert.InDelta(t, 1.0, mixed[1].(float64), 1e-9)
}

func TestVariance_InvolutoryShiftRule(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		ops.RX(param(args, 0), 0)

		return ops.Var(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	theta := 0.7
	out, err := n.Evaluate(qnode.Args{theta}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1-math.Cos(theta)*math.Cos(theta), out.(float64), 1e-9)

	// for involutory A: ∂Var(A)/∂θ = −2⟨A⟩·∂⟨A⟩/∂θ = sin(2θ)
	jac, err := n.Jacobian(qnode.Args{theta})
	require.NoError(t, err)
	d, err := jac.At(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, math.Sin(2*theta), d, 1e-9)
}

func TestVJP_RestoresArgumentStructure(t *testing.T) {
	builder := func(args qnode.Args, _ qnode.KwArgs) (any, error) {
		xy := args[0].([]any)
		ops.RX(xy[0].(operation.Param), 0)
		ops.RY(xy[1].(operation.Param), 0)

		return ops.Expval(ops.PauliZ(0))
	}
	n := newQubitNode(t, builder, 1)

	args := qnode.Args{[]float64{0.3, 0.5}}
	out, err := n.VJP([]float64{1}, args)
	require.NoError(t, err)

	shaped := out.(qnode.Args)
	require.Len(t, shaped, 1)
	grads := shaped[0].([]float64)
	require.Len(t, grads, 2)

	jac, err := n.Jacobian(args)
	require.NoError(t, err)
	for j := 0; j < 2; j++ {
		v, jerr := jac.At(0, j)
		require.NoError(t, jerr)
		assert.InDelta(t, v, grads[j], 1e-9)
	}
}
