// Package ops is the operation and observable library consumed by the
// tracing and differentiation engine. Every gate and observable carries a
// capability descriptor: wire and parameter arity, a gradient-method hint,
// optional per-parameter shift-rule recipes, and (for Gaussian
// continuous-variable operations) symplectic Heisenberg representations
// in the phase-space basis [I, x₁, p₁, …] with ħ = 2.
//
// Constructors record the new operation into the active circuit trace;
// calling them outside a trace fails. Measurement wrappers (Expval, Var,
// Sample) assign the return type of an observable and promote it into the
// measured set. PolyXP and HermitianSquared are the exceptions: they are
// built by the gradient engine outside any trace and are never recorded.
package ops

import (
	"errors"
	"fmt"

	"github.com/qgrad/qgrad/matrix"
	"github.com/qgrad/qgrad/operation"
)

// Sentinel errors for library misuse.
var (
	// ErrNotObservable indicates a measurement wrapper received a gate.
	ErrNotObservable = errors.New("ops: only observables can be measured")

	// ErrBadShape indicates a matrix-valued argument of the wrong shape.
	ErrBadShape = errors.New("ops: bad matrix shape")

	// ErrSampleCount indicates a non-positive sample count.
	ErrSampleCount = errors.New("ops: sample count must be positive")
)

// recipe holds explicit shift-rule coefficients for one parameter.
type recipe struct {
	multiplier float64
	shift      float64
}

// spec is the concrete Descriptor shared by every library entry.
type spec struct {
	name     string
	kind     operation.Kind
	family   operation.Family
	wires    int
	params   int
	grad     operation.GradMethod
	recipes  map[int]recipe
	heis     bool
	evOrder  int
	localTr  func(p []float64, inverse bool) (*matrix.Dense, error)
	localObs func(p []float64) (*matrix.Dense, error)
}

var _ operation.Descriptor = (*spec)(nil)

func (s *spec) Name() string                  { return s.name }
func (s *spec) Kind() operation.Kind          { return s.kind }
func (s *spec) Family() operation.Family      { return s.family }
func (s *spec) NumWires() int                 { return s.wires }
func (s *spec) NumParams() int                { return s.params }
func (s *spec) GradMethod() operation.GradMethod { return s.grad }
func (s *spec) SupportsHeisenberg() bool      { return s.heis }
func (s *spec) EVOrder() int                  { return s.evOrder }

// GradRecipe returns the explicit recipe for parameter p, or the default
// (0.5, π/2) rule.
func (s *spec) GradRecipe(p int) (multiplier, shift float64) {
	if r, ok := s.recipes[p]; ok {
		return r.multiplier, r.shift
	}

	return operation.DefaultShiftMultiplier, operation.DefaultShift
}

// HeisenbergLocal returns the symplectic transformation on the operation's
// own wires, or ErrNotGaussian when the operation has none.
func (s *spec) HeisenbergLocal(params []float64, inverse bool) (*matrix.Dense, error) {
	if s.localTr == nil {
		return nil, fmt.Errorf("ops: %s: %w", s.name, operation.ErrNotGaussian)
	}

	return s.localTr(params, inverse)
}

// HeisenbergObsLocal returns the phase-space representation of a CV
// observable on its own wires, or ErrNotGaussian.
func (s *spec) HeisenbergObsLocal(params []float64) (*matrix.Dense, error) {
	if s.localObs == nil {
		return nil, fmt.Errorf("ops: %s: %w", s.name, operation.ErrNotGaussian)
	}

	return s.localObs(params)
}

// newOp instantiates and records an operation for descriptor d.
func newOp(d *spec, wires []int, params ...operation.Param) (*operation.Operation, error) {
	op := &operation.Operation{Desc: d, Wires: wires, Params: params}
	if err := operation.Enqueue(op); err != nil {
		return nil, fmt.Errorf("ops: %s: %w", d.name, err)
	}

	return op, nil
}

// Expval marks obs as an expectation-value measurement and promotes it into
// the measured set. It accepts a constructor's (observable, error) pair so
// measurements compose: return ops.Expval(ops.PauliZ(0)).
func Expval(obs *operation.Operation, err error) (*operation.Operation, error) {
	return measure(obs, err, operation.ReturnExpectation, 0)
}

// Var marks obs as a variance measurement and promotes it.
func Var(obs *operation.Operation, err error) (*operation.Operation, error) {
	return measure(obs, err, operation.ReturnVariance, 0)
}

// Sample marks obs as a sample measurement drawing n samples and promotes it.
func Sample(n int, obs *operation.Operation, err error) (*operation.Operation, error) {
	if err == nil && n <= 0 {
		return nil, ErrSampleCount
	}

	return measure(obs, err, operation.ReturnSample, n)
}

func measure(obs *operation.Operation, err error, rt operation.ReturnType, n int) (*operation.Operation, error) {
	if err != nil {
		return nil, err
	}
	if obs.Desc.Kind() != operation.KindObservable {
		return nil, fmt.Errorf("ops: %s: %w", obs.Name(), ErrNotObservable)
	}
	obs.Return = rt
	obs.SampleCount = n
	if perr := operation.Promote(obs); perr != nil {
		return nil, fmt.Errorf("ops: %s: %w", obs.Name(), perr)
	}

	return obs, nil
}

// consts converts concrete values into constant parameters.
func consts(vals []float64) []operation.Param {
	out := make([]operation.Param, len(vals))
	for i, v := range vals {
		out[i] = operation.Const(v)
	}

	return out
}
