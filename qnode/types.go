// Package qnode implements the core of the hybrid quantum–classical
// differentiation engine: tracing a circuit builder into a typed operation
// tape, binding free parameters through the variable indirection layer,
// executing the tape on a pluggable device, and computing Jacobians via the
// parameter-shift rule, finite differences, or the order-2 Heisenberg rule
// for Gaussian continuous-variable circuits.
//
// Key features:
//   - QuantumNode: binds a circuit builder to a device; Evaluate runs the
//     traced tape, Jacobian differentiates it
//   - Exclusive construction context: one active trace per process,
//     released on every exit path
//   - Per-parameter gradient method selection (analytic / finite / none)
//     with the conservative Heisenberg successor walk for CV circuits
//   - Variance shift rule layered on the expectation shift rule
//   - Flatten/Unflatten over nested argument structures and a
//     vector-Jacobian-product helper for autodiff integrations
//
// Errors (spec kinds): quantum-function errors (tracing and circuit
// validity), device errors (surfaced unchanged from package device), and
// argument errors (Jacobian request validation). All are sentinels below.
package qnode

import (
	"errors"

	"github.com/rs/zerolog"
)

// Quantum-function (trace/validity) sentinels.
var (
	// ErrTraceActive indicates re-entrant circuit construction.
	ErrTraceActive = errors.New("qnode: another circuit is already being constructed")

	// ErrGateAfterMeasure indicates a gate queued after a measured observable.
	ErrGateAfterMeasure = errors.New("qnode: state preparations and gates must precede measured observables")

	// ErrReturnShape indicates the builder returned something other than a
	// single measured observable or a nonempty sequence of them.
	ErrReturnShape = errors.New("qnode: a quantum function must return either a single measured observable or a nonempty sequence of measured observables")

	// ErrReturnOrder indicates returned observables differ, by identity or
	// order, from the observables measured during the trace.
	ErrReturnOrder = errors.New("qnode: all measured observables must be returned in the order they are measured")

	// ErrMissingReturnType indicates a returned observable without a
	// measurement type.
	ErrMissingReturnType = errors.New("qnode: observable does not have the measurement type specified")

	// ErrMixedFamilies indicates continuous and discrete operations in one
	// circuit.
	ErrMixedFamilies = errors.New("qnode: continuous and discrete operations are not allowed in the same quantum circuit")

	// ErrWireRepeat indicates a wire measured by more than one returned
	// observable.
	ErrWireRepeat = errors.New("qnode: each wire in the quantum circuit can only be measured once")

	// ErrWireRange indicates an operation touching a wire outside the
	// device's range.
	ErrWireRange = errors.New("qnode: operation applied to invalid wire")

	// ErrSampleDifferentiation indicates a Jacobian request on a circuit
	// that includes sampling.
	ErrSampleDifferentiation = errors.New("qnode: circuits that include sampling can not be differentiated")

	// ErrArgStructure indicates an argument structure outside the supported
	// nesting (reals, ordered sequences, string-keyed mappings).
	ErrArgStructure = errors.New("qnode: unsupported argument structure")

	// ErrUnflattenLeftover indicates flat data longer than its template.
	ErrUnflattenLeftover = errors.New("qnode: more data than the argument template can hold")
)

// Argument sentinels for Jacobian requests.
var (
	// ErrUnknownMethod indicates an unrecognized gradient method selector.
	ErrUnknownMethod = errors.New("qnode: unknown gradient method")

	// ErrWhichRange indicates a requested parameter index outside the free
	// parameter range.
	ErrWhichRange = errors.New("qnode: requested parameter index out of range")

	// ErrWhichDuplicate indicates duplicate requested parameter indices.
	ErrWhichDuplicate = errors.New("qnode: parameter indices must be unique")

	// ErrMethodMismatch indicates an analytic request for a parameter whose
	// best method is finite differences.
	ErrMethodMismatch = errors.New("qnode: the analytic gradient method cannot be used with the requested parameter")

	// ErrNonDifferentiable indicates a derivative request for a parameter
	// no method can differentiate.
	ErrNonDifferentiable = errors.New("qnode: cannot differentiate with respect to the requested parameter")

	// ErrFiniteOrder indicates a finite-difference order other than 1 or 2.
	ErrFiniteOrder = errors.New("qnode: finite difference order must be 1 or 2")

	// ErrShapeInternal indicates an output vector of unexpected length;
	// it signals a tape/engine inconsistency, not a user mistake.
	ErrShapeInternal = errors.New("qnode: internal output shape mismatch")
)

// Args is the positional argument list of a circuit builder: a nested
// structure of reals, ordered sequences, and string-keyed mappings.
type Args []any

// KwArgs are keyword arguments: fixed data placeholders excluded from
// differentiation.
type KwArgs map[string]any

// Method selects the top-level Jacobian strategy.
type Method int

const (
	// MethodBest uses the per-parameter best known method.
	MethodBest Method = iota

	// MethodAnalytic forces the parameter-shift (analytic) rule.
	MethodAnalytic

	// MethodFinite forces finite differences.
	MethodFinite
)

// String renders the method selector.
func (m Method) String() string {
	switch m {
	case MethodAnalytic:
		return "analytic"
	case MethodFinite:
		return "finite"
	default:
		return "best"
	}
}

// Default Jacobian knobs.
const (
	// DefaultStep is the finite-difference step size.
	DefaultStep = 1e-7

	// DefaultOrder is the finite-difference order.
	DefaultOrder = 1
)

// nodeOptions configures a QuantumNode.
type nodeOptions struct {
	cache          bool
	logger         zerolog.Logger
	defaultKwargs  KwArgs
}

// Option configures QuantumNode construction.
type Option func(*nodeOptions)

// WithCache enables tape caching: the builder is traced once and the tape
// reused while the flat argument length is unchanged. Only enable it when
// the circuit structure never depends on argument values.
func WithCache(cache bool) Option {
	return func(o *nodeOptions) { o.cache = cache }
}

// WithLogger attaches a structured logger; the default discards all events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *nodeOptions) { o.logger = l }
}

// WithDefaultKwargs supplies default values for keyword placeholders not
// passed at call time.
func WithDefaultKwargs(kw KwArgs) Option {
	return func(o *nodeOptions) { o.defaultKwargs = kw }
}

// defaultNodeOptions returns the zero configuration: no caching, no
// logging, no keyword defaults.
func defaultNodeOptions() nodeOptions {
	return nodeOptions{logger: zerolog.Nop()}
}

// jacobianOptions configures one Jacobian computation.
type jacobianOptions struct {
	which  []int
	method Method
	step   float64
	order  int
	kwargs KwArgs
}

// JacobianOption configures a Jacobian call.
type JacobianOption func(*jacobianOptions)

// WithWhich restricts the Jacobian to the given free-parameter indices.
// nil (the default) means all free parameters, in index order.
func WithWhich(which []int) JacobianOption {
	return func(o *jacobianOptions) { o.which = which }
}

// WithMethod selects the gradient method; default MethodBest.
func WithMethod(m Method) JacobianOption {
	return func(o *jacobianOptions) { o.method = m }
}

// WithStep sets the finite-difference step size h; default 1e-7.
func WithStep(h float64) JacobianOption {
	return func(o *jacobianOptions) { o.step = h }
}

// WithOrder sets the finite-difference order, 1 or 2; default 1.
func WithOrder(order int) JacobianOption {
	return func(o *jacobianOptions) { o.order = order }
}

// WithKwargs forwards keyword arguments to the circuit during
// differentiation.
func WithKwargs(kw KwArgs) JacobianOption {
	return func(o *jacobianOptions) { o.kwargs = kw }
}

// defaultJacobianOptions returns the documented defaults.
func defaultJacobianOptions() jacobianOptions {
	return jacobianOptions{method: MethodBest, step: DefaultStep, order: DefaultOrder}
}
