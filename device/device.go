// Package device defines the backend contract of the differentiation
// engine and the generic execute loop that drives any conforming backend:
// validity checking, optional lifecycle hooks, ordered gate application,
// and per-return-type measurement.
//
// A device never sees symbolic parameters: the executor resolves every
// slot through the process-scoped binding before calling Apply/Expval/
// Var/Sample. Execute does not call Reset itself; its caller (package
// qnode) resets the device before every execute cycle, so no state is
// carried between evaluations.
//
// Errors:
//
//   - ErrUnsupported   if a gate or observable is not in the device's sets
//   - ErrSampleCount   if a sample observable carries no sample count
//   - ErrReturnType    if a returned observable has an unknown return type
package device

import (
	"errors"
	"fmt"

	"github.com/qgrad/qgrad/operation"
)

// Sentinel errors raised by the execute loop.
var (
	// ErrUnsupported indicates an operation or observable outside the
	// device's supported sets.
	ErrUnsupported = errors.New("device: not supported")

	// ErrSampleCount indicates a sample observable without a sample count.
	ErrSampleCount = errors.New("device: number of samples not specified")

	// ErrReturnType indicates a returned observable with an unsupported
	// return type.
	ErrReturnType = errors.New("device: unsupported return type")
)

// Device is the contract every backend must satisfy. Identity accessors
// describe the plugin; NumWires and Shots describe the bound instance.
// Execute-cycle methods (Reset, Apply, Expval, Var, Sample) are called by
// the executor only, in tape order, with fully resolved parameters.
type Device interface {
	// Name is the full device name.
	Name() string

	// ShortName is the string used to load the device.
	ShortName() string

	// Version is the plugin version.
	Version() string

	// Author identifies the plugin author(s).
	Author() string

	// APIVersion is the engine API version the plugin targets.
	APIVersion() string

	// NumWires is the number of subsystems the device simulates or controls.
	NumWires() int

	// Shots is the number of circuit evaluations used to estimate
	// expectation values; 0 means exact.
	Shots() int

	// Operations lists the supported gate/state-preparation names.
	Operations() []string

	// Observables lists the supported observable names.
	Observables() []string

	// SupportsOperation reports whether the named operation is supported.
	SupportsOperation(name string) bool

	// SupportsObservable reports whether the named observable is supported.
	SupportsObservable(name string) bool

	// Reset returns the device to its vacuum/ground state.
	Reset()

	// Apply applies the named operation to wires with the given parameters.
	Apply(name string, wires []int, params []float64) error

	// Expval returns the expectation value of the named observable.
	Expval(name string, wires []int, params []float64) (float64, error)

	// Var returns the variance of the named observable.
	Var(name string, wires []int, params []float64) (float64, error)

	// Sample returns n samples of the named observable.
	Sample(name string, wires []int, params []float64, n int) ([]float64, error)
}

// Optional lifecycle hooks, discovered by the executor per execute cycle.
type (
	// PreApplier runs before the first gate is applied.
	PreApplier interface{ PreApply() }

	// PostApplier runs after the last gate is applied.
	PostApplier interface{ PostApply() }

	// PreMeasurer runs before the first observable is measured.
	PreMeasurer interface{ PreMeasure() }

	// PostMeasurer runs after the last observable is measured.
	PostMeasurer interface{ PostMeasure() }

	// ContextProvider acquires a scoped resource around the whole execute
	// cycle; release runs on every exit path.
	ContextProvider interface {
		ExecutionContext() (release func(), err error)
	}
)

// Result is one measured output: a scalar for expectations and variances,
// a sample vector for sample observables.
type Result struct {
	Kind    operation.ReturnType
	Value   float64
	Samples []float64
}

// CheckValidity fails fast with ErrUnsupported when any gate or observable
// in the tape is outside the device's supported sets. Observables parked in
// the gate queue (ReturnNone) are ignored, as the device never executes them.
func CheckValidity(d Device, gates, observables []*operation.Operation) error {
	for _, op := range gates {
		if op.Desc.Kind() == operation.KindObservable {
			continue
		}
		if !d.SupportsOperation(op.Name()) {
			return fmt.Errorf("device: gate %s on device %s: %w", op.Name(), d.ShortName(), ErrUnsupported)
		}
	}
	for _, obs := range observables {
		if !d.SupportsObservable(obs.Name()) {
			return fmt.Errorf("device: observable %s on device %s: %w", obs.Name(), d.ShortName(), ErrUnsupported)
		}
	}

	return nil
}

// Execute runs the tape on d: validity check, optional execution context
// and hooks, gates applied in order, observables measured in order
// according to their return type. varOps is the free-parameter map some
// backends use for batching; simulators may ignore it.
//
// The caller must have installed the parameter binding: every symbolic
// parameter is resolved here, immediately before the device consumes it.
func Execute(d Device, gates, observables []*operation.Operation, varOps map[int][]operation.ParamSite) (results []Result, err error) {
	// 1. Fail fast on unsupported circuit contents
	if err = CheckValidity(d, gates, observables); err != nil {
		return nil, err
	}

	// 2. Acquire the execution context when the device provides one
	if cp, ok := d.(ContextProvider); ok {
		release, cerr := cp.ExecutionContext()
		if cerr != nil {
			return nil, fmt.Errorf("device: execution context: %w", cerr)
		}
		defer release()
	}

	// 3. Apply the gate queue in order
	if h, ok := d.(PreApplier); ok {
		h.PreApply()
	}
	var params []float64
	for _, op := range gates {
		if op.Desc.Kind() == operation.KindObservable {
			// unmeasured observable parked in the queue; nothing to apply
			continue
		}
		if params, err = op.ResolvedParams(); err != nil {
			return nil, err
		}
		if err = d.Apply(op.Name(), op.Wires, params); err != nil {
			return nil, fmt.Errorf("device: apply %s: %w", op.Name(), err)
		}
	}
	if h, ok := d.(PostApplier); ok {
		h.PostApply()
	}

	// 4. Measure each returned observable according to its return type
	if h, ok := d.(PreMeasurer); ok {
		h.PreMeasure()
	}
	results = make([]Result, 0, len(observables))
	for _, obs := range observables {
		if params, err = obs.ResolvedParams(); err != nil {
			return nil, err
		}
		switch obs.Return {
		case operation.ReturnExpectation:
			v, merr := d.Expval(obs.Name(), obs.Wires, params)
			if merr != nil {
				return nil, fmt.Errorf("device: expval %s: %w", obs.Name(), merr)
			}
			results = append(results, Result{Kind: operation.ReturnExpectation, Value: v})
		case operation.ReturnVariance:
			v, merr := d.Var(obs.Name(), obs.Wires, params)
			if merr != nil {
				return nil, fmt.Errorf("device: var %s: %w", obs.Name(), merr)
			}
			results = append(results, Result{Kind: operation.ReturnVariance, Value: v})
		case operation.ReturnSample:
			if obs.SampleCount <= 0 {
				return nil, fmt.Errorf("device: observable %s: %w", obs.Name(), ErrSampleCount)
			}
			s, merr := d.Sample(obs.Name(), obs.Wires, params, obs.SampleCount)
			if merr != nil {
				return nil, fmt.Errorf("device: sample %s: %w", obs.Name(), merr)
			}
			results = append(results, Result{Kind: operation.ReturnSample, Samples: s})
		default:
			return nil, fmt.Errorf("device: observable %s: %w", obs.Name(), ErrReturnType)
		}
	}
	if h, ok := d.(PostMeasurer); ok {
		h.PostMeasure()
	}

	return results, nil
}
