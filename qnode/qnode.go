package qnode

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qgrad/qgrad/device"
	"github.com/qgrad/qgrad/operation"
	"github.com/qgrad/qgrad/variable"
)

// Builder is a circuit function: it receives its positional arguments with
// every real replaced by a parameter slot, and its keyword values as named
// slot structures, constructs operations (which record themselves into the
// active trace), and returns the measured observable(s).
type Builder func(args Args, kwargs KwArgs) (any, error)

// QuantumNode binds a circuit builder to a device and exposes evaluation
// and differentiation of the traced circuit.
//
// Evaluations are synchronous and single-threaded: the construction context
// and the parameter binding are process-scoped, so concurrent calls on one
// process must be serialized by the caller.
type QuantumNode struct {
	fn            Builder
	dev           device.Device
	cache         bool
	defaultKwargs KwArgs
	log           zerolog.Logger

	// numVariables is the flat free-parameter count of the current tape,
	// or -1 before the first trace.
	numVariables int
	tape         *Tape
}

// New binds builder fn to dev. With caching enabled the circuit is traced
// once and reused while the flat argument length is unchanged; without it,
// every evaluation retraces.
func New(fn Builder, dev device.Device, opts ...Option) *QuantumNode {
	o := defaultNodeOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &QuantumNode{
		fn:            fn,
		dev:           dev,
		cache:         o.cache,
		defaultKwargs: o.defaultKwargs,
		log:           o.logger.With().Str("qnode", uuid.NewString()).Str("device", dev.ShortName()).Logger(),
		numVariables:  -1,
	}
}

// Device returns the bound device.
func (n *QuantumNode) Device() device.Device { return n.dev }

// NumVariables returns the flat free-parameter count of the current tape,
// or -1 before the first trace.
func (n *QuantumNode) NumVariables() int { return n.numVariables }

// Tape returns the current tape; nil before the first trace.
func (n *QuantumNode) Tape() *Tape { return n.tape }

// Evaluate runs the circuit at args and returns the measured value(s):
// a float64 for a single expectation/variance, a sample vector for a
// single sample observable, a []float64 for a sequence of scalar
// measurements, a [][]float64 when every output samples, and a []any when
// sample and scalar outputs mix.
//
// The tape is (re)built when absent, when caching is off, or when the flat
// argument length changed.
func (n *QuantumNode) Evaluate(args Args, kwargs KwArgs) (any, error) {
	flat, err := Flatten(args)
	if err != nil {
		return nil, err
	}
	if n.tape == nil || !n.cache || len(flat) != n.numVariables {
		if err = n.construct(args, kwargs); err != nil {
			return nil, err
		}
	}
	results, err := n.run(flat, kwargs)
	if err != nil {
		return nil, err
	}

	return n.convert(results)
}

// evalShifted evaluates the circuit on a flat parameter vector, used by the
// gradient engine for shifted evaluations. Extended vectors (carrying a
// temporary substitution slot) never trigger a retrace; vectors of the
// tape's own length behave like Evaluate.
func (n *QuantumNode) evalShifted(flat []float64, kwargs KwArgs) ([]float64, error) {
	if !n.cache && n.numVariables >= 0 && len(flat) == n.numVariables {
		shaped, err := UnflattenFloats(flat, n.tape.Model)
		if err != nil {
			return nil, err
		}
		args, ok := shaped.(Args)
		if !ok {
			return nil, fmt.Errorf("qnode: evaluate: %w", ErrArgStructure)
		}
		if err = n.construct(args, kwargs); err != nil {
			return nil, err
		}
	}
	results, err := n.run(flat, kwargs)
	if err != nil {
		return nil, err
	}

	return toVector(results)
}

// EvaluateObs measures an alternate observable list against the
// already-constructed tape at the given flat parameters. The gradient
// engine uses it to evaluate transformed observables; the tape itself is
// untouched.
func (n *QuantumNode) EvaluateObs(obs []*operation.Operation, flat []float64, kwargs KwArgs) ([]float64, error) {
	kwFlat, err := n.flattenKwargs(kwargs)
	if err != nil {
		return nil, err
	}
	variable.Bind(variable.Binding{Free: flat, Kwargs: kwFlat})
	defer variable.Unbind()

	n.dev.Reset()
	results, err := device.Execute(n.dev, n.tape.Gates, obs, n.tape.VarOps)
	if err != nil {
		return nil, err
	}

	return toVector(results)
}

// run installs the parameter binding, validates wires, and executes the
// tape on the device.
func (n *QuantumNode) run(flat []float64, kwargs KwArgs) ([]device.Result, error) {
	// 1. Flatten keyword values (defaults overridden by call-time kwargs)
	kwFlat, err := n.flattenKwargs(kwargs)
	if err != nil {
		return nil, err
	}

	// 2. Install the binding for the critical section of this evaluation
	variable.Bind(variable.Binding{Free: flat, Kwargs: kwFlat})
	defer variable.Unbind()

	// 3. Reset the device; no state crosses evaluations
	n.dev.Reset()

	// 4. Wire validity: measured once, and within the device range
	if err = n.checkWires(); err != nil {
		return nil, err
	}

	// 5. Hand the tape to the device
	return device.Execute(n.dev, n.tape.Gates, n.tape.Observables, n.tape.VarOps)
}

// flattenKwargs merges call-time kwargs over defaults and flattens each
// value for the binding.
func (n *QuantumNode) flattenKwargs(kwargs KwArgs) (map[string][]float64, error) {
	merged := make(KwArgs, len(n.defaultKwargs)+len(kwargs))
	for k, v := range n.defaultKwargs {
		merged[k] = v
	}
	for k, v := range kwargs {
		merged[k] = v
	}
	out := make(map[string][]float64, len(merged))
	for k, v := range merged {
		fv, err := Flatten(v)
		if err != nil {
			return nil, fmt.Errorf("qnode: keyword %q: %w", k, err)
		}
		out[k] = fv
	}

	return out, nil
}

// checkWires verifies that no wire is measured twice and that every
// operation's wires lie inside the device range.
func (n *QuantumNode) checkWires() error {
	seen := make(map[int]bool)
	for _, obs := range n.tape.Observables {
		for _, w := range obs.Wires {
			if seen[w] {
				return fmt.Errorf("%w (wire %d)", ErrWireRepeat, w)
			}
			seen[w] = true
		}
	}
	limit := n.dev.NumWires()
	for i := 0; i < n.tape.size(); i++ {
		op := n.tape.at(i)
		for _, w := range op.Wires {
			if w < 0 || w >= limit {
				return fmt.Errorf("%w (operation %s, wire %d, device has %d wires)",
					ErrWireRange, op.Name(), w, limit)
			}
		}
	}

	return nil
}

// convert shapes raw device results into the node's output form.
func (n *QuantumNode) convert(results []device.Result) (any, error) {
	if len(results) != n.tape.OutputDim {
		return nil, fmt.Errorf("qnode: convert: %w", ErrShapeInternal)
	}
	if n.tape.ScalarOutput {
		r := results[0]
		if r.Kind == operation.ReturnSample {
			return r.Samples, nil
		}

		return r.Value, nil
	}

	hasSample, allSample := false, true
	for _, r := range results {
		if r.Kind == operation.ReturnSample {
			hasSample = true
		} else {
			allSample = false
		}
	}
	switch {
	case !hasSample:
		out := make([]float64, len(results))
		for i, r := range results {
			out[i] = r.Value
		}

		return out, nil
	case allSample:
		out := make([][]float64, len(results))
		for i, r := range results {
			out[i] = r.Samples
		}

		return out, nil
	default:
		// heterogeneous output: samples and scalars mixed
		out := make([]any, len(results))
		for i, r := range results {
			if r.Kind == operation.ReturnSample {
				out[i] = r.Samples
			} else {
				out[i] = r.Value
			}
		}

		return out, nil
	}
}

// toVector converts scalar device results to a plain vector; sampling
// results cannot be vectorized.
func toVector(results []device.Result) ([]float64, error) {
	out := make([]float64, len(results))
	for i, r := range results {
		if r.Kind == operation.ReturnSample {
			return nil, ErrSampleDifferentiation
		}
		out[i] = r.Value
	}

	return out, nil
}
