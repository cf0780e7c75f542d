package qnode

import (
	"fmt"

	"github.com/qgrad/qgrad/operation"
	"github.com/qgrad/qgrad/variable"
)

// trace is the construction context recording one builder invocation.
// It is installed as the exclusive operation recorder for the duration of
// the call and collects a sticky error so that misuse inside the builder
// fails the whole construction even if the builder ignores constructor
// errors.
type trace struct {
	queue []*operation.Operation
	ev    []*operation.Operation
	err   error
}

// fail records the first misuse error.
func (t *trace) fail(err error) error {
	if t.err == nil {
		t.err = err
	}

	return err
}

// Enqueue appends a freshly constructed operation: observables without a
// return type park in the gate queue; gates after a measured observable are
// rejected.
func (t *trace) Enqueue(op *operation.Operation) error {
	if op.Desc.Kind() == operation.KindObservable {
		if op.Return == operation.ReturnNone {
			t.queue = append(t.queue, op)
		} else {
			t.ev = append(t.ev, op)
		}

		return nil
	}
	if len(t.ev) > 0 {
		return t.fail(ErrGateAfterMeasure)
	}
	t.queue = append(t.queue, op)

	return nil
}

// Promote moves a queued observable into the measured set after a
// measurement wrapper assigned its return type.
func (t *trace) Promote(op *operation.Operation) error {
	for i := len(t.queue) - 1; i >= 0; i-- {
		if t.queue[i] == op {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			break
		}
	}
	t.ev = append(t.ev, op)

	return nil
}

// construct traces the builder into a fresh tape: it replaces every flat
// argument with a positional slot and every keyword value with named slots,
// runs the builder under the exclusive recorder, validates the returned
// observables, and builds the free-parameter site index and per-parameter
// gradient methods.
func (n *QuantumNode) construct(args Args, kwargs KwArgs) error {
	// 1. Flatten arguments and allocate one slot per free parameter
	flat, err := Flatten(args)
	if err != nil {
		return err
	}
	slots := make([]any, len(flat))
	for i := range slots {
		slots[i] = variable.New(i)
	}
	shaped, err := Unflatten(slots, args)
	if err != nil {
		return err
	}
	shapedArgs, ok := shaped.(Args)
	if !ok {
		return fmt.Errorf("qnode: construct: %w", ErrArgStructure)
	}

	// 2. Merge keyword values over defaults and wrap them in named slots so
	// cached tapes can see fresh values without retracing
	keywordValues := make(KwArgs, len(n.defaultKwargs)+len(kwargs))
	for k, v := range n.defaultKwargs {
		keywordValues[k] = v
	}
	for k, v := range kwargs {
		keywordValues[k] = v
	}
	kwargSlots := make(KwArgs, len(keywordValues))
	for name, val := range keywordValues {
		kv, kerr := Flatten(val)
		if kerr != nil {
			return kerr
		}
		leaves := make([]any, len(kv))
		for i := range leaves {
			leaves[i] = variable.Keyword(name, i)
		}
		shapedKw, kerr := Unflatten(leaves, val)
		if kerr != nil {
			return kerr
		}
		kwargSlots[name] = shapedKw
	}

	// 3. Run the builder under the exclusive construction context
	t := &trace{}
	if err = operation.SetRecorder(t); err != nil {
		return fmt.Errorf("%w: %w", ErrTraceActive, err)
	}
	res, ferr := func() (any, error) {
		defer operation.ClearRecorder()

		return n.fn(shapedArgs, kwargSlots)
	}()
	if ferr != nil {
		return ferr
	}
	if t.err != nil {
		return t.err
	}

	// 4. Validate the builder's return value
	var returned []*operation.Operation
	scalar := false
	switch r := res.(type) {
	case *operation.Operation:
		returned = []*operation.Operation{r}
		scalar = true
	case []*operation.Operation:
		if len(r) == 0 {
			return ErrReturnShape
		}
		returned = r
	default:
		return ErrReturnShape
	}
	for _, obs := range returned {
		if obs == nil || obs.Desc.Kind() != operation.KindObservable {
			return ErrReturnShape
		}
		if obs.Return == operation.ReturnNone {
			return fmt.Errorf("%w (observable %s)", ErrMissingReturnType, obs.Name())
		}
	}
	if len(returned) != len(t.ev) {
		return ErrReturnOrder
	}
	for i, obs := range returned {
		if obs != t.ev[i] {
			return ErrReturnOrder
		}
	}

	// 5. Classify the circuit family, ignoring identities
	tape := &Tape{
		Gates:        t.queue,
		Observables:  returned,
		OutputDim:    len(returned),
		ScalarOutput: scalar,
		Model:        args,
	}
	if tape.Family, err = classify(tape); err != nil {
		return err
	}

	// 6. Index every use site of every positional slot
	tape.VarOps = make(map[int][]operation.ParamSite)
	for k := 0; k < tape.size(); k++ {
		op := tape.at(k)
		for pi, p := range op.Params {
			if s, sok := p.(variable.Slot); sok && !s.Keyworded() {
				tape.VarOps[s.Idx] = append(tape.VarOps[s.Idx], operation.ParamSite{Op: k, Param: pi})
			}
		}
	}

	// 7. Select the gradient method for every free parameter in use
	tape.GradMethods = make(map[int]operation.GradMethod, len(tape.VarOps))
	for idx := range tape.VarOps {
		tape.GradMethods[idx] = bestMethod(tape, idx)
	}

	n.tape = tape
	n.numVariables = len(flat)
	n.log.Debug().
		Int("gates", len(tape.Gates)).
		Int("observables", len(tape.Observables)).
		Int("free_parameters", len(flat)).
		Msg("circuit traced")

	return nil
}

// classify determines the tape family: all-qubit or all-CV, identities
// ignored; a mix is a quantum-function error.
func classify(t *Tape) (operation.Family, error) {
	sawQubit, sawCV := false, false
	for i := 0; i < t.size(); i++ {
		op := t.at(i)
		if op.Name() == "Identity" {
			continue
		}
		if op.Desc.Family() == operation.FamilyCV {
			sawCV = true
		} else {
			sawQubit = true
		}
	}
	if sawQubit && sawCV {
		return 0, ErrMixedFamilies
	}
	if sawCV {
		return operation.FamilyCV, nil
	}

	return operation.FamilyQubit, nil
}
