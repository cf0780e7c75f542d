// Gradient engine: per-parameter method selection, finite differences,
// the parameter-shift rule, the order-2 Heisenberg rule for Gaussian
// circuits, and the variance shift rule layered on top.
package qnode

import (
	"fmt"

	"github.com/qgrad/qgrad/matrix"
	"github.com/qgrad/qgrad/operation"
	"github.com/qgrad/qgrad/ops"
	"github.com/qgrad/qgrad/variable"
)

// bestMethod selects the gradient method for free parameter idx: analytic
// iff every operation touching it is analytically differentiable, none if
// any forbids differentiation, finite otherwise.
func bestMethod(t *Tape, idx int) operation.GradMethod {
	sites := t.VarOps[idx]
	all := operation.GradAnalytic
	for _, site := range sites {
		m := bestForOp(t, site.Op)
		if m == operation.GradNone {
			return operation.GradNone
		}
		if m != operation.GradAnalytic {
			all = operation.GradFinite
		}
	}

	return all
}

// bestForOp determines the best method for one operation of the tape.
// For qubit operations the descriptor hint decides alone. A Gaussian CV
// operation with an analytic hint additionally requires every subsequent
// non-observable to expose a Heisenberg transformation and every returned
// observable to have a polynomial quadrature form; a second-order
// expectation upgrades the operation to the order-2 rule (a per-tape flag),
// while a second-order variance or a non-polynomial observable degrades it
// to finite differences.
func bestForOp(t *Tape, opIdx int) operation.GradMethod {
	op := t.at(opIdx)
	if op.Desc.Family() != operation.FamilyCV {
		return op.Desc.GradMethod()
	}
	if op.Desc.GradMethod() != operation.GradAnalytic {
		return op.Desc.GradMethod()
	}
	for _, g := range t.successors(opIdx, false) {
		if !g.Desc.SupportsHeisenberg() {
			return operation.GradFinite
		}
	}
	for _, e := range t.successors(opIdx, true) {
		switch e.Desc.EVOrder() {
		case 1:
			// first-order observables keep the plain analytic rule
		case 2:
			if e.Return == operation.ReturnVariance {
				// analytic differentiation of second-order variances is
				// not supported
				return operation.GradFinite
			}
			op.MarkAnalyticOrder2()
		default:
			return operation.GradFinite
		}
	}

	return operation.GradAnalytic
}

// Jacobian computes the Jacobian of the circuit outputs with respect to
// the flat free parameters at params, with shape
// (output dimension) × (number of requested parameters).
//
// Method selection: MethodBest picks the per-parameter best method;
// MethodAnalytic fails for parameters whose best method is finite or none;
// MethodFinite evaluates numeric differences of the requested order.
// Columns of parameters the circuit never uses are zero.
func (n *QuantumNode) Jacobian(params Args, jopts ...JacobianOption) (*matrix.Dense, error) {
	o := defaultJacobianOptions()
	for _, opt := range jopts {
		opt(&o)
	}
	if o.order != 1 && o.order != 2 {
		return nil, fmt.Errorf("%w (got %d)", ErrFiniteOrder, o.order)
	}

	// 1. (Re)build the tape when required
	flat, err := Flatten(params)
	if err != nil {
		return nil, err
	}
	if n.tape == nil || !n.cache || len(flat) != n.numVariables {
		if err = n.construct(params, o.kwargs); err != nil {
			return nil, err
		}
	}

	// 2. Sampling circuits have no Jacobian
	for _, e := range n.tape.Observables {
		if e.Return == operation.ReturnSample {
			return nil, fmt.Errorf("%w (observable %s)", ErrSampleDifferentiation, e.Name())
		}
	}

	// 3. Resolve and validate the requested parameter set
	which := o.which
	if which == nil {
		which = make([]int, n.numVariables)
		for i := range which {
			which[i] = i
		}
	} else {
		seen := make(map[int]bool, len(which))
		for _, k := range which {
			if k < 0 || k >= n.numVariables {
				return nil, fmt.Errorf("%w (index %d of %d free parameters)", ErrWhichRange, k, n.numVariables)
			}
			if seen[k] {
				return nil, fmt.Errorf("%w (index %d)", ErrWhichDuplicate, k)
			}
			seen[k] = true
		}
	}
	if len(which) == 0 {
		return nil, fmt.Errorf("%w (empty parameter set)", ErrWhichRange)
	}

	// 4. Pick the method for every requested parameter
	methods := make(map[int]operation.GradMethod, len(which))
	for _, k := range which {
		best, used := n.tape.GradMethods[k]
		if !used {
			continue // unused parameter: zero column
		}
		if best == operation.GradNone {
			return nil, fmt.Errorf("%w (parameter %d)", ErrNonDifferentiable, k)
		}
		switch o.method {
		case MethodBest:
			methods[k] = best
		case MethodAnalytic:
			if best == operation.GradFinite {
				return nil, fmt.Errorf("%w (parameter %d)", ErrMethodMismatch, k)
			}
			methods[k] = operation.GradAnalytic
		case MethodFinite:
			methods[k] = operation.GradFinite
		default:
			return nil, ErrUnknownMethod
		}
	}

	// 5. The unshifted value is shared across first-order difference columns
	var y0 []float64
	if o.order == 1 {
		for _, m := range methods {
			if m == operation.GradFinite {
				if y0, err = n.evalShifted(flat, o.kwargs); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	variances := n.tape.hasVariances()

	// 6. Fill the Jacobian column by column
	grad, err := matrix.New(n.tape.OutputDim, len(which))
	if err != nil {
		return nil, err
	}
	var col []float64
	for i, k := range which {
		m, used := methods[k]
		if !used {
			continue
		}
		switch m {
		case operation.GradAnalytic:
			if variances {
				col, err = n.pdAnalyticVar(flat, k, o.kwargs)
			} else {
				col, err = n.pdAnalytic(flat, k, false, o.kwargs)
			}
		case operation.GradFinite:
			col, err = n.pdFiniteDiff(flat, k, o.step, o.order, y0, o.kwargs)
		default:
			return nil, ErrUnknownMethod
		}
		if err != nil {
			return nil, err
		}
		if len(col) != n.tape.OutputDim {
			return nil, fmt.Errorf("qnode: jacobian column %d: %w", k, ErrShapeInternal)
		}
		for j, v := range col {
			if err = grad.Set(j, i, v); err != nil {
				return nil, err
			}
		}
		n.log.Debug().Int("parameter", k).Stringer("method", m).Msg("jacobian column computed")
	}

	return grad, nil
}

// pdFiniteDiff computes one Jacobian column by finite differences: forward
// difference against the shared unshifted value for order 1, central
// difference for order 2.
func (n *QuantumNode) pdFiniteDiff(flat []float64, idx int, h float64, order int, y0 []float64, kwargs KwArgs) ([]float64, error) {
	shifted := make([]float64, len(flat))
	copy(shifted, flat)

	switch order {
	case 1:
		shifted[idx] += h
		y, err := n.evalShifted(shifted, kwargs)
		if err != nil {
			return nil, err
		}
		col := make([]float64, len(y))
		for j := range y {
			col[j] = (y[j] - y0[j]) / h
		}

		return col, nil
	case 2:
		shifted[idx] = flat[idx] + 0.5*h
		y2, err := n.evalShifted(shifted, kwargs)
		if err != nil {
			return nil, err
		}
		shifted[idx] = flat[idx] - 0.5*h
		y1, err := n.evalShifted(shifted, kwargs)
		if err != nil {
			return nil, err
		}
		col := make([]float64, len(y2))
		for j := range y2 {
			col[j] = (y2[j] - y1[j]) / h
		}

		return col, nil
	default:
		return nil, fmt.Errorf("%w (got %d)", ErrFiniteOrder, order)
	}
}

// pdAnalytic computes one Jacobian column with the analytic method,
// summing over every use site of the parameter (the product rule over
// fan-out). Each site is evaluated with the site's parameter temporarily
// substituted by a fresh slot at the first unused index, so shifting it
// does not disturb other operations sharing the original slot; the
// substitution is restored on every exit path.
//
// forceOrder2 forces the Heisenberg order-2 branch regardless of the
// operation's per-tape flag (the CV variance rule needs it for the
// squared observables it builds).
func (n *QuantumNode) pdAnalytic(flat []float64, idx int, forceOrder2 bool, kwargs KwArgs) ([]float64, error) {
	pd := make([]float64, n.tape.OutputDim)
	for _, site := range n.tape.VarOps[idx] {
		if err := n.pdAnalyticSite(pd, flat, idx, site, forceOrder2, kwargs); err != nil {
			return nil, err
		}
	}

	return pd, nil
}

// pdAnalyticSite accumulates the contribution of one use site into pd.
func (n *QuantumNode) pdAnalyticSite(pd, flat []float64, idx int, site operation.ParamSite, forceOrder2 bool, kwargs KwArgs) error {
	op := n.tape.at(site.Op)
	orig, ok := op.Params[site.Param].(variable.Slot)
	if !ok || orig.Idx != idx || orig.Keyworded() {
		return fmt.Errorf("qnode: parameter %d of %s: %w", site.Param, op.Name(), operation.ErrSlotMismatch)
	}

	// temporary slot at the first unused index, scale preserved
	temp := orig
	temp.Idx = n.numVariables
	restore, err := op.SubstituteParam(site.Param, temp)
	if err != nil {
		return err
	}
	defer restore()

	mult, shift := op.Desc.GradRecipe(site.Param)
	mult *= orig.Mult
	shift /= orig.Mult

	shiftP1 := extend(flat, flat[idx]+shift)
	shiftP2 := extend(flat, flat[idx]-shift)

	if !forceOrder2 && !op.AnalyticOrder2() {
		// two-point shift rule on the circuit output
		y2, eerr := n.evalShifted(shiftP1, kwargs)
		if eerr != nil {
			return eerr
		}
		y1, eerr := n.evalShifted(shiftP2, kwargs)
		if eerr != nil {
			return eerr
		}
		for j := range pd {
			pd[j] += (y2[j] - y1[j]) * mult
		}

		return nil
	}

	return n.pdHeisenberg(pd, site, shiftP1, shiftP2, extend(flat, flat[idx]), mult, kwargs)
}

// pdHeisenberg accumulates one site's contribution via the order-2
// Heisenberg rule: build the derivative of the operation's symplectic
// transformation from the two shifted bindings, conjugate it through every
// subsequent Gaussian operation, transform each returned observable, and
// measure the transformed set at the unshifted binding.
func (n *QuantumNode) pdHeisenberg(pd []float64, site operation.ParamSite, shiftP1, shiftP2, unshifted []float64, mult float64, kwargs KwArgs) error {
	op := n.tape.at(site.Op)
	w := n.dev.NumWires()
	kwFlat, err := n.flattenKwargs(kwargs)
	if err != nil {
		return err
	}
	bind := func(free []float64) {
		variable.Bind(variable.Binding{Free: free, Kwargs: kwFlat})
	}
	defer variable.Unbind()

	// 1. Derivative of the operation's symplectic from the shift rule
	bind(shiftP1)
	z2, err := op.HeisenbergTr(w, false)
	if err != nil {
		return err
	}
	bind(shiftP2)
	z1, err := op.HeisenbergTr(w, false)
	if err != nil {
		return err
	}
	zd, err := z2.Sub(z1)
	if err != nil {
		return err
	}
	zd = zd.Scale(mult)

	// 2. Right-multiply by the inverse at the unshifted binding
	bind(unshifted)
	z0, err := op.HeisenbergTr(w, true)
	if err != nil {
		return err
	}
	z, err := zd.Mul(z0)
	if err != nil {
		return err
	}

	// 3. Conjugate through every subsequent non-observable operation
	b := matrix.Identity(1 + 2*w)
	bInv := matrix.Identity(1 + 2*w)
	for _, succ := range n.tape.successors(site.Op, false) {
		tr, terr := succ.HeisenbergTr(w, false)
		if terr != nil {
			return terr
		}
		if b, terr = tr.Mul(b); terr != nil {
			return terr
		}
		trInv, terr := succ.HeisenbergTr(w, true)
		if terr != nil {
			return terr
		}
		if bInv, terr = bInv.Mul(trInv); terr != nil {
			return terr
		}
	}
	if z, err = b.Mul(z); err != nil {
		return err
	}
	if z, err = z.Mul(bInv); err != nil {
		return err
	}

	// 4. Transform every returned observable and measure the new set
	allWires := wireRange(w)
	obs := make([]*operation.Operation, 0, len(n.tape.Observables))
	for _, e := range n.tape.Observables {
		q, oerr := e.HeisenbergObs(w)
		if oerr != nil {
			return oerr
		}
		qp, oerr := q.Mul(z)
		if oerr != nil {
			return oerr
		}
		var m *matrix.Dense
		if qp.Rows() > 1 {
			// second-order observable: symmetrize the transformed matrix
			if m, oerr = qp.Symmetrize(); oerr != nil {
				return oerr
			}
		} else {
			// first-order observable: embed the row vector as the linear
			// part of a polynomial observable
			if m, oerr = matrix.New(1+2*w, 1+2*w); oerr != nil {
				return oerr
			}
			for c := 0; c < qp.Cols(); c++ {
				v, aerr := qp.At(0, c)
				if aerr != nil {
					return aerr
				}
				if aerr = m.Set(0, c, v); aerr != nil {
					return aerr
				}
			}
		}
		poly, oerr := ops.PolyXP(m, allWires)
		if oerr != nil {
			return oerr
		}
		obs = append(obs, poly)
	}

	vals, err := n.EvaluateObs(obs, unshifted, kwargs)
	if err != nil {
		return err
	}
	for j := range pd {
		pd[j] += vals[j]
	}

	return nil
}

// pdAnalyticVar computes one Jacobian column for circuits returning
// variances: ∂Var(A)/∂θ = ∂⟨A²⟩/∂θ − 2⟨A⟩·∂⟨A⟩/∂θ, assembled with a
// boolean mask selecting the variance rule where applicable.
//
// Every variance observable is temporarily measured as an expectation and,
// where ⟨A²⟩ is non-trivial, swapped for an expectation of the squared
// observable. Caching is forced on for the duration so that no retrace
// overwrites the mutated observable list; the previous setting and the
// observable list are restored on every exit path.
func (n *QuantumNode) pdAnalyticVar(flat []float64, idx int, kwargs KwArgs) ([]float64, error) {
	tape := n.tape
	ev := tape.Observables
	w := n.dev.NumWires()

	// 1. Force caching and snapshot the observable list and return types
	savedCache := n.cache
	n.cache = true
	savedObs := make([]*operation.Operation, len(ev))
	copy(savedObs, ev)
	savedReturns := make([]operation.ReturnType, len(ev))
	for i, e := range ev {
		savedReturns[i] = e.Return
	}
	defer func() {
		for i := range ev {
			ev[i] = savedObs[i]
			savedObs[i].Return = savedReturns[i]
		}
		n.cache = savedCache
	}()

	// 2. Swap every variance for an expectation; square where needed
	kwFlat, err := n.flattenKwargs(kwargs)
	if err != nil {
		return nil, err
	}
	variable.Bind(variable.Binding{Free: flat, Kwargs: kwFlat})
	whereVar := make([]bool, len(ev))
	squared := make([]bool, len(ev))
	for i, e := range ev {
		if savedReturns[i] != operation.ReturnVariance {
			continue
		}
		whereVar[i] = true
		e.Return = operation.ReturnExpectation

		if tape.Family == operation.FamilyQubit {
			// involutory qubit observables have A² = 1, so ∂⟨A²⟩ = 0;
			// only non-involutory Hermitians need the squared expectation
			if e.Name() != "Hermitian" {
				continue
			}
			params, perr := e.ResolvedParams()
			if perr != nil {
				variable.Unbind()

				return nil, perr
			}
			a, perr := ops.HermitianMatrix(params)
			if perr != nil {
				variable.Unbind()

				return nil, perr
			}
			a2, perr := a.Mul(a)
			if perr != nil {
				variable.Unbind()

				return nil, perr
			}
			if a2.IsIdentity(1e-9) {
				continue
			}
			sq, perr := ops.HermitianSquared(a, e.Wires[0])
			if perr != nil {
				variable.Unbind()

				return nil, perr
			}
			ev[i] = sq
			squared[i] = true

			continue
		}

		// CV: the square of a first-order observable is the symmetric outer
		// product of its quadrature vector, measured as a polynomial
		q, qerr := e.HeisenbergObs(w)
		if qerr != nil {
			variable.Unbind()

			return nil, qerr
		}
		m, qerr := q.Transpose().Mul(q)
		if qerr != nil {
			variable.Unbind()

			return nil, qerr
		}
		poly, qerr := ops.PolyXP(m, wireRange(w))
		if qerr != nil {
			variable.Unbind()

			return nil, qerr
		}
		ev[i] = poly
		squared[i] = true
	}
	variable.Unbind()

	// 3. Differentiate the squared set
	pdA2 := make([]float64, len(ev))
	anySquared := false
	for _, s := range squared {
		anySquared = anySquared || s
	}
	if anySquared {
		if pdA2, err = n.pdAnalytic(flat, idx, tape.Family == operation.FamilyCV, kwargs); err != nil {
			return nil, err
		}
	}

	// 4. Back to the original observables, still measured as expectations
	for i := range ev {
		if squared[i] {
			ev[i] = savedObs[i]
		}
	}

	// 5. Unshifted expectations and their derivative
	evA, err := n.evalShifted(flat, kwargs)
	if err != nil {
		return nil, err
	}
	pdA, err := n.pdAnalytic(flat, idx, false, kwargs)
	if err != nil {
		return nil, err
	}

	// 6. Assemble: variance rule where masked, expectation rule elsewhere
	col := make([]float64, len(ev))
	for j := range col {
		if whereVar[j] {
			a2 := 0.0
			if squared[j] {
				a2 = pdA2[j]
			}
			col[j] = a2 - 2*evA[j]*pdA[j]
		} else {
			col[j] = pdA[j]
		}
	}

	return col, nil
}

// extend returns flat with v appended, in fresh storage.
func extend(flat []float64, v float64) []float64 {
	out := make([]float64, len(flat)+1)
	copy(out, flat)
	out[len(flat)] = v

	return out
}

// wireRange returns [0, 1, …, w-1].
func wireRange(w int) []int {
	out := make([]int, w)
	for i := range out {
		out[i] = i
	}

	return out
}
