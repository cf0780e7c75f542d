// Package simqubit is the reference state-vector qubit simulator device.
// It implements the device contract with exact expectation values at
// shots = 0 and deterministic, seeded sampling otherwise.
//
// Wire convention: wire 0 is the most significant bit of the
// computational-basis index, so for two wires the amplitude order is
// |00⟩, |01⟩, |10⟩, |11⟩.
//
// Errors:
//
//   - ErrWireCount    if the requested wire count is outside [1, 24]
//   - ErrUnknownGate  if Apply receives an unknown operation name
//   - ErrUnknownObs   if a measurement names an unknown observable
//   - ErrBadParams    if parameter or amplitude counts do not match
package simqubit

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/qgrad/qgrad/device"
)

// Sentinel errors for the simulator.
var (
	// ErrWireCount indicates an unsupported wire count.
	ErrWireCount = errors.New("simqubit: wire count must be in [1, 24]")

	// ErrUnknownGate indicates an operation name the simulator cannot apply.
	ErrUnknownGate = errors.New("simqubit: unknown operation")

	// ErrUnknownObs indicates an observable name the simulator cannot measure.
	ErrUnknownObs = errors.New("simqubit: unknown observable")

	// ErrBadParams indicates a parameter list of the wrong size.
	ErrBadParams = errors.New("simqubit: bad parameter count")
)

// maxWires bounds the state vector to 2^24 amplitudes.
const maxWires = 24

// operationNames are the gate and state-preparation names the simulator
// supports.
var operationNames = []string{
	"BasisState", "QubitStateVector",
	"RX", "RY", "RZ", "Rot",
	"Hadamard", "PauliX", "PauliY", "PauliZ", "CNOT",
}

// observableNames are the observables the simulator can measure.
var observableNames = []string{"PauliX", "PauliY", "PauliZ", "Hermitian", "Identity"}

// Simulator is a dense state-vector qubit device.
// It satisfies the device contract consumed by the executor.
type Simulator struct {
	wires int
	shots int
	rng   *rand.Rand
	state []complex128
}

var _ device.Device = (*Simulator)(nil)

// options configures a Simulator.
type options struct {
	shots int
	seed  int64
}

// Option configures simulator construction.
type Option func(*options)

// WithShots sets the number of samples used to estimate expectation
// values; 0 (the default) returns exact values.
func WithShots(shots int) Option {
	return func(o *options) { o.shots = shots }
}

// WithSeed seeds the sampling source; the default seed 0 keeps runs
// deterministic.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// New creates a simulator over the given number of wires in the all-zero
// state.
func New(wires int, opts ...Option) (*Simulator, error) {
	if wires < 1 || wires > maxWires {
		return nil, ErrWireCount
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Simulator{
		wires: wires,
		shots: o.shots,
		rng:   rand.New(rand.NewSource(o.seed)),
		state: make([]complex128, 1<<wires),
	}
	s.Reset()

	return s, nil
}

// Device identity.

// Name is the full device name.
func (s *Simulator) Name() string { return "Default qubit state-vector simulator" }

// ShortName is the loader identity of the device.
func (s *Simulator) ShortName() string { return "default.qubit" }

// Version is the plugin version.
func (s *Simulator) Version() string { return "0.1.0" }

// Author identifies the plugin author.
func (s *Simulator) Author() string { return "qgrad developers" }

// APIVersion is the engine API version the plugin targets.
func (s *Simulator) APIVersion() string { return "0.1" }

// NumWires returns the simulated subsystem count.
func (s *Simulator) NumWires() int { return s.wires }

// Shots returns the sampling count; 0 means exact expectations.
func (s *Simulator) Shots() int { return s.shots }

// Operations lists supported gate names.
func (s *Simulator) Operations() []string { return append([]string(nil), operationNames...) }

// Observables lists supported observable names.
func (s *Simulator) Observables() []string { return append([]string(nil), observableNames...) }

// SupportsOperation reports gate support by name.
func (s *Simulator) SupportsOperation(name string) bool { return contains(operationNames, name) }

// SupportsObservable reports observable support by name.
func (s *Simulator) SupportsObservable(name string) bool { return contains(observableNames, name) }

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}

// Reset returns the register to |0…0⟩.
func (s *Simulator) Reset() {
	for i := range s.state {
		s.state[i] = 0
	}
	s.state[0] = 1
}

// Apply applies the named gate or state preparation.
func (s *Simulator) Apply(name string, wires []int, params []float64) error {
	switch name {
	case "BasisState":
		if len(params) != len(wires) {
			return fmt.Errorf("simqubit: BasisState: %w", ErrBadParams)
		}
		idx := 0
		for i, w := range wires {
			if params[i] != 0 {
				idx |= 1 << uint(s.wires-1-w)
			}
		}
		for i := range s.state {
			s.state[i] = 0
		}
		s.state[idx] = 1

		return nil
	case "QubitStateVector":
		if len(params) != 1<<len(wires) || len(wires) != s.wires {
			return fmt.Errorf("simqubit: QubitStateVector: %w", ErrBadParams)
		}
		norm := 0.0
		for _, v := range params {
			norm += v * v
		}
		if norm <= 0 {
			return fmt.Errorf("simqubit: QubitStateVector: %w", ErrBadParams)
		}
		inv := 1 / math.Sqrt(norm)
		for i, v := range params {
			s.state[i] = complex(v*inv, 0)
		}

		return nil
	case "CNOT":
		s.applyCNOT(wires[0], wires[1])

		return nil
	case "Rot":
		if len(params) != 3 {
			return fmt.Errorf("simqubit: Rot: %w", ErrBadParams)
		}
		s.applySingle(rzMatrix(params[0]), wires[0])
		s.applySingle(ryMatrix(params[1]), wires[0])
		s.applySingle(rzMatrix(params[2]), wires[0])

		return nil
	}

	u, err := gateMatrix(name, params)
	if err != nil {
		return err
	}
	s.applySingle(u, wires[0])

	return nil
}

// Expval returns the expectation value of the named observable; exact at
// shots = 0, a sampled mean otherwise.
func (s *Simulator) Expval(name string, wires []int, params []float64) (float64, error) {
	if name == "Identity" {
		return 1, nil
	}
	if s.shots > 0 {
		samples, err := s.Sample(name, wires, params, s.shots)
		if err != nil {
			return 0, err
		}

		return mean(samples), nil
	}
	a, err := obsMatrix(name, params)
	if err != nil {
		return 0, err
	}

	return s.expectation(a, wires[0]), nil
}

// Var returns the variance of the named observable.
func (s *Simulator) Var(name string, wires []int, params []float64) (float64, error) {
	if name == "Identity" {
		return 0, nil
	}
	if s.shots > 0 {
		samples, err := s.Sample(name, wires, params, s.shots)
		if err != nil {
			return 0, err
		}
		m := mean(samples)
		v := 0.0
		for _, x := range samples {
			v += (x - m) * (x - m)
		}

		return v / float64(len(samples)), nil
	}
	a, err := obsMatrix(name, params)
	if err != nil {
		return 0, err
	}
	e := s.expectation(a, wires[0])
	e2 := s.expectation(matMul2(a, a), wires[0])

	return e2 - e*e, nil
}

// Sample draws n eigenvalue samples of the named observable from the
// current state. The state does not collapse between samples.
func (s *Simulator) Sample(name string, wires []int, params []float64, n int) ([]float64, error) {
	if name == "Identity" {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}

		return out, nil
	}
	a, err := obsMatrix(name, params)
	if err != nil {
		return nil, err
	}
	lPlus, lMinus, pPlus, derr := s.eigenSplit(a, wires[0])
	if derr != nil {
		return nil, derr
	}
	out := make([]float64, n)
	for i := range out {
		if s.rng.Float64() < pPlus {
			out[i] = lPlus
		} else {
			out[i] = lMinus
		}
	}

	return out, nil
}

// expectation computes ⟨ψ|A|ψ⟩ for a single-wire observable.
func (s *Simulator) expectation(a [2][2]complex128, wire int) float64 {
	phi := make([]complex128, len(s.state))
	copy(phi, s.state)
	applyTo(phi, a, wire, s.wires)
	acc := complex(0, 0)
	for i := range phi {
		acc += cmplx.Conj(s.state[i]) * phi[i]
	}

	return real(acc)
}

// eigenSplit returns the two eigenvalues of a real-spectrum 2×2 observable
// and the probability of measuring the larger one.
func (s *Simulator) eigenSplit(a [2][2]complex128, wire int) (lPlus, lMinus, pPlus float64, err error) {
	// Hermitian 2×2: diag real, off-diagonal conjugate pair
	h00, h11 := real(a[0][0]), real(a[1][1])
	off := a[0][1]
	tr := h00 + h11
	disc := math.Sqrt((h00-h11)*(h00-h11)/4 + real(off*cmplx.Conj(off)))
	lPlus = tr/2 + disc
	lMinus = tr/2 - disc
	if disc == 0 {
		// degenerate spectrum; every outcome equals the eigenvalue
		return lPlus, lMinus, 1, nil
	}

	// projector onto the λ₊ eigenspace: (A − λ₋·I)/(λ₊ − λ₋)
	p := [2][2]complex128{
		{(a[0][0] - complex(lMinus, 0)) / complex(lPlus-lMinus, 0), a[0][1] / complex(lPlus-lMinus, 0)},
		{a[1][0] / complex(lPlus-lMinus, 0), (a[1][1] - complex(lMinus, 0)) / complex(lPlus-lMinus, 0)},
	}
	pPlus = s.expectation(p, wire)
	if pPlus < 0 {
		pPlus = 0
	}
	if pPlus > 1 {
		pPlus = 1
	}

	return lPlus, lMinus, pPlus, nil
}

// applySingle applies a single-qubit unitary to the state in place.
func (s *Simulator) applySingle(u [2][2]complex128, wire int) {
	applyTo(s.state, u, wire, s.wires)
}

// applyTo applies a 2×2 matrix to the given wire of an arbitrary state.
func applyTo(state []complex128, u [2][2]complex128, wire, wires int) {
	mask := 1 << uint(wires-1-wire)
	for i := range state {
		if i&mask != 0 {
			continue
		}
		j := i | mask
		a, b := state[i], state[j]
		state[i] = u[0][0]*a + u[0][1]*b
		state[j] = u[1][0]*a + u[1][1]*b
	}
}

// applyCNOT flips the target bit wherever the control bit is set.
func (s *Simulator) applyCNOT(control, target int) {
	cMask := 1 << uint(s.wires-1-control)
	tMask := 1 << uint(s.wires-1-target)
	for i := range s.state {
		if i&cMask != 0 && i&tMask == 0 {
			j := i | tMask
			s.state[i], s.state[j] = s.state[j], s.state[i]
		}
	}
}

func mean(xs []float64) float64 {
	acc := 0.0
	for _, x := range xs {
		acc += x
	}

	return acc / float64(len(xs))
}
