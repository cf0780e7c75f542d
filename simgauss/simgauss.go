// Package simgauss is the reference Gaussian continuous-variable simulator
// device. It tracks the first and second phase-space moments (means vector
// and covariance matrix) of a Gaussian state in the quadrature basis
// [x₁, p₁, …, x_w, p_w] with ħ = 2, so the vacuum covariance is the
// identity.
//
// Supported operations are the Gaussian gates (Displacement, Squeezing,
// Rotation, Beamsplitter); supported observables are the first-order
// quadratures (X, P, QuadOperator), the photon number, and general
// second-order polynomials (PolyXP) as produced by the Heisenberg-rule
// observable transformation.
package simgauss

import (
	"errors"
	"fmt"
	"math"

	"github.com/qgrad/qgrad/device"
	"github.com/qgrad/qgrad/matrix"
)

// Sentinel errors for the simulator.
var (
	// ErrWireCount indicates a non-positive wire count.
	ErrWireCount = errors.New("simgauss: wire count must be positive")

	// ErrUnknownGate indicates an operation name the simulator cannot apply.
	ErrUnknownGate = errors.New("simgauss: unknown operation")

	// ErrUnknownObs indicates an observable the simulator cannot measure.
	ErrUnknownObs = errors.New("simgauss: unknown observable")

	// ErrBadParams indicates a parameter list of the wrong size.
	ErrBadParams = errors.New("simgauss: bad parameter count")

	// ErrSampling indicates the simulator does not sample.
	ErrSampling = errors.New("simgauss: sampling not supported")

	// ErrVariance indicates a variance request for an observable without a
	// first-order quadrature form.
	ErrVariance = errors.New("simgauss: variance only supported for first-order observables")
)

var operationNames = []string{"Displacement", "Squeezing", "Rotation", "Beamsplitter"}

var observableNames = []string{"X", "P", "QuadOperator", "NumberOperator", "PolyXP", "Identity"}

// Simulator is a Gaussian-moment CV device.
type Simulator struct {
	wires int
	shots int
	mu    []float64     // 2w means, interleaved (x₁, p₁, …)
	cov   *matrix.Dense // 2w×2w covariance
}

var _ device.Device = (*Simulator)(nil)

// options configures a Simulator.
type options struct{ shots int }

// Option configures simulator construction.
type Option func(*options)

// WithShots records a shot count; the simulator itself always returns
// exact moments.
func WithShots(shots int) Option {
	return func(o *options) { o.shots = shots }
}

// New creates a Gaussian simulator over the given number of wires in the
// vacuum state.
func New(wires int, opts ...Option) (*Simulator, error) {
	if wires < 1 {
		return nil, ErrWireCount
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Simulator{wires: wires, shots: o.shots}
	s.Reset()

	return s, nil
}

// Device identity.

// Name is the full device name.
func (s *Simulator) Name() string { return "Default Gaussian simulator" }

// ShortName is the loader identity of the device.
func (s *Simulator) ShortName() string { return "default.gaussian" }

// Version is the plugin version.
func (s *Simulator) Version() string { return "0.1.0" }

// Author identifies the plugin author.
func (s *Simulator) Author() string { return "qgrad developers" }

// APIVersion is the engine API version the plugin targets.
func (s *Simulator) APIVersion() string { return "0.1" }

// NumWires returns the simulated mode count.
func (s *Simulator) NumWires() int { return s.wires }

// Shots returns the recorded shot count.
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

// Reset returns every mode to vacuum: zero means, identity covariance.
func (s *Simulator) Reset() {
	s.mu = make([]float64, 2*s.wires)
	s.cov = matrix.Identity(2 * s.wires)
}

// Apply applies the named Gaussian operation.
func (s *Simulator) Apply(name string, wires []int, params []float64) error {
	switch name {
	case "Displacement":
		if len(params) != 2 {
			return fmt.Errorf("simgauss: Displacement: %w", ErrBadParams)
		}
		a, phi := params[0], params[1]
		s.mu[2*wires[0]] += 2 * a * math.Cos(phi)
		s.mu[2*wires[0]+1] += 2 * a * math.Sin(phi)

		return nil
	case "Rotation":
		if len(params) != 1 {
			return fmt.Errorf("simgauss: Rotation: %w", ErrBadParams)
		}
		c, sn := math.Cos(params[0]), math.Sin(params[0])

		return s.applySymplectic([][]float64{{c, -sn}, {sn, c}}, wires)
	case "Squeezing":
		if len(params) != 2 {
			return fmt.Errorf("simgauss: Squeezing: %w", ErrBadParams)
		}
		ch, sh := math.Cosh(params[0]), math.Sinh(params[0])
		c, sn := math.Cos(params[1]), math.Sin(params[1])

		return s.applySymplectic([][]float64{
			{ch - c*sh, -sn * sh},
			{-sn * sh, ch + c*sh},
		}, wires)
	case "Beamsplitter":
		if len(params) != 2 {
			return fmt.Errorf("simgauss: Beamsplitter: %w", ErrBadParams)
		}
		ct, st := math.Cos(params[0]), math.Sin(params[0])
		c, sn := math.Cos(params[1]), math.Sin(params[1])

		return s.applySymplectic([][]float64{
			{ct, 0, -st * c, -st * sn},
			{0, ct, st * sn, -st * c},
			{st * c, -st * sn, ct, 0},
			{st * sn, st * c, 0, ct},
		}, wires)
	default:
		return fmt.Errorf("simgauss: %s: %w", name, ErrUnknownGate)
	}
}

// applySymplectic expands a local quadrature map over wires into the full
// register and updates the moments: μ ← Sμ, Σ ← SΣSᵀ.
func (s *Simulator) applySymplectic(local [][]float64, wires []int) error {
	if len(local) != 2*len(wires) {
		return fmt.Errorf("simgauss: %dx%d symplectic for %d wires: %w",
			len(local), len(local), len(wires), ErrBadParams)
	}
	dim := 2 * s.wires
	full := matrix.Identity(dim)
	idx := make([]int, 0, 2*len(wires))
	for _, w := range wires {
		idx = append(idx, 2*w, 2*w+1)
	}
	for _, gi := range idx {
		for k := 0; k < dim; k++ {
			_ = full.Set(gi, k, 0)
		}
	}
	for i, gi := range idx {
		for j, gj := range idx {
			if err := full.Set(gi, gj, local[i][j]); err != nil {
				return err
			}
		}
	}

	// μ ← Sμ
	nmu := make([]float64, dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			v, _ := full.At(i, j)
			nmu[i] += v * s.mu[j]
		}
	}
	s.mu = nmu

	// Σ ← SΣSᵀ
	tmp, err := full.Mul(s.cov)
	if err != nil {
		return err
	}
	if s.cov, err = tmp.Mul(full.Transpose()); err != nil {
		return err
	}

	return nil
}

// Expval returns the exact expectation value of the named observable.
func (s *Simulator) Expval(name string, wires []int, params []float64) (float64, error) {
	switch name {
	case "Identity":
		return 1, nil
	case "X":
		return s.mu[2*wires[0]], nil
	case "P":
		return s.mu[2*wires[0]+1], nil
	case "QuadOperator":
		if len(params) != 1 {
			return 0, fmt.Errorf("simgauss: QuadOperator: %w", ErrBadParams)
		}

		return math.Cos(params[0])*s.mu[2*wires[0]] + math.Sin(params[0])*s.mu[2*wires[0]+1], nil
	case "NumberOperator":
		x, p := s.mu[2*wires[0]], s.mu[2*wires[0]+1]
		cxx, _ := s.cov.At(2*wires[0], 2*wires[0])
		cpp, _ := s.cov.At(2*wires[0]+1, 2*wires[0]+1)

		// n = (x² + p²)/(2ħ) − 1/2 with ħ = 2
		return (x*x+p*p+cxx+cpp)/4 - 0.5, nil
	case "PolyXP":
		return s.polyExpval(params)
	default:
		return 0, fmt.Errorf("simgauss: %s: %w", name, ErrUnknownObs)
	}
}

// polyExpval evaluates ⟨q·M·qᵀ⟩ for q = [1, x₁, p₁, …] over the full
// register: E = M₀₀ + Σ(M₀ᵢ+Mᵢ₀)μᵢ + ΣMᵢⱼ(Σᵢⱼ + μᵢμⱼ).
func (s *Simulator) polyExpval(params []float64) (float64, error) {
	dim := 1 + 2*s.wires
	if len(params) != dim*dim {
		return 0, fmt.Errorf("simgauss: PolyXP: %w", ErrBadParams)
	}
	at := func(i, j int) float64 { return params[i*dim+j] }

	e := at(0, 0)
	for i := 1; i < dim; i++ {
		e += (at(0, i) + at(i, 0)) * s.mu[i-1]
	}
	for i := 1; i < dim; i++ {
		for j := 1; j < dim; j++ {
			m := at(i, j)
			if m == 0 {
				continue
			}
			c, err := s.cov.At(i-1, j-1)
			if err != nil {
				return 0, err
			}
			e += m * (c + s.mu[i-1]*s.mu[j-1])
		}
	}

	return e, nil
}

// Var returns the variance of a first-order observable: fᵀΣf for the
// quadrature vector f of the observable.
func (s *Simulator) Var(name string, wires []int, params []float64) (float64, error) {
	var fx, fp float64
	switch name {
	case "Identity":
		return 0, nil
	case "X":
		fx, fp = 1, 0
	case "P":
		fx, fp = 0, 1
	case "QuadOperator":
		if len(params) != 1 {
			return 0, fmt.Errorf("simgauss: QuadOperator: %w", ErrBadParams)
		}
		fx, fp = math.Cos(params[0]), math.Sin(params[0])
	default:
		return 0, fmt.Errorf("simgauss: %s: %w", name, ErrVariance)
	}
	xi, pi := 2*wires[0], 2*wires[0]+1
	cxx, _ := s.cov.At(xi, xi)
	cxp, _ := s.cov.At(xi, pi)
	cpx, _ := s.cov.At(pi, xi)
	cpp, _ := s.cov.At(pi, pi)

	return fx*fx*cxx + fx*fp*(cxp+cpx) + fp*fp*cpp, nil
}

// Sample is unsupported on the Gaussian simulator.
func (s *Simulator) Sample(string, []int, []float64, int) ([]float64, error) {
	return nil, ErrSampling
}
