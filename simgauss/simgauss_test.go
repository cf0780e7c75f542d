package simgauss_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qgrad/qgrad/simgauss"
)

func newSim(t *testing.T, wires int) *simgauss.Simulator {
	t.Helper()
	s, err := simgauss.New(wires)
	require.NoError(t, err)

	return s
}

func TestVacuumMoments(t *testing.T) {
	s := newSim(t, 1)

	x, err := s.Expval("X", []int{0}, nil)
	require.NoError(t, err)
	assert.Zero(t, x)

	// vacuum variance is 1 with ħ = 2
	v, err := s.Var("X", []int{0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-12)

	n, err := s.Expval("NumberOperator", []int{0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, n, 1e-12)
}

func TestDisplacement(t *testing.T) {
	s := newSim(t, 1)
	a, phi := 0.7, 0.3
	require.NoError(t, s.Apply("Displacement", []int{0}, []float64{a, phi}))

	x, err := s.Expval("X", []int{0}, nil)
	require.NoError(t, err)
	p, err := s.Expval("P", []int{0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2*a*math.Cos(phi), x, 1e-12)
	assert.InDelta(t, 2*a*math.Sin(phi), p, 1e-12)

	n, err := s.Expval("NumberOperator", []int{0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, a*a, n, 1e-12)
}

func TestSqueezing(t *testing.T) {
	s := newSim(t, 1)
	r := 0.4
	require.NoError(t, s.Apply("Squeezing", []int{0}, []float64{r, 0}))

	vx, err := s.Var("X", []int{0}, nil)
	require.NoError(t, err)
	vp, err := s.Var("P", []int{0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-2*r), vx, 1e-12)
	assert.InDelta(t, math.Exp(2*r), vp, 1e-12)
}

func TestRotation(t *testing.T) {
	s := newSim(t, 1)
	require.NoError(t, s.Apply("Displacement", []int{0}, []float64{0.5, 0}))
	require.NoError(t, s.Apply("Rotation", []int{0}, []float64{math.Pi / 2}))

	x, err := s.Expval("X", []int{0}, nil)
	require.NoError(t, err)
	p, err := s.Expval("P", []int{0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x, 1e-12)
	assert.InDelta(t, 1.0, p, 1e-12)
}

func TestBeamsplitter_MixesModes(t *testing.T) {
	s := newSim(t, 2)
	a, theta := 0.8, 0.6
	require.NoError(t, s.Apply("Displacement", []int{0}, []float64{a, 0}))
	require.NoError(t, s.Apply("Beamsplitter", []int{0, 1}, []float64{theta, 0}))

	x0, err := s.Expval("X", []int{0}, nil)
	require.NoError(t, err)
	x1, err := s.Expval("X", []int{1}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2*a*math.Cos(theta), x0, 1e-12)
	assert.InDelta(t, 2*a*math.Sin(theta), x1, 1e-12)

	// total photon number is preserved under the beamsplitter
	n0, err := s.Expval("NumberOperator", []int{0}, nil)
	require.NoError(t, err)
	n1, err := s.Expval("NumberOperator", []int{1}, nil)
	require.NoError(t, err)
	assert.InDelta(t, a*a, n0+n1, 1e-12)
}

func TestQuadOperator(t *testing.T) {
	s := newSim(t, 1)
	require.NoError(t, s.Apply("Displacement", []int{0}, []float64{0.5, 0}))

	phi := 0.9
	q, err := s.Expval("QuadOperator", []int{0}, []float64{phi})
	require.NoError(t, err)
	assert.InDelta(t, math.Cos(phi), q, 1e-12)

	v, err := s.Var("QuadOperator", []int{0}, []float64{phi})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-12)
}

func TestPolyXP_SecondOrder(t *testing.T) {
	s := newSim(t, 1)
	a := 0.6
	require.NoError(t, s.Apply("Displacement", []int{0}, []float64{a, 0}))

	// M encoding x²: entry (1,1) of the [1, x, p] basis
	m := make([]float64, 9)
	m[1*3+1] = 1
	e, err := s.Expval("PolyXP", []int{0}, m)
	require.NoError(t, err)
	assert.InDelta(t, 4*a*a+1, e, 1e-12)

	// linear row: 3 + 2x
	m = make([]float64, 9)
	m[0] = 3
	m[0*3+1] = 2
	e, err = s.Expval("PolyXP", []int{0}, m)
	require.NoError(t, err)
	assert.InDelta(t, 3+2*2*a, e, 1e-12)
}

func TestErrors(t *testing.T) {
	s := newSim(t, 1)
	assert.ErrorIs(t, s.Apply("Kerr", []int{0}, []float64{0.1}), simgauss.ErrUnknownGate)
	_, err := s.Expval("Q", []int{0}, nil)
	assert.ErrorIs(t, err, simgauss.ErrUnknownObs)
	_, err = s.Var("NumberOperator", []int{0}, nil)
	assert.ErrorIs(t, err, simgauss.ErrVariance)
	_, err = s.Sample("X", []int{0}, nil, 5)
	assert.ErrorIs(t, err, simgauss.ErrSampling)
}
