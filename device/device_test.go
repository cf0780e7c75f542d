package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qgrad/qgrad/device"
	"github.com/qgrad/qgrad/matrix"
	"github.com/qgrad/qgrad/operation"
)

// fakeDesc is a minimal descriptor for the execute-loop tests.
type fakeDesc struct {
	name string
	kind operation.Kind
}

func (d *fakeDesc) Name() string                      { return d.name }
func (d *fakeDesc) Kind() operation.Kind              { return d.kind }
func (d *fakeDesc) Family() operation.Family          { return operation.FamilyQubit }
func (d *fakeDesc) NumWires() int                     { return 1 }
func (d *fakeDesc) NumParams() int                    { return 0 }
func (d *fakeDesc) GradMethod() operation.GradMethod  { return operation.GradNone }
func (d *fakeDesc) GradRecipe(int) (float64, float64) { return 0.5, 0 }
func (d *fakeDesc) SupportsHeisenberg() bool          { return false }
func (d *fakeDesc) EVOrder() int                      { return 0 }
func (d *fakeDesc) HeisenbergLocal([]float64, bool) (*matrix.Dense, error) {
	return nil, operation.ErrNotGaussian
}
func (d *fakeDesc) HeisenbergObsLocal([]float64) (*matrix.Dense, error) {
	return nil, operation.ErrNotGaussian
}

func gate(name string) *operation.Operation {
	return &operation.Operation{Desc: &fakeDesc{name: name, kind: operation.KindGate}, Wires: []int{0}}
}

func obs(name string, rt operation.ReturnType, samples int) *operation.Operation {
	return &operation.Operation{
		Desc:        &fakeDesc{name: name, kind: operation.KindObservable},
		Wires:       []int{0},
		Return:      rt,
		SampleCount: samples,
	}
}

// fakeDevice records the call sequence of one execute cycle.
type fakeDevice struct {
	log []string
}

func (d *fakeDevice) Name() string       { return "Fake device" }
func (d *fakeDevice) ShortName() string  { return "fake" }
func (d *fakeDevice) Version() string    { return "0.0.1" }
func (d *fakeDevice) Author() string     { return "tests" }
func (d *fakeDevice) APIVersion() string { return "0.1" }
func (d *fakeDevice) NumWires() int      { return 1 }
func (d *fakeDevice) Shots() int         { return 0 }
func (d *fakeDevice) Operations() []string {
	return []string{"G1", "G2"}
}
func (d *fakeDevice) Observables() []string {
	return []string{"O1", "O2"}
}
func (d *fakeDevice) SupportsOperation(name string) bool {
	return name == "G1" || name == "G2"
}
func (d *fakeDevice) SupportsObservable(name string) bool {
	return name == "O1" || name == "O2"
}
func (d *fakeDevice) Reset() { d.log = append(d.log, "reset") }
func (d *fakeDevice) Apply(name string, _ []int, _ []float64) error {
	d.log = append(d.log, "apply:"+name)

	return nil
}
func (d *fakeDevice) Expval(name string, _ []int, _ []float64) (float64, error) {
	d.log = append(d.log, "expval:"+name)

	return 1.25, nil
}
func (d *fakeDevice) Var(name string, _ []int, _ []float64) (float64, error) {
	d.log = append(d.log, "var:"+name)

	return 0.5, nil
}
func (d *fakeDevice) Sample(name string, _ []int, _ []float64, n int) ([]float64, error) {
	d.log = append(d.log, "sample:"+name)

	return make([]float64, n), nil
}

// hookedDevice additionally implements every optional hook.
type hookedDevice struct {
	fakeDevice
}

func (d *hookedDevice) PreApply()    { d.log = append(d.log, "pre_apply") }
func (d *hookedDevice) PostApply()   { d.log = append(d.log, "post_apply") }
func (d *hookedDevice) PreMeasure()  { d.log = append(d.log, "pre_measure") }
func (d *hookedDevice) PostMeasure() { d.log = append(d.log, "post_measure") }
func (d *hookedDevice) ExecutionContext() (func(), error) {
	d.log = append(d.log, "ctx_acquire")

	return func() { d.log = append(d.log, "ctx_release") }, nil
}

func TestExecute_OrderAndHooks(t *testing.T) {
	dev := &hookedDevice{}
	gates := []*operation.Operation{gate("G1"), gate("G2")}
	observables := []*operation.Operation{
		obs("O1", operation.ReturnExpectation, 0),
		obs("O2", operation.ReturnVariance, 0),
	}

	results, err := device.Execute(dev, gates, observables, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1.25, results[0].Value)
	assert.Equal(t, 0.5, results[1].Value)

	assert.Equal(t, []string{
		"ctx_acquire",
		"pre_apply", "apply:G1", "apply:G2", "post_apply",
		"pre_measure", "expval:O1", "var:O2", "post_measure",
		"ctx_release",
	}, dev.log)
}

func TestExecute_UnsupportedGate(t *testing.T) {
	dev := &fakeDevice{}
	_, err := device.Execute(dev, []*operation.Operation{gate("Nope")}, nil, nil)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestExecute_UnsupportedObservable(t *testing.T) {
	dev := &fakeDevice{}
	_, err := device.Execute(dev, nil,
		[]*operation.Operation{obs("Nope", operation.ReturnExpectation, 0)}, nil)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestExecute_ParkedObservableSkipped(t *testing.T) {
	dev := &fakeDevice{}
	parked := obs("O1", operation.ReturnNone, 0)
	_, err := device.Execute(dev, []*operation.Operation{gate("G1"), parked}, nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, dev.log, "apply:O1")
}

func TestExecute_SampleValidation(t *testing.T) {
	dev := &fakeDevice{}
	_, err := device.Execute(dev, nil,
		[]*operation.Operation{obs("O1", operation.ReturnSample, 0)}, nil)
	assert.ErrorIs(t, err, device.ErrSampleCount)

	results, err := device.Execute(dev, nil,
		[]*operation.Operation{obs("O1", operation.ReturnSample, 7)}, nil)
	require.NoError(t, err)
	assert.Len(t, results[0].Samples, 7)
}

func TestExecute_UnknownReturnType(t *testing.T) {
	dev := &fakeDevice{}
	_, err := device.Execute(dev, nil,
		[]*operation.Operation{obs("O1", operation.ReturnType(99), 0)}, nil)
	assert.ErrorIs(t, err, device.ErrReturnType)
}
