package simulator

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

// fixedSource returns constant draws so the deterministic parts of Perturb
// can be checked exactly.
type fixedSource struct {
	norm    float64
	uniform float64
}

func (f fixedSource) NormFloat64() float64 { return f.norm }
func (f fixedSource) Float64() float64     { return f.uniform }

func TestPerturbIsIdentityWithoutNoiseOrDrift(t *testing.T) {
	// uniform 0.5 maps to a drift of exactly zero.
	sim := NewNoiseSimulatorWithSource(fixedSource{norm: 1.7, uniform: 0.5})
	ref := []float64{0.12, 0.5, 0.99, 0}

	assert.Equal(t, ref, sim.Perturb(ref, 0))
}

func TestPerturbAppliesMultiplicativeNoiseAndSharedDrift(t *testing.T) {
	sim := NewNoiseSimulatorWithSource(fixedSource{norm: 2, uniform: 1})
	ref := []float64{1, 2, 4}

	got := sim.Perturb(ref, 0.1)
	// factor 1.2, drift +0.01
	assert.InDeltaSlice(t, []float64{1.21, 2.41, 4.81}, got, 1e-12)
	assert.Equal(t, []float64{1, 2, 4}, ref)
}

func TestDriftStaysInRange(t *testing.T) {
	sim := NewNoiseSimulatorWithSource(rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 10000; i++ {
		d := sim.Drift()
		assert.GreaterOrEqual(t, d, -MaxBaselineDrift)
		assert.LessOrEqual(t, d, MaxBaselineDrift)
	}
}

func TestPerturbDrawsFreshNoiseEachCall(t *testing.T) {
	sim := NewNoiseSimulator()
	ref := make([]float64, 50)
	for i := range ref {
		ref[i] = 0.5
	}

	a := sim.Perturb(ref, 0.02)
	b := sim.Perturb(ref, 0.02)
	assert.NotEqual(t, a, b)
}

func TestPerturbNoiseScalesWithLevel(t *testing.T) {
	sim := NewNoiseSimulatorWithSource(rand.New(rand.NewPCG(3, 4)))
	ref := make([]float64, 5000)
	for i := range ref {
		ref[i] = 1
	}

	out := sim.Perturb(ref, 0.05)
	_, std := stat.PopMeanStdDev(out, nil)
	assert.InDelta(t, 0.05, std, 0.005)
}
