// Package simulator emulates sensor variability on reference NIR spectra.
package simulator

import (
	"math/rand/v2"
	"time"
)

// MaxBaselineDrift bounds the additive whole-spectrum offset.
const MaxBaselineDrift = 0.01

// Source supplies the random draws. *rand.Rand satisfies it.
type Source interface {
	NormFloat64() float64
	Float64() float64
}

// NoiseSimulator applies multiplicative per-wavelength jitter and one
// additive baseline drift per call. It is not safe for concurrent use; each
// streaming session owns its own instance.
type NoiseSimulator struct {
	src Source
}

// NewNoiseSimulator returns a simulator seeded from the wall clock.
func NewNoiseSimulator() *NoiseSimulator {
	seed := uint64(time.Now().UnixNano())
	return NewNoiseSimulatorWithSource(rand.New(rand.NewPCG(seed, seed>>1|1)))
}

// NewNoiseSimulatorWithSource uses src for every draw.
func NewNoiseSimulatorWithSource(src Source) *NoiseSimulator {
	return &NoiseSimulator{src: src}
}

// Perturb returns reference·(1 + N(0, noiseFraction)) + drift, drift drawn
// uniformly from [-MaxBaselineDrift, MaxBaselineDrift). The reference slice
// is not modified.
func (s *NoiseSimulator) Perturb(reference []float64, noiseFraction float64) []float64 {
	out := make([]float64, len(reference))
	for i, v := range reference {
		out[i] = v * (1 + noiseFraction*s.src.NormFloat64())
	}
	drift := s.Drift()
	for i := range out {
		out[i] += drift
	}
	return out
}

// Drift draws one baseline offset.
func (s *NoiseSimulator) Drift() float64 {
	return (2*s.src.Float64() - 1) * MaxBaselineDrift
}
