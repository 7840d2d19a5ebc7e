// Package artifacts loads and saves the files the server needs at startup:
// the fitted regression model, the wavelength axis and the reference pool
// replayed by streaming sessions.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"nir-backend/internal/ml"
	"nir-backend/internal/spectral"
)

const (
	ModelFile       = "pls_model.json"
	WavelengthsFile = "wavelengths.json"
	PoolFile        = "reference_pool.json"
)

// StartupError reports a missing, corrupt or inconsistent artifact. The
// server cannot run without its artifacts, so callers treat it as fatal.
type StartupError struct {
	Artifact string
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Artifact, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// ReferencePool is the held-out set of raw spectra with their ground-truth
// values, replayed in order by every session.
type ReferencePool struct {
	Spectra [][]float64 `json:"spectra"`
	Values  []float64   `json:"values"`
}

// Len returns the number of samples in the pool
func (p *ReferencePool) Len() int {
	return len(p.Spectra)
}

// Sample returns the raw spectrum and ground truth at index i. The spectrum
// is shared; callers must not modify it.
func (p *ReferencePool) Sample(i int) ([]float64, float64) {
	return p.Spectra[i], p.Values[i]
}

// Bundle is the immutable set of artifacts shared by all sessions
type Bundle struct {
	Predictor   *ml.Predictor
	Wavelengths []float64
	Pool        *ReferencePool
}

// Load reads all artifacts from dir and checks they agree with each other.
// Every failure is returned as a *StartupError.
func Load(dir string, logger *zap.SugaredLogger) (*Bundle, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	predictor, err := ml.NewPredictor(filepath.Join(dir, ModelFile), logger)
	if err != nil {
		return nil, &StartupError{Artifact: ModelFile, Err: err}
	}

	var wavelengths []float64
	if err := readJSON(filepath.Join(dir, WavelengthsFile), &wavelengths); err != nil {
		return nil, &StartupError{Artifact: WavelengthsFile, Err: err}
	}

	pool := &ReferencePool{}
	if err := readJSON(filepath.Join(dir, PoolFile), pool); err != nil {
		return nil, &StartupError{Artifact: PoolFile, Err: err}
	}

	bundle := &Bundle{Predictor: predictor, Wavelengths: wavelengths, Pool: pool}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	logger.Infow("Artifacts: loaded",
		"dir", dir,
		"wavelengths", len(wavelengths),
		"pool_size", pool.Len(),
		"components", predictor.Components())
	return bundle, nil
}

// Validate checks the artifacts describe the same wavelength axis
func (b *Bundle) Validate() error {
	n := len(b.Wavelengths)
	if n < spectral.WindowLength {
		return &StartupError{Artifact: WavelengthsFile,
			Err: fmt.Errorf("%d wavelengths, need at least %d", n, spectral.WindowLength)}
	}
	if b.Predictor.Features() != n {
		return &StartupError{Artifact: ModelFile,
			Err: fmt.Errorf("model has %d coefficients for %d wavelengths", b.Predictor.Features(), n)}
	}
	if b.Pool.Len() == 0 {
		return &StartupError{Artifact: PoolFile, Err: errors.New("reference pool is empty")}
	}
	if len(b.Pool.Values) != b.Pool.Len() {
		return &StartupError{Artifact: PoolFile,
			Err: fmt.Errorf("%d spectra but %d values", b.Pool.Len(), len(b.Pool.Values))}
	}
	for i, s := range b.Pool.Spectra {
		if len(s) != n {
			return &StartupError{Artifact: PoolFile,
				Err: fmt.Errorf("spectrum %d has length %d, expected %d", i, len(s), n)}
		}
	}
	return nil
}

// Save writes the three artifacts into dir, creating it if needed
func Save(dir string, model *ml.ModelArtifact, wavelengths []float64, pool *ReferencePool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := ml.SaveModel(filepath.Join(dir, ModelFile), model); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, WavelengthsFile), wavelengths); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, PoolFile), pool)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
