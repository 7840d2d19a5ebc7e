package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"nir-backend/internal/spectral"
)

// ModelArtifact is the on-disk form of the fitted regression model.
type ModelArtifact struct {
	Model     PLSModel         `json:"model"`
	Selection *SelectionReport `json:"selection,omitempty"`
	TrainedAt time.Time        `json:"trained_at"`
}

// Predictor serves a fitted PLS model. It never mutates the model or its input.
type Predictor struct {
	model *PLSModel
}

// NewPredictor loads a model artifact from modelPath.
func NewPredictor(modelPath string, logger *zap.SugaredLogger) (*Predictor, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var artifact ModelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	predictor, err := NewPredictorFromModel(&artifact.Model)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Infof("Loaded PLS model from %s with %d components over %d wavelengths",
			modelPath, artifact.Model.Components, len(artifact.Model.Coefficients))
	}
	return predictor, nil
}

// NewPredictorFromModel wraps an in-memory model after validating it.
func NewPredictorFromModel(model *PLSModel) (*Predictor, error) {
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	return &Predictor{model: model}, nil
}

// Predict returns the property value for one preprocessed spectrum.
func (p *Predictor) Predict(s spectral.PreprocessedSpectrum) (float64, error) {
	return p.model.Predict(s.Values())
}

// Components returns the latent component count of the served model.
func (p *Predictor) Components() int {
	return p.model.Components
}

// Features returns the expected spectrum length.
func (p *Predictor) Features() int {
	return len(p.model.Coefficients)
}

// SaveModel writes a model artifact to path.
func SaveModel(path string, artifact *ModelArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}
