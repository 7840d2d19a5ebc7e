package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"nir-backend/internal/artifacts"
	"nir-backend/internal/ml"
	"nir-backend/internal/spectral"
)

// Prediction is the outcome of running one noisy spectrum through the models
type Prediction struct {
	Predicted float64
	Anomaly   bool
	Latency   time.Duration // preprocessing, regression and anomaly scoring
}

// InferenceService owns the immutable artifacts shared by every session and
// runs the online pipeline: preprocess, then predict and score the same
// preprocessed vector.
type InferenceService struct {
	bundle       *artifacts.Bundle
	preprocessor *spectral.Preprocessor
	scorer       *ml.AnomalyScorer
	logger       *zap.SugaredLogger
}

// InferenceServiceConfig holds configuration for inference service
type InferenceServiceConfig struct {
	Anomaly ml.IsolationForestConfig
}

// DefaultInferenceServiceConfig returns default configuration
func DefaultInferenceServiceConfig() InferenceServiceConfig {
	return InferenceServiceConfig{
		Anomaly: ml.DefaultIsolationForestConfig(),
	}
}

// NewInferenceService fits the anomaly scorer on the preprocessed reference
// pool. The scorer is never refitted afterwards.
func NewInferenceService(bundle *artifacts.Bundle, config InferenceServiceConfig, logger *zap.SugaredLogger) (*InferenceService, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	preprocessor := spectral.NewPreprocessor()
	population, err := preprocessor.PreprocessBatch(bundle.Pool.Spectra)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess reference pool: %w", err)
	}

	start := time.Now()
	scorer, err := ml.FitAnomalyScorer(population, config.Anomaly)
	if err != nil {
		return nil, fmt.Errorf("failed to fit anomaly scorer: %w", err)
	}

	logger.Infow("InferenceService: anomaly scorer ready",
		"population", len(population),
		"trees", config.Anomaly.Trees,
		"contamination", config.Anomaly.Contamination,
		"offset", scorer.Offset(),
		"fit_time", time.Since(start))

	return &InferenceService{
		bundle:       bundle,
		preprocessor: preprocessor,
		scorer:       scorer,
		logger:       logger,
	}, nil
}

// Infer preprocesses a raw spectrum, predicts its value and scores it
func (s *InferenceService) Infer(raw []float64) (Prediction, error) {
	start := time.Now()

	prep, err := s.preprocessor.Preprocess(raw)
	if err != nil {
		return Prediction{}, err
	}

	predicted, err := s.bundle.Predictor.Predict(prep)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to predict: %w", err)
	}

	anomaly, err := s.scorer.Score(prep)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to score anomaly: %w", err)
	}

	return Prediction{
		Predicted: predicted,
		Anomaly:   anomaly,
		Latency:   time.Since(start),
	}, nil
}

// PoolSize returns the number of reference samples
func (s *InferenceService) PoolSize() int {
	return s.bundle.Pool.Len()
}

// Sample returns the raw reference spectrum and its ground truth at i
func (s *InferenceService) Sample(i int) ([]float64, float64) {
	return s.bundle.Pool.Sample(i)
}

// Wavelengths returns the shared wavelength axis
func (s *InferenceService) Wavelengths() []float64 {
	return s.bundle.Wavelengths
}
