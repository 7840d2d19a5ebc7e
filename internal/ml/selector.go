package ml

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// SelectorConfig controls the cross-validated search over PLS component counts.
type SelectorConfig struct {
	MinComponents int    // first candidate, inclusive
	MaxComponents int    // last candidate, inclusive
	Folds         int    // cross-validation folds
	Seed          uint64 // shuffle seed for the folds
	Parallelism   int    // concurrent fold fits; <= 0 means GOMAXPROCS
}

// DefaultSelectorConfig returns the 1..14 component, 5-fold, seed 42 search.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MinComponents: 1,
		MaxComponents: 14,
		Folds:         5,
		Seed:          42,
		Parallelism:   runtime.GOMAXPROCS(0),
	}
}

// CandidateScore is the cross-validated error of one component count.
type CandidateScore struct {
	Components int     `json:"components"`
	MeanMSE    float64 `json:"mean_mse"`
	Skipped    bool    `json:"skipped,omitempty"`
}

// SelectionReport records the search.
type SelectionReport struct {
	Best       int              `json:"best"`
	BestMSE    float64          `json:"best_mse"`
	Candidates []CandidateScore `json:"candidates"`
}

// ModelSelector picks the PLS complexity with the lowest mean held-out MSE.
type ModelSelector struct {
	config SelectorConfig
	logger *zap.SugaredLogger
}

// NewModelSelector creates a selector. A nil logger discards output.
func NewModelSelector(config SelectorConfig, logger *zap.SugaredLogger) *ModelSelector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ModelSelector{config: config, logger: logger}
}

// Select runs the search and refits the winning complexity on all of X.
//
// Candidates are scanned in ascending order and only a strictly lower error
// replaces the current best, so ties go to the smaller component count.
// Candidates exceeding what a training fold can support are skipped.
func (s *ModelSelector) Select(ctx context.Context, X [][]float64, y []float64) (*PLSModel, *SelectionReport, error) {
	cfg := s.config
	if cfg.MinComponents < 1 || cfg.MaxComponents < cfg.MinComponents {
		return nil, nil, fmt.Errorf("invalid component range [%d, %d]", cfg.MinComponents, cfg.MaxComponents)
	}
	if len(X) != len(y) {
		return nil, nil, fmt.Errorf("sample count mismatch: %d spectra, %d targets", len(X), len(y))
	}
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("empty training set")
	}

	folds, err := KFold(len(X), cfg.Folds, cfg.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build folds: %w", err)
	}

	features := len(X[0])
	minTrain := len(X)
	for _, f := range folds {
		minTrain = min(minTrain, len(f.Train))
	}
	maxSupported := min(minTrain, features)

	s.logger.Infof("ModelSelector: searching %d..%d components with %d-fold CV over %d samples",
		cfg.MinComponents, cfg.MaxComponents, cfg.Folds, len(X))

	nCand := cfg.MaxComponents - cfg.MinComponents + 1
	foldMSE := make([][]float64, nCand)
	for i := range foldMSE {
		foldMSE[i] = make([]float64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(parallelism)

	for ci := 0; ci < nCand; ci++ {
		k := cfg.MinComponents + ci
		if k > maxSupported {
			continue
		}
		for fi, fold := range folds {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				model, err := FitPLS(selectRows(X, fold.Train), selectValues(y, fold.Train), k)
				if err != nil {
					return fmt.Errorf("failed to fit %d components on fold %d: %w", k, fi, err)
				}
				foldMSE[ci][fi] = MeanSquaredError(model, selectRows(X, fold.Test), selectValues(y, fold.Test))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	report := &SelectionReport{
		Best:    cfg.MinComponents,
		BestMSE: math.Inf(1),
	}
	for ci := 0; ci < nCand; ci++ {
		k := cfg.MinComponents + ci
		score := CandidateScore{Components: k}
		if k > maxSupported {
			score.Skipped = true
		} else {
			score.MeanMSE = stat.Mean(foldMSE[ci], nil)
		}
		report.Candidates = append(report.Candidates, score)

		if !score.Skipped && score.MeanMSE < report.BestMSE {
			report.BestMSE = score.MeanMSE
			report.Best = k
		}
		s.logger.Debugw("ModelSelector: candidate scored", "components", k, "cv_mse", score.MeanMSE, "skipped", score.Skipped)
	}

	if math.IsInf(report.BestMSE, 1) {
		return nil, nil, fmt.Errorf("no candidate in [%d, %d] fits %d training samples of %d features",
			cfg.MinComponents, cfg.MaxComponents, minTrain, features)
	}

	s.logger.Infof("ModelSelector: best number of PLS components: %d (CV MSE: %.4f)", report.Best, report.BestMSE)

	model, err := FitPLS(X, y, report.Best)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refit %d components on full set: %w", report.Best, err)
	}
	return model, report, nil
}
