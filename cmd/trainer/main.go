package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nir-backend/internal/artifacts"
	"nir-backend/internal/dataset"
	"nir-backend/internal/logging"
	"nir-backend/internal/ml"
	"nir-backend/internal/spectral"
)

type trainOptions struct {
	datasetPath   string
	outDir        string
	testSize      float64
	seed          uint64
	minComponents int
	maxComponents int
	folds         int
	skipANN       bool
}

func main() {
	var logLevel string
	opts := trainOptions{}

	rootCmd := &cobra.Command{
		Use:           "trainer",
		Short:         "Offline training for the NIR quality monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the PLS model and write the serving artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logLevel, "console")
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = train(ctx, opts, logger)
			return err
		},
	}
	trainCmd.Flags().StringVar(&opts.datasetPath, "dataset", "dataset/Scio.csv", "Labeled CSV export")
	trainCmd.Flags().StringVar(&opts.outDir, "out", "./artifacts", "Artifact output directory")
	trainCmd.Flags().Float64Var(&opts.testSize, "test-size", 0.2, "Held-out fraction")
	trainCmd.Flags().Uint64Var(&opts.seed, "seed", 42, "Split and cross-validation seed")
	trainCmd.Flags().IntVar(&opts.minComponents, "min-components", 1, "Smallest PLS component count to try")
	trainCmd.Flags().IntVar(&opts.maxComponents, "max-components", 14, "Largest PLS component count to try")
	trainCmd.Flags().IntVar(&opts.folds, "folds", 5, "Cross-validation folds")
	trainCmd.Flags().BoolVar(&opts.skipANN, "skip-ann", false, "Skip the neural-network benchmark")
	rootCmd.AddCommand(trainCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// trainResult summarizes one training run
type trainResult struct {
	Selection *ml.SelectionReport
	PLS       ml.Evaluation
	ANN       *ml.Evaluation
	PoolSize  int
}

// train loads the dataset, selects and fits the PLS model, benchmarks it
// against the MLP, and writes the artifacts. The reference pool is the raw
// held-out spectra with their measured values.
func train(ctx context.Context, opts trainOptions, logger *zap.SugaredLogger) (*trainResult, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ds, err := dataset.LoadFile(opts.datasetPath)
	if err != nil {
		return nil, err
	}
	logger.Infow("Trainer: dataset loaded", "samples", ds.Len(), "wavelengths", len(ds.Wavelengths), "dropped", ds.Dropped)

	batch, err := spectral.NewPreprocessor().PreprocessBatch(ds.Spectra)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess dataset: %w", err)
	}
	X := spectral.Matrix(batch)

	trainIdx, testIdx, err := ml.TrainTestSplit(ds.Len(), opts.testSize, opts.seed)
	if err != nil {
		return nil, fmt.Errorf("failed to split dataset: %w", err)
	}
	xTrain, yTrain := pick(X, ds.Targets, trainIdx)
	xTest, yTest := pick(X, ds.Targets, testIdx)

	selector := ml.NewModelSelector(ml.SelectorConfig{
		MinComponents: opts.minComponents,
		MaxComponents: opts.maxComponents,
		Folds:         opts.folds,
		Seed:          opts.seed,
	}, logger)
	model, selection, err := selector.Select(ctx, xTrain, yTrain)
	if err != nil {
		return nil, fmt.Errorf("failed to select PLS model: %w", err)
	}

	result := &trainResult{
		Selection: selection,
		PLS:       ml.Evaluate(model, xTest, yTest),
	}
	logger.Infow("Trainer: PLS evaluated", "components", model.Components,
		"rmsep", result.PLS.RMSEP, "r2", result.PLS.R2)

	if !opts.skipANN {
		cfg := ml.DefaultMLPConfig()
		cfg.Seed = opts.seed
		mlp, err := ml.FitMLP(ctx, xTrain, yTrain, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to fit MLP benchmark: %w", err)
		}
		eval := ml.Evaluate(mlp, xTest, yTest)
		result.ANN = &eval
		logger.Infow("Trainer: ANN evaluated", "rmsep", eval.RMSEP, "r2", eval.R2)
	}

	rawTest, _ := pick(ds.Spectra, ds.Targets, testIdx)
	pool := &artifacts.ReferencePool{Spectra: rawTest, Values: yTest}
	result.PoolSize = pool.Len()

	artifact := &ml.ModelArtifact{
		Model:     *model,
		Selection: selection,
		TrainedAt: time.Now().UTC(),
	}
	if err := artifacts.Save(opts.outDir, artifact, ds.Wavelengths, pool); err != nil {
		return nil, err
	}
	logger.Infow("Trainer: artifacts written", "dir", opts.outDir, "pool", pool.Len())
	return result, nil
}

func pick(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	rows := make([][]float64, len(idx))
	values := make([]float64, len(idx))
	for i, j := range idx {
		rows[i] = X[j]
		values[i] = y[j]
	}
	return rows, values
}
