package iforest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/safetrail-data/sentinel.report/internal/fsutil"
)

// MinTrainingWindows is the smallest feature matrix worth fitting. Below
// this, training fails loudly and the current model file is left intact.
const MinTrainingWindows = 10

// Training defaults matching the offline trainer.
const (
	DefaultTrees         = 200
	DefaultContamination = 0.02
	DefaultSeed          = 42
)

// ScoreStats summarizes the decision-function distribution on the training
// set; kept as bundle diagnostics.
type ScoreStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P5   float64 `json:"p5"`
}

// Bundle is the persisted model artifact. It is never mutated after
// creation; replacement on disk is atomic (temp file + rename).
type Bundle struct {
	Forest          *Forest    `json:"forest"`
	Threshold       float64    `json:"threshold"`
	FeatureColumns  []string   `json:"feature_columns"`
	ModelVersion    string     `json:"model_version"`
	TrainingSamples int        `json:"training_samples"`
	TrainedAt       time.Time  `json:"trained_at"`
	Contamination   float64    `json:"contamination"`
	NumTrees        int        `json:"n_estimators"`
	ScoreStats      ScoreStats `json:"score_stats"`
}

// TrainConfig holds the knobs for fitting a bundle.
type TrainConfig struct {
	Trees         int
	Contamination float64
	Seed          int64
	Version       string
}

// TrainBundle fits an isolation forest over the feature matrix and calibrates
// the alert threshold as the 5th percentile of decision-function scores on
// the training set.
func TrainBundle(matrix [][]float64, columns []string, cfg TrainConfig) (*Bundle, error) {
	if len(matrix) < MinTrainingWindows {
		return nil, fmt.Errorf("only %d feature windows available, need at least %d", len(matrix), MinTrainingWindows)
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultTrees
	}
	if cfg.Version == "" {
		cfg.Version = "v1"
	}

	forest, err := Train(matrix, cfg.Trees, cfg.Seed)
	if err != nil {
		return nil, err
	}

	scores := forest.DecisionFunctionBatch(matrix)
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(0.05, stat.LinInterp, sorted, nil)

	sd := stat.StdDev(scores, nil)
	if math.IsNaN(sd) {
		sd = 0
	}

	return &Bundle{
		Forest:          forest,
		Threshold:       threshold,
		FeatureColumns:  append([]string(nil), columns...),
		ModelVersion:    cfg.Version,
		TrainingSamples: len(matrix),
		TrainedAt:       time.Now().UTC(),
		Contamination:   cfg.Contamination,
		NumTrees:        cfg.Trees,
		ScoreStats: ScoreStats{
			Mean: stat.Mean(scores, nil),
			Std:  sd,
			Min:  sorted[0],
			Max:  sorted[len(sorted)-1],
			P5:   threshold,
		},
	}, nil
}

// Save persists the bundle as JSON via an atomic write. A failed save leaves
// any existing bundle on disk untouched.
func (b *Bundle) Save(path string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode model bundle: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model bundle: %w", err)
	}
	return nil
}

// LoadBundle reads and validates a bundle from disk. A missing file is
// reported via os.IsNotExist on the returned error.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode model bundle %s: %w", path, err)
	}
	if b.Forest == nil || len(b.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model bundle %s has no trained forest", path)
	}
	if len(b.FeatureColumns) == 0 {
		return nil, fmt.Errorf("model bundle %s has no feature columns", path)
	}
	return &b, nil
}
