package iforest

import (
	"math"
	"os"
	"sync/atomic"

	"github.com/safetrail-data/sentinel.report/internal/features"
	"github.com/safetrail-data/sentinel.report/internal/monitoring"
)

// sigmoidSteepness shapes the raw-score to [0,1] mapping. Calibrated against
// the decision-function convention where positive means inlier.
const sigmoidSteepness = 5.0

// Scorer wraps a loaded model bundle for inference. It degrades gracefully:
// with no bundle loaded, Predict returns exactly 0 and the pipeline runs in
// rules-only mode. The bundle pointer is swapped atomically, so concurrent
// predictions observe either the old or the new bundle, never a torn state.
type Scorer struct {
	path   string
	bundle atomic.Pointer[Bundle]
}

// NewScorer creates a scorer bound to a bundle path and attempts an initial
// load. A missing or corrupt file leaves the scorer unloaded.
func NewScorer(path string) *Scorer {
	s := &Scorer{path: path}
	s.Load()
	return s
}

// Load reads the bundle from the scorer's path and publishes it. Returns
// false (without error) when the file is absent; logs and returns false on
// corruption, keeping any previously loaded bundle.
func (s *Scorer) Load() bool {
	b, err := LoadBundle(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			monitoring.Logf("model file not found at %s, running in rules-only mode", s.path)
		} else {
			monitoring.Logf("failed to load model from %s: %v", s.path, err)
		}
		return false
	}
	s.bundle.Store(b)
	monitoring.Logf("model loaded: version=%s samples=%d threshold=%.4f",
		b.ModelVersion, b.TrainingSamples, b.Threshold)
	return true
}

// Reload re-reads the bundle from the original path, after retraining.
func (s *Scorer) Reload() bool {
	return s.Load()
}

// IsLoaded reports whether a bundle is available for inference.
func (s *Scorer) IsLoaded() bool {
	return s.bundle.Load() != nil
}

// Bundle returns the currently published bundle, or nil when unloaded.
func (s *Scorer) Bundle() *Bundle {
	return s.bundle.Load()
}

// ModelVersion returns the loaded bundle's version, or "none".
func (s *Scorer) ModelVersion() string {
	if b := s.bundle.Load(); b != nil {
		return b.ModelVersion
	}
	return "none"
}

// Predict computes the normalized anomaly score in [0,1] for one feature
// vector; higher means more anomalous. Returns exactly 0 when unloaded.
func (s *Scorer) Predict(v features.Vector) float64 {
	b := s.bundle.Load()
	if b == nil {
		return 0.0
	}
	raw := b.Forest.DecisionFunction(v.Row(b.FeatureColumns))
	return sigmoidNormalize(raw)
}

// PredictBatch scores each row of an already-ordered feature matrix. With no
// bundle loaded it returns a zero vector of matching length.
func (s *Scorer) PredictBatch(matrix [][]float64) []float64 {
	out := make([]float64, len(matrix))
	b := s.bundle.Load()
	if b == nil {
		return out
	}
	for i, row := range matrix {
		out[i] = sigmoidNormalize(b.Forest.DecisionFunction(row))
	}
	return out
}

// sigmoidNormalize maps a raw decision score to [0,1], inverting the
// positive-is-inlier convention so higher output means more anomalous.
func sigmoidNormalize(raw float64) float64 {
	v := 1.0 / (1.0 + math.Exp(sigmoidSteepness*raw))
	return math.Max(0.0, math.Min(1.0, v))
}
