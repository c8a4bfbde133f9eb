package iforest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/safetrail-data/sentinel.report/internal/features"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func savedBundle(t *testing.T, path, version string) *Bundle {
	t.Helper()
	b, err := TrainBundle(trainingMatrix(60, 4), testColumns, TrainConfig{
		Trees: 20, Seed: 42, Version: version,
	})
	if err != nil {
		t.Fatalf("TrainBundle failed: %v", err)
	}
	if err := b.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return b
}

func TestScorerUnloadedPredictsZero(t *testing.T) {
	s := NewScorer(filepath.Join(t.TempDir(), "absent.json"))
	if s.IsLoaded() {
		t.Fatal("scorer should be unloaded when the file is missing")
	}
	if got := s.Predict(features.Vector{"a": 100}); got != 0.0 {
		t.Errorf("Predict = %v, want exactly 0", got)
	}
	if got := s.ModelVersion(); got != "none" {
		t.Errorf("ModelVersion = %q, want none", got)
	}

	batch := s.PredictBatch([][]float64{{1, 2, 3}, {4, 5, 6}})
	if len(batch) != 2 || batch[0] != 0 || batch[1] != 0 {
		t.Errorf("PredictBatch = %v, want zeros", batch)
	}
}

func TestScorerLoadsAtConstruction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	savedBundle(t, path, "v7")

	s := NewScorer(path)
	if !s.IsLoaded() {
		t.Fatal("scorer should load an existing bundle")
	}
	if got := s.ModelVersion(); got != "v7" {
		t.Errorf("ModelVersion = %q", got)
	}
}

func TestScorerPredictRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	savedBundle(t, path, "v1")
	s := NewScorer(path)

	for _, v := range []features.Vector{
		{"a": 0, "b": 0, "c": 5},
		{"a": 100, "b": -100, "c": 1000},
	} {
		score := s.Predict(v)
		if score < 0 || score > 1 {
			t.Errorf("Predict(%v) = %v, outside [0,1]", v, score)
		}
	}

	// A wildly out-of-distribution point scores higher than a typical one.
	typical := s.Predict(features.Vector{"a": 0, "b": 0, "c": 5})
	extreme := s.Predict(features.Vector{"a": 100, "b": -100, "c": 1000})
	if extreme <= typical {
		t.Errorf("extreme point %v should score above typical %v", extreme, typical)
	}
}

func TestScorerReloadSwapsBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	savedBundle(t, path, "v1")
	s := NewScorer(path)

	savedBundle(t, path, "v2")
	if !s.Reload() {
		t.Fatal("Reload failed")
	}
	if got := s.ModelVersion(); got != "v2" {
		t.Errorf("ModelVersion = %q after reload", got)
	}
}

func TestScorerKeepsBundleOnCorruptReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	savedBundle(t, path, "v1")
	s := NewScorer(path)

	writeFile(t, path, "corrupted")
	if s.Reload() {
		t.Error("Reload should report failure for a corrupt file")
	}
	if !s.IsLoaded() {
		t.Error("previous bundle should survive a failed reload")
	}
	if got := s.ModelVersion(); got != "v1" {
		t.Errorf("ModelVersion = %q, want v1", got)
	}
}

func TestSigmoidNormalize(t *testing.T) {
	if got := sigmoidNormalize(0); got != 0.5 {
		t.Errorf("sigmoidNormalize(0) = %v, want 0.5", got)
	}
	// Negative raw scores (outliers) map above 0.5.
	if got := sigmoidNormalize(-0.3); got <= 0.5 {
		t.Errorf("sigmoidNormalize(-0.3) = %v, want > 0.5", got)
	}
	// Positive raw scores (inliers) map below 0.5.
	if got := sigmoidNormalize(0.3); got >= 0.5 {
		t.Errorf("sigmoidNormalize(0.3) = %v, want < 0.5", got)
	}
	if lo, hi := sigmoidNormalize(10), sigmoidNormalize(-10); lo < 0 || hi > 1 {
		t.Errorf("extremes escape [0,1]: %v, %v", lo, hi)
	}
}
