// Command train fits an isolation forest from SAFE-simulation events in the
// event store and writes the model bundle the service loads at startup.
//
// Usage:
//
//	train -db sentinel_data.db -days 7 -output models/isolation_forest_v1.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/safetrail-data/sentinel.report/internal/eventstore"
	"github.com/safetrail-data/sentinel.report/internal/features"
	"github.com/safetrail-data/sentinel.report/internal/iforest"
)

func main() {
	var (
		dbPath        = flag.String("db", "sentinel_data.db", "event store path")
		days          = flag.Int("days", 7, "how many days of SAFE events to train on")
		limit         = flag.Int("limit", 50000, "maximum number of events to load")
		estimators    = flag.Int("estimators", iforest.DefaultTrees, "number of trees")
		contamination = flag.Float64("contamination", iforest.DefaultContamination, "expected anomaly fraction (recorded as metadata)")
		seed          = flag.Int64("seed", iforest.DefaultSeed, "random seed")
		version       = flag.String("version", "v1", "model version label")
		output        = flag.String("output", "models/isolation_forest_v1.json", "bundle output path")
		plotPath      = flag.String("plot", "", "optional PNG path for the training score histogram")
	)
	flag.Parse()

	if err := run(*dbPath, *days, *limit, *estimators, *contamination, *seed, *version, *output, *plotPath); err != nil {
		log.Printf("training failed: %v", err)
		os.Exit(1)
	}
}

func run(dbPath string, days, limit, estimators int, contamination float64, seed int64, version, output, plotPath string) error {
	db, err := eventstore.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	events, err := db.ReadSafeTrainingEvents(ctx, days, limit)
	if err != nil {
		return err
	}
	log.Printf("loaded %d SAFE events from the last %d days", len(events), days)

	windows := features.BuildTrainingMatrix(events, features.DefaultWindowSeconds, features.DefaultStrideSeconds)
	log.Printf("built %d feature windows", len(windows))

	matrix := make([][]float64, len(windows))
	for i, w := range windows {
		matrix[i] = w.Vector.Row(features.Columns)
	}

	bundle, err := iforest.TrainBundle(matrix, features.Columns, iforest.TrainConfig{
		Trees:         estimators,
		Contamination: contamination,
		Seed:          seed,
		Version:       version,
	})
	if err != nil {
		return err
	}
	if err := bundle.Save(output); err != nil {
		return err
	}
	log.Printf("model %s saved to %s: samples=%d trees=%d threshold=%.4f",
		bundle.ModelVersion, output, bundle.TrainingSamples, bundle.NumTrees, bundle.Threshold)

	if plotPath != "" {
		scores := bundle.Forest.DecisionFunctionBatch(matrix)
		if err := saveHistogram(scores, bundle.Threshold, plotPath); err != nil {
			return fmt.Errorf("failed to render score histogram: %w", err)
		}
		log.Printf("score histogram saved to %s", plotPath)
	}
	return nil
}

// saveHistogram renders the decision-score distribution so a drifting
// training set is visible before the model ships.
func saveHistogram(scores []float64, threshold float64, path string) error {
	p := plot.New()
	p.Title.Text = "Training decision scores"
	p.X.Label.Text = "decision function"
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(plotter.Values(scores), 40)
	if err != nil {
		return err
	}
	p.Add(h)

	cut := plotter.XYs{{X: threshold, Y: 0}, {X: threshold, Y: h.Bins[maxBin(h)].Weight}}
	line, err := plotter.NewLine(cut)
	if err != nil {
		return err
	}
	p.Add(line)
	p.Legend.Add("p5 threshold", line)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func maxBin(h *plotter.Histogram) int {
	best := 0
	for i, b := range h.Bins {
		if b.Weight > h.Bins[best].Weight {
			best = i
		}
	}
	return best
}
