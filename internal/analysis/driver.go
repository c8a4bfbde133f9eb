// Package analysis runs the periodic detection cycle: poll the Event Store
// for active tourists, build each one's feature vector, evaluate rules and
// the isolation forest, fuse the scores, and persist alerts that cross the
// severity threshold.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/config"
	"github.com/safetrail-data/sentinel.report/internal/eventstore"
	"github.com/safetrail-data/sentinel.report/internal/features"
	"github.com/safetrail-data/sentinel.report/internal/fusion"
	"github.com/safetrail-data/sentinel.report/internal/iforest"
	"github.com/safetrail-data/sentinel.report/internal/monitoring"
	"github.com/safetrail-data/sentinel.report/internal/rules"
	"github.com/safetrail-data/sentinel.report/internal/safety"
	"github.com/safetrail-data/sentinel.report/internal/timeutil"
)

// ErrInsufficientEvents is returned by AnalyzeTourist when the tourist has
// fewer events in the window than the configured floor.
var ErrInsufficientEvents = errors.New("not enough recent events to analyze")

// ErrRetrainInProgress is returned when a retrain is requested while a
// previous one is still running.
var ErrRetrainInProgress = errors.New("retraining already in progress")

// Training data selection defaults for retraining.
const (
	DefaultTrainingDays  = 7
	DefaultTrainingLimit = 50000
)

// Assessment is the full outcome of analyzing one tourist.
type Assessment struct {
	TouristID    string          `json:"tourist_id"`
	Timestamp    time.Time       `json:"timestamp"`
	EventCount   int             `json:"event_count"`
	Features     features.Vector `json:"features"`
	Rules        rules.Output    `json:"rules"`
	Fusion       fusion.Result   `json:"fusion"`
	ModelVersion string          `json:"model_version"`
}

// Stats is a snapshot of driver counters for the health endpoint.
type Stats struct {
	CyclesRun       int64      `json:"cycles_run"`
	CyclesSkipped   int64      `json:"cycles_skipped"`
	TouristsScored  int64      `json:"tourists_scored"`
	AlertsWritten   int64      `json:"alerts_written"`
	LastCycleAt     *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleMillis int64      `json:"last_cycle_ms"`
}

// Driver owns the analysis loop. At most one cycle runs at a time: a tick
// arriving while the previous cycle is still in flight is dropped, not
// queued, so a slow Event Store cannot pile up work.
type Driver struct {
	store  eventstore.Store
	scorer *iforest.Scorer
	cfg    *config.Config
	clock  timeutil.Clock

	StopChan chan struct{}
	wg       sync.WaitGroup

	cycleRunning atomic.Bool
	retraining   atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// NewDriver wires the analysis loop to its collaborators. Pass
// timeutil.RealClock{} in production.
func NewDriver(store eventstore.Store, scorer *iforest.Scorer, cfg *config.Config, clock timeutil.Clock) *Driver {
	return &Driver{
		store:    store,
		scorer:   scorer,
		cfg:      cfg,
		clock:    clock,
		StopChan: make(chan struct{}),
	}
}

// Start launches the periodic loop in a background goroutine. The first
// cycle runs after one full interval.
func (d *Driver) Start(ctx context.Context) {
	interval := d.cfg.AnalysisInterval()
	monitoring.Logf("analysis driver starting, interval=%s workers=%d", interval, d.cfg.AnalysisWorkers)

	// Created before the goroutine starts so callers observe a registered
	// ticker as soon as Start returns.
	ticker := d.clock.NewTicker(interval)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.StopChan:
				return
			case <-ticker.C():
				if err := d.RunOnce(ctx); err != nil {
					monitoring.Logf("analysis cycle failed: %v", err)
				}
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight cycle.
func (d *Driver) Stop() {
	close(d.StopChan)
	d.wg.Wait()
	monitoring.Logf("analysis driver stopped")
}

// RunOnce executes a single analysis cycle over all active tourists. If a
// cycle is already running it returns nil after bumping the skip counter.
func (d *Driver) RunOnce(ctx context.Context) error {
	if !d.cycleRunning.CompareAndSwap(false, true) {
		d.mu.Lock()
		d.stats.CyclesSkipped++
		d.mu.Unlock()
		monitoring.Logf("analysis cycle still running, skipping tick")
		return nil
	}
	defer d.cycleRunning.Store(false)

	started := d.clock.Now()
	windows, err := d.store.ReadAggregatedWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to read aggregated windows: %w", err)
	}

	var scored, alerted int64
	if len(windows) > 0 {
		scored, alerted = d.analyzeAll(ctx, windows)
	}

	elapsed := d.clock.Since(started)
	d.mu.Lock()
	d.stats.CyclesRun++
	d.stats.TouristsScored += scored
	d.stats.AlertsWritten += alerted
	d.stats.LastCycleAt = &started
	d.stats.LastCycleMillis = elapsed.Milliseconds()
	d.mu.Unlock()

	monitoring.Logf("analysis cycle done: tourists=%d alerts=%d elapsed=%s", scored, alerted, elapsed)
	return nil
}

// analyzeAll fans the per-tourist work out over a bounded worker pool.
func (d *Driver) analyzeAll(ctx context.Context, windows []safety.AggregatedWindow) (scored, alerted int64) {
	sem := make(chan struct{}, d.cfg.AnalysisWorkers)
	var wg sync.WaitGroup
	var nScored, nAlerted atomic.Int64

	for i := range windows {
		w := windows[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			assessment, err := d.assessWindow(ctx, w)
			if err != nil {
				monitoring.Logf("failed to assess tourist %s: %v", w.TouristID, err)
				return
			}
			nScored.Add(1)
			if assessment.Fusion.ShouldAlert {
				if err := d.writeAlert(ctx, assessment, w); err != nil {
					monitoring.Logf("failed to persist alert for tourist %s: %v", w.TouristID, err)
					return
				}
				nAlerted.Add(1)
			}
		}()
	}
	wg.Wait()
	return nScored.Load(), nAlerted.Load()
}

// AnalyzeTourist runs the full pipeline for one tourist on demand and returns
// the assessment without persisting anything; only the periodic cycle writes
// incident alerts. Returns ErrInsufficientEvents when the window holds fewer
// events than the floor.
func (d *Driver) AnalyzeTourist(ctx context.Context, touristID string) (*Assessment, error) {
	events, err := d.store.ReadRecentEvents(ctx, touristID, d.cfg.FeatureWindow())
	if err != nil {
		return nil, fmt.Errorf("failed to read events for tourist %s: %w", touristID, err)
	}
	if len(events) < d.cfg.MinEventsPerWindow {
		return nil, fmt.Errorf("%w: tourist %s has %d events, need %d",
			ErrInsufficientEvents, touristID, len(events), d.cfg.MinEventsPerWindow)
	}

	agg := features.Aggregate(events)
	agg.TouristID = touristID

	return d.assess(agg, events)
}

// assessWindow fetches the raw events backing an aggregation row, then runs
// the shared scoring path.
func (d *Driver) assessWindow(ctx context.Context, agg safety.AggregatedWindow) (*Assessment, error) {
	events, err := d.store.ReadRecentEvents(ctx, agg.TouristID, d.cfg.FeatureWindow())
	if err != nil {
		return nil, err
	}
	return d.assess(agg, events)
}

// assess is the core scoring path: enrich features, evaluate rules, score
// the model, fuse.
func (d *Driver) assess(agg safety.AggregatedWindow, events []safety.Event) (*Assessment, error) {
	vec := features.Enrich(agg, events, d.cfg.FeatureWindow().Seconds())

	ruleOut := rules.Evaluate(rules.Input{
		Features:        vec,
		LatestZoneState: agg.LatestZoneState,
		Events:          events,
	})
	anomaly := d.scorer.Predict(vec)
	fused := fusion.Combine(ruleOut.RuleScore, anomaly, d.cfg.RuleWeight, d.cfg.MLWeight, d.cfg.AlertSeverityThreshold)

	return &Assessment{
		TouristID:    agg.TouristID,
		Timestamp:    d.clock.Now().UTC(),
		EventCount:   len(events),
		Features:     vec,
		Rules:        ruleOut,
		Fusion:       fused,
		ModelVersion: d.scorer.ModelVersion(),
	}, nil
}

// writeAlert converts an assessment into an incident alert and persists it.
// Scores round to 4 decimals and feature values to 6.
func (d *Driver) writeAlert(ctx context.Context, a *Assessment, agg safety.AggregatedWindow) error {
	fv := make(map[string]float64, len(a.Features))
	for k, v := range a.Features {
		fv[k] = roundTo(v, 6)
	}

	alert := &safety.IncidentAlert{
		TouristID:      a.TouristID,
		Timestamp:      a.Timestamp,
		RuleScore:      roundTo(a.Fusion.RuleScore, 4),
		AnomalyScore:   roundTo(a.Fusion.AnomalyScore, 4),
		HybridScore:    roundTo(a.Fusion.HybridScore, 4),
		Severity:       string(a.Fusion.Severity),
		TriggeredRules: a.Rules.TriggeredRules,
		FeatureVector:  fv,
		Latitude:       agg.LatestLatitude,
		Longitude:      agg.LatestLongitude,
		ZoneState:      agg.LatestZoneState,
		ModelVersion:   a.ModelVersion,
	}
	if err := d.store.WriteIncidentAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to write incident alert: %w", err)
	}
	monitoring.Logf("alert written: tourist=%s severity=%s hybrid=%.4f rules=%v id=%s",
		alert.TouristID, alert.Severity, alert.HybridScore, alert.TriggeredRules, alert.ID)
	return nil
}

// Retrain fits a fresh model from recent SAFE-simulation events, saves it
// atomically over the configured model path, and hot-swaps the scorer. At
// most one retrain runs at a time.
func (d *Driver) Retrain(ctx context.Context, version string) error {
	if !d.retraining.CompareAndSwap(false, true) {
		return ErrRetrainInProgress
	}
	defer d.retraining.Store(false)

	events, err := d.store.ReadSafeTrainingEvents(ctx, DefaultTrainingDays, DefaultTrainingLimit)
	if err != nil {
		return fmt.Errorf("failed to read training events: %w", err)
	}

	windows := features.BuildTrainingMatrix(events, features.DefaultWindowSeconds, features.DefaultStrideSeconds)
	matrix := make([][]float64, len(windows))
	for i, w := range windows {
		matrix[i] = w.Vector.Row(features.Columns)
	}

	bundle, err := iforest.TrainBundle(matrix, features.Columns, iforest.TrainConfig{
		Trees:         iforest.DefaultTrees,
		Contamination: iforest.DefaultContamination,
		Seed:          iforest.DefaultSeed,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("retraining failed: %w", err)
	}
	if err := bundle.Save(d.cfg.ModelPath); err != nil {
		return err
	}
	if !d.scorer.Reload() {
		return fmt.Errorf("model saved but reload failed, scorer unchanged")
	}
	monitoring.Logf("retrain complete: version=%s windows=%d threshold=%.4f",
		bundle.ModelVersion, bundle.TrainingSamples, bundle.Threshold)
	return nil
}

// IsRetraining reports whether a retrain is currently running.
func (d *Driver) IsRetraining() bool {
	return d.retraining.Load()
}

// Stats returns a copy of the driver counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
