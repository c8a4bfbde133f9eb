package features

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/safetrail-data/sentinel.report/internal/safety"
)

func ptr(v float64) *float64 { return &v }

func eventAt(id string, ts time.Time, zone, etype string, risk float64, lat, lng *float64) safety.Event {
	return safety.Event{
		TouristID:      id,
		Timestamp:      ts,
		ZoneState:      zone,
		EventType:      etype,
		RiskTimerValue: risk,
		Latitude:       lat,
		Longitude:      lng,
	}
}

func TestEnrichAlwaysHasAllColumns(t *testing.T) {
	vec := Enrich(safety.AggregatedWindow{}, nil, DefaultWindowSeconds)
	if len(vec) != len(Columns) {
		t.Fatalf("vector has %d entries, want %d", len(vec), len(Columns))
	}
	for _, col := range Columns {
		if _, ok := vec[col]; !ok {
			t.Errorf("missing column %s", col)
		}
	}
}

func TestEnrichSpeedFromDistance(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 0, ptr(0), ptr(0)),
		eventAt("t1", base.Add(30*time.Second), safety.ZoneSafe, safety.EventMove, 0, ptr(0.001), ptr(0)),
	}
	vec := Enrich(safety.AggregatedWindow{}, events, 120)

	dist := vec["distance_traveled"]
	if dist < 110 || dist > 112 {
		t.Errorf("distance_traveled = %v, want ~111", dist)
	}
	if got, want := vec["speed_estimate"], dist/120; math.Abs(got-want) > 1e-9 {
		t.Errorf("speed_estimate = %v, want %v", got, want)
	}
}

func TestEnrichZeroWindowYieldsZeroSpeed(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 0, ptr(0), ptr(0)),
		eventAt("t1", base.Add(time.Second), safety.ZoneSafe, safety.EventMove, 0, ptr(0.001), ptr(0)),
	}
	vec := Enrich(safety.AggregatedWindow{}, events, 0)
	if vec["speed_estimate"] != 0 {
		t.Errorf("speed_estimate = %v, want 0 for non-positive window", vec["speed_estimate"])
	}
}

func TestDistanceTraveledSkipsMissingPositions(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 0, ptr(0), ptr(0)),
		eventAt("t1", base.Add(10*time.Second), safety.ZoneSafe, safety.EventMove, 0, nil, nil),
		eventAt("t1", base.Add(20*time.Second), safety.ZoneSafe, safety.EventMove, 0, ptr(0.001), ptr(0)),
	}
	// Only the missing-position pairs are skipped; the 0 -> 0.001 hop never
	// forms a consecutive pair, so the total is 0.
	if d := DistanceTraveled(events); d != 0 {
		t.Errorf("DistanceTraveled = %v, want 0", d)
	}
}

func TestDistanceTraveledDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		eventAt("t1", base.Add(20*time.Second), safety.ZoneSafe, safety.EventMove, 0, ptr(0.001), ptr(0)),
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 0, ptr(0), ptr(0)),
	}
	before := append([]safety.Event(nil), events...)
	DistanceTraveled(events)
	if diff := cmp.Diff(before, events); diff != "" {
		t.Errorf("input slice mutated:\n%s", diff)
	}
}

func TestAggregate(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 0, ptr(10.0), ptr(20.0)),
		eventAt("t1", base.Add(30*time.Second), safety.ZoneInDanger, safety.EventZoneEnter, 15, ptr(10.001), ptr(20.0)),
		eventAt("t1", base.Add(60*time.Second), safety.ZoneInDanger, safety.EventPanic, 45, ptr(10.002), ptr(20.001)),
		eventAt("t1", base.Add(90*time.Second), safety.ZoneInCaution, safety.EventZoneExit, 0, nil, nil),
	}
	agg := Aggregate(events)

	if agg.TouristID != "t1" {
		t.Errorf("TouristID = %q", agg.TouristID)
	}
	if agg.EventCount != 4 {
		t.Errorf("EventCount = %v", agg.EventCount)
	}
	if agg.UniqueZones != 3 {
		t.Errorf("UniqueZones = %v", agg.UniqueZones)
	}
	if agg.DangerRatio != 0.5 {
		t.Errorf("DangerRatio = %v", agg.DangerRatio)
	}
	if agg.CautionRatio != 0.25 {
		t.Errorf("CautionRatio = %v", agg.CautionRatio)
	}
	if agg.PanicCount != 1 {
		t.Errorf("PanicCount = %v", agg.PanicCount)
	}
	if agg.ZoneTransitions != 2 {
		t.Errorf("ZoneTransitions = %v", agg.ZoneTransitions)
	}
	if agg.MaxRiskTimer != 45 {
		t.Errorf("MaxRiskTimer = %v", agg.MaxRiskTimer)
	}
	if agg.AvgRiskTimer != 15 {
		t.Errorf("AvgRiskTimer = %v", agg.AvgRiskTimer)
	}
	if agg.LatestZoneState == nil || *agg.LatestZoneState != safety.ZoneInCaution {
		t.Errorf("LatestZoneState = %v", agg.LatestZoneState)
	}
	// Latest event has no position, so the latest coordinates are absent.
	if agg.LatestLatitude != nil || agg.LatestLongitude != nil {
		t.Errorf("latest position should be nil, got %v/%v", agg.LatestLatitude, agg.LatestLongitude)
	}
	if agg.LatStd <= 0 || agg.LngStd <= 0 {
		t.Errorf("std devs should be positive: lat=%v lng=%v", agg.LatStd, agg.LngStd)
	}
}

func TestAggregateEmptyAndSingle(t *testing.T) {
	if got := Aggregate(nil); !cmp.Equal(got, safety.AggregatedWindow{}, cmpopts.EquateEmpty()) {
		t.Errorf("Aggregate(nil) = %+v", got)
	}

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	agg := Aggregate([]safety.Event{
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 3, ptr(1), ptr(2)),
	})
	if agg.EventCount != 1 || agg.LatStd != 0 || agg.LngStd != 0 {
		t.Errorf("single event: %+v", agg)
	}
	if agg.LatestLatitude == nil || *agg.LatestLatitude != 1 {
		t.Errorf("LatestLatitude = %v", agg.LatestLatitude)
	}
}

func TestVectorRowColumnOrder(t *testing.T) {
	vec := Vector{"a": 1, "b": 2}
	row := vec.Row([]string{"b", "missing", "a"})
	want := []float64{2, 0, 1}
	if diff := cmp.Diff(want, row); diff != "" {
		t.Errorf("row mismatch:\n%s", diff)
	}
}

func TestBuildTrainingMatrix(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	var events []safety.Event
	// One tourist with 10 events at 15s spacing: several overlapping
	// 120s windows qualify.
	for i := 0; i < 10; i++ {
		events = append(events, eventAt("t1", base.Add(time.Duration(i)*15*time.Second),
			safety.ZoneSafe, safety.EventMove, 0, ptr(10+float64(i)*0.0001), ptr(20.0)))
	}
	// A second tourist with only 2 events never qualifies.
	events = append(events,
		eventAt("t2", base, safety.ZoneSafe, safety.EventMove, 0, nil, nil),
		eventAt("t2", base.Add(time.Minute), safety.ZoneSafe, safety.EventMove, 0, nil, nil),
	)

	windows := BuildTrainingMatrix(events, DefaultWindowSeconds, DefaultStrideSeconds)
	if len(windows) == 0 {
		t.Fatal("expected training windows for t1")
	}
	for _, w := range windows {
		if w.TouristID != "t1" {
			t.Errorf("unexpected tourist %s in training matrix", w.TouristID)
		}
		if len(w.Vector) != len(Columns) {
			t.Errorf("window vector has %d entries, want %d", len(w.Vector), len(Columns))
		}
		if w.Vector["event_count"] < 3 {
			t.Errorf("window with %v events should have been dropped", w.Vector["event_count"])
		}
	}

	// First window spans [0,120) and holds 8 of the 10 events.
	if got := windows[0].Vector["event_count"]; got != 8 {
		t.Errorf("first window event_count = %v, want 8", got)
	}
}

func TestBuildTrainingMatrixDegenerateInputs(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		eventAt("t1", base, safety.ZoneSafe, safety.EventMove, 0, nil, nil),
	}
	if got := BuildTrainingMatrix(nil, 120, 30); got != nil {
		t.Errorf("nil events: got %v", got)
	}
	if got := BuildTrainingMatrix(events, 0, 30); got != nil {
		t.Errorf("zero window: got %v", got)
	}
	if got := BuildTrainingMatrix(events, 120, 0); got != nil {
		t.Errorf("zero stride: got %v", got)
	}
}
