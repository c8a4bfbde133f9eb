// Package features assembles the canonical 12-dimensional feature vector
// consumed by both the rule engine and the isolation forest. The first ten
// features come from the Event Store's 2-minute aggregation; the last two
// (distance_traveled, speed_estimate) require ordered-pair Haversine sums
// over the raw events and are computed here.
package features

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/safetrail-data/sentinel.report/internal/geo"
	"github.com/safetrail-data/sentinel.report/internal/safety"
)

// Columns is the canonical feature ordering. It is a stable contract: model
// bundles record it at training time and scoring reads vectors through it.
var Columns = []string{
	"event_count",
	"unique_zones",
	"danger_ratio",
	"caution_ratio",
	"panic_count",
	"zone_transitions",
	"max_risk_timer",
	"avg_risk_timer",
	"lat_std",
	"lng_std",
	"distance_traveled",
	"speed_estimate",
}

// Defaults for the analysis window geometry (seconds).
const (
	DefaultWindowSeconds = 120.0
	DefaultStrideSeconds = 30.0
)

// Vector maps feature names to values. Every canonical column is always
// present; inputs missing from the aggregated row become 0.
type Vector map[string]float64

// Row flattens the vector into the given column order, defaulting absent
// names to 0. Used to feed the model, which may have been trained against an
// older column list.
func (v Vector) Row(columns []string) []float64 {
	row := make([]float64, len(columns))
	for i, col := range columns {
		row[i] = v[col]
	}
	return row
}

// Enrich merges an aggregated window row with the raw events into the full
// feature vector. Distance is the sum of consecutive Haversine segments over
// the time-sorted events; pairs missing a position are skipped. Speed is
// distance over the window width (0 for a non-positive width).
func Enrich(agg safety.AggregatedWindow, events []safety.Event, windowSeconds float64) Vector {
	distance := DistanceTraveled(events)
	speed := 0.0
	if windowSeconds > 0 {
		speed = distance / windowSeconds
	}

	return Vector{
		"event_count":       agg.EventCount,
		"unique_zones":      agg.UniqueZones,
		"danger_ratio":      agg.DangerRatio,
		"caution_ratio":     agg.CautionRatio,
		"panic_count":       agg.PanicCount,
		"zone_transitions":  agg.ZoneTransitions,
		"max_risk_timer":    agg.MaxRiskTimer,
		"avg_risk_timer":    agg.AvgRiskTimer,
		"lat_std":           agg.LatStd,
		"lng_std":           agg.LngStd,
		"distance_traveled": distance,
		"speed_estimate":    speed,
	}
}

// DistanceTraveled sums Haversine distances over consecutive time-ordered
// events. The input slice is not modified.
func DistanceTraveled(events []safety.Event) float64 {
	if len(events) < 2 {
		return 0
	}
	sorted := make([]safety.Event, len(events))
	copy(sorted, events)
	safety.SortEventsByTime(sorted)

	total := 0.0
	for i := 1; i < len(sorted); i++ {
		prev, curr := &sorted[i-1], &sorted[i]
		if !prev.HasPosition() || !curr.HasPosition() {
			continue
		}
		total += geo.Distance(*prev.Latitude, *prev.Longitude, *curr.Latitude, *curr.Longitude)
	}
	return total
}

// Aggregate computes the ten aggregated features plus the latest-position
// fields directly from a window of one tourist's events. This is the same
// arithmetic the Event Store adapter applies to live windows, so training
// and inference see identical feature semantics.
func Aggregate(events []safety.Event) safety.AggregatedWindow {
	agg := safety.AggregatedWindow{}
	n := len(events)
	if n == 0 {
		return agg
	}

	sorted := make([]safety.Event, n)
	copy(sorted, events)
	safety.SortEventsByTime(sorted)
	agg.TouristID = sorted[0].TouristID

	zones := make(map[string]struct{})
	var dangerCount, cautionCount, panicCount, transitions int
	var riskSum float64
	var lats, lngs []float64

	for i := range sorted {
		e := &sorted[i]
		if e.ZoneState != "" {
			zones[e.ZoneState] = struct{}{}
		}
		switch e.ZoneState {
		case safety.ZoneInDanger, safety.ZoneNearDanger:
			dangerCount++
		case safety.ZoneInCaution, safety.ZoneNearCaution:
			cautionCount++
		}
		switch e.EventType {
		case safety.EventPanic:
			panicCount++
		case safety.EventZoneEnter, safety.EventZoneExit:
			transitions++
		}
		riskSum += e.RiskTimerValue
		if e.RiskTimerValue > agg.MaxRiskTimer {
			agg.MaxRiskTimer = e.RiskTimerValue
		}
		if e.HasPosition() {
			lats = append(lats, *e.Latitude)
			lngs = append(lngs, *e.Longitude)
		}
	}

	agg.EventCount = float64(n)
	agg.UniqueZones = float64(len(zones))
	agg.DangerRatio = float64(dangerCount) / float64(n)
	agg.CautionRatio = float64(cautionCount) / float64(n)
	agg.PanicCount = float64(panicCount)
	agg.ZoneTransitions = float64(transitions)
	agg.AvgRiskTimer = riskSum / float64(n)
	agg.LatStd = sampleStdDev(lats)
	agg.LngStd = sampleStdDev(lngs)

	latest := &sorted[n-1]
	if latest.ZoneState != "" {
		zs := latest.ZoneState
		agg.LatestZoneState = &zs
	}
	if latest.HasPosition() {
		lat, lng := *latest.Latitude, *latest.Longitude
		agg.LatestLatitude = &lat
		agg.LatestLongitude = &lng
	}
	return agg
}

// sampleStdDev is the n-1 standard deviation with 0 on degenerate inputs.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sd := stat.StdDev(xs, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

// TrainingWindow is one (tourist, window) sample of the training matrix.
type TrainingWindow struct {
	TouristID string
	Vector    Vector
}

// BuildTrainingMatrix slides a window of windowSeconds width in strideSeconds
// increments over each tourist's time-sorted events, starting at the group's
// first timestamp and stopping once the window start passes the last one.
// Windows with at least three events yield one full feature vector computed
// from the window slice alone. Pure function: no Event Store access.
func BuildTrainingMatrix(events []safety.Event, windowSeconds, strideSeconds float64) []TrainingWindow {
	if len(events) == 0 || windowSeconds <= 0 || strideSeconds <= 0 {
		return nil
	}

	groups := make(map[string][]safety.Event)
	var order []string
	for _, e := range events {
		if e.TouristID == "" {
			continue
		}
		if _, ok := groups[e.TouristID]; !ok {
			order = append(order, e.TouristID)
		}
		groups[e.TouristID] = append(groups[e.TouristID], e)
	}
	sort.Strings(order)

	window := time.Duration(windowSeconds * float64(time.Second))
	stride := time.Duration(strideSeconds * float64(time.Second))

	var out []TrainingWindow
	for _, id := range order {
		group := groups[id]
		safety.SortEventsByTime(group)
		last := group[len(group)-1].Timestamp

		for start := group[0].Timestamp; !start.After(last); start = start.Add(stride) {
			end := start.Add(window)
			var slice []safety.Event
			for i := range group {
				ts := group[i].Timestamp
				if !ts.Before(start) && ts.Before(end) {
					slice = append(slice, group[i])
				}
			}
			if len(slice) < 3 {
				continue
			}
			agg := Aggregate(slice)
			out = append(out, TrainingWindow{
				TouristID: id,
				Vector:    Enrich(agg, slice, windowSeconds),
			})
		}
	}
	return out
}
