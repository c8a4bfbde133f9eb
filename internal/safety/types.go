// Package safety defines the domain records shared across the detection
// pipeline: raw tourist events, pre-aggregated feature windows, and the
// incident alerts the analysis driver persists.
package safety

import (
	"sort"
	"time"
)

// Zone states reported by the tracking frontend, ordered roughly by risk.
const (
	ZoneSafe        = "SAFE"
	ZoneNearCaution = "NEAR_CAUTION"
	ZoneInCaution   = "IN_CAUTION"
	ZoneNearDanger  = "NEAR_DANGER"
	ZoneInDanger    = "IN_DANGER"
)

// Event types carried on tourist_events rows.
const (
	EventMove      = "MOVE"
	EventZoneEnter = "ZONE_ENTER"
	EventZoneExit  = "ZONE_EXIT"
	EventPanic     = "PANIC"
)

// SimulationModeSafe marks events generated by SAFE-mode simulation runs;
// only these are eligible as isolation-forest training data.
const SimulationModeSafe = "safe"

// Event is one immutable observation of one tourist. Latitude and longitude
// are optional because MOVE events from degraded GPS fixes omit them.
type Event struct {
	TouristID      string    `json:"tourist_id"`
	Timestamp      time.Time `json:"timestamp"`
	ZoneState      string    `json:"zone_state"`
	EventType      string    `json:"event_type"`
	RiskTimerValue float64   `json:"risk_timer_value"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	SimulationMode string    `json:"simulation_mode,omitempty"`
}

// HasPosition reports whether the event carries a usable lat/lng pair.
func (e *Event) HasPosition() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// SortEventsByTime sorts events ascending by timestamp in place. The sort is
// stable so same-instant events keep their ingest order.
func SortEventsByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// AggregatedWindow is one tourist's pre-computed 2-minute summary as supplied
// by the Event Store's aggregation query. Numeric fields default to zero when
// the underlying window lacks them. The latest_* fields are derived from the
// most recent event in the window and may be absent.
type AggregatedWindow struct {
	TouristID       string   `json:"tourist_id"`
	EventCount      float64  `json:"event_count"`
	UniqueZones     float64  `json:"unique_zones"`
	DangerRatio     float64  `json:"danger_ratio"`
	CautionRatio    float64  `json:"caution_ratio"`
	PanicCount      float64  `json:"panic_count"`
	ZoneTransitions float64  `json:"zone_transitions"`
	MaxRiskTimer    float64  `json:"max_risk_timer"`
	AvgRiskTimer    float64  `json:"avg_risk_timer"`
	LatStd          float64  `json:"lat_std"`
	LngStd          float64  `json:"lng_std"`
	LatestZoneState *string  `json:"latest_zone_state,omitempty"`
	LatestLatitude  *float64 `json:"latest_latitude,omitempty"`
	LatestLongitude *float64 `json:"latest_longitude,omitempty"`
}

// IncidentAlert is the row written when an analysis cycle decides to alert.
// Scores are rounded to 4 decimals and feature values to 6 before persisting.
type IncidentAlert struct {
	ID             string             `json:"id,omitempty"`
	TouristID      string             `json:"tourist_id"`
	Timestamp      time.Time          `json:"timestamp"`
	RuleScore      float64            `json:"rule_score"`
	AnomalyScore   float64            `json:"anomaly_score"`
	HybridScore    float64            `json:"hybrid_score"`
	Severity       string             `json:"severity"`
	TriggeredRules []string           `json:"triggered_rules"`
	FeatureVector  map[string]float64 `json:"feature_vector"`
	Latitude       *float64           `json:"latitude,omitempty"`
	Longitude      *float64           `json:"longitude,omitempty"`
	ZoneState      *string            `json:"zone_state,omitempty"`
	ModelVersion   string             `json:"model_version"`
}
