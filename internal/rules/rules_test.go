package rules

import (
	"math"
	"testing"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/features"
	"github.com/safetrail-data/sentinel.report/internal/safety"
	"github.com/safetrail-data/sentinel.report/internal/severity"
)

func vec(kv map[string]float64) features.Vector {
	v := features.Vector{}
	for _, col := range features.Columns {
		v[col] = 0
	}
	for k, val := range kv {
		v[k] = val
	}
	return v
}

func strptr(s string) *string { return &s }

func TestNoRulesTriggered(t *testing.T) {
	out := Evaluate(Input{Features: vec(nil)})
	if out.RuleScore != 0 {
		t.Errorf("RuleScore = %v, want 0", out.RuleScore)
	}
	if out.TriggeredRules == nil {
		t.Error("TriggeredRules should be an empty slice, not nil")
	}
	if len(out.TriggeredRules) != 0 {
		t.Errorf("TriggeredRules = %v", out.TriggeredRules)
	}
	if out.Severity != severity.Low {
		t.Errorf("Severity = %s, want LOW", out.Severity)
	}
}

func TestR1SustainedDangerBoundary(t *testing.T) {
	// danger_ratio exactly 0.5 is not enough.
	out := Evaluate(Input{Features: vec(map[string]float64{
		"max_risk_timer": 60, "danger_ratio": 0.5,
	})})
	if len(out.TriggeredRules) != 0 {
		t.Errorf("R1 should not fire at danger_ratio == 0.5, got %v", out.TriggeredRules)
	}

	out = Evaluate(Input{Features: vec(map[string]float64{
		"max_risk_timer": 60, "danger_ratio": 0.51,
	})})
	if len(out.TriggeredRules) != 1 || out.TriggeredRules[0] != "R1" {
		t.Fatalf("expected only R1, got %v", out.TriggeredRules)
	}
	if out.RuleScore != 0.80 {
		t.Errorf("RuleScore = %v, want 0.80", out.RuleScore)
	}
	if out.Severity != severity.Critical {
		t.Errorf("Severity = %s, want CRITICAL", out.Severity)
	}
}

func TestR2PanicOverridesEverything(t *testing.T) {
	out := Evaluate(Input{Features: vec(map[string]float64{"panic_count": 1})})
	if out.RuleScore != 1.0 {
		t.Errorf("RuleScore = %v, want 1.0", out.RuleScore)
	}
	if out.TriggeredRules[0] != "R2" {
		t.Errorf("TriggeredRules = %v", out.TriggeredRules)
	}
}

func TestR3RapidTransition(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	mk := func(gap time.Duration) []safety.Event {
		return []safety.Event{
			{TouristID: "t1", Timestamp: base, ZoneState: safety.ZoneSafe},
			{TouristID: "t1", Timestamp: base.Add(gap), ZoneState: safety.ZoneInDanger},
		}
	}

	out := Evaluate(Input{Features: vec(nil), Events: mk(10 * time.Second)})
	if len(out.TriggeredRules) != 1 || out.TriggeredRules[0] != "R3" {
		t.Errorf("R3 should fire at exactly 10s, got %v", out.TriggeredRules)
	}

	out = Evaluate(Input{Features: vec(nil), Events: mk(11 * time.Second)})
	for _, id := range out.TriggeredRules {
		if id == "R3" {
			t.Error("R3 should not fire above 10s")
		}
	}
}

func TestR3IntermediateStatesDoNotReset(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []safety.Event{
		{TouristID: "t1", Timestamp: base, ZoneState: safety.ZoneSafe},
		{TouristID: "t1", Timestamp: base.Add(4 * time.Second), ZoneState: safety.ZoneInCaution},
		{TouristID: "t1", Timestamp: base.Add(8 * time.Second), ZoneState: safety.ZoneInDanger},
	}
	out := Evaluate(Input{Features: vec(nil), Events: events})
	found := false
	for _, id := range out.TriggeredRules {
		if id == "R3" {
			found = true
		}
	}
	if !found {
		t.Error("R3 should fire: SAFE at t=0, IN_DANGER at t=8s")
	}
}

func TestR4ErraticTransitions(t *testing.T) {
	out := Evaluate(Input{Features: vec(map[string]float64{"zone_transitions": 3})})
	if len(out.TriggeredRules) != 1 || out.TriggeredRules[0] != "R4" {
		t.Errorf("expected R4 at 3 transitions, got %v", out.TriggeredRules)
	}
	if out.RuleScore != 0.60 {
		t.Errorf("RuleScore = %v, want 0.60", out.RuleScore)
	}
}

func TestR5ExtendedExposureStacksWithR1(t *testing.T) {
	out := Evaluate(Input{Features: vec(map[string]float64{
		"max_risk_timer": 120, "danger_ratio": 0.9,
	})})
	// R1 and R5 both fire: max(0.8, 0.9) + 0.1 = 1.0.
	if len(out.TriggeredRules) != 2 {
		t.Fatalf("expected R1+R5, got %v", out.TriggeredRules)
	}
	if out.TriggeredRules[0] != "R1" || out.TriggeredRules[1] != "R5" {
		t.Errorf("definition order violated: %v", out.TriggeredRules)
	}
	if math.Abs(out.RuleScore-1.0) > 1e-9 {
		t.Errorf("RuleScore = %v, want 1.0", out.RuleScore)
	}
}

func TestR6NoExit(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	feats := vec(map[string]float64{"max_risk_timer": 30})
	stay := []safety.Event{
		{TouristID: "t1", Timestamp: base, ZoneState: safety.ZoneInDanger, EventType: safety.EventMove},
	}

	out := Evaluate(Input{
		Features:        feats,
		LatestZoneState: strptr(safety.ZoneInDanger),
		Events:          stay,
	})
	if len(out.TriggeredRules) != 1 || out.TriggeredRules[0] != "R6" {
		t.Errorf("expected R6, got %v", out.TriggeredRules)
	}

	// A ZONE_EXIT in the window suppresses R6.
	exited := append(stay, safety.Event{
		TouristID: "t1", Timestamp: base.Add(time.Minute),
		ZoneState: safety.ZoneInDanger, EventType: safety.EventZoneExit,
	})
	out = Evaluate(Input{
		Features:        feats,
		LatestZoneState: strptr(safety.ZoneInDanger),
		Events:          exited,
	})
	if len(out.TriggeredRules) != 0 {
		t.Errorf("R6 should not fire after a ZONE_EXIT, got %v", out.TriggeredRules)
	}

	// Unknown latest state suppresses R6.
	out = Evaluate(Input{Features: feats, Events: stay})
	if len(out.TriggeredRules) != 0 {
		t.Errorf("R6 should not fire without a latest zone state, got %v", out.TriggeredRules)
	}
}

func TestCompositeScoreCapped(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	// Fire R1, R2, R4, R5, R6 together; the composite caps at 1.0.
	out := Evaluate(Input{
		Features: vec(map[string]float64{
			"max_risk_timer":   120,
			"danger_ratio":     0.9,
			"panic_count":      2,
			"zone_transitions": 5,
		}),
		LatestZoneState: strptr(safety.ZoneInDanger),
		Events: []safety.Event{
			{TouristID: "t1", Timestamp: base, ZoneState: safety.ZoneInDanger, EventType: safety.EventMove},
		},
	})
	if len(out.TriggeredRules) != 5 {
		t.Fatalf("expected 5 rules, got %v", out.TriggeredRules)
	}
	if out.RuleScore != 1.0 {
		t.Errorf("RuleScore = %v, want capped 1.0", out.RuleScore)
	}
	if out.Severity != severity.Critical {
		t.Errorf("Severity = %s", out.Severity)
	}
}

func TestPanickingRuleIsContained(t *testing.T) {
	saved := Ruleset
	defer func() { Ruleset = saved }()

	Ruleset = append([]Rule{
		{
			ID:          "R0",
			Score:       0.5,
			Description: "always panics",
			Predicate:   func(Input) bool { panic("boom") },
		},
	}, saved...)

	out := Evaluate(Input{Features: vec(map[string]float64{"panic_count": 1})})
	if out.RuleScore != 1.0 {
		t.Errorf("remaining rules should still evaluate, RuleScore = %v", out.RuleScore)
	}
	if len(out.TriggeredRules) != 1 || out.TriggeredRules[0] != "R2" {
		t.Errorf("TriggeredRules = %v", out.TriggeredRules)
	}
}

func TestRapidTransitionSkipsZeroTimestamps(t *testing.T) {
	events := []safety.Event{
		{TouristID: "t1", ZoneState: safety.ZoneSafe},
		{TouristID: "t1", ZoneState: safety.ZoneInDanger},
	}
	if hasRapidTransition(events, rapidTransitionThreshold) {
		t.Error("events without timestamps must not trigger R3")
	}
}
