// Package rules implements the deterministic half of the hybrid detector:
// six domain rules evaluated in a fixed order over the feature window and the
// raw event stream, combined into a composite [0,1] score.
//
// Rules are the hard floor of the system — each encodes a danger pattern with
// high confidence, so a triggered rule alerts even when the model is absent.
package rules

import (
	"math"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/features"
	"github.com/safetrail-data/sentinel.report/internal/monitoring"
	"github.com/safetrail-data/sentinel.report/internal/safety"
	"github.com/safetrail-data/sentinel.report/internal/severity"
)

// Input carries everything a rule predicate may inspect. Events may be empty;
// rules that need the raw stream simply do not trigger then. LatestZoneState
// comes from the aggregation row and is nil when the window did not supply it.
type Input struct {
	Features        features.Vector
	LatestZoneState *string
	Events          []safety.Event
}

// Result is the outcome of evaluating a single rule.
type Result struct {
	RuleID      string  `json:"rule_id"`
	Triggered   bool    `json:"triggered"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// Output aggregates the whole ruleset evaluation. TriggeredRules lists the
// firing rule IDs in definition order.
type Output struct {
	RuleScore      float64        `json:"rule_score"`
	TriggeredRules []string       `json:"triggered_rules"`
	Details        []Result       `json:"details"`
	Severity       severity.Level `json:"severity"`
}

// Rule is one deterministic trigger: a predicate plus the score it
// contributes when it fires.
type Rule struct {
	ID          string
	Score       float64
	Description string
	Predicate   func(in Input) bool
}

// rapidTransitionThreshold is the maximum SAFE-to-IN_DANGER gap for R3.
const rapidTransitionThreshold = 10 * time.Second

// Ruleset is the fixed evaluation order. Definition order is a contract:
// triggered_rules on persisted alerts follows it.
var Ruleset = []Rule{
	{
		ID:          "R1",
		Score:       0.80,
		Description: "Sustained danger zone exposure (>=60s)",
		Predicate: func(in Input) bool {
			return in.Features["max_risk_timer"] >= 60 && in.Features["danger_ratio"] > 0.5
		},
	},
	{
		ID:          "R2",
		Score:       1.00,
		Description: "Panic button activated",
		Predicate: func(in Input) bool {
			return in.Features["panic_count"] > 0
		},
	},
	{
		ID:          "R3",
		Score:       0.70,
		Description: "Rapid safe-to-danger transition (<=10s)",
		Predicate: func(in Input) bool {
			return hasRapidTransition(in.Events, rapidTransitionThreshold)
		},
	},
	{
		ID:          "R4",
		Score:       0.60,
		Description: "Erratic zone transitions (>=3 in 2 min)",
		Predicate: func(in Input) bool {
			return in.Features["zone_transitions"] >= 3
		},
	},
	{
		ID:          "R5",
		Score:       0.90,
		Description: "Extended danger exposure (>=120s)",
		Predicate: func(in Input) bool {
			return in.Features["max_risk_timer"] >= 120
		},
	},
	{
		ID:          "R6",
		Score:       0.75,
		Description: "In danger zone >=30s with no exit",
		Predicate: func(in Input) bool {
			if in.LatestZoneState == nil || *in.LatestZoneState != safety.ZoneInDanger {
				return false
			}
			if in.Features["max_risk_timer"] < 30 {
				return false
			}
			for i := range in.Events {
				if in.Events[i].EventType == safety.EventZoneExit {
					return false
				}
			}
			return true
		},
	},
}

// hasRapidTransition scans time-ordered events for a SAFE state followed by
// an IN_DANGER state within the threshold (inclusive). Events without a
// usable timestamp are skipped.
func hasRapidTransition(events []safety.Event, threshold time.Duration) bool {
	if len(events) == 0 {
		return false
	}
	sorted := make([]safety.Event, len(events))
	copy(sorted, events)
	safety.SortEventsByTime(sorted)

	var safeAt *time.Time
	for i := range sorted {
		e := &sorted[i]
		if e.Timestamp.IsZero() {
			continue
		}
		switch e.ZoneState {
		case safety.ZoneSafe:
			ts := e.Timestamp
			safeAt = &ts
		case safety.ZoneInDanger:
			if safeAt != nil && e.Timestamp.Sub(*safeAt) <= threshold {
				return true
			}
		}
	}
	return false
}

// Evaluate runs every rule in definition order and composes the final score.
// A panicking predicate is logged and contributes nothing; the remaining
// rules still evaluate. One bad rule must never break an analysis cycle.
func Evaluate(in Input) Output {
	results := make([]Result, 0, len(Ruleset))
	var triggered []Result

	for i := range Ruleset {
		rule := &Ruleset[i]
		fired, ok := evalRule(rule, in)
		if !ok {
			continue
		}
		res := Result{
			RuleID:      rule.ID,
			Triggered:   fired,
			Description: rule.Description,
		}
		if fired {
			res.Score = rule.Score
			triggered = append(triggered, res)
		}
		results = append(results, res)
	}

	if len(triggered) == 0 {
		return Output{
			RuleScore:      0,
			TriggeredRules: []string{},
			Details:        results,
			Severity:       severity.Low,
		}
	}

	score := 0.0
	ids := make([]string, len(triggered))
	for i, t := range triggered {
		ids[i] = t.RuleID
		if t.Score > score {
			score = t.Score
		}
	}
	if len(triggered) >= 2 {
		score = math.Min(1.0, score+0.1*float64(len(triggered)-1))
	}

	sev := severity.Classify(score)
	monitoring.Logf("rules triggered: %v score=%.2f severity=%s", ids, score, sev)

	return Output{
		RuleScore:      score,
		TriggeredRules: ids,
		Details:        results,
		Severity:       sev,
	}
}

// evalRule invokes a predicate with panic containment. The second return is
// false when the predicate panicked.
func evalRule(rule *Rule, in Input) (fired bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("rule %s panicked: %v", rule.ID, r)
			fired, ok = false, false
		}
	}()
	return rule.Predicate(in), true
}
