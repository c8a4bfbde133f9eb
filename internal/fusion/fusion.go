// Package fusion combines the rule engine score and the isolation-forest
// anomaly score into one hybrid assessment.
//
// Rules dominate (weight 0.6): they encode high-confidence domain knowledge.
// The model (weight 0.4) catches deviations rules cannot express. Concordance
// between the two adjusts the fused score: agreement on danger earns a +0.1
// bonus; a model-only signal is dampened to cut false positives from noise.
package fusion

import (
	"math"

	"github.com/safetrail-data/sentinel.report/internal/monitoring"
	"github.com/safetrail-data/sentinel.report/internal/severity"
)

// Default component weights.
const (
	DefaultRuleWeight = 0.6
	DefaultMLWeight   = 0.4
)

// Concordance labels the agreement pattern between the two scoring systems.
type Concordance string

const (
	AgreeHigh Concordance = "AGREE_HIGH"
	AgreeLow  Concordance = "AGREE_LOW"
	RuleOnly  Concordance = "RULE_ONLY"
	MLOnly    Concordance = "ML_ONLY"
	Conflict  Concordance = "CONFLICT"
)

// Result is the output of the fusion step.
type Result struct {
	HybridScore  float64        `json:"hybrid_score"`
	Severity     severity.Level `json:"severity"`
	RuleScore    float64        `json:"rule_score"`
	AnomalyScore float64        `json:"anomaly_score"`
	Concordance  Concordance    `json:"concordance"`
	ShouldAlert  bool           `json:"should_alert"`
}

// Combine fuses the two [0,1] scores under the given weights and decides
// whether the outcome warrants an alert against alertThreshold.
func Combine(ruleScore, anomalyScore, ruleWeight, mlWeight float64, alertThreshold severity.Level) Result {
	hybrid := ruleWeight*ruleScore + mlWeight*anomalyScore

	concordance := classifyConcordance(ruleScore, anomalyScore)
	switch concordance {
	case AgreeHigh:
		hybrid = math.Min(1.0, hybrid+0.1)
	case MLOnly:
		hybrid *= 0.7
	}
	hybrid = math.Max(0.0, math.Min(1.0, hybrid))

	sev := severity.Classify(hybrid)
	shouldAlert := sev.Meets(alertThreshold)

	monitoring.Logf("fusion: rule=%.2f ml=%.2f hybrid=%.2f severity=%s concordance=%s alert=%t",
		ruleScore, anomalyScore, hybrid, sev, concordance, shouldAlert)

	return Result{
		HybridScore:  hybrid,
		Severity:     sev,
		RuleScore:    ruleScore,
		AnomalyScore: anomalyScore,
		Concordance:  concordance,
		ShouldAlert:  shouldAlert,
	}
}

// classifyConcordance picks the first matching label; order matters.
func classifyConcordance(rule, ml float64) Concordance {
	switch {
	case rule > 0.5 && ml > 0.5:
		return AgreeHigh
	case rule < 0.2 && ml < 0.3:
		return AgreeLow
	case rule > 0.5 && ml < 0.3:
		return RuleOnly
	case rule < 0.2 && ml > 0.7:
		return MLOnly
	default:
		return Conflict
	}
}
