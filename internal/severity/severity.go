// Package severity defines the ordered alert severity scale shared by the
// rule engine and the hybrid fusion step.
package severity

import "fmt"

// Level is an ordered severity label: LOW < MEDIUM < HIGH < CRITICAL.
type Level string

const (
	Low      Level = "LOW"
	Medium   Level = "MEDIUM"
	High     Level = "HIGH"
	Critical Level = "CRITICAL"
)

// rank maps each level to its position in the ordering.
var rank = map[Level]int{
	Low:      0,
	Medium:   1,
	High:     2,
	Critical: 3,
}

// Classify maps a [0,1] score to a severity level. Band lower bounds are
// inclusive: 0.8 is CRITICAL, 0.6 is HIGH, 0.3 is MEDIUM.
func Classify(score float64) Level {
	switch {
	case score >= 0.8:
		return Critical
	case score >= 0.6:
		return High
	case score >= 0.3:
		return Medium
	default:
		return Low
	}
}

// Meets reports whether l ranks at or above threshold.
func (l Level) Meets(threshold Level) bool {
	return rank[l] >= rank[threshold]
}

// Parse validates a severity label from configuration or the wire.
func Parse(s string) (Level, error) {
	l := Level(s)
	if _, ok := rank[l]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return l, nil
}
