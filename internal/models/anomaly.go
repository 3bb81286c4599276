package models

import "time"

// Severity captures detector impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MaxSeverity returns the higher of two severities under the ordering
// critical > high > medium > low.
func MaxSeverity(a, b Severity) Severity {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Detection method names reported in AnomalyResult.Method.
const (
	MethodZScore          = "z_score"
	MethodResponseZScore  = "response_time_z"
	MethodIQR             = "iqr"
	MethodIsolationForest = "ml_isolation_forest"
	MethodExternal        = "external_signals"
)

// AnomalyResult is the transient output of one detector for one evaluation.
// Produced fresh each cycle and never mutated.
type AnomalyResult struct {
	IsAnomaly     bool
	Confidence    float64 // [0,1]
	Severity      Severity
	Method        string
	BaselineValue float64
	CurrentValue  float64
	Threshold     float64
	Timestamp     time.Time
}

// NeutralResult builds the non-anomalous zero-confidence result used for
// insufficient data and unavailable capabilities.
func NeutralResult(method string, current float64, ts time.Time) AnomalyResult {
	return AnomalyResult{
		Severity:     SeverityLow,
		Method:       method,
		CurrentValue: current,
		Timestamp:    ts,
	}
}

// FusedDecision is the single verdict produced from all detector results.
type FusedDecision struct {
	IsAnomaly  bool
	Confidence float64
	Severity   Severity
	Votes      int
	Total      int
	Results    []AnomalyResult
	Timestamp  time.Time
}
