package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskDecision is the structured outcome of a pre-trade validation. Approved
// is true iff no blocker fired. Callers must always trade AdjustedSize, never
// the size they originally requested; the risk manager only ever shrinks.
type RiskDecision struct {
	Approved     bool
	AdjustedSize decimal.Decimal
	Reasons      []string
	Warnings     []string
	Blockers     []string
}

// ViolationType classifies a global risk-limit violation found by the
// periodic enforcement sweep.
type ViolationType string

const (
	ViolationOverAllocation  ViolationType = "capital_over_allocation"
	ViolationPositionCeiling ViolationType = "position_count_over_ceiling"
	ViolationDailyDeployment ViolationType = "daily_deployment_over_ceiling"
	ViolationStalePosition   ViolationType = "stale_position"
)

// RiskViolation is one finding of the enforcement sweep. The sweep only
// reports; remediation is an operational action.
type RiskViolation struct {
	Type       ViolationType
	PositionID string
	Detail     string
	Timestamp  time.Time
}
