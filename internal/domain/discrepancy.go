package domain

import "time"

// DiscrepancyType classifies a detected mismatch between assumed and observed
// position state.
type DiscrepancyType string

const (
	DiscrepancyMissingLeg           DiscrepancyType = "missing_leg"
	DiscrepancySizeMismatch         DiscrepancyType = "size_mismatch"
	DiscrepancyResolutionDivergence DiscrepancyType = "resolution_divergence"
	DiscrepancyPrematureResolution  DiscrepancyType = "premature_resolution"
)

// DiscrepancySeverity ranks how urgently a discrepancy needs attention.
type DiscrepancySeverity string

const (
	SeverityCritical DiscrepancySeverity = "critical"
	SeverityHigh     DiscrepancySeverity = "high"
	SeverityMedium   DiscrepancySeverity = "medium"
)

// Discrepancy is an ephemeral event emitted by the position monitor when a
// health check disagrees with what the tracker recorded. The core emits
// discrepancies; it never stores them.
type Discrepancy struct {
	PositionID string              `json:"position_id"`
	Type       DiscrepancyType     `json:"type"`
	Severity   DiscrepancySeverity `json:"severity"`
	Detail     string              `json:"detail"`
	Timestamp  time.Time           `json:"timestamp"`
}
