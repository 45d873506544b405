package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionPhase identifies where in the two-phase protocol an attempt
// concluded.
type ExecutionPhase string

const (
	PhasePrepare   ExecutionPhase = "prepare"
	PhaseCommit    ExecutionPhase = "commit"
	PhaseCompleted ExecutionPhase = "completed"
	PhaseRollback  ExecutionPhase = "rollback"
)

// ExecutionStatus is the durable lifecycle of a recorded execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionRolledBack ExecutionStatus = "rolled_back"
)

// ExecutionPlan is the immutable, in-memory product of a successful prepare
// phase: one limit order per leg priced at each leg's live ask. Built fresh
// for every attempt and never persisted or reused.
type ExecutionPlan struct {
	Venue1         VenueClient
	Venue2         VenueClient
	Order1         OrderRequest
	Order2         OrderRequest
	TotalCost      decimal.Decimal
	ExpectedProfit decimal.Decimal
	Timeout        time.Duration
}

// ExecutionResult is the structured outcome of one Execute attempt. Order ids
// are empty when an order was never placed on that leg.
type ExecutionResult struct {
	ExecutionID    string
	Success        bool
	Order1ID       string
	Order2ID       string
	ActualSize     decimal.Decimal
	ActualCost     decimal.Decimal
	ActualProfit   decimal.Decimal
	Phase          ExecutionPhase
	Error          string
	RollbackReason string
}

// Execution is the durable record of one execution attempt.
type Execution struct {
	ID            string
	OpportunityID string
	Venue1        string
	Venue2        string
	Market1ID     string
	Market2ID     string
	Order1ID      string
	Order2ID      string
	PlannedSize   decimal.Decimal
	FilledSize    decimal.Decimal
	ActualCost    decimal.Decimal
	ActualProfit  decimal.Decimal
	Status        ExecutionStatus
	FailureReason string
	StartedAt     time.Time
	CompletedAt   *time.Time
}
