package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks a position from open through resolution.
type PositionStatus string

const (
	PositionOpen      PositionStatus = "open"
	PositionResolving PositionStatus = "resolving"
	PositionResolved  PositionStatus = "resolved"
	PositionDisputed  PositionStatus = "disputed"
)

// Position is an open or historical two-leg arbitrage position. It is owned
// exclusively by the position tracker; other components read and write it
// only through the tracker's API.
type Position struct {
	ID             string
	ExecutionID    string
	Venue1         string
	Venue2         string
	Market1ID      string
	Market2ID      string
	Side1          Side
	Side2          Side
	Entry1         decimal.Decimal
	Entry2         decimal.Decimal
	Size           decimal.Decimal
	TotalCost      decimal.Decimal
	ExpectedPayout decimal.Decimal
	ExpectedProfit decimal.Decimal
	Status         PositionStatus
	OpenedAt       time.Time
	ResolvedAt     *time.Time
}

// PositionPnL is the monitor's per-cycle mark-to-market of one position.
// Recomputed every sweep from live bids, emitted, never persisted by the core.
type PositionPnL struct {
	PositionID     string          `json:"position_id"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	ExpectedPayout decimal.Decimal `json:"expected_payout"`
	Timestamp      time.Time       `json:"timestamp"`
}
