package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapitalStatus is the single, globally shared capital-allocation record.
// Invariant: Allocated + Available <= Total at all times; every position
// open/close adjusts this record inside the same store transaction that
// mutates the position row. The ledger is the sole writer.
type CapitalStatus struct {
	Total          decimal.Decimal
	Available      decimal.Decimal
	Allocated      decimal.Decimal
	Reserved       decimal.Decimal
	OpenPositions  int
	RealizedProfit decimal.Decimal
	TradeCount     int64
	UpdatedAt      time.Time
}
