package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityStatus tracks an opportunity through its lifecycle.
type OpportunityStatus string

const (
	OpportunityDetected OpportunityStatus = "detected"
	OpportunityExecuted OpportunityStatus = "executed"
	OpportunityExpired  OpportunityStatus = "expired"
	OpportunityRejected OpportunityStatus = "rejected"
)

// FeeBreakdown carries the per-contract dollar fees each leg is expected to pay.
type FeeBreakdown struct {
	Leg1Fee decimal.Decimal `json:"leg1_fee"`
	Leg2Fee decimal.Decimal `json:"leg2_fee"`
}

// Total returns the combined per-contract fee across both legs.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.Leg1Fee.Add(f.Leg2Fee)
}

// ResolutionAlignment is the upstream matcher's assessment of whether the two
// markets resolve on the same underlying event.
type ResolutionAlignment struct {
	Tradeable bool   `json:"tradeable"`
	Risky     bool   `json:"risky"`
	Detail    string `json:"detail,omitempty"`
}

// Opportunity is a candidate cross-venue arbitrage produced by the upstream
// scanner: buy complementary outcomes on two venues for a combined cost below
// the guaranteed $1 payout. Immutable once received; expires after its TTL.
//
// Sizes throughout the core are denominated in contracts, each paying $1 on
// the winning side. TotalCost is the combined per-contract entry cost.
type Opportunity struct {
	ID             string               `json:"id"`
	Venue1         string               `json:"venue1"`
	Venue2         string               `json:"venue2"`
	Market1ID      string               `json:"market1_id"`
	Market2ID      string               `json:"market2_id"`
	Side1          Side                 `json:"side1"`
	Side2          Side                 `json:"side2"`
	GrossProfitPct float64              `json:"gross_profit_pct"`
	NetProfitPct   float64              `json:"net_profit_pct"`
	TotalCost      decimal.Decimal      `json:"total_cost"`
	MaxSize        decimal.Decimal      `json:"max_size"`
	Confidence     float64              `json:"confidence"`
	Fees           FeeBreakdown         `json:"fees"`
	Liquidity1     decimal.Decimal      `json:"liquidity1"`
	Liquidity2     decimal.Decimal      `json:"liquidity2"`
	Alignment      *ResolutionAlignment `json:"alignment,omitempty"`
	DetectedAt     time.Time            `json:"detected_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
}

// Expired reports whether the opportunity's TTL has elapsed at the given time.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// MinLiquidity returns the smaller of the two legs' liquidity estimates.
func (o Opportunity) MinLiquidity() decimal.Decimal {
	if o.Liquidity1.LessThan(o.Liquidity2) {
		return o.Liquidity1
	}
	return o.Liquidity2
}
