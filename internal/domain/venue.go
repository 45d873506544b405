package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which binary outcome an order buys.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the complementary outcome side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OrderType indicates how an order is priced.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle as reported by a venue.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Quote is a point-in-time snapshot of both sides of a binary market's book.
// Prices are dollar fractions of the $1 payout; liquidity is the dollar depth
// available at the quoted price.
type Quote struct {
	MarketID     string          `json:"market_id"`
	YesBid       decimal.Decimal `json:"yes_bid"`
	YesAsk       decimal.Decimal `json:"yes_ask"`
	YesLiquidity decimal.Decimal `json:"yes_liquidity"`
	NoBid        decimal.Decimal `json:"no_bid"`
	NoAsk        decimal.Decimal `json:"no_ask"`
	NoLiquidity  decimal.Decimal `json:"no_liquidity"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AskFor returns the ask price for buying the given outcome side.
func (q Quote) AskFor(side Side) decimal.Decimal {
	if side == SideYes {
		return q.YesAsk
	}
	return q.NoAsk
}

// BidFor returns the bid price for the given outcome side.
func (q Quote) BidFor(side Side) decimal.Decimal {
	if side == SideYes {
		return q.YesBid
	}
	return q.NoBid
}

// LiquidityFor returns the depth available on the given outcome side.
func (q Quote) LiquidityFor(side Side) decimal.Decimal {
	if side == SideYes {
		return q.YesLiquidity
	}
	return q.NoLiquidity
}

// Market is the venue's view of a binary market's existence and resolution.
type Market struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Active   bool   `json:"active"`
	Resolved bool   `json:"resolved"`
	// Outcome is the winning side once Resolved is true ("yes" or "no").
	Outcome Side `json:"outcome,omitempty"`
}

// OrderRequest describes one order to be placed on a venue.
type OrderRequest struct {
	MarketID string          `json:"market_id"`
	Side     Side            `json:"side"`
	Size     decimal.Decimal `json:"size"`
	Price    decimal.Decimal `json:"price"`
	Type     OrderType       `json:"type"`
}

// OrderResult wraps the venue response after order submission or a status query.
type OrderResult struct {
	OrderID     string          `json:"order_id"`
	Status      OrderStatus     `json:"status"`
	FilledSize  decimal.Decimal `json:"filled_size"`
	FilledPrice decimal.Decimal `json:"filled_price"`
}

// Balance is the venue-side account snapshot.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Allocated decimal.Decimal `json:"allocated"`
	Total     decimal.Decimal `json:"total"`
}

// VenueClient is the capability surface each trading venue must expose to the
// execution core. Implementations live in venue-specific adapter packages;
// the core treats any venue-side error as a failure of that call.
type VenueClient interface {
	Name() string
	GetQuote(ctx context.Context, marketID string) (Quote, error)
	GetMarket(ctx context.Context, marketID string) (Market, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderResult, error)
	GetAccountBalance(ctx context.Context) (Balance, error)
}
