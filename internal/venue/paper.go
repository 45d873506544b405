package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// PaperClient is a deterministic in-memory venue used by paper mode and the
// test suites. Quotes and markets are seeded by the caller; orders fill
// immediately at their limit price unless behavior knobs say otherwise.
type PaperClient struct {
	name string

	mu      sync.Mutex
	quotes  map[string]domain.Quote
	markets map[string]domain.Market
	orders  map[string]domain.OrderResult
	balance domain.Balance

	// Behavior knobs for failure injection.
	QuoteDelay   time.Duration   // added latency before every GetQuote return
	OrderDelay   time.Duration   // added latency before every PlaceOrder return
	RejectOrders bool            // every PlaceOrder returns status rejected
	FillFraction decimal.Decimal // fraction of requested size filled; zero means full fill
}

// NewPaperClient creates a PaperClient with the given venue name and starting
// balance.
func NewPaperClient(name string, balance decimal.Decimal) *PaperClient {
	return &PaperClient{
		name:    name,
		quotes:  make(map[string]domain.Quote),
		markets: make(map[string]domain.Market),
		orders:  make(map[string]domain.OrderResult),
		balance: domain.Balance{Available: balance, Total: balance},
	}
}

// Name returns the venue name.
func (p *PaperClient) Name() string { return p.name }

// SetQuote seeds or replaces the quote for a market.
func (p *PaperClient) SetQuote(marketID string, q domain.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q.MarketID = marketID
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	p.quotes[marketID] = q
	if _, ok := p.markets[marketID]; !ok {
		p.markets[marketID] = domain.Market{ID: marketID, Active: true}
	}
}

// SetMarket seeds or replaces a market's existence/resolution state.
func (p *PaperClient) SetMarket(m domain.Market) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[m.ID] = m
}

// RemoveMarket deletes a market, simulating a venue that no longer lists it.
func (p *PaperClient) RemoveMarket(marketID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.markets, marketID)
	delete(p.quotes, marketID)
}

// SetOrderStatus overrides a recorded order's reported state, simulating
// venue-side drift for reconciliation tests.
func (p *PaperClient) SetOrderStatus(orderID string, res domain.OrderResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res.OrderID = orderID
	p.orders[orderID] = res
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// GetQuote returns the seeded quote for marketID.
func (p *PaperClient) GetQuote(ctx context.Context, marketID string) (domain.Quote, error) {
	if err := sleepOrDone(ctx, p.QuoteDelay); err != nil {
		return domain.Quote{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[marketID]
	if !ok {
		return domain.Quote{}, fmt.Errorf("paper %s: quote %s: %w", p.name, marketID, domain.ErrNotFound)
	}
	q.Timestamp = time.Now().UTC()
	return q, nil
}

// GetMarket returns the seeded market state for marketID.
func (p *PaperClient) GetMarket(_ context.Context, marketID string) (domain.Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.markets[marketID]
	if !ok {
		return domain.Market{}, fmt.Errorf("paper %s: market %s: %w", p.name, marketID, domain.ErrNotFound)
	}
	return m, nil
}

// PlaceOrder fills the order at its limit price, subject to the behavior
// knobs.
func (p *PaperClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := sleepOrDone(ctx, p.OrderDelay); err != nil {
		return domain.OrderResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Size.LessThanOrEqual(decimal.Zero) || req.Price.LessThanOrEqual(decimal.Zero) {
		return domain.OrderResult{}, domain.ErrInvalidOrder
	}

	res := domain.OrderResult{OrderID: uuid.New().String()}

	if p.RejectOrders {
		res.Status = domain.OrderStatusRejected
		p.orders[res.OrderID] = res
		return res, nil
	}

	// A FillFraction below 1 still reports a filled status with the smaller
	// size, the way venues report partial-size fills.
	filled := req.Size
	if p.FillFraction.GreaterThan(decimal.Zero) && p.FillFraction.LessThan(decimal.NewFromInt(1)) {
		filled = req.Size.Mul(p.FillFraction)
	}

	res.Status = domain.OrderStatusFilled
	res.FilledSize = filled
	res.FilledPrice = req.Price

	cost := filled.Mul(req.Price)
	p.balance.Available = p.balance.Available.Sub(cost)
	p.balance.Allocated = p.balance.Allocated.Add(cost)

	p.orders[res.OrderID] = res
	return res, nil
}

// CancelOrder is idempotent: cancelling an unknown, already-cancelled, or
// already-filled order is a no-op.
func (p *PaperClient) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil
	}
	if order.Status == domain.OrderStatusPending || order.Status == domain.OrderStatusPartial {
		order.Status = domain.OrderStatusCancelled
		p.orders[orderID] = order
	}
	return nil
}

// GetOrderStatus returns the recorded state of an order.
func (p *PaperClient) GetOrderStatus(_ context.Context, orderID string) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("paper %s: order %s: %w", p.name, orderID, domain.ErrNotFound)
	}
	return order, nil
}

// GetAccountBalance returns the simulated balance.
func (p *PaperClient) GetAccountBalance(_ context.Context) (domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Compile-time interface check.
var _ domain.VenueClient = (*PaperClient)(nil)
