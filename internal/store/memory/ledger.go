// Package memory implements the domain ledger with in-process storage. It
// mirrors the transactional semantics of the PostgreSQL ledger under a single
// mutex: every mutation is all-or-nothing, the capital record is adjusted in
// the same critical section as the rows that justify it, and an audit entry
// is appended alongside. Used by paper mode and the test suites.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type dailyAggregate struct {
	deployedSize   decimal.Decimal
	deployedCost   decimal.Decimal
	realizedProfit decimal.Decimal
	tradesOpened   int
	tradesClosed   int
}

// Ledger is a mutex-guarded in-memory implementation of domain.Ledger.
type Ledger struct {
	mu            sync.Mutex
	opportunities map[string]domain.Opportunity
	oppStatus     map[string]domain.OpportunityStatus
	executions    map[string]domain.Execution
	positions     map[string]domain.Position
	capital       domain.CapitalStatus
	daily         map[string]*dailyAggregate
	auditTrail    []domain.AuditEntry
	nextAuditID   int64
}

// NewLedger creates an empty Ledger with the given total starting capital.
func NewLedger(totalCapital decimal.Decimal) *Ledger {
	return &Ledger{
		opportunities: make(map[string]domain.Opportunity),
		oppStatus:     make(map[string]domain.OpportunityStatus),
		executions:    make(map[string]domain.Execution),
		positions:     make(map[string]domain.Position),
		capital: domain.CapitalStatus{
			Total:     totalCapital,
			Available: totalCapital,
			UpdatedAt: time.Now().UTC(),
		},
		daily:       make(map[string]*dailyAggregate),
		nextAuditID: 1,
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// appendAudit must be called with the mutex held.
func (l *Ledger) appendAudit(action, entityType, entityID string, detail map[string]any) {
	l.auditTrail = append(l.auditTrail, domain.AuditEntry{
		ID:         l.nextAuditID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	l.nextAuditID++
}

// TrackOpportunity records a newly detected opportunity.
func (l *Ledger) TrackOpportunity(_ context.Context, opp domain.Opportunity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.opportunities[opp.ID]; ok {
		return domain.ErrAlreadyExists
	}
	l.opportunities[opp.ID] = opp
	l.oppStatus[opp.ID] = domain.OpportunityDetected
	l.appendAudit("opportunity_tracked", "opportunity", opp.ID, nil)
	return nil
}

// UpdateOpportunityStatus advances an opportunity's lifecycle status.
func (l *Ledger) UpdateOpportunityStatus(_ context.Context, id string, status domain.OpportunityStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.opportunities[id]; !ok {
		return domain.ErrNotFound
	}
	l.oppStatus[id] = status
	l.appendAudit("opportunity_status", "opportunity", id, map[string]any{"status": string(status)})
	return nil
}

// RecordExecution inserts a new execution attempt.
func (l *Ledger) RecordExecution(_ context.Context, exec domain.Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.executions[exec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	l.executions[exec.ID] = exec
	l.appendAudit("execution_recorded", "execution", exec.ID, nil)
	return nil
}

// UpdateExecution replaces the mutable fields of an execution.
func (l *Ledger) UpdateExecution(_ context.Context, exec domain.Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.executions[exec.ID]; !ok {
		return domain.ErrNotFound
	}
	l.executions[exec.ID] = exec
	l.appendAudit("execution_updated", "execution", exec.ID, map[string]any{"status": string(exec.Status)})
	return nil
}

// GetExecution retrieves a single execution by id.
func (l *Ledger) GetExecution(_ context.Context, id string) (domain.Execution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exec, ok := l.executions[id]
	if !ok {
		return domain.Execution{}, domain.ErrNotFound
	}
	return exec, nil
}

// OpenPosition inserts the position and moves its cost from available to
// allocated capital in the same critical section. Returns
// domain.ErrInsufficientCapital when available capital cannot cover the cost.
func (l *Ledger) OpenPosition(_ context.Context, pos domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if l.capital.Available.LessThan(pos.TotalCost) {
		return domain.ErrInsufficientCapital
	}

	pos.Status = domain.PositionOpen
	l.positions[pos.ID] = pos

	l.capital.Available = l.capital.Available.Sub(pos.TotalCost)
	l.capital.Allocated = l.capital.Allocated.Add(pos.TotalCost)
	l.capital.OpenPositions++
	l.capital.UpdatedAt = time.Now().UTC()

	day := l.dailyFor(pos.OpenedAt)
	day.deployedSize = day.deployedSize.Add(pos.Size)
	day.deployedCost = day.deployedCost.Add(pos.TotalCost)
	day.tradesOpened++

	l.appendAudit("position_opened", "position", pos.ID, map[string]any{
		"size":       pos.Size.String(),
		"total_cost": pos.TotalCost.String(),
	})
	return nil
}

// dailyFor must be called with the mutex held.
func (l *Ledger) dailyFor(t time.Time) *dailyAggregate {
	key := dayKey(t)
	day, ok := l.daily[key]
	if !ok {
		day = &dailyAggregate{}
		l.daily[key] = day
	}
	return day
}

// ClosePosition marks the position resolved, releases its allocated cost, and
// credits the realized payout, all in the same critical section.
func (l *Ledger) ClosePosition(_ context.Context, positionID string, payout decimal.Decimal, resolvedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok || (pos.Status != domain.PositionOpen && pos.Status != domain.PositionResolving) {
		return domain.ErrNotFound
	}

	realized := payout.Sub(pos.TotalCost)

	pos.Status = domain.PositionResolved
	resolved := resolvedAt
	pos.ResolvedAt = &resolved
	l.positions[positionID] = pos

	l.capital.Allocated = l.capital.Allocated.Sub(pos.TotalCost)
	l.capital.Available = l.capital.Available.Add(payout)
	l.capital.Total = l.capital.Total.Add(realized)
	l.capital.RealizedProfit = l.capital.RealizedProfit.Add(realized)
	l.capital.OpenPositions--
	l.capital.TradeCount++
	l.capital.UpdatedAt = time.Now().UTC()

	day := l.dailyFor(resolvedAt)
	day.realizedProfit = day.realizedProfit.Add(realized)
	day.tradesClosed++

	l.appendAudit("position_closed", "position", positionID, map[string]any{
		"payout":   payout.String(),
		"realized": realized.String(),
	})
	return nil
}

// GetOpenPositions returns every position not yet resolved.
func (l *Ledger) GetOpenPositions(_ context.Context) ([]domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var open []domain.Position
	for _, pos := range l.positions {
		if pos.Status == domain.PositionOpen || pos.Status == domain.PositionResolving {
			open = append(open, pos)
		}
	}
	return open, nil
}

// GetPosition retrieves a single position by id.
func (l *Ledger) GetPosition(_ context.Context, id string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// GetCapitalStatus returns a copy of the capital allocation record.
func (l *Ledger) GetCapitalStatus(_ context.Context) (domain.CapitalStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capital, nil
}

// SetTotalCapital adjusts the total capital, recomputing available so the
// allocation invariant keeps holding.
func (l *Ledger) SetTotalCapital(_ context.Context, total decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	committed := l.capital.Allocated.Add(l.capital.Reserved)
	if committed.GreaterThan(total) {
		return domain.ErrInsufficientCapital
	}
	l.capital.Total = total
	l.capital.Available = total.Sub(committed)
	l.capital.UpdatedAt = time.Now().UTC()
	l.appendAudit("capital_adjusted", "capital_status", "1", map[string]any{"total": total.String()})
	return nil
}

// DailyDeployed returns the total contract size deployed on the given day.
func (l *Ledger) DailyDeployed(_ context.Context, day time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if agg, ok := l.daily[dayKey(day)]; ok {
		return agg.deployedSize, nil
	}
	return decimal.Zero, nil
}

// List returns the audit trail with pagination and optional time filtering,
// newest first.
func (l *Ledger) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []domain.AuditEntry
	for i := len(l.auditTrail) - 1; i >= 0; i-- {
		e := l.auditTrail[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		entries = append(entries, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// OpportunityStatus reports the recorded lifecycle status of an opportunity.
func (l *Ledger) OpportunityStatus(id string) (domain.OpportunityStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	status, ok := l.oppStatus[id]
	if !ok {
		return "", fmt.Errorf("memory: opportunity %s: %w", id, domain.ErrNotFound)
	}
	return status, nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger     = (*Ledger)(nil)
	_ domain.AuditStore = (*Ledger)(nil)
)
