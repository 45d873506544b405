// Package risk gates every trade before any remote call is made. Validation
// is stateless per call and side-effect free; a separate periodic sweep
// re-derives global limit violations that per-trade checks cannot see.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// CapitalReader is the tracker surface the risk manager reads through. It
// never writes.
type CapitalReader interface {
	GetCapitalStatus(ctx context.Context) (domain.CapitalStatus, error)
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	DailyDeployed(ctx context.Context, day time.Time) (decimal.Decimal, error)
}

// Manager validates proposed trades against capital, exposure, and liquidity
// limits. It may shrink a requested size instead of rejecting outright, but
// it never raises one.
type Manager struct {
	cfg     config.RiskConfig
	tracker CapitalReader
	logger  *slog.Logger
}

func NewManager(cfg config.RiskConfig, tracker CapitalReader, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("component", "risk")),
	}
}

// Validate runs the ordered battery of pre-trade checks against the
// opportunity and the requested size in contracts. Approved is true iff no
// blocker fired; callers must always trade the returned AdjustedSize. Sizes
// only ever shrink. The call performs no side effects and is safe to invoke
// speculatively.
func (m *Manager) Validate(ctx context.Context, opp domain.Opportunity, requestedSize decimal.Decimal) (domain.RiskDecision, error) {
	d := domain.RiskDecision{AdjustedSize: requestedSize}

	block := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		d.Blockers = append(d.Blockers, msg)
		d.Reasons = append(d.Reasons, msg)
	}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		d.Warnings = append(d.Warnings, msg)
		d.Reasons = append(d.Reasons, msg)
	}

	minSize := decimal.NewFromFloat(m.cfg.MinPositionSize)
	maxSize := decimal.NewFromFloat(m.cfg.MaxPositionSize)

	// 1. Minimum net profit.
	if opp.NetProfitPct < m.cfg.MinNetProfitPct {
		block("net profit %.4f%% below minimum %.4f%%", opp.NetProfitPct, m.cfg.MinNetProfitPct)
	}

	// 2. Absolute size bounds. Below the floor blocks; above the cap shrinks.
	if requestedSize.LessThan(minSize) {
		block("size %s below minimum position size %s", requestedSize, minSize)
	}
	if d.AdjustedSize.GreaterThan(maxSize) {
		warn("size %s capped to maximum position size %s", d.AdjustedSize, maxSize)
		d.AdjustedSize = maxSize
	}

	// 3. Venue circuit breaker.
	for _, blocked := range m.cfg.BlockedVenues {
		if opp.Venue1 == blocked || opp.Venue2 == blocked {
			block("venue %q is blocked", blocked)
		}
	}

	// 4. Available capital, in cost dollars. Shrinks to fit when capital is
	// non-zero but insufficient, as long as the affordable size still clears
	// the floor.
	capital, err := m.tracker.GetCapitalStatus(ctx)
	if err != nil {
		return domain.RiskDecision{}, fmt.Errorf("risk: get capital status: %w", err)
	}
	cost := d.AdjustedSize.Mul(opp.TotalCost)
	if capital.Available.LessThan(cost) {
		affordable := decimal.Zero
		if capital.Available.IsPositive() && opp.TotalCost.IsPositive() {
			affordable = capital.Available.Div(opp.TotalCost).RoundDown(2)
		}
		if affordable.GreaterThanOrEqual(minSize) {
			warn("size %s shrunk to %s to fit available capital %s", d.AdjustedSize, affordable, capital.Available)
			d.AdjustedSize = affordable
		} else {
			block("available capital %s insufficient for cost %s", capital.Available, cost)
		}
	}

	// 5. Open-position ceiling. Blocks at the ceiling, warns at 80% of it.
	if m.cfg.MaxOpenPositions > 0 {
		switch {
		case capital.OpenPositions >= m.cfg.MaxOpenPositions:
			block("open positions %d at ceiling %d", capital.OpenPositions, m.cfg.MaxOpenPositions)
		case float64(capital.OpenPositions) >= 0.8*float64(m.cfg.MaxOpenPositions):
			warn("open positions %d approaching ceiling %d", capital.OpenPositions, m.cfg.MaxOpenPositions)
		}
	}

	// 6. Rolling daily-deployment budget. Shrinks to the remaining budget
	// when possible, else blocks.
	if m.cfg.MaxDailyDeployment > 0 {
		deployed, err := m.tracker.DailyDeployed(ctx, time.Now().UTC())
		if err != nil {
			return domain.RiskDecision{}, fmt.Errorf("risk: daily deployed: %w", err)
		}
		dailyCap := decimal.NewFromFloat(m.cfg.MaxDailyDeployment)
		if deployed.Add(d.AdjustedSize).GreaterThan(dailyCap) {
			remaining := dailyCap.Sub(deployed)
			if remaining.GreaterThanOrEqual(minSize) {
				warn("size %s shrunk to remaining daily budget %s", d.AdjustedSize, remaining)
				d.AdjustedSize = remaining
			} else {
				block("daily deployment %s leaves budget %s below minimum size", deployed, remaining)
			}
		}
	}

	// 7. Slippage estimate: base + spread + k·(size/liquidity)². Blocks past
	// the tolerance, warns past 70% of it.
	liquidity := opp.MinLiquidity()
	if !liquidity.IsPositive() {
		block("no liquidity reported for either leg")
	} else {
		ratio, _ := d.AdjustedSize.Div(liquidity).Float64()
		slippage := m.cfg.SlippageBase + m.cfg.SpreadCost + m.cfg.ImpactK*ratio*ratio
		switch {
		case slippage > m.cfg.SlippageTolerance:
			block("estimated slippage %.4f exceeds tolerance %.4f", slippage, m.cfg.SlippageTolerance)
		case slippage > 0.7*m.cfg.SlippageTolerance:
			warn("estimated slippage %.4f above 70%% of tolerance %.4f", slippage, m.cfg.SlippageTolerance)
		}
	}

	// 8. Resolution alignment supplied on the opportunity. Absent assessment
	// passes; non-tradeable blocks; tradeable-but-risky warns.
	if a := opp.Alignment; a != nil {
		switch {
		case !a.Tradeable:
			block("resolution alignment not tradeable: %s", a.Detail)
		case a.Risky:
			warn("resolution alignment risky: %s", a.Detail)
		}
	}

	d.Approved = len(d.Blockers) == 0
	if !d.Approved {
		d.AdjustedSize = decimal.Zero
	}

	level := slog.LevelDebug
	if !d.Approved {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "risk: trade validated",
		slog.String("opportunity_id", opp.ID),
		slog.Bool("approved", d.Approved),
		slog.String("requested_size", requestedSize.String()),
		slog.String("adjusted_size", d.AdjustedSize.String()),
		slog.Int("blockers", len(d.Blockers)),
		slog.Int("warnings", len(d.Warnings)),
	)
	return d, nil
}

// EnforceLimits is the periodic global sweep. It re-derives violations that
// per-trade checks cannot see: capital over-allocation, an open-position
// count already over the ceiling, a daily deployment already over its cap,
// and positions open past the staleness threshold. The sweep only reports;
// remediation is an operational action.
func (m *Manager) EnforceLimits(ctx context.Context) ([]domain.RiskViolation, error) {
	now := time.Now().UTC()
	var violations []domain.RiskViolation

	capital, err := m.tracker.GetCapitalStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: enforce limits: get capital status: %w", err)
	}
	if capital.Allocated.GreaterThan(capital.Total) {
		violations = append(violations, domain.RiskViolation{
			Type:      domain.ViolationOverAllocation,
			Detail:    fmt.Sprintf("allocated %s exceeds total capital %s", capital.Allocated, capital.Total),
			Timestamp: now,
		})
	}
	if m.cfg.MaxOpenPositions > 0 && capital.OpenPositions > m.cfg.MaxOpenPositions {
		violations = append(violations, domain.RiskViolation{
			Type:      domain.ViolationPositionCeiling,
			Detail:    fmt.Sprintf("open positions %d over ceiling %d", capital.OpenPositions, m.cfg.MaxOpenPositions),
			Timestamp: now,
		})
	}

	if m.cfg.MaxDailyDeployment > 0 {
		deployed, err := m.tracker.DailyDeployed(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("risk: enforce limits: daily deployed: %w", err)
		}
		if deployed.GreaterThan(decimal.NewFromFloat(m.cfg.MaxDailyDeployment)) {
			violations = append(violations, domain.RiskViolation{
				Type:      domain.ViolationDailyDeployment,
				Detail:    fmt.Sprintf("daily deployment %s over cap %.2f", deployed, m.cfg.MaxDailyDeployment),
				Timestamp: now,
			})
		}
	}

	staleDays := m.cfg.StalePositionDays
	if staleDays <= 0 {
		staleDays = 30
	}
	positions, err := m.tracker.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: enforce limits: get open positions: %w", err)
	}
	cutoff := now.AddDate(0, 0, -staleDays)
	for _, pos := range positions {
		if pos.OpenedAt.Before(cutoff) {
			violations = append(violations, domain.RiskViolation{
				Type:       domain.ViolationStalePosition,
				PositionID: pos.ID,
				Detail:     fmt.Sprintf("position open since %s, past %d day threshold", pos.OpenedAt.Format(time.RFC3339), staleDays),
				Timestamp:  now,
			})
		}
	}

	for _, v := range violations {
		m.logger.WarnContext(ctx, "risk: limit violation",
			slog.String("type", string(v.Type)),
			slog.String("position_id", v.PositionID),
			slog.String("detail", v.Detail),
		)
	}
	return violations, nil
}
