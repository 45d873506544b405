package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Ledger implements domain.Ledger using PostgreSQL. Every multi-row mutation
// runs in a single transaction that also adjusts the capital_status row and
// appends one audit_log entry, so a failure partway through leaves the store
// exactly as it was.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// audit appends one audit_log row inside the caller's transaction.
func audit(ctx context.Context, tx pgx.Tx, action, entityType, entityID string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_log (action, entity_type, entity_id, detail) VALUES ($1, $2, $3, $4)`,
		action, entityType, entityID, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: audit %s %s: %w", action, entityID, err)
	}
	return nil
}

// TrackOpportunity records a newly detected opportunity.
func (l *Ledger) TrackOpportunity(ctx context.Context, opp domain.Opportunity) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		var tradeable, risky *bool
		var alignDetail *string
		if opp.Alignment != nil {
			tradeable = &opp.Alignment.Tradeable
			risky = &opp.Alignment.Risky
			alignDetail = &opp.Alignment.Detail
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO opportunities (
				id, venue1, venue2, market1_id, market2_id, side1, side2,
				gross_profit_pct, net_profit_pct, total_cost, max_size, confidence,
				leg1_fee, leg2_fee, liquidity1, liquidity2,
				alignment_tradeable, alignment_risky, alignment_detail,
				status, detected_at, expires_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12,
				$13, $14, $15, $16,
				$17, $18, $19,
				$20, $21, $22
			)`,
			opp.ID, opp.Venue1, opp.Venue2, opp.Market1ID, opp.Market2ID,
			string(opp.Side1), string(opp.Side2),
			opp.GrossProfitPct, opp.NetProfitPct, opp.TotalCost, opp.MaxSize, opp.Confidence,
			opp.Fees.Leg1Fee, opp.Fees.Leg2Fee, opp.Liquidity1, opp.Liquidity2,
			tradeable, risky, alignDetail,
			string(domain.OpportunityDetected), opp.DetectedAt, opp.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: track opportunity %s: %w", opp.ID, err)
		}

		return audit(ctx, tx, "opportunity_tracked", "opportunity", opp.ID, map[string]any{
			"venue1":         opp.Venue1,
			"venue2":         opp.Venue2,
			"net_profit_pct": opp.NetProfitPct,
			"total_cost":     opp.TotalCost.String(),
		})
	})
}

// UpdateOpportunityStatus advances an opportunity's lifecycle status.
func (l *Ledger) UpdateOpportunityStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE opportunities SET status = $2 WHERE id = $1`, id, string(status))
		if err != nil {
			return fmt.Errorf("postgres: update opportunity %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return audit(ctx, tx, "opportunity_status", "opportunity", id, map[string]any{
			"status": string(status),
		})
	})
}

// RecordExecution inserts a new execution attempt.
func (l *Ledger) RecordExecution(ctx context.Context, exec domain.Execution) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO executions (
				id, opportunity_id, venue1, venue2, market1_id, market2_id,
				order1_id, order2_id, planned_size, filled_size,
				actual_cost, actual_profit, status, failure_reason,
				started_at, completed_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10,
				$11, $12, $13, $14,
				$15, $16
			)`,
			exec.ID, exec.OpportunityID, exec.Venue1, exec.Venue2,
			exec.Market1ID, exec.Market2ID,
			exec.Order1ID, exec.Order2ID, exec.PlannedSize, exec.FilledSize,
			exec.ActualCost, exec.ActualProfit, string(exec.Status), exec.FailureReason,
			exec.StartedAt, exec.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: record execution %s: %w", exec.ID, err)
		}
		return audit(ctx, tx, "execution_recorded", "execution", exec.ID, map[string]any{
			"opportunity_id": exec.OpportunityID,
			"planned_size":   exec.PlannedSize.String(),
			"status":         string(exec.Status),
		})
	})
}

// UpdateExecution replaces the mutable fields of an execution.
func (l *Ledger) UpdateExecution(ctx context.Context, exec domain.Execution) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE executions SET
				order1_id      = $2,
				order2_id      = $3,
				filled_size    = $4,
				actual_cost    = $5,
				actual_profit  = $6,
				status         = $7,
				failure_reason = $8,
				completed_at   = $9
			WHERE id = $1`,
			exec.ID,
			exec.Order1ID, exec.Order2ID, exec.FilledSize,
			exec.ActualCost, exec.ActualProfit, string(exec.Status), exec.FailureReason,
			exec.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: update execution %s: %w", exec.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return audit(ctx, tx, "execution_updated", "execution", exec.ID, map[string]any{
			"status":      string(exec.Status),
			"filled_size": exec.FilledSize.String(),
		})
	})
}

const executionSelectCols = `id, opportunity_id, venue1, venue2, market1_id, market2_id,
	order1_id, order2_id, planned_size, filled_size, actual_cost, actual_profit,
	status, failure_reason, started_at, completed_at`

// GetExecution retrieves a single execution by id.
func (l *Ledger) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	var e domain.Execution
	var status string
	err := row.Scan(
		&e.ID, &e.OpportunityID, &e.Venue1, &e.Venue2, &e.Market1ID, &e.Market2ID,
		&e.Order1ID, &e.Order2ID, &e.PlannedSize, &e.FilledSize, &e.ActualCost, &e.ActualProfit,
		&status, &e.FailureReason, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	e.Status = domain.ExecutionStatus(status)
	return e, nil
}

// OpenPosition inserts the position row, moves its cost from available to
// allocated capital, increments the open-position counter, and bumps the
// daily deployment aggregate, all in one transaction. Returns
// domain.ErrInsufficientCapital when available capital cannot cover the cost.
func (l *Ledger) OpenPosition(ctx context.Context, pos domain.Position) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO positions (
				id, execution_id, venue1, venue2, market1_id, market2_id,
				side1, side2, entry1, entry2, size, total_cost,
				expected_payout, expected_profit, status, opened_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16
			)`,
			pos.ID, pos.ExecutionID, pos.Venue1, pos.Venue2, pos.Market1ID, pos.Market2ID,
			string(pos.Side1), string(pos.Side2), pos.Entry1, pos.Entry2, pos.Size, pos.TotalCost,
			pos.ExpectedPayout, pos.ExpectedProfit, string(domain.PositionOpen), pos.OpenedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: open position %s: %w", pos.ID, err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE capital_status SET
				available      = available - $1,
				allocated      = allocated + $1,
				open_positions = open_positions + 1,
				updated_at     = NOW()
			WHERE id = 1 AND available >= $1`,
			pos.TotalCost,
		)
		if err != nil {
			return fmt.Errorf("postgres: allocate capital for %s: %w", pos.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientCapital
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO daily_trades (trade_date, deployed_size, deployed_cost, trades_opened)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (trade_date) DO UPDATE SET
				deployed_size = daily_trades.deployed_size + EXCLUDED.deployed_size,
				deployed_cost = daily_trades.deployed_cost + EXCLUDED.deployed_cost,
				trades_opened = daily_trades.trades_opened + 1,
				updated_at    = NOW()`,
			pos.OpenedAt.UTC().Truncate(24*time.Hour), pos.Size, pos.TotalCost,
		)
		if err != nil {
			return fmt.Errorf("postgres: daily aggregate for %s: %w", pos.ID, err)
		}

		return audit(ctx, tx, "position_opened", "position", pos.ID, map[string]any{
			"execution_id": pos.ExecutionID,
			"size":         pos.Size.String(),
			"total_cost":   pos.TotalCost.String(),
		})
	})
}

// ClosePosition marks the position resolved, releases its allocated cost,
// credits the realized payout, and updates the daily aggregate, all in one
// transaction.
func (l *Ledger) ClosePosition(ctx context.Context, positionID string, payout decimal.Decimal, resolvedAt time.Time) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		var cost decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT total_cost FROM positions
			WHERE id = $1 AND status IN ('open', 'resolving')
			FOR UPDATE`,
			positionID,
		).Scan(&cost)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock position %s: %w", positionID, err)
		}

		realized := payout.Sub(cost)

		_, err = tx.Exec(ctx, `
			UPDATE positions SET
				status      = $2,
				resolved_at = $3,
				updated_at  = NOW()
			WHERE id = $1`,
			positionID, string(domain.PositionResolved), resolvedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: close position %s: %w", positionID, err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE capital_status SET
				allocated       = allocated - $1,
				available       = available + $2,
				total           = total + $3,
				realized_profit = realized_profit + $3,
				open_positions  = open_positions - 1,
				trade_count     = trade_count + 1,
				updated_at      = NOW()
			WHERE id = 1`,
			cost, payout, realized,
		)
		if err != nil {
			return fmt.Errorf("postgres: release capital for %s: %w", positionID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO daily_trades (trade_date, realized_profit, trades_closed)
			VALUES ($1, $2, 1)
			ON CONFLICT (trade_date) DO UPDATE SET
				realized_profit = daily_trades.realized_profit + EXCLUDED.realized_profit,
				trades_closed   = daily_trades.trades_closed + 1,
				updated_at      = NOW()`,
			resolvedAt.UTC().Truncate(24*time.Hour), realized,
		)
		if err != nil {
			return fmt.Errorf("postgres: daily aggregate for %s: %w", positionID, err)
		}

		return audit(ctx, tx, "position_closed", "position", positionID, map[string]any{
			"payout":   payout.String(),
			"realized": realized.String(),
		})
	})
}

const positionSelectCols = `id, execution_id, venue1, venue2, market1_id, market2_id,
	side1, side2, entry1, entry2, size, total_cost,
	expected_payout, expected_profit, status, opened_at, resolved_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side1, side2, status string
	err := row.Scan(
		&p.ID, &p.ExecutionID, &p.Venue1, &p.Venue2, &p.Market1ID, &p.Market2ID,
		&side1, &side2, &p.Entry1, &p.Entry2, &p.Size, &p.TotalCost,
		&p.ExpectedPayout, &p.ExpectedProfit, &status, &p.OpenedAt, &p.ResolvedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side1 = domain.Side(side1)
	p.Side2 = domain.Side(side2)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// GetOpenPositions returns every position not yet resolved.
func (l *Ledger) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('open', 'resolving')
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPosition retrieves a single position by id.
func (l *Ledger) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetCapitalStatus reads the single capital allocation record.
func (l *Ledger) GetCapitalStatus(ctx context.Context) (domain.CapitalStatus, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT total, available, allocated, reserved,
		       open_positions, realized_profit, trade_count, updated_at
		FROM capital_status WHERE id = 1`)

	var cs domain.CapitalStatus
	err := row.Scan(
		&cs.Total, &cs.Available, &cs.Allocated, &cs.Reserved,
		&cs.OpenPositions, &cs.RealizedProfit, &cs.TradeCount, &cs.UpdatedAt,
	)
	if err != nil {
		return domain.CapitalStatus{}, fmt.Errorf("postgres: get capital status: %w", err)
	}
	return cs, nil
}

// SetTotalCapital adjusts the total capital, recomputing available so the
// allocation invariant keeps holding. It refuses a total below what is
// already allocated or reserved.
func (l *Ledger) SetTotalCapital(ctx context.Context, total decimal.Decimal) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE capital_status SET
				total      = $1,
				available  = $1 - allocated - reserved,
				updated_at = NOW()
			WHERE id = 1 AND allocated + reserved <= $1`,
			total,
		)
		if err != nil {
			return fmt.Errorf("postgres: set total capital: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientCapital
		}
		return audit(ctx, tx, "capital_adjusted", "capital_status", "1", map[string]any{
			"total": total.String(),
		})
	})
}

// DailyDeployed returns the total contract size deployed on the given day.
func (l *Ledger) DailyDeployed(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	var deployed decimal.Decimal
	err := l.pool.QueryRow(ctx,
		`SELECT deployed_size FROM daily_trades WHERE trade_date = $1`,
		day.UTC().Truncate(24*time.Hour),
	).Scan(&deployed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("postgres: daily deployed: %w", err)
	}
	return deployed, nil
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
