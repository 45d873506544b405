package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Ledger is the transactional store surface consumed by the position tracker.
// Every method that mutates more than one row runs in a single atomic
// transaction that also adjusts the capital_status record and appends one
// audit-log entry; a failure partway through leaves the store untouched.
// The ledger is the only writer of CapitalStatus.
type Ledger interface {
	TrackOpportunity(ctx context.Context, opp Opportunity) error
	UpdateOpportunityStatus(ctx context.Context, id string, status OpportunityStatus) error

	RecordExecution(ctx context.Context, exec Execution) error
	UpdateExecution(ctx context.Context, exec Execution) error
	GetExecution(ctx context.Context, id string) (Execution, error)

	OpenPosition(ctx context.Context, pos Position) error
	ClosePosition(ctx context.Context, positionID string, payout decimal.Decimal, resolvedAt time.Time) error
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, id string) (Position, error)

	GetCapitalStatus(ctx context.Context) (CapitalStatus, error)
	SetTotalCapital(ctx context.Context, total decimal.Decimal) error
	DailyDeployed(ctx context.Context, day time.Time) (decimal.Decimal, error)
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID         int64
	Action     string
	EntityType string
	EntityID   string
	Detail     map[string]any
	CreatedAt  time.Time
}

// AuditStore reads the append-only audit trail the ledger writes.
type AuditStore interface {
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SignalBus is the publish/subscribe fabric carrying the core's emitted
// events and the upstream opportunity feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed mutual exclusion for components that must
// run singly across redundant deployments.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// OpportunitySource delivers upstream opportunities into the runner's channel
// until the context is cancelled.
type OpportunitySource interface {
	Run(ctx context.Context, out chan<- Opportunity) error
}
