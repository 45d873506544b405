package domain

// Bus channels the core publishes on. Collaborators subscribe; the core does
// not know or care who listens.
const (
	ChannelExecutions    = "executions"
	ChannelMonitor       = "monitor"
	ChannelOpportunities = "opportunities"
)

// Execution lifecycle events. Events for the same attempt preserve the phase
// order prepare -> commit -> (completed | rollback).
const (
	EventExecutionStarted   = "execution_started"
	EventPrepareCompleted   = "prepare_completed"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventRollbackCompleted  = "rollback_completed"
)

// Monitor events.
const (
	EventDiscrepancyDetected = "discrepancy_detected"
	EventCriticalDiscrepancy = "critical_discrepancy"
	EventPnLUpdated          = "pnl_updated"
	EventMonitorStarted      = "monitor_started"
	EventMonitorStopped      = "monitor_stopped"
	EventMonitorError        = "monitor_error"
)

// Tracker events.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)
