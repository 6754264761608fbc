package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fleetglue/automation/types"
)

// Errors shared by all backends.
var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrAlertNotFound     = errors.New("alert not found")
)

// WorkflowStore is the engine's read access to workflow definitions,
// plus the write surface management tooling uses to register them.
type WorkflowStore interface {
	// SaveWorkflow persists a workflow definition with its triggers,
	// conditions and actions embedded.
	SaveWorkflow(ctx context.Context, wf types.Workflow) error

	// GetWorkflow retrieves a workflow by ID.
	GetWorkflow(ctx context.Context, id uint64) (types.Workflow, error)

	// ActiveForEvent returns the tenant's active workflows whose trigger
	// set includes the event type, eagerly loaded.
	ActiveForEvent(ctx context.Context, tenantID string, eventType types.EventType) ([]types.Workflow, error)
}

// ExecutionStore persists workflow execution audit records. Log appends
// are deliberately outside transactional scope so the audit trail of an
// aborted execution survives the rollback.
type ExecutionStore interface {
	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, exec types.Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, id uint64) (types.Execution, error)

	// AppendLog appends one entry to an execution's audit trail.
	AppendLog(ctx context.Context, executionID uint64, entry types.LogEntry) error

	// MarkCompleted finalizes an execution as completed.
	MarkCompleted(ctx context.Context, executionID uint64, at time.Time) error

	// MarkFailed finalizes an execution as failed with an error message.
	MarkFailed(ctx context.Context, executionID uint64, at time.Time, message string) error

	// ListExecutions returns a workflow's executions started at or after
	// since, newest first.
	ListExecutions(ctx context.Context, workflowID uint64, since time.Time) ([]types.Execution, error)
}

// AlertStore persists alerts created by workflow actions.
type AlertStore interface {
	// CreateAlert persists an alert, assigning its ID when zero.
	CreateAlert(ctx context.Context, alert *types.Alert) error

	// GetAlert retrieves an alert by ID.
	GetAlert(ctx context.Context, id uint64) (types.Alert, error)

	// ListAlerts returns a tenant's alerts, newest first.
	ListAlerts(ctx context.Context, tenantID string) ([]types.Alert, error)
}

// Tx is the transaction-scoped view handed to the engine's per-workflow
// action loop. Alert writes made through it are buffered and only
// become visible when the transaction commits.
type Tx interface {
	Alerts() AlertStore
}

// Transactor runs a function inside one transaction. A nil return
// commits the buffered writes; any error discards them and is returned
// unchanged to the caller.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Storage is the full persistence surface a backend provides.
type Storage interface {
	WorkflowStore
	ExecutionStore
	AlertStore
	Transactor
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
