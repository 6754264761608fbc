package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetglue/automation/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	workflows   map[uint64]types.Workflow
	executions  map[uint64]types.Execution
	alerts      map[uint64]types.Alert
	nextAlertID uint64
	mu          sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		workflows:  make(map[uint64]types.Workflow),
		executions: make(map[uint64]types.Execution),
		alerts:     make(map[uint64]types.Alert),
	}
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[uint64]T, id uint64, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%d", errNotFound, id)
		}
		return item, nil
	})
}

// SaveWorkflow saves a workflow definition to memory.
func (s *MemoryStorage) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.workflows[wf.ID] = wf
		return nil
	})
}

// GetWorkflow retrieves a workflow from memory.
func (s *MemoryStorage) GetWorkflow(ctx context.Context, id uint64) (types.Workflow, error) {
	return getItem(ctx, &s.mu, s.workflows, id, ErrWorkflowNotFound)
}

// ActiveForEvent returns active workflows for the tenant whose trigger
// set includes the event type.
func (s *MemoryStorage) ActiveForEvent(ctx context.Context, tenantID string, eventType types.EventType) ([]types.Workflow, error) {
	return withContext(ctx, func() ([]types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var matched []types.Workflow
		for _, wf := range s.workflows {
			if !wf.Active || wf.TenantID != tenantID {
				continue
			}
			for _, trigger := range wf.Triggers {
				if trigger.EventType == eventType {
					matched = append(matched, wf)
					break
				}
			}
		}
		return matched, nil
	})
}

// CreateExecution persists a new execution record.
func (s *MemoryStorage) CreateExecution(ctx context.Context, exec types.Execution) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.executions[exec.ID] = copyExecution(exec)
		return nil
	})
}

// GetExecution retrieves an execution from memory.
func (s *MemoryStorage) GetExecution(ctx context.Context, id uint64) (types.Execution, error) {
	exec, err := getItem(ctx, &s.mu, s.executions, id, ErrExecutionNotFound)
	if err != nil {
		return types.Execution{}, err
	}
	return copyExecution(exec), nil
}

// AppendLog appends one entry to an execution's audit trail.
func (s *MemoryStorage) AppendLog(ctx context.Context, executionID uint64, entry types.LogEntry) error {
	return s.updateExecution(ctx, executionID, func(exec *types.Execution) {
		exec.Log = append(exec.Log, entry)
	})
}

// MarkCompleted finalizes an execution as completed.
func (s *MemoryStorage) MarkCompleted(ctx context.Context, executionID uint64, at time.Time) error {
	return s.updateExecution(ctx, executionID, func(exec *types.Execution) {
		exec.Status = types.StatusCompleted
		exec.CompletedAt = &at
	})
}

// MarkFailed finalizes an execution as failed.
func (s *MemoryStorage) MarkFailed(ctx context.Context, executionID uint64, at time.Time, message string) error {
	return s.updateExecution(ctx, executionID, func(exec *types.Execution) {
		exec.Status = types.StatusFailed
		exec.CompletedAt = &at
		exec.ErrorMessage = message
	})
}

// ListExecutions returns a workflow's executions started at or after
// since, newest first.
func (s *MemoryStorage) ListExecutions(ctx context.Context, workflowID uint64, since time.Time) ([]types.Execution, error) {
	return withContext(ctx, func() ([]types.Execution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var execs []types.Execution
		for _, exec := range s.executions {
			if exec.WorkflowID == workflowID && !exec.StartedAt.Before(since) {
				execs = append(execs, copyExecution(exec))
			}
		}
		sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
		return execs, nil
	})
}

// PurgeExecutions removes finalized executions started before cutoff.
func (s *MemoryStorage) PurgeExecutions(ctx context.Context, cutoff time.Time) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, exec := range s.executions {
			if exec.Status != types.StatusRunning && exec.StartedAt.Before(cutoff) {
				delete(s.executions, id)
			}
		}
		return nil
	})
}

// CreateAlert persists an alert, assigning its ID when zero.
func (s *MemoryStorage) CreateAlert(ctx context.Context, alert *types.Alert) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if alert.ID == 0 {
			s.nextAlertID++
			alert.ID = s.nextAlertID
		}
		s.alerts[alert.ID] = *alert
		return nil
	})
}

// GetAlert retrieves an alert from memory.
func (s *MemoryStorage) GetAlert(ctx context.Context, id uint64) (types.Alert, error) {
	return getItem(ctx, &s.mu, s.alerts, id, ErrAlertNotFound)
}

// ListAlerts returns a tenant's alerts, newest first.
func (s *MemoryStorage) ListAlerts(ctx context.Context, tenantID string) ([]types.Alert, error) {
	return withContext(ctx, func() ([]types.Alert, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var alerts []types.Alert
		for _, alert := range s.alerts {
			if alert.TenantID == tenantID {
				alerts = append(alerts, alert)
			}
		}
		sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
		return alerts, nil
	})
}

// WithinTx buffers alert writes and applies them only when fn returns
// nil. IDs are assigned at write time and are not reclaimed on
// rollback, matching sequence semantics.
func (s *MemoryStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return withContextError(ctx, func() error {
		tx := &memoryTx{store: s}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, alert := range tx.buffered {
			s.alerts[alert.ID] = alert
		}
		return nil
	})
}

type memoryTx struct {
	store    *MemoryStorage
	buffered []types.Alert
}

func (t *memoryTx) Alerts() AlertStore { return (*memoryTxAlerts)(t) }

type memoryTxAlerts memoryTx

// CreateAlert buffers the alert until the surrounding transaction commits.
func (t *memoryTxAlerts) CreateAlert(ctx context.Context, alert *types.Alert) error {
	return withContextError(ctx, func() error {
		t.store.mu.Lock()
		if alert.ID == 0 {
			t.store.nextAlertID++
			alert.ID = t.store.nextAlertID
		}
		t.store.mu.Unlock()
		t.buffered = append(t.buffered, *alert)
		return nil
	})
}

func (t *memoryTxAlerts) GetAlert(ctx context.Context, id uint64) (types.Alert, error) {
	return t.store.GetAlert(ctx, id)
}

func (t *memoryTxAlerts) ListAlerts(ctx context.Context, tenantID string) ([]types.Alert, error) {
	return t.store.ListAlerts(ctx, tenantID)
}

// updateExecution applies fn to an execution under the write lock.
func (s *MemoryStorage) updateExecution(ctx context.Context, id uint64, fn func(*types.Execution)) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		exec, ok := s.executions[id]
		if !ok {
			return fmt.Errorf("%w: id=%d", ErrExecutionNotFound, id)
		}
		fn(&exec)
		s.executions[id] = exec
		return nil
	})
}

// copyExecution clones the log slice so callers cannot alias the
// stored record.
func copyExecution(exec types.Execution) types.Execution {
	if exec.Log != nil {
		log := make([]types.LogEntry, len(exec.Log))
		copy(log, exec.Log)
		exec.Log = log
	}
	return exec
}
