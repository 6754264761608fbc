package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetglue/automation/types"
)

func sampleWorkflow(id uint64, tenantID string, active bool, eventTypes ...types.EventType) types.Workflow {
	wf := types.Workflow{
		ID:       id,
		TenantID: tenantID,
		Name:     "Test workflow",
		Active:   active,
	}
	for _, et := range eventTypes {
		wf.Triggers = append(wf.Triggers, types.Trigger{EventType: et})
	}
	return wf
}

func sampleExecution(id, workflowID uint64, startedAt time.Time) types.Execution {
	return types.Execution{
		ID:          id,
		WorkflowID:  workflowID,
		TriggeredBy: types.EventDeviceAlertRaised,
		Status:      types.StatusRunning,
		StartedAt:   startedAt,
	}
}

func TestMemorySaveAndGetWorkflow(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	wf := sampleWorkflow(1, "T1", true, types.EventDeviceAlertRaised)
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	got, err := store.GetWorkflow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, wf, got)

	_, err = store.GetWorkflow(ctx, 999)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestMemoryActiveForEvent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow(1, "T1", true, types.EventDeviceAlertRaised)))
	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow(2, "T1", false, types.EventDeviceAlertRaised)))
	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow(3, "T2", true, types.EventDeviceAlertRaised)))
	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow(4, "T1", true, types.EventTripEnded)))
	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow(5, "T1", true, types.EventTripEnded, types.EventDeviceAlertRaised)))

	matched, err := store.ActiveForEvent(ctx, "T1", types.EventDeviceAlertRaised)
	require.NoError(t, err)

	ids := make([]uint64, 0, len(matched))
	for _, wf := range matched {
		ids = append(ids, wf.ID)
	}
	assert.ElementsMatch(t, []uint64{1, 5}, ids)
}

func TestMemoryExecutionLifecycle(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateExecution(ctx, sampleExecution(10, 1, now)))

	require.NoError(t, store.AppendLog(ctx, 10, types.LogEntry{Timestamp: now, Message: "Workflow execution started"}))
	require.NoError(t, store.AppendLog(ctx, 10, types.LogEntry{Timestamp: now, Message: "Executing action: log_alert"}))

	completedAt := now.Add(time.Second)
	require.NoError(t, store.MarkCompleted(ctx, 10, completedAt))

	exec, err := store.GetExecution(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
	assert.True(t, exec.CompletedAt.Equal(completedAt))
	require.Len(t, exec.Log, 2)
	assert.Equal(t, "Workflow execution started", exec.Log[0].Message)

	assert.ErrorIs(t, store.AppendLog(ctx, 999, types.LogEntry{Message: "x"}), ErrExecutionNotFound)
}

func TestMemoryMarkFailed(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateExecution(ctx, sampleExecution(11, 1, now)))
	require.NoError(t, store.MarkFailed(ctx, 11, now.Add(time.Second), "action create_alert failed: boom"))

	exec, err := store.GetExecution(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, exec.Status)
	assert.Equal(t, "action create_alert failed: boom", exec.ErrorMessage)
}

func TestMemoryListExecutions(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateExecution(ctx, sampleExecution(1, 7, now.Add(-48*time.Hour))))
	require.NoError(t, store.CreateExecution(ctx, sampleExecution(2, 7, now.Add(-time.Hour))))
	require.NoError(t, store.CreateExecution(ctx, sampleExecution(3, 7, now)))
	require.NoError(t, store.CreateExecution(ctx, sampleExecution(4, 8, now)))

	execs, err := store.ListExecutions(ctx, 7, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, uint64(3), execs[0].ID, "newest first")
	assert.Equal(t, uint64(2), execs[1].ID)
}

func TestMemoryPurgeExecutions(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	old := sampleExecution(1, 7, now.Add(-48*time.Hour))
	old.Status = types.StatusCompleted
	stillRunning := sampleExecution(2, 7, now.Add(-48*time.Hour))
	recent := sampleExecution(3, 7, now)
	recent.Status = types.StatusFailed

	require.NoError(t, store.CreateExecution(ctx, old))
	require.NoError(t, store.CreateExecution(ctx, stillRunning))
	require.NoError(t, store.CreateExecution(ctx, recent))

	require.NoError(t, store.PurgeExecutions(ctx, now.Add(-24*time.Hour)))

	_, err := store.GetExecution(ctx, 1)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	_, err = store.GetExecution(ctx, 2)
	assert.NoError(t, err, "running executions are never purged")
	_, err = store.GetExecution(ctx, 3)
	assert.NoError(t, err, "recent executions survive")
}

func TestMemoryAlerts(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	first := &types.Alert{Title: "a", TenantID: "T1", CreatedAt: time.Now().Add(-time.Minute)}
	second := &types.Alert{Title: "b", TenantID: "T1", CreatedAt: time.Now()}
	other := &types.Alert{Title: "c", TenantID: "T2", CreatedAt: time.Now()}

	require.NoError(t, store.CreateAlert(ctx, first))
	require.NoError(t, store.CreateAlert(ctx, second))
	require.NoError(t, store.CreateAlert(ctx, other))

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)

	got, err := store.GetAlert(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)

	alerts, err := store.ListAlerts(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "b", alerts[0].Title, "newest first")
}

func TestMemoryWithinTx(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	t.Run("commit makes alerts visible", func(t *testing.T) {
		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.Alerts().CreateAlert(ctx, &types.Alert{Title: "committed", TenantID: "T1", CreatedAt: time.Now()})
		})
		require.NoError(t, err)

		alerts, err := store.ListAlerts(ctx, "T1")
		require.NoError(t, err)
		assert.Len(t, alerts, 1)
	})

	t.Run("rollback discards alerts", func(t *testing.T) {
		abort := errors.New("abort")
		var insideID uint64

		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			alert := &types.Alert{Title: "rolled back", TenantID: "T1", CreatedAt: time.Now()}
			if err := tx.Alerts().CreateAlert(ctx, alert); err != nil {
				return err
			}
			insideID = alert.ID
			return abort
		})
		assert.ErrorIs(t, err, abort)
		assert.NotZero(t, insideID, "id is assigned inside the transaction")

		_, err = store.GetAlert(ctx, insideID)
		assert.ErrorIs(t, err, ErrAlertNotFound)

		alerts, err := store.ListAlerts(ctx, "T1")
		require.NoError(t, err)
		assert.Len(t, alerts, 1, "only the committed alert remains")
	})
}

func TestMemoryContextCancellation(t *testing.T) {
	store := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SaveWorkflow(ctx, sampleWorkflow(1, "T1", true)), context.Canceled)
	_, err := store.GetWorkflow(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error { return nil }), context.Canceled)
}
