package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/zap"

	"github.com/fleetglue/automation/actions"
	"github.com/fleetglue/automation/rules"
	"github.com/fleetglue/automation/storage"
	"github.com/fleetglue/automation/types"
)

// AbortError is the sentinel raised inside the per-workflow action
// transaction when an action with stop_on_error fails. It only travels
// within that transactional scope; the engine converts it into a failed
// execution record.
type AbortError struct {
	ActionType types.ActionType
	Message    string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("action %s failed: %s", e.ActionType, e.Message)
}

// Engine matches incoming events against tenant-defined workflows and
// runs their actions, recording an auditable execution trail. One
// ProcessEvent call runs to completion on the calling goroutine; the
// engine holds no mutable state between invocations beyond the store.
type Engine struct {
	store     storage.Storage
	evaluator *rules.Evaluator
	executor  *actions.Executor
	files     actions.FileAppender
	generate  generator.Generator
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the general structured logging sink.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFileAppender sets the append-only file area used by log_alert.
func WithFileAppender(files actions.FileAppender) Option {
	return func(e *Engine) {
		e.files = files
	}
}

// WithEvaluator replaces the condition evaluator.
func WithEvaluator(evaluator *rules.Evaluator) Option {
	return func(e *Engine) {
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine. The generator supplies execution IDs;
// a nil store falls back to in-memory storage.
func NewEngine(generate generator.Generator, store storage.Storage, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &Engine{
		store:    store,
		generate: generate,
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	// Dependent collaborators are built after options so they see the
	// configured logger, appender and clock.
	if e.evaluator == nil {
		e.evaluator = rules.NewEvaluator(e.logger)
	}
	e.executor = actions.NewExecutor(e.files, e.logger)
	e.executor.SetClock(e.now)

	return e, nil
}

// RegisterWorkflow validates and persists a workflow definition.
func (e *Engine) RegisterWorkflow(ctx context.Context, wf types.Workflow) error {
	if wf.ID == 0 {
		return errors.New("workflow ID cannot be zero")
	}
	if wf.TenantID == "" {
		return errors.New("workflow must belong to a tenant")
	}
	if len(wf.Triggers) == 0 {
		return errors.New("workflow must have at least one trigger")
	}
	return e.store.SaveWorkflow(ctx, wf)
}

// Handle adapts ProcessEvent to the events.Handler contract so the
// engine can subscribe to a bus.
func (e *Engine) Handle(ctx context.Context, event types.Event) error {
	e.ProcessEvent(ctx, &event)
	return nil
}

// ProcessEvent is the engine entry point for one domain event. It is
// fire-and-forget: outcomes are the execution records and the actions'
// side effects. Events without a tenant are not automatable and are
// skipped with a warning.
func (e *Engine) ProcessEvent(ctx context.Context, event *types.Event) {
	if event.TenantID == "" {
		e.logger.Warn("skipping workflow processing for event without tenant",
			zap.String("event_type", string(event.Type)),
			zap.String("source_model", event.Source.Type),
			zap.String("source_id", event.Source.ID))
		return
	}

	workflows, err := e.store.ActiveForEvent(ctx, event.TenantID, event.Type)
	if err != nil {
		e.logger.Error("failed to load workflows for event",
			zap.String("tenant_id", event.TenantID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return
	}

	for _, wf := range workflows {
		// No conditions means the workflow fires unconditionally.
		if len(wf.Conditions) > 0 && !e.evaluator.Evaluate(wf.Conditions, event) {
			continue
		}
		e.fire(ctx, wf, event)
	}
}

// fire runs one matching workflow's actions for one event inside a
// single transaction, recording an execution audit trail. Execution log
// appends are outside the transaction so the trail of an aborted run
// survives the rollback; only transactional-store effects roll back.
func (e *Engine) fire(ctx context.Context, wf types.Workflow, event *types.Event) {
	id, err := e.generate.NextID()
	if err != nil {
		e.logger.Error("failed to generate execution id",
			zap.Uint64("workflow_id", wf.ID),
			zap.Error(err))
		return
	}

	exec := types.Execution{
		ID:          id,
		WorkflowID:  wf.ID,
		TriggeredBy: event.Type,
		TriggerData: types.TriggerSnapshot{
			ModelType: event.Source.Type,
			ModelID:   event.Source.ID,
			EventData: event.Data,
			Previous:  event.Previous,
		},
		Status:    types.StatusRunning,
		StartedAt: e.now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.logger.Error("failed to create execution record",
			zap.Uint64("workflow_id", wf.ID),
			zap.Error(err))
		return
	}

	e.appendLog(ctx, id, "Workflow execution started", map[string]interface{}{
		"workflow_id": wf.ID,
		"event_type":  string(event.Type),
	})

	ordered := make([]types.Action, len(wf.Actions))
	copy(ordered, wf.Actions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	txErr := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, action := range ordered {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			e.appendLog(ctx, id, "Executing action: "+string(action.Type), map[string]interface{}{
				"order": action.Order,
			})

			result := e.executor.Execute(ctx, action, event, &exec, tx.Alerts())
			if !result.Success {
				e.appendLog(ctx, id, "Action failed: "+result.Error, map[string]interface{}{
					"action_type": string(action.Type),
				})
				if action.StopOnError {
					return &AbortError{ActionType: action.Type, Message: result.Error}
				}
			}

			// A non-fatal failure still counts the action as done; the
			// execution proceeds and, absent a later abort, completes.
			e.appendLog(ctx, id, "Action completed", map[string]interface{}{
				"action_type": string(action.Type),
				"success":     result.Success,
			})
		}
		return nil
	})

	if txErr != nil {
		completedAt := e.now()
		if err := e.store.MarkFailed(ctx, id, completedAt, txErr.Error()); err != nil {
			e.logger.Error("failed to mark execution failed",
				zap.Uint64("execution_id", id),
				zap.Error(err))
		}
		e.logger.Error("workflow execution failed",
			zap.Uint64("workflow_id", wf.ID),
			zap.Uint64("execution_id", id),
			zap.Error(txErr),
			zap.Stack("stack"))
		return
	}

	if err := e.store.MarkCompleted(ctx, id, e.now()); err != nil {
		e.logger.Error("failed to mark execution completed",
			zap.Uint64("execution_id", id),
			zap.Error(err))
		return
	}
	e.appendLog(ctx, id, "Workflow execution completed successfully", nil)
}

// appendLog writes one audit trail entry; append failures are logged
// and swallowed so they never fail the execution itself.
func (e *Engine) appendLog(ctx context.Context, executionID uint64, message string, logCtx map[string]interface{}) {
	entry := types.LogEntry{
		Timestamp: e.now(),
		Message:   message,
		Context:   logCtx,
	}
	if err := e.store.AppendLog(ctx, executionID, entry); err != nil {
		e.logger.Error("failed to append execution log",
			zap.Uint64("execution_id", executionID),
			zap.String("message", message),
			zap.Error(err))
	}
}
