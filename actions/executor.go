package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/fleetglue/automation/types"
)

// AlertSink persists alerts produced by the create_alert action. The
// engine passes a transaction-scoped sink so alert writes roll back
// with the rest of the workflow's transaction.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *types.Alert) error
}

// Result is the structured outcome of one action execution. The
// executor never reports failure by returning an error or panicking;
// fatality is the engine's call via the action's stop_on_error flag.
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failure(format string, args ...interface{}) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Executor interprets stored action definitions against events.
type Executor struct {
	files  FileAppender
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor creates an Executor. A nil appender disables the
// log_alert file write (the action still succeeds and logs through the
// general sink); a nil logger falls back to a no-op.
func NewExecutor(files FileAppender, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		files:  files,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the executor's time source. Intended for tests.
func (x *Executor) SetClock(now func() time.Time) {
	if now != nil {
		x.now = now
	}
}

// Execute dispatches an action to its handler. Unknown action types and
// panics anywhere below this point are converted to a failed Result.
func (x *Executor) Execute(ctx context.Context, action types.Action, event *types.Event, exec *types.Execution, alerts AlertSink) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("action execution panicked",
				zap.String("action_type", string(action.Type)),
				zap.Uint64("execution_id", executionID(exec)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = failure("%v", r)
		}
	}()

	switch action.Type {
	case types.ActionLogAlert:
		return x.logAlert(action, event)
	case types.ActionCreateAlert:
		return x.createAlert(ctx, action, event, alerts)
	default:
		return failure("Unsupported action type: %s", action.Type)
	}
}

// Validate reports configuration problems an action would fail with at
// execution time. Used by the engine's dry run; performs no side effects.
func Validate(action types.Action) []string {
	var problems []string
	switch action.Type {
	case types.ActionLogAlert:
	case types.ActionCreateAlert:
		for _, key := range []string{"title", "content", "severity"} {
			if _, ok := action.Parameters[key]; !ok {
				problems = append(problems, fmt.Sprintf("Missing required parameter: %s", key))
			}
		}
		if raw, ok := action.Parameters["severity"]; ok {
			if !types.ValidSeverity(types.Severity(cast.ToString(raw))) {
				problems = append(problems, invalidSeverityMessage(cast.ToString(raw)))
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("Unsupported action type: %s", action.Type))
	}
	return problems
}

// logAlert appends a JSON line to a tenant-scoped append-only log file
// and mirrors the message through the general logging sink. A file
// write failure is logged but does not fail the action.
func (x *Executor) logAlert(action types.Action, event *types.Event) Result {
	now := x.now()

	message := cast.ToString(action.Parameters["message"])
	message = Interpolate(message, event, now)

	level := cast.ToString(action.Parameters["level"])
	if level == "" {
		level = "info"
	}

	filename := fmt.Sprintf("workflow-alerts-%s.log", TenantOrCentral(event.TenantID))

	line, err := json.Marshal(map[string]interface{}{
		"timestamp":    now.Format(timestampLayout),
		"tenant_id":    TenantOrCentral(event.TenantID),
		"event_type":   string(event.Type),
		"source_model": event.Source.Type,
		"source_id":    event.Source.ID,
		"level":        level,
		"message":      message,
		"event_data":   event.Data,
	})
	if err != nil {
		return failure("failed to encode log entry: %v", err)
	}

	if x.files != nil {
		if err := x.files.Append(filename, line); err != nil {
			x.logger.Warn("failed to append workflow alert log",
				zap.String("filename", filename),
				zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("tenant_id", TenantOrCentral(event.TenantID)),
		zap.String("event_type", string(event.Type)),
		zap.String("source_model", event.Source.Type),
		zap.String("source_id", event.Source.ID),
	}
	switch level {
	case "warning", "warn":
		x.logger.Warn(message, fields...)
	case "error":
		x.logger.Error(message, fields...)
	default:
		x.logger.Info(message, fields...)
	}

	return Result{
		Success: true,
		Data: map[string]interface{}{
			"message":   message,
			"level":     level,
			"filename":  filename,
			"logged_at": now.Format(timestampLayout),
		},
	}
}

// createAlert persists an Alert pointing back at the event's source
// model. Required parameters are checked before any interpolation;
// severity is validated against the enum and used verbatim.
func (x *Executor) createAlert(ctx context.Context, action types.Action, event *types.Event, alerts AlertSink) Result {
	for _, key := range []string{"title", "content", "severity"} {
		if _, ok := action.Parameters[key]; !ok {
			return failure("Missing required parameter: %s", key)
		}
	}

	severity := types.Severity(cast.ToString(action.Parameters["severity"]))
	if !types.ValidSeverity(severity) {
		return Result{Error: invalidSeverityMessage(string(severity))}
	}

	if alerts == nil {
		return failure("Failed to create alert: no alert store configured")
	}

	now := x.now()
	alert := &types.Alert{
		Title:         Interpolate(cast.ToString(action.Parameters["title"]), event, now),
		Content:       Interpolate(cast.ToString(action.Parameters["content"]), event, now),
		Severity:      severity,
		AlertableType: event.Source.Type,
		AlertableID:   event.Source.ID,
		TenantID:      event.TenantID,
		IsActive:      true,
		CreatedAt:     now,
	}

	if raw, ok := action.Parameters["expires_at"]; ok {
		rendered := Interpolate(cast.ToString(raw), event, now)
		if expires, err := parseTimestamp(rendered); err == nil {
			alert.ExpiresAt = &expires
		} else {
			x.logger.Warn("unparsable expires_at on create_alert, omitting",
				zap.String("expires_at", rendered),
				zap.Error(err))
		}
	}

	if metadata, ok := action.Parameters["metadata"].(map[string]interface{}); ok {
		alert.Metadata, _ = InterpolateValue(metadata, event, now).(map[string]interface{})
	}

	if err := alerts.CreateAlert(ctx, alert); err != nil {
		return failure("Failed to create alert: %v", err)
	}

	return Result{
		Success: true,
		Data: map[string]interface{}{
			"alert_id":       alert.ID,
			"title":          alert.Title,
			"content":        alert.Content,
			"severity":       string(alert.Severity),
			"alertable_type": alert.AlertableType,
			"alertable_id":   alert.AlertableID,
			"tenant_id":      alert.TenantID,
			"created_at":     alert.CreatedAt.Format(timestampLayout),
		},
	}
}

func invalidSeverityMessage(got string) string {
	return fmt.Sprintf("Invalid severity: %s (allowed: %s, %s, %s, %s)", got,
		types.SeverityInfo, types.SeverityWarning, types.SeverityError, types.SeveritySuccess)
}

// parseTimestamp accepts the interpolation timestamp layout, RFC3339,
// and bare dates.
func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{timestampLayout, time.RFC3339, "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func executionID(exec *types.Execution) uint64 {
	if exec == nil {
		return 0
	}
	return exec.ID
}
