package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/fleetglue/automation/actions"
	"github.com/fleetglue/automation/types"
)

// PlannedAction describes one action a dry run would execute, with the
// string parameters rendered against the sample event for preview.
type PlannedAction struct {
	Order      int                    `json:"order"`
	Type       types.ActionType       `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Preview    map[string]interface{} `json:"preview,omitempty"`
}

// DryRunReport is the outcome of a workflow dry run.
type DryRunReport struct {
	Triggered      bool            `json:"triggered"`
	ConditionsMet  bool            `json:"conditions_met"`
	ActionsPlanned []PlannedAction `json:"actions_planned,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
}

// DryRun evaluates a workflow against sample event data without
// executing any action. It constructs a synthetic event from the
// sample, runs the condition evaluator, and lists the actions that
// would run together with any configuration problems they would hit.
func (e *Engine) DryRun(ctx context.Context, wf types.Workflow, sample map[string]interface{}) DryRunReport {
	event := &types.Event{
		TenantID:   wf.TenantID,
		Data:       sample,
		OccurredAt: e.now(),
		Source:     types.SourceModel{Type: "Sample", ID: "0"},
	}
	if len(wf.Triggers) > 0 {
		event.Type = wf.Triggers[0].EventType
	}

	report := DryRunReport{
		Triggered: wf.Active && len(wf.Triggers) > 0,
	}
	if !report.Triggered {
		report.Errors = append(report.Errors, "workflow is inactive or has no triggers")
	}

	report.ConditionsMet = e.evaluator.Evaluate(wf.Conditions, event)
	if !report.ConditionsMet {
		return report
	}

	ordered := make([]types.Action, len(wf.Actions))
	copy(ordered, wf.Actions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	now := e.now()
	for _, action := range ordered {
		planned := PlannedAction{
			Order:      action.Order,
			Type:       action.Type,
			Parameters: action.Parameters,
		}
		if problems := actions.Validate(action); len(problems) > 0 {
			report.Errors = append(report.Errors, problems...)
		} else {
			preview, _ := actions.InterpolateValue(action.Parameters, event, now).(map[string]interface{})
			planned.Preview = preview
		}
		report.ActionsPlanned = append(report.ActionsPlanned, planned)
	}
	return report
}

// Stats aggregates a workflow's executions over a trailing window.
type Stats struct {
	TotalExecutions      int           `json:"total_executions"`
	SuccessfulExecutions int           `json:"successful_executions"`
	FailedExecutions     int           `json:"failed_executions"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	LastExecution        *time.Time    `json:"last_execution,omitempty"`
	RecentErrors         []string      `json:"recent_errors,omitempty"`
}

const maxRecentErrors = 10

// ExecutionStats aggregates persisted executions of a workflow started
// within the trailing window of the given number of days.
func (e *Engine) ExecutionStats(ctx context.Context, workflowID uint64, days int) (Stats, error) {
	since := e.now().AddDate(0, 0, -days)
	execs, err := e.store.ListExecutions(ctx, workflowID, since)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var totalDuration time.Duration
	var timedExecutions int

	for _, exec := range execs {
		stats.TotalExecutions++
		switch exec.Status {
		case types.StatusCompleted:
			stats.SuccessfulExecutions++
		case types.StatusFailed:
			stats.FailedExecutions++
			if len(stats.RecentErrors) < maxRecentErrors && exec.ErrorMessage != "" {
				stats.RecentErrors = append(stats.RecentErrors, exec.ErrorMessage)
			}
		}
		if exec.CompletedAt != nil {
			totalDuration += exec.CompletedAt.Sub(exec.StartedAt)
			timedExecutions++
		}
		if stats.LastExecution == nil || exec.StartedAt.After(*stats.LastExecution) {
			started := exec.StartedAt
			stats.LastExecution = &started
		}
	}

	if timedExecutions > 0 {
		stats.AverageExecutionTime = totalDuration / time.Duration(timedExecutions)
	}
	return stats, nil
}
