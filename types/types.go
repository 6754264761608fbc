package types

import "time"

// EventType identifies a domain occurrence that can trigger workflows.
// The set is closed; collaborators that dispatch events pick from it.
type EventType string

const (
	EventVehicleCreated     EventType = "vehicle_created"
	EventVehicleUpdated     EventType = "vehicle_updated"
	EventVehicleDeleted     EventType = "vehicle_deleted"
	EventDeviceCreated      EventType = "device_created"
	EventDeviceUpdated      EventType = "device_updated"
	EventDeviceDeleted      EventType = "device_deleted"
	EventDriverCreated      EventType = "driver_created"
	EventDriverUpdated      EventType = "driver_updated"
	EventDriverDeleted      EventType = "driver_deleted"
	EventDeviceAlertRaised  EventType = "device_alert_raised"
	EventSpeedLimitExceeded EventType = "speed_limit_exceeded"
	EventGeofenceEntered    EventType = "geofence_entered"
	EventGeofenceExited     EventType = "geofence_exited"
	EventMaintenanceDue     EventType = "maintenance_due"
	EventTripStarted        EventType = "trip_started"
	EventTripEnded          EventType = "trip_ended"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIsNull             Operator = "is_null"
	OpIsNotNull          Operator = "is_not_null"
	OpIsTrue             Operator = "is_true"
	OpIsFalse            Operator = "is_false"
	OpChanged            Operator = "changed"
	OpChangedFrom        Operator = "changed_from"
	OpChangedTo          Operator = "changed_to"
	// OpExpression evaluates Condition.Value as a boolean expression over
	// the event context instead of a single field comparison.
	OpExpression Operator = "expression"
)

// LogicalOperator combines a condition with the next one in its group.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType identifies a built-in action handler.
type ActionType string

const (
	ActionCreateAlert ActionType = "create_alert"
	ActionLogAlert    ActionType = "log_alert"
)

// Severity levels accepted by the create_alert action.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// SourceModel is the opaque reference to the domain entity an event
// originated from. Attributes carry whatever scalar state the
// collaborator chose to expose for condition matching and interpolation.
type SourceModel struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Event is the value handed to the engine for one domain occurrence.
// It is immutable once constructed and lives for a single dispatch cycle.
type Event struct {
	Type       EventType              `json:"type"`
	Source     SourceModel            `json:"source"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Previous   interface{}            `json:"previous,omitempty"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Workflow is a tenant-owned automation definition. The engine treats it
// as read-only; triggers, conditions and actions are loaded eagerly.
type Workflow struct {
	ID         uint64      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	Name       string      `json:"name"`
	Active     bool        `json:"active"`
	Triggers   []Trigger   `json:"triggers,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`
}

// Trigger makes a workflow eligible for one event type. A workflow with
// several triggers matches any of them.
type Trigger struct {
	EventType EventType `json:"event_type"`
}

// Condition is one comparison inside a condition group. Logical is the
// operator that combines this condition's result with the NEXT condition
// in the same group, evaluated left to right in Order.
type Condition struct {
	GroupID   int             `json:"group_id"`
	Order     int             `json:"order"`
	FieldPath string          `json:"field_path"`
	Operator  Operator        `json:"operator"`
	Value     interface{}     `json:"value,omitempty"`
	Logical   LogicalOperator `json:"logical_operator,omitempty"`
}

// Action is one parameterized side-effecting step of a workflow.
type Action struct {
	Type        ActionType             `json:"action_type"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Order       int                    `json:"order"`
	StopOnError bool                   `json:"stop_on_error"`
}

// LogEntry is one timestamped line of an execution's audit trail.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// TriggerSnapshot freezes the triggering event's payload on the
// execution record so the audit trail stays meaningful after the
// source entity changes or disappears.
type TriggerSnapshot struct {
	ModelType string                 `json:"model_type"`
	ModelID   string                 `json:"model_id"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
	Previous  interface{}            `json:"previous,omitempty"`
}

// Execution is the audit record of one firing of one workflow for one
// event. It is mutated only by the engine during that firing.
type Execution struct {
	ID           uint64          `json:"id"`
	WorkflowID   uint64          `json:"workflow_id"`
	TriggeredBy  EventType       `json:"triggered_by"`
	TriggerData  TriggerSnapshot `json:"trigger_data"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Log          []LogEntry      `json:"log,omitempty"`
}

// Alert is the side-effect entity produced by the create_alert action.
// AlertableType/AlertableID point back at the triggering source model.
type Alert struct {
	ID            uint64                 `json:"id"`
	Title         string                 `json:"title"`
	Content       string                 `json:"content"`
	Severity      Severity               `json:"severity"`
	AlertableType string                 `json:"alertable_type"`
	AlertableID   string                 `json:"alertable_id"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	IsActive      bool                   `json:"is_active"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ValidSeverity reports whether s is one of the accepted alert severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess:
		return true
	}
	return false
}
