package rules

import (
	"sort"

	"go.uber.org/zap"

	"github.com/fleetglue/automation/types"
)

// Evaluator decides whether a workflow's conditions hold for an event.
// Evaluation has no side effects; a single condition that panics is
// logged and degraded to false without aborting its siblings.
type Evaluator struct {
	logger *zap.Logger
	exprs  *ExprEvaluator
}

// NewEvaluator creates an Evaluator. A nil logger falls back to a no-op.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		logger: logger,
		exprs:  NewExprEvaluator(),
	}
}

// Evaluate reports whether the condition set holds for the event.
// An empty set always holds. Conditions are partitioned by group;
// groups combine with OR, so the first group that holds decides.
func (e *Evaluator) Evaluate(conditions []types.Condition, event *types.Event) bool {
	if len(conditions) == 0 {
		return true
	}

	groups := make(map[int][]types.Condition)
	groupIDs := make([]int, 0)
	for _, c := range conditions {
		if _, ok := groups[c.GroupID]; !ok {
			groupIDs = append(groupIDs, c.GroupID)
		}
		groups[c.GroupID] = append(groups[c.GroupID], c)
	}
	sort.Ints(groupIDs)

	for _, id := range groupIDs {
		if e.evaluateGroup(groups[id], event) {
			return true
		}
	}
	return false
}

// evaluateGroup combines a group's conditions left to right in Order.
// Each condition's own Logical operator governs how the NEXT condition
// is folded in; there is no algebraic precedence. An empty group is false.
func (e *Evaluator) evaluateGroup(group []types.Condition, event *types.Event) bool {
	if len(group) == 0 {
		return false
	}

	sorted := make([]types.Condition, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var result bool
	resultSet := false
	operator := types.LogicalAnd

	for _, cond := range sorted {
		conditionResult := e.evaluateCondition(cond, event)
		if !resultSet {
			result = conditionResult
			resultSet = true
		} else if operator == types.LogicalOr {
			result = result || conditionResult
		} else {
			result = result && conditionResult
		}
		if cond.Logical != "" {
			operator = cond.Logical
		} else {
			operator = types.LogicalAnd
		}
	}
	return result
}

// evaluateCondition evaluates one condition, fail-closed.
func (e *Evaluator) evaluateCondition(cond types.Condition, event *types.Event) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition evaluation panicked",
				zap.String("field_path", cond.FieldPath),
				zap.String("operator", string(cond.Operator)),
				zap.Any("panic", r))
			result = false
		}
	}()

	value := ExtractFieldValue(cond.FieldPath, event)

	switch cond.Operator {
	case types.OpEquals:
		return looseEqual(value, cond.Value)
	case types.OpNotEquals:
		return !looseEqual(value, cond.Value)
	case types.OpGreaterThan:
		c, ok := compareOrdered(value, cond.Value)
		return ok && c > 0
	case types.OpGreaterThanOrEqual:
		c, ok := compareOrdered(value, cond.Value)
		return ok && c >= 0
	case types.OpLessThan:
		c, ok := compareOrdered(value, cond.Value)
		return ok && c < 0
	case types.OpLessThanOrEqual:
		c, ok := compareOrdered(value, cond.Value)
		return ok && c <= 0
	case types.OpContains:
		return containsString(value, cond.Value, false)
	case types.OpNotContains:
		return containsString(value, cond.Value, true)
	case types.OpIsNull:
		return value == nil
	case types.OpIsNotNull:
		return value != nil
	case types.OpIsTrue:
		b, ok := value.(bool)
		return ok && b
	case types.OpIsFalse:
		b, ok := value.(bool)
		return ok && !b
	case types.OpChanged:
		// Compares the extracted value against the whole previous blob,
		// so it is only meaningful when the previous state is the scalar
		// the field path addresses. Kept for compatibility with stored
		// workflow definitions.
		return event.Previous != nil && !looseEqual(value, event.Previous)
	case types.OpChangedFrom:
		return looseEqual(event.Previous, cond.Value) && !looseEqual(value, cond.Value)
	case types.OpChangedTo:
		return looseEqual(value, cond.Value) &&
			(event.Previous == nil || !looseEqual(event.Previous, cond.Value))
	case types.OpExpression:
		return e.evaluateExpression(cond, event)
	default:
		e.logger.Warn("unknown condition operator", zap.String("operator", string(cond.Operator)))
		return false
	}
}

// containsString implements the contains/not_contains pair. Both are
// false when the extracted value is not a string; not_contains is NOT
// the negation of contains on non-string values.
func containsString(value, operand interface{}, negate bool) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	found := stringContains(s, operand)
	if negate {
		return !found
	}
	return found
}

// evaluateExpression runs Condition.Value as a boolean expression over
// the event context. Errors degrade to false like any other condition.
func (e *Evaluator) evaluateExpression(cond types.Condition, event *types.Event) bool {
	expression, ok := cond.Value.(string)
	if !ok {
		e.logger.Warn("expression condition value is not a string", zap.Any("value", cond.Value))
		return false
	}
	result, err := e.exprs.Evaluate(expression, ExpressionContext(event))
	if err != nil {
		e.logger.Error("expression condition failed",
			zap.String("expression", expression),
			zap.Error(err))
		return false
	}
	return result
}

// ExpressionContext builds the environment an expression condition sees.
func ExpressionContext(event *types.Event) map[string]interface{} {
	return map[string]interface{}{
		"event":    event.Data,
		"model":    event.Source.Attributes,
		"previous": event.Previous,
		"tenant":   event.TenantID,
		"type":     string(event.Type),
	}
}
