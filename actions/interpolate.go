package actions

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/fleetglue/automation/types"
)

const timestampLayout = "2006-01-02 15:04:05"

// Interpolate replaces {scope.key} tokens in a template with values
// drawn from the event. Unmatched tokens are left verbatim.
//
// Built-in tokens: {model.id}, {model.type}, {event.type}, {tenant.id}
// (the literal "central" when the event has no tenant) and {timestamp}.
// Every scalar entry of the event data is exposed as {event.<key>}.
// Vehicle source models additionally expose {vehicle.name} and
// {vehicle.registration}, defaulting to "Unknown" when absent.
func Interpolate(template string, event *types.Event, now time.Time) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return strings.NewReplacer(tokenPairs(event, now)...).Replace(template)
}

// InterpolateValue applies Interpolate recursively through nested map
// and slice parameter values. Strings are interpolated in place;
// everything else passes through unchanged.
func InterpolateValue(value interface{}, event *types.Event, now time.Time) interface{} {
	switch v := value.(type) {
	case string:
		return Interpolate(v, event, now)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, inner := range v {
			out[key] = InterpolateValue(inner, event, now)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = InterpolateValue(inner, event, now)
		}
		return out
	default:
		return value
	}
}

// tokenPairs builds the old/new argument list for strings.Replacer.
// Built-in tokens come first so they win over colliding event data keys.
func tokenPairs(event *types.Event, now time.Time) []string {
	pairs := []string{
		"{model.id}", event.Source.ID,
		"{model.type}", event.Source.Type,
		"{event.type}", string(event.Type),
		"{tenant.id}", TenantOrCentral(event.TenantID),
		"{timestamp}", now.Format(timestampLayout),
	}

	for key, value := range event.Data {
		if isScalar(value) {
			pairs = append(pairs, "{event."+key+"}", cast.ToString(value))
		}
	}

	if event.Source.Type == "Vehicle" {
		pairs = append(pairs,
			"{vehicle.name}", vehicleAttribute(event, "name"),
			"{vehicle.registration}", vehicleAttribute(event, "registration"),
		)
	}

	return pairs
}

func vehicleAttribute(event *types.Event, key string) string {
	if value, ok := event.Source.Attributes[key]; ok && isScalar(value) {
		return cast.ToString(value)
	}
	return "Unknown"
}

func isScalar(value interface{}) bool {
	switch value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// TenantOrCentral maps an absent tenant to the literal "central".
func TenantOrCentral(tenantID string) string {
	if tenantID == "" {
		return "central"
	}
	return tenantID
}
