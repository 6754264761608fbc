package rules

import (
	"reflect"
	"strings"

	"github.com/fleetglue/automation/types"
)

// ExtractFieldValue resolves a dot-notation path against an event.
// The first segment picks a root: "model" resolves into the source
// model's attributes, "event" into the event data, "previous" into the
// pre-change state. Any other first segment treats the WHOLE path as a
// flat key into the event data; no segment is consumed. A miss at any
// step short-circuits to nil.
func ExtractFieldValue(path string, event *types.Event) interface{} {
	segments := strings.Split(path, ".")

	switch segments[0] {
	case "model":
		return resolveSegments(event.Source.Attributes, segments[1:])
	case "event":
		return resolveSegments(event.Data, segments[1:])
	case "previous":
		return resolveSegments(event.Previous, segments[1:])
	default:
		if event.Data == nil {
			return nil
		}
		value, ok := event.Data[path]
		if !ok {
			return nil
		}
		return value
	}
}

// resolveSegments walks the remaining path segments through nested
// string-keyed maps.
func resolveSegments(root interface{}, segments []string) interface{} {
	current := root
	for _, segment := range segments {
		if current == nil {
			return nil
		}
		switch m := current.(type) {
		case map[string]interface{}:
			value, ok := m[segment]
			if !ok {
				return nil
			}
			current = value
		default:
			rv := reflect.ValueOf(current)
			if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
				return nil
			}
			value := rv.MapIndex(reflect.ValueOf(segment))
			if !value.IsValid() {
				return nil
			}
			current = value.Interface()
		}
	}
	return current
}
