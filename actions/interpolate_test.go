package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fleetglue/automation/types"
)

var interpolationClock = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func vehicleEvent() *types.Event {
	return &types.Event{
		Type:     types.EventSpeedLimitExceeded,
		TenantID: "T1",
		Source: types.SourceModel{
			Type: "Vehicle",
			ID:   "veh-7",
			Attributes: map[string]interface{}{
				"name":         "Delivery Van",
				"registration": "AB-123-CD",
			},
		},
		Data: map[string]interface{}{
			"speed": 112,
			"limit": 90,
		},
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "vehicle tokens with event type",
			template: "Vehicle {vehicle.registration} triggered {event.type}",
			want:     "Vehicle AB-123-CD triggered speed_limit_exceeded",
		},
		{
			name:     "model and tenant tokens",
			template: "{model.type} {model.id} in {tenant.id}",
			want:     "Vehicle veh-7 in T1",
		},
		{
			name:     "event data scalars",
			template: "speed {event.speed} over limit {event.limit}",
			want:     "speed 112 over limit 90",
		},
		{
			name:     "timestamp token",
			template: "at {timestamp}",
			want:     "at 2025-06-15 10:30:00",
		},
		{
			name:     "unmatched token left verbatim",
			template: "driver {driver.name} unknown",
			want:     "driver {driver.name} unknown",
		},
		{
			name:     "no tokens",
			template: "plain text",
			want:     "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, vehicleEvent(), interpolationClock))
		})
	}
}

func TestInterpolateVehicleDefaults(t *testing.T) {
	event := vehicleEvent()
	event.Source.Attributes = nil

	got := Interpolate("{vehicle.name} / {vehicle.registration}", event, interpolationClock)
	assert.Equal(t, "Unknown / Unknown", got)
}

func TestInterpolateNonVehicleSkipsVehicleTokens(t *testing.T) {
	event := vehicleEvent()
	event.Source.Type = "Device"

	got := Interpolate("{vehicle.registration}", event, interpolationClock)
	assert.Equal(t, "{vehicle.registration}", got)
}

func TestInterpolateValueRecursion(t *testing.T) {
	params := map[string]interface{}{
		"title": "Speeding: {vehicle.registration}",
		"nested": map[string]interface{}{
			"note":  "speed was {event.speed}",
			"count": 2,
		},
		"tags": []interface{}{"fleet", "{tenant.id}", 7},
	}

	got, ok := InterpolateValue(params, vehicleEvent(), interpolationClock).(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "Speeding: AB-123-CD", got["title"])

	nested := got["nested"].(map[string]interface{})
	assert.Equal(t, "speed was 112", nested["note"])
	assert.Equal(t, 2, nested["count"])

	tags := got["tags"].([]interface{})
	assert.Equal(t, []interface{}{"fleet", "T1", 7}, tags)

	// The input must not be mutated.
	assert.Equal(t, "Speeding: {vehicle.registration}", params["title"])
}

func TestTenantOrCentral(t *testing.T) {
	assert.Equal(t, "central", TenantOrCentral(""))
	assert.Equal(t, "T1", TenantOrCentral("T1"))
}
