package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetglue/automation/types"
)

func TestExtractFieldValue(t *testing.T) {
	event := &types.Event{
		Type: types.EventVehicleUpdated,
		Source: types.SourceModel{
			Type: "Vehicle",
			ID:   "veh-7",
			Attributes: map[string]interface{}{
				"registration": "AB-123-CD",
				"engine":       map[string]interface{}{"hours": 1200},
			},
		},
		Data: map[string]interface{}{
			"speed":    112,
			"position": map[string]interface{}{"lat": 48.85, "lon": 2.35},
			"flat.key": "flat value",
		},
		Previous: map[string]interface{}{"speed": 88},
	}

	tests := []struct {
		name string
		path string
		want interface{}
	}{
		{name: "model attribute", path: "model.registration", want: "AB-123-CD"},
		{name: "model nested attribute", path: "model.engine.hours", want: 1200},
		{name: "model missing attribute", path: "model.vin", want: nil},
		{name: "event scalar", path: "event.speed", want: 112},
		{name: "event nested", path: "event.position.lat", want: 48.85},
		{name: "event miss short-circuits", path: "event.position.alt.raw", want: nil},
		{name: "previous root", path: "previous.speed", want: 88},
		{name: "fallback treats whole path as flat key", path: "flat.key", want: "flat value"},
		{name: "fallback miss", path: "no.such.key", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFieldValue(tt.path, event))
		})
	}
}

func TestExtractFieldValueNilRoots(t *testing.T) {
	event := &types.Event{Type: types.EventDeviceCreated}

	assert.Nil(t, ExtractFieldValue("model.name", event))
	assert.Nil(t, ExtractFieldValue("event.balance", event))
	assert.Nil(t, ExtractFieldValue("previous.balance", event))
	assert.Nil(t, ExtractFieldValue("balance", event))
}

func TestExtractFieldValuePreviousNotAMap(t *testing.T) {
	event := &types.Event{
		Type:     types.EventDeviceUpdated,
		Previous: "offline",
	}

	// Scalar previous state resolves for the bare root only.
	assert.Equal(t, "offline", ExtractFieldValue("previous", event))
	assert.Nil(t, ExtractFieldValue("previous.status", event))
}
