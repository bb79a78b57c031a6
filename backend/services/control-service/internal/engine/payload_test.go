package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

func TestDecodeTelemetryDefaultsMalformedFields(t *testing.T) {
	in, err := DecodeTelemetry([]byte(`{
		"meters": {
			"pzem1": {"voltage": 230.5, "current": "1.5", "power": "n/a", "energy": 12.25, "pf": 0.97},
			"pzem2": {}
		},
		"relays": [
			{"id": 1, "state": "ON"},
			{"id": 2, "state": false},
			{"id": 3, "state": "dim"},
			{"id": 0, "state": "on"}
		]
	}`))
	require.NoError(t, err)

	require.Len(t, in.Meters, 2)
	m := in.Meters["pzem1"]
	assert.Equal(t, 230.5, m.Voltage)
	assert.Equal(t, 1.5, m.Current)
	assert.Equal(t, 0.0, m.Power)
	assert.Equal(t, 12.25, m.Energy)
	assert.Equal(t, 0.97, m.PowerFactor)
	assert.Equal(t, models.MeterReading{}, in.Meters["pzem2"])

	assert.Equal(t, []models.DeviceRelayState{
		{RelayID: 1, State: models.StateOn},
		{RelayID: 2, State: models.StateOff},
	}, in.Relays)
}

func TestDecodeTelemetryRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeTelemetry([]byte(`{"meters": [`))
	assert.True(t, apperr.IsValidation(err))
}

func TestDecodeTelemetryZeroesNonFiniteValues(t *testing.T) {
	in, err := DecodeTelemetry([]byte(`{"meters": {
		"pzem1": {"energy": "NaN", "power": "Inf", "voltage": "-Infinity", "current": "1e400", "pf": "nan"}
	}}`))
	require.NoError(t, err)

	assert.Equal(t, models.MeterReading{}, in.Meters["pzem1"])
}
