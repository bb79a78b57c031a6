package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// lenientFloat decodes numbers and numeric strings; anything else, including NaN and
// infinities, becomes 0.
type lenientFloat float64

func (f *lenientFloat) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		*f = 0
		return nil
	}
	switch x := v.(type) {
	case float64:
		*f = lenientFloat(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			parsed = 0
		}
		*f = lenientFloat(parsed)
	default:
		*f = 0
	}
	return nil
}

type meterPayload struct {
	Voltage     lenientFloat `json:"voltage"`
	Current     lenientFloat `json:"current"`
	Power       lenientFloat `json:"power"`
	Energy      lenientFloat `json:"energy"`
	Frequency   lenientFloat `json:"frequency"`
	PowerFactor lenientFloat `json:"pf"`
}

type relayPayload struct {
	ID    int64           `json:"id"`
	State json.RawMessage `json:"state"`
}

type telemetryPayload struct {
	Meters map[string]meterPayload `json:"meters"`
	Relays []relayPayload          `json:"relays"`
}

// DecodeTelemetry parses a device upload:
//
//	{"meters": {"pzem1": {"voltage": 230.1, "current": 1.2, "power": 276, "energy": 12.4,
//	 "frequency": 50, "pf": 0.98}}, "relays": [{"id": 1, "state": "on"}]}
//
// Missing or malformed meter fields default to 0. Relay entries with an unknown state
// are ignored.
func DecodeTelemetry(data []byte) (TelemetryInput, error) {
	var p telemetryPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return TelemetryInput{}, apperr.Invalid("body", "malformed telemetry payload: %v", err)
	}

	in := TelemetryInput{Meters: make(map[string]models.MeterReading, len(p.Meters))}
	for id, m := range p.Meters {
		in.Meters[id] = models.MeterReading{
			Voltage:     float64(m.Voltage),
			Current:     float64(m.Current),
			Power:       float64(m.Power),
			Energy:      float64(m.Energy),
			Frequency:   float64(m.Frequency),
			PowerFactor: float64(m.PowerFactor),
		}
	}
	for _, r := range p.Relays {
		if state, ok := parseRelayState(r.State); ok && r.ID > 0 {
			in.Relays = append(in.Relays, models.DeviceRelayState{RelayID: r.ID, State: state})
		}
	}
	return in, nil
}

func parseRelayState(raw json.RawMessage) (models.State, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case bool:
		if x {
			return models.StateOn, true
		}
		return models.StateOff, true
	case float64:
		if x == 1 {
			return models.StateOn, true
		}
		if x == 0 {
			return models.StateOff, true
		}
	case string:
		s := models.State(strings.ToLower(strings.TrimSpace(x)))
		if s.Valid() {
			return s, true
		}
	}
	return "", false
}
