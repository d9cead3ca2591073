package ws

import (
	"encoding/json"
	"math"
	"time"

	"energyflow/internal/model"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypeFlowsRefresh = "flows:refresh"
	TypeFlowsSetLive = "flows:set_live"

	// Server -> Client
	TypeSnapshotUpdate = "snapshot:update"
	TypeFlowsState     = "flows:state"
	TypeError          = "error"
)

// Client -> Server messages

type SetLivePayload struct {
	Live bool `json:"live"`
}

// Server -> Client messages

type FlowsStatePayload struct {
	Live bool `json:"live"`
}

// ErrorPayload answers a client message that could not be handled.
type ErrorPayload struct {
	Message string `json:"message"`
}

type TimeRangeInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CarbonPayload mirrors model.CarbonSplit. LowCarbonPercentage is null when
// no grid energy was imported.
type CarbonPayload struct {
	Available           bool     `json:"available"`
	HighCarbonWh        float64  `json:"high_carbon_wh"`
	LowCarbonWh         float64  `json:"low_carbon_wh"`
	LowCarbonPercentage *float64 `json:"low_carbon_percentage"`
}

// SnapshotPayload carries one published snapshot. Energies are in Wh.
type SnapshotPayload struct {
	Window               TimeRangeInfo    `json:"window"`
	Period               string           `json:"period"`
	Live                 bool             `json:"live"`
	Flows                model.Flows      `json:"flows"`
	Totals               model.RoleTotals `json:"totals"`
	Carbon               CarbonPayload    `json:"carbon"`
	HomeConsumptionError bool             `json:"home_consumption_error"`
	ComputedAt           string           `json:"computed_at"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func SnapshotFromEngine(s model.Snapshot) SnapshotPayload {
	carbon := CarbonPayload{
		Available:    s.Carbon.Available,
		HighCarbonWh: s.Carbon.HighCarbonEnergy,
		LowCarbonWh:  s.Carbon.LowCarbonEnergy,
	}
	if !math.IsNaN(s.Carbon.LowCarbonPercentage) {
		carbon.LowCarbonPercentage = model.Float(s.Carbon.LowCarbonPercentage)
	}

	return SnapshotPayload{
		Window: TimeRangeInfo{
			Start: s.Window.Start.Format(time.RFC3339),
			End:   s.Window.End.Format(time.RFC3339),
		},
		Period:               string(s.Period),
		Live:                 s.Live,
		Flows:                s.Flows,
		Totals:               s.Totals,
		Carbon:               carbon,
		HomeConsumptionError: s.HomeConsumptionError,
		ComputedAt:           s.ComputedAt.Format(time.RFC3339),
	}
}
