package mqttpub

import (
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"energyflow/internal/metrics"
	"energyflow/internal/model"
)

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type haEntityConfig struct {
	Name             string         `json:"name,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	StateTopic       string         `json:"state_topic"`
	UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
	ValueTemplate    string         `json:"value_template"`
	UniqueId         string         `json:"unique_id"`
	StateClass       string         `json:"state_class,omitempty"`
	DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
	Device           haDeviceConfig `json:"device"`
}

type sensorSpec struct {
	key, name, deviceClass, unit, stateClass string
	precision                                int
}

// Exporter turns snapshots into MQTT discovery configs and state updates.
// It implements engine.Callback.
type Exporter struct {
	discoveryPrefix string
	topicPrefix     string
	out             chan<- Message
	logger          *slog.Logger
}

func NewExporter(discoveryPrefix, topicPrefix string, out chan<- Message, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		discoveryPrefix: strings.TrimRight(discoveryPrefix, "/"),
		topicPrefix:     strings.TrimRight(topicPrefix, "/"),
		out:             out,
		logger:          logger,
	}
}

func (e *Exporter) stateTopic() string {
	return e.topicPrefix + "/state"
}

func sensors() []sensorSpec {
	var specs []sensorSpec
	for _, key := range flowKeys {
		specs = append(specs, sensorSpec{
			key: key, name: title(key), deviceClass: "energy", unit: "kWh", stateClass: "total", precision: 3,
		})
	}
	for _, key := range roleKeys {
		specs = append(specs, sensorSpec{
			key: key, name: title(key), deviceClass: "energy", unit: "kWh", stateClass: "total", precision: 3,
		})
	}
	specs = append(specs, sensorSpec{
		key: "low_carbon_percentage", name: "Low Carbon Percentage", unit: "%", stateClass: "measurement", precision: 1,
	})
	return specs
}

var (
	flowKeys = []string{
		"solar_to_home", "solar_to_grid", "solar_to_battery",
		"grid_to_home", "grid_to_battery",
		"battery_to_home", "battery_to_grid",
	}
	roleKeys = []string{
		"solar_production", "grid_import", "grid_export",
		"battery_charge", "battery_discharge", "home_consumption",
	}
)

func title(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Discovery returns one retained discovery config per published sensor.
func (e *Exporter) Discovery() ([]Message, error) {
	device := haDeviceConfig{
		Identifiers:  []string{e.topicPrefix},
		Name:         "Energy Flows",
		Manufacturer: "energyflow",
	}

	var msgs []Message
	for _, s := range sensors() {
		uniqueID := e.topicPrefix + "_" + s.key
		cfg := haEntityConfig{
			Name:             s.name,
			DeviceClass:      s.deviceClass,
			StateTopic:       e.stateTopic(),
			UnitOfMeasure:    s.unit,
			ValueTemplate:    "{{ value_json." + s.key + " }}",
			UniqueId:         uniqueID,
			StateClass:       s.stateClass,
			DisplayPrecision: s.precision,
			Device:           device,
		}
		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{
			Topic:   e.discoveryPrefix + "/sensor/" + uniqueID + "/config",
			Payload: payload,
			QoS:     2,
			Retain:  true,
		})
	}
	return msgs, nil
}

// PublishDiscovery queues the discovery configs.
func (e *Exporter) PublishDiscovery() error {
	msgs, err := e.Discovery()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		e.out <- m
	}
	return nil
}

// StatePayload renders the snapshot as one JSON document in kWh. The
// carbon percentage is omitted while it is undefined.
func StatePayload(s model.Snapshot) ([]byte, error) {
	state := make(map[string]float64, len(flowKeys)+len(roleKeys)+1)
	for k, v := range metrics.FlowValues(s.Flows) {
		state[k] = round3(model.WattHoursToKWh(v))
	}
	roles := map[string]float64{
		"solar_production":  s.Totals.SolarProduction,
		"grid_import":       s.Totals.GridImport,
		"grid_export":       s.Totals.GridExport,
		"battery_charge":    s.Totals.BatteryCharge,
		"battery_discharge": s.Totals.BatteryDischarge,
		"home_consumption":  s.Totals.HomeConsumption,
	}
	for k, v := range roles {
		state[k] = round3(model.WattHoursToKWh(v))
	}
	if s.Carbon.Available && !math.IsNaN(s.Carbon.LowCarbonPercentage) {
		state["low_carbon_percentage"] = math.Round(s.Carbon.LowCarbonPercentage*10) / 10
	}
	return json.Marshal(state)
}

// OnSnapshot queues the state update without blocking the engine.
func (e *Exporter) OnSnapshot(s model.Snapshot) {
	payload, err := StatePayload(s)
	if err != nil {
		e.logger.Error("marshaling mqtt state", "error", err)
		return
	}
	select {
	case e.out <- Message{Topic: e.stateTopic(), Payload: payload, QoS: 1}:
	default:
		e.logger.Warn("mqtt queue full, dropping state update")
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
