// Package metrics holds the Prometheus instruments of the reconciliation
// service.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"energyflow/internal/model"
)

const (
	metricPrefix = "energyflow_"

	ResultSuccess    = "success"
	ResultError      = "error"
	ResultSuperseded = "superseded"
)

// Metrics bundles the service metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	PassesTotal           *prometheus.CounterVec
	PassDuration          *prometheus.HistogramVec
	UnavailableEntities   *prometheus.CounterVec
	HomeConsumptionErrors prometheus.Counter
	FlowEnergy            *prometheus.GaugeVec
	RoleEnergy            *prometheus.GaugeVec
	LowCarbonPercentage   prometheus.Gauge
	WSClients             prometheus.Gauge
}

// New constructs the metrics and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "passes_total",
				Help: "Total reconciliation passes by result",
			},
			[]string{"result"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pass_duration_seconds",
				Help:    "Reconciliation pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		UnavailableEntities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "unavailable_entities_total",
				Help: "Entities missing or non-numeric during a pass",
			},
			[]string{"entity_id"},
		),
		HomeConsumptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "home_consumption_errors_total",
			Help: "Passes whose home consumption estimate came out negative",
		}),
		FlowEnergy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "flow_energy_wh",
				Help: "Directional energy flow of the last published snapshot",
			},
			[]string{"flow"},
		),
		RoleEnergy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "role_energy_wh",
				Help: "Per-role energy total of the last published snapshot",
			},
			[]string{"role"},
		),
		LowCarbonPercentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "low_carbon_percentage",
			Help: "Low-carbon share of grid import in the last snapshot",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ws_clients",
			Help: "Connected snapshot websocket clients",
		}),
	}
	reg.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.UnavailableEntities,
		m.HomeConsumptionErrors,
		m.FlowEnergy,
		m.RoleEnergy,
		m.LowCarbonPercentage,
		m.WSClients,
	)
	return m
}

// ObservePass records the outcome and duration of one pass.
func (m *Metrics) ObservePass(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(result).Inc()
	m.PassDuration.WithLabelValues(result).Observe(d.Seconds())
}

// EntityUnavailable counts a missing or non-numeric entity.
func (m *Metrics) EntityUnavailable(entityID string) {
	if m == nil {
		return
	}
	m.UnavailableEntities.WithLabelValues(entityID).Inc()
}

// SetClients reports the number of connected websocket clients.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// ObserveSnapshot exports a published snapshot as gauges.
func (m *Metrics) ObserveSnapshot(s model.Snapshot) {
	if m == nil {
		return
	}
	if s.HomeConsumptionError {
		m.HomeConsumptionErrors.Inc()
	}
	for name, v := range FlowValues(s.Flows) {
		m.FlowEnergy.WithLabelValues(name).Set(v)
	}
	m.RoleEnergy.WithLabelValues(string(model.RoleSolarProduction)).Set(s.Totals.SolarProduction)
	m.RoleEnergy.WithLabelValues(string(model.RoleGridImport)).Set(s.Totals.GridImport)
	m.RoleEnergy.WithLabelValues(string(model.RoleGridExport)).Set(s.Totals.GridExport)
	m.RoleEnergy.WithLabelValues(string(model.RoleBatteryCharge)).Set(s.Totals.BatteryCharge)
	m.RoleEnergy.WithLabelValues(string(model.RoleBatteryDischarge)).Set(s.Totals.BatteryDischarge)
	m.RoleEnergy.WithLabelValues("home_consumption").Set(s.Totals.HomeConsumption)
	if s.Carbon.Available && !math.IsNaN(s.Carbon.LowCarbonPercentage) {
		m.LowCarbonPercentage.Set(s.Carbon.LowCarbonPercentage)
	}
}

// FlowValues returns the flows keyed by their snake_case name.
func FlowValues(f model.Flows) map[string]float64 {
	return map[string]float64{
		"solar_to_home":    f.SolarToHome,
		"solar_to_grid":    f.SolarToGrid,
		"solar_to_battery": f.SolarToBattery,
		"grid_to_home":     f.GridToHome,
		"grid_to_battery":  f.GridToBattery,
		"battery_to_home":  f.BatteryToHome,
		"battery_to_grid":  f.BatteryToGrid,
	}
}
