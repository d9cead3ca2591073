package model

import "time"

// Flows are the seven directional energy flows, in Wh.
type Flows struct {
	SolarToHome    float64 `json:"solar_to_home"`
	SolarToGrid    float64 `json:"solar_to_grid"`
	SolarToBattery float64 `json:"solar_to_battery"`
	GridToHome     float64 `json:"grid_to_home"`
	GridToBattery  float64 `json:"grid_to_battery"`
	BatteryToHome  float64 `json:"battery_to_home"`
	BatteryToGrid  float64 `json:"battery_to_grid"`
}

// Add returns the element-wise sum of f and o.
func (f Flows) Add(o Flows) Flows {
	return Flows{
		SolarToHome:    f.SolarToHome + o.SolarToHome,
		SolarToGrid:    f.SolarToGrid + o.SolarToGrid,
		SolarToBattery: f.SolarToBattery + o.SolarToBattery,
		GridToHome:     f.GridToHome + o.GridToHome,
		GridToBattery:  f.GridToBattery + o.GridToBattery,
		BatteryToHome:  f.BatteryToHome + o.BatteryToHome,
		BatteryToGrid:  f.BatteryToGrid + o.BatteryToGrid,
	}
}

// ToHome is the energy delivered to the home.
func (f Flows) ToHome() float64 {
	return f.SolarToHome + f.BatteryToHome + f.GridToHome
}

// ToGrid is the energy exported.
func (f Flows) ToGrid() float64 {
	return f.SolarToGrid + f.BatteryToGrid
}

// ToBattery is the energy stored.
func (f Flows) ToBattery() float64 {
	return f.SolarToBattery + f.GridToBattery
}

// MeterInputs are the five per-bucket role deltas Decompose works on, in Wh.
type MeterInputs struct {
	SolarProduction  float64
	GridImport       float64
	GridExport       float64
	BatteryCharge    float64
	BatteryDischarge float64
}

// Add returns the element-wise sum of m and o.
func (m MeterInputs) Add(o MeterInputs) MeterInputs {
	return MeterInputs{
		SolarProduction:  m.SolarProduction + o.SolarProduction,
		GridImport:       m.GridImport + o.GridImport,
		GridExport:       m.GridExport + o.GridExport,
		BatteryCharge:    m.BatteryCharge + o.BatteryCharge,
		BatteryDischarge: m.BatteryDischarge + o.BatteryDischarge,
	}
}

// Role returns the value for an energy role, 0 for anything else.
func (m MeterInputs) Role(r MeterRole) float64 {
	switch r {
	case RoleSolarProduction:
		return m.SolarProduction
	case RoleGridImport:
		return m.GridImport
	case RoleGridExport:
		return m.GridExport
	case RoleBatteryCharge:
		return m.BatteryCharge
	case RoleBatteryDischarge:
		return m.BatteryDischarge
	default:
		return 0
	}
}

// Set stores v for an energy role; other roles are ignored.
func (m *MeterInputs) Set(r MeterRole, v float64) {
	switch r {
	case RoleSolarProduction:
		m.SolarProduction = v
	case RoleGridImport:
		m.GridImport = v
	case RoleGridExport:
		m.GridExport = v
	case RoleBatteryCharge:
		m.BatteryCharge = v
	case RoleBatteryDischarge:
		m.BatteryDischarge = v
	}
}

// RoleTotals are the per-role energy totals for a window, in Wh.
type RoleTotals struct {
	SolarProduction  float64 `json:"solar_production"`
	GridImport       float64 `json:"grid_import"`
	GridExport       float64 `json:"grid_export"`
	BatteryCharge    float64 `json:"battery_charge"`
	BatteryDischarge float64 `json:"battery_discharge"`
	HomeConsumption  float64 `json:"home_consumption"`
}

// NewRoleTotals derives totals from summed meter inputs. The second result
// reports a negative home consumption estimate, which is clamped to 0.
func NewRoleTotals(in MeterInputs) (RoleTotals, bool) {
	t := RoleTotals{
		SolarProduction:  in.SolarProduction,
		GridImport:       in.GridImport,
		GridExport:       in.GridExport,
		BatteryCharge:    in.BatteryCharge,
		BatteryDischarge: in.BatteryDischarge,
	}
	home := in.GridImport + in.BatteryDischarge + in.SolarProduction - in.GridExport - in.BatteryCharge
	if home < 0 {
		return t, true
	}
	t.HomeConsumption = home
	return t, false
}

// Inputs returns the five role values of t.
func (t RoleTotals) Inputs() MeterInputs {
	return MeterInputs{
		SolarProduction:  t.SolarProduction,
		GridImport:       t.GridImport,
		GridExport:       t.GridExport,
		BatteryCharge:    t.BatteryCharge,
		BatteryDischarge: t.BatteryDischarge,
	}
}

// CarbonSplit divides grid import into high- and low-carbon energy.
// LowCarbonPercentage is NaN when there was no grid import.
type CarbonSplit struct {
	Available           bool    `json:"available"`
	HighCarbonEnergy    float64 `json:"high_carbon_energy"`
	LowCarbonEnergy     float64 `json:"low_carbon_energy"`
	LowCarbonPercentage float64 `json:"low_carbon_percentage"`
}

// Snapshot is the immutable result of one reconciliation pass.
type Snapshot struct {
	Window               TimeRange
	Period               Period
	Live                 bool
	Flows                Flows
	Totals               RoleTotals
	Carbon               CarbonSplit
	HomeConsumptionError bool
	ComputedAt           time.Time
}
