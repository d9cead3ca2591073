package model

import "time"

// MeterRole is the logical quantity a meter entity supplies, independent of
// which physical entity reports it.
type MeterRole string

const (
	RoleSolarProduction  MeterRole = "solar_production"
	RoleGridImport       MeterRole = "grid_import"
	RoleGridExport       MeterRole = "grid_export"
	RoleBatteryCharge    MeterRole = "battery_charge"
	RoleBatteryDischarge MeterRole = "battery_discharge"
	RoleCarbonSignal     MeterRole = "carbon_signal"
)

// EnergyRoles are the five roles that feed flow decomposition, in the order
// Decompose takes them.
var EnergyRoles = []MeterRole{
	RoleSolarProduction,
	RoleGridImport,
	RoleGridExport,
	RoleBatteryCharge,
	RoleBatteryDischarge,
}

// RoleInfo holds display name and default unit for a role.
type RoleInfo struct {
	Name string
	Unit string
}

// RoleCatalog maps every known MeterRole to its display name and unit.
var RoleCatalog = map[MeterRole]RoleInfo{
	RoleSolarProduction:  {Name: "Solar Production", Unit: "kWh"},
	RoleGridImport:       {Name: "Grid Import", Unit: "kWh"},
	RoleGridExport:       {Name: "Grid Export", Unit: "kWh"},
	RoleBatteryCharge:    {Name: "Battery Charge", Unit: "kWh"},
	RoleBatteryDischarge: {Name: "Battery Discharge", Unit: "kWh"},
	RoleCarbonSignal:     {Name: "Grid Fossil Fuel Percentage", Unit: "%"},
}

// IsValid reports whether r is one of the known roles.
func (r MeterRole) IsValid() bool {
	_, ok := RoleCatalog[r]
	return ok
}

// EntityState is the current raw state of one entity as reported by the
// state source. Value stays a string because sources report "unavailable"
// and "unknown" alongside numbers.
type EntityState struct {
	EntityID    string
	Value       string
	Unit        string
	LastChanged time.Time
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End).
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Duration returns End - Start.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}
