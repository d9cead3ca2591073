package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"energyflow/internal/flows"
	"energyflow/internal/model"
)

// EntityList is an entity field that may be written as a single id or as a
// list of ids.
type EntityList []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (l *EntityList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*l = nil
			return nil
		}
		*l = EntityList{value.Value}
		return nil
	case yaml.SequenceNode:
		var ids []string
		if err := value.Decode(&ids); err != nil {
			return err
		}
		*l = EntityList(ids)
		return nil
	default:
		return fmt.Errorf("line %d: entity must be a string or a list of strings", value.Line)
	}
}

// LegacyEntities is the flat schema: one key per role.
type LegacyEntities struct {
	Solar            EntityList `yaml:"solar_entity"`
	GridConsumption  EntityList `yaml:"grid_consumption_entity"`
	GridProduction   EntityList `yaml:"grid_production_entity"`
	BatteryCharge    EntityList `yaml:"battery_charge_entity"`
	BatteryDischarge EntityList `yaml:"battery_discharge_entity"`
	Carbon           EntityList `yaml:"carbon_entity"`
	// ZeroTolerance is in Wh and applies to every energy role.
	ZeroTolerance *float64 `yaml:"zero_tolerance"`
}

func (l LegacyEntities) empty() bool {
	return len(l.Solar)+len(l.GridConsumption)+len(l.GridProduction)+
		len(l.BatteryCharge)+len(l.BatteryDischarge)+len(l.Carbon) == 0
}

// FlowPair names the consumption and production entities of a node.
// For the grid consumption is import and production is export; for the
// battery consumption is discharge and production is charge.
type FlowPair struct {
	Consumption EntityList `yaml:"consumption"`
	Production  EntityList `yaml:"production"`
}

type SolarEntity struct {
	Entity EntityList `yaml:"entity"`
	// ZeroTolerance is in Wh. A total at or below it is reported as 0.
	ZeroTolerance *float64 `yaml:"display_zero_tolerance"`
}

type GridEntity struct {
	Entity FlowPair `yaml:"entity"`
	// ZeroTolerance is in Wh. A total at or below it is reported as 0.
	ZeroTolerance *float64 `yaml:"display_zero_tolerance"`
}

type BatteryEntity struct {
	Entity FlowPair `yaml:"entity"`
	// ZeroTolerance is in Wh. A total at or below it is reported as 0.
	ZeroTolerance *float64 `yaml:"display_zero_tolerance"`
}

type CarbonEntity struct {
	Entity EntityList `yaml:"entity"`
}

// Entities is the extended nested schema. Every block is optional.
type Entities struct {
	Solar                *SolarEntity   `yaml:"solar"`
	Grid                 *GridEntity    `yaml:"grid"`
	Battery              *BatteryEntity `yaml:"battery"`
	FossilFuelPercentage *CarbonEntity  `yaml:"fossil_fuel_percentage"`
}

// RoleMapping maps each role to the entity ids that supply it.
type RoleMapping map[model.MeterRole][]string

// Primary returns the entity used for a role. Only the first configured id
// takes part in the computation.
func (m RoleMapping) Primary(role model.MeterRole) (string, bool) {
	ids := m[role]
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// Ignored returns the ids configured for a role beyond the first one.
func (m RoleMapping) Ignored(role model.MeterRole) []string {
	ids := m[role]
	if len(ids) < 2 {
		return nil
	}
	return ids[1:]
}

// PrimaryIDs returns the primary entity of every mapped role, deduplicated,
// in role order.
func (m RoleMapping) PrimaryIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, role := range append(append([]model.MeterRole(nil), model.EnergyRoles...), model.RoleCarbonSignal) {
		id, ok := m.Primary(role)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// HasEnergyRole reports whether at least one energy role is mapped.
func (m RoleMapping) HasEnergyRole() bool {
	for _, role := range model.EnergyRoles {
		if _, ok := m.Primary(role); ok {
			return true
		}
	}
	return false
}

func (l LegacyEntities) mapping() (RoleMapping, flows.Tolerances) {
	m := RoleMapping{}
	put(m, model.RoleSolarProduction, l.Solar)
	put(m, model.RoleGridImport, l.GridConsumption)
	put(m, model.RoleGridExport, l.GridProduction)
	put(m, model.RoleBatteryCharge, l.BatteryCharge)
	put(m, model.RoleBatteryDischarge, l.BatteryDischarge)
	put(m, model.RoleCarbonSignal, l.Carbon)

	tol := flows.Tolerances{}
	if l.ZeroTolerance != nil {
		for _, role := range model.EnergyRoles {
			tol[role] = *l.ZeroTolerance
		}
	}
	return m, tol
}

func (e Entities) mapping() (RoleMapping, flows.Tolerances) {
	m := RoleMapping{}
	tol := flows.Tolerances{}
	if e.Solar != nil {
		put(m, model.RoleSolarProduction, e.Solar.Entity)
		setTolerance(tol, e.Solar.ZeroTolerance, model.RoleSolarProduction)
	}
	if e.Grid != nil {
		put(m, model.RoleGridImport, e.Grid.Entity.Consumption)
		put(m, model.RoleGridExport, e.Grid.Entity.Production)
		setTolerance(tol, e.Grid.ZeroTolerance, model.RoleGridImport, model.RoleGridExport)
	}
	if e.Battery != nil {
		put(m, model.RoleBatteryDischarge, e.Battery.Entity.Consumption)
		put(m, model.RoleBatteryCharge, e.Battery.Entity.Production)
		setTolerance(tol, e.Battery.ZeroTolerance, model.RoleBatteryCharge, model.RoleBatteryDischarge)
	}
	if e.FossilFuelPercentage != nil {
		put(m, model.RoleCarbonSignal, e.FossilFuelPercentage.Entity)
	}
	return m, tol
}

func put(m RoleMapping, role model.MeterRole, ids EntityList) {
	if len(ids) > 0 {
		m[role] = append([]string(nil), ids...)
	}
}

func setTolerance(tol flows.Tolerances, v *float64, roles ...model.MeterRole) {
	if v == nil {
		return
	}
	for _, r := range roles {
		tol[r] = *v
	}
}
