package flows

import "energyflow/internal/model"

// Tolerances holds the zero-tolerance per role. Roles without an entry are
// never clamped.
type Tolerances map[model.MeterRole]float64

// ClampZero returns 0 when v does not exceed the tolerance, v otherwise.
func ClampZero(v, tolerance float64) float64 {
	if tolerance >= v {
		return 0
	}
	return v
}

// Result is what a pass surfaces after clamping and rescaling.
type Result struct {
	Flows                model.Flows
	Totals               model.RoleTotals
	HomeConsumptionError bool
}

// Finalize clamps role totals below their tolerance, derives home
// consumption and rescales the flows so each group sums to its measured
// total: home-bound flows to home consumption, export flows to grid export
// and charge flows to battery charge. When a role was clamped the flows are
// decomposed again from the clamped totals. A group whose flows sum to zero
// against a positive total takes its values from that decomposition.
func Finalize(agg Aggregation, tol Tolerances) Result {
	in := agg.Inputs
	clamped := false
	for role, t := range tol {
		if !isEnergyRole(role) {
			continue
		}
		v := in.Role(role)
		if c := ClampZero(v, t); c != v {
			in.Set(role, c)
			clamped = true
		}
	}

	totals, negative := model.NewRoleTotals(in)

	f := agg.Flows
	ref := Decompose(in)
	if clamped {
		f = ref
	}

	if f.ToHome() == 0 && totals.HomeConsumption > 0 {
		f.SolarToHome, f.BatteryToHome, f.GridToHome = ref.SolarToHome, ref.BatteryToHome, ref.GridToHome
	}
	if f.ToGrid() == 0 && totals.GridExport > 0 {
		f.SolarToGrid, f.BatteryToGrid = ref.SolarToGrid, ref.BatteryToGrid
	}
	if f.ToBattery() == 0 && totals.BatteryCharge > 0 {
		f.SolarToBattery, f.GridToBattery = ref.SolarToBattery, ref.GridToBattery
	}

	f.SolarToHome, f.BatteryToHome, f.GridToHome = rescale3(totals.HomeConsumption, f.SolarToHome, f.BatteryToHome, f.GridToHome)
	f.SolarToGrid, f.BatteryToGrid = rescale2(totals.GridExport, f.SolarToGrid, f.BatteryToGrid)
	f.SolarToBattery, f.GridToBattery = rescale2(totals.BatteryCharge, f.SolarToBattery, f.GridToBattery)

	return Result{Flows: f, Totals: totals, HomeConsumptionError: negative}
}

func rescale3(total, a, b, c float64) (float64, float64, float64) {
	sum := a + b + c
	if sum == 0 {
		return a, b, c
	}
	k := total / sum
	return a * k, b * k, c * k
}

func rescale2(total, a, b float64) (float64, float64) {
	sum := a + b
	if sum == 0 {
		return a, b
	}
	k := total / sum
	return a * k, b * k
}

func isEnergyRole(r model.MeterRole) bool {
	for _, er := range model.EnergyRoles {
		if er == r {
			return true
		}
	}
	return false
}
