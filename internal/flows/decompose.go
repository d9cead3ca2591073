// Package flows turns per-role meter deltas into the seven directional energy
// flows between solar, grid, battery and home.
package flows

import (
	"math"

	"energyflow/internal/model"
)

// Decompose splits one bucket's meter deltas into directional flows.
//
// The system is under-determined, so a fixed priority order is applied:
// home consumption is attributed to solar, then battery, then grid, and
// battery charging to solar before grid. Import beyond what the home needs
// is charging the battery. Negative inputs are treated as 0.
func Decompose(in model.MeterInputs) model.Flows {
	solar := nonNeg(in.SolarProduction)
	gridImport := nonNeg(in.GridImport)
	gridExport := nonNeg(in.GridExport)
	charge := nonNeg(in.BatteryCharge)
	discharge := nonNeg(in.BatteryDischarge)

	var f model.Flows

	home := math.Max(0, gridImport+solar+discharge-gridExport-charge)

	excess := math.Max(0, math.Min(charge, gridImport-home))
	f.GridToBattery = excess
	charge -= excess
	gridImport -= excess

	f.SolarToBattery = math.Min(solar, charge)
	solar -= f.SolarToBattery
	charge -= f.SolarToBattery

	f.SolarToGrid = math.Min(solar, gridExport)
	solar -= f.SolarToGrid
	gridExport -= f.SolarToGrid

	f.BatteryToGrid = math.Min(discharge, gridExport)
	discharge -= f.BatteryToGrid

	rest := math.Min(gridImport, charge)
	f.GridToBattery += rest
	gridImport -= rest
	charge -= rest

	f.SolarToHome = math.Min(home, solar)
	home -= f.SolarToHome

	f.BatteryToHome = math.Min(discharge, home)
	home -= f.BatteryToHome

	f.GridToHome = math.Min(home, gridImport)

	return f
}

func nonNeg(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
