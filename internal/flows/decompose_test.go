package flows

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"energyflow/internal/model"
)

const eps = 1e-6

func assertFlows(t *testing.T, want, got model.Flows) {
	t.Helper()
	assert.InDelta(t, want.SolarToHome, got.SolarToHome, eps, "solar_to_home")
	assert.InDelta(t, want.SolarToGrid, got.SolarToGrid, eps, "solar_to_grid")
	assert.InDelta(t, want.SolarToBattery, got.SolarToBattery, eps, "solar_to_battery")
	assert.InDelta(t, want.GridToHome, got.GridToHome, eps, "grid_to_home")
	assert.InDelta(t, want.GridToBattery, got.GridToBattery, eps, "grid_to_battery")
	assert.InDelta(t, want.BatteryToHome, got.BatteryToHome, eps, "battery_to_home")
	assert.InDelta(t, want.BatteryToGrid, got.BatteryToGrid, eps, "battery_to_grid")
}

func assertConserved(t *testing.T, in model.MeterInputs, f model.Flows) {
	t.Helper()
	assert.InDelta(t, in.SolarProduction, f.SolarToHome+f.SolarToGrid+f.SolarToBattery, eps, "solar balance")
	assert.InDelta(t, in.BatteryDischarge, f.BatteryToHome+f.BatteryToGrid, eps, "discharge balance")
	assert.InDelta(t, in.BatteryCharge, f.SolarToBattery+f.GridToBattery, eps, "charge balance")
	assert.InDelta(t, in.GridExport, f.SolarToGrid+f.BatteryToGrid, eps, "export balance")
	assert.InDelta(t, in.GridImport, f.GridToHome+f.GridToBattery, eps, "import balance")
}

func TestDecomposePureSelfConsumption(t *testing.T) {
	got := Decompose(model.MeterInputs{SolarProduction: 1000})
	assertFlows(t, model.Flows{SolarToHome: 1000}, got)
}

func TestDecomposeSolarChargesThenExports(t *testing.T) {
	got := Decompose(model.MeterInputs{
		SolarProduction: 1000,
		BatteryCharge:   300,
		GridExport:      200,
	})
	assertFlows(t, model.Flows{SolarToBattery: 300, SolarToGrid: 200, SolarToHome: 500}, got)
}

func TestDecomposeGridIntoBatteryBeyondHomeNeed(t *testing.T) {
	got := Decompose(model.MeterInputs{GridImport: 500, BatteryCharge: 500})
	assertFlows(t, model.Flows{GridToBattery: 500}, got)
}

func TestDecomposeEveningBatteryAndGrid(t *testing.T) {
	in := model.MeterInputs{GridImport: 300, BatteryDischarge: 700, GridExport: 100}
	got := Decompose(in)
	assertFlows(t, model.Flows{BatteryToGrid: 100, BatteryToHome: 600, GridToHome: 300}, got)
	assertConserved(t, in, got)
}

func TestDecomposeNegativeInputsCountAsZero(t *testing.T) {
	got := Decompose(model.MeterInputs{SolarProduction: 200, GridImport: -50})
	assertFlows(t, model.Flows{SolarToHome: 200}, got)
}

func TestDecomposeAllZero(t *testing.T) {
	assert.Equal(t, model.Flows{}, Decompose(model.MeterInputs{}))
}

// Any set of physical flows, summed into meter readings, must come back as
// a decomposition that balances every node.
func TestDecomposeConservationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pick := func() float64 {
		if rng.Intn(3) == 0 {
			return 0
		}
		return rng.Float64() * 5000
	}

	for i := 0; i < 5000; i++ {
		truth := model.Flows{
			SolarToHome:    pick(),
			SolarToGrid:    pick(),
			SolarToBattery: pick(),
			GridToHome:     pick(),
			GridToBattery:  pick(),
			BatteryToHome:  pick(),
			BatteryToGrid:  pick(),
		}
		in := model.MeterInputs{
			SolarProduction:  truth.SolarToHome + truth.SolarToGrid + truth.SolarToBattery,
			GridImport:       truth.GridToHome + truth.GridToBattery,
			GridExport:       truth.SolarToGrid + truth.BatteryToGrid,
			BatteryCharge:    truth.SolarToBattery + truth.GridToBattery,
			BatteryDischarge: truth.BatteryToHome + truth.BatteryToGrid,
		}

		got := Decompose(in)
		assertConserved(t, in, got)
		assert.InDelta(t, truth.ToHome(), got.ToHome(), eps, "home total")
		for _, v := range []float64{got.SolarToHome, got.SolarToGrid, got.SolarToBattery, got.GridToHome, got.GridToBattery, got.BatteryToHome, got.BatteryToGrid} {
			assert.GreaterOrEqual(t, v, -1e-9)
		}
		if t.Failed() {
			t.Fatalf("inputs %+v", in)
		}
	}
}

func TestDecomposeNonNegativeForArbitraryInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		in := model.MeterInputs{
			SolarProduction:  rng.Float64() * 1000,
			GridImport:       rng.Float64() * 1000,
			GridExport:       rng.Float64() * 1000,
			BatteryCharge:    rng.Float64() * 1000,
			BatteryDischarge: rng.Float64() * 1000,
		}
		got := Decompose(in)
		for _, v := range []float64{got.SolarToHome, got.SolarToGrid, got.SolarToBattery, got.GridToHome, got.GridToBattery, got.BatteryToHome, got.BatteryToGrid} {
			assert.GreaterOrEqual(t, v, -1e-9)
		}
	}
}
