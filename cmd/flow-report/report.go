package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"energyflow/internal/model"
)

var flowRows = []struct {
	label string
	value func(model.Flows) float64
}{
	{"solar -> home", func(f model.Flows) float64 { return f.SolarToHome }},
	{"solar -> grid", func(f model.Flows) float64 { return f.SolarToGrid }},
	{"solar -> battery", func(f model.Flows) float64 { return f.SolarToBattery }},
	{"grid -> home", func(f model.Flows) float64 { return f.GridToHome }},
	{"grid -> battery", func(f model.Flows) float64 { return f.GridToBattery }},
	{"battery -> home", func(f model.Flows) float64 { return f.BatteryToHome }},
	{"battery -> grid", func(f model.Flows) float64 { return f.BatteryToGrid }},
}

func kwh(wh float64) string {
	return fmt.Sprintf("%.3f", model.WattHoursToKWh(wh))
}

// writeReport prints s as aligned text, energies in kWh.
func writeReport(w io.Writer, s model.Snapshot) {
	mode := "history"
	if s.Live {
		mode = "live"
	}
	fmt.Fprintf(w, "Window  %s .. %s (%s buckets, %s)\n",
		s.Window.Start.Format("2006-01-02 15:04 MST"),
		s.Window.End.Format("2006-01-02 15:04 MST"),
		s.Period, mode)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\nFlow\tkWh\t")
	for _, r := range flowRows {
		fmt.Fprintf(tw, "%s\t%s\t\n", r.label, kwh(r.value(s.Flows)))
	}

	fmt.Fprintln(tw, "\nTotal\tkWh\t")
	fmt.Fprintf(tw, "solar production\t%s\t\n", kwh(s.Totals.SolarProduction))
	fmt.Fprintf(tw, "grid import\t%s\t\n", kwh(s.Totals.GridImport))
	fmt.Fprintf(tw, "grid export\t%s\t\n", kwh(s.Totals.GridExport))
	fmt.Fprintf(tw, "battery charge\t%s\t\n", kwh(s.Totals.BatteryCharge))
	fmt.Fprintf(tw, "battery discharge\t%s\t\n", kwh(s.Totals.BatteryDischarge))
	fmt.Fprintf(tw, "home consumption\t%s\t\n", kwh(s.Totals.HomeConsumption))
	tw.Flush()

	if s.HomeConsumptionError {
		fmt.Fprintln(w, "warning: meters report more outflow than inflow, home consumption clamped to 0")
	}

	fmt.Fprintln(w)
	switch {
	case !s.Carbon.Available:
		fmt.Fprintln(w, "Carbon  no carbon signal configured")
	case math.IsNaN(s.Carbon.LowCarbonPercentage):
		fmt.Fprintln(w, "Carbon  no grid import")
	default:
		fmt.Fprintf(w, "Carbon  %.1f%% low-carbon (low %s kWh, high %s kWh)\n",
			s.Carbon.LowCarbonPercentage, kwh(s.Carbon.LowCarbonEnergy), kwh(s.Carbon.HighCarbonEnergy))
	}
}

type jsonReport struct {
	WindowStart          time.Time        `json:"window_start"`
	WindowEnd            time.Time        `json:"window_end"`
	Period               model.Period     `json:"period"`
	Live                 bool             `json:"live"`
	Flows                model.Flows      `json:"flows"`
	Totals               model.RoleTotals `json:"totals"`
	CarbonAvailable      bool             `json:"carbon_available"`
	LowCarbonPercentage  *float64         `json:"low_carbon_percentage"`
	HomeConsumptionError bool             `json:"home_consumption_error"`
	ComputedAt           time.Time        `json:"computed_at"`
}

// reportJSON flattens s for encoding/json, which cannot encode NaN.
func reportJSON(s model.Snapshot) jsonReport {
	r := jsonReport{
		WindowStart:          s.Window.Start,
		WindowEnd:            s.Window.End,
		Period:               s.Period,
		Live:                 s.Live,
		Flows:                s.Flows,
		Totals:               s.Totals,
		CarbonAvailable:      s.Carbon.Available,
		HomeConsumptionError: s.HomeConsumptionError,
		ComputedAt:           s.ComputedAt,
	}
	if s.Carbon.Available && !math.IsNaN(s.Carbon.LowCarbonPercentage) {
		r.LowCarbonPercentage = model.Float(s.Carbon.LowCarbonPercentage)
	}
	return r
}
