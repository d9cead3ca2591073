package model

import "strings"

// ToWattHours converts a reading in unit to watt-hours. The unit prefix is
// matched case-insensitively: "MWh" scales by 1e6, "kWh" by 1e3, anything
// else ("Wh", empty, unknown) is taken as watt-hours already.
func ToWattHours(unit string, value float64) float64 {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch {
	case strings.HasPrefix(u, "mwh"):
		return value * 1e6
	case strings.HasPrefix(u, "kwh"):
		return value * 1e3
	default:
		return value
	}
}

// WattHoursToKWh converts Wh to kWh.
func WattHoursToKWh(wh float64) float64 {
	return wh / 1000
}
