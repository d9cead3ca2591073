// Package reconcile infers how a cumulative meter behaves and rebuilds
// trustworthy per-bucket deltas from its cumulative readings.
package reconcile

import (
	"math"
	"time"

	"energyflow/internal/model"
)

// SensorMode describes how a cumulative meter accumulates.
type SensorMode int

const (
	// Totalising counters never reset inside the observed window.
	Totalising SensorMode = iota
	// Resetting counters drop to (near) zero at local midnight.
	Resetting
	// MisconfiguredResetting counters report deltas that contradict their
	// own cumulative state.
	MisconfiguredResetting
)

func (m SensorMode) String() string {
	switch m {
	case Totalising:
		return "totalising"
	case Resetting:
		return "resetting"
	case MisconfiguredResetting:
		return "misconfigured_resetting"
	default:
		return "unknown"
	}
}

// ClassifyMode infers the mode of a meter from the first bucket of its
// reference day. A nil bucket means the meter produced no data for that day.
func ClassifyMode(ref *model.StatBucket) SensorMode {
	if ref == nil {
		return Totalising
	}
	change := round6(ref.ChangeValue())
	state := round6(ref.StateValue())

	switch {
	case change > state || change < 0:
		return MisconfiguredResetting
	case change < state:
		return Totalising
	default:
		return Resetting
	}
}

// ReferenceDay returns the local calendar day preceding the one containing t.
func ReferenceDay(t time.Time, loc *time.Location) model.TimeRange {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return model.TimeRange{Start: midnight.AddDate(0, 0, -1), End: midnight}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
