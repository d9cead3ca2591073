package flows

import (
	"time"

	"energyflow/internal/model"
)

// LiveReading pairs a meter's current raw reading with the cumulative state
// of its last completed bucket.
type LiveReading struct {
	Current         float64
	Unit            string
	LastChanged     time.Time
	LastBucketState float64
}

// LiveDelta is the energy, in Wh, accrued since the last completed bucket.
// It is 0 unless the reading changed inside the window: a change before the
// window does not belong to it, and one already folded into a completed
// bucket must not be counted twice.
func LiveDelta(r LiveReading, window model.TimeRange) float64 {
	if !window.Contains(r.LastChanged) {
		return 0
	}
	return nonNeg(model.ToWattHours(r.Unit, r.Current-r.LastBucketState))
}

// ExtendLive decomposes the live deltas as one extra bucket and adds the
// result to agg. agg itself is not modified.
func ExtendLive(agg Aggregation, deltas model.MeterInputs) Aggregation {
	out := Aggregation{
		Inputs:  agg.Inputs.Add(deltas),
		Flows:   agg.Flows.Add(Decompose(deltas)),
		Buckets: agg.Buckets,
	}
	return out
}
