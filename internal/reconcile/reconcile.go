package reconcile

import (
	"time"

	"energyflow/internal/model"
)

// Input is everything Reconcile needs for one meter.
type Input struct {
	Buckets []model.StatBucket
	// Prior is the bucket immediately preceding the window, if any. It only
	// serves as the carry-over baseline.
	Prior    *model.StatBucket
	Mode     SensorMode
	Window   model.TimeRange
	Period   model.Period
	Location *time.Location
}

// Reconcile returns a corrected copy of in.Buckets in which every change is
// derived from consecutive cumulative states, except at local day boundaries.
// When the series does not start at the window start a synthetic leading
// bucket is inserted to act as the predecessor of the first real bucket.
// The input slice is never modified.
func Reconcile(in Input) []model.StatBucket {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}

	out := make([]model.StatBucket, 0, len(in.Buckets)+1)
	haveLast := false
	var lastState float64

	if len(in.Buckets) == 0 || !in.Buckets[0].Start.Equal(in.Window.Start) {
		state := 0.0
		if in.Prior != nil && in.Mode == Totalising {
			state = in.Prior.StateValue()
		}
		out = append(out, model.StatBucket{
			Start:     in.Window.Start,
			End:       in.Window.Start,
			State:     model.Float(state),
			Change:    model.Float(0),
			Synthetic: true,
		})
		lastState, haveLast = state, true
	} else if in.Prior != nil && in.Prior.State != nil {
		lastState, haveLast = *in.Prior.State, true
	}

	for _, b := range in.Buckets {
		nb := copyBucket(b)

		switch {
		case b.Synthetic:
			// Already a backfilled predecessor: keep as is.
			if b.State != nil {
				lastState, haveLast = *b.State, true
			}
		case b.State == nil:
			nb.Change = model.Float(0)
		case isDayBoundary(b.Start, in.Period, loc):
			if in.Mode == MisconfiguredResetting {
				nb.Change = model.Float(*b.State)
			}
			lastState, haveLast = *b.State, true
		case !haveLast:
			lastState, haveLast = *b.State, true
		default:
			nb.Change = model.Float(*b.State - lastState)
			lastState = *b.State
		}
		out = append(out, nb)
	}
	return out
}

func isDayBoundary(start time.Time, period model.Period, loc *time.Location) bool {
	if period == model.PeriodDay {
		return true
	}
	return start.In(loc).Hour() == 0
}

func copyBucket(b model.StatBucket) model.StatBucket {
	nb := model.StatBucket{Start: b.Start, End: b.End, Synthetic: b.Synthetic}
	if b.State != nil {
		nb.State = model.Float(*b.State)
	}
	if b.Change != nil {
		nb.Change = model.Float(*b.Change)
	}
	if b.Mean != nil {
		nb.Mean = model.Float(*b.Mean)
	}
	return nb
}
