package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyflow/internal/model"
)

// realChanges returns the change of every non-synthetic bucket, nil as 0.
func realChanges(buckets []model.StatBucket) []float64 {
	out := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		if !b.Synthetic {
			out = append(out, b.ChangeValue())
		}
	}
	return out
}

func hourBucket(start time.Time, state float64, change *float64) model.StatBucket {
	return model.StatBucket{
		Start:  start,
		End:    start.Add(time.Hour),
		State:  model.Float(state),
		Change: change,
	}
}

func TestClassifyModeBoundaries(t *testing.T) {
	cases := []struct {
		change, state float64
		want          SensorMode
	}{
		{5, 5, Resetting},
		{5, 10, Totalising},
		{10, 5, MisconfiguredResetting},
		{-1, 5, MisconfiguredResetting},
		{0, 0, Resetting},
		{0, 3, Totalising},
	}
	for _, tc := range cases {
		got := ClassifyMode(&model.StatBucket{Change: model.Float(tc.change), State: model.Float(tc.state)})
		assert.Equal(t, tc.want, got, "change=%v state=%v", tc.change, tc.state)
	}
}

func TestClassifyModeRoundsToSixDecimals(t *testing.T) {
	// Noise below the sixth decimal must not turn a resetting meter into a
	// misconfigured one.
	b := &model.StatBucket{Change: model.Float(5.0000000004), State: model.Float(5)}
	assert.Equal(t, Resetting, ClassifyMode(b))
}

func TestClassifyModeNoData(t *testing.T) {
	assert.Equal(t, Totalising, ClassifyMode(nil))
	// nil fields count as 0, which reads as a counter sitting at zero
	assert.Equal(t, Resetting, ClassifyMode(&model.StatBucket{}))
}

func TestSensorModeString(t *testing.T) {
	assert.Equal(t, "totalising", Totalising.String())
	assert.Equal(t, "resetting", Resetting.String())
	assert.Equal(t, "misconfigured_resetting", MisconfiguredResetting.String())
}

func TestReferenceDay(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 11, 21, 15, 30, 0, 0, loc)
	day := ReferenceDay(ts, loc)
	assert.Equal(t, time.Date(2024, 11, 20, 0, 0, 0, 0, loc), day.Start)
	assert.Equal(t, time.Date(2024, 11, 21, 0, 0, 0, 0, loc), day.End)
}

func TestReconcileDayBoundaryKeepsReportedChange(t *testing.T) {
	h23 := time.Date(2024, 11, 20, 23, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			hourBucket(h23, 100, nil),
			hourBucket(h23.Add(time.Hour), 105, model.Float(5)),
		},
		Mode:     Totalising,
		Window:   model.TimeRange{Start: h23, End: h23.Add(2 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	out := Reconcile(in)
	require.Len(t, out, 2)
	assert.InDelta(t, 5, out[1].ChangeValue(), 1e-9)
}

func TestReconcileDayBoundaryMisconfigured(t *testing.T) {
	h23 := time.Date(2024, 11, 20, 23, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			hourBucket(h23, 100, model.Float(1)),
			hourBucket(h23.Add(time.Hour), 2, model.Float(40)),
			hourBucket(h23.Add(2*time.Hour), 3.5, model.Float(40)),
		},
		Prior:    &model.StatBucket{State: model.Float(99)},
		Mode:     MisconfiguredResetting,
		Window:   model.TimeRange{Start: h23, End: h23.Add(3 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	out := Reconcile(in)
	assert.Equal(t, []float64{1, 2, 1.5}, realChanges(out))
}

func TestReconcileRecomputesFromStates(t *testing.T) {
	start := time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			hourBucket(start, 10.5, model.Float(99)),
			hourBucket(start.Add(time.Hour), 11.25, model.Float(99)),
			hourBucket(start.Add(2*time.Hour), 13, nil),
		},
		Prior:    &model.StatBucket{State: model.Float(10)},
		Mode:     Totalising,
		Window:   model.TimeRange{Start: start, End: start.Add(3 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	changes := realChanges(Reconcile(in))
	require.Len(t, changes, 3)
	assert.InDelta(t, 0.5, changes[0], 1e-9)
	assert.InDelta(t, 0.75, changes[1], 1e-9)
	assert.InDelta(t, 1.75, changes[2], 1e-9)
}

func TestReconcileBackfillsTotalisingFromPrior(t *testing.T) {
	windowStart := time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			hourBucket(windowStart.Add(time.Hour), 52, nil),
		},
		Prior:    &model.StatBucket{State: model.Float(50)},
		Mode:     Totalising,
		Window:   model.TimeRange{Start: windowStart, End: windowStart.Add(3 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	out := Reconcile(in)
	require.Len(t, out, 2)
	assert.True(t, out[0].Synthetic)
	assert.Equal(t, windowStart, out[0].Start)
	assert.InDelta(t, 50, out[0].StateValue(), 1e-9)
	assert.InDelta(t, 0, out[0].ChangeValue(), 1e-9)
	assert.InDelta(t, 2, out[1].ChangeValue(), 1e-9)
}

func TestReconcileBackfillsResettingFromZero(t *testing.T) {
	windowStart := time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			hourBucket(windowStart.Add(time.Hour), 4, nil),
		},
		Prior:    &model.StatBucket{State: model.Float(3)},
		Mode:     Resetting,
		Window:   model.TimeRange{Start: windowStart, End: windowStart.Add(3 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	out := Reconcile(in)
	require.Len(t, out, 2)
	assert.InDelta(t, 0, out[0].StateValue(), 1e-9)
	assert.InDelta(t, 4, out[1].ChangeValue(), 1e-9)
}

func TestReconcileEmptySeries(t *testing.T) {
	windowStart := time.Date(2024, 11, 21, 0, 0, 0, 0, time.UTC)
	out := Reconcile(Input{
		Window: model.TimeRange{Start: windowStart, End: windowStart.Add(24 * time.Hour)},
		Period: model.PeriodHour,
	})
	require.Len(t, out, 1)
	assert.True(t, out[0].Synthetic)
	assert.Empty(t, realChanges(out))
}

func TestReconcileNilStateIsGap(t *testing.T) {
	start := time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			hourBucket(start, 10, nil),
			{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), Change: model.Float(7)},
			hourBucket(start.Add(2*time.Hour), 12, nil),
		},
		Prior:    &model.StatBucket{State: model.Float(9)},
		Mode:     Totalising,
		Window:   model.TimeRange{Start: start, End: start.Add(3 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	assert.Equal(t, []float64{1, 0, 2}, realChanges(Reconcile(in)))
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	start := time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	buckets := []model.StatBucket{
		hourBucket(start, 10, model.Float(3)),
		hourBucket(start.Add(time.Hour), 12, model.Float(3)),
	}
	in := Input{
		Buckets:  buckets,
		Prior:    &model.StatBucket{State: model.Float(9)},
		Mode:     Totalising,
		Window:   model.TimeRange{Start: start, End: start.Add(2 * time.Hour)},
		Period:   model.PeriodHour,
		Location: time.UTC,
	}

	out := Reconcile(in)
	out[1].Change = model.Float(1000)

	assert.InDelta(t, 3, *buckets[0].Change, 1e-9)
	assert.InDelta(t, 3, *buckets[1].Change, 1e-9)
}

func TestReconcileIdempotent(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	windowStart := time.Date(2024, 11, 20, 20, 0, 0, 0, loc)
	var buckets []model.StatBucket
	state := 200.0
	for i := 1; i < 8; i++ {
		state += float64(i) * 0.3
		buckets = append(buckets, hourBucket(windowStart.Add(time.Duration(i)*time.Hour), state, model.Float(0.1)))
	}

	for _, mode := range []SensorMode{Totalising, Resetting, MisconfiguredResetting} {
		in := Input{
			Buckets:  buckets,
			Prior:    &model.StatBucket{State: model.Float(199)},
			Mode:     mode,
			Window:   model.TimeRange{Start: windowStart, End: windowStart.Add(8 * time.Hour)},
			Period:   model.PeriodHour,
			Location: loc,
		}
		once := Reconcile(in)
		in.Buckets = once
		twice := Reconcile(in)

		require.Len(t, twice, len(once), mode.String())
		assert.Equal(t, realChanges(once), realChanges(twice), mode.String())
	}
}

func TestReconcileDailyBucketsAreBoundaries(t *testing.T) {
	start := time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)
	in := Input{
		Buckets: []model.StatBucket{
			{Start: start, End: start.AddDate(0, 0, 1), State: model.Float(12), Change: model.Float(12)},
			{Start: start.AddDate(0, 0, 1), End: start.AddDate(0, 0, 2), State: model.Float(9), Change: model.Float(9)},
		},
		Mode:     Resetting,
		Window:   model.TimeRange{Start: start, End: start.AddDate(0, 0, 2)},
		Period:   model.PeriodDay,
		Location: time.UTC,
	}

	assert.Equal(t, []float64{12, 9}, realChanges(Reconcile(in)))
}
