// Package carbon splits grid import into high- and low-carbon energy using a
// time-aligned carbon intensity series.
package carbon

import (
	"math"
	"sort"

	"energyflow/internal/model"
)

// Input holds the grid import buckets and the carbon series for the same
// window. LiveGridImport (Wh) and LivePercentage describe the partial bucket
// since the last completed one; a nil LivePercentage means no current carbon
// reading.
type Input struct {
	GridImport     []model.StatBucket
	Unit           string
	Samples        []model.CarbonSample
	LiveGridImport float64
	LivePercentage *float64
}

// Apportion walks grid buckets and carbon samples in timestamp order. A
// sample matching the bucket start apportions that bucket. A bucket with no
// sample at or before the next sample is counted fully high-carbon, as is
// every bucket after the carbon series ends. Samples older than the current
// bucket are skipped.
func Apportion(in Input) model.CarbonSplit {
	buckets := make([]model.StatBucket, 0, len(in.GridImport))
	for _, b := range in.GridImport {
		if !b.Synthetic {
			buckets = append(buckets, b)
		}
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })

	sorted := append([]model.CarbonSample(nil), in.Samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var total, high float64
	gi, ci := 0, 0
	for gi < len(buckets) {
		energy := energyWh(in.Unit, buckets[gi])
		if ci >= len(sorted) {
			high += energy
			total += energy
			gi++
			continue
		}
		gt, ct := buckets[gi].Start, sorted[ci].Start
		switch {
		case ct.Equal(gt):
			high += energy * sorted[ci].Percentage / 100
			total += energy
			gi++
			ci++
		case ct.After(gt):
			high += energy
			total += energy
			gi++
		default:
			ci++
		}
	}

	if live := nonNeg(in.LiveGridImport); live > 0 {
		total += live
		if in.LivePercentage != nil {
			high += live * *in.LivePercentage / 100
		} else {
			high += live
		}
	}

	split := model.CarbonSplit{
		Available:        len(in.Samples) > 0 || in.LivePercentage != nil,
		HighCarbonEnergy: high,
		LowCarbonEnergy:  total - high,
	}
	if total == 0 {
		split.LowCarbonPercentage = math.NaN()
	} else {
		split.LowCarbonPercentage = split.LowCarbonEnergy / total * 100
	}
	return split
}

// ScaleToTotal rescales a split so high plus low equals gridImport (Wh), the
// reported grid import after tolerances. The low-carbon share is kept. When
// the split has no energy but gridImport does, all of it counts high-carbon.
func ScaleToTotal(split model.CarbonSplit, gridImport float64) model.CarbonSplit {
	gridImport = nonNeg(gridImport)
	out := model.CarbonSplit{Available: split.Available}
	total := split.HighCarbonEnergy + split.LowCarbonEnergy
	switch {
	case gridImport == 0:
		out.LowCarbonPercentage = math.NaN()
	case total <= 0:
		out.HighCarbonEnergy = gridImport
	default:
		f := gridImport / total
		out.HighCarbonEnergy = split.HighCarbonEnergy * f
		out.LowCarbonEnergy = gridImport - out.HighCarbonEnergy
		out.LowCarbonPercentage = out.LowCarbonEnergy / gridImport * 100
	}
	return out
}

// SamplesFromMeans builds a carbon series from the mean value of each bucket
// of a fossil-fuel-percentage entity. Buckets without a mean are skipped.
func SamplesFromMeans(buckets []model.StatBucket) []model.CarbonSample {
	out := make([]model.CarbonSample, 0, len(buckets))
	for _, b := range buckets {
		if b.Synthetic || b.Mean == nil {
			continue
		}
		out = append(out, model.CarbonSample{Start: b.Start, Percentage: *b.Mean})
	}
	return out
}

func energyWh(unit string, b model.StatBucket) float64 {
	return nonNeg(model.ToWattHours(unit, b.ChangeValue()))
}

func nonNeg(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
