package flows

import (
	"sort"
	"time"

	"energyflow/internal/model"
)

// RoleSeries is one role's reconciled buckets together with the unit the
// changes are expressed in.
type RoleSeries struct {
	Unit    string
	Buckets []model.StatBucket
}

// BucketFlows is the decomposition of a single aligned bucket.
type BucketFlows struct {
	Start  time.Time
	Inputs model.MeterInputs
	Flows  model.Flows
}

// Aggregation is the sum of per-bucket decompositions over a window.
type Aggregation struct {
	Inputs  model.MeterInputs
	Flows   model.Flows
	Buckets []BucketFlows
}

// Aggregate joins the role series by bucket start, decomposes every bucket
// on its own and sums the results. A role without a value at a timestamp
// another role has contributes 0. Synthetic buckets are skipped and negative
// deltas are clamped to 0 after conversion to Wh.
func Aggregate(series map[model.MeterRole]RoleSeries) Aggregation {
	byStart := make(map[int64]*BucketFlows)

	for _, role := range model.EnergyRoles {
		rs, ok := series[role]
		if !ok {
			continue
		}
		for _, b := range rs.Buckets {
			if b.Synthetic {
				continue
			}
			key := b.Start.UnixNano()
			bf, ok := byStart[key]
			if !ok {
				bf = &BucketFlows{Start: b.Start}
				byStart[key] = bf
			}
			wh := nonNeg(model.ToWattHours(rs.Unit, b.ChangeValue()))
			bf.Inputs.Set(role, bf.Inputs.Role(role)+wh)
		}
	}

	buckets := make([]BucketFlows, 0, len(byStart))
	for _, bf := range byStart {
		buckets = append(buckets, *bf)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})

	var agg Aggregation
	for i := range buckets {
		buckets[i].Flows = Decompose(buckets[i].Inputs)
		agg.Inputs = agg.Inputs.Add(buckets[i].Inputs)
		agg.Flows = agg.Flows.Add(buckets[i].Flows)
	}
	agg.Buckets = buckets
	return agg
}
