package engine

import (
	"context"
	"time"

	"energyflow/internal/model"
)

// StatisticsSource returns bucketed long-term statistics keyed by entity id.
// Entities without data are simply absent from the result.
type StatisticsSource interface {
	Statistics(ctx context.Context, entityIDs []string, start, end time.Time, period model.Period) (map[string]model.Series, error)
}

// StateSource returns the current raw state of an entity.
type StateSource interface {
	CurrentState(ctx context.Context, entityID string) (model.EntityState, error)
}

// CarbonSource returns an explicit carbon intensity series. It is optional:
// without one the engine derives the series from the bucket means of the
// carbon signal entity.
type CarbonSource interface {
	CarbonSeries(ctx context.Context, start, end time.Time, period model.Period) ([]model.CarbonSample, error)
}

// Callback receives every published snapshot.
type Callback interface {
	OnSnapshot(snapshot model.Snapshot)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(model.Snapshot)

func (f CallbackFunc) OnSnapshot(s model.Snapshot) { f(s) }
