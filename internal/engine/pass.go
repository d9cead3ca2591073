package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"energyflow/internal/carbon"
	"energyflow/internal/flows"
	"energyflow/internal/model"
	"energyflow/internal/reconcile"
)

// pass holds everything one reconciliation pass owns. Nothing in it is
// shared with other passes.
type pass struct {
	e      *Engine
	logger *slog.Logger
	window model.TimeRange
	period model.Period
	live   bool

	ids        map[model.MeterRole]string
	series     map[string]model.Series
	prior      map[string]*model.StatBucket
	reconciled map[model.MeterRole]flows.RoleSeries
}

func (e *Engine) runPass(ctx context.Context, logger *slog.Logger) (model.Snapshot, error) {
	window, err := e.opts.Window(e.opts.Now())
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("resolving window: %w", err)
	}

	p := &pass{
		e:          e,
		logger:     logger,
		window:     window,
		period:     model.PeriodFor(window),
		live:       e.live.Load() && e.states != nil,
		ids:        make(map[model.MeterRole]string),
		reconciled: make(map[model.MeterRole]flows.RoleSeries),
	}
	p.resolveRoles()

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	if err := p.fetch(fetchCtx); err != nil {
		return model.Snapshot{}, err
	}
	modes, err := p.classify(fetchCtx)
	if err != nil {
		return model.Snapshot{}, err
	}
	prior, err := p.priorBuckets(fetchCtx)
	if err != nil {
		return model.Snapshot{}, err
	}
	p.prior = prior
	p.reconcile(modes)

	agg := flows.Aggregate(p.reconciled)

	var liveDeltas model.MeterInputs
	if p.live {
		liveDeltas = p.liveDeltas(fetchCtx)
		agg = flows.ExtendLive(agg, liveDeltas)
	}

	res := flows.Finalize(agg, e.opts.Tolerances)
	split := p.carbon(fetchCtx, liveDeltas.GridImport, res.Totals.GridImport)
	if res.HomeConsumptionError {
		logger.Warn("negative home consumption estimate, reporting 0",
			"solar_wh", agg.Inputs.SolarProduction,
			"grid_import_wh", agg.Inputs.GridImport,
			"grid_export_wh", agg.Inputs.GridExport,
			"battery_charge_wh", agg.Inputs.BatteryCharge,
			"battery_discharge_wh", agg.Inputs.BatteryDischarge)
	}

	return model.Snapshot{
		Window:               window,
		Period:               p.period,
		Live:                 p.live,
		Flows:                res.Flows,
		Totals:               res.Totals,
		Carbon:               split,
		HomeConsumptionError: res.HomeConsumptionError,
		ComputedAt:           e.opts.Now(),
	}, nil
}

func (p *pass) resolveRoles() {
	roles := append(append([]model.MeterRole(nil), model.EnergyRoles...), model.RoleCarbonSignal)
	for _, role := range roles {
		id, ok := p.e.opts.Roles.Primary(role)
		if !ok {
			continue
		}
		p.ids[role] = id
		if extra := p.e.opts.Roles.Ignored(role); len(extra) > 0 {
			p.logger.Warn("multiple entities per role are not aggregated, using the first",
				"role", role, "entity_id", id, "ignored", extra)
		}
	}
}

func (p *pass) energyIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, role := range model.EnergyRoles {
		if id, ok := p.ids[role]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *pass) allIDs() []string {
	ids := p.energyIDs()
	if id, ok := p.ids[model.RoleCarbonSignal]; ok {
		for _, existing := range ids {
			if existing == id {
				return ids
			}
		}
		ids = append(ids, id)
	}
	return ids
}

func (p *pass) statistics(ctx context.Context, ids []string, start, end time.Time, period model.Period) (map[string]model.Series, error) {
	res, err := p.e.stats.Statistics(ctx, ids, start, end, period)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w within %s: %w", ErrNoStatistics, p.e.opts.FetchTimeout, err)
		}
		return nil, fmt.Errorf("fetching statistics: %w", err)
	}
	return res, nil
}

func (p *pass) fetch(ctx context.Context) error {
	series, err := p.statistics(ctx, p.allIDs(), p.window.Start, p.window.End, p.period)
	if err != nil {
		return err
	}
	p.series = series
	for _, id := range p.allIDs() {
		if _, ok := series[id]; !ok {
			p.unavailable(id, "no statistics in window")
		}
	}
	return nil
}

// classify infers the mode of every energy entity from the first hourly
// bucket of the day before the window.
func (p *pass) classify(ctx context.Context) (map[string]reconcile.SensorMode, error) {
	ref := reconcile.ReferenceDay(p.window.Start, p.e.opts.Location)
	res, err := p.statistics(ctx, p.energyIDs(), ref.Start, ref.End, model.PeriodHour)
	if err != nil {
		return nil, err
	}

	modes := make(map[string]reconcile.SensorMode)
	for _, id := range p.energyIDs() {
		var first *model.StatBucket
		if s, ok := res[id]; ok && len(s.Buckets) > 0 {
			first = &s.Buckets[0]
		}
		modes[id] = reconcile.ClassifyMode(first)
		p.logger.Debug("classified sensor", "entity_id", id, "mode", modes[id].String())
	}
	return modes, nil
}

// priorBuckets returns the last hourly bucket before the window per entity.
func (p *pass) priorBuckets(ctx context.Context) (map[string]*model.StatBucket, error) {
	start := p.window.Start.Add(-time.Hour)
	res, err := p.statistics(ctx, p.energyIDs(), start, p.window.Start, model.PeriodHour)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]*model.StatBucket)
	for id, s := range res {
		if n := len(s.Buckets); n > 0 {
			b := s.Buckets[n-1]
			prior[id] = &b
		}
	}
	return prior, nil
}

func (p *pass) reconcile(modes map[string]reconcile.SensorMode) {
	for _, role := range model.EnergyRoles {
		id, ok := p.ids[role]
		if !ok {
			continue
		}
		s := p.series[id]
		p.reconciled[role] = flows.RoleSeries{
			Unit: s.Unit,
			Buckets: reconcile.Reconcile(reconcile.Input{
				Buckets:  s.Buckets,
				Prior:    p.prior[id],
				Mode:     modes[id],
				Window:   p.window,
				Period:   p.period,
				Location: p.e.opts.Location,
			}),
		}
	}
}

// liveDeltas reads every energy entity's current state and returns the
// energy accrued since its last reconciled bucket.
func (p *pass) liveDeltas(ctx context.Context) model.MeterInputs {
	var deltas model.MeterInputs
	for _, role := range model.EnergyRoles {
		id, ok := p.ids[role]
		if !ok {
			continue
		}
		if len(p.series[id].Buckets) == 0 && p.prior[id] == nil {
			p.logger.Warn("no baseline for live reading, skipping", "entity_id", id)
			continue
		}
		current, st, ok := p.currentValue(ctx, id)
		if !ok {
			continue
		}
		rs := p.reconciled[role]
		unit := rs.Unit
		if unit == "" {
			unit = st.Unit
		}
		deltas.Set(role, flows.LiveDelta(flows.LiveReading{
			Current:         current,
			Unit:            unit,
			LastChanged:     st.LastChanged,
			LastBucketState: lastBucketState(rs),
		}, p.window))
	}
	return deltas
}

func lastBucketState(rs flows.RoleSeries) float64 {
	v, _ := model.Series{Buckets: rs.Buckets}.LastState()
	return v
}

func (p *pass) currentValue(ctx context.Context, id string) (float64, model.EntityState, bool) {
	st, err := p.e.states.CurrentState(ctx, id)
	if err != nil {
		p.unavailable(id, err.Error())
		return 0, st, false
	}
	v, ok := model.ParseNumeric(st.Value)
	if !ok {
		p.unavailable(id, fmt.Sprintf("non-numeric state %q", st.Value))
		return 0, st, false
	}
	return v, st, true
}

func (p *pass) carbon(ctx context.Context, liveGridImport, gridImport float64) model.CarbonSplit {
	id, ok := p.ids[model.RoleCarbonSignal]
	if !ok {
		return model.CarbonSplit{LowCarbonPercentage: math.NaN()}
	}

	var samples []model.CarbonSample
	if p.e.opts.Carbon != nil {
		s, err := p.e.opts.Carbon.CarbonSeries(ctx, p.window.Start, p.window.End, p.period)
		if err != nil {
			p.logger.Warn("carbon series unavailable", "error", err)
		}
		samples = s
	} else {
		samples = carbon.SamplesFromMeans(p.series[id].Buckets)
	}

	var livePct *float64
	if p.live && liveGridImport > 0 {
		if v, _, ok := p.currentValue(ctx, id); ok {
			livePct = &v
		}
	}

	grid := p.reconciled[model.RoleGridImport]
	split := carbon.Apportion(carbon.Input{
		GridImport:     grid.Buckets,
		Unit:           grid.Unit,
		Samples:        samples,
		LiveGridImport: liveGridImport,
		LivePercentage: livePct,
	})
	return carbon.ScaleToTotal(split, gridImport)
}

func (p *pass) unavailable(id, reason string) {
	p.logger.Warn("entity unavailable, counting as 0", "entity_id", id, "reason", reason)
	p.e.opts.Metrics.EntityUnavailable(id)
}
