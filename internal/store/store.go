// Package store keeps offline statistics, states and carbon samples in
// memory and serves them through the engine's source interfaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"energyflow/internal/ingest"
	"energyflow/internal/model"
)

// ErrUnknownEntity is returned by CurrentState for an entity without a
// recorded state.
var ErrUnknownEntity = errors.New("store: unknown entity")

// Store holds hourly statistics rows in memory, indexed by entity ID.
type Store struct {
	mu     sync.RWMutex
	loc    *time.Location
	rows   map[string][]ingest.StatRow // keyed by entity ID, sorted by start
	states map[string]model.EntityState
	carbon []model.CarbonSample // sorted by start
}

// New creates an empty store. Daily buckets are cut at midnight in loc.
func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		loc:    loc,
		rows:   make(map[string][]ingest.StatRow),
		states: make(map[string]model.EntityState),
	}
}

// AddStatistics adds rows, then sorts each affected entity by start time.
// A row with the same start as an existing one replaces it.
func (s *Store) AddStatistics(rows []ingest.StatRow) {
	if len(rows) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, r := range rows {
		s.rows[r.EntityID] = append(s.rows[r.EntityID], r)
		seen[r.EntityID] = true
	}
	for id := range seen {
		s.rows[id] = dedupe(s.rows[id])
	}
}

func dedupe(rows []ingest.StatRow) []ingest.StatRow {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Start.Before(rows[j].Start)
	})
	out := rows[:0]
	for _, r := range rows {
		if n := len(out); n > 0 && out[n-1].Start.Equal(r.Start) {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

// SetStates records current states, keeping the most recent per entity.
func (s *Store) SetStates(states []model.EntityState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		if cur, ok := s.states[st.EntityID]; ok && cur.LastChanged.After(st.LastChanged) {
			continue
		}
		s.states[st.EntityID] = st
	}
}

// AddCarbon adds explicit carbon intensity samples.
func (s *Store) AddCarbon(samples []model.CarbonSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carbon = append(s.carbon, samples...)
	sort.Slice(s.carbon, func(i, j int) bool {
		return s.carbon[i].Start.Before(s.carbon[j].Start)
	})
}

// HasCarbon reports whether an explicit carbon series was loaded.
func (s *Store) HasCarbon() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carbon) > 0
}

// Entities returns the IDs with statistics, sorted.
func (s *Store) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RowCount returns the number of hourly rows for an entity.
func (s *Store) RowCount(entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[entityID])
}

// TimeRange returns the span covered by an entity's rows, end exclusive.
func (s *Store) TimeRange(entityID string) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rows[entityID]
	if len(rows) == 0 {
		return model.TimeRange{}, false
	}
	return model.TimeRange{
		Start: rows[0].Start,
		End:   rows[len(rows)-1].Start.Add(time.Hour),
	}, true
}

// GlobalTimeRange returns the union of all entities' time ranges.
func (s *Store) GlobalTimeRange() (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end time.Time
	first := true

	for _, rows := range s.rows {
		if len(rows) == 0 {
			continue
		}
		rStart := rows[0].Start
		rEnd := rows[len(rows)-1].Start.Add(time.Hour)

		if first || rStart.Before(start) {
			start = rStart
		}
		if first || rEnd.After(end) {
			end = rEnd
		}
		first = false
	}

	if first {
		return model.TimeRange{}, false
	}
	return model.TimeRange{Start: start, End: end}, true
}

// Statistics returns buckets in [start, end) for the requested entities.
// Change is the difference of consecutive sums and is nil when either sum
// is unknown.
func (s *Store) Statistics(ctx context.Context, entityIDs []string, start, end time.Time, period model.Period) (map[string]model.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.Series)
	for _, id := range entityIDs {
		all := s.rows[id]
		lo, hi := searchRange(all, start, end)
		if lo >= hi {
			continue
		}

		hourly := make([]model.StatBucket, 0, hi-lo)
		for i := lo; i < hi; i++ {
			hourly = append(hourly, hourBucket(all, i))
		}

		buckets := hourly
		if period == model.PeriodDay {
			buckets = s.daily(hourly, start, end)
		}
		out[id] = model.Series{EntityID: id, Unit: all[lo].Unit, Buckets: buckets}
	}
	return out, nil
}

func searchRange(all []ingest.StatRow, start, end time.Time) (int, int) {
	lo := sort.Search(len(all), func(i int) bool {
		return !all[i].Start.Before(start)
	})
	hi := sort.Search(len(all), func(i int) bool {
		return !all[i].Start.Before(end)
	})
	return lo, hi
}

func hourBucket(all []ingest.StatRow, i int) model.StatBucket {
	r := all[i]
	b := model.StatBucket{
		Start: r.Start,
		End:   r.Start.Add(time.Hour),
		State: r.State,
		Mean:  r.Mean,
	}
	if i > 0 && r.Sum != nil && all[i-1].Sum != nil {
		b.Change = model.Float(*r.Sum - *all[i-1].Sum)
	}
	return b
}

// daily folds hourly buckets into local calendar days clipped to
// [start, end). State is the last known state of the day, change the sum of
// known hourly changes and mean the average of known means.
func (s *Store) daily(hourly []model.StatBucket, start, end time.Time) []model.StatBucket {
	var days []model.StatBucket
	var means []float64
	var current time.Time

	flush := func() {
		if len(days) == 0 || len(means) == 0 {
			return
		}
		var total float64
		for _, m := range means {
			total += m
		}
		days[len(days)-1].Mean = model.Float(total / float64(len(means)))
	}

	for _, h := range hourly {
		dayStart := s.dayStart(h.Start)
		if len(days) == 0 || !current.Equal(dayStart) {
			flush()
			means = means[:0]
			current = dayStart
			days = append(days, clipDay(dayStart, start, end))
		}
		d := &days[len(days)-1]
		if h.State != nil {
			d.State = h.State
		}
		if h.Change != nil {
			d.Change = model.Float(d.ChangeValue() + *h.Change)
		}
		if h.Mean != nil {
			means = append(means, *h.Mean)
		}
	}
	flush()
	return days
}

func (s *Store) dayStart(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

func clipDay(dayStart, start, end time.Time) model.StatBucket {
	b := model.StatBucket{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}
	if b.Start.Before(start) {
		b.Start = start
	}
	if b.End.After(end) {
		b.End = end
	}
	return b
}

// CurrentState returns the recorded state of an entity.
func (s *Store) CurrentState(ctx context.Context, entityID string) (model.EntityState, error) {
	if err := ctx.Err(); err != nil {
		return model.EntityState{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[entityID]
	if !ok {
		return model.EntityState{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return st, nil
}

// CarbonSeries returns the explicit carbon samples in [start, end). For
// daily periods samples are averaged per local day and each day starts where
// the matching Statistics bucket does.
func (s *Store) CarbonSeries(ctx context.Context, start, end time.Time, period model.Period) ([]model.CarbonSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.carbon), func(i int) bool {
		return !s.carbon[i].Start.Before(start)
	})
	hi := sort.Search(len(s.carbon), func(i int) bool {
		return !s.carbon[i].Start.Before(end)
	})
	if lo >= hi {
		return nil, nil
	}
	samples := make([]model.CarbonSample, hi-lo)
	copy(samples, s.carbon[lo:hi])
	if period != model.PeriodDay {
		return samples, nil
	}

	var days []model.CarbonSample
	var count int
	var current time.Time
	for _, c := range samples {
		dayStart := s.dayStart(c.Start)
		if n := len(days); n == 0 || !current.Equal(dayStart) {
			if n > 0 {
				days[n-1].Percentage /= float64(count)
			}
			current = dayStart
			days = append(days, model.CarbonSample{Start: clipDay(dayStart, start, end).Start})
			count = 0
		}
		days[len(days)-1].Percentage += c.Percentage
		count++
	}
	days[len(days)-1].Percentage /= float64(count)
	return days, nil
}
