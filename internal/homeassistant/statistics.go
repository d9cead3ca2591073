package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"energyflow/internal/ingest"
	"energyflow/internal/model"
)

// haTime accepts both millisecond epochs (current releases) and ISO 8601
// strings (older releases).
type haTime struct{ time.Time }

func (t *haTime) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = ts
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

type statisticRow struct {
	Start  haTime   `json:"start"`
	End    haTime   `json:"end"`
	State  *float64 `json:"state"`
	Sum    *float64 `json:"sum"`
	Change *float64 `json:"change"`
	Mean   *float64 `json:"mean"`
}

type statisticMetadata struct {
	StatisticID string `json:"statistic_id"`
	Unit        string `json:"statistics_unit_of_measurement"`
}

func (c *Client) statisticsDuringPeriod(ctx context.Context, entityIDs []string, start, end time.Time, period model.Period) (map[string][]statisticRow, map[string]string, error) {
	units, err := c.statisticUnits(ctx, entityIDs)
	if err != nil {
		return nil, nil, err
	}

	raw, err := c.call(ctx, map[string]any{
		"type":          "recorder/statistics_during_period",
		"start_time":    start.UTC().Format(time.RFC3339),
		"end_time":      end.UTC().Format(time.RFC3339),
		"statistic_ids": entityIDs,
		"period":        string(period),
		"types":         []string{"state", "sum", "change", "mean"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("statistics_during_period: %w", err)
	}

	var rows map[string][]statisticRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, nil, fmt.Errorf("parsing statistics: %w", err)
	}
	return rows, units, nil
}

// Statistics runs recorder/statistics_during_period for [start, end).
// Entities without rows are absent from the result.
func (c *Client) Statistics(ctx context.Context, entityIDs []string, start, end time.Time, period model.Period) (map[string]model.Series, error) {
	if len(entityIDs) == 0 {
		return map[string]model.Series{}, nil
	}

	rows, units, err := c.statisticsDuringPeriod(ctx, entityIDs, start, end, period)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.Series, len(rows))
	for id, rs := range rows {
		if len(rs) == 0 {
			continue
		}
		buckets := make([]model.StatBucket, 0, len(rs))
		for _, r := range rs {
			b := model.StatBucket{
				Start:  r.Start.Time,
				End:    r.End.Time,
				State:  r.State,
				Change: r.Change,
				Mean:   r.Mean,
			}
			if b.End.IsZero() {
				b.End = b.Start.Add(period.Duration())
			}
			buckets = append(buckets, b)
		}
		out[id] = model.Series{EntityID: id, Unit: units[id], Buckets: buckets}
	}
	return out, nil
}

// Rows returns raw hourly rows in [start, end) in the statistics CSV shape,
// ordered by entity then start.
func (c *Client) Rows(ctx context.Context, entityIDs []string, start, end time.Time) ([]ingest.StatRow, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	rows, units, err := c.statisticsDuringPeriod(ctx, entityIDs, start, end, model.PeriodHour)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []ingest.StatRow
	for _, id := range ids {
		for _, r := range rows[id] {
			out = append(out, ingest.StatRow{
				EntityID: id,
				Unit:     units[id],
				Start:    r.Start.Time,
				State:    r.State,
				Sum:      r.Sum,
				Mean:     r.Mean,
			})
		}
	}
	return out, nil
}

// statisticUnits returns the statistics unit per entity, querying metadata
// only for entities not seen before.
func (c *Client) statisticUnits(ctx context.Context, entityIDs []string) (map[string]string, error) {
	c.unitMu.Lock()
	var missing []string
	for _, id := range entityIDs {
		if _, ok := c.units[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.unitMu.Unlock()

	if len(missing) > 0 {
		raw, err := c.call(ctx, map[string]any{
			"type":          "recorder/get_statistics_metadata",
			"statistic_ids": missing,
		})
		if err != nil {
			return nil, fmt.Errorf("get_statistics_metadata: %w", err)
		}
		var meta []statisticMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("parsing statistics metadata: %w", err)
		}

		c.unitMu.Lock()
		for _, m := range meta {
			c.units[m.StatisticID] = m.Unit
		}
		c.unitMu.Unlock()
	}

	c.unitMu.Lock()
	defer c.unitMu.Unlock()
	units := make(map[string]string, len(entityIDs))
	for _, id := range entityIDs {
		units[id] = c.units[id]
	}
	return units, nil
}

// States returns every entity state via get_states.
func (c *Client) States(ctx context.Context) ([]model.EntityState, error) {
	raw, err := c.call(ctx, map[string]any{"type": "get_states"})
	if err != nil {
		return nil, fmt.Errorf("get_states: %w", err)
	}
	var resp []stateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing states: %w", err)
	}
	states := make([]model.EntityState, len(resp))
	for i, s := range resp {
		states[i] = s.entityState()
	}
	return states, nil
}

// CurrentState returns the state of one entity from get_states.
func (c *Client) CurrentState(ctx context.Context, entityID string) (model.EntityState, error) {
	states, err := c.States(ctx)
	if err != nil {
		return model.EntityState{}, err
	}
	for _, st := range states {
		if st.EntityID == entityID {
			return st, nil
		}
	}
	return model.EntityState{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
}
