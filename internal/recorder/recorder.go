// Package recorder reads long-term statistics and states straight from a
// Home Assistant recorder SQLite database.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"energyflow/internal/ingest"
	"energyflow/internal/model"
	"energyflow/internal/store"
)

// ErrUnknownEntity is returned by CurrentState when the entity has no
// recorded state.
var ErrUnknownEntity = errors.New("recorder: unknown entity")

// StatisticsQuery selects hourly long-term statistics for a set of entities.
// The IN list placeholder is expanded per call.
const StatisticsQuery = `SELECT
  statistics_meta.statistic_id AS sensor_id,
  statistics.start_ts AS start_time,
  statistics.state AS state,
  statistics.sum AS sum,
  statistics.mean AS mean,
  statistics_meta.unit_of_measurement AS unit
FROM statistics
JOIN statistics_meta ON statistics.metadata_id = statistics_meta.id
WHERE statistics_meta.statistic_id IN (%s)
  AND statistics.start_ts >= ? AND statistics.start_ts < ?
ORDER BY statistics_meta.statistic_id, statistics.start_ts`

// StateQuery selects the latest recorded state of one entity.
const StateQuery = `SELECT
  states.state,
  COALESCE(states.last_changed_ts, states.last_updated_ts) AS last_changed
FROM states
JOIN states_meta ON states.metadata_id = states_meta.metadata_id
WHERE states_meta.entity_id = ?
ORDER BY states.last_updated_ts DESC
LIMIT 1`

const unitQuery = `SELECT unit_of_measurement FROM statistics_meta WHERE statistic_id = ?`

// Reader serves the recorder database through the engine's source
// interfaces.
type Reader struct {
	db     *sql.DB
	loc    *time.Location
	logger *slog.Logger
}

// Open opens the recorder database at path read-only.
func Open(path string, loc *time.Location, logger *slog.Logger) (*Reader, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening recorder database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening recorder database %s: %w", path, err)
	}
	return New(db, loc, logger), nil
}

// New wraps an open database handle.
func New(db *sql.DB, loc *time.Location, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Reader{db: db, loc: loc, logger: logger}
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Rows returns raw hourly rows in [start, end).
func (r *Reader) Rows(ctx context.Context, entityIDs []string, start, end time.Time) ([]ingest.StatRow, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, 0, len(entityIDs)+2)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, unixSeconds(start), unixSeconds(end))

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(StatisticsQuery, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	var out []ingest.StatRow
	for rows.Next() {
		var (
			id              string
			startTS         float64
			state, sum, avg sql.NullFloat64
			unit            sql.NullString
		)
		if err := rows.Scan(&id, &startTS, &state, &sum, &avg, &unit); err != nil {
			return nil, fmt.Errorf("scanning statistics row: %w", err)
		}
		out = append(out, ingest.StatRow{
			EntityID: id,
			Unit:     unit.String,
			Start:    fromUnix(startTS),
			State:    nullable(state),
			Sum:      nullable(sum),
			Mean:     nullable(avg),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading statistics: %w", err)
	}
	return out, nil
}

// Statistics implements the engine's statistics source. One extra hour
// before start is read so the first bucket gets a change.
func (r *Reader) Statistics(ctx context.Context, entityIDs []string, start, end time.Time, period model.Period) (map[string]model.Series, error) {
	rows, err := r.Rows(ctx, entityIDs, start.Add(-time.Hour), end)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("read recorder statistics", "entities", len(entityIDs), "rows", len(rows))

	s := store.New(r.loc)
	s.AddStatistics(rows)
	return s.Statistics(ctx, entityIDs, start, end, period)
}

// CurrentState returns the latest recorded state of an entity. The unit
// comes from its statistics metadata.
func (r *Reader) CurrentState(ctx context.Context, entityID string) (model.EntityState, error) {
	var (
		value       string
		lastChanged float64
	)
	err := r.db.QueryRowContext(ctx, StateQuery, entityID).Scan(&value, &lastChanged)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EntityState{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	if err != nil {
		return model.EntityState{}, fmt.Errorf("querying state of %s: %w", entityID, err)
	}

	var unit sql.NullString
	if err := r.db.QueryRowContext(ctx, unitQuery, entityID).Scan(&unit); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.EntityState{}, fmt.Errorf("querying unit of %s: %w", entityID, err)
	}

	return model.EntityState{
		EntityID:    entityID,
		Value:       value,
		Unit:        unit.String,
		LastChanged: fromUnix(lastChanged),
	}, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}
