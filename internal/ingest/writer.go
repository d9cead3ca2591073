package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"energyflow/internal/model"
)

// WriteStatistics writes rows in the format read by StatisticsParser, unit
// column included.
func WriteStatistics(w io.Writer, rows []StatRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), statisticsColumns...), "unit")); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.EntityID,
			formatUnix(r.Start),
			formatOptional(r.State),
			formatOptional(r.Sum),
			formatOptional(r.Mean),
			r.Unit,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStates writes states in the format read by StatesParser.
func WriteStates(w io.Writer, states []model.EntityState) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(statesColumns); err != nil {
		return err
	}
	for _, st := range states {
		if err := cw.Write([]string{
			st.EntityID,
			st.Value,
			st.Unit,
			st.LastChanged.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatUnix(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
