package ingest

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// StatRow is one hourly long-term statistics row. Empty numeric fields are
// nil.
type StatRow struct {
	EntityID string
	Unit     string
	Start    time.Time
	State    *float64
	Sum      *float64
	Mean     *float64
}

// StatisticsParser parses Home Assistant long-term statistics CSV exports.
//
// Expected format (the unit column is optional):
//
//	sensor_id,start_time,state,sum,mean,unit
//	sensor.solar_energy,1718150400.0,12.41,812.9,,kWh
type StatisticsParser struct {
	// DefaultUnit is used for rows without a unit column.
	DefaultUnit string
}

var statisticsColumns = []string{"sensor_id", "start_time", "state", "sum", "mean"}

func (p *StatisticsParser) Parse(r io.Reader) ([]StatRow, error) {
	var rows []StatRow
	header, err := readCSV(r, statisticsColumns, func(record []string, lineNum int) error {
		row, err := p.parseRecord(record, lineNum)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(header) > 5 && strings.TrimSpace(header[5]) != "unit" {
		return nil, fmt.Errorf("expected column 5 to be %q, got %q", "unit", header[5])
	}
	return rows, nil
}

func (p *StatisticsParser) parseRecord(record []string, lineNum int) (StatRow, error) {
	entityID := strings.TrimSpace(record[0])
	if entityID == "" {
		return StatRow{}, fmt.Errorf("line %d: empty sensor_id", lineNum)
	}

	ts, err := parseUnixTimestamp(strings.TrimSpace(record[1]))
	if err != nil {
		return StatRow{}, fmt.Errorf("line %d: parsing timestamp: %w", lineNum, err)
	}

	row := StatRow{EntityID: entityID, Start: ts, Unit: p.DefaultUnit}
	if row.State, err = parseOptional(record[2]); err != nil {
		return StatRow{}, fmt.Errorf("line %d: parsing state: %w", lineNum, err)
	}
	if row.Sum, err = parseOptional(record[3]); err != nil {
		return StatRow{}, fmt.Errorf("line %d: parsing sum: %w", lineNum, err)
	}
	if row.Mean, err = parseOptional(record[4]); err != nil {
		return StatRow{}, fmt.Errorf("line %d: parsing mean: %w", lineNum, err)
	}
	if len(record) > 5 {
		if unit := strings.TrimSpace(record[5]); unit != "" {
			row.Unit = unit
		}
	}
	return row, nil
}
