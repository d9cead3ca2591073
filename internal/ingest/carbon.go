package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"energyflow/internal/model"
)

// CarbonParser parses explicit fossil fuel percentage series.
//
// Expected format:
//
//	start_time,percentage
//	1718150400.0,41.5
type CarbonParser struct{}

var carbonColumns = []string{"start_time", "percentage"}

func (p *CarbonParser) Parse(r io.Reader) ([]model.CarbonSample, error) {
	var samples []model.CarbonSample
	_, err := readCSV(r, carbonColumns, func(record []string, lineNum int) error {
		ts, err := parseTimestamp(strings.TrimSpace(record[0]))
		if err != nil {
			return fmt.Errorf("line %d: parsing timestamp: %w", lineNum, err)
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return fmt.Errorf("line %d: parsing percentage: %w", lineNum, err)
		}
		samples = append(samples, model.CarbonSample{Start: ts, Percentage: pct})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}
