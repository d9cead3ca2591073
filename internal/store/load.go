package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"energyflow/internal/ingest"
	"energyflow/internal/model"
)

// File names read by LoadDir.
const (
	StatisticsFile = "statistics.csv"
	StatesFile     = "states.csv"
	CarbonFile     = "carbon.csv"
)

// LoadDir builds a store from an offline export directory. The statistics
// file is required; states and carbon files are optional.
func LoadDir(dir string, loc *time.Location) (*Store, error) {
	s := New(loc)

	rows, err := parseFile[ingest.StatRow](filepath.Join(dir, StatisticsFile), &ingest.StatisticsParser{})
	if err != nil {
		return nil, err
	}
	s.AddStatistics(rows)

	states, err := parseFile[model.EntityState](filepath.Join(dir, StatesFile), &ingest.StatesParser{})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	s.SetStates(states)

	samples, err := parseFile[model.CarbonSample](filepath.Join(dir, CarbonFile), &ingest.CarbonParser{})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	s.AddCarbon(samples)

	return s, nil
}

func parseFile[T any](path string, p ingest.Parser[T]) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}
