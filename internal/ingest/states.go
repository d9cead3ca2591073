package ingest

import (
	"fmt"
	"io"
	"strings"

	"energyflow/internal/model"
)

// StatesParser parses current-state snapshots.
//
// Expected format:
//
//	entity_id,state,unit,last_changed
//	sensor.solar_energy,12.87,kWh,2024-06-12T12:41:07.000Z
//
// Non-numeric states such as "unavailable" are kept verbatim; consumers
// decide how to treat them.
type StatesParser struct{}

var statesColumns = []string{"entity_id", "state", "unit", "last_changed"}

func (p *StatesParser) Parse(r io.Reader) ([]model.EntityState, error) {
	var states []model.EntityState
	_, err := readCSV(r, statesColumns, func(record []string, lineNum int) error {
		st, err := parseStateRecord(record, lineNum)
		if err != nil {
			return err
		}
		states = append(states, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func parseStateRecord(record []string, lineNum int) (model.EntityState, error) {
	entityID := strings.TrimSpace(record[0])
	if entityID == "" {
		return model.EntityState{}, fmt.Errorf("line %d: empty entity_id", lineNum)
	}

	ts, err := parseTimestamp(strings.TrimSpace(record[3]))
	if err != nil {
		return model.EntityState{}, fmt.Errorf("line %d: parsing last_changed: %w", lineNum, err)
	}

	return model.EntityState{
		EntityID:    entityID,
		Value:       strings.TrimSpace(record[1]),
		Unit:        strings.TrimSpace(record[2]),
		LastChanged: ts,
	}, nil
}
