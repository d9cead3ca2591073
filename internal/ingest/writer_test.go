package ingest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyflow/internal/model"
)

func TestWriteStatistics(t *testing.T) {
	start := time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteStatistics(&buf, []StatRow{
		{EntityID: "sensor.solar", Unit: "kWh", Start: start, State: model.Float(12.41), Sum: model.Float(812.9)},
		{EntityID: "sensor.fossil", Unit: "%", Start: start, Mean: model.Float(41.5)},
	}))

	assert.Equal(t, `sensor_id,start_time,state,sum,mean,unit
sensor.solar,1718150400.0,12.41,812.9,,kWh
sensor.fossil,1718150400.0,,,41.5,%
`, buf.String())

	rows, err := (&StatisticsParser{}).Parse(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, start, rows[0].Start)
	assert.Nil(t, rows[1].State)
}

func TestWriteStates(t *testing.T) {
	ts := time.Date(2024, 6, 12, 12, 41, 7, 0, time.FixedZone("CEST", 2*3600))
	var buf bytes.Buffer
	require.NoError(t, WriteStates(&buf, []model.EntityState{
		{EntityID: "sensor.solar", Value: "12.87", Unit: "kWh", LastChanged: ts},
		{EntityID: "sensor.grid_in", Value: "unavailable", LastChanged: ts},
	}))

	assert.Equal(t, `entity_id,state,unit,last_changed
sensor.solar,12.87,kWh,2024-06-12T10:41:07Z
sensor.grid_in,unavailable,,2024-06-12T10:41:07Z
`, buf.String())
}
