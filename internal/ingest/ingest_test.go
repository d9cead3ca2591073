package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsParser_Parse(t *testing.T) {
	input := `sensor_id,start_time,state,sum,mean,unit
sensor.solar_energy,1718150400.0,12.41,812.9,,kWh
sensor.solar_energy,1718154000.0,12.93,813.42,,kWh
sensor.fossil_fuel,1718150400.0,,,41.5,%`

	parser := &StatisticsParser{}
	rows, err := parser.Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "sensor.solar_energy", rows[0].EntityID)
	assert.Equal(t, "kWh", rows[0].Unit)
	assert.Equal(t, time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), rows[0].Start)
	require.NotNil(t, rows[0].State)
	assert.InDelta(t, 12.41, *rows[0].State, 0.001)
	require.NotNil(t, rows[0].Sum)
	assert.InDelta(t, 812.9, *rows[0].Sum, 0.001)
	assert.Nil(t, rows[0].Mean)

	assert.Equal(t, time.Date(2024, 6, 12, 1, 0, 0, 0, time.UTC), rows[1].Start)

	assert.Nil(t, rows[2].State)
	assert.Nil(t, rows[2].Sum)
	require.NotNil(t, rows[2].Mean)
	assert.InDelta(t, 41.5, *rows[2].Mean, 0.001)
	assert.Equal(t, "%", rows[2].Unit)
}

func TestStatisticsParser_DefaultUnit(t *testing.T) {
	input := `sensor_id,start_time,state,sum,mean
sensor.grid_in,1718150400.0,3.2,3.2,`

	parser := &StatisticsParser{DefaultUnit: "kWh"}
	rows, err := parser.Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kWh", rows[0].Unit)
}

func TestStatisticsParser_SkipsBadRows(t *testing.T) {
	input := `sensor_id,start_time,state,sum,mean
sensor.grid_in,not-a-time,3.2,3.2,
sensor.grid_in,1718150400.0,abc,3.2,
,1718150400.0,3.2,3.2,
sensor.grid_in,1718154000.0
sensor.grid_in,1718154000.0,3.5,3.5,`

	parser := &StatisticsParser{}
	rows, err := parser.Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 3.5, *rows[0].State, 0.001)
}

func TestStatisticsParser_InvalidHeader(t *testing.T) {
	parser := &StatisticsParser{}

	_, err := parser.Parse(strings.NewReader("sensor_id,start_time,avg,min_val,max_val\n"))
	assert.ErrorContains(t, err, `expected column 2 to be "state"`)

	_, err = parser.Parse(strings.NewReader("sensor_id,start_time\n"))
	assert.ErrorContains(t, err, "expected at least 5 columns")

	_, err = parser.Parse(strings.NewReader("sensor_id,start_time,state,sum,mean,max\n"))
	assert.ErrorContains(t, err, `expected column 5 to be "unit"`)

	_, err = parser.Parse(strings.NewReader(""))
	assert.ErrorContains(t, err, "reading CSV header")
}

func TestStatesParser_Parse(t *testing.T) {
	input := `entity_id,state,unit,last_changed
sensor.solar_energy,12.87,kWh,2024-06-12T12:41:07.000Z
sensor.battery_out,unavailable,kWh,2024-06-12T12:00:00+02:00
sensor.grid_in,4.1,kWh,1718193600.5`

	parser := &StatesParser{}
	states, err := parser.Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, "sensor.solar_energy", states[0].EntityID)
	assert.Equal(t, "12.87", states[0].Value)
	assert.Equal(t, "kWh", states[0].Unit)
	assert.Equal(t, time.Date(2024, 6, 12, 12, 41, 7, 0, time.UTC), states[0].LastChanged)

	assert.Equal(t, "unavailable", states[1].Value)
	assert.Equal(t, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC), states[1].LastChanged)

	assert.Equal(t, time.Date(2024, 6, 12, 12, 0, 0, 500_000_000, time.UTC), states[2].LastChanged)
}

func TestStatesParser_SkipsBadTimestamps(t *testing.T) {
	input := `entity_id,state,unit,last_changed
sensor.grid_in,4.1,kWh,yesterday
sensor.grid_out,1.0,kWh,2024-06-12T12:00:00Z`

	parser := &StatesParser{}
	states, err := parser.Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "sensor.grid_out", states[0].EntityID)
}

func TestCarbonParser_Parse(t *testing.T) {
	input := `start_time,percentage
1718150400.0,41.5
1718154000.0,n/a
2024-06-12T02:00:00Z,38`

	parser := &CarbonParser{}
	samples, err := parser.Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), samples[0].Start)
	assert.InDelta(t, 41.5, samples[0].Percentage, 0.001)
	assert.Equal(t, time.Date(2024, 6, 12, 2, 0, 0, 0, time.UTC), samples[1].Start)
}

func TestParseUnixTimestamp(t *testing.T) {
	ts, err := parseUnixTimestamp("1732186800.0")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 21, 11, 0, 0, 0, time.UTC), ts)

	_, err = parseUnixTimestamp("abc")
	assert.Error(t, err)
}
