package model

import (
	"strconv"
	"strings"
	"time"
)

// Period is the statistics bucket granularity.
type Period string

const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
)

// maxHourlyWindow is the longest window still fetched with hourly buckets.
const maxHourlyWindow = 48 * time.Hour

// PeriodFor picks the bucket granularity for a window: hourly up to two
// days, daily beyond that. Home Assistant anchors daily buckets at local
// midnight, so daily windows from that source should start at midnight.
func PeriodFor(tr TimeRange) Period {
	if tr.Duration() > maxHourlyWindow {
		return PeriodDay
	}
	return PeriodHour
}

// Duration returns the nominal bucket length.
func (p Period) Duration() time.Duration {
	if p == PeriodDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Previous returns the start of the bucket preceding t.
func (p Period) Previous(t time.Time) time.Time {
	if p == PeriodDay {
		return t.AddDate(0, 0, -1)
	}
	return t.Add(-time.Hour)
}

// StatBucket is one statistics sample. State is the cumulative reading at the
// end of the bucket, Change the delta within it. Synthetic buckets are
// inserted by reconciliation as a predecessor and never counted.
type StatBucket struct {
	Start     time.Time
	End       time.Time
	State     *float64
	Change    *float64
	Mean      *float64
	Synthetic bool
}

// StateValue returns State, or 0 when it is missing.
func (b StatBucket) StateValue() float64 {
	if b.State == nil {
		return 0
	}
	return *b.State
}

// ChangeValue returns Change, or 0 when it is missing.
func (b StatBucket) ChangeValue() float64 {
	if b.Change == nil {
		return 0
	}
	return *b.Change
}

// Series is the bucketed statistics of one entity.
type Series struct {
	EntityID string
	Unit     string
	Buckets  []StatBucket
}

// LastState returns the state of the final bucket and whether one exists.
func (s Series) LastState() (float64, bool) {
	for i := len(s.Buckets) - 1; i >= 0; i-- {
		if s.Buckets[i].State != nil {
			return *s.Buckets[i].State, true
		}
	}
	return 0, false
}

// CarbonSample is the high-carbon share of grid energy (0-100) for the
// bucket starting at Start.
type CarbonSample struct {
	Start      time.Time
	Percentage float64
}

// Float returns a pointer to v. Handy for building buckets.
func Float(v float64) *float64 {
	return &v
}

// ParseNumeric parses a raw entity state. "unavailable", "unknown" and empty
// states are reported as not numeric.
func ParseNumeric(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	switch s {
	case "", "unavailable", "unknown", "none":
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
