// Package ingest parses the offline CSV formats: long-term statistics,
// current entity states and explicit carbon intensity series.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Parser reads records of one CSV format.
type Parser[T any] interface {
	Parse(r io.Reader) ([]T, error)
}

// readCSV validates the header against expected and calls row for every
// following record. Rows rejected by row are skipped.
func readCSV(r io.Reader, expected []string, row func(record []string, lineNum int) error) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateHeader(header, expected); err != nil {
		return nil, err
	}

	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}
		if len(record) < len(expected) {
			continue
		}
		_ = row(record, lineNum)
	}
	return header, nil
}

func validateHeader(header, expected []string) error {
	if len(header) < len(expected) {
		return fmt.Errorf("expected at least %d columns, got %d", len(expected), len(header))
	}
	for i, col := range expected {
		if strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("expected column %d to be %q, got %q", i, col, header[i])
		}
	}
	return nil
}

// parseUnixTimestamp parses a Unix epoch float (seconds) into a time.Time.
func parseUnixTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q as unix timestamp: %w", s, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// parseTimestamp accepts RFC 3339 or a Unix epoch float.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	return parseUnixTimestamp(s)
}

// parseOptional returns nil for an empty field.
func parseOptional(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
