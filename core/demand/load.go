package demand

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kilianp07/fleetalloc/core/model"
)

// Column names of the demand CSV.
const (
	ColZone   = "pickup_community_area"
	ColHour   = "hour"
	ColDemand = "demand"
)

// zoneAliases are accepted in place of ColZone.
var zoneAliases = []string{"zone", "zone_id"}

// MissingColumnsError names required columns absent from a CSV header.
type MissingColumnsError struct {
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing column(s) %v; found: %v", e.Missing, e.Found)
}

// Unwrap allows errors.Is(err, model.ErrValidation).
func (e *MissingColumnsError) Unwrap() error { return model.ErrValidation }

// LoadFile reads a demand CSV from path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Load reads a demand CSV with a header row. Header names are matched after
// trimming whitespace and lower-casing; extra columns are ignored.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e, err := parseRow(rec, cols, line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return NewTable(entries)
}

type columns struct{ zone, hour, demand int }

func locateColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	cols := columns{zone: -1, hour: -1, demand: -1}
	if i, ok := idx[ColZone]; ok {
		cols.zone = i
	} else {
		for _, a := range zoneAliases {
			if i, ok := idx[a]; ok {
				cols.zone = i
				break
			}
		}
	}
	if i, ok := idx[ColHour]; ok {
		cols.hour = i
	}
	if i, ok := idx[ColDemand]; ok {
		cols.demand = i
	}

	var missing []string
	if cols.zone < 0 {
		missing = append(missing, ColZone)
	}
	if cols.hour < 0 {
		missing = append(missing, ColHour)
	}
	if cols.demand < 0 {
		missing = append(missing, ColDemand)
	}
	if len(missing) > 0 {
		return cols, &MissingColumnsError{Missing: missing, Found: append([]string(nil), header...)}
	}
	return cols, nil
}

func parseRow(rec []string, cols columns, line int) (Entry, error) {
	field := func(i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	zone, err := parseInt(field(cols.zone))
	if err != nil {
		return Entry{}, model.NewValidationError(ColZone, "line %d: %v", line, err)
	}
	hour, err := parseInt(field(cols.hour))
	if err != nil {
		return Entry{}, model.NewValidationError(ColHour, "line %d: %v", line, err)
	}
	dem, err := strconv.ParseFloat(field(cols.demand), 64)
	if err != nil {
		return Entry{}, model.NewValidationError(ColDemand, "line %d: %v", line, err)
	}
	e := Entry{Zone: zone, Hour: hour, Demand: dem}
	if err := validateEntry(e); err != nil {
		return Entry{}, fmt.Errorf("line %d: %w", line, err)
	}
	return e, nil
}

// parseInt accepts integral values written either as integers or as floats
// ("12" or "12.0").
func parseInt(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	// float64(math.MaxInt) rounds up to 2^63, which int cannot hold.
	if f >= float64(math.MaxInt) || f < float64(math.MinInt) {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return int(f), nil
}

// WriteCSV writes t in the format read by Load, one row per cell ordered by
// zone then hour.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColZone, ColHour, ColDemand}); err != nil {
		return err
	}
	for zi, z := range t.zones {
		for hi, h := range t.hours {
			rec := []string{
				strconv.Itoa(z),
				strconv.Itoa(h),
				strconv.FormatFloat(t.values[zi][hi], 'f', -1, 64),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
