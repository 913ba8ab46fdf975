// Package export writes allocation, sensitivity and marginal value tables as
// CSV or JSON for reporting tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/marginal"
	"github.com/kilianp07/fleetalloc/core/model"
	"github.com/kilianp07/fleetalloc/core/sensitivity"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json"; empty selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", model.NewValidationError("output.format", "unknown format %q", s)
	}
}

// Ext returns the file extension for f including the dot.
func (f Format) Ext() string { return "." + string(f) }

var (
	allocationHeader  = []string{"zone", "hour", "demand", "assigned", "served", "unmet"}
	sensitivityHeader = []string{"throughput_rate", "capacity", "status", "runtime_sec", "demand_total", "served_total", "objective_unmet", "served_pct"}
	marginalHeader    = []string{"hour", "capacity_increment", "unmet_reduction"}
)

// SensitivityRow is the exported shape of a sensitivity record.
type SensitivityRow struct {
	Rate        float64 `json:"throughput_rate"`
	Capacity    int     `json:"capacity"`
	Status      string  `json:"status"`
	RuntimeSec  float64 `json:"runtime_sec"`
	DemandTotal float64 `json:"demand_total"`
	ServedTotal float64 `json:"served_total"`
	Unmet       float64 `json:"objective_unmet"`
	ServedPct   float64 `json:"served_pct"`
	Err         string  `json:"error,omitempty"`
}

// MarginalRow is the exported shape of a marginal record.
type MarginalRow struct {
	Hour           int     `json:"hour"`
	Increment      int     `json:"capacity_increment"`
	UnmetReduction float64 `json:"unmet_reduction"`
}

// SensitivityRows converts records, expressing the served fraction as a
// percentage rounded to two decimals.
func SensitivityRows(recs []sensitivity.Record) []SensitivityRow {
	out := make([]SensitivityRow, len(recs))
	for i, r := range recs {
		out[i] = SensitivityRow{
			Rate:        r.Rate,
			Capacity:    r.Fleet,
			Status:      r.Status.String(),
			RuntimeSec:  r.Runtime.Seconds(),
			DemandTotal: r.DemandTotal,
			ServedTotal: r.ServedTotal,
			Unmet:       r.Objective,
			ServedPct:   math.Round(r.ServedFraction*100*100) / 100,
			Err:         r.Err,
		}
	}
	return out
}

// MarginalRows converts marginal records.
func MarginalRows(recs []marginal.Record) []MarginalRow {
	out := make([]MarginalRow, len(recs))
	for i, r := range recs {
		out[i] = MarginalRow{Hour: r.Hour, Increment: r.Increment, UnmetReduction: r.UnmetReduction}
	}
	return out
}

// WriteJSON encodes v to w.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAllocationCSV writes the allocation table.
func WriteAllocationCSV(w io.Writer, rows []allocation.Row) error {
	return writeCSV(w, allocationHeader, len(rows), func(i int) []string {
		r := rows[i]
		return []string{strconv.Itoa(r.Zone), strconv.Itoa(r.Hour), ftoa(r.Demand), ftoa(r.Assigned), ftoa(r.Served), ftoa(r.Unmet)}
	})
}

// WriteSensitivityCSV writes the sensitivity table.
func WriteSensitivityCSV(w io.Writer, recs []sensitivity.Record) error {
	rows := SensitivityRows(recs)
	return writeCSV(w, sensitivityHeader, len(rows), func(i int) []string {
		r := rows[i]
		return []string{ftoa(r.Rate), strconv.Itoa(r.Capacity), r.Status, ftoa(r.RuntimeSec), ftoa(r.DemandTotal), ftoa(r.ServedTotal), ftoa(r.Unmet), ftoa(r.ServedPct)}
	})
}

// WriteMarginalCSV writes the marginal value table.
func WriteMarginalCSV(w io.Writer, recs []marginal.Record) error {
	return writeCSV(w, marginalHeader, len(recs), func(i int) []string {
		r := recs[i]
		return []string{strconv.Itoa(r.Hour), strconv.Itoa(r.Increment), ftoa(r.UnmetReduction)}
	})
}

// WriteAllocation writes rows in format f.
func WriteAllocation(w io.Writer, f Format, rows []allocation.Row) error {
	if f == FormatJSON {
		return WriteJSON(w, rows)
	}
	return WriteAllocationCSV(w, rows)
}

// WriteSensitivity writes recs in format f.
func WriteSensitivity(w io.Writer, f Format, recs []sensitivity.Record) error {
	if f == FormatJSON {
		return WriteJSON(w, SensitivityRows(recs))
	}
	return WriteSensitivityCSV(w, recs)
}

// WriteMarginal writes recs in format f.
func WriteMarginal(w io.Writer, f Format, recs []marginal.Record) error {
	if f == FormatJSON {
		return WriteJSON(w, MarginalRows(recs))
	}
	return WriteMarginalCSV(w, recs)
}

// ToFile creates dir/name+ext and passes it to write. It returns the path
// written.
func ToFile(dir, name string, f Format, write func(io.Writer, Format) error) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+f.Ext())
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := write(file, f); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, file.Close()
}

func writeCSV(w io.Writer, header []string, n int, row func(int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
