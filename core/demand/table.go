// Package demand holds the per-zone, per-hour Demand Table consumed by the
// allocation engine, together with its CSV loader and the trip aggregation
// step that produces it.
package demand

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/kilianp07/fleetalloc/core/model"
)

// ErrEmptyTable is returned when a table would contain no entries.
var ErrEmptyTable = fmt.Errorf("%w: demand table is empty", model.ErrValidation)

// Entry is one (zone, hour) demand observation.
type Entry struct {
	Zone   int     `json:"zone"`
	Hour   int     `json:"hour"`
	Demand float64 `json:"demand"`
}

// Table maps (zone, hour) to expected trips. Zones and hours are stored as
// sorted dense index sets and values as a [zone][hour] matrix; combinations
// never observed resolve to zero. A Table is never modified after NewTable.
type Table struct {
	zones   []int
	hours   []int
	zoneIdx map[int]int
	hourIdx map[int]int
	values  [][]float64
}

// NewTable validates entries and builds a Table. When the same (zone, hour)
// appears more than once the last value wins.
func NewTable(entries []Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTable
	}
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	zones := lo.Uniq(lo.Map(entries, func(e Entry, _ int) int { return e.Zone }))
	hours := lo.Uniq(lo.Map(entries, func(e Entry, _ int) int { return e.Hour }))
	sort.Ints(zones)
	sort.Ints(hours)

	t := &Table{
		zones:   zones,
		hours:   hours,
		zoneIdx: indexOf(zones),
		hourIdx: indexOf(hours),
		values:  make([][]float64, len(zones)),
	}
	for zi := range t.values {
		t.values[zi] = make([]float64, len(hours))
	}
	for _, e := range entries {
		t.values[t.zoneIdx[e.Zone]][t.hourIdx[e.Hour]] = e.Demand
	}
	return t, nil
}

func validateEntry(e Entry) error {
	if !model.ValidHour(e.Hour) {
		return model.NewValidationError("hour", "%d outside [0,%d]", e.Hour, model.HoursPerDay-1)
	}
	if math.IsNaN(e.Demand) || math.IsInf(e.Demand, 0) {
		return model.NewValidationError("demand", "non-finite value for zone %d hour %d", e.Zone, e.Hour)
	}
	if e.Demand < 0 {
		return model.NewValidationError("demand", "negative value %g for zone %d hour %d", e.Demand, e.Zone, e.Hour)
	}
	return nil
}

func indexOf(keys []int) map[int]int {
	idx := make(map[int]int, len(keys))
	for i, k := range keys {
		idx[k] = i
	}
	return idx
}

// IsEmpty reports whether the table has no cells. A nil table is empty.
func (t *Table) IsEmpty() bool { return t == nil || len(t.zones) == 0 || len(t.hours) == 0 }

// Zones returns the sorted zone identifiers.
func (t *Table) Zones() []int { return append([]int(nil), t.zones...) }

// Hours returns the sorted hours present in the table.
func (t *Table) Hours() []int { return append([]int(nil), t.hours...) }

// NumZones returns the number of distinct zones.
func (t *Table) NumZones() int { return len(t.zones) }

// NumHours returns the number of distinct hours.
func (t *Table) NumHours() int { return len(t.hours) }

// Len returns the number of (zone, hour) cells.
func (t *Table) Len() int { return len(t.zones) * len(t.hours) }

// Zone returns the zone identifier at dense index zi.
func (t *Table) Zone(zi int) int { return t.zones[zi] }

// Hour returns the hour at dense index hi.
func (t *Table) Hour(hi int) int { return t.hours[hi] }

// HourIndex returns the dense index of hour h.
func (t *Table) HourIndex(h int) (int, bool) {
	hi, ok := t.hourIdx[h]
	return hi, ok
}

// At returns the demand at dense indices (zi, hi).
func (t *Table) At(zi, hi int) float64 { return t.values[zi][hi] }

// Demand returns the demand of (zone, hour), zero when absent.
func (t *Table) Demand(zone, hour int) float64 {
	zi, ok := t.zoneIdx[zone]
	if !ok {
		return 0
	}
	hi, ok := t.hourIdx[hour]
	if !ok {
		return 0
	}
	return t.values[zi][hi]
}

// HourTotal sums demand over zones for the given hour.
func (t *Table) HourTotal(hour int) float64 {
	hi, ok := t.hourIdx[hour]
	if !ok {
		return 0
	}
	var sum float64
	for zi := range t.zones {
		sum += t.values[zi][hi]
	}
	return sum
}

// Total sums demand over every cell.
func (t *Table) Total() float64 {
	var sum float64
	for _, row := range t.values {
		sum += lo.Sum(row)
	}
	return sum
}

// Entries returns every cell in (hour, zone) order, zero cells included.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	for hi, h := range t.hours {
		for zi, z := range t.zones {
			out = append(out, Entry{Zone: z, Hour: h, Demand: t.values[zi][hi]})
		}
	}
	return out
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool { return errors.Is(err, model.ErrValidation) }
