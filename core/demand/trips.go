package demand

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/kilianp07/fleetalloc/core/model"
)

// Trip is one raw trip record reduced to what the aggregation needs.
type Trip struct {
	Start time.Time
	Zone  int
}

// TripStats describes a LoadTrips pass.
type TripStats struct {
	Rows    int
	Kept    int
	Dropped int
}

// Raw trip column names after header normalisation.
const (
	ColTripStart  = "trip_start_timestamp"
	ColPickupArea = ColZone
)

var tripAliases = map[string]string{
	"trip_start":               ColTripStart,
	"trip_start_time":          ColTripStart,
	"start_timestamp":          ColTripStart,
	"tpep_pickup_datetime":     ColTripStart,
	"pickup_community":         ColPickupArea,
	"pickup_area":              ColPickupArea,
	"pickup_community_area_id": ColPickupArea,
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// normalizeHeader trims, lower-cases and joins inner whitespace with '_'.
func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), "_")
}

// LoadTrips reads raw trip records. Rows whose timestamp or pickup zone cannot
// be parsed are dropped and counted in the returned stats.
func LoadTrips(r io.Reader) ([]Trip, TripStats, error) {
	var stats TripStats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, ErrEmptyTable
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[normalizeHeader(h)] = i
	}
	for src, dst := range tripAliases {
		if _, ok := idx[dst]; ok {
			continue
		}
		if i, ok := idx[src]; ok {
			idx[dst] = i
		}
	}
	var missing []string
	for _, c := range []string{ColTripStart, ColPickupArea} {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		found := lo.Map(header, func(h string, _ int) string { return normalizeHeader(h) })
		return nil, stats, &MissingColumnsError{Missing: missing, Found: found}
	}
	tsCol, zoneCol := idx[ColTripStart], idx[ColPickupArea]

	var trips []Trip
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("row %d: %w", stats.Rows+2, err)
		}
		stats.Rows++
		if tsCol >= len(rec) || zoneCol >= len(rec) {
			stats.Dropped++
			continue
		}
		start, ok := parseTimestamp(strings.TrimSpace(rec[tsCol]))
		if !ok {
			stats.Dropped++
			continue
		}
		zone, err := parseInt(strings.TrimSpace(rec[zoneCol]))
		if err != nil {
			stats.Dropped++
			continue
		}
		trips = append(trips, Trip{Start: start, Zone: zone})
	}
	stats.Kept = len(trips)
	return trips, stats, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

type dayKey struct {
	date string
	zone int
	hour int
}

type cellKey struct {
	zone int
	hour int
}

// Aggregate turns trips into a typical-day table: trips are counted per
// (date, zone, hour), averaged per (zone, hour) over the dates on which that
// cell saw trips, rounded to 3 decimals, and every zone gets all 24 hours with
// zero filling the gaps.
func Aggregate(trips []Trip) (*Table, error) {
	if len(trips) == 0 {
		return nil, ErrEmptyTable
	}
	daily := make(map[dayKey]int)
	for _, tr := range trips {
		k := dayKey{date: tr.Start.Format(time.DateOnly), zone: tr.Zone, hour: tr.Start.Hour()}
		daily[k]++
	}

	type acc struct {
		sum  int
		days int
	}
	cells := make(map[cellKey]*acc)
	for k, n := range daily {
		ck := cellKey{zone: k.zone, hour: k.hour}
		a, ok := cells[ck]
		if !ok {
			a = &acc{}
			cells[ck] = a
		}
		a.sum += n
		a.days++
	}

	zones := lo.Uniq(lo.Map(trips, func(tr Trip, _ int) int { return tr.Zone }))
	sort.Ints(zones)
	entries := make([]Entry, 0, len(zones)*model.HoursPerDay)
	for _, z := range zones {
		for _, h := range model.AllHours() {
			var mean float64
			if a, ok := cells[cellKey{zone: z, hour: h}]; ok {
				mean = math.Round(float64(a.sum)/float64(a.days)*1000) / 1000
			}
			entries = append(entries, Entry{Zone: z, Hour: h, Demand: mean})
		}
	}
	return NewTable(entries)
}
