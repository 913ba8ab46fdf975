package demand

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTrips_AliasesAndDrops(t *testing.T) {
	data := "Taxi ID,Trip Start,Pickup Area\n" +
		"a,01/02/2023 08:15:00 AM,8\n" +
		"b,2023-01-02 08:45:00,8.0\n" +
		"c,not a date,8\n" +
		"d,2023-01-02T09:00:00Z,\n"
	trips, stats, err := LoadTrips(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, TripStats{Rows: 4, Kept: 2, Dropped: 2}, stats)
	require.Len(t, trips, 2)
	assert.Equal(t, 8, trips[0].Zone)
	assert.Equal(t, 8, trips[0].Start.Hour())
}

func TestLoadTrips_MissingColumns(t *testing.T) {
	_, _, err := LoadTrips(strings.NewReader("taxi_id,fare\n1,2\n"))
	var mc *MissingColumnsError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, []string{ColTripStart, ColPickupArea}, mc.Missing)
}

func TestAggregate_TypicalDay(t *testing.T) {
	day1 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	trips := []Trip{
		{Start: day1.Add(8 * time.Hour), Zone: 1},
		{Start: day1.Add(8*time.Hour + 10*time.Minute), Zone: 1},
		{Start: day2.Add(8 * time.Hour), Zone: 1},
		{Start: day2.Add(17 * time.Hour), Zone: 2},
	}
	tbl, err := Aggregate(trips)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, tbl.Zones())
	assert.Equal(t, 24, tbl.NumHours())
	// zone 1 hour 8: 2 trips on day1, 1 on day2 -> 1.5
	assert.Equal(t, 1.5, tbl.Demand(1, 8))
	assert.Equal(t, 1.0, tbl.Demand(2, 17))
	assert.Zero(t, tbl.Demand(2, 8))
}

func TestAggregate_Rounding(t *testing.T) {
	base := time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)
	var trips []Trip
	// 1, 1 and 2 trips on three days -> 4/3
	for d, n := range []int{1, 1, 2} {
		for i := 0; i < n; i++ {
			trips = append(trips, Trip{Start: base.AddDate(0, 0, d), Zone: 5})
		}
	}
	tbl, err := Aggregate(trips)
	require.NoError(t, err)
	assert.Equal(t, 1.333, tbl.Demand(5, 10))
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyTable)
}
