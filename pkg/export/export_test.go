package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetalloc/core/allocation"
	"github.com/kilianp07/fleetalloc/core/marginal"
	"github.com/kilianp07/fleetalloc/core/milp"
	"github.com/kilianp07/fleetalloc/core/model"
	"github.com/kilianp07/fleetalloc/core/sensitivity"
)

func readCSV(t *testing.T, b []byte) [][]string {
	t.Helper()
	recs, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestWriteAllocationCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []allocation.Row{{Zone: 8, Hour: 17, Demand: 12.5, Assigned: 6, Served: 12, Unmet: 0.5}}
	require.NoError(t, WriteAllocationCSV(&buf, rows))
	got := readCSV(t, buf.Bytes())
	assert.Equal(t, [][]string{
		{"zone", "hour", "demand", "assigned", "served", "unmet"},
		{"8", "17", "12.5", "6", "12", "0.5"},
	}, got)
}

func TestWriteSensitivityCSV(t *testing.T) {
	var buf bytes.Buffer
	recs := []sensitivity.Record{
		{Rate: 1.5, Fleet: 3000, Status: milp.StatusOptimal, Runtime: 1500 * time.Millisecond, DemandTotal: 300, ServedTotal: 200, Objective: 100, ServedFraction: 2.0 / 3},
		{Rate: 2, Fleet: 3300, Status: milp.StatusNotSolved, Err: "boom"},
	}
	require.NoError(t, WriteSensitivityCSV(&buf, recs))
	got := readCSV(t, buf.Bytes())
	require.Len(t, got, 3)
	assert.Equal(t, sensitivityHeader, got[0])
	assert.Equal(t, []string{"1.5", "3000", "optimal", "1.5", "300", "200", "100", "66.67"}, got[1])
	assert.Equal(t, "not-solved", got[2][2])
}

func TestWriteMarginal(t *testing.T) {
	recs := []marginal.Record{{Hour: 0, Increment: 1, UnmetReduction: 2}, {Hour: 5, Increment: 1, UnmetReduction: 0}}

	var buf bytes.Buffer
	require.NoError(t, WriteMarginal(&buf, FormatCSV, recs))
	assert.Equal(t, [][]string{
		{"hour", "capacity_increment", "unmet_reduction"},
		{"0", "1", "2"},
		{"5", "1", "0"},
	}, readCSV(t, buf.Bytes()))

	buf.Reset()
	require.NoError(t, WriteMarginal(&buf, FormatJSON, recs))
	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, 2.0, out[0]["unmet_reduction"])
	assert.Equal(t, 1.0, out[0]["capacity_increment"])
}

func TestWriteSensitivityJSON(t *testing.T) {
	var buf bytes.Buffer
	recs := []sensitivity.Record{{Rate: 2, Fleet: 10, Status: milp.StatusTimeLimit, ServedFraction: 0.5}}
	require.NoError(t, WriteSensitivity(&buf, FormatJSON, recs))
	var out []SensitivityRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "time-limit-reached", out[0].Status)
	assert.Equal(t, 50.0, out[0].ServedPct)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	rows := []allocation.Row{{Zone: 1, Hour: 0, Demand: 1, Assigned: 1, Served: 1}}
	path, err := ToFile(dir, "allocation", FormatJSON, func(w io.Writer, f Format) error {
		return WriteAllocation(w, f, rows)
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "allocation.json"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []allocation.Row
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, rows, out)
}
