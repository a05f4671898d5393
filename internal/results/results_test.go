package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basekick-labs/lakebench/pkg/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		label string
		want  Label
	}{
		{"run-20240501-120000-wref-query_7", Label{JobID: "run-20240501-120000", Reflections: true, Query: "query_7"}},
		{"run-noref-20240501-120000-query_99", Label{JobID: "run-20240501-120000", Query: "query_99"}},
		{"jmeter run-20231231-235959-wref-query_1 sample", Label{JobID: "run-20231231-235959", Reflections: true, Query: "query_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseLabel(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLabel_Invalid(t *testing.T) {
	for _, label := range []string{"", "query_1", "run-2024-query_1", "run-20240501-120000-wref"} {
		_, err := ParseLabel(label)
		assert.ErrorIs(t, err, ErrUnparseableLabel, label)
	}
}

func TestParseLabelProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("every generated label parses into its run id, mode and query", prop.ForAll(
		func(offset int64, reflections bool, query int) bool {
			ts := time.Unix(offset, 0).UTC()
			stamp := ts.Format("20060102-150405")
			var label string
			if reflections {
				label = fmt.Sprintf("run-%s-wref-query_%d", stamp, query)
			} else {
				label = fmt.Sprintf("run-noref-%s-query_%d", stamp, query)
			}

			got, err := ParseLabel(label)
			if err != nil {
				return false
			}
			return got.JobID == "run-"+stamp &&
				got.Reflections == reflections &&
				got.Query == fmt.Sprintf("query_%d", query)
		},
		gen.Int64Range(946684800, 4102444799), // 2000 through 2099
		gen.Bool(),
		gen.IntRange(1, 99),
	))

	properties.TestingRun(t)
}

// writeLog writes a results log with runs x queries rows per mode.
func writeLog(t *testing.T, runs, queries int, mutate func(rows [][]string) [][]string) string {
	t.Helper()
	rows := [][]string{models.ResultColumns}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for r := 0; r < runs; r++ {
		stamp := base.Add(time.Duration(r) * time.Hour).Format("20060102-150405")
		for q := 1; q <= queries; q++ {
			rows = append(rows,
				[]string{fmt.Sprintf("run-%s-wref-query_%d", stamp, q), "120", "true", "2048", "512", "job", "COMPLETED", ""},
				[]string{fmt.Sprintf("run-noref-%s-query_%d", stamp, q), "340", "true", "2048", "512", "job", "COMPLETED", ""},
			)
		}
	}
	if mutate != nil {
		rows = mutate(rows)
	}

	path := filepath.Join(t.TempDir(), "full_results.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(rows))
	require.NoError(t, f.Close())
	return path
}

func TestValidate_Passes(t *testing.T) {
	log, err := ReadLog(writeLog(t, 3, 4, nil))
	require.NoError(t, err)

	report := Validate(log, Expectations{RunsWithReflections: 3, RunsWithoutReflections: 3, QueriesPerRun: 4})
	assert.True(t, report.Passed(), report.Problems)
	assert.Equal(t, []int{4}, report.QueriesPerRun)
	assert.True(t, report.AllSuccessful)
}

func TestValidate_Failures(t *testing.T) {
	path := writeLog(t, 2, 3, func(rows [][]string) [][]string {
		rows[1][2] = "false"
		// drop the last query of the last run in both modes
		rows = rows[:len(rows)-2]
		return append(rows, []string{"garbage", "1", "true", "0", "0", "", "", ""})
	})
	log, err := ReadLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"garbage"}, log.Unparsed)

	report := Validate(log, Expectations{RunsWithReflections: 2, RunsWithoutReflections: 3, QueriesPerRun: 3})
	assert.False(t, report.Passed())
	assert.Equal(t, []int{2, 3}, report.QueriesPerRun)
	assert.False(t, report.AllSuccessful)
	assert.Len(t, report.Problems, 4)
	assert.Contains(t, report.String(), "queries per run: [2 3]")
}

func TestReadLog_MissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("label,elapsed\nrun-20240501-120000-wref-query_1,1\n"), 0644))

	_, err := ReadLog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "success, bytes, sentBytes")
}

func TestReadLog_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	_, err := ReadLog(path)
	assert.Error(t, err)
}

func TestProcess(t *testing.T) {
	input := writeLog(t, 1, 2, nil)
	out := t.TempDir()
	now := time.Unix(1714560000, 0)

	report, path, err := Process(input, out, Expectations{RunsWithReflections: 1, RunsWithoutReflections: 1, QueriesPerRun: 2}, now)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Equal(t, filepath.Join(out, "validated_results-1714560000.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, strings.Join(OutputColumns, ","), lines[0])
	assert.Equal(t, "run-20240501-000000,true,query_1,120,true,2048,512", lines[1])
	assert.Equal(t, "run-20240501-000000,false,query_1,340,true,2048,512", lines[2])
}

func TestProcess_Invalid(t *testing.T) {
	input := writeLog(t, 1, 2, nil)
	out := t.TempDir()

	report, path, err := Process(input, out, DefaultExpectations, time.Now())
	require.NoError(t, err)
	assert.False(t, report.Passed())
	assert.Equal(t, filepath.Join(out, InvalidResultsFile), path)
	assert.FileExists(t, path)
}
