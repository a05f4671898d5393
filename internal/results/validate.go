package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
)

// Expectations describe a complete benchmark
type Expectations struct {
	RunsWithReflections    int
	RunsWithoutReflections int
	QueriesPerRun          int
}

// DefaultExpectations is a full benchmark: 495 runs in each mode of 99 queries.
var DefaultExpectations = Expectations{
	RunsWithReflections:    495,
	RunsWithoutReflections: 495,
	QueriesPerRun:          99,
}

// ExpectationsFrom reads the expected run and query counts from the bench config.
func ExpectationsFrom(cfg *config.BenchConfig) Expectations {
	return Expectations{
		RunsWithReflections:    cfg.ExpectedRuns,
		RunsWithoutReflections: cfg.ExpectedRuns,
		QueriesPerRun:          cfg.ExpectedQueries,
	}
}

// Report is the outcome of Validate
type Report struct {
	RunsWithReflections    int
	RunsWithoutReflections int
	QueriesPerRun          []int // distinct per-run query counts, ascending
	AllSuccessful          bool
	Unparsed               int
	Problems               []string
}

// Passed reports whether the results describe a complete, successful benchmark.
func (r *Report) Passed() bool {
	return len(r.Problems) == 0
}

func (r *Report) String() string {
	counts := make([]string, len(r.QueriesPerRun))
	for i, n := range r.QueriesPerRun {
		counts[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("runs with reflections: %d, runs without reflections: %d, queries per run: [%s], all successful: %t",
		r.RunsWithReflections, r.RunsWithoutReflections, strings.Join(counts, " "), r.AllSuccessful)
}

// Validate checks the number of distinct runs per reflection mode, the
// number of distinct queries per run, and that every query succeeded.
func Validate(log *Log, exp Expectations) *Report {
	withRefl := map[string]bool{}
	withoutRefl := map[string]bool{}
	queries := map[string]map[string]bool{}
	report := &Report{AllSuccessful: true, Unparsed: len(log.Unparsed)}

	for _, row := range log.Rows {
		if row.Reflections {
			withRefl[row.JobID] = true
		} else {
			withoutRefl[row.JobID] = true
		}
		if queries[row.JobID] == nil {
			queries[row.JobID] = map[string]bool{}
		}
		queries[row.JobID][row.Query] = true
		if !row.Success {
			report.AllSuccessful = false
		}
	}

	report.RunsWithReflections = len(withRefl)
	report.RunsWithoutReflections = len(withoutRefl)

	distinct := map[int]bool{}
	for _, qs := range queries {
		distinct[len(qs)] = true
	}
	for n := range distinct {
		report.QueriesPerRun = append(report.QueriesPerRun, n)
	}
	sort.Ints(report.QueriesPerRun)

	if report.RunsWithReflections != exp.RunsWithReflections {
		report.Problems = append(report.Problems, fmt.Sprintf("expected %d runs with reflections, found %d",
			exp.RunsWithReflections, report.RunsWithReflections))
	}
	if report.RunsWithoutReflections != exp.RunsWithoutReflections {
		report.Problems = append(report.Problems, fmt.Sprintf("expected %d runs without reflections, found %d",
			exp.RunsWithoutReflections, report.RunsWithoutReflections))
	}
	if len(report.QueriesPerRun) != 1 || report.QueriesPerRun[0] != exp.QueriesPerRun {
		report.Problems = append(report.Problems, fmt.Sprintf("expected %d queries in every run, found %v",
			exp.QueriesPerRun, report.QueriesPerRun))
	}
	if !report.AllSuccessful {
		report.Problems = append(report.Problems, "not every query succeeded")
	}
	if report.Unparsed > 0 {
		report.Problems = append(report.Problems, fmt.Sprintf("%d labels could not be parsed", report.Unparsed))
	}
	return report
}

// InvalidResultsFile is written when validation fails
const InvalidResultsFile = "invalid_results.csv"

// Process validates the results log at input and writes the processed rows
// to outDir: validated_results-<unix time>.csv when validation passes,
// invalid_results.csv otherwise. It returns the report and the written path.
func Process(input, outDir string, exp Expectations, now time.Time) (*Report, string, error) {
	log, err := ReadLog(input)
	if err != nil {
		return nil, "", err
	}
	report := Validate(log, exp)

	name := InvalidResultsFile
	if report.Passed() {
		name = fmt.Sprintf("validated_results-%d.csv", now.Unix())
	}
	path := filepath.Join(outDir, name)
	if err := writeRows(path, log.Rows); err != nil {
		return report, "", err
	}
	return report, path, nil
}

func writeRows(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(OutputColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.Record()); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
