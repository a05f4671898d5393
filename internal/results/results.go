// Package results validates benchmark results logs and turns them into the
// per-query result files that are published.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	runPattern   = regexp.MustCompile(`(run)(?:-noref)?-(\d{8}-\d{6})`)
	queryPattern = regexp.MustCompile(`(query_\d+)`)
)

// requiredColumns must be present in a results log
var requiredColumns = []string{"label", "elapsed", "success", "bytes", "sentBytes"}

// OutputColumns is the header of the processed results file.
var OutputColumns = []string{"jobID", "reflections", "query", "elapsed_time", "success", "bytes", "sentBytes"}

// ErrUnparseableLabel is returned by ParseLabel for labels without a run id or query.
var ErrUnparseableLabel = errors.New("unparseable label")

// Label is the information carried by a result label
type Label struct {
	JobID       string // run-<YYYYMMDD-HHMMSS>
	Reflections bool
	Query       string // query_<n>
}

// ParseLabel extracts the run id, reflection flag and query from a label such
// as run-20240501-120000-wref-query_7 or run-noref-20240501-120000-query_7.
func ParseLabel(label string) (Label, error) {
	m := runPattern.FindStringSubmatch(label)
	if m == nil {
		return Label{}, fmt.Errorf("%w: %q has no run id", ErrUnparseableLabel, label)
	}
	q := queryPattern.FindString(label)
	if q == "" {
		return Label{}, fmt.Errorf("%w: %q has no query", ErrUnparseableLabel, label)
	}
	return Label{
		JobID:       m[1] + "-" + m[2],
		Reflections: strings.Contains(label, "wref"),
		Query:       q,
	}, nil
}

// Row is one processed result
type Row struct {
	Label
	RawLabel  string
	Elapsed   string // as logged
	Success   bool
	Bytes     string
	SentBytes string
}

// Record returns the row in OutputColumns order.
func (r Row) Record() []string {
	return []string{
		r.JobID,
		strconv.FormatBool(r.Reflections),
		r.Query,
		r.Elapsed,
		strconv.FormatBool(r.Success),
		r.Bytes,
		r.SentBytes,
	}
}

// Log is a parsed results log
type Log struct {
	Rows []Row
	// Unparsed lists labels that could not be parsed; their rows are dropped.
	Unparsed []string
}

// ReadLog reads a results log from path.
func ReadLog(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results log: %w", err)
	}
	defer f.Close()
	return ParseLog(f)
}

// ParseLog reads a results log. The header must name at least the label,
// elapsed, success, bytes and sentBytes columns; extra columns are ignored.
func ParseLog(r io.Reader) (*Log, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("results log is empty")
		}
		return nil, fmt.Errorf("failed to read results header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("results log is missing columns: %s", strings.Join(missing, ", "))
	}

	log := &Log{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read results line %d: %w", line, err)
		}

		field := func(name string) string {
			i := index[name]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		raw := field("label")
		label, err := ParseLabel(raw)
		if err != nil {
			log.Unparsed = append(log.Unparsed, raw)
			continue
		}
		success, _ := strconv.ParseBool(field("success"))

		log.Rows = append(log.Rows, Row{
			Label:     label,
			RawLabel:  raw,
			Elapsed:   field("elapsed"),
			Success:   success,
			Bytes:     field("bytes"),
			SentBytes: field("sentBytes"),
		})
	}
	return log, nil
}
