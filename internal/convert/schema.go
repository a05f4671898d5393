package convert

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Schema maps a table name to its ordered column names.
type Schema map[string][]string

// LoadSchema reads a schema file. JSON files have the form
// {"table": {"columns": ["c1", "c2"]}}; any other extension is read as CSV
// rows of table,column in column order, with an optional table,column header.
// A missing file yields an empty schema.
func LoadSchema(path string) (Schema, error) {
	if path == "" {
		return Schema{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Schema{}, nil
		}
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return parseJSONSchema(data)
	}
	return parseCSVSchema(data)
}

func parseJSONSchema(data []byte) (Schema, error) {
	var raw map[string]struct {
		Columns []string `json:"columns"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}
	schema := make(Schema, len(raw))
	for table, def := range raw {
		schema[table] = def.Columns
	}
	return schema, nil
}

func parseCSVSchema(data []byte) (Schema, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	schema := Schema{}
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema CSV: %w", err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("schema CSV line %d: expected table,column", line)
		}
		table, column := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		if line == 1 && strings.EqualFold(table, "table") && strings.EqualFold(column, "column") {
			continue
		}
		if table == "" || column == "" {
			return nil, fmt.Errorf("schema CSV line %d: empty table or column", line)
		}
		schema[table] = append(schema[table], column)
	}
	return schema, nil
}

// ColumnNames returns the names to use for a table with n columns. The
// schema's names are used only when the count matches; otherwise generic
// _c0.._cN names are returned and a warning is logged.
func (s Schema) ColumnNames(table string, n int, logger zerolog.Logger) []string {
	cols, ok := s[table]
	switch {
	case !ok:
		logger.Warn().Str("table", table).Msg("No schema found for table, using generic column names")
	case len(cols) != n:
		logger.Warn().
			Str("table", table).
			Int("expected", len(cols)).
			Int("got", n).
			Msg("Column count mismatch, using generic column names")
	default:
		return append([]string(nil), cols...)
	}
	return genericColumns(n)
}

func genericColumns(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("_c%d", i)
	}
	return names
}
