// Package bench runs the benchmark query set against the engine, records
// every execution in the results log, and deploys the reflections the engine
// recommends for the queries.
package bench

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoQueries is returned when the queries directory holds no .sql files.
var ErrNoQueries = errors.New("no query files found")

// Query is one benchmark query file
type Query struct {
	Name string // file name without .sql, e.g. query_7
	Path string
	SQL  string // trimmed, without the trailing semicolon
}

// QuerySet loads every .sql file in dir, sorted by file name.
func QuerySet(dir string) ([]Query, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoQueries, dir)
		}
		return nil, fmt.Errorf("failed to read queries directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoQueries, dir)
	}
	sort.Strings(names)

	queries := make([]Query, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		queries = append(queries, Query{
			Name: strings.TrimSuffix(name, ".sql"),
			Path: path,
			SQL:  CleanSQL(string(data)),
		})
	}
	return queries, nil
}

// CleanSQL trims whitespace and trailing semicolons.
func CleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}
