package tpcds

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SplitQueries splits a file of semicolon separated statements into
// query_<i>.sql files in outDir. i counts every piece of the split, so empty
// pieces leave a gap in the numbering. It returns the paths written.
func SplitQueries(inputFile, outDir string) ([]string, error) {
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", inputFile, err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	var written []string
	for i, query := range strings.Split(string(data), ";") {
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("query_%d.sql", i+1))
		if err := os.WriteFile(path, []byte(query+";\n"), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
