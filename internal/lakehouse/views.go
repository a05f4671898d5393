package lakehouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/pkg/models"
)

// templateQuery is the combined query file left behind by the query generator
const templateQuery = "query_0.sql"

// ViewFiles lists the query files views are created from, sorted by name.
func ViewFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queries directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") || strings.EqualFold(name, templateQuery) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// CreateViewSQL wraps a query file's text in a view named after the file.
func (d *Deployer) CreateViewSQL(name, query string) string {
	query = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), ";"))
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s",
		engine.QuotePath(d.cfg.Catalog, d.cfg.ViewsFolder, name), query)
}

// CreateViews creates one view per query file in the queries directory. The
// statements run with the catalog as their context so unqualified table
// names resolve to the deployed tables.
func (d *Deployer) CreateViews(ctx context.Context) (*models.Summary, error) {
	summary := &models.Summary{}

	files, err := ViewFiles(d.cfg.QueriesDir)
	if err != nil {
		return summary, err
	}
	if len(files) == 0 {
		d.logger.Info().Str("path", d.cfg.QueriesDir).Msg("No query files found, no views to create")
		return summary, nil
	}

	sqlContext := []string{d.cfg.Catalog}
	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), ".sql")

		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Error().Err(err).Str("path", path).Msg("Failed to read query file")
			summary.Fail(name, err)
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			d.logger.Warn().Str("path", path).Msg("Empty query file, skipping")
			summary.Skip(name)
			continue
		}

		if err := d.exec(ctx, name, d.CreateViewSQL(name, string(data)), sqlContext, summary); err != nil {
			return summary, err
		}
	}

	d.logger.Info().Str("summary", summary.String()).Msg("View creation finished")
	return summary, nil
}
