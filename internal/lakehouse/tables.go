package lakehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/internal/tables"
	"github.com/basekick-labs/lakebench/pkg/models"
)

// WarmupSQL reads one row of the uploaded Parquet object so the engine sees
// the file before the table is created from its folder. Without a source name
// the bucket doubles as the source, as in a stock MinIO setup.
func (d *Deployer) WarmupSQL(table string) string {
	source := d.cfg.SourceName
	if source == "" {
		source = d.cfg.Bucket
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT 1",
		engine.QuotePath(source, d.cfg.Bucket, table, table+".parquet"))
}

// CreateTableSQL builds the CTAS statement for t.
func (d *Deployer) CreateTableSQL(t tables.Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(d.tablePath(t.Name))
	if t.Partitioned() {
		fmt.Fprintf(&b, " PARTITION BY (%s)", t.PartitionBy)
		if t.LocalSortBy != "" {
			fmt.Fprintf(&b, " LOCALSORT BY (%s)", t.LocalSortBy)
		}
	}
	b.WriteString(" AS SELECT * FROM ")
	b.WriteString(engine.QuotePath(d.cfg.Bucket, d.cfg.SourceFolder, t.Name))
	return b.String()
}

// DropTableSQL builds the DROP statement for a deployed table.
func (d *Deployer) DropTableSQL(table string) string {
	return "DROP TABLE " + d.tablePath(table)
}

func (d *Deployer) tablePath(table string) string {
	return engine.QuotePath(d.cfg.Catalog, d.cfg.Folder, d.cfg.Subfolder, table)
}

// DeployTables creates an Iceberg table for every table in cfg, partitioned
// tables first. When only is set just that table is deployed, with the
// partition spec it has in cfg (unpartitioned when cfg does not list it).
func (d *Deployer) DeployTables(ctx context.Context, cfg *tables.Config, only string) (*models.Summary, error) {
	summary := &models.Summary{}

	var todo []tables.Table
	if only != "" {
		t, ok := cfg.Lookup(only)
		if !ok {
			d.logger.Warn().Str("table", only).Msg("Table not in table config, deploying unpartitioned")
			t = tables.Table{Name: only}
		}
		todo = []tables.Table{t}
	} else {
		todo = cfg.All()
	}

	if len(todo) == 0 {
		d.logger.Info().Msg("No tables to deploy")
		return summary, nil
	}

	for _, t := range todo {
		d.logger.Info().
			Str("table", t.Name).
			Str("partition_by", t.PartitionBy).
			Str("localsort_by", t.LocalSortBy).
			Msg("Deploying table")

		// The warm-up outcome does not matter; a missing object fails the CTAS anyway
		if _, err := d.client.Execute(ctx, d.WarmupSQL(t.Name), nil); err != nil {
			if stop := fatal(ctx, err); stop != nil {
				return summary, stop
			}
			d.logger.Debug().Err(err).Str("table", t.Name).Msg("Warm-up query failed")
		}

		if err := d.exec(ctx, t.Name, d.CreateTableSQL(t), nil, summary); err != nil {
			return summary, err
		}
	}

	d.logger.Info().Str("summary", summary.String()).Msg("Table deployment finished")
	return summary, nil
}

// CleanupTables drops every table in cfg.
func (d *Deployer) CleanupTables(ctx context.Context, cfg *tables.Config) (*models.Summary, error) {
	summary := &models.Summary{}

	names := cfg.Names()
	if len(names) == 0 {
		d.logger.Info().Msg("No tables to drop")
		return summary, nil
	}

	for _, name := range names {
		d.logger.Info().Str("table", name).Msg("Dropping table")
		if err := d.exec(ctx, name, d.DropTableSQL(name), nil, summary); err != nil {
			return summary, err
		}
	}

	d.logger.Info().Str("summary", summary.String()).Msg("Table cleanup finished")
	return summary, nil
}
