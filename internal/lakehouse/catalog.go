package lakehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/pkg/models"
)

// metadataFolder holds Iceberg metadata next to the data folders of a table
const metadataFolder = "metadata"

// TableFiles lists the Parquet files the catalog shows for one table
type TableFiles struct {
	Table string
	Files []string // slash joined catalog paths
}

// DiscoverFiles walks <source>/<discover root>/<table> for every table and
// collects the Parquet files inside its data folders.
func (d *Deployer) DiscoverFiles(ctx context.Context, names []string) ([]TableFiles, *models.Summary, error) {
	summary := &models.Summary{}
	var found []TableFiles

	root := append([]string{d.cfg.SourceName}, splitPath(d.cfg.DiscoverRoot)...)
	for _, name := range names {
		path := append(append([]string(nil), root...), name)

		entity, err := d.client.GetByPath(ctx, path)
		if err != nil {
			if stop := fatal(ctx, err); stop != nil {
				return found, summary, stop
			}
			d.logger.Error().Err(err).Str("table", name).Msg("Failed to list table folder")
			summary.Fail(name, err)
			continue
		}
		if len(entity.Children) == 0 {
			d.logger.Warn().Str("table", name).Msg("No files or subdirectories found")
			summary.Skip(name)
			continue
		}

		tf := TableFiles{Table: name}
		for _, child := range entity.Children {
			if child.Type != engine.ChildContainer || child.Name() == metadataFolder {
				continue
			}
			folder, err := d.client.GetByPath(ctx, child.Path)
			if err != nil {
				if stop := fatal(ctx, err); stop != nil {
					return found, summary, stop
				}
				d.logger.Warn().Err(err).Str("path", strings.Join(child.Path, "/")).Msg("Failed to list data folder")
				continue
			}
			for _, f := range folder.Children {
				if f.Type == engine.ChildFile && strings.HasSuffix(f.Name(), ".parquet") {
					tf.Files = append(tf.Files, strings.Join(f.Path, "/"))
				}
			}
		}

		d.logger.Info().Str("table", name).Int("files", len(tf.Files)).Msg("Discovered table files")
		found = append(found, tf)
		summary.Success(name)
	}

	return found, summary, nil
}

// ImportSamples copies every dataset under the samples path into
// <space>.<folder>.<name>, creating the space and folder first.
func (d *Deployer) ImportSamples(ctx context.Context) (*models.Summary, error) {
	summary := &models.Summary{}
	space, folder := d.cfg.SamplesSpace, d.cfg.SamplesFolder

	if _, err := d.client.CreateSpace(ctx, space); err != nil {
		if !engine.IsConflict(err) {
			return summary, fmt.Errorf("failed to create space %s: %w", space, err)
		}
		d.logger.Info().Str("space", space).Msg("Space already exists, continuing")
	}
	if _, err := d.client.CreateFolder(ctx, []string{space, folder}); err != nil {
		if !engine.IsConflict(err) {
			return summary, fmt.Errorf("failed to create folder %s.%s: %w", space, folder, err)
		}
		d.logger.Info().Str("space", space).Str("folder", folder).Msg("Folder already exists, continuing")
	}

	source := splitPath(d.cfg.SamplesPath)
	listing, err := d.client.GetByPath(ctx, source)
	if err != nil {
		return summary, fmt.Errorf("failed to list samples: %w", err)
	}
	if len(listing.Children) == 0 {
		d.logger.Info().Str("path", d.cfg.SamplesPath).Msg("No sample datasets found")
		return summary, nil
	}

	for _, child := range listing.Children {
		name := child.Name()
		if name == "" {
			continue
		}
		sql := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
			engine.QuotePath(space, folder, name), engine.QuotePath(child.Path...))
		if err := d.exec(ctx, name, sql, nil, summary); err != nil {
			return summary, err
		}
	}

	d.logger.Info().Str("summary", summary.String()).Msg("Sample import finished")
	return summary, nil
}
