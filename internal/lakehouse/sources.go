package lakehouse

import (
	"context"
	"fmt"

	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/pkg/models"
)

// CreateStorageSource registers the bucket as an S3 source. A source that
// already exists is fine.
func (d *Deployer) CreateStorageSource(ctx context.Context) error {
	src := d.cfg.StorageSource
	if src.Name == "" || src.Bucket == "" {
		return fmt.Errorf("storage source name and bucket are required")
	}

	if _, err := d.client.CreateSource(ctx, src); err != nil {
		if engine.IsConflict(err) {
			d.logger.Info().Str("source", src.Name).Msg("Storage source already exists, continuing")
			return nil
		}
		return fmt.Errorf("failed to create storage source %s: %w", src.Name, err)
	}

	d.logger.Info().
		Str("source", src.Name).
		Str("bucket", src.Bucket).
		Str("endpoint", src.Endpoint).
		Msg("Created storage source")
	return nil
}

// PromoteDatasets formats every top-level folder of the bucket as a Parquet
// dataset of the storage source.
func (d *Deployer) PromoteDatasets(ctx context.Context) (*models.Summary, error) {
	summary := &models.Summary{}
	if d.backend == nil {
		return summary, fmt.Errorf("no storage backend configured")
	}

	folders, err := d.backend.ListDirectories(ctx, "")
	if err != nil {
		return summary, fmt.Errorf("failed to list bucket folders: %w", err)
	}
	if len(folders) == 0 {
		d.logger.Info().Str("bucket", d.cfg.StorageSource.Bucket).Msg("No tables found in storage")
		return summary, nil
	}

	for _, folder := range folders {
		path := []string{d.cfg.StorageSource.Name, folder}
		entity, err := d.client.PromoteDataset(ctx, path)
		if err != nil {
			if stop := fatal(ctx, err); stop != nil {
				return summary, stop
			}
			if engine.IsConflict(err) {
				d.logger.Info().Str("table", folder).Msg("Dataset already promoted, continuing")
				summary.Skip(folder)
				continue
			}
			d.logger.Error().Err(err).Str("table", folder).Msg("Failed to promote dataset")
			summary.Fail(folder, err)
			continue
		}

		d.logger.Info().Str("table", folder).Str("dataset_id", entity.ID).Msg("Promoted Parquet dataset")
		summary.Success(folder)
	}

	d.logger.Info().Str("summary", summary.String()).Msg("Dataset promotion finished")
	return summary, nil
}

// SetupStorage creates the storage source and then promotes the bucket folders.
func (d *Deployer) SetupStorage(ctx context.Context) (*models.Summary, error) {
	if err := d.CreateStorageSource(ctx); err != nil {
		return &models.Summary{}, err
	}
	return d.PromoteDatasets(ctx)
}
