// Package lakehouse builds the Iceberg side of the benchmark environment:
// tables created from the uploaded Parquet files, the query views, the object
// storage source and the sample datasets shipped with the engine.
package lakehouse

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/internal/storage"
	"github.com/basekick-labs/lakebench/pkg/models"
	"github.com/rs/zerolog"
)

// Config holds the deployer configuration
type Config struct {
	Catalog      string // Iceberg catalog tables and views are created in
	Folder       string
	Subfolder    string // optional
	ViewsFolder  string
	SourceName   string // engine source exposing the raw Parquet bucket
	Bucket       string
	SourceFolder string
	QueriesDir   string // split query files used for views

	StorageSource engine.S3Source
	DiscoverRoot  string // slash separated path below SourceName
	SamplesPath   string // slash separated path of the sample datasets
	SamplesSpace  string
	SamplesFolder string

	Logger zerolog.Logger
}

// ConfigFrom derives the deployer configuration from the loaded config.
func ConfigFrom(cfg *config.Config, logger zerolog.Logger) *Config {
	lh := cfg.Lakehouse
	return &Config{
		Catalog:      lh.Catalog,
		Folder:       lh.Folder,
		Subfolder:    lh.Subfolder,
		ViewsFolder:  lh.ViewsFolder,
		SourceName:   lh.SourceName,
		Bucket:       cfg.Storage.S3Bucket,
		SourceFolder: lh.SourceFolder,
		QueriesDir:   cfg.TPCDS.QueriesDir,
		StorageSource: engine.S3Source{
			Name:      lh.StorageSource,
			Bucket:    cfg.Storage.S3Bucket,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Secure:    cfg.Storage.S3UseSSL,
			PathStyle: cfg.Storage.S3PathStyle,
		},
		DiscoverRoot:  lh.DiscoverRoot,
		SamplesPath:   lh.SamplesPath,
		SamplesSpace:  lh.SamplesSpace,
		SamplesFolder: lh.SamplesFolder,
		Logger:        logger,
	}
}

// Deployer runs catalog operations one statement at a time. Every unit of
// work follows submit, poll and react: a failure is logged and recorded in
// the returned summary, and only an authentication failure stops the run.
type Deployer struct {
	cfg     *Config
	client  *engine.Client
	backend storage.Backend // bucket listing for PromoteDatasets, may be nil
	logger  zerolog.Logger
}

// New creates a deployer. backend is only needed by PromoteDatasets.
func New(cfg *Config, client *engine.Client, backend storage.Backend) *Deployer {
	return &Deployer{
		cfg:     cfg,
		client:  client,
		backend: backend,
		logger:  cfg.Logger.With().Str("component", "lakehouse").Logger(),
	}
}

// exec runs one statement for the named unit and records the outcome. It
// returns an error only when the run must stop.
func (d *Deployer) exec(ctx context.Context, name, sql string, sqlContext []string, summary *models.Summary) error {
	d.logger.Debug().Str("unit", name).Str("sql", sql).Msg("Executing statement")

	result, err := d.client.Execute(ctx, sql, sqlContext)
	if err != nil {
		if stop := fatal(ctx, err); stop != nil {
			return stop
		}
		ev := d.logger.Error().Err(err).Str("unit", name)
		if result != nil {
			ev = ev.Str("job_id", result.JobID).Str("state", string(result.State))
		}
		ev.Msg("Statement failed")
		summary.Fail(name, err)
		return nil
	}

	d.logger.Info().
		Str("unit", name).
		Str("job_id", result.JobID).
		Dur("duration", result.Elapsed.Round(time.Millisecond)).
		Msg("Statement completed")
	summary.Success(name)
	return nil
}

// fatal returns the error that ends a run: rejected credentials or a
// cancelled context.
func fatal(ctx context.Context, err error) error {
	if errors.Is(err, engine.ErrAuthentication) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// splitPath turns a slash separated catalog path into its elements.
func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
