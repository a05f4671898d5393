package tpcds

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/basekick-labs/lakebench/internal/convert"
	"github.com/basekick-labs/lakebench/internal/storage"
	"github.com/basekick-labs/lakebench/pkg/models"
)

var (
	// ErrNothingToConvert is returned when the raw directory has no generated files.
	ErrNothingToConvert = errors.New("no .dat files found, nothing to convert or upload")
	// ErrNothingToUpload is returned when conversion produced no Parquet files.
	ErrNothingToUpload = errors.New("no .parquet files found, nothing to upload")
)

// Transfer is one planned or completed upload.
type Transfer struct {
	Source string
	Target string
	Bytes  int64
}

func (t Transfer) String() string {
	return fmt.Sprintf("Source: %s Target: %s", t.Source, t.Target)
}

// UploadOptions configures Upload.
type UploadOptions struct {
	// Test lists the source and target of every raw file without converting or uploading.
	Test      bool
	Converter convert.Converter
	Backend   storage.Backend
}

// UploadReport describes an Upload run.
type UploadReport struct {
	Plan       []Transfer // test mode only
	Conversion *models.Summary
	Uploads    []Transfer
	Upload     *models.Summary
}

// Upload converts the raw files to Parquet and uploads every output to the
// backend. A credential error aborts the run; any other per-file error is
// logged and the file is skipped.
func (w *Workspace) Upload(ctx context.Context, opts UploadOptions) (*UploadReport, error) {
	report := &UploadReport{}

	files, err := w.RawFiles()
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		return report, ErrNothingToConvert
	}

	if opts.Test {
		report.Plan = PlanUploads(files, w.ParquetDir, opts.Backend)
		for _, t := range report.Plan {
			w.logger.Info().Str("source", t.Source).Str("target", t.Target).Msg("Test mode")
		}
		return report, nil
	}

	if opts.Converter == nil {
		return report, fmt.Errorf("no converter configured")
	}
	report.Conversion, err = convert.ConvertAll(ctx, opts.Converter, files, w.logger)
	if err != nil {
		return report, err
	}

	outputs, err := convert.ListOutputs(w.ParquetDir)
	if err != nil {
		return report, err
	}
	if len(outputs) == 0 {
		return report, ErrNothingToUpload
	}

	report.Uploads, report.Upload, err = w.uploadOutputs(ctx, opts.Backend, outputs)
	return report, err
}

// PlanUploads lists the flat target of every raw file, as shown in test mode.
func PlanUploads(files []convert.RawFile, parquetDir string, backend storage.Backend) []Transfer {
	plan := make([]Transfer, len(files))
	for i, f := range files {
		name := f.Table + ".parquet"
		plan[i] = Transfer{
			Source: filepath.Join(parquetDir, name),
			Target: backend.URI(f.Table + "/" + name),
		}
	}
	return plan
}

func (w *Workspace) uploadOutputs(ctx context.Context, backend storage.Backend, outputs []convert.Output) ([]Transfer, *models.Summary, error) {
	summary := &models.Summary{}
	var done []Transfer

	for _, o := range outputs {
		if err := ctx.Err(); err != nil {
			return done, summary, err
		}

		target := backend.URI(o.Key)
		start := time.Now()
		n, err := storage.UploadFile(ctx, backend, o.Path, o.Key)
		if err != nil {
			if storage.IsCredentialError(err) {
				w.logger.Error().Err(err).Str("key", o.Key).Msg("Storage credentials rejected, aborting upload")
				summary.Fail(o.Key, err)
				return done, summary, fmt.Errorf("upload aborted: %w", err)
			}
			w.logger.Error().Err(err).Str("path", o.Path).Str("key", o.Key).Msg("Upload failed")
			summary.Fail(o.Key, err)
			continue
		}

		w.logger.Info().
			Str("path", o.Path).
			Str("target", target).
			Int64("bytes", n).
			Dur("duration", time.Since(start)).
			Msg("Uploaded")
		done = append(done, Transfer{Source: o.Path, Target: target, Bytes: n})
		summary.Success(o.Key)
	}
	return done, summary, nil
}

// CleanupBucket deletes every object under prefix from the backend and
// returns the number of objects removed.
func CleanupBucket(ctx context.Context, backend storage.Backend, prefix string) (int, error) {
	keys, err := backend.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list objects: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := backend.DeleteBatch(ctx, keys); err != nil {
		return 0, fmt.Errorf("failed to delete objects: %w", err)
	}
	return len(keys), nil
}
