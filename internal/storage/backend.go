package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/rs/zerolog"
)

// Backend defines the object store the toolkit uploads Parquet files to
type Backend interface {
	// WriteReader writes data from a reader to the specified path (for large files)
	WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error

	// List lists all objects with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// ListDirectories lists immediate "subdirectories" (common prefixes) at a prefix
	ListDirectories(ctx context.Context, prefix string) ([]string, error)

	// Delete deletes the object at the specified path
	Delete(ctx context.Context, path string) error

	// DeleteBatch deletes multiple objects, batching internally where the store supports it
	DeleteBatch(ctx context.Context, paths []string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// Close closes any resources held by the backend
	Close() error

	// Type returns the storage type identifier ("local", "s3", "azure")
	Type() string

	// URI returns a display URI for a path, e.g. s3://bucket/path
	URI(path string) string
}

// New creates the backend selected by cfg.Backend.
func New(cfg *config.StorageConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "s3", "minio":
		return NewS3Backend(&S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, logger)
	case "azure", "azblob":
		return NewAzureBackend(&AzureConfig{
			ConnectionString:   cfg.AzureConnectionString,
			AccountName:        cfg.AzureAccountName,
			AccountKey:         cfg.AzureAccountKey,
			SASToken:           cfg.AzureSASToken,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			Container:          cfg.AzureContainer,
			Endpoint:           cfg.AzureEndpoint,
		}, logger)
	case "local":
		return NewLocalBackend(cfg.LocalPath, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// UploadFile streams a local file to the backend under key.
func UploadFile(ctx context.Context, backend Backend, localPath, key string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	if err := backend.WriteReader(ctx, key, f, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// contentTypeFor picks the object content type from the file extension.
func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".parquet"):
		return "application/vnd.apache.parquet"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".dat"), strings.HasSuffix(path, ".csv"):
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
