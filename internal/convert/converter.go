package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/basekick-labs/lakebench/internal/database"
	"github.com/basekick-labs/lakebench/pkg/models"
	"github.com/rs/zerolog"
)

// Converter turns one raw file into Parquet under an output directory.
type Converter interface {
	Name() string
	// Convert writes the Parquet output for f and returns its path, a file
	// for flat output or a directory for partitioned output.
	Convert(ctx context.Context, f RawFile) (string, error)
	Close() error
}

// Options configures a converter.
type Options struct {
	OutputDir       string
	Schema          Schema
	Compression     string
	UseDictionary   bool
	WriteStatistics bool
	BatchRows       int
	SampleRows      int
	PartitionSize   int64
	SourceEncoding  string
	TempDir         string
}

// OptionsFromConfig builds converter options from configuration.
func OptionsFromConfig(cfg *config.ConvertConfig, outputDir string, schema Schema) (Options, error) {
	partitionSize, err := config.ParseSize(cfg.PartitionSize)
	if err != nil {
		return Options{}, fmt.Errorf("invalid partition size: %w", err)
	}
	return Options{
		OutputDir:       outputDir,
		Schema:          schema,
		Compression:     cfg.Compression,
		UseDictionary:   cfg.UseDictionary,
		WriteStatistics: cfg.WriteStatistics,
		BatchRows:       cfg.BatchRows,
		SampleRows:      cfg.SampleRows,
		PartitionSize:   partitionSize,
		SourceEncoding:  cfg.SourceEncoding,
		TempDir:         cfg.TempDir,
	}, nil
}

// New creates the converter for engine ("arrow" or "duckdb").
func New(engine string, opts Options, dbCfg *config.DatabaseConfig, logger zerolog.Logger) (Converter, error) {
	switch strings.ToLower(engine) {
	case "arrow", "":
		return NewArrowConverter(opts, logger), nil
	case "duckdb":
		db, err := database.New(&database.Config{
			MemoryLimit:   dbCfg.MemoryLimit,
			ThreadCount:   dbCfg.ThreadCount,
			TempDirectory: opts.TempDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		return NewDuckDBConverter(db, opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported conversion engine: %s", engine)
	}
}

// ConvertAll converts files in order. A failed file is logged and recorded
// and the remaining files are still converted.
func ConvertAll(ctx context.Context, conv Converter, files []RawFile, logger zerolog.Logger) (*models.Summary, error) {
	log := logger.With().Str("component", "convert").Str("engine", conv.Name()).Logger()
	summary := &models.Summary{}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := time.Now()
		out, err := conv.Convert(ctx, f)
		if err != nil {
			log.Error().Err(err).Str("path", f.Path).Str("table", f.Table).Msg("Failed to convert file")
			summary.Fail(f.Table, err)
			continue
		}

		log.Info().
			Str("path", f.Path).
			Str("output", out).
			Dur("duration", time.Since(start)).
			Msg("Converted file")
		summary.Success(f.Table)
	}
	return summary, nil
}

// Output is one Parquet file ready for upload.
type Output struct {
	Table string
	Path  string
	Key   string // Object key: <table>/<file> or <table>/<path within the partition directory>
}

// ListOutputs finds the Parquet outputs in dir. Top-level <table>.parquet
// files map to <table>/<table>.parquet; Parquet files inside a table
// directory keep their relative path under <table>/.
func ListOutputs(dir string) ([]Output, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var outputs []Output
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)

		if !e.IsDir() {
			if strings.HasSuffix(name, ".parquet") {
				table := strings.TrimSuffix(name, ".parquet")
				outputs = append(outputs, Output{Table: table, Path: path, Key: table + "/" + name})
			}
			continue
		}

		table := TableName(name)
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".parquet") {
				return nil
			}
			rel, err := filepath.Rel(path, p)
			if err != nil {
				return err
			}
			outputs = append(outputs, Output{Table: table, Path: p, Key: table + "/" + filepath.ToSlash(rel)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Key < outputs[j].Key })
	return outputs, nil
}
