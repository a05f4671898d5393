package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/basekick-labs/lakebench/internal/database"
	"github.com/rs/zerolog"
)

// PartitionColumn is the synthetic column the duckdb engine partitions on.
const PartitionColumn = "partition_key"

// DuckDBConverter converts a raw file into a hive-partitioned directory
// <output_dir>/<table>/partition_key=<k>/ spreading rows round-robin over
// max(1, size/partition_size) partitions.
type DuckDBConverter struct {
	db     *database.DuckDB
	opts   Options
	logger zerolog.Logger
}

// NewDuckDBConverter creates a DuckDBConverter over an open DuckDB.
func NewDuckDBConverter(db *database.DuckDB, opts Options, logger zerolog.Logger) *DuckDBConverter {
	if opts.PartitionSize <= 0 {
		opts.PartitionSize = 128 * 1024 * 1024
	}
	return &DuckDBConverter{
		db:     db,
		opts:   opts,
		logger: logger.With().Str("component", "duckdb-converter").Logger(),
	}
}

func (c *DuckDBConverter) Name() string { return "duckdb" }

func (c *DuckDBConverter) Close() error { return c.db.Close() }

// Partitions returns the partition count for a file of the given size.
func Partitions(size, partitionSize int64) int64 {
	if partitionSize <= 0 {
		return 1
	}
	n := size / partitionSize
	if n < 1 {
		return 1
	}
	return n
}

// readCSV renders the read_csv table function for f.
func (c *DuckDBConverter) readCSV(f RawFile) string {
	opts := []string{
		fmt.Sprintf("'%s'", database.EscapeString(f.Path)),
		fmt.Sprintf("delim='%c'", Delimiter),
		"header=false",
		"null_padding=true",
		"nullstr=''",
	}
	if isLatin1(c.opts.SourceEncoding) {
		opts = append(opts, "encoding='latin-1'")
	}
	return "read_csv(" + strings.Join(opts, ", ") + ")"
}

// Convert writes the partitioned output directory for f.
func (c *DuckDBConverter) Convert(ctx context.Context, f RawFile) (string, error) {
	source := c.readCSV(f)

	columns, err := c.describe(ctx, source)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%s has no columns", f.Path)
	}

	// A delimiter at the end of every line yields a final all-NULL column
	if len(columns) > 1 {
		empty, err := c.allNull(ctx, source, columns[len(columns)-1])
		if err != nil {
			return "", err
		}
		if empty {
			columns = columns[:len(columns)-1]
		}
	}

	names := c.opts.Schema.ColumnNames(f.Table, len(columns), c.logger)
	selects := make([]string, len(columns))
	for i, col := range columns {
		selects[i] = database.QuoteIdent(col) + " AS " + database.QuoteIdent(names[i])
	}

	partitions := Partitions(f.Size, c.opts.PartitionSize)
	outDir := filepath.Join(c.opts.OutputDir, f.Table)
	if err := os.RemoveAll(outDir); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", outDir, err)
	}
	if err := os.MkdirAll(c.opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	query := fmt.Sprintf(
		"COPY (SELECT %s, (row_number() OVER () - 1) %% %d AS %s FROM %s) TO '%s' (FORMAT parquet, PARTITION_BY (%s), COMPRESSION '%s')",
		strings.Join(selects, ", "), partitions, PartitionColumn, source,
		database.EscapeString(outDir), PartitionColumn, duckdbCompression(c.opts.Compression))

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return "", fmt.Errorf("failed to convert %s: %w", f.Path, err)
	}

	c.logger.Info().
		Str("table", f.Table).
		Int64("partitions", partitions).
		Str("output", outDir).
		Msg("Wrote partitioned Parquet")
	return outDir, nil
}

func (c *DuckDBConverter) describe(ctx context.Context, source string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, fmt.Errorf("failed to describe input: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan column description: %w", err)
		}
		names = append(names, fmt.Sprint(values[0]))
	}
	return names, rows.Err()
}

func (c *DuckDBConverter) allNull(ctx context.Context, source, column string) (bool, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT count(%s) FROM %s", database.QuoteIdent(column), source))
	if err != nil {
		return false, fmt.Errorf("failed to inspect trailing column: %w", err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n == 0, rows.Err()
}

func duckdbCompression(name string) string {
	switch name {
	case "gzip", "zstd":
		return name
	case "none", "uncompressed":
		return "uncompressed"
	default:
		return "snappy"
	}
}
