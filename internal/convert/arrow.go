package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// ArrowConverter converts a raw file into a single <table>.parquet file,
// inferring column types from a sample of rows.
type ArrowConverter struct {
	opts        Options
	compression compress.Compression
	mem         memory.Allocator
	logger      zerolog.Logger
}

// NewArrowConverter creates an ArrowConverter
func NewArrowConverter(opts Options, logger zerolog.Logger) *ArrowConverter {
	if opts.BatchRows <= 0 {
		opts.BatchRows = 65536
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 1000
	}
	return &ArrowConverter{
		opts:        opts,
		compression: parseCompression(opts.Compression),
		mem:         memory.NewGoAllocator(),
		logger:      logger.With().Str("component", "arrow-converter").Logger(),
	}
}

func parseCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}

func (c *ArrowConverter) Name() string { return "arrow" }

func (c *ArrowConverter) Close() error { return nil }

// Convert writes <output_dir>/<table>.parquet
func (c *ArrowConverter) Convert(ctx context.Context, f RawFile) (string, error) {
	layout, err := c.inferLayout(f)
	if err != nil {
		return "", err
	}
	if layout == nil {
		return "", fmt.Errorf("%s is empty", f.Path)
	}

	if err := os.MkdirAll(c.opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outPath := filepath.Join(c.opts.OutputDir, f.Table+".parquet")

	// Write next to the target and rename so a failed run leaves no partial file
	tmp, err := os.CreateTemp(c.opts.OutputDir, "."+f.Table+"-*.parquet.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// The Parquet writer closes a sink that implements io.Closer, so it only
	// gets the Write method and the file is closed here, once.
	rows, writeErr := c.write(ctx, f, layout, struct{ io.Writer }{tmp})
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return "", writeErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close %s: %w", tmpPath, closeErr)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename output: %w", err)
	}

	c.logger.Debug().
		Str("table", f.Table).
		Int64("rows", rows).
		Int("columns", len(layout.schema.Fields())).
		Msg("Wrote Parquet file")
	return outPath, nil
}

// layout is the inferred shape of a raw file.
type layout struct {
	schema   *arrow.Schema
	fields   int  // delimited fields per line, including a trailing empty one
	trailing bool // last field is always empty and is dropped
}

// inferLayout samples the first rows of f. It returns nil for an empty file.
func (c *ArrowConverter) inferLayout(f RawFile) (*layout, error) {
	rr, err := openRaw(f, c.opts.SourceEncoding)
	if err != nil {
		return nil, err
	}
	defer rr.Close()

	var sample [][]string
	for len(sample) < c.opts.SampleRows {
		line, err := rr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
		}
		if line == "" {
			continue
		}
		sample = append(sample, splitFields(line))
	}
	if len(sample) == 0 {
		return nil, nil
	}

	width := len(sample[0])
	for i, row := range sample {
		if len(row) != width {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", f.Path, i+1, width, len(row))
		}
	}

	trailing := width > 1
	for _, row := range sample {
		if row[width-1] != "" {
			trailing = false
			break
		}
	}
	n := width
	if trailing {
		n--
	}

	names := c.opts.Schema.ColumnNames(f.Table, n, c.logger)
	fields := make([]arrow.Field, n)
	for i := 0; i < n; i++ {
		fields[i] = arrow.Field{Name: names[i], Type: inferType(sample, i), Nullable: true}
	}

	return &layout{
		schema:   arrow.NewSchema(fields, nil),
		fields:   width,
		trailing: trailing,
	}, nil
}

// inferType picks the narrowest type that parses every non-empty sample value
func inferType(sample [][]string, col int) arrow.DataType {
	isInt, isFloat, isDate, seen := true, true, true, false
	for _, row := range sample {
		v := row[col]
		if v == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
			}
		}
		if isDate {
			if _, err := time.Parse(dateLayout, v); err != nil {
				isDate = false
			}
		}
	}
	switch {
	case !seen:
		return arrow.BinaryTypes.String
	case isInt:
		return arrow.PrimitiveTypes.Int64
	case isFloat:
		return arrow.PrimitiveTypes.Float64
	case isDate:
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

func (c *ArrowConverter) write(ctx context.Context, f RawFile, l *layout, w io.Writer) (int64, error) {
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(c.compression),
		parquet.WithDictionaryDefault(c.opts.UseDictionary),
		parquet.WithStats(c.opts.WriteStatistics),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(l.schema, w, writerProps, arrowProps)
	if err != nil {
		return 0, fmt.Errorf("failed to create Parquet writer: %w", err)
	}

	rr, err := openRaw(f, c.opts.SourceEncoding)
	if err != nil {
		writer.Close()
		return 0, err
	}
	defer rr.Close()

	builder := array.NewRecordBuilder(c.mem, l.schema)
	defer builder.Release()

	flush := func() error {
		record := builder.NewRecord()
		defer record.Release()
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record batch: %w", err)
		}
		return nil
	}

	var rows int64
	batch := 0
	for lineNo := 1; ; lineNo++ {
		line, err := rr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			writer.Close()
			return rows, fmt.Errorf("failed to read %s: %w", f.Path, err)
		}
		if line == "" {
			continue
		}

		values := splitFields(line)
		if len(values) != l.fields {
			writer.Close()
			return rows, fmt.Errorf("%s line %d: expected %d fields, got %d", f.Path, lineNo, l.fields, len(values))
		}
		if err := appendRow(builder, l.schema, values); err != nil {
			writer.Close()
			return rows, fmt.Errorf("%s line %d: %w", f.Path, lineNo, err)
		}

		rows++
		batch++
		if batch >= c.opts.BatchRows {
			if err := ctx.Err(); err != nil {
				writer.Close()
				return rows, err
			}
			if err := flush(); err != nil {
				writer.Close()
				return rows, err
			}
			batch = 0
		}
	}

	if batch > 0 {
		if err := flush(); err != nil {
			writer.Close()
			return rows, err
		}
	}
	if err := writer.Close(); err != nil {
		return rows, fmt.Errorf("failed to close Parquet writer: %w", err)
	}

	if rr.replaced > 0 {
		c.logger.Warn().
			Str("table", f.Table).
			Int64("lines", rr.replaced).
			Msg("Replaced invalid UTF-8 bytes")
	}
	return rows, nil
}

// appendRow appends one line's values. A value past the last column is an
// error: the layout dropped that column because the sample only held empty
// values there.
func appendRow(b *array.RecordBuilder, schema *arrow.Schema, values []string) error {
	fields := schema.Fields()
	for i := len(fields); i < len(values); i++ {
		if values[i] != "" {
			return fmt.Errorf("unexpected value %q in trailing field %d (raise convert.sample_rows)", values[i], i+1)
		}
	}
	for i, field := range fields {
		v := values[i]
		fb := b.Field(i)
		if v == "" {
			fb.AppendNull()
			continue
		}
		switch field.Type.ID() {
		case arrow.INT64:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("column %s: %q is not an integer (raise convert.sample_rows)", field.Name, v)
			}
			fb.(*array.Int64Builder).Append(n)
		case arrow.FLOAT64:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("column %s: %q is not a number (raise convert.sample_rows)", field.Name, v)
			}
			fb.(*array.Float64Builder).Append(n)
		case arrow.DATE32:
			t, err := time.Parse(dateLayout, v)
			if err != nil {
				return fmt.Errorf("column %s: %q is not a date (raise convert.sample_rows)", field.Name, v)
			}
			fb.(*array.Date32Builder).Append(arrow.Date32FromTime(t))
		default:
			fb.(*array.StringBuilder).Append(v)
		}
	}
	return nil
}
