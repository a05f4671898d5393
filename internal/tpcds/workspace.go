package tpcds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/basekick-labs/lakebench/internal/convert"
	"github.com/rs/zerolog"
)

// Workspace is the local TPC-DS kit: the dsdgen tools, the raw .dat output
// and the converted Parquet output.
type Workspace struct {
	ToolsDir   string
	RawDir     string
	ParquetDir string
	QueriesDir string
	Compile    bool // Run make in ToolsDir before generating

	logger zerolog.Logger
}

// NewWorkspace creates a workspace from the kit configuration
func NewWorkspace(cfg *config.TPCDSConfig, logger zerolog.Logger) *Workspace {
	return &Workspace{
		ToolsDir:   cfg.ToolsDir,
		RawDir:     cfg.RawDir,
		ParquetDir: cfg.ParquetDir,
		QueriesDir: cfg.QueriesDir,
		Compile:    cfg.Compile,
		logger:     logger.With().Str("component", "tpcds").Logger(),
	}
}

// Generate builds dsdgen (when Compile is set) and generates data at the
// given scale factor, roughly scale GB, into RawDir.
func (w *Workspace) Generate(ctx context.Context, scale int) error {
	if scale <= 0 {
		return fmt.Errorf("scale factor must be positive, got %d", scale)
	}

	rawDir, err := filepath.Abs(w.RawDir)
	if err != nil {
		return fmt.Errorf("failed to resolve raw directory: %w", err)
	}
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		return fmt.Errorf("failed to create raw directory: %w", err)
	}

	if w.Compile {
		w.logger.Info().Str("path", w.ToolsDir).Msg("Compiling dsdgen")
		if err := w.run(ctx, "make"); err != nil {
			return fmt.Errorf("failed to compile dsdgen (is make installed?): %w", err)
		}
		w.logger.Info().Msg("Compilation complete")
	}

	start := time.Now()
	w.logger.Info().Int("scale", scale).Str("path", rawDir).Msg("Generating TPC-DS data")

	dsdgen, err := filepath.Abs(filepath.Join(w.ToolsDir, "dsdgen"))
	if err != nil {
		return fmt.Errorf("failed to resolve dsdgen: %w", err)
	}
	if err := w.run(ctx, dsdgen, "-SCALE", strconv.Itoa(scale), "-FORCE", "-DIR", rawDir); err != nil {
		return fmt.Errorf("data generation failed: %w", err)
	}

	w.logger.Info().
		Str("path", rawDir).
		Dur("duration", time.Since(start)).
		Msg("Data generation complete")
	return nil
}

// run executes a command in ToolsDir, forwarding each line of its output to the log.
func (w *Workspace) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = w.ToolsDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", filepath.Base(name), err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			w.logger.Info().Str("subprocess", filepath.Base(name)).Msg(line)
		}
	}
	if err := scanner.Err(); err != nil {
		w.logger.Warn().Err(err).Str("subprocess", filepath.Base(name)).Msg("Stopped forwarding subprocess output")
	}
	// drain anything left so Wait does not block on a full pipe
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", filepath.Base(name), ctx.Err())
		}
		return fmt.Errorf("%s failed: %w (stderr: %s)", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RawFiles lists the generated files in RawDir.
func (w *Workspace) RawFiles() ([]convert.RawFile, error) {
	return convert.ListRawFiles(w.RawDir)
}

// CleanupResult counts what Cleanup removed.
type CleanupResult struct {
	RawFiles     int
	ParquetFiles int
}

// Cleanup deletes the raw .dat/.dat.gz files and every Parquet output,
// flat files and partition directories alike. Missing directories are fine.
func (w *Workspace) Cleanup() (*CleanupResult, error) {
	result := &CleanupResult{}

	entries, err := os.ReadDir(w.RawDir)
	if err != nil && !os.IsNotExist(err) {
		return result, fmt.Errorf("failed to read %s: %w", w.RawDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !convert.IsRawFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(w.RawDir, e.Name())); err != nil {
			return result, fmt.Errorf("failed to delete %s: %w", e.Name(), err)
		}
		result.RawFiles++
	}
	w.logger.Info().Int("files", result.RawFiles).Str("path", w.RawDir).Msg("Deleted raw files")

	outputs, err := convert.ListOutputs(w.ParquetDir)
	if err != nil {
		return result, err
	}
	dirs := map[string]bool{}
	for _, o := range outputs {
		if err := os.Remove(o.Path); err != nil {
			return result, fmt.Errorf("failed to delete %s: %w", o.Path, err)
		}
		result.ParquetFiles++
		if rel, err := filepath.Rel(w.ParquetDir, o.Path); err == nil {
			if top, _, nested := strings.Cut(filepath.ToSlash(rel), "/"); nested {
				dirs[filepath.Join(w.ParquetDir, top)] = true
			}
		}
	}
	for dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return result, fmt.Errorf("failed to delete %s: %w", dir, err)
		}
	}
	w.logger.Info().Int("files", result.ParquetFiles).Str("path", w.ParquetDir).Msg("Deleted parquet files")

	return result, nil
}
