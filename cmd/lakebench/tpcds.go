package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/basekick-labs/lakebench/internal/convert"
	"github.com/basekick-labs/lakebench/internal/logger"
	"github.com/basekick-labs/lakebench/internal/shutdown"
	"github.com/basekick-labs/lakebench/internal/tpcds"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) tpcdsCommand() *cobra.Command {
	return group("tpcds", "Generate, convert and upload TPC-DS data, and prepare its queries",
		a.tpcdsGenerateCommand(),
		a.tpcdsUploadCommand(),
		a.tpcdsCleanupCommand(),
		a.tpcdsSplitCommand(),
		a.tpcdsFixTemplatesCommand(),
		a.tpcdsEncodingCommand(),
	)
}

func (a *app) workspace() *tpcds.Workspace {
	return tpcds.NewWorkspace(&a.cfg.TPCDS, logger.Get("tpcds"))
}

func (a *app) tpcdsGenerateCommand() *cobra.Command {
	var scale int
	var yes bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate raw TPC-DS data with dsdgen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := a.workspace()
			question := fmt.Sprintf("Generate TPC-DS data at scale %d (about %d GB) into %s?", scale, scale, w.RawDir)
			if !yes && !confirm(cmd, question) {
				log.Info().Msg("Data generation cancelled")
				return nil
			}
			if err := w.Generate(cmd.Context(), scale); err != nil {
				return err
			}
			log.Info().Int("scale", scale).Str("path", w.RawDir).Msg("Data generation complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&scale, "scale", 1, "scale factor, roughly the data size in GB")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) tpcdsUploadCommand() *cobra.Command {
	var test, duckdb bool
	var customDir string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Convert raw files to Parquet and upload them to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			convCfg := a.cfg.Convert
			if duckdb {
				convCfg.Engine = "duckdb"
			}
			if customDir != "" {
				convCfg.TempDir = customDir
			}
			if err := convCfg.Validate(); err != nil {
				return err
			}

			backend, err := a.newBackend()
			if err != nil {
				return err
			}

			opts := tpcds.UploadOptions{Test: test, Backend: backend}
			if !test {
				schema, err := convert.LoadSchema(a.cfg.TPCDS.SchemaFile)
				if err != nil {
					return err
				}
				convOpts, err := convert.OptionsFromConfig(&convCfg, a.cfg.TPCDS.ParquetDir, schema)
				if err != nil {
					return err
				}
				conv, err := convert.New(convCfg.Engine, convOpts, &a.cfg.Database, logger.Get("convert"))
				if err != nil {
					return err
				}
				a.shutdown.Register("converter", conv, shutdown.PriorityConverter)
				opts.Converter = conv
			}

			report, err := a.workspace().Upload(cmd.Context(), opts)
			if err != nil {
				if informational(err, tpcds.ErrNothingToConvert, tpcds.ErrNothingToUpload) {
					return nil
				}
				return err
			}

			if test {
				for _, t := range report.Plan {
					fmt.Fprintln(cmd.OutOrStdout(), t.String())
				}
				return nil
			}
			log.Info().
				Str("conversion", report.Conversion.String()).
				Str("upload", report.Upload.String()).
				Msg("Upload complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "list source and target of every file without converting or uploading")
	cmd.Flags().BoolVar(&duckdb, "duckdb", false, "convert with DuckDB into partitioned output")
	cmd.Flags().StringVar(&customDir, "custom-dir", "", "temporary directory for the conversion engine")
	return cmd
}

func (a *app) tpcdsCleanupCommand() *cobra.Command {
	var yes, bucket bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete generated raw files and Parquet outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := a.workspace()
			question := fmt.Sprintf("Delete raw files in %s and Parquet files in %s?", w.RawDir, w.ParquetDir)
			if bucket {
				question = fmt.Sprintf("Delete raw files in %s, Parquet files in %s and all uploaded objects?", w.RawDir, w.ParquetDir)
			}
			if !yes && !confirm(cmd, question) {
				log.Info().Msg("Cleanup cancelled")
				return nil
			}

			result, err := w.Cleanup()
			if err != nil {
				return err
			}
			log.Info().
				Int("raw_files", result.RawFiles).
				Int("parquet_files", result.ParquetFiles).
				Msg("Local cleanup complete")

			if bucket {
				backend, err := a.newBackend()
				if err != nil {
					return err
				}
				n, err := tpcds.CleanupBucket(cmd.Context(), backend, "")
				if err != nil {
					return err
				}
				log.Info().Int("objects", n).Str("bucket", backend.URI("")).Msg("Bucket cleanup complete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&bucket, "bucket", false, "also delete uploaded Parquet objects from the bucket")
	return cmd
}

func (a *app) tpcdsSplitCommand() *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a combined query file into one file per query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = a.cfg.TPCDS.QueriesDir
			}
			if input == "" {
				input = filepath.Join(a.cfg.TPCDS.QueriesDir, "query_0.sql")
			}
			written, err := tpcds.SplitQueries(input, output)
			if err != nil {
				return err
			}
			if len(written) == 0 {
				log.Info().Str("path", input).Msg("No queries found")
				return nil
			}
			log.Info().Int("queries", len(written)).Str("path", output).Msg("Queries split")
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "combined query file (default: <queries_dir>/query_0.sql)")
	cmd.Flags().StringVar(&output, "out", "", "output directory (default: tpcds.queries_dir)")
	return cmd
}

func (a *app) tpcdsFixTemplatesCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "fix-templates",
		Short: "Rewrite query templates into the engine's SQL dialect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = filepath.Join(a.cfg.TPCDS.KitDir, "query_templates")
			}
			lg := logger.Get("templates")

			rewritten, err := tpcds.FixTemplates(dir, tpcds.DefaultTemplateFixes, lg)
			if err != nil {
				return err
			}
			log.Info().Int("templates", len(rewritten)).Str("path", dir).Msg("Templates rewritten")

			multi, err := tpcds.MultiQueryTemplates(dir, lg)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(multi))
			for name := range multi {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d queries\n", name, multi[name])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "query template directory (default: <kit_dir>/query_templates)")
	return cmd
}

func (a *app) tpcdsEncodingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encoding",
		Short: "Report the detected encoding of every raw file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			encodings, err := convert.CheckEncodings(a.cfg.TPCDS.RawDir)
			if err != nil {
				return err
			}
			if len(encodings) == 0 {
				log.Info().Str("path", a.cfg.TPCDS.RawDir).Msg("No raw files found")
				return nil
			}
			for _, e := range encodings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", e.Name, e.Encoding)
			}
			return nil
		},
	}
}
