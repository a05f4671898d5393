package main

import (
	"context"
	"fmt"

	"github.com/basekick-labs/lakebench/internal/lakehouse"
	"github.com/basekick-labs/lakebench/internal/logger"
	"github.com/basekick-labs/lakebench/internal/storage"
	"github.com/basekick-labs/lakebench/internal/tables"
	"github.com/basekick-labs/lakebench/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) icebergCommand() *cobra.Command {
	return group("iceberg", "Deploy Iceberg tables, views, sources and samples through the engine",
		a.icebergTablesCommand(),
		a.icebergViewsCommand(),
		a.icebergCleanupCommand(),
		a.icebergSourcesCommand(),
		a.icebergDiscoverCommand(),
		a.icebergSamplesCommand(),
	)
}

// deployer logs in to the engine and builds a lakehouse deployer. backend may
// be nil for commands that never list the bucket.
func (a *app) deployer(ctx context.Context, backend storage.Backend) (*lakehouse.Deployer, error) {
	if err := a.cfg.Lakehouse.Validate(); err != nil {
		return nil, err
	}
	client, err := a.newEngineClient(ctx)
	if err != nil {
		return nil, err
	}
	return lakehouse.New(lakehouse.ConfigFrom(a.cfg, logger.Get("lakehouse")), client, backend), nil
}

func (a *app) tableConfig() (*tables.Config, error) {
	return tables.Load(a.cfg.Lakehouse.TablesFile)
}

func (a *app) icebergTablesCommand() *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Create every Iceberg table from the Parquet files in the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tcfg, err := a.tableConfig()
			if err != nil {
				return err
			}
			d, err := a.deployer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			summary, err := d.DeployTables(cmd.Context(), tcfg, only)
			printSummary(cmd, "tables", summary)
			return err
		},
	}
	cmd.Flags().StringVar(&only, "table", "", "deploy a single table")
	return cmd
}

func (a *app) icebergViewsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "Create one view per benchmark query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deployer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			summary, err := d.CreateViews(cmd.Context())
			printSummary(cmd, "views", summary)
			return err
		},
	}
}

func (a *app) icebergCleanupCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop every Iceberg table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tcfg, err := a.tableConfig()
			if err != nil {
				return err
			}
			question := fmt.Sprintf("Drop %d tables from %s?", len(tcfg.Names()), a.cfg.Lakehouse.Catalog)
			if !yes && !confirm(cmd, question) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cleanup cancelled")
				return nil
			}
			d, err := a.deployer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			summary, err := d.CleanupTables(cmd.Context(), tcfg)
			printSummary(cmd, "dropped tables", summary)
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) icebergSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Create the S3 source and promote every top-level folder to a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.newBackend()
			if err != nil {
				return err
			}
			d, err := a.deployer(cmd.Context(), backend)
			if err != nil {
				return err
			}
			summary, err := d.SetupStorage(cmd.Context())
			printSummary(cmd, "promoted datasets", summary)
			return err
		},
	}
}

func (a *app) icebergDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List the Parquet files the catalog shows for every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tcfg, err := a.tableConfig()
			if err != nil {
				return err
			}
			d, err := a.deployer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			found, summary, err := d.DiscoverFiles(cmd.Context(), tcfg.Names())
			for _, tf := range found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files\n", tf.Table, len(tf.Files))
				for _, f := range tf.Files {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
				}
			}
			printSummary(cmd, "tables", summary)
			return err
		},
	}
}

func (a *app) icebergSamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "Copy the engine's sample datasets into a space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.deployer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			summary, err := d.ImportSamples(cmd.Context())
			printSummary(cmd, "samples", summary)
			return err
		},
	}
}

// printSummary writes a one-line outcome of a batch. Failed units do not make
// the command fail; they are listed here and in the log.
func printSummary(cmd *cobra.Command, what string, s *models.Summary) {
	if s == nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", what, s.String())
}
