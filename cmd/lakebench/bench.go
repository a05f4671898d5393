package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/basekick-labs/lakebench/internal/bench"
	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/internal/logger"
	"github.com/basekick-labs/lakebench/internal/results"
	"github.com/basekick-labs/lakebench/internal/shutdown"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) benchCommand() *cobra.Command {
	return group("bench", "Run the benchmark, deploy reflections and validate results",
		a.benchRunCommand(),
		a.benchReflectionsCommand(),
		a.benchPingCommand(),
		a.benchFlightCommand(),
		a.benchValidateCommand(),
	)
}

func (a *app) runner(ctx context.Context) (*bench.Runner, error) {
	client, err := a.newEngineClient(ctx)
	if err != nil {
		return nil, err
	}
	return bench.NewRunner(bench.ConfigFrom(a.cfg, logger.Get("bench")), client), nil
}

func (a *app) benchRunCommand() *cobra.Command {
	var reflections bool
	var runs int
	var schedule string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every benchmark query and append the results to the results log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.runner(ctx)
			if err != nil {
				return err
			}
			opts := bench.RunOptions{Reflections: reflections}

			if schedule != "" {
				return a.scheduledRuns(ctx, r, opts, schedule, runs)
			}

			done, err := r.RunMany(ctx, runs, opts)
			for _, run := range done {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d queries, %d succeeded, %d failed\n",
					run.Label, run.Queries, run.Succeeded, run.Failed)
			}
			if err != nil {
				if informational(err, bench.ErrNoQueries) {
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "results: %s\n", r.ResultsLogPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&reflections, "reflections", false, "label the runs as measured with reflections deployed")
	cmd.Flags().IntVar(&runs, "runs", 1, "number of runs (with --schedule, 0 runs until interrupted)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule for runs, e.g. \"@every 30m\" or \"0 * * * *\"")
	return cmd
}

// scheduledRuns triggers runs on a cron schedule until maxRuns completed or
// the command is interrupted.
func (a *app) scheduledRuns(ctx context.Context, r *bench.Runner, opts bench.RunOptions, schedule string, maxRuns int) error {
	s, err := bench.NewScheduler(&bench.SchedulerConfig{
		Runner:   r,
		Options:  opts,
		Schedule: schedule,
		MaxRuns:  maxRuns,
		Logger:   logger.Get("bench"),
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	a.shutdown.RegisterHook("scheduler", func(context.Context) error {
		s.Stop()
		return nil
	}, shutdown.PriorityScheduler)

	if err := s.Start(ctx); err != nil {
		return err
	}
	err = s.Wait(ctx)
	log.Info().Int("runs", s.Completed()).Msg("Scheduled runs finished")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) benchReflectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reflections",
		Short: "Create the reflections the engine recommends for every query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.runner(cmd.Context())
			if err != nil {
				return err
			}
			report, err := r.DeployReflections(cmd.Context())
			if report != nil {
				printSummary(cmd, "queries", &report.Queries)
				printSummary(cmd, "reflections", &report.Reflections)
			}
			if err != nil && informational(err, bench.ErrNoQueries) {
				return nil
			}
			return err
		},
	}
}

func (a *app) benchPingCommand() *cobra.Command {
	var sql string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Run one statement through the REST API and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.runner(cmd.Context())
			if err != nil {
				return err
			}
			res, err := r.Ping(cmd.Context(), sql)
			if err != nil {
				if informational(err, bench.ErrNoQueries) {
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s: %d rows in %s\n",
				res.JobID, res.State, res.RowCount, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&sql, "sql", "", "statement to run (default: the first benchmark query)")
	return cmd
}

func (a *app) benchFlightCommand() *cobra.Command {
	var sql string

	cmd := &cobra.Command{
		Use:   "flight",
		Short: "Run one statement over Arrow Flight SQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			rows, err := engine.FlightPing(cmd.Context(), engine.FlightConfigFrom(&a.cfg.Engine), sql, logger.Get("flight"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows in %s\n", rows, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&sql, "sql", "SELECT 1", "statement to run")
	return cmd
}

func (a *app) benchValidateCommand() *cobra.Command {
	var input, outDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the results log and write the processed results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				input = filepath.Join(a.cfg.Bench.ResultsDir, a.cfg.Bench.ResultsFile)
			}
			if outDir == "" {
				outDir = a.cfg.Bench.ResultsDir
			}

			report, path, err := results.Process(input, outDir, results.ExpectationsFrom(&a.cfg.Bench), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			fmt.Fprintf(cmd.OutOrStdout(), "written: %s\n", path)
			if !report.Passed() {
				for _, p := range report.Problems {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
				}
				return fmt.Errorf("results validation failed with %d problems", len(report.Problems))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "results log (default: <results_dir>/<results_file>)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: bench.results_dir)")
	return cmd
}
