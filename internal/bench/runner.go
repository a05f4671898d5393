package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// labelTime is the timestamp layout used in run labels
const labelTime = "20060102-150405"

// Config holds the runner configuration
type Config struct {
	QueriesDir  string
	ResultsDir  string
	ResultsFile string   // results log file name inside ResultsDir
	Context     []string // SQL context every query runs in
	Logger      zerolog.Logger
	Now         func() time.Time // defaults to time.Now
}

// ConfigFrom derives the runner configuration from the loaded config. Queries
// run in engine.context when set, otherwise in the Iceberg catalog.
func ConfigFrom(cfg *config.Config, logger zerolog.Logger) *Config {
	sqlContext := cfg.Engine.Context
	if len(sqlContext) == 0 && cfg.Lakehouse.Catalog != "" {
		sqlContext = []string{cfg.Lakehouse.Catalog}
	}
	return &Config{
		QueriesDir:  cfg.Bench.QueriesDir,
		ResultsDir:  cfg.Bench.ResultsDir,
		ResultsFile: cfg.Bench.ResultsFile,
		Context:     sqlContext,
		Logger:      logger,
	}
}

// RunOptions selects how a run is labelled
type RunOptions struct {
	Reflections bool // the run measures the engine with reflections deployed
}

// Run is the outcome of one pass over the query set
type Run struct {
	ID          string    `json:"run_id"`
	Label       string    `json:"label"`
	Reflections bool      `json:"reflections"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Queries     int       `json:"queries"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	ResultsLog  string    `json:"results_log"`

	Results []models.QueryResult `json:"-"`
}

// RunLabel is the label prefix of a run started at t, for example
// run-20240501-120000-wref or run-noref-20240501-120000.
func RunLabel(t time.Time, reflections bool) string {
	ts := t.Format(labelTime)
	if reflections {
		return "run-" + ts + "-wref"
	}
	return "run-noref-" + ts
}

// Runner executes the query set sequentially
type Runner struct {
	cfg    *Config
	client *engine.Client
	logger zerolog.Logger
}

// NewRunner creates a new benchmark runner
func NewRunner(cfg *Config, client *engine.Client) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger.With().Str("component", "bench-runner").Logger(),
	}
}

// ResultsLogPath is where results are appended.
func (r *Runner) ResultsLogPath() string {
	return filepath.Join(r.cfg.ResultsDir, r.cfg.ResultsFile)
}

// Run executes every query once and appends a row per query to the results
// log. A failed query is recorded and the run continues; only rejected
// credentials, a cancelled context or an unwritable log stop it early.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Run, error) {
	queries, err := QuerySet(r.cfg.QueriesDir)
	if err != nil {
		return nil, err
	}

	log, err := OpenResultLog(r.ResultsLogPath())
	if err != nil {
		return nil, err
	}
	defer log.Close()

	started := r.cfg.Now()
	run := &Run{
		ID:          uuid.New().String(),
		Label:       RunLabel(started, opts.Reflections),
		Reflections: opts.Reflections,
		StartedAt:   started,
		Queries:     len(queries),
		ResultsLog:  log.Path(),
	}

	r.logger.Info().
		Str("run_id", run.ID).
		Str("label", run.Label).
		Int("queries", len(queries)).
		Msg("Starting benchmark run")

	runErr := r.execute(ctx, run, queries, log)

	run.FinishedAt = r.cfg.Now()
	if err := r.writeManifest(run); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to write run manifest")
	}

	r.logger.Info().
		Str("run_id", run.ID).
		Int("succeeded", run.Succeeded).
		Int("failed", run.Failed).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Benchmark run finished")

	return run, runErr
}

func (r *Runner) execute(ctx context.Context, run *Run, queries []Query, log *ResultLog) error {
	for _, q := range queries {
		result := models.QueryResult{Label: run.Label + "-" + q.Name}

		res, err := r.client.Execute(ctx, q.SQL, r.cfg.Context)
		if res != nil {
			result.Elapsed = res.Elapsed
			result.Bytes = res.BytesReceived
			result.SentBytes = res.BytesSent
			result.JobID = res.JobID
			result.State = string(res.State)
			result.Error = res.ErrorMessage
		}
		if err != nil {
			if errors.Is(err, engine.ErrAuthentication) || ctx.Err() != nil {
				return err
			}
			if result.Error == "" {
				result.Error = err.Error()
			}
			r.logger.Error().
				Err(err).
				Str("query", q.Name).
				Str("job_id", result.JobID).
				Str("state", result.State).
				Msg("Query failed")
			run.Failed++
		} else {
			result.Success = true
			run.Succeeded++
			r.logger.Info().
				Str("query", q.Name).
				Str("job_id", result.JobID).
				Dur("duration", result.Elapsed.Round(time.Millisecond)).
				Int64("rows", res.RowCount).
				Msg("Query completed")
		}

		run.Results = append(run.Results, result)
		if err := log.Write(result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) writeManifest(run *Run) error {
	dir := filepath.Join(r.cfg.ResultsDir, "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, run.ID+".json"), append(data, '\n'), 0644)
}

// RunMany executes n runs back to back. Runs are labelled by their start
// second, so consecutive runs wait for the next second when needed.
func (r *Runner) RunMany(ctx context.Context, n int, opts RunOptions) ([]*Run, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of runs must be at least 1, got %d", n)
	}

	var runs []*Run
	var last string
	for i := 0; i < n; i++ {
		if err := r.waitNewLabel(ctx, last, opts); err != nil {
			return runs, err
		}

		run, err := r.Run(ctx, opts)
		if run != nil {
			runs = append(runs, run)
			last = run.Label
		}
		if err != nil {
			return runs, err
		}
		r.logger.Info().Int("run", i+1).Int("of", n).Msg("Run completed")
	}
	return runs, nil
}

func (r *Runner) waitNewLabel(ctx context.Context, last string, opts RunOptions) error {
	for last != "" && RunLabel(r.cfg.Now(), opts.Reflections) == last {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// Ping runs sql, or the first query of the set when sql is empty, and waits
// for it to finish.
func (r *Runner) Ping(ctx context.Context, sql string) (*engine.JobResult, error) {
	if sql == "" {
		queries, err := QuerySet(r.cfg.QueriesDir)
		if err != nil {
			return nil, err
		}
		sql = queries[0].SQL
	}

	res, err := r.client.Execute(ctx, CleanSQL(sql), r.cfg.Context)
	if err != nil {
		return res, err
	}
	r.logger.Info().
		Str("job_id", res.JobID).
		Int64("rows", res.RowCount).
		Dur("duration", res.Elapsed.Round(time.Millisecond)).
		Msg("Engine connection OK")
	return res, nil
}
