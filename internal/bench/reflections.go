package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/pkg/models"
)

// ReflectionReport is the outcome of DeployReflections. Queries records one
// unit per query; Reflections one unit per recommendation, named
// <query>#<index>.
type ReflectionReport struct {
	Queries     models.Summary
	Reflections models.Summary
}

// DeployReflections runs every query, asks the engine which reflections would
// accelerate it, and creates them: the recommended view first, then the
// reflection on that view. Any failure skips to the next recommendation or
// query.
func (r *Runner) DeployReflections(ctx context.Context) (*ReflectionReport, error) {
	queries, err := QuerySet(r.cfg.QueriesDir)
	if err != nil {
		return nil, err
	}

	report := &ReflectionReport{}
	for _, q := range queries {
		logger := r.logger.With().Str("query", q.Name).Logger()

		res, err := r.client.Execute(ctx, q.SQL, r.cfg.Context)
		if err != nil {
			if errors.Is(err, engine.ErrAuthentication) || ctx.Err() != nil {
				return report, err
			}
			logger.Error().Err(err).Msg("Skipping query, execution failed")
			report.Queries.Fail(q.Name, err)
			continue
		}

		recs, err := r.client.Recommendations(ctx, []string{res.JobID})
		if err != nil {
			if errors.Is(err, engine.ErrAuthentication) || ctx.Err() != nil {
				return report, err
			}
			logger.Error().Err(err).Str("job_id", res.JobID).Msg("Failed to get recommendations")
			report.Queries.Fail(q.Name, err)
			continue
		}
		report.Queries.Success(q.Name)

		if len(recs) == 0 {
			logger.Info().Str("job_id", res.JobID).Msg("No reflections recommended")
			continue
		}

		for i, rec := range recs {
			name := fmt.Sprintf("%s#%d", q.Name, i)
			reflection, err := r.createRecommended(ctx, rec)
			if err != nil {
				if errors.Is(err, engine.ErrAuthentication) || ctx.Err() != nil {
					return report, err
				}
				logger.Error().Err(err).Int("recommendation", i).Msg("Failed to create recommended reflection")
				report.Reflections.Fail(name, err)
				continue
			}
			logger.Info().
				Str("reflection_id", reflection.ID).
				Str("dataset_id", reflection.DatasetID).
				Msg("Recommended reflection created")
			report.Reflections.Success(name)
		}
	}

	r.logger.Info().
		Str("queries", report.Queries.String()).
		Str("reflections", report.Reflections.String()).
		Msg("Reflection deployment finished")
	return report, nil
}

func (r *Runner) createRecommended(ctx context.Context, rec engine.Recommendation) (*engine.Reflection, error) {
	if len(rec.ViewRequestBody) == 0 {
		return nil, fmt.Errorf("recommendation carries no view definition")
	}

	view, err := r.client.CreateCatalogEntity(ctx, json.RawMessage(rec.ViewRequestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create recommended view: %w", err)
	}
	if view.ID == "" {
		return nil, fmt.Errorf("view creation response carried no id")
	}

	reflection, err := r.client.CreateReflection(ctx, rec.ReflectionRequestBody, view.ID)
	if err != nil {
		return nil, err
	}
	if reflection.DatasetID == "" {
		reflection.DatasetID = view.ID
	}
	return reflection, nil
}
