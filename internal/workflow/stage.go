package workflow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"comfybatch/internal/graph"
	"comfybatch/internal/logging"
	"comfybatch/internal/planner"
	"comfybatch/internal/services"
)

// runStage builds and renders one stage. Only build and template errors are
// returned; job failures land in the outcomes.
func (r *Runner) runStage(ctx context.Context, stage planner.Stage, prior []planner.Outcome, runStarted time.Time) ([]planner.Outcome, error) {
	ctx = services.WithStage(ctx, stage.Name)
	logger := logging.WithContext(ctx, r.logger)

	jobs, err := stage.Build(prior)
	if err != nil {
		return nil, err
	}
	tmpl, err := graph.Load(stage.Workflow.TemplatePath)
	if err != nil {
		return nil, err
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_started"),
		logging.String("workflow", stage.Workflow.Name),
		logging.String("category", stage.Category),
		logging.Int("jobs", len(jobs)),
	)
	r.observeStage(stage, len(jobs))

	outcomes := make([]planner.Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i] = planner.Outcome{Job: job, Status: planner.StatusSkipped}
	}

	exec := func(i int) {
		outcome := r.runJob(ctx, stage, tmpl, jobs[i], runStarted)
		outcomes[i] = outcome
		r.observeJob(stage, outcome)
	}

	if r.concurrency <= 1 {
		for i := range jobs {
			if ctx.Err() != nil {
				break
			}
			exec(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.concurrency)
		for i := range jobs {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				exec(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	skipped := 0
	for _, outcome := range outcomes {
		if outcome.Status == planner.StatusSkipped {
			skipped++
			r.record(ctx, logger, stage, outcome, jobRecord{})
		}
	}
	if skipped > 0 {
		logger.Warn("stage cancelled before all jobs were dispatched",
			logging.String(logging.FieldEventType, "stage_cancelled"),
			logging.Int("skipped", skipped),
		)
	}
	return outcomes, nil
}
