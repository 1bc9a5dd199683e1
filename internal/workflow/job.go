package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"comfybatch/internal/comfy"
	"comfybatch/internal/graph"
	"comfybatch/internal/ledger"
	"comfybatch/internal/logging"
	"comfybatch/internal/planner"
	"comfybatch/internal/services"
	"comfybatch/internal/textutil"
)

const artifactTimeLayout = "20060102_150405"

// ArtifactPath returns where a job's artifact is written:
// {output}/{category}/{influencer}/{run start}_{index}.{ext}. The run start
// time is shared by every job of a run and the index is unique per stage, and
// stages of one run never share a category.
func ArtifactPath(outputBase, category string, job planner.Job, runStarted time.Time, extension string) string {
	name := fmt.Sprintf("%s_%04d.%s", runStarted.Format(artifactTimeLayout), job.Index, extension)
	return filepath.Join(outputBase, category, textutil.DirName(job.Influencer), name)
}

type jobRecord struct {
	result   comfy.Result
	started  time.Time
	finished time.Time
}

func (r *Runner) runJob(ctx context.Context, stage planner.Stage, tmpl *graph.Template, job planner.Job, runStarted time.Time) planner.Outcome {
	ctx = services.WithJobIndex(services.WithInfluencer(ctx, job.Influencer), job.Index)
	logger := logging.WithContext(ctx, r.logger)
	record := jobRecord{started: r.now()}

	dest := ArtifactPath(r.outputBase, stage.Category, job, runStarted, stage.Workflow.Extension)
	outcome := planner.Outcome{Job: job}

	result, err := r.render(ctx, stage, tmpl, job, dest)
	record.result = result
	record.finished = r.now()
	outcome.RemotePath = result.RemotePath

	switch {
	case err == nil:
		outcome.Status = planner.StatusSucceeded
		outcome.Artifact = dest
		logger.Info("job succeeded",
			logging.String(logging.FieldEventType, "job_succeeded"),
			logging.String("job", job.Describe()),
			logging.String("artifact", dest),
			logging.Duration("elapsed", record.finished.Sub(record.started)),
		)
	case ctx.Err() != nil:
		outcome.Status = planner.StatusInterrupted
		outcome.Err = err
		logger.Warn("job interrupted",
			logging.String(logging.FieldEventType, "job_interrupted"),
			logging.String("job", job.Describe()),
		)
	default:
		outcome.Status = planner.StatusFailed
		outcome.Err = err
		logger.Warn("job failed",
			logging.String(logging.FieldEventType, "job_failed"),
			logging.String("job", job.Describe()),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, errorHint(err)),
			logging.Error(err),
		)
	}
	r.record(ctx, logger, stage, outcome, record)
	return outcome
}

// render binds a private clone of tmpl and renders it to dest.
func (r *Runner) render(ctx context.Context, stage planner.Stage, tmpl *graph.Template, job planner.Job, dest string) (comfy.Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return comfy.Result{}, services.Wrap(services.ErrDownload, "runner", "prepare output", filepath.Dir(dest), err)
	}
	instance := tmpl.Clone()
	if err := r.binder.Bind(ctx, instance, stage.Workflow.Bindings, job.Inputs()); err != nil {
		return comfy.Result{}, err
	}
	return r.renderer.Render(ctx, instance, comfy.Target{
		OutputNode:  stage.Workflow.OutputNode,
		OutputKind:  stage.Workflow.OutputKind,
		Destination: dest,
	})
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, stage planner.Stage, outcome planner.Outcome, rec jobRecord) {
	if r.recorder == nil {
		return
	}
	runID, _ := services.RunIDFromContext(ctx)
	job := outcome.Job
	entry := ledger.Job{
		RunID:        runID,
		Stage:        stage.Name,
		Index:        job.Index,
		Kind:         string(job.Kind),
		Influencer:   job.Influencer,
		Video:        job.Video,
		Background:   job.Background,
		Person:       job.Person,
		Prompt:       job.Prompt,
		Seed:         job.Seed,
		Status:       string(outcome.Status),
		PromptID:     rec.result.PromptID,
		RemotePath:   outcome.RemotePath,
		ArtifactPath: outcome.Artifact,
		Bytes:        rec.result.Bytes,
		SHA256:       rec.result.SHA256,
		StartedAt:    rec.started,
		FinishedAt:   rec.finished,
	}
	if outcome.Err != nil {
		entry.ErrorKind = services.Kind(outcome.Err)
		entry.ErrorMessage = outcome.Err.Error()
	}
	if err := r.recorder.RecordJob(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("ledger record failed", logging.Error(err))
	}
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return "check the workflow definition and run 'comfybatch config validate'"
	case errors.Is(err, services.ErrNotFound):
		return "check that the configured input folders exist"
	case errors.Is(err, services.ErrTemplateBinding):
		return "check the workflow inputs against the template node ids"
	case errors.Is(err, services.ErrSubmission):
		return "the engine rejected the graph; inspect node_errors in the engine log"
	case errors.Is(err, services.ErrExecution):
		return "the engine failed while executing; inspect the engine log"
	case errors.Is(err, services.ErrDownload):
		return "check free space in the output directory and the engine output folder"
	case errors.Is(err, services.ErrTimeout):
		return "raise engine.timeout_seconds or check that the engine queue is moving"
	default:
		return "check that the engine is reachable with 'comfybatch check'"
	}
}
