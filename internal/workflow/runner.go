package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"comfybatch/internal/binding"
	"comfybatch/internal/comfy"
	"comfybatch/internal/config"
	"comfybatch/internal/graph"
	"comfybatch/internal/ledger"
	"comfybatch/internal/logging"
	"comfybatch/internal/notifications"
	"comfybatch/internal/planner"
	"comfybatch/internal/services"
)

// Renderer submits a bound graph and downloads its artifact.
type Renderer interface {
	Render(ctx context.Context, tmpl *graph.Template, target comfy.Target) (comfy.Result, error)
}

// Binder writes job inputs into a graph.
type Binder interface {
	Bind(ctx context.Context, tmpl *graph.Template, bindings binding.Bindings, inputs map[string]any) error
}

// Recorder persists run and job outcomes.
type Recorder interface {
	BeginRun(ctx context.Context, run ledger.Run) error
	RecordJob(ctx context.Context, job ledger.Job) error
	FinishRun(ctx context.Context, id string, status ledger.RunStatus, counts ledger.Counts, runErr error) error
}

// Observer receives progress callbacks. Calls are serialized by the runner.
type Observer interface {
	StageStarted(stage planner.Stage, total int)
	JobFinished(stage planner.Stage, outcome planner.Outcome)
}

// Runner executes plans.
type Runner struct {
	renderer    Renderer
	binder      Binder
	recorder    Recorder
	notifier    notifications.Service
	observer    Observer
	logger      *slog.Logger
	outputBase  string
	concurrency int
	seed        uint64
	now         func() time.Time

	observeMu sync.Mutex
}

type runnerOptions struct {
	recorder    Recorder
	notifier    notifications.Service
	observer    Observer
	concurrency int
	seed        uint64
	now         func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*runnerOptions)

// WithRecorder stores run and job outcomes in the ledger.
func WithRecorder(recorder Recorder) RunnerOption {
	return func(o *runnerOptions) {
		o.recorder = recorder
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(notifier notifications.Service) RunnerOption {
	return func(o *runnerOptions) {
		o.notifier = notifier
	}
}

// WithObserver registers a progress observer.
func WithObserver(observer Observer) RunnerOption {
	return func(o *runnerOptions) {
		o.observer = observer
	}
}

// WithConcurrency overrides engine.concurrency.
func WithConcurrency(n int) RunnerOption {
	return func(o *runnerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithSeed records the seed the plan was built with.
func WithSeed(seed uint64) RunnerOption {
	return func(o *runnerOptions) {
		o.seed = seed
	}
}

// WithClock overrides the time source used for artifact names and durations.
func WithClock(now func() time.Time) RunnerOption {
	return func(o *runnerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewRunner constructs a runner. The renderer and binder are required.
func NewRunner(cfg *config.Config, renderer Renderer, binder Binder, logger *slog.Logger, opts ...RunnerOption) *Runner {
	options := runnerOptions{
		concurrency: cfg.Engine.Concurrency,
		seed:        cfg.Seed,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.concurrency < 1 {
		options.concurrency = 1
	}
	if options.notifier == nil {
		options.notifier = notifications.NewService(cfg)
	}
	return &Runner{
		renderer:    renderer,
		binder:      binder,
		recorder:    options.recorder,
		notifier:    options.notifier,
		observer:    options.observer,
		logger:      logging.NewComponentLogger(logger, "runner"),
		outputBase:  cfg.Paths.OutputBaseDir,
		concurrency: options.concurrency,
		seed:        options.seed,
		now:         options.now,
	}
}

// Run executes every stage of plan in order. Per-job failures are counted,
// not returned. The returned error is non-nil when a stage could not be built
// or its template loaded (the run is aborted), or when ctx was cancelled; the
// summary is valid in both cases.
func (r *Runner) Run(ctx context.Context, plan planner.Plan) (Summary, error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)
	started := r.now()
	stages := plan.Stages()

	summary := Summary{RunID: runID, Workflow: plan.Name(), Seed: r.seed}
	r.beginRun(ctx, logger, ledger.Run{
		ID:        runID,
		Workflow:  plan.Name(),
		Seed:      r.seed,
		Status:    ledger.RunRunning,
		StartedAt: started,
	})
	logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_started"),
		logging.String("workflow", plan.Name()),
		logging.Int("stages", len(stages)),
		logging.Int("concurrency", r.concurrency),
		logging.Uint64("seed", r.seed),
	)
	if err := r.notifier.NotifyBatchStarted(ctx, plan.Name(), len(stages)); err != nil {
		logger.Warn("batch start notification failed", logging.Error(err))
	}

	var prior []planner.Outcome
	for _, stage := range stages {
		if ctx.Err() != nil {
			break
		}
		outcomes, err := r.runStage(ctx, stage, prior, started)
		if err != nil {
			summary.Duration = r.now().Sub(started)
			r.abort(ctx, logger, summary, stage, err)
			return summary, err
		}
		summary.add(summarizeStage(stage, outcomes))
		prior = outcomes
	}
	summary.Duration = r.now().Sub(started)

	status := ledger.RunCompleted
	var runErr error
	if err := ctx.Err(); err != nil {
		status = ledger.RunInterrupted
		runErr = err
	}
	r.finishRun(ctx, logger, runID, status, summary.counts(), runErr)
	logger.Info("batch finished",
		logging.String(logging.FieldEventType, "batch_finished"),
		logging.String("status", string(status)),
		logging.Int("total", summary.Total),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Int("interrupted", summary.Interrupted),
		logging.Duration("duration", summary.Duration),
	)
	if err := r.notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), plan.Name(), summary.notification()); err != nil {
		logger.Warn("batch completion notification failed", logging.Error(err))
	}
	return summary, runErr
}

func (r *Runner) abort(ctx context.Context, logger *slog.Logger, summary Summary, stage planner.Stage, err error) {
	logger.Error("batch aborted",
		logging.String(logging.FieldEventType, "batch_aborted"),
		logging.String(logging.FieldStage, stage.Name),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String(logging.FieldErrorHint, errorHint(err)),
		logging.Error(err),
	)
	r.finishRun(ctx, logger, summary.RunID, ledger.RunAborted, summary.counts(), err)
	label := fmt.Sprintf("%s (%s)", summary.Workflow, stage.Name)
	if notifyErr := r.notifier.NotifyError(context.WithoutCancel(ctx), err, label); notifyErr != nil {
		logger.Warn("error notification failed", logging.Error(notifyErr))
	}
}

func (r *Runner) beginRun(ctx context.Context, logger *slog.Logger, run ledger.Run) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.BeginRun(ctx, run); err != nil {
		logger.Warn("ledger begin failed", logging.Error(err))
	}
}

func (r *Runner) finishRun(ctx context.Context, logger *slog.Logger, id string, status ledger.RunStatus, counts ledger.Counts, runErr error) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishRun(context.WithoutCancel(ctx), id, status, counts, runErr); err != nil {
		logger.Warn("ledger finish failed", logging.Error(err))
	}
}

func (r *Runner) observeStage(stage planner.Stage, total int) {
	if r.observer == nil {
		return
	}
	r.observeMu.Lock()
	defer r.observeMu.Unlock()
	r.observer.StageStarted(stage, total)
}

func (r *Runner) observeJob(stage planner.Stage, outcome planner.Outcome) {
	if r.observer == nil {
		return
	}
	r.observeMu.Lock()
	defer r.observeMu.Unlock()
	r.observer.JobFinished(stage, outcome)
}
