package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"comfybatch/internal/binding"
	"comfybatch/internal/comfy"
	"comfybatch/internal/config"
	"comfybatch/internal/graph"
	"comfybatch/internal/ledger"
	"comfybatch/internal/logging"
	"comfybatch/internal/media/ffprobe"
	"comfybatch/internal/planner"
	"comfybatch/internal/services"
	"comfybatch/internal/testsupport"
	"comfybatch/internal/workflow"
)

var fixedStart = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newBinder(cfg *config.Config) *binding.Binder {
	return binding.New(ffprobe.Prober{Binary: cfg.FFprobeBinary()}, logging.NewNop())
}

func openLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.OpenPath(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func resolvePlan(t *testing.T, cfg *config.Config) planner.Plan {
	t.Helper()
	plan, err := planner.Resolve(cfg, "", nil, logging.NewNop())
	if err != nil {
		t.Fatalf("resolve plan: %v", err)
	}
	return plan
}

func videoOf(g map[string]any) string {
	return fmt.Sprint(testsupport.InputOf(g, "12", "video"))
}

func TestRunContinuesAfterFailedJob(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.Fail = func(g map[string]any) string {
		if strings.HasSuffix(videoOf(g), "clip_3.mp4") {
			return "CUDA out of memory"
		}
		return ""
	}
	cfg := testsupport.NewConfig(t, testsupport.WithEngineURL(engine.URL()), testsupport.WithoutBackgrounds())
	testsupport.SeedAnimateAssets(t, cfg, 5, 0, map[string]int{"alice": 1})
	store := openLedger(t)

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop(),
		workflow.WithRecorder(store), workflow.WithClock(func() time.Time { return fixedStart }))
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Total != 5 || summary.Succeeded != 4 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := len(engine.Submitted()); got != 5 {
		t.Fatalf("expected 5 submissions, got %d", got)
	}
	outcomes := summary.Stages[0].Outcomes
	if outcomes[2].Status != planner.StatusFailed || !errors.Is(outcomes[2].Err, services.ErrExecution) {
		t.Fatalf("expected job 3 to fail with execution error, got %+v", outcomes[2])
	}
	for _, i := range []int{0, 1, 3, 4} {
		if outcomes[i].Status != planner.StatusSucceeded {
			t.Fatalf("job %d: expected success, got %s (%v)", i+1, outcomes[i].Status, outcomes[i].Err)
		}
		data, err := os.ReadFile(outcomes[i].Artifact)
		if err != nil {
			t.Fatalf("read artifact %d: %v", i+1, err)
		}
		if !strings.HasPrefix(string(data), "artifact:batch/ComfyUI_prompt-") {
			t.Fatalf("unexpected artifact body %q", data)
		}
	}
	want := filepath.Join(cfg.Paths.OutputBaseDir, "v2v", "alice", "20260314_092653_0003.mp4")
	if outcomes[3].Artifact != want {
		t.Fatalf("artifact path = %q, want %q", outcomes[3].Artifact, want)
	}

	run, err := store.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != ledger.RunCompleted || run.Counts.Failed != 1 || run.Counts.Succeeded != 4 {
		t.Fatalf("unexpected ledger run: %+v", run)
	}
	jobs, err := store.RunJobs(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("run jobs: %v", err)
	}
	if len(jobs) != 5 {
		t.Fatalf("expected 5 ledger jobs, got %d", len(jobs))
	}
	if jobs[2].Status != string(planner.StatusFailed) || jobs[2].ErrorKind != "execution" {
		t.Fatalf("unexpected failed job record: %+v", jobs[2])
	}
}

type failingBinder struct {
	inner  workflow.Binder
	suffix string
}

func (b failingBinder) Bind(ctx context.Context, tmpl *graph.Template, bindings binding.Bindings, inputs map[string]any) error {
	if video, _ := inputs[binding.KeyVideo].(string); strings.HasSuffix(video, b.suffix) {
		return services.Wrap(services.ErrTemplateBinding, "binding", "bind", "node 12 missing", nil)
	}
	return b.inner.Bind(ctx, tmpl, bindings, inputs)
}

func TestRunIsolatesBindingFailure(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	cfg := testsupport.NewConfig(t, testsupport.WithEngineURL(engine.URL()), testsupport.WithoutBackgrounds())
	testsupport.SeedAnimateAssets(t, cfg, 5, 0, map[string]int{"alice": 1})

	binder := failingBinder{inner: newBinder(cfg), suffix: "clip_3.mp4"}
	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), binder, logging.NewNop())
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Succeeded != 4 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	submitted := engine.Submitted()
	if len(submitted) != 4 {
		t.Fatalf("expected 4 submissions, got %d", len(submitted))
	}
	if !strings.HasSuffix(videoOf(submitted[2]), "clip_4.mp4") || !strings.HasSuffix(videoOf(submitted[3]), "clip_5.mp4") {
		t.Fatalf("jobs after the failure were not submitted in order")
	}
	failures := summary.Failures()
	if len(failures) != 1 || failures[0].Job.Index != 2 || !errors.Is(failures[0].Err, services.ErrTemplateBinding) {
		t.Fatalf("unexpected failures: %+v", failures)
	}
}

func TestRunConcurrentKeepsPlannerOrder(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.PendingPolls = 2
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineURL(engine.URL()),
		testsupport.WithoutBackgrounds(),
		testsupport.WithConcurrency(3),
	)
	testsupport.SeedAnimateAssets(t, cfg, 6, 0, map[string]int{"alice": 1})
	plan := resolvePlan(t, cfg)
	planned, err := plan.Stages()[0].Build(nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop())
	summary, err := runner.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Succeeded != 6 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for i, outcome := range summary.Stages[0].Outcomes {
		if outcome.Job.Index != i || outcome.Job.Video != planned[i].Video {
			t.Fatalf("outcome %d out of order: %+v", i, outcome.Job)
		}
	}
	if peak := engine.PeakInFlight(); peak > 3 {
		t.Fatalf("expected at most 3 jobs in flight, saw %d", peak)
	}
	seen := make(map[string]bool)
	for _, outcome := range summary.Stages[0].Outcomes {
		if seen[outcome.Artifact] {
			t.Fatalf("duplicate artifact path %s", outcome.Artifact)
		}
		seen[outcome.Artifact] = true
	}
}

type cancellingRenderer struct {
	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (r *cancellingRenderer) Render(ctx context.Context, _ *graph.Template, target comfy.Target) (comfy.Result, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	if call == 2 {
		r.cancel()
		<-ctx.Done()
		return comfy.Result{}, services.Wrap(services.ErrTransient, "comfy", "await", "cancelled", ctx.Err())
	}
	return comfy.Result{PromptID: "p", LocalPath: target.Destination}, nil
}

func TestRunCancellationSkipsUndispatchedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutBackgrounds())
	testsupport.SeedAnimateAssets(t, cfg, 5, 0, map[string]int{"alice": 1})
	store := openLedger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	renderer := &cancellingRenderer{cancel: cancel}
	runner := workflow.NewRunner(cfg, renderer, newBinder(cfg), logging.NewNop(), workflow.WithRecorder(store))
	summary, err := runner.Run(ctx, resolvePlan(t, cfg))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Succeeded != 1 || summary.Interrupted != 1 || summary.Skipped != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if renderer.calls != 2 {
		t.Fatalf("expected 2 render calls, got %d", renderer.calls)
	}
	run, err := store.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != ledger.RunInterrupted || run.Counts.Skipped != 3 {
		t.Fatalf("unexpected ledger run: %+v", run)
	}
}

func TestRunCompositeAnimatesGeneratedPortraits(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.Route = testsupport.RouteByNode
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineURL(engine.URL()),
		testsupport.WithoutBackgrounds(),
		testsupport.WithActiveWorkflow("portraits_to_video"),
	)
	testsupport.SeedAnimateAssets(t, cfg, 2, 0, nil)

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop())
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(summary.Stages))
	}
	generate, animate := summary.Stages[0], summary.Stages[1]
	if generate.Category != planner.CategoryT2IGenerated || generate.Succeeded != 2 {
		t.Fatalf("unexpected generate stage: %+v", generate)
	}
	if animate.Category != planner.CategoryT2IV2V || animate.Succeeded != 4 {
		t.Fatalf("unexpected animate stage: %+v", animate)
	}

	generatedDir := filepath.Join(cfg.Paths.OutputBaseDir, planner.CategoryT2IGenerated)
	for _, outcome := range generate.Outcomes {
		if filepath.Ext(outcome.Artifact) != ".png" || !strings.HasPrefix(outcome.Artifact, generatedDir) {
			t.Fatalf("unexpected portrait artifact %s", outcome.Artifact)
		}
	}
	submitted := engine.Submitted()
	if len(submitted) != 6 {
		t.Fatalf("expected 6 submissions, got %d", len(submitted))
	}
	for _, g := range submitted[2:] {
		person := fmt.Sprint(testsupport.InputOf(g, "21", "image"))
		if !strings.HasPrefix(person, generatedDir) {
			t.Fatalf("animation used a portrait outside the generated set: %s", person)
		}
	}
	for _, outcome := range animate.Outcomes {
		if !strings.HasPrefix(outcome.Artifact, filepath.Join(cfg.Paths.OutputBaseDir, planner.CategoryT2IV2V)) {
			t.Fatalf("unexpected animation artifact %s", outcome.Artifact)
		}
	}
}

func TestRunAbortsWhenCompositeGeneratesNothing(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.Route = testsupport.RouteByNode
	engine.Fail = func(map[string]any) string { return "model missing" }
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineURL(engine.URL()),
		testsupport.WithoutBackgrounds(),
		testsupport.WithActiveWorkflow("portraits_to_video"),
	)
	testsupport.SeedAnimateAssets(t, cfg, 2, 0, nil)

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop())
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if summary.Failed != 2 || len(engine.Submitted()) != 2 {
		t.Fatalf("expected only the 2 failed portrait jobs, got %+v", summary)
	}
}

func TestRunCompositeChecksVideosBeforeGenerating(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	engine.Route = testsupport.RouteByNode
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineURL(engine.URL()),
		testsupport.WithoutBackgrounds(),
		testsupport.WithActiveWorkflow("portraits_to_video"),
	)
	testsupport.SeedAnimateAssets(t, cfg, 0, 0, nil)
	store := openLedger(t)

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop(),
		workflow.WithRecorder(store))
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty video folder, got %v", err)
	}
	if n := len(engine.Submitted()); n != 0 {
		t.Fatalf("expected no portrait submissions, got %d", n)
	}
	if summary.Total != 0 {
		t.Fatalf("expected no jobs, got %+v", summary)
	}
	run, err := store.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != ledger.RunAborted {
		t.Fatalf("expected aborted run, got %+v", run)
	}
}

func TestRunAbortsBeforeSubmittingWhenCatalogMissing(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	cfg := testsupport.NewConfig(t, testsupport.WithEngineURL(engine.URL()))
	store := openLedger(t)

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop(),
		workflow.WithRecorder(store))
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(engine.Submitted()) != 0 {
		t.Fatal("expected no submissions")
	}
	run, err := store.GetRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != ledger.RunAborted || run.Error == "" {
		t.Fatalf("unexpected ledger run: %+v", run)
	}
}

func TestRunRetimesFrameInputs(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineURL(engine.URL()),
		testsupport.WithoutBackgrounds(),
		testsupport.WithRetiming(),
	)
	testsupport.SeedAnimateAssets(t, cfg, 1, 0, map[string]int{"alice": 1})

	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop())
	if _, err := runner.Run(context.Background(), resolvePlan(t, cfg)); err != nil {
		t.Fatalf("run: %v", err)
	}
	submitted := engine.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submitted))
	}
	if got := testsupport.InputOf(submitted[0], "30", "num_frames"); got != float64(32) {
		t.Fatalf("num_frames = %v, want 32", got)
	}
}

type recordingObserver struct {
	stages   []string
	finished int
}

func (o *recordingObserver) StageStarted(stage planner.Stage, total int) {
	o.stages = append(o.stages, fmt.Sprintf("%s:%d", stage.Name, total))
}

func (o *recordingObserver) JobFinished(planner.Stage, planner.Outcome) {
	o.finished++
}

func TestRunReportsProgress(t *testing.T) {
	engine := testsupport.NewFakeEngine(t)
	cfg := testsupport.NewConfig(t, testsupport.WithEngineURL(engine.URL()), testsupport.WithConcurrency(2))
	testsupport.SeedAnimateAssets(t, cfg, 1, 2, map[string]int{"alice": 1, "bob": 1})

	observer := &recordingObserver{}
	runner := workflow.NewRunner(cfg, comfy.NewFromConfig(cfg, logging.NewNop()), newBinder(cfg), logging.NewNop(),
		workflow.WithObserver(observer))
	summary, err := runner.Run(context.Background(), resolvePlan(t, cfg))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 4 || observer.finished != 4 {
		t.Fatalf("expected 4 jobs observed, summary %+v observer %d", summary, observer.finished)
	}
	if len(observer.stages) != 1 || observer.stages[0] != "animate:4" {
		t.Fatalf("unexpected stages %v", observer.stages)
	}
}

func TestArtifactPathSanitizesInfluencer(t *testing.T) {
	job := planner.Job{Index: 7, Influencer: "Zoë/../Smith"}
	got := workflow.ArtifactPath("/out", planner.CategoryV2V, job, fixedStart, "mp4")
	if filepath.Dir(filepath.Dir(got)) != filepath.Join("/out", "v2v") {
		t.Fatalf("influencer escaped its category directory: %s", got)
	}
	if filepath.Base(got) != "20260314_092653_0007.mp4" {
		t.Fatalf("unexpected file name %s", filepath.Base(got))
	}
}
