package planner

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"comfybatch/internal/config"
	"comfybatch/internal/logging"
	"comfybatch/internal/services"
)

// Stage is one pass over a workflow. Build receives the outcomes of the
// previous stage (nil for the first) and returns the jobs to render; a Build
// error aborts the run before any job of the stage is submitted.
type Stage struct {
	Name     string
	Category string
	Workflow *Workflow
	Build    func(prior []Outcome) ([]Job, error)
}

// Plan is a runnable sequence of stages. The set of implementations is closed:
// *V2VPlan, *T2IPlan, and *CompositePlan.
type Plan interface {
	Name() string
	Stages() []Stage
	plan()
}

// V2VPlan animates influencer portraits over source videos.
type V2VPlan struct {
	workflow *Workflow
	logger   *slog.Logger
}

// NewV2VPlan constructs a video-to-video plan.
func NewV2VPlan(wf *Workflow, logger *slog.Logger) *V2VPlan {
	return &V2VPlan{workflow: wf, logger: componentLogger(logger)}
}

func (p *V2VPlan) plan() {}

// Name returns the workflow name.
func (p *V2VPlan) Name() string { return p.workflow.Name }

// Jobs lists the catalogs and enumerates with the workflow's policy.
func (p *V2VPlan) Jobs() ([]Job, error) {
	wf := p.workflow
	videos, backgrounds, err := wf.sources()
	if err != nil {
		return nil, err
	}
	portraits, err := wf.portraits(p.logger)
	if err != nil {
		return nil, err
	}
	if wf.Enumeration == config.EnumerationInterleaved {
		return EnumerateInterleaved(KindV2V, videos, backgrounds, portraits), nil
	}
	return EnumerateCross(KindV2V, videos, backgrounds, portraits), nil
}

// Stages returns the single v2v stage.
func (p *V2VPlan) Stages() []Stage {
	return []Stage{{
		Name:     p.workflow.Name,
		Category: CategoryV2V,
		Workflow: p.workflow,
		Build:    func([]Outcome) ([]Job, error) { return p.Jobs() },
	}}
}

// T2IPlan generates influencer portraits from prompts.
type T2IPlan struct {
	workflow *Workflow
	rnd      *rand.Rand
}

// NewT2IPlan constructs a text-to-image plan.
func NewT2IPlan(wf *Workflow, rnd *rand.Rand) *T2IPlan {
	return &T2IPlan{workflow: wf, rnd: rnd}
}

func (p *T2IPlan) plan() {}

// Name returns the workflow name.
func (p *T2IPlan) Name() string { return p.workflow.Name }

// Jobs enumerates prompt jobs with freshly drawn seeds.
func (p *T2IPlan) Jobs() ([]Job, error) {
	jobs := T2IJobs(p.workflow, p.rnd)
	if len(jobs) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "planner", "t2i",
			fmt.Sprintf("workflow %q produces no prompts", p.workflow.Name), nil)
	}
	return jobs, nil
}

// Stages returns the single t2i stage.
func (p *T2IPlan) Stages() []Stage {
	return []Stage{{
		Name:     p.workflow.Name,
		Category: CategoryT2IGenerated,
		Workflow: p.workflow,
		Build:    func([]Outcome) ([]Job, error) { return p.Jobs() },
	}}
}

// CompositePlan generates portraits with a T2I plan and animates a random
// sample of them with a V2V plan.
type CompositePlan struct {
	name   string
	t2i    *T2IPlan
	v2v    *V2VPlan
	rnd    *rand.Rand
	logger *slog.Logger

	// Source catalogs listed before the portrait stage renders anything.
	sourcesListed bool
	videos        []string
	backgrounds   []string
}

// NewCompositePlan constructs a t2i_then_v2v plan owning both constituents.
func NewCompositePlan(name string, t2i *T2IPlan, v2v *V2VPlan, rnd *rand.Rand, logger *slog.Logger) *CompositePlan {
	return &CompositePlan{name: name, t2i: t2i, v2v: v2v, rnd: rnd, logger: componentLogger(logger)}
}

func (p *CompositePlan) plan() {}

// Name returns the composite workflow name.
func (p *CompositePlan) Name() string { return p.name }

// Stages returns the portrait generation stage followed by the animation stage.
// The generation stage lists the animation catalogs first, so a missing or
// empty video folder aborts the run before any portrait is submitted.
func (p *CompositePlan) Stages() []Stage {
	generate := p.t2i.Stages()[0]
	generate.Build = func([]Outcome) ([]Job, error) {
		if err := p.listSources(); err != nil {
			return nil, err
		}
		return p.t2i.Jobs()
	}
	animate := Stage{
		Name:     p.v2v.workflow.Name,
		Category: CategoryT2IV2V,
		Workflow: p.v2v.workflow,
		Build:    p.animationJobs,
	}
	return []Stage{generate, animate}
}

// GeneratedPortraits groups successful stage outcomes by influencer in the
// T2I workflow's declaration order.
func (p *CompositePlan) GeneratedPortraits(prior []Outcome) Portraits {
	byName := make(map[string][]string)
	for _, outcome := range prior {
		if outcome.Status != StatusSucceeded || outcome.Artifact == "" {
			continue
		}
		byName[outcome.Job.Influencer] = append(byName[outcome.Job.Influencer], outcome.Artifact)
	}
	var portraits Portraits
	for _, persona := range p.t2i.workflow.Personas {
		images := byName[persona.Name]
		if len(images) == 0 {
			p.logger.Warn("no generated portraits for influencer; excluding from sampling",
				logging.String(logging.FieldInfluencer, persona.Name),
				logging.String(logging.FieldEventType, "influencer_skipped"),
			)
			continue
		}
		portraits.Add(persona.Name, images)
	}
	return portraits
}

func (p *CompositePlan) listSources() error {
	if p.sourcesListed {
		return nil
	}
	videos, backgrounds, err := p.v2v.workflow.sources()
	if err != nil {
		return err
	}
	p.videos, p.backgrounds, p.sourcesListed = videos, backgrounds, true
	return nil
}

func (p *CompositePlan) animationJobs(prior []Outcome) ([]Job, error) {
	if err := p.listSources(); err != nil {
		return nil, err
	}
	portraits := p.GeneratedPortraits(prior)
	if portraits.Empty() {
		return nil, services.Wrap(services.ErrConfiguration, "planner", "composite",
			fmt.Sprintf("workflow %q: portrait stage produced no images", p.name), nil)
	}
	return SampleRandom(KindComposite, p.rnd, p.videos, p.backgrounds, portraits), nil
}

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return logger.With(logging.String(logging.FieldComponent, "planner"))
}

// Resolve builds the plan for the named workflow, or the active workflow when
// name is blank.
func Resolve(cfg *config.Config, name string, rnd *rand.Rand, logger *slog.Logger) (Plan, error) {
	if rnd == nil {
		rnd = NewRand(cfg.Seed)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = cfg.ActiveWorkflow
	}
	wf, ok := cfg.Workflow(name)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "planner", "resolve",
			fmt.Sprintf("workflow %q is not defined", name), nil)
	}

	switch wf.Type {
	case config.TypeV2V:
		resolved, err := newWorkflow(cfg, wf)
		if err != nil {
			return nil, err
		}
		return NewV2VPlan(resolved, logger), nil
	case config.TypeT2I:
		resolved, err := newWorkflow(cfg, wf)
		if err != nil {
			return nil, err
		}
		return NewT2IPlan(resolved, rnd), nil
	case config.TypeComposite:
		t2iDef, ok := cfg.Workflow(wf.T2IWorkflow)
		if !ok || t2iDef.Type != config.TypeT2I {
			return nil, services.Wrap(services.ErrConfiguration, "planner", "resolve",
				fmt.Sprintf("workflow %q: t2i_workflow %q is not a t2i workflow", wf.Name, wf.T2IWorkflow), nil)
		}
		v2vDef, ok := cfg.Workflow(wf.V2VWorkflow)
		if !ok || v2vDef.Type != config.TypeV2V {
			return nil, services.Wrap(services.ErrConfiguration, "planner", "resolve",
				fmt.Sprintf("workflow %q: v2v_workflow %q is not a v2v workflow", wf.Name, wf.V2VWorkflow), nil)
		}
		t2iWorkflow, err := newWorkflow(cfg, t2iDef)
		if err != nil {
			return nil, err
		}
		v2vWorkflow, err := newWorkflow(cfg, v2vDef)
		if err != nil {
			return nil, err
		}
		return NewCompositePlan(wf.Name, NewT2IPlan(t2iWorkflow, rnd), NewV2VPlan(v2vWorkflow, logger), rnd, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "planner", "resolve",
			fmt.Sprintf("workflow %q has unsupported type %q", wf.Name, wf.Type), nil)
	}
}
