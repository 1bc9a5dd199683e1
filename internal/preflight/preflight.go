package preflight

import (
	"context"
	"slices"

	"comfybatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes the preflight checks for the named workflows, or for every
// configured workflow when names is empty. Composite workflows pull in their
// constituents.
func RunAll(ctx context.Context, cfg *config.Config, names ...string) []Result {
	if cfg == nil {
		return nil
	}

	workflows := selectWorkflows(cfg, names)

	var results []Result
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputBaseDir))
	results = append(results, CheckEngine(ctx, cfg))

	ffprobe := Requirement{
		Name:        "FFprobe",
		Command:     cfg.FFprobeBinary(),
		Description: "Required to retime frame counts",
		Optional:    !slices.ContainsFunc(workflows, needsFrameProbe),
	}
	for _, status := range CheckBinaries([]Requirement{ffprobe}) {
		results = append(results, status.Result())
	}

	for _, wf := range workflows {
		results = append(results, CheckWorkflow(wf))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

func selectWorkflows(cfg *config.Config, names []string) []*config.Workflow {
	if len(names) == 0 {
		for _, wf := range cfg.Workflows {
			names = append(names, wf.Name)
		}
	}
	var (
		selected []*config.Workflow
		seen     = make(map[string]bool)
	)
	var add func(name string)
	add = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		wf, ok := cfg.Workflow(name)
		if !ok {
			return
		}
		if wf.Type == config.TypeComposite {
			add(wf.T2IWorkflow)
			add(wf.V2VWorkflow)
			return
		}
		selected = append(selected, wf)
	}
	for _, name := range names {
		add(name)
	}
	return selected
}

func needsFrameProbe(wf *config.Workflow) bool {
	if wf.Type != config.TypeV2V {
		return false
	}
	_, frames := wf.Inputs["num_frames"]
	_, window := wf.Inputs["frame_window_size"]
	return frames || window
}
