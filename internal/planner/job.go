package planner

import (
	"path/filepath"
	"strings"
)

// Kind identifies the job family.
type Kind string

const (
	KindV2V       Kind = "v2v"
	KindT2I       Kind = "t2i"
	KindComposite Kind = "t2i_then_v2v"
)

// Job describes a single render. It is produced by a stage and consumed once
// by the runner.
type Job struct {
	Index      int
	Kind       Kind
	Influencer string
	Variant    string

	Video      string
	Background string
	Person     string

	Prompt string
	Seed   uint32
	Model  string
	LoRAs  []string
}

// Inputs returns the semantic-key map bound into the workflow template.
func (j Job) Inputs() map[string]any {
	inputs := make(map[string]any, 6)
	switch j.Kind {
	case KindT2I:
		inputs["prompt"] = j.Prompt
		inputs["seed"] = j.Seed
		if j.Model != "" {
			inputs["model"] = j.Model
		}
		loras := append([]string(nil), j.LoRAs...)
		inputs["lora"] = loras
	default:
		if j.Video != "" {
			inputs["video"] = j.Video
		}
		if j.Person != "" {
			inputs["person"] = j.Person
		}
		if j.Background != "" {
			inputs["background"] = j.Background
		}
	}
	return inputs
}

// Describe renders a short human-readable identity for logs and tables.
func (j Job) Describe() string {
	parts := []string{j.Influencer}
	switch j.Kind {
	case KindT2I:
		if j.Variant != "" {
			parts = append(parts, j.Variant)
		}
	default:
		parts = append(parts, filepath.Base(j.Video))
		if j.Background != "" {
			parts = append(parts, filepath.Base(j.Background))
		}
		parts = append(parts, filepath.Base(j.Person))
	}
	return strings.Join(parts, " | ")
}

// Status is the terminal state of a job.
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	StatusSkipped     Status = "skipped"
)

// Outcome records what happened to a job.
type Outcome struct {
	Job        Job
	Status     Status
	Artifact   string
	RemotePath string
	Err        error
}

func reindex(jobs []Job) []Job {
	for i := range jobs {
		jobs[i].Index = i
	}
	return jobs
}
