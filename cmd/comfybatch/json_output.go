package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"comfybatch/internal/ledger"
	"comfybatch/internal/planner"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type planJSON struct {
	Workflow string      `json:"workflow"`
	Seed     uint64      `json:"seed"`
	Stages   []stageJSON `json:"stages"`
}

type stageJSON struct {
	Name     string    `json:"name"`
	Category string    `json:"category"`
	Deferred bool      `json:"deferred,omitempty"`
	Jobs     []jobJSON `json:"jobs"`
}

type jobJSON struct {
	Index      int    `json:"index"`
	Kind       string `json:"kind"`
	Influencer string `json:"influencer"`
	Video      string `json:"video,omitempty"`
	Background string `json:"background,omitempty"`
	Person     string `json:"person,omitempty"`
	Variant    string `json:"variant,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Seed       uint32 `json:"seed,omitempty"`
}

func newJobJSON(job planner.Job) jobJSON {
	return jobJSON{
		Index:      job.Index,
		Kind:       string(job.Kind),
		Influencer: job.Influencer,
		Video:      job.Video,
		Background: job.Background,
		Person:     job.Person,
		Variant:    job.Variant,
		Prompt:     job.Prompt,
		Seed:       job.Seed,
	}
}

type runJSON struct {
	ID         string        `json:"id"`
	Workflow   string        `json:"workflow"`
	Seed       uint64        `json:"seed"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Counts     ledger.Counts `json:"counts"`
	Error      string        `json:"error,omitempty"`
	Jobs       []ledger.Job  `json:"jobs,omitempty"`
}

func newRunJSON(run ledger.Run, jobs []ledger.Job) runJSON {
	out := runJSON{
		ID:        run.ID,
		Workflow:  run.Workflow,
		Seed:      run.Seed,
		Status:    string(run.Status),
		StartedAt: run.StartedAt,
		Counts:    run.Counts,
		Error:     run.Error,
		Jobs:      jobs,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}
