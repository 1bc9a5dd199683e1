package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"comfybatch/internal/planner"
	"comfybatch/internal/services"
)

// progressReporter renders batch progress. On a terminal it draws one bar per
// stage and prints a single line per failed job above it; otherwise it prints
// a line per stage and leaves job detail to the logger.
type progressReporter struct {
	out         io.Writer
	interactive bool
	bar         *progressbar.ProgressBar
	total       int
	done        int
}

func newProgressReporter(out io.Writer, interactive bool) *progressReporter {
	return &progressReporter{out: out, interactive: interactive}
}

func (p *progressReporter) StageStarted(stage planner.Stage, total int) {
	p.finish()
	p.total, p.done = total, 0
	if !p.interactive {
		fmt.Fprintf(p.out, "Stage %s (%s): %d jobs\n", stage.Name, stage.Category, total)
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(stage.Name),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *progressReporter) JobFinished(stage planner.Stage, outcome planner.Outcome) {
	p.done++
	if p.bar == nil {
		return
	}
	if outcome.Status == planner.StatusFailed {
		_ = p.bar.Clear()
		fmt.Fprintf(p.out, "✗ %s [%d/%d] %s: %s: %v\n",
			stage.Name, outcome.Job.Index+1, p.total, outcome.Job.Describe(), services.Kind(outcome.Err), outcome.Err)
	}
	_ = p.bar.Add(1)
	if p.done == p.total {
		p.finish()
	}
}

func (p *progressReporter) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}
