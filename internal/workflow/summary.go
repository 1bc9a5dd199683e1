package workflow

import (
	"time"

	"comfybatch/internal/ledger"
	"comfybatch/internal/notifications"
	"comfybatch/internal/planner"
)

// StageSummary aggregates one stage's outcomes.
type StageSummary struct {
	Name        string
	Category    string
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted int
	Outcomes    []planner.Outcome
}

// Summary aggregates a run.
type Summary struct {
	RunID       string
	Workflow    string
	Seed        uint64
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted int
	Duration    time.Duration
	Stages      []StageSummary
}

func summarizeStage(stage planner.Stage, outcomes []planner.Outcome) StageSummary {
	s := StageSummary{
		Name:     stage.Name,
		Category: stage.Category,
		Total:    len(outcomes),
		Outcomes: outcomes,
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case planner.StatusSucceeded:
			s.Succeeded++
		case planner.StatusFailed:
			s.Failed++
		case planner.StatusInterrupted:
			s.Interrupted++
		default:
			s.Skipped++
		}
	}
	return s
}

func (s *Summary) add(stage StageSummary) {
	s.Stages = append(s.Stages, stage)
	s.Total += stage.Total
	s.Succeeded += stage.Succeeded
	s.Failed += stage.Failed
	s.Skipped += stage.Skipped
	s.Interrupted += stage.Interrupted
}

// Failures returns every failed or interrupted outcome in stage order.
func (s Summary) Failures() []planner.Outcome {
	var failed []planner.Outcome
	for _, stage := range s.Stages {
		for _, outcome := range stage.Outcomes {
			if outcome.Status == planner.StatusFailed || outcome.Status == planner.StatusInterrupted {
				failed = append(failed, outcome)
			}
		}
	}
	return failed
}

func (s Summary) counts() ledger.Counts {
	return ledger.Counts{
		Total:       s.Total,
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		Interrupted: s.Interrupted,
	}
}

func (s Summary) notification() notifications.BatchSummary {
	return notifications.BatchSummary{
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		Interrupted: s.Interrupted,
		Duration:    s.Duration,
	}
}
