package main

import (
	"fmt"
	"path/filepath"

	"comfybatch/internal/ledger"
	"comfybatch/internal/planner"
	"comfybatch/internal/preflight"
	"comfybatch/internal/services"
	"comfybatch/internal/textutil"
	"comfybatch/internal/workflow"
)

func renderSummary(summary workflow.Summary) string {
	headers := []string{"Stage", "Category", "Jobs", "OK", "Failed", "Skipped", "Interrupted"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(summary.Stages)+1)
	for _, stage := range summary.Stages {
		rows = append(rows, []string{
			stage.Name, stage.Category, count(stage.Total), count(stage.Succeeded),
			count(stage.Failed), count(stage.Skipped), count(stage.Interrupted),
		})
	}
	if len(summary.Stages) > 1 {
		rows = append(rows, []string{
			"total", "", count(summary.Total), count(summary.Succeeded),
			count(summary.Failed), count(summary.Skipped), count(summary.Interrupted),
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderFailures(failures []planner.Outcome) string {
	headers := []string{"#", "Influencer", "Job", "Status", "Kind", "Error"}
	aligns := []columnAlignment{alignRight}
	rows := make([][]string, 0, len(failures))
	for _, outcome := range failures {
		rows = append(rows, []string{
			count(outcome.Job.Index + 1),
			textutil.DisplayName(outcome.Job.Influencer),
			outcome.Job.Describe(),
			string(outcome.Status),
			orDash(services.Kind(outcome.Err)),
			errorText(outcome.Err),
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderChecks(results []preflight.Result) string {
	headers := []string{"Check", "Status", "Detail"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		switch {
		case !r.Passed && r.Optional:
			status = "warn"
		case !r.Passed:
			status = "FAIL"
		}
		rows = append(rows, []string{r.Name, status, r.Detail})
	}
	return renderTable(headers, rows, nil)
}

func renderJobs(stage planner.Stage, jobs []planner.Job) string {
	if stage.Workflow.Kind == planner.KindT2I {
		headers := []string{"#", "Influencer", "Variant", "Seed", "Prompt"}
		rows := make([][]string, 0, len(jobs))
		for _, job := range jobs {
			rows = append(rows, []string{
				count(job.Index + 1), textutil.DisplayName(job.Influencer), job.Variant,
				fmt.Sprintf("%d", job.Seed), job.Prompt,
			})
		}
		return renderTable(headers, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
	}
	headers := []string{"#", "Influencer", "Video", "Background", "Portrait"}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			count(job.Index + 1), textutil.DisplayName(job.Influencer), filepath.Base(job.Video),
			orDash(baseName(job.Background)), filepath.Base(job.Person),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignRight})
}

func renderRuns(runs []ledger.Run) string {
	headers := []string{"Run", "Workflow", "Status", "Started", "Duration", "Jobs", "OK", "Failed", "Skipped"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID), run.Workflow, string(run.Status), formatTime(run.StartedAt),
			formatDuration(run.Duration()), count(run.Counts.Total), count(run.Counts.Succeeded),
			count(run.Counts.Failed), count(run.Counts.Skipped + run.Counts.Interrupted),
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderRunJobs(jobs []ledger.Job) string {
	headers := []string{"Stage", "#", "Influencer", "Status", "Artifact", "Error"}
	aligns := []columnAlignment{alignLeft, alignRight}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		detail := job.ErrorMessage
		if job.ErrorKind != "" {
			detail = job.ErrorKind + ": " + detail
		}
		rows = append(rows, []string{
			job.Stage, count(job.Index + 1), textutil.DisplayName(job.Influencer), job.Status,
			orDash(job.ArtifactPath), orDash(detail),
		})
	}
	return renderTable(headers, rows, aligns)
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func errorText(err error) string {
	if err == nil {
		return "-"
	}
	return err.Error()
}
