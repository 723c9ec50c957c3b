package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ocrbatch/internal/detect"
	"ocrbatch/internal/history"
	"ocrbatch/internal/pipeline"
)

const detailWidth = 96

func renderSummary(s pipeline.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:       %s\n", s.RunID)
	fmt.Fprintf(&b, "Status:    %s\n", s.Status)
	if s.BatchID != "" {
		fmt.Fprintf(&b, "Batch:     %s\n", s.BatchID)
	}
	fmt.Fprintf(&b, "Scanned:   %d matched (%d new, %d modified, %d unchanged)\n",
		s.Scan.Matched, s.Scan.New, s.Scan.Modified, s.Scan.Unchanged)
	if len(s.Items) > 0 {
		fmt.Fprintf(&b, "Committed: %d of %d\n", s.Count(history.OutcomeCommitted), len(s.Items))
	}
	fmt.Fprintf(&b, "Manifest:  %s\n", manifestLabel(s.ManifestWritten))
	fmt.Fprintf(&b, "Duration:  %s\n", formatDuration(s.Duration))

	if len(s.Items) > 0 {
		rows := make([][]string, 0, len(s.Items))
		for _, item := range s.Items {
			rows = append(rows, []string{item.Name, string(item.Outcome), item.Detail})
		}
		b.WriteString(renderTable([]column{
			{Header: "File"},
			{Header: "Outcome"},
			{Header: "Detail", MaxWidth: detailWidth},
		}, rows))
		b.WriteString("\n")
	}
	if s.Status.Resumable() && s.BatchID != "" {
		fmt.Fprintf(&b, "Resume with: ocrbatch resume %s\n", s.BatchID)
	}
	return b.String()
}

func renderPlan(result detect.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d matched, %d new, %d modified, %d unchanged\n",
		result.Stats.Matched, result.Stats.New, result.Stats.Modified, result.Stats.Unchanged)
	if len(result.Work) == 0 {
		b.WriteString("Nothing to process\n")
		return b.String()
	}
	rows := make([][]string, 0, len(result.Work))
	var total int64
	for _, item := range result.Work {
		total += item.Size
		rows = append(rows, []string{item.Name, humanize.IBytes(uint64(max(item.Size, 0))), shortFingerprint(item.Fingerprint)})
	}
	b.WriteString(renderTable([]column{
		{Header: "File"},
		{Header: "Size", Align: alignRight},
		{Header: "Fingerprint"},
	}, rows))
	fmt.Fprintf(&b, "\n%d files to submit (%s)\n", len(result.Work), humanize.IBytes(uint64(max(total, 0))))
	return b.String()
}

func renderRuns(runs []history.Run, now time.Time) string {
	if len(runs) == 0 {
		return "No runs recorded\n"
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			string(run.Status),
			run.BatchID,
			fmt.Sprintf("%d", run.Submitted),
			fmt.Sprintf("%d", run.Committed),
			fmt.Sprintf("%d", run.Failed),
			formatDuration(run.Duration()),
		})
	}
	return renderTable([]column{
		{Header: "Run"},
		{Header: "Started"},
		{Header: "Status"},
		{Header: "Batch"},
		{Header: "Submitted", Align: alignRight},
		{Header: "Committed", Align: alignRight},
		{Header: "Failed", Align: alignRight},
		{Header: "Duration", Align: alignRight},
	}, rows) + "\n"
}

func renderRunDetail(run history.Run, items []history.RunItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:       %s\n", run.ID)
	fmt.Fprintf(&b, "Status:    %s\n", run.Status)
	fmt.Fprintf(&b, "Started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.Finished() {
		fmt.Fprintf(&b, "Finished:  %s\n", run.FinishedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(&b, "Input:     %s\n", run.InputDir)
	if run.BatchID != "" {
		fmt.Fprintf(&b, "Batch:     %s\n", run.BatchID)
	}
	if run.ResumedFrom != "" {
		fmt.Fprintf(&b, "Resumes:   %s\n", run.ResumedFrom)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:     %s\n", run.ErrorMessage)
	}
	if len(items) == 0 {
		return b.String()
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.Name,
			humanize.IBytes(uint64(max(item.Size, 0))),
			string(item.Outcome),
			item.Detail,
		})
	}
	b.WriteString(renderTable([]column{
		{Header: "File"},
		{Header: "Size", Align: alignRight},
		{Header: "Outcome"},
		{Header: "Detail", MaxWidth: detailWidth},
	}, rows))
	b.WriteString("\n")
	return b.String()
}

func manifestLabel(written bool) string {
	if written {
		return "updated"
	}
	return "unchanged"
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
