package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/coordinator"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/safety"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor = lipgloss.Color("#7571f9")
	goodColor    = lipgloss.Color("#42c767")
	warningColor = lipgloss.Color("#ff9f43")
	dangerColor  = lipgloss.Color("#ff6b6b")
	mutedColor   = lipgloss.Color("#6c757d")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	goodStyle   = lipgloss.NewStyle().Foreground(goodColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warningColor)
	dangerStyle = lipgloss.NewStyle().Foreground(dangerColor).Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primaryColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func renderTag(tag osd.StatusTag) string {
	text := tag.String()
	switch {
	case tag.Availability == osd.Destroyed:
		return dangerStyle.Render(text)
	case tag.Membership == osd.In && tag.Availability == osd.Up:
		return goodStyle.Render(text)
	default:
		return warnStyle.Render(text)
	}
}

func renderOsds(nodes []*osd.Node, summary map[string]int, inflight []int64) string {
	busy := osd.NewIdSet(inflight...)
	t := newTable("ID", "HOST", "STATE", "WEIGHT", "PGS", "USAGE", "NOTE")
	for _, n := range nodes {
		var notes []string
		if n.Partial {
			notes = append(notes, "partial")
		}
		if busy.Contains(n.Id) {
			notes = append(notes, "in flight")
		}
		t.Row(
			fmt.Sprintf("%d", n.Id),
			n.Host,
			renderTag(n.Tag),
			fmt.Sprintf("%.2f", n.Weight),
			fmt.Sprintf("%d", n.Stats.NumPg),
			fmt.Sprintf("%.1f%%", n.Usage()*100),
			mutedStyle.Render(strings.Join(notes, ",")),
		)
	}
	return t.Render() + "\n" + renderSummary(summary)
}

func renderSummary(summary map[string]int) string {
	tags := make([]string, 0, len(summary))
	for tag := range summary {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	items := make([]string, 0, len(tags))
	for _, tag := range tags {
		items = append(items, fmt.Sprintf("%s: %d", tag, summary[tag]))
	}
	return mutedStyle.Render(strings.Join(items, "  "))
}

func renderEligibility(e safety.Eligibility) string {
	switch e {
	case safety.Eligible:
		return goodStyle.Render(e.String())
	case safety.Ineligible:
		return dangerStyle.Render(e.String())
	default:
		return warnStyle.Render(e.String())
	}
}

func renderVerdicts(verdicts map[int64]*safety.Verdict) string {
	ids := osd.NewIdSet()
	for id := range verdicts {
		ids.Add(id)
	}
	t := newTable("ID", "KIND", "VERDICT", "REASONS")
	for _, id := range ids.Sorted() {
		v := verdicts[id]
		t.Row(
			fmt.Sprintf("%d", v.Id),
			v.Kind.String(),
			renderEligibility(v.Eligibility),
			strings.Join(v.Reasons, "; "),
		)
	}
	return t.Render()
}

func renderResult(r *coordinator.BulkResult) string {
	title := titleStyle.Render(fmt.Sprintf("run %s: %s", r.RunId, r.Kind.String()))
	t := newTable("ID", "OUTCOME", "DETAIL")
	for _, id := range r.Succeeded.Sorted() {
		detail := ""
		if r.NoOps.Contains(id) {
			detail = "already done"
		}
		t.Row(fmt.Sprintf("%d", id), goodStyle.Render("ok"), mutedStyle.Render(detail))
	}
	for _, id := range r.FailedIds() {
		err := r.Failed[id]
		t.Row(fmt.Sprintf("%d", id), dangerStyle.Render(err.Code.String()), err.Message)
	}
	footer := mutedStyle.Render(fmt.Sprintf(
		"%d succeeded, %d failed, took %v",
		len(r.Succeeded), len(r.Failed), r.FinishedAt.Sub(r.StartedAt),
	))
	return title + "\n" + t.Render() + "\n" + footer
}

func renderRuns(runs []*coordinator.BulkResult) string {
	t := newTable("RUN", "KIND", "STARTED", "OSDS", "SUCCEEDED", "FAILED")
	for _, r := range runs {
		failed := fmt.Sprintf("%d", len(r.Failed))
		if len(r.Failed) > 0 {
			failed = dangerStyle.Render(failed)
		}
		t.Row(
			r.RunId,
			r.Kind.String(),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", r.Selection.Len()),
			fmt.Sprintf("%d", len(r.Succeeded)),
			failed,
		)
	}
	return t.Render()
}
