package main

import (
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/itstheanurag/gradebox/internal/grader"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/verdict"
	"github.com/jedib0t/go-pretty/v6/table"
)

const previewLen = 60

func verdictColor(s verdict.Status) *color.Color {
	switch s {
	case verdict.Accepted:
		return color.New(color.FgHiGreen)
	case verdict.WrongAnswer, verdict.TimeLimitExceeded:
		return color.New(color.FgHiYellow)
	default:
		return color.New(color.FgHiRed)
	}
}

func statusColor(s sandbox.RuntimeStatus) *color.Color {
	switch s {
	case sandbox.StatusReady:
		return color.New(color.FgHiGreen)
	case sandbox.StatusImageMissing:
		return color.New(color.FgHiYellow)
	default:
		return color.New(color.FgHiRed)
	}
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", "⏎")
	if r := []rune(s); len(r) > previewLen {
		return string(r[:previewLen]) + "…"
	}
	return s
}

func printReport(w io.Writer, report *grader.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Verdict", "Time (ms)", "Input", "Expected", "Output"})
	for i, item := range report.Results {
		expected := "-"
		if item.ExpectedOutput != nil {
			expected = preview(*item.ExpectedOutput)
		}
		t.AppendRow(table.Row{
			i + 1,
			verdictColor(item.Status).Sprint(item.Status),
			item.ExecutionTimeMs,
			preview(item.Input),
			expected,
			preview(item.Stdout),
		})
	}
	t.AppendFooter(table.Row{"", verdictColor(report.OverallStatus).Sprint(report.OverallStatus)})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func printRuntimes(w io.Writer, rts []languages.RuntimeConfig, probe func(image string) sandbox.RuntimeStatus) {
	statuses := make(map[string]sandbox.RuntimeStatus)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Language", "Image", "Command", "Memory (MB)", "CPUs", "Status"})
	for _, rt := range rts {
		status, ok := statuses[rt.Image]
		if !ok {
			status = probe(rt.Image)
			statuses[rt.Image] = status
		}
		t.AppendRow(table.Row{
			rt.Language,
			rt.Image,
			rt.RunCommand,
			rt.MemoryLimitMB,
			rt.CPULimitCores,
			statusColor(status).Sprint(status),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
