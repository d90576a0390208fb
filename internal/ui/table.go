package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary holds the counters shown when a chat ends.
type SessionSummary struct {
	Room          string
	Duration      time.Duration
	TextsSent     int
	TextsReceived int
	FilesSent     int
	FilesReceived int
}

// SessionSummaryView renders the exit summary as a rounded table.
func SessionSummaryView(s SessionSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Session Summary")
	t.Style().Title.Align = text.AlignCenter

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.Room},
		{"Duration", formatDuration(s.Duration)},
		{"Texts sent", s.TextsSent},
		{"Texts received", s.TextsReceived},
		{"Files sent", s.FilesSent},
		{"Files received", s.FilesReceived},
	})

	return t.Render()
}

// RenderSessionSummary prints the summary to stdout.
func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
