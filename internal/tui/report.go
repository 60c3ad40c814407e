package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipefeed/internal/feed"
	"github.com/mattjoyce/pipefeed/internal/runlog"
)

// Report is what "run" prints after a feed.
type Report struct {
	RunID    string
	Command  string
	Pid      int
	Capacity int
	Result   feed.Result
	ExitCode *int
	Err      error
}

// RenderReport renders r as a bordered summary.
func RenderReport(theme Theme, r Report) string {
	rows := [][2]string{
		{"outcome", theme.Outcome(r.Result.Outcome).Render(string(r.Result.Outcome))},
		{"command", r.Command},
		{"pid", strconv.Itoa(r.Pid)},
		{"sent", fmt.Sprintf("%s of %s (%d bytes)", FormatBytes(r.Result.BytesWritten), FormatBytes(r.Result.Total), r.Result.BytesWritten)},
		{"pipe", FormatBytes(r.Capacity)},
		{"elapsed", FormatDuration(r.Result.Elapsed)},
		{"writes", fmt.Sprintf("%d (%d waits)", r.Result.Writes, r.Result.Waits)},
	}
	if r.ExitCode != nil {
		rows = append(rows, [2]string{"exit", strconv.Itoa(*r.ExitCode)})
	}
	if r.RunID != "" {
		rows = append(rows, [2]string{"run", theme.Dim.Render(r.RunID)})
	}
	if r.Err != nil {
		rows = append(rows, [2]string{"error", theme.OutcomeFailed.Render(r.Err.Error())})
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, theme.Label.Width(8).Render(row[0])+" "+row[1])
	}
	return theme.Border.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderHistory renders recorded runs as a table, newest first.
func RenderHistory(theme Theme, runs []runlog.Entry) string {
	if len(runs) == 0 {
		return theme.Dim.Render("no runs recorded")
	}

	columns := []table.Column{
		{Title: "When", Width: 19},
		{Title: "Outcome", Width: 15},
		{Title: "Sent", Width: 21},
		{Title: "Elapsed", Width: 9},
		{Title: "Command", Width: 32},
	}
	rows := make([]table.Row, 0, len(runs))
	for _, e := range runs {
		cmd := e.Command
		if e.Name != "" {
			cmd = e.Name + ": " + cmd
		}
		rows = append(rows, table.Row{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Outcome,
			fmt.Sprintf("%s/%s", FormatBytes(e.BytesWritten), FormatBytes(e.PayloadSize)),
			FormatDuration(e.Elapsed),
			truncate(cmd, 32),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	// No row is focused in a static listing.
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	// Sized after styling so the bordered header is accounted for.
	t.SetHeight(len(rows) + lipgloss.Height(s.Header.Render("x")))
	return t.View()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
