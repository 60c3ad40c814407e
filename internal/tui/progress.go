package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipefeed/internal/feed"
	"github.com/mattjoyce/pipefeed/internal/log"
)

// Work runs one feed, calling report with progress as bytes are accepted.
type Work func(report func(feed.State)) (feed.Result, error)

type progressMsg feed.State

type doneMsg struct {
	result feed.Result
	err    error
}

type tickMsg time.Time

// Model is the live feed view.
type Model struct {
	title string
	total int

	state    feed.State
	result   *feed.Result
	err      error
	now      time.Time
	activity Activity

	bar   progress.Model
	theme Theme
	width int
}

// NewModel creates the view for a payload of total bytes.
func NewModel(title string, total int) Model {
	return Model{
		title: title,
		total: total,
		state: feed.State{Total: total},
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		theme: NewDefaultTheme(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The feed itself is not interruptible from here; q only closes the view.
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(min(msg.Width-10, 60), 10)

	case tickMsg:
		m.now = time.Time(msg)
		m.activity.Decay(m.now)
		if m.result != nil {
			return m, nil
		}
		return m, tick()

	case progressMsg:
		st := feed.State(msg)
		if st.Written > m.state.Written {
			m.activity.OnWrite(time.Now())
		}
		m.state = st

	case doneMsg:
		m.result = &msg.result
		m.err = msg.err
		m.state.Written = msg.result.BytesWritten
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) percent() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.state.Written) / float64(m.total)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.percent()))
	b.WriteString("\n")

	elapsed := time.Duration(0)
	if !m.state.Start.IsZero() && !m.now.IsZero() {
		elapsed = m.now.Sub(m.state.Start)
	}
	if m.result != nil {
		elapsed = m.result.Elapsed
	}
	fmt.Fprintf(&b, "%s %s / %s  %s %s  %s",
		m.theme.Label.Render("sent"),
		FormatBytes(m.state.Written), FormatBytes(m.total),
		m.theme.Label.Render("elapsed"), FormatDuration(elapsed),
		m.activity.Render(m.theme),
	)
	if m.result == nil && m.activity.Stalled() && m.state.Written < m.total && m.state.Written > 0 {
		b.WriteString(" " + m.theme.Highlight.Render("pipe full, waiting for reader"))
	}
	if !m.state.Deadline.IsZero() && m.result == nil {
		b.WriteString(" " + m.theme.Dim.Render("stuck limit "+FormatDuration(m.state.Deadline.Sub(m.state.Start))))
	}
	if m.result != nil {
		b.WriteString("\n")
		b.WriteString(m.theme.Outcome(m.result.Outcome).Render(string(m.result.Outcome)))
		if m.err != nil {
			b.WriteString(" " + m.theme.Dim.Render(m.err.Error()))
		}
	}
	return lipgloss.NewStyle().Margin(0, 1).Render(b.String()) + "\n"
}

// reportInterval bounds how often progress reaches the view.
const reportInterval = 50 * time.Millisecond

// Run shows the live view on out while work executes and returns work's
// result. Input is not read, so the view never steals the terminal's stdin.
func Run(title string, total int, out io.Writer, work Work) (feed.Result, error) {
	p := tea.NewProgram(NewModel(title, total), tea.WithOutput(out), tea.WithInput(nil))

	var last time.Time
	report := func(st feed.State) {
		if now := time.Now(); now.Sub(last) >= reportInterval || st.Written == st.Total {
			last = now
			p.Send(progressMsg(st))
		}
	}

	type outcome struct {
		res feed.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := work(report)
		done <- outcome{res, err}
		p.Send(doneMsg{result: res, err: err})
	}()

	if _, err := p.Run(); err != nil {
		log.Warn("progress view failed", "error", err)
	}
	// Quitting the view early does not stop the feed.
	o := <-done
	return o.res, o.err
}
