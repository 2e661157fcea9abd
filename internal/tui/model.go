// Package tui is a compact Bubble Tea monitor for one run: a task list with
// status glyphs, a spinner on the running task, and a scrolling event log.
// It is a pure consumer of the event bus; quitting the TUI never touches
// the run itself.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/foreman/internal/events"
	"github.com/aristath/foreman/internal/graph"
)

// taskRow is one line of the task list.
type taskRow struct {
	id      string
	title   string
	status  graph.Status
	attempt int
}

// Model is the root Bubble Tea model.
type Model struct {
	runID    string
	rows     []taskRow
	index    map[string]int // task ID -> rows index
	progress events.RunProgressEvent

	eventSub <-chan events.Event
	spinner  spinner.Model
	log      viewport.Model
	logLines []string

	width    int
	height   int
	finished bool
	quitting bool
}

// New creates the monitor model. Tasks fix the row order; events only change
// statuses.
func New(bus *events.Bus, runID string, tasks []*graph.Task) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = StyleStatusRunning

	m := Model{
		runID:    runID,
		index:    make(map[string]int, len(tasks)),
		eventSub: bus.Subscribe(256),
		spinner:  sp,
		log:      viewport.New(0, 0),
	}
	for i, task := range tasks {
		m.rows = append(m.rows, taskRow{id: task.ID, title: task.Title, status: task.Status})
		m.index[task.ID] = i
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.eventSub))
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

type busClosedMsg struct{}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = msg.Width - 4
		logHeight := msg.Height - len(m.rows) - 6
		if logHeight < 3 {
			logHeight = 3
		}
		m.log.Height = logHeight

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case events.Event:
		m.applyEvent(msg)
		if m.finished {
			return m, tea.Quit
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		m.finished = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

// applyEvent folds one lifecycle event into the model.
func (m *Model) applyEvent(event events.Event) {
	switch e := event.(type) {
	case events.TaskStartedEvent:
		m.setStatus(e.ID, graph.StatusRunning, e.Attempt)
		m.appendLog(fmt.Sprintf("▶ %s (attempt %d)", e.ID, e.Attempt))
	case events.TaskCompletedEvent:
		m.setStatus(e.ID, graph.StatusCompleted, 0)
		m.appendLog(fmt.Sprintf("✓ %s completed in %s", e.ID, e.Duration.Round(time.Second)))
	case events.TaskFailedEvent:
		m.setStatus(e.ID, graph.StatusFailed, e.Attempt)
		m.appendLog(fmt.Sprintf("✗ %s attempt %d: %s", e.ID, e.Attempt, e.Reason))
	case events.TaskSkippedEvent:
		m.setStatus(e.ID, graph.StatusSkipped, e.Attempts)
		m.appendLog(fmt.Sprintf("⊘ %s skipped after %d attempts", e.ID, e.Attempts))
	case events.TaskBlockedEvent:
		m.setStatus(e.ID, graph.StatusBlocked, 0)
		m.appendLog(fmt.Sprintf("⊗ %s blocked: %s", e.ID, e.Reason))
	case events.RunProgressEvent:
		m.progress = e
	case events.RunFinishedEvent:
		m.appendLog(fmt.Sprintf("run finished: %d completed, %d skipped, %d blocked",
			len(e.Completed), len(e.Skipped), len(e.Blocked)))
		m.finished = true
	}
}

func (m *Model) setStatus(taskID string, status graph.Status, attempt int) {
	i, ok := m.index[taskID]
	if !ok {
		return
	}
	m.rows[i].status = status
	m.rows[i].attempt = attempt
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > 200 {
		m.logLines = m.logLines[len(m.logLines)-200:]
	}
	m.log.SetContent(strings.Join(m.logLines, "\n"))
	m.log.GotoBottom()
}

func (m Model) View() string {
	if m.quitting || m.finished {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(fmt.Sprintf("foreman run %s", m.runID)))
	b.WriteString("\n")

	for _, row := range m.rows {
		glyph := statusGlyph(row.status)
		if row.status == graph.StatusRunning {
			glyph = m.spinner.View()
		}
		line := fmt.Sprintf(" %s %-12s %s", glyph, row.id, row.title)
		if row.status == graph.StatusFailed && row.attempt > 0 {
			line += StyleStatusFailed.Render(fmt.Sprintf("  (attempt %d)", row.attempt))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(StyleHelp.Render(fmt.Sprintf(
		" %d/%d completed · %d skipped · %d blocked",
		m.progress.Completed, m.progress.Total, m.progress.Skipped, m.progress.Blocked)))
	b.WriteString("\n")

	b.WriteString(StyleBorder.Width(m.log.Width + 2).Render(m.log.View()))
	b.WriteString("\n")
	b.WriteString(StyleHelp.Render(" q: quit monitor (run keeps going)"))

	return lipgloss.NewStyle().Render(b.String())
}
