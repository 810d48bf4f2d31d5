package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// Device states shown in the progress table.
const (
	StatePending    = "pending"
	StateConnecting = "connecting"
	StateRunning    = "running"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
)

// ProgressMsg carries one progress report into the model.
type ProgressMsg runtime.Progress

// DoneMsg tells the model the run has finished.
type DoneMsg struct{}

type deviceRow struct {
	state string
	step  string
	index int
	total int
	// detail is the failure kind and step once the device has failed.
	detail string
}

// ProgressModel is a Bubble Tea model showing per-device progress.
type ProgressModel struct {
	title   string
	order   []types.DeviceID
	rows    map[types.DeviceID]*deviceRow
	spinner spinner.Model
	cancel  context.CancelFunc

	width    int
	done     bool
	quitting bool
}

// NewProgressModel creates a model. cancel is called when the user quits
// before the run has finished; it may be nil.
func NewProgressModel(title string, cancel context.CancelFunc) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = WarningStyle
	return ProgressModel{
		title:   title,
		rows:    make(map[types.DeviceID]*deviceRow),
		spinner: s,
		cancel:  cancel,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			if !m.done && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case ProgressMsg:
		m.apply(runtime.Progress(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *ProgressModel) apply(p runtime.Progress) {
	row, ok := m.rows[p.Device]
	if !ok {
		row = &deviceRow{}
		m.rows[p.Device] = row
		m.order = append(m.order, p.Device)
		slices.Sort(m.order)
	}
	row.total = p.Total

	switch {
	case p.Outcome != nil && p.Outcome.Succeeded():
		row.state = StateSucceeded
		row.index = row.total
		row.step = ""
	case p.Outcome != nil:
		row.state = StateFailed
		row.detail = fmt.Sprintf("%s at %s", p.Outcome.Kind, p.Outcome.Step)
	case p.Index == 0:
		row.state = StateConnecting
		row.step = p.Step
	default:
		row.state = StateRunning
		row.step = p.Step
		row.index = p.Index
	}
}

// Counts returns the number of devices that succeeded, failed and are still in flight.
func (m ProgressModel) Counts() (succeeded, failed, active int) {
	for _, row := range m.rows {
		switch row.state {
		case StateSucceeded:
			succeeded++
		case StateFailed:
			failed++
		default:
			active++
		}
	}
	return succeeded, failed, active
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	if m.quitting && !m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	for _, id := range m.order {
		b.WriteString(m.renderRow(id, m.rows[id]))
		b.WriteString("\n")
	}

	succeeded, failed, active := m.Counts()
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Active", active, warningColor),
		renderStatBox("Succeeded", succeeded, successColor),
		renderStatBox("Failed", failed, errorColor),
	))

	if !m.done {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to cancel"))
	}
	return b.String()
}

func (m ProgressModel) renderRow(id types.DeviceID, row *deviceRow) string {
	marker := " "
	switch row.state {
	case StateConnecting, StateRunning:
		marker = m.spinner.View()
	case StateSucceeded:
		marker = SuccessStyle.Render("✓")
	case StateFailed:
		marker = ErrorStyle.Render("✗")
	}

	state := StateStyle(row.state).Render(fmt.Sprintf("%-10s", row.state))
	counter := fmt.Sprintf("%d/%d", row.index, row.total)

	line := fmt.Sprintf("%s %s %s %7s", marker, LabelStyle.Render(id.String()), state, counter)
	switch {
	case row.detail != "":
		line += "  " + ErrorStyle.Render(row.detail)
	case row.step != "":
		line += "  " + ValueStyle.Render(row.step)
	}
	return line
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunProgress shows the progress view while work runs. work receives a
// ProgressFunc to hand to the orchestrator and a context that is canceled
// when the user quits. RunProgress returns after work returns.
func RunProgress(ctx context.Context, title string, work func(ctx context.Context, progress runtime.ProgressFunc) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(title, cancel), opts...)

	workErr := make(chan error, 1)
	go func() {
		err := work(ctx, func(pr runtime.Progress) { p.Send(ProgressMsg(pr)) })
		p.Send(DoneMsg{})
		workErr <- err
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-workErr
		return fmt.Errorf("progress view failed: %w", err)
	}
	return <-workErr
}
