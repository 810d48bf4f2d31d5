package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

func update(t *testing.T, m ProgressModel, msg tea.Msg) (ProgressModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(ProgressModel)
	if !ok {
		t.Fatalf("Update returned %T, want ProgressModel", next)
	}
	return pm, cmd
}

func TestProgressModel_DeviceLifecycle(t *testing.T) {
	m := NewProgressModel("program fw.hex", nil)

	m, _ = update(t, m, ProgressMsg{Device: 200, Step: "connect", Total: 4})
	m, _ = update(t, m, ProgressMsg{Device: 100, Step: "connect", Total: 4})

	if m.rows[100].state != StateConnecting {
		t.Errorf("state = %q, want %q", m.rows[100].state, StateConnecting)
	}
	if m.order[0] != 100 || m.order[1] != 200 {
		t.Errorf("order = %v, want sorted serials", m.order)
	}

	m, _ = update(t, m, ProgressMsg{Device: 100, Step: "write(0x00000000+256)", Index: 2, Total: 4})
	if m.rows[100].state != StateRunning || m.rows[100].index != 2 {
		t.Errorf("row = %+v, want running at step 2", *m.rows[100])
	}

	ok := &types.Outcome{Device: 100, Status: types.OutcomeSuccess}
	failed := &types.Outcome{Device: 200, Status: types.OutcomeFailed, Kind: types.ErrorConnection, Step: "connect"}
	m, _ = update(t, m, ProgressMsg{Device: 100, Step: "done", Total: 4, Outcome: ok})
	m, _ = update(t, m, ProgressMsg{Device: 200, Step: "done", Total: 4, Outcome: failed})

	succeeded, nFailed, active := m.Counts()
	if succeeded != 1 || nFailed != 1 || active != 0 {
		t.Errorf("Counts = %d/%d/%d, want 1/1/0", succeeded, nFailed, active)
	}
	if m.rows[100].index != 4 {
		t.Errorf("succeeded device index = %d, want 4", m.rows[100].index)
	}

	view := m.View()
	for _, want := range []string{"100", "200", "connection_failure at connect", "Succeeded", "Failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestProgressModel_DoneQuits(t *testing.T) {
	m := NewProgressModel("recover", nil)
	m, cmd := update(t, m, DoneMsg{})

	if !m.done {
		t.Error("done should be set")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("DoneMsg should produce tea.Quit")
	}
	if strings.Contains(m.View(), "Press q") {
		t.Error("help line should be hidden once the run is done")
	}
}

func TestProgressModel_QuitCancelsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	m := NewProgressModel("program", cancel)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !m.quitting {
		t.Error("quitting should be set")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if ctx.Err() == nil {
		t.Error("quitting before the run finished should cancel it")
	}
	if m.View() != "" {
		t.Error("view should be empty after quitting")
	}
}

func TestProgressModel_QuitAfterDoneKeepsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m := NewProgressModel("program", cancel)

	m, _ = update(t, m, DoneMsg{})
	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})

	if ctx.Err() != nil {
		t.Error("quitting after the run finished must not cancel")
	}
}

func TestStateStyle(t *testing.T) {
	tests := []struct {
		state string
		want  lipgloss.TerminalColor
	}{
		{StateSucceeded, successColor},
		{"success", successColor},
		{StateRunning, warningColor},
		{StateConnecting, warningColor},
		{StateFailed, errorColor},
		{StatePending, lipgloss.Color("#FFFFFF")},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := StateStyle(tt.state).GetForeground(); got != tt.want {
				t.Errorf("StateStyle(%q) foreground = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestRunProgress_ReturnsWorkError(t *testing.T) {
	boom := errors.New("enumeration failed")

	err := RunProgress(t.Context(), "program", func(ctx context.Context, progress runtime.ProgressFunc) error {
		progress(runtime.Progress{Device: 1, Step: "connect", Total: 3})
		return boom
	}, tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutSignalHandler())

	if !errors.Is(err, boom) {
		t.Fatalf("RunProgress = %v, want %v", err, boom)
	}
}
