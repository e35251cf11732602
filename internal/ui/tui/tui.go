// Package tui shows a spinner while a command is being synthesized and
// styles the final output.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI drives a bubbletea program from the pipeline's goroutine.
type TUI struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

// Start runs the spinner on out until Release. interrupt is called when the
// user presses ctrl+c, since the program owns the terminal's raw mode.
func Start(out io.Writer, title string, interrupt func()) *TUI {
	p := tea.NewProgram(NewModel(title, interrupt), tea.WithOutput(out))
	t := &TUI{program: p, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		_, _ = p.Run()
	}()
	return t
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

// Release stops the program and waits until the terminal is restored.
func (t *TUI) Release() {
	t.once.Do(func() {
		t.program.Quit()
		<-t.done
	})
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#777777"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	commandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

// RenderCommand frames a command for display.
func RenderCommand(cmd string) string {
	return commandStyle.Render(cmd)
}

func RenderNotice(msg string) string {
	return infoStyle.Render(msg)
}

func RenderError(msg string) string {
	return errorStyle.Render(msg)
}

// maxLog bounds the log lines kept under the spinner.
const maxLog = 5

type Model struct {
	Title     string
	Status    string
	Log       []string
	Spinner   spinner.Model
	Quitting  bool
	interrupt func()
}

type LogMsg string
type StatusMsg string

func NewModel(title string, interrupt func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = infoStyle
	return Model{
		Title:     title,
		Status:    "starting",
		Spinner:   s,
		interrupt: interrupt,
	}
}

func (m Model) Init() tea.Cmd {
	return m.Spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.Quitting = true
			if m.interrupt != nil {
				m.interrupt()
			}
			return m, tea.Quit
		}

	case LogMsg:
		m.Log = append(m.Log, string(msg))
		if len(m.Log) > maxLog {
			m.Log = m.Log[len(m.Log)-maxLog:]
		}

	case StatusMsg:
		m.Status = string(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", titleStyle.Render(m.Title), m.Spinner.View(), infoStyle.Render(m.Status))
	for _, line := range m.Log {
		b.WriteString(mutedStyle.Render("  "+line) + "\n")
	}
	return b.String()
}
