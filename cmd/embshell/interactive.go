package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/embshell/shell"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	globalsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxHistory bounds the entries kept on screen.
const maxHistory = 50

type entry struct {
	input  string
	output string
	report string
}

type interactiveModel struct {
	err         error
	ctx         context.Context
	cancel      context.CancelFunc
	session     *shell.Session
	stdout      *bytes.Buffer
	stderr      *bytes.Buffer
	cfg         shell.Config
	history     []entry
	input       textinput.Model
	running     bool
	showGlobals bool
}

type sessionMsg struct {
	err     error
	session *shell.Session
}

type execResultMsg struct {
	entry entry
}

func newInteractiveModel(cfg shell.Config) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = shell.Prompt
	ti.Placeholder = "guest code or \\s / \\e meta-command"
	ti.Width = 72
	ti.Focus()

	ctx, cancel := context.WithCancel(context.Background())
	return &interactiveModel{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		stdout:      &bytes.Buffer{},
		stderr:      &bytes.Buffer{},
		input:       ti,
		showGlobals: cfg.Dumping(),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.openSession)
}

func (m *interactiveModel) openSession() tea.Msg {
	s, err := shell.New(m.ctx, m.cfg,
		shell.WithStdout(m.stdout),
		shell.WithStderr(m.stderr),
		shell.WithPrompt(&bytes.Buffer{}))
	return sessionMsg{session: s, err: err}
}

func (m *interactiveModel) execute(line string) tea.Cmd {
	return func() tea.Msg {
		m.stdout.Reset()
		m.stderr.Reset()
		err := m.session.ExecuteLine(m.ctx, line)
		m.session.Report(err)
		return execResultMsg{entry: entry{
			input:  line,
			output: m.stdout.String(),
			report: m.stderr.String(),
		}}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancel()
			if m.session != nil {
				_ = m.session.Close()
			}
			return m, tea.Quit

		case "tab":
			m.showGlobals = !m.showGlobals
			return m, nil

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.running || m.session == nil {
				return m, nil
			}
			m.running = true
			m.input.SetValue("")
			return m, m.execute(line)
		}

	case sessionMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session

	case execResultMsg:
		m.running = false
		m.history = append(m.history, msg.entry)
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if m.session == nil {
		return "Starting session..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("embshell"))
	b.WriteString(" ")
	b.WriteString(m.session.Backend().Name())
	b.WriteString("\n\n")

	for _, e := range m.history {
		b.WriteString(inputStyle.Render(shell.Prompt + e.input))
		b.WriteString("\n")
		if e.output != "" {
			b.WriteString(resultStyle.Render(strings.TrimRight(e.output, "\n")))
			b.WriteString("\n")
		}
		if e.report != "" {
			b.WriteString(errorStyle.Render(strings.TrimRight(e.report, "\n")))
			b.WriteString("\n")
		}
	}

	if m.showGlobals && !m.running && len(m.cfg.Globals) > 0 {
		var dump bytes.Buffer
		m.session.Dump(&dump)
		b.WriteString("\n")
		b.WriteString(globalsStyle.Render(strings.TrimRight(dump.String(), "\n")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.running {
		b.WriteString(helpStyle.Render("running..."))
	} else {
		b.WriteString(helpStyle.Render("enter run • tab globals • esc quit"))
	}

	return b.String()
}

func runInteractive(cfg shell.Config) error {
	p := tea.NewProgram(newInteractiveModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
