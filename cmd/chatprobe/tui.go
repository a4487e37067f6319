package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/codefionn/marktkanal/internal/channel"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	typingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

const errorDisplayDuration = 5 * time.Second

// Messages pushed into the program from the channel callbacks.
type (
	assistantMsg  channel.Message
	statusMsg     channel.Status
	typingMsg     bool
	channelErrMsg struct{ err *channel.ChannelError }
	clearErrMsg   struct{}
)

// chatEntry is one rendered transcript line.
type chatEntry struct {
	role      string
	text      string
	timestamp string
}

type model struct {
	viewport viewport.Model
	input    textinput.Model
	ch       *channel.Channel

	entries []chatEntry
	status  channel.Status
	typing  bool
	lastErr string
	ready   bool
	width   int
	height  int
}

func newModel(ch *channel.Channel, recent []chatEntry) model {
	input := textinput.New()
	input.Placeholder = "Type a message... (Esc to quit)"
	input.Focus()
	input.CharLimit = 2000

	return model{
		input:   input,
		ch:      ch,
		entries: recent,
		status:  ch.Status(),
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 1
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			if _, err := m.ch.Send(text); err != nil {
				m.lastErr = err.Error()
				return m, clearErrAfter()
			}
			m.appendEntry(chatEntry{role: "you", text: text, timestamp: time.Now().Format("15:04")})
			return m, nil
		}

	case assistantMsg:
		m.typing = false
		m.appendEntry(chatEntry{role: "assistant", text: msg.Text, timestamp: time.Now().Format("15:04")})
		return m, nil

	case statusMsg:
		m.status = channel.Status(msg)
		return m, nil

	case typingMsg:
		m.typing = bool(msg)
		return m, nil

	case channelErrMsg:
		m.lastErr = msg.err.Message
		if msg.err.Kind.Terminal() {
			// Terminal errors stay on screen; there is nothing left to retry.
			return m, nil
		}
		return m, clearErrAfter()

	case clearErrMsg:
		m.lastErr = ""
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) appendEntry(e chatEntry) {
	m.entries = append(m.entries, e)
	m.refreshViewport()
	m.viewport.GotoBottom()
}

func (m *model) refreshViewport() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, e := range m.entries {
		label := userStyle.Render(e.role)
		body := assistantStyle.Render(e.text)
		if e.role == "you" {
			body = e.text
		}
		b.WriteString(fmt.Sprintf("%s %s  %s\n", statusBarStyle.Render(e.timestamp), label, body))
	}
	m.viewport.SetContent(b.String())
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}

	header := statusBarStyle.Render(fmt.Sprintf(" thread %s · %s", m.ch.ThreadID(), m.status))

	footer := m.input.View()
	if m.typing {
		footer = typingStyle.Render("assistant is typing...") + "\n" + footer
	} else {
		footer = "\n" + footer
	}
	if m.lastErr != "" {
		footer += "\n" + errorStyle.Render(m.lastErr)
	} else {
		footer += "\n"
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

func clearErrAfter() tea.Cmd {
	return tea.Tick(errorDisplayDuration, func(time.Time) tea.Msg {
		return clearErrMsg{}
	})
}
