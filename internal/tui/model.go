package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/control"
	"github.com/vitaminmoo/esplink/internal/protocol"
	"github.com/vitaminmoo/esplink/internal/session"
)

// Controller is what the TUI needs from the control layer.
type Controller interface {
	Connect()
	Send(text string)
	Disconnect()
	QuickCommand(name string) error
	QuickCommands() []config.QuickCommand
	Status() control.Status
	Results() <-chan control.Result
	Payloads() <-chan protocol.Notification
	Events() <-chan session.Event
}

const (
	maxLogLines    = 500
	statusInterval = 500 * time.Millisecond
)

type direction int

const (
	dirInfo direction = iota
	dirIn
	dirOut
	dirError
)

type logLine struct {
	at   time.Time
	dir  direction
	text string
}

// Model is the main Bubbletea model for the TUI.
type Model struct {
	ctrl Controller

	// State
	status    control.Status
	lines     []logLine
	width     int
	height    int
	typing    bool
	statusMsg string

	// Components
	input    textinput.Model
	viewport viewport.Model
	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	styles   Styles

	now func() time.Time
}

// --- Custom messages for async operations ---

type resultMsg control.Result

type payloadMsg protocol.Notification

type eventMsg session.Event

type statusTickMsg time.Time

// channelClosedMsg is returned by a listener whose channel was closed.
type channelClosedMsg struct{}

func NewModel(ctrl Controller) Model {
	h := help.New()
	h.ShowAll = false // Use ShortHelp for horizontal layout

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	ti := textinput.New()
	ti.Placeholder = "command for the peripheral"
	ti.Prompt = "> "
	ti.CharLimit = 512

	return Model{
		ctrl:     ctrl,
		status:   ctrl.Status(),
		input:    ti,
		viewport: viewport.New(80, 10),
		keys:     DefaultKeyMap(),
		help:     h,
		spinner:  s,
		styles:   DefaultStyles(),
		now:      time.Now,
	}
}

// Init starts connecting right away, like the device app did on launch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(m.ctrl),
		waitForResult(m.ctrl.Results()),
		waitForPayload(m.ctrl.Payloads()),
		waitForEvent(m.ctrl.Events()),
		statusTickCmd(),
		m.spinner.Tick,
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusTickMsg:
		m.status = m.ctrl.Status()
		return m, statusTickCmd()

	case eventMsg:
		m.status = m.ctrl.Status()
		switch msg.Phase {
		case session.Ready:
			m.appendLine(dirInfo, fmt.Sprintf("connected to %s (MTU %d)", m.status.Peripheral, m.status.TransferSize))
		case session.Idle:
			if msg.Err != nil {
				m.appendLine(dirError, msg.Err.Error())
			}
		}
		return m, waitForEvent(m.ctrl.Events())

	case payloadMsg:
		m.appendLine(dirIn, protocol.Notification(msg).Text())
		return m, waitForPayload(m.ctrl.Payloads())

	case resultMsg:
		m.status = m.ctrl.Status()
		m.handleResult(control.Result(msg))
		return m, waitForResult(m.ctrl.Results())

	case channelClosedMsg:
		return m, nil
	}

	return m, nil
}

func (m *Model) handleResult(r control.Result) {
	switch r.Op {
	case control.OpConnect:
		if r.Err != nil {
			m.statusMsg = fmt.Sprintf("Connection failed: %v", r.Err)
			return
		}
		m.statusMsg = ""
	case control.OpSend:
		if r.Err != nil {
			m.appendLine(dirError, fmt.Sprintf("send %q failed: %v", r.Text, r.Err))
			return
		}
		m.appendLine(dirOut, r.Text)
	case control.OpDisconnect:
		if r.Err != nil {
			m.statusMsg = fmt.Sprintf("Disconnect failed: %v", r.Err)
			return
		}
		connectKey := m.keys.Connect.Help().Key
		m.statusMsg = fmt.Sprintf("Press '%s' to reconnect", connectKey)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.typing {
		return m.handleInputKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil

	case key.Matches(msg, m.keys.Connect):
		if !m.status.Connected() && !m.status.Busy() {
			m.statusMsg = "Searching..."
			return m, connectCmd(m.ctrl)
		}
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		if m.status.Phase != session.Idle {
			m.ctrl.Disconnect()
		}
		return m, nil

	case key.Matches(msg, m.keys.Input):
		m.typing = true
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Clear):
		m.lines = nil
		m.refreshLog()
		return m, nil

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// Quick commands are bound to single keys from the config.
	for _, qc := range m.ctrl.QuickCommands() {
		if qc.Key != "" && msg.String() == qc.Key {
			if err := m.ctrl.QuickCommand(qc.Key); err != nil {
				m.appendLine(dirError, err.Error())
			}
			return m, nil
		}
	}

	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit

	case key.Matches(msg, m.keys.Back):
		m.typing = false
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		m.ctrl.Send(text)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) appendLine(dir direction, text string) {
	m.lines = append(m.lines, logLine{at: m.now(), dir: dir, text: text})
	if over := len(m.lines) - maxLogLines; over > 0 {
		m.lines = m.lines[over:]
	}
	m.refreshLog()
}

func (m *Model) refreshLog() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderLog())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// resize gives the log whatever height the fixed rows leave.
func (m *Model) resize() {
	if m.width == 0 {
		return
	}
	fixed := 10
	if m.help.ShowAll {
		fixed += 3
	}
	m.viewport.Width = max(m.width-4, 20)
	m.viewport.Height = max(m.height-fixed, 3)
	m.input.Width = max(m.width-10, 10)
	m.refreshLog()
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar("esplink"))
	b.WriteString("\n")

	if m.status.LastError != "" && !m.status.Connected() {
		b.WriteString(m.styles.Error.Render(m.status.LastError))
		b.WriteString("\n")
	} else if m.statusMsg != "" {
		b.WriteString(m.styles.Muted.Render(m.statusMsg))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	input := m.input.View()
	if !m.typing {
		input = m.styles.Muted.Render(fmt.Sprintf("[%s] to type a command", m.keys.Input.Help().Key))
	}
	b.WriteString(m.styles.Input.Render(input))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	helpView := m.styles.Help.Render(m.help.View(m.keys))
	return m.styles.App.Render(b.String() + "\n" + helpView)
}

// renderTitleBar renders the title with the connection status.
func (m Model) renderTitleBar(title string) string {
	var parts []string
	parts = append(parts, m.styles.Title.Render(title))

	switch {
	case m.status.Busy():
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render(m.status.Display))
		if m.status.Peripheral != "" {
			parts = append(parts, m.styles.Muted.Render(m.status.Peripheral))
		}
	case m.status.Connected():
		parts = append(parts, m.styles.StatusOnline.Render("● "+m.status.Display))
		parts = append(parts, m.styles.Muted.Render(m.status.Peripheral))
		parts = append(parts, m.styles.Muted.Render(fmt.Sprintf("MTU %d", m.status.TransferSize)))
	default:
		parts = append(parts, m.styles.StatusOffline.Render("○ "+m.status.Display))
	}

	return m.styles.TitleBar.Render(strings.Join(parts, "  "))
}

func (m Model) renderStatusBar() string {
	var parts []string
	for _, qc := range m.ctrl.QuickCommands() {
		if qc.Key == "" {
			continue
		}
		parts = append(parts, m.styles.StatusKey.Render(qc.Key)+m.styles.StatusValue.Render(qc.Label))
	}
	if m.status.Dropped > 0 {
		parts = append(parts, m.styles.StatusKey.Render("dropped")+m.styles.StatusValue.Render(fmt.Sprint(m.status.Dropped)))
	}
	if len(parts) == 0 {
		return ""
	}
	return m.styles.StatusBar.Render(strings.Join(parts, ""))
}

func (m Model) renderLog() string {
	if len(m.lines) == 0 {
		return m.styles.Muted.Render("No messages yet.")
	}
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.styles.Timestamp.Render(l.at.Format("15:04:05")))
		b.WriteString(" ")
		switch l.dir {
		case dirIn:
			b.WriteString(m.styles.Incoming.Render("← " + l.text))
		case dirOut:
			b.WriteString(m.styles.Outgoing.Render("→ " + l.text))
		case dirError:
			b.WriteString(m.styles.Error.Render("! " + l.text))
		default:
			b.WriteString(m.styles.Muted.Render("· " + l.text))
		}
	}
	return b.String()
}

// --- Async commands ---

func connectCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Connect()
		return nil
	}
}

func waitForResult(ch <-chan control.Result) tea.Cmd {
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return resultMsg(r)
	}
}

func waitForPayload(ch <-chan protocol.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return payloadMsg(n)
	}
}

func waitForEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(e)
	}
}

func statusTickCmd() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}
