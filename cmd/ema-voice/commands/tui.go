package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

const (
	maxNotices       = 5
	controlTimeout   = 2 * time.Second
	transcriptIndent = 6
)

// sessionController is the part of the engine the UI drives.
type sessionController interface {
	BeginTalk() error
	EndTalk() error
	IsTalking() bool
	Interrupt(ctx context.Context) error
	Stop(ctx context.Context, opts ...orchestration.StopOption) error
}

type eventSource interface {
	Next() (events.Event, bool)
}

type engineEventMsg struct{ event events.Event }

type feedClosedMsg struct{}

type stoppedMsg struct{ err error }

type controlErrMsg struct{ err error }

type keyMap struct {
	Talk      key.Binding
	Interrupt key.Binding
	Help      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Talk, k.Interrupt, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Talk, k.Interrupt}, {k.Help, k.Quit, k.ForceQuit}}
}

func newKeyMap() keyMap {
	return keyMap{
		Talk:      key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "talk / stop talking")),
		Interrupt: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "interrupt assistant")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:      key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q", "end session")),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "end now, drop playback")),
	}
}

type styles struct {
	Title     lipgloss.Style
	Status    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Pending   lipgloss.Style
	Tool      lipgloss.Style
	Notice    lipgloss.Style
	Error     lipgloss.Style
	Talking   lipgloss.Style
}

func newStyles() styles {
	primary := lipgloss.Color("#00ff9f")
	dim := lipgloss.Color("#6e7681")
	return styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		Status:    lipgloss.NewStyle().Foreground(dim),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(primary),
		Pending:   lipgloss.NewStyle().Foreground(dim).Italic(true),
		Tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922")),
		Notice:    lipgloss.NewStyle().Foreground(dim),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f85149")),
		Talking:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0d1117")).Background(lipgloss.Color("#f85149")).Padding(0, 1),
	}
}

type activeTool struct {
	name    string
	started time.Time
}

// sessionModel renders the running session: the transcript, tools still
// running and the last few notices.
type sessionModel struct {
	ctrl    sessionController
	feed    eventSource
	channel string

	keys     keyMap
	help     help.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   styles
	width    int
	height   int
	ready    bool

	state      string
	connection string
	attempt    int
	talking    bool
	failure    string

	history   *conversations.History
	open      map[string]conversations.Turn
	openOrder []string
	tools     map[string]activeTool
	toolOrder []string
	notices   []string

	stopping bool
	quitting bool
}

func newSessionModel(ctrl sessionController, feed eventSource, channel string) sessionModel {
	return sessionModel{
		ctrl:       ctrl,
		feed:       feed,
		channel:    channel,
		keys:       newKeyMap(),
		help:       help.New(),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		styles:     newStyles(),
		state:      string(orchestration.StateListening),
		connection: string(orchestration.ConnectionConnected),
		history:    &conversations.History{},
		open:       map[string]conversations.Turn{},
		tools:      map[string]activeTool{},
	}
}

func (m sessionModel) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.spinner.Tick)
}

func (m sessionModel) listen() tea.Cmd {
	return func() tea.Msg {
		event, ok := m.feed.Next()
		if !ok {
			return feedClosedMsg{}
		}
		return engineEventMsg{event: event}
	}
}

func (m sessionModel) stop(opts ...orchestration.StopOption) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return stoppedMsg{err: m.ctrl.Stop(ctx, opts...)}
	}
}

func (m sessionModel) interrupt() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		if err := m.ctrl.Interrupt(ctx); err != nil {
			return controlErrMsg{err: err}
		}
		return nil
	}
}

func (m sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.ForceQuit):
			if m.stopping {
				return m, tea.Quit
			}
			m.stopping = true
			return m, m.stop(orchestration.WithInterruptedPlayback())
		case key.Matches(msg, m.keys.Quit):
			if m.stopping {
				return m, nil
			}
			m.stopping = true
			return m, m.stop()
		case key.Matches(msg, m.keys.Talk):
			m.toggleTalk()
		case key.Matches(msg, m.keys.Interrupt):
			cmds = append(cmds, m.interrupt())
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.resize()

	case engineEventMsg:
		m.handleEvent(msg.event)
		m.resize()
		cmds = append(cmds, m.listen())

	case feedClosedMsg:

	case stoppedMsg:
		m.quitting = true
		if msg.err != nil {
			m.addNotice(fmt.Sprintf("stop: %v", msg.err))
		}
		return m, tea.Quit

	case controlErrMsg:
		m.addNotice(msg.err.Error())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *sessionModel) toggleTalk() {
	var err error
	if m.ctrl.IsTalking() {
		err = m.ctrl.EndTalk()
	} else {
		err = m.ctrl.BeginTalk()
	}
	if err != nil {
		m.addNotice(err.Error())
	}
	m.talking = m.ctrl.IsTalking()
}

func (m *sessionModel) handleEvent(event events.Event) {
	switch e := event.(type) {
	case events.SessionStateChanged:
		m.state = e.To
		if e.To == string(orchestration.StateClosed) || e.To == string(orchestration.StateFailed) {
			m.talking = false
		}

	case events.SessionFailed:
		m.failure = e.Error

	case events.ConnectionStateChanged:
		m.connection, m.attempt = e.State, e.Attempt

	case events.TurnStarted:
		m.setOpen(conversations.Turn{ID: e.TurnID, Speaker: e.Speaker, StartedAt: e.Timestamp()})

	case events.TurnUpdated:
		m.setOpen(e.Turn)

	case events.TurnFinalized:
		delete(m.open, e.Turn.ID)
		m.openOrder = slices.DeleteFunc(m.openOrder, func(id string) bool { return id == e.Turn.ID })
		m.history.Push(e.Turn)

	case events.ToolCallRequested:
		m.setTool(e.ID, e.Name, e.Timestamp())

	case events.ToolCallStarted:
		m.setTool(e.ID, e.Name, e.Timestamp())

	case events.ToolCallCompleted:
		m.removeTool(e.ID)

	case events.ToolCallFailed:
		m.removeTool(e.ID)
		m.addNotice(fmt.Sprintf("%s failed (%s): %s", e.Name, e.ErrorKind, e.Error))

	case events.PlaybackInterrupted:
		if e.BargeIn {
			m.addNotice(fmt.Sprintf("barge-in, %d chunks of playback dropped", e.Discarded))
		} else {
			m.addNotice(fmt.Sprintf("interrupted, %d chunks of playback dropped", e.Discarded))
		}

	case events.CaptureChunksDropped:
		m.addNotice(fmt.Sprintf("%d microphone chunks dropped (%d total)", e.Dropped, e.Total))
	}
}

func (m *sessionModel) setOpen(turn conversations.Turn) {
	if _, ok := m.open[turn.ID]; !ok {
		m.openOrder = append(m.openOrder, turn.ID)
	}
	m.open[turn.ID] = turn
}

func (m *sessionModel) setTool(id, name string, started time.Time) {
	if _, ok := m.tools[id]; ok {
		return
	}
	m.tools[id] = activeTool{name: name, started: started}
	m.toolOrder = append(m.toolOrder, id)
}

func (m *sessionModel) removeTool(id string) {
	delete(m.tools, id)
	m.toolOrder = slices.DeleteFunc(m.toolOrder, func(other string) bool { return other == id })
}

func (m *sessionModel) addNotice(notice string) {
	m.notices = append(m.notices, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), notice))
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

// resize lays the transcript viewport out around the header and footer.
func (m *sessionModel) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	footer := lipgloss.Height(m.footerView())
	height := max(1, m.height-1-footer)

	if !m.ready {
		m.viewport = viewport.New(m.width, height)
		m.ready = true
	} else {
		m.viewport.Width, m.viewport.Height = m.width, height
	}
	m.refresh()
}

func (m *sessionModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcript(m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m sessionModel) transcript(width int) string {
	textWidth := max(10, width-transcriptIndent)

	var b strings.Builder
	for turn := range m.history.Values() {
		b.WriteString(m.renderTurn(turn, textWidth, false))
	}
	for _, id := range m.openOrder {
		b.WriteString(m.renderTurn(m.open[id], textWidth, true))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m sessionModel) renderTurn(turn conversations.Turn, width int, open bool) string {
	label := m.styles.User.Render("you")
	if turn.Speaker == conversations.SpeakerAssistant {
		label = m.styles.Assistant.Render("ema")
	}

	text := turn.DisplayText()
	if turn.Interrupted {
		text += " (interrupted)"
	}
	body := wordwrap.String(text, width)
	if open {
		body = m.styles.Pending.Render(body)
	}

	var lines []string
	for _, invocation := range turn.ToolInvocations {
		lines = append(lines, m.styles.Tool.Render(fmt.Sprintf("[%s %s]", invocation.Name, invocation.Status)))
	}
	if body != "" {
		lines = append(lines, body)
	}
	if len(lines) == 0 {
		return ""
	}

	// The label replaces the start of the first line's indent.
	rendered := indent.String(strings.Join(lines, "\n"), transcriptIndent)
	return label + rendered[lipgloss.Width(label):] + "\n"
}

func (m sessionModel) headerView() string {
	status := fmt.Sprintf("%s | %s", m.state, m.connection)
	if m.connection == string(orchestration.ConnectionReconnecting) && m.attempt > 0 {
		status = fmt.Sprintf("%s | reconnecting (attempt %d)", m.state, m.attempt)
	}

	header := m.styles.Title.Render("ema") + m.styles.Status.Render(fmt.Sprintf("[%s] %s", m.channel, status))
	if m.talking {
		header += " " + m.styles.Talking.Render("TALKING")
	}
	return header
}

func (m sessionModel) footerView() string {
	var lines []string
	for _, id := range m.toolOrder {
		tool := m.tools[id]
		elapsed := time.Since(tool.started).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s %s %s", m.spinner.View(), m.styles.Tool.Render(tool.name), m.styles.Status.Render(elapsed.String())))
	}
	for _, notice := range m.notices {
		lines = append(lines, m.styles.Notice.Render(notice))
	}
	if m.failure != "" {
		lines = append(lines, m.styles.Error.Render("session failed: "+m.failure))
	}
	lines = append(lines, m.help.View(m.keys))
	return strings.Join(lines, "\n")
}

func (m sessionModel) View() string {
	if m.quitting {
		return "Session ended.\n"
	}
	if !m.ready {
		return "Starting..."
	}
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.footerView()
}
