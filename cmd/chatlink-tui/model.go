package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1).
			MarginLeft(2)

	resultStyle = lipgloss.NewStyle().
			MarginLeft(4)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			MarginLeft(4)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

var connColors = map[connectivity.Status]lipgloss.Color{
	connectivity.StatusConnected:    lipgloss.Color("#00FF00"),
	connectivity.StatusConnecting:   lipgloss.Color("#FFFF00"),
	connectivity.StatusDisconnected: lipgloss.Color("#FF0000"),
}

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	More      key.Binding
	Offline   key.Binding
	Reconnect key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "ctrl+p"),
		key.WithHelp("↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "ctrl+n"),
		key.WithHelp("↓", "down"),
	),
	More: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "load more"),
	),
	Offline: key.NewBinding(
		key.WithKeys("ctrl+o"),
		key.WithHelp("ctrl+o", "offline mode"),
	),
	Reconnect: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "reconnect"),
	),
	Quit: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("esc", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.More, k.Offline, k.Reconnect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// Messages carrying snapshots from the subscriptions
type (
	searchMsg  search.State
	connMsg    connectivity.State
	networkMsg netstatus.Status
)

// controls is what the model drives; *app implements it
type controls interface {
	SetQuery(q string)
	LoadMore()
	SetOffline(active bool)
	Reconnect()
}

type model struct {
	ctl     controls
	updates <-chan tea.Msg
	input   textinput.Model
	help    help.Model
	keys    keyMap
	label   string // item field shown per result

	search  search.State
	conn    connectivity.State
	network netstatus.Status
	cursor  int
	width   int
	height  int
}

func newModel(ctl controls, updates <-chan tea.Msg, label string) model {
	ti := textinput.New()
	ti.Placeholder = "Search contacts"
	ti.CharLimit = 120
	ti.Width = 50
	ti.Focus()

	return model{
		ctl:     ctl,
		updates: updates,
		input:   ti,
		help:    help.New(),
		keys:    keys,
		label:   label,
	}
}

// waitForUpdate delivers the next snapshot from the subscriptions
func waitForUpdate(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case searchMsg:
		m.search = search.State(msg)
		if m.cursor >= len(m.search.Results) {
			m.cursor = max(0, len(m.search.Results)-1)
		}
		return m, waitForUpdate(m.updates)

	case connMsg:
		m.conn = connectivity.State(msg)
		return m, waitForUpdate(m.updates)

	case networkMsg:
		m.network = netstatus.Status(msg)
		return m, waitForUpdate(m.updates)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.search.Results)-1 {
				m.cursor++
			} else {
				m.ctl.LoadMore()
			}
			return m, nil
		case key.Matches(msg, m.keys.More):
			m.ctl.LoadMore()
			return m, nil
		case key.Matches(msg, m.keys.Offline):
			m.ctl.SetOffline(!m.network.Offline)
			return m, nil
		case key.Matches(msg, m.keys.Reconnect):
			m.ctl.Reconnect()
			return m, nil
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.cursor = 0
		m.ctl.SetQuery(m.input.Value())
	}
	return m, cmd
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("💬 chatlink search"))
	s.WriteString("\n")

	if banner := m.banner(); banner != "" {
		s.WriteString("  " + bannerStyle.Render(banner) + "\n")
	}

	s.WriteString(inputStyle.Render(m.input.View()))
	s.WriteString("\n\n")
	s.WriteString(m.renderResults())
	s.WriteString("\n")
	s.WriteString(m.renderStatusBar())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

// banner mirrors the connectivity notices of the mobile client
func (m model) banner() string {
	switch {
	case m.network.Offline:
		return "Offline mode"
	case !m.network.LastChecked.IsZero() && !m.network.Available():
		return "No internet connection"
	case m.conn.Status == connectivity.StatusConnecting && m.conn.Attempts > 0:
		return fmt.Sprintf("Reconnecting (attempt %d)", m.conn.Attempts)
	}
	return ""
}

func (m model) visibleRows() int {
	rows := m.height - 12
	if rows < 5 {
		rows = 5
	}
	return rows
}

func (m model) renderResults() string {
	st := m.search
	var s strings.Builder

	if st.Error != "" {
		s.WriteString(resultStyle.Render(errorStyle.Render("✗ "+st.Error)) + "\n")
	}

	results := st.Results
	if st.Query == "" && len(results) == 0 {
		results = st.DefaultResults
	}
	if len(results) == 0 {
		switch {
		case st.Loading || st.LoadingDefault:
			s.WriteString(resultStyle.Render(dimStyle.Render("Searching...")) + "\n")
		case st.Query != "":
			s.WriteString(resultStyle.Render(dimStyle.Render("No results")) + "\n")
		}
		return s.String()
	}

	start := 0
	if rows := m.visibleRows(); m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := min(len(results), start+m.visibleRows())

	for i := start; i < end; i++ {
		line := results[i].Field(m.label)
		if line == "" {
			line = fmt.Sprint(map[string]any(results[i]))
		}
		if i == m.cursor {
			s.WriteString(selectedStyle.Render("› "+line) + "\n")
		} else {
			s.WriteString(resultStyle.Render("  "+line) + "\n")
		}
	}

	if st.LoadingMore || st.LoadingMoreDefault {
		s.WriteString(resultStyle.Render(dimStyle.Render("Loading more...")) + "\n")
	}
	return s.String()
}

func (m model) renderStatusBar() string {
	status := m.conn.Status
	if status == "" {
		status = connectivity.StatusDisconnected
	}
	conn := lipgloss.NewStyle().Foreground(connColors[status]).Render("● " + string(status))
	if m.conn.Latency > 0 {
		conn += fmt.Sprintf(" %dms", m.conn.Latency.Milliseconds())
	}

	network := "online"
	if !m.network.Available() {
		network = "offline"
	}

	count := fmt.Sprintf("%d results", len(m.search.Results))
	if m.search.HasMore {
		count += "+"
	}

	parts := []string{conn, "net: " + network, count}
	if m.conn.QueuedEvents > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", m.conn.QueuedEvents))
	}
	if cs := m.search.CacheStats; cs != nil {
		parts = append(parts, fmt.Sprintf("cache %d/%d", cs.Valid, cs.Valid+cs.Expired))
	}
	return "  " + statusBarStyle.Render(strings.Join(parts, "  │  "))
}
