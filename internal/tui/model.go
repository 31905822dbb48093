package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ZehViking/simple-io-plugin/internal/source"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Background(lipgloss.Color("#333333")).
			Bold(true).
			Padding(0, 1)
)

// DefaultMaxLines bounds the scrollback kept by the model.
const DefaultMaxLines = 10000

// EventMsg carries a session event and its rendered form into the TUI.
type EventMsg struct {
	Event    source.Event
	Rendered string
}

// ErrMsg carries a source error into the TUI.
type ErrMsg struct {
	Err error
}

// SourceDoneMsg reports that the event stream has been closed.
type SourceDoneMsg struct{}

// Model is the scrolling view over every tailed file.
type Model struct {
	width  int
	height int
	ready  bool

	lines    []string
	maxLines int

	offset     int  // index of the first visible line
	autoScroll bool // stick to bottom when new lines arrive

	// sessions maps a session id to "live" or the kind it ended with.
	sessions map[string]string
	done     bool
}

// NewModel creates a model tracking the given session identifiers.
func NewModel(ids ...string) Model {
	m := Model{
		autoScroll: true,
		maxLines:   DefaultMaxLines,
		sessions:   make(map[string]string, len(ids)),
	}
	for _, id := range ids {
		m.sessions[id] = "live"
	}
	return m
}

// viewHeight returns the number of lines available for display
// (total height minus title bar and status bar).
func (m Model) viewHeight() int {
	// 1 line title + 1 blank + 1 status bar = 3 overhead lines
	h := m.height - 3
	if h < 1 {
		return 1
	}
	return h
}

func (m Model) maxOffset() int {
	max := len(m.lines) - m.viewHeight()
	if max < 0 {
		return 0
	}
	return max
}

func (m *Model) clampOffset() {
	if m.offset < 0 {
		m.offset = 0
	}
	if max := m.maxOffset(); m.offset > max {
		m.offset = max
	}
}

func (m Model) isAtBottom() bool {
	return m.offset >= m.maxOffset()
}

func (m Model) live() int {
	n := 0
	for _, s := range m.sessions {
		if s == "live" {
			n++
		}
	}
	return n
}

func (m *Model) appendLine(s string) {
	m.lines = append(m.lines, s)
	if m.maxLines > 0 && len(m.lines) > m.maxLines {
		drop := len(m.lines) - m.maxLines
		m.lines = append(m.lines[:0], m.lines[drop:]...)
		if !m.autoScroll {
			m.offset -= drop
		}
	}
	if m.autoScroll {
		m.offset = m.maxOffset()
	}
	m.clampOffset()
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			m.autoScroll = false
			m.offset++
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "k", "up":
			m.autoScroll = false
			m.offset--
			m.clampOffset()
		case "g", "home":
			m.autoScroll = false
			m.offset = 0
		case "G", "end":
			m.offset = m.maxOffset()
			m.autoScroll = true
		case "pgdown", "f", "ctrl+f":
			m.autoScroll = false
			m.offset += m.viewHeight()
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "pgup", "b", "ctrl+b":
			m.autoScroll = false
			m.offset -= m.viewHeight()
			m.clampOffset()
		case "d", "ctrl+d":
			m.autoScroll = false
			m.offset += m.viewHeight() / 2
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "u", "ctrl+u":
			m.autoScroll = false
			m.offset -= m.viewHeight() / 2
			m.clampOffset()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		if m.autoScroll {
			m.offset = m.maxOffset()
		}
		m.clampOffset()

	case EventMsg:
		if msg.Event.Terminal {
			m.sessions[msg.Event.ID] = msg.Event.Kind.String()
		} else if _, ok := m.sessions[msg.Event.ID]; !ok {
			m.sessions[msg.Event.ID] = "live"
		}
		m.appendLine(msg.Rendered)

	case ErrMsg:
		m.appendLine(fmt.Sprintf("ERROR: %v", msg.Err))

	case SourceDoneMsg:
		m.done = true
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("simpleio tail"))
	b.WriteByte('\n')

	vh := m.viewHeight()
	if len(m.lines) == 0 {
		for i := 0; i < vh; i++ {
			if i == vh/2-1 {
				b.WriteString("  No lines yet.")
			} else if i == vh/2 {
				b.WriteString("  Waiting for files to grow...")
			}
			b.WriteByte('\n')
		}
	} else {
		end := m.offset + vh
		if end > len(m.lines) {
			end = len(m.lines)
		}
		start := m.offset
		if start < 0 {
			start = 0
		}
		rendered := 0
		for i := start; i < end; i++ {
			b.WriteString(m.lines[i])
			b.WriteByte('\n')
			rendered++
		}
		for i := rendered; i < vh; i++ {
			b.WriteByte('\n')
		}
	}

	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) statusLine() string {
	total := len(m.lines)
	scrollInfo := "bottom"
	if total > 0 && !m.isAtBottom() {
		pct := 0
		if m.maxOffset() > 0 {
			pct = m.offset * 100 / m.maxOffset()
		}
		scrollInfo = fmt.Sprintf("%d%%", pct)
	}

	sessions := fmt.Sprintf(" %d/%d live ", m.live(), len(m.sessions))
	if m.done {
		sessions = fmt.Sprintf(" %d ended ", len(m.sessions))
	}

	left := statusKeyStyle.Render("Lines:") + statusBarStyle.Render(fmt.Sprintf(" %d ", total))
	mid := statusKeyStyle.Render("Sessions:") + statusBarStyle.Render(sessions)
	right := statusKeyStyle.Render("Pos:") + statusBarStyle.Render(fmt.Sprintf(" %s ", scrollInfo))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(mid) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Render(left + mid + strings.Repeat(" ", gap) + right)
}

// Ended returns the sessions that have delivered their terminal event,
// with the kind they ended with, sorted by id.
func (m Model) Ended() []string {
	var out []string
	for id, s := range m.sessions {
		if s != "live" {
			out = append(out, Label(id)+": "+s)
		}
	}
	sort.Strings(out)
	return out
}

// ListenForEvents forwards events and errors from src to the program until
// src closes its channels. Call it once after the program is created.
func ListenForEvents(src source.Source, r *Renderer, prog *tea.Program) {
	go func() {
		for e := range src.Lines() {
			prog.Send(EventMsg{Event: e, Rendered: r.RenderEvent(e)})
		}
		prog.Send(SourceDoneMsg{})
	}()
	go func() {
		for err := range src.Errors() {
			prog.Send(ErrMsg{Err: err})
		}
	}()
}
