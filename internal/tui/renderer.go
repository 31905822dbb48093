// Package tui renders tail session events for the terminal, either as
// styled lines or inside an interactive scrolling view.
package tui

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ZehViking/simple-io-plugin/internal/source"
	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// TimestampFormat controls how the arrival time of a line is displayed.
type TimestampFormat int

const (
	// TimestampNone hides arrival times.
	TimestampNone TimestampFormat = iota
	// TimestampLocal shows the local wall clock, "15:04:05".
	TimestampLocal
	// TimestampISO shows ISO 8601 format.
	TimestampISO
)

// Theme represents terminal color theme.
type Theme int

const (
	ThemeDark Theme = iota
	ThemeLight
)

// ANSIMode controls how ANSI escape codes in tailed lines are handled.
type ANSIMode int

const (
	ANSIStrip ANSIMode = iota
	ANSIPassthrough
)

// WrapMode controls how long lines are handled.
type WrapMode int

const (
	WrapTruncate WrapMode = iota
	WrapWrap
)

// RenderConfig holds rendering configuration.
type RenderConfig struct {
	TimestampFormat TimestampFormat
	Theme           Theme
	ANSIMode        ANSIMode
	WrapMode        WrapMode
	TerminalWidth   int
	// ShowIDs prefixes every line with its session label. Useful when
	// more than one file is tailed.
	ShowIDs bool
	Now     func() time.Time // for testing; defaults to time.Now
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() RenderConfig {
	return RenderConfig{
		TimestampFormat: TimestampNone,
		Theme:           ThemeDark,
		ANSIMode:        ANSIStrip,
		WrapMode:        WrapTruncate,
		TerminalWidth:   120,
		ShowIDs:         true,
		Now:             time.Now,
	}
}

// Renderer renders session events as styled terminal output.
type Renderer struct {
	config RenderConfig
	styles themeStyles
}

type themeStyles struct {
	labels    []lipgloss.Style
	stopped   lipgloss.Style
	truncated lipgloss.Style
	failed    lipgloss.Style
	timestamp lipgloss.Style
	message   lipgloss.Style
	separator lipgloss.Style
}

func palette(colors ...string) []lipgloss.Style {
	out := make([]lipgloss.Style, len(colors))
	for i, c := range colors {
		out[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Bold(true)
	}
	return out
}

func darkStyles() themeStyles {
	return themeStyles{
		labels:    palette("39", "114", "213", "220", "81", "208", "147"),
		stopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),            // gray
		truncated: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),            // yellow
		failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true), // red bold
		timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),            // dim gray
		message:   lipgloss.NewStyle().Foreground(lipgloss.Color("255")),            // white
		separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),            // dark gray
	}
}

func lightStyles() themeStyles {
	return themeStyles{
		labels:    palette("27", "28", "127", "130", "31", "166", "61"),
		stopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		truncated: lipgloss.NewStyle().Foreground(lipgloss.Color("172")),
		failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		message:   lipgloss.NewStyle().Foreground(lipgloss.Color("0")),
		separator: lipgloss.NewStyle().Foreground(lipgloss.Color("249")),
	}
}

// NewRenderer creates a new Renderer with the given config.
func NewRenderer(config RenderConfig) *Renderer {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.TerminalWidth <= 0 {
		config.TerminalWidth = 120
	}
	var styles themeStyles
	if config.Theme == ThemeLight {
		styles = lightStyles()
	} else {
		styles = darkStyles()
	}
	return &Renderer{config: config, styles: styles}
}

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Label returns the short display name of a session: the base name when
// the identifier is a path, the identifier itself otherwise.
func Label(id string) string {
	if strings.ContainsRune(id, filepath.Separator) || strings.ContainsRune(id, '/') {
		return filepath.Base(id)
	}
	return id
}

// RenderEvent renders a single event as a styled string.
func (r *Renderer) RenderEvent(e source.Event) string {
	var parts []string

	if ts := r.formatTimestamp(); ts != "" {
		parts = append(parts, r.styles.timestamp.Render(ts))
	}
	if r.config.ShowIDs {
		parts = append(parts, r.labelStyle(e.ID).Render(Label(e.ID)))
	}

	if e.Terminal {
		parts = append(parts, r.terminalStyle(e.Kind).Render(terminalText(e)))
	} else {
		msg := e.Line
		if r.config.ANSIMode == ANSIStrip {
			msg = StripANSI(msg)
		}
		parts = append(parts, r.styles.message.Render(msg))
	}

	line := strings.Join(parts, r.styles.separator.Render(" │ "))
	return r.applyWrap(line)
}

// RenderEventPlain renders without styling, for piping to non-terminals.
// Lines are never truncated.
func (r *Renderer) RenderEventPlain(e source.Event) string {
	var parts []string

	if ts := r.formatTimestamp(); ts != "" {
		parts = append(parts, ts)
	}
	if r.config.ShowIDs {
		parts = append(parts, Label(e.ID))
	}
	if e.Terminal {
		parts = append(parts, terminalText(e))
	} else {
		msg := e.Line
		if r.config.ANSIMode == ANSIStrip {
			msg = StripANSI(msg)
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, " │ ")
}

func terminalText(e source.Event) string {
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Kind)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (r *Renderer) labelStyle(id string) lipgloss.Style {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.styles.labels[h.Sum32()%uint32(len(r.styles.labels))]
}

func (r *Renderer) terminalStyle(kind tail.TerminalKind) lipgloss.Style {
	switch kind {
	case tail.Stopped:
		return r.styles.stopped
	case tail.Truncated:
		return r.styles.truncated
	default:
		return r.styles.failed
	}
}

func (r *Renderer) formatTimestamp() string {
	switch r.config.TimestampFormat {
	case TimestampLocal:
		return r.config.Now().Format("15:04:05")
	case TimestampISO:
		return r.config.Now().Format(time.RFC3339)
	default:
		return ""
	}
}

func (r *Renderer) applyWrap(line string) string {
	if r.config.WrapMode == WrapTruncate && r.config.TerminalWidth > 0 {
		if lipgloss.Width(line) > r.config.TerminalWidth {
			return truncateToWidth(line, r.config.TerminalWidth-1) + "…"
		}
	}
	// WrapWrap: the terminal wraps long lines itself.
	return line
}

// truncateToWidth cuts a string with ANSI codes down to a visible width,
// counting runes and keeping escape sequences intact.
func truncateToWidth(s string, width int) string {
	visible := 0
	inEscape := false
	var b strings.Builder
	for _, c := range s {
		if c == '\x1b' {
			inEscape = true
			b.WriteRune(c)
			continue
		}
		if inEscape {
			b.WriteRune(c)
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				inEscape = false
			}
			continue
		}
		if visible >= width {
			continue
		}
		b.WriteRune(c)
		visible++
	}
	return b.String()
}
