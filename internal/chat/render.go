package chat

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tokligence/chatrelay/internal/conversation"
)

const loadingIndicator = "…"

var (
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
)

// TerminalRenderer prints a streamed reply to a line-oriented terminal.
// The reply arrives as cumulative text; only the part not yet printed is written.
type TerminalRenderer struct {
	w       io.Writer
	styled  bool
	printed string

	loading bool
	waiting bool // indicator is on screen
}

// NewTerminalRenderer writes to w, using colors when styled is set.
func NewTerminalRenderer(w io.Writer, styled bool) *TerminalRenderer {
	return &TerminalRenderer{w: w, styled: styled}
}

func (r *TerminalRenderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

// Prompt writes the input prompt.
func (r *TerminalRenderer) Prompt() {
	fmt.Fprint(r.w, r.style(userLabelStyle, "you")+"> ")
}

// Begin starts a new assistant reply.
func (r *TerminalRenderer) Begin() {
	r.printed = ""
	fmt.Fprint(r.w, r.style(assistantLabelStyle, "assistant")+": ")
}

// Follow shows a loading indicator on styled output while log has an exchange
// in flight. The indicator is erased by the first reply text.
func (r *TerminalRenderer) Follow(log *conversation.Log) (stop func()) {
	return log.Subscribe(func(s conversation.Snapshot) {
		if s.Loading == r.loading {
			return
		}
		r.loading = s.Loading
		if !r.styled {
			return
		}
		if s.Loading {
			fmt.Fprint(r.w, r.style(dimStyle, loadingIndicator))
			r.waiting = true
			return
		}
		r.clearIndicator()
	})
}

func (r *TerminalRenderer) clearIndicator() {
	if r.waiting {
		fmt.Fprint(r.w, "\b \b")
		r.waiting = false
	}
}

// Update receives the accumulated reply and prints what is new.
func (r *TerminalRenderer) Update(accumulated string) {
	r.clearIndicator()
	if !strings.HasPrefix(accumulated, r.printed) {
		// the reply was replaced rather than extended; start a fresh line
		fmt.Fprint(r.w, "\n"+accumulated)
		r.printed = accumulated
		return
	}
	fmt.Fprint(r.w, accumulated[len(r.printed):])
	r.printed = accumulated
}

// End finishes the current reply.
func (r *TerminalRenderer) End() {
	fmt.Fprintln(r.w)
	r.printed = ""
}

// Error reports a failed exchange. Text already shown for the reply is marked as discarded.
func (r *TerminalRenderer) Error(err error) {
	if r.printed != "" {
		fmt.Fprintln(r.w, r.style(dimStyle, " [discarded]"))
	} else {
		fmt.Fprintln(r.w)
	}
	r.printed = ""
	fmt.Fprintln(r.w, r.style(errorStyle, "error: "+err.Error()))
}

// Info prints a dimmed status line.
func (r *TerminalRenderer) Info(format string, args ...any) {
	fmt.Fprintln(r.w, r.style(dimStyle, fmt.Sprintf(format, args...)))
}
