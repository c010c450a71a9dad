// Package cliui holds the styles and terminal helpers shared by the relay
// commands.
package cliui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	SuccessMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	HeaderStyle = lipgloss.NewStyle().Bold(true)
	KeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	NameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	WarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

var spinnerFrames = []rune("⣾⣽⣻⢿⡿⣟⣯⣷")

const spinnerInterval = 80 * time.Millisecond

// spinner redraws one status line in place until stopped.
type spinner struct {
	w    io.Writer
	msg  string
	stop chan struct{}
	done chan struct{}
}

func startSpinner(w io.Writer, msg string) *spinner {
	s := &spinner{w: w, msg: msg, stop: make(chan struct{}), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *spinner) run() {
	defer close(s.done)

	t := time.NewTicker(spinnerInterval)
	defer t.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(s.w, "\r  %s %s", spinnerStyle.Render(string(spinnerFrames[i%len(spinnerFrames)])), s.msg)

		select {
		case <-s.stop:
			return
		case <-t.C:
		}
	}
}

// finish stops the animation and overwrites the line with the outcome.
func (s *spinner) finish(err error, elapsed time.Duration) {
	close(s.stop)
	<-s.done
	fmt.Fprintf(s.w, "\r  %s %s %s\n", Mark(err), s.msg, StepStyle.Render("("+FormatDuration(elapsed)+")"))
}

// Step shows a spinner next to msg while fn runs, then a ✓ or ✗ with the
// elapsed time. It returns fn's error.
func Step(w io.Writer, msg string, fn func() error) error {
	sp := startSpinner(w, msg)
	start := time.Now()
	err := fn()
	sp.finish(err, time.Since(start))
	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// RenderMarkdown renders markdown content for terminal display using glamour,
// wrapped to the terminal width.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(Width(80), 100)),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// DisableColorUnlessTerminal drops styling when stdout is piped so
// redirected output stays plain text.
func DisableColorUnlessTerminal() {
	if !IsTerminal(os.Stdout) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Width returns the terminal width of stdout, or fallback when it cannot be
// determined.
func Width(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// PadRight pads a possibly styled string with spaces to width visible cells.
func PadRight(s string, width int) string {
	n := ansi.StringWidth(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
