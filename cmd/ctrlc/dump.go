package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/code"
)

const defaultWidth = 120

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1)
)

// dumpStyle decides how a dump is laid out. The zero value renders plain
// text one listing after the other.
type dumpStyle struct {
	styled bool
	width  int
}

// newDumpStyle styles the dump only when w is a terminal.
func newDumpStyle(w io.Writer) dumpStyle {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return dumpStyle{}
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = defaultWidth
	}
	return dumpStyle{styled: true, width: width}
}

func (s dumpStyle) heading(name, status string) string {
	if !s.styled {
		return fmt.Sprintf("== %s (%s)\n", name, status)
	}
	return headingStyle.Render(name) + " " + statusStyle.Render(status) + "\n"
}

// sideBySide puts two listings next to each other, or one after the other
// without styling.
func (s dumpStyle) sideBySide(before, after string) string {
	if !s.styled {
		return "-- before\n" + before + "\n-- after\n" + after + "\n"
	}
	// Each pane has a border of one column on either side.
	half := s.width/2 - 2
	left := paneStyle.Width(half).Render(before)
	right := paneStyle.Width(half).Render(after)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right) + "\n"
}

// procStatus describes what the rewrite did to p.
func procStatus(p *code.Procedure) string {
	if !p.Resumable() {
		return "unchanged"
	}
	return fmt.Sprintf("resumable, %d states", p.Frame.States)
}

// renderDump lists every procedure of after, next to its original when it
// was rewritten.
func renderDump(before, after *code.Unit, s dumpStyle) string {
	var b strings.Builder
	for _, p := range after.Procs {
		b.WriteString(s.heading(after.Qualified(p), procStatus(p)))
		orig := before.Proc(p.Name)
		if !p.Resumable() || orig == nil {
			b.WriteString(asm.FormatProc(p))
			b.WriteString("\n")
			continue
		}
		b.WriteString(s.sideBySide(asm.FormatProc(orig), asm.FormatProc(p)))
	}
	return b.String()
}
