package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/code"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	procStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	focusedPane = paneStyle.
			BorderForeground(lipgloss.Color("#7D56F4"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type viewerFocus int

const (
	focusList viewerFocus = iota
	focusBefore
	focusAfter
)

type procEntry struct {
	name   string
	status string
	before string
	after  string
}

// viewerModel browses the procedures of a rewritten unit with the original
// and the rewritten listing side by side.
type viewerModel struct {
	filename string
	procs    []procEntry
	selected int
	focus    viewerFocus
	before   viewport.Model
	after    viewport.Model
	width    int
	height   int
	ready    bool
}

func newViewerModel(filename string, before, after *code.Unit) *viewerModel {
	m := &viewerModel{filename: filename}
	for _, p := range after.Procs {
		e := procEntry{
			name:   after.Qualified(p),
			status: procStatus(p),
			after:  asm.FormatProc(p),
		}
		if orig := before.Proc(p.Name); orig != nil {
			e.before = asm.FormatProc(orig)
		}
		m.procs = append(m.procs, e)
	}
	return m
}

func (m *viewerModel) Init() tea.Cmd {
	return nil
}

// listWidth is the width of the procedure list column.
func (m *viewerModel) listWidth() int {
	w := 0
	for _, p := range m.procs {
		w = max(w, len(p.name)+2)
	}
	return min(w, m.width/4)
}

func (m *viewerModel) resize(width, height int) {
	m.width, m.height = width, height
	paneWidth := (width-m.listWidth())/2 - 4
	paneHeight := height - 6
	if !m.ready {
		m.before = viewport.New(paneWidth, paneHeight)
		m.after = viewport.New(paneWidth, paneHeight)
		m.ready = true
	} else {
		m.before.Width, m.before.Height = paneWidth, paneHeight
		m.after.Width, m.after.Height = paneWidth, paneHeight
	}
	m.show()
}

// show loads the selected procedure into both panes.
func (m *viewerModel) show() {
	if !m.ready || len(m.procs) == 0 {
		return
	}
	p := m.procs[m.selected]
	m.before.SetContent(p.before)
	m.after.SetContent(p.after)
	m.before.GotoTop()
	m.after.GotoTop()
}

func (m *viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "tab":
			m.focus = (m.focus + 1) % 3
			return m, nil

		case "shift+tab":
			m.focus = (m.focus + 2) % 3
			return m, nil

		case "up", "k":
			if m.focus == focusList {
				if m.selected > 0 {
					m.selected--
					m.show()
				}
				return m, nil
			}

		case "down", "j":
			if m.focus == focusList {
				if m.selected < len(m.procs)-1 {
					m.selected++
					m.show()
				}
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusBefore:
		m.before, cmd = m.before.Update(msg)
	case focusAfter:
		m.after, cmd = m.after.Update(msg)
	}
	return m, cmd
}

func (m *viewerModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	if len(m.procs) == 0 {
		return "The unit has no procedures.\n\nPress q to quit."
	}

	var list strings.Builder
	for i, p := range m.procs {
		if i == m.selected {
			list.WriteString(selectedStyle.Render("> " + p.name))
		} else {
			list.WriteString("  " + procStyle.Render(p.name))
		}
		list.WriteString("\n")
	}

	pane := func(title string, v viewport.Model, f viewerFocus) string {
		style := paneStyle
		if m.focus == f {
			style = focusedPane
		}
		return style.Render(title + "\n" + v.View())
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("ctrlc"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(statusStyle.Render(m.procs[m.selected].status))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		list.String(),
		pane("before", m.before, focusBefore),
		pane("after", m.after, focusAfter)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("↑/↓ select • tab focus • q quit  %d/%d", m.selected+1, len(m.procs))))
	return b.String()
}

func runViewer(filename string, before, after *code.Unit) error {
	p := tea.NewProgram(newViewerModel(filename, before, after), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
