package prompt

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	selectTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	selectCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	selectHelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// selectModel is a checkbox list. Space toggles, enter confirms.
type selectModel struct {
	title   string
	options []string
	checked []bool
	cursor  int

	done    bool
	aborted bool
}

func newSelectModel(title string, options []string) selectModel {
	return selectModel{
		title:   title,
		options: options,
		checked: make([]bool, len(options)),
	}
}

func (m selectModel) Init() tea.Cmd {
	return nil
}

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.aborted = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case " ", "x":
		if len(m.options) > 0 {
			m.checked[m.cursor] = !m.checked[m.cursor]
		}
	case "enter":
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m selectModel) View() string {
	if m.done || m.aborted {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(selectTitleStyle.Render(m.title))
	sb.WriteString("\n\n")
	for i, opt := range m.options {
		cursor := "  "
		if i == m.cursor {
			cursor = selectCursorStyle.Render("▸ ")
		}
		box := "[ ]"
		if m.checked[i] {
			box = "[x]"
		}
		sb.WriteString(cursor + box + " " + opt + "\n")
	}
	sb.WriteString("\n")
	sb.WriteString(selectHelpStyle.Render("↑/↓: Navigate • Space: Toggle • Enter: Confirm • ESC: Cancel"))
	sb.WriteString("\n")
	return sb.String()
}

func (m selectModel) selected() []string {
	var out []string
	for i, opt := range m.options {
		if m.checked[i] {
			out = append(out, opt)
		}
	}
	return out
}
