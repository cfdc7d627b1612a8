package confirm

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/majorcontext/litterbox/internal/sshagent"
)

var (
	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 2)

	dialogTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214")).
				MarginBottom(1)

	dialogLabelStyle = lipgloss.NewStyle().Bold(true)
	dialogValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dialogDescStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	choiceItemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	choiceSelectedItemStyle = lipgloss.NewStyle().PaddingLeft(0).Foreground(lipgloss.Color("214")).Bold(true)
)

const (
	dialogWidth      = 60
	dialogListHeight = 10
)

type choiceItem struct {
	label string
	resp  sshagent.UserResponse
	desc  string
}

func (i choiceItem) FilterValue() string { return i.label }

type choiceDelegate struct{}

func (d choiceDelegate) Height() int                             { return 2 }
func (d choiceDelegate) Spacing() int                            { return 1 }
func (d choiceDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d choiceDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	item, ok := listItem.(choiceItem)
	if !ok {
		return
	}

	var title string
	if index == m.Index() {
		title = choiceSelectedItemStyle.Render(fmt.Sprintf("▸ %s", item.label))
	} else {
		title = choiceItemStyle.Render(fmt.Sprintf("  %s", item.label))
	}

	desc := choiceItemStyle.Render(dialogDescStyle.Render(item.desc))
	fmt.Fprintf(w, "%s\n%s", title, desc)
}

// Dialog asks the user to approve one agent request from a litterbox.
type Dialog struct {
	lbxName string
	kind    sshagent.UserRequest
	list    list.Model

	response sshagent.UserResponse
	answered bool
}

// NewDialog builds the dialog. Approve for Session is only offered for
// request kinds that support it. Decline is preselected.
func NewDialog(lbxName string, kind sshagent.UserRequest) Dialog {
	items := []list.Item{
		choiceItem{
			label: "Approve",
			resp:  sshagent.Approved,
			desc:  "Allow this request once.",
		},
		choiceItem{
			label: "Decline",
			resp:  sshagent.Declined,
			desc:  "Refuse this request.",
		},
	}
	if kind.SessionApprovable() {
		items = append(items, choiceItem{
			label: "Approve for Session",
			resp:  sshagent.ApprovedForSession,
			desc:  "Allow this kind of request until the agent restarts.",
		})
	}

	l := list.New(items, choiceDelegate{}, dialogWidth-4, dialogListHeight)
	l.SetShowTitle(false)
	l.DisableQuitKeybindings()
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetShowPagination(false)
	l.Select(1)

	return Dialog{
		lbxName:  lbxName,
		kind:     kind,
		list:     l,
		response: sshagent.Declined,
	}
}

func (d Dialog) Init() tea.Cmd {
	return nil
}

func (d Dialog) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			d.response = sshagent.Declined
			d.answered = true
			return d, tea.Quit
		case "enter":
			if item, ok := d.list.SelectedItem().(choiceItem); ok {
				d.response = item.resp
				d.answered = true
				return d, tea.Quit
			}
		}
	}

	var cmd tea.Cmd
	d.list, cmd = d.list.Update(msg)
	return d, cmd
}

func (d Dialog) View() string {
	if d.answered {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(dialogTitleStyle.Render("New SSH Request"))
	sb.WriteString("\n\n")

	sb.WriteString(dialogLabelStyle.Render("From Litterbox: "))
	sb.WriteString(dialogValueStyle.Render(d.lbxName))
	sb.WriteString("\n")
	sb.WriteString(dialogLabelStyle.Render("Request: "))
	sb.WriteString(dialogValueStyle.Render(d.kind.Description()))
	sb.WriteString("\n\n")

	sb.WriteString(d.list.View())
	sb.WriteString("\n")
	sb.WriteString(dialogDescStyle.Render("↑/↓: Navigate • Enter: Confirm • ESC: Decline"))

	return dialogStyle.Width(dialogWidth).Render(sb.String())
}

// Response returns the user's answer. It is Declined until one is chosen.
func (d Dialog) Response() sshagent.UserResponse {
	return d.response
}

// Run shows the dialog on the given terminal streams and returns the answer.
// A dialog closed without a choice is Declined.
func Run(lbxName string, kind sshagent.UserRequest, in io.Reader, out io.Writer) (sshagent.UserResponse, error) {
	p := tea.NewProgram(NewDialog(lbxName, kind),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if err != nil {
		return sshagent.Declined, fmt.Errorf("running confirmation dialog: %w", err)
	}
	d, ok := final.(Dialog)
	if !ok {
		return sshagent.Declined, nil
	}
	return d.Response(), nil
}
