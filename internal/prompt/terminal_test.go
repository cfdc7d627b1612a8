package prompt

import (
	"bytes"
	"io"
	"os"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/litterbox/internal/ui"
)

// pipedTerminal returns a Terminal whose stdin is a pipe holding input.
func pipedTerminal(t *testing.T, input string) (*Terminal, *bytes.Buffer) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = io.WriteString(w, input)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	t.Cleanup(func() { r.Close() })

	var out bytes.Buffer
	return &Terminal{in: r, out: &out}, &out
}

func TestPasswordPiped(t *testing.T) {
	term, out := pipedTerminal(t, "first\nsecond\r\nthird")

	for _, want := range []string{"first", "second", "third"} {
		got, err := term.Password("Key Manager Password")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Contains(t, out.String(), "Key Manager Password: ")

	_, err := term.Password("again")
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultiSelectPiped(t *testing.T) {
	term, _ := pipedTerminal(t, "boxA, boxC boxA\nnope\n")

	got, err := term.MultiSelect("Select litterboxes to detach", []string{"boxA", "boxB", "boxC"})
	require.NoError(t, err)
	assert.Equal(t, []string{"boxA", "boxC"}, got)

	_, err = term.MultiSelect("Select", []string{"boxA"})
	assert.Error(t, err)
}

func TestMultiSelectPipedEmptyLine(t *testing.T) {
	term, _ := pipedTerminal(t, "\n")

	got, err := term.MultiSelect("Select", []string{"boxA"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNotify(t *testing.T) {
	var buf bytes.Buffer
	ui.SetWriter(&buf)
	defer ui.SetWriter(os.Stderr)

	NewTerminal().Notify("hello")
	assert.Equal(t, "hello\n", buf.String())
}

func keys(t *testing.T, m selectModel, msgs ...tea.KeyMsg) selectModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(selectModel)
	}
	return m
}

func TestSelectModel(t *testing.T) {
	down := tea.KeyMsg{Type: tea.KeyDown}
	up := tea.KeyMsg{Type: tea.KeyUp}
	space := tea.KeyMsg{Type: tea.KeySpace}
	enter := tea.KeyMsg{Type: tea.KeyEnter}

	m := keys(t, newSelectModel("pick", []string{"a", "b", "c"}),
		space, down, down, down, space, up, space, space, enter)

	assert.True(t, m.done)
	assert.False(t, m.aborted)
	assert.Equal(t, []string{"a", "c"}, m.selected())
	assert.Empty(t, m.View())
}

func TestSelectModelAbort(t *testing.T) {
	m := keys(t, newSelectModel("pick", []string{"a"}),
		tea.KeyMsg{Type: tea.KeySpace}, tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.aborted)
}

func TestSelectModelView(t *testing.T) {
	m := keys(t, newSelectModel("Select litterboxes", []string{"boxA", "boxB"}),
		tea.KeyMsg{Type: tea.KeySpace})
	view := m.View()
	assert.Contains(t, view, "Select litterboxes")
	assert.Contains(t, view, "[x] boxA")
	assert.Contains(t, view, "[ ] boxB")
}
