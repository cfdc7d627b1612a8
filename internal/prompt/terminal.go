// Package prompt implements the interactive input the key vault needs on a
// terminal: hidden password entry, multi-select lists, and notices.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/majorcontext/litterbox/internal/ui"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("prompt aborted")

// Terminal prompts on a terminal, falling back to line-oriented input when
// stdin is piped.
type Terminal struct {
	in  *os.File
	out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminal returns a prompter reading from stdin and writing prompts to
// stderr so stdout stays clean for command output.
func NewTerminal() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stderr}
}

func (t *Terminal) isTerminal() bool {
	return term.IsTerminal(int(t.in.Fd()))
}

// lines reads piped input. A single reader is kept so buffered lines are
// not lost between prompts.
func (t *Terminal) lines() *bufio.Reader {
	t.once.Do(func() {
		t.reader = bufio.NewReader(t.in)
	})
	return t.reader
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.lines().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

// Password reads a line without echo.
func (t *Terminal) Password(prompt string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", prompt)
	if !t.isTerminal() {
		return t.readLine()
	}

	password, err := term.ReadPassword(int(t.in.Fd()))
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

// MultiSelect lets the user pick any subset of options. On piped input it
// reads one line of comma-separated names.
func (t *Terminal) MultiSelect(prompt string, options []string) ([]string, error) {
	if !t.isTerminal() {
		fmt.Fprintf(t.out, "%s (comma-separated, from %s): ", prompt, strings.Join(options, ", "))
		line, err := t.readLine()
		if err != nil {
			return nil, err
		}
		return parseSelection(line, options)
	}

	p := tea.NewProgram(newSelectModel(prompt, options),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running selection: %w", err)
	}
	m := final.(selectModel)
	if m.aborted {
		return nil, ErrAborted
	}
	return m.selected(), nil
}

// Notify prints a message for the user.
func (t *Terminal) Notify(msg string) {
	ui.Info(msg)
}

func parseSelection(line string, options []string) ([]string, error) {
	var chosen []string
	for _, f := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' }) {
		if !slices.Contains(options, f) {
			return nil, fmt.Errorf("%q is not one of the options", f)
		}
		if !slices.Contains(chosen, f) {
			chosen = append(chosen, f)
		}
	}
	return chosen, nil
}
