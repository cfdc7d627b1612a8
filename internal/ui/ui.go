// Package ui formats the human-facing output of litterbox commands. Styled
// text goes to stdout; notices go to stderr so piped output stays clean.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var notices io.Writer = os.Stderr

// SetWriter redirects notices (for testing). nil restores stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	notices = w
}

var (
	stdoutColor = detectColor(os.Stdout)
	stderrColor = detectColor(os.Stderr)
)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection for both streams.
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

// ColorEnabled reports whether stdout is styled.
func ColorEnabled() bool {
	return stdoutColor
}

func paint(on bool, code, s string) string {
	if !on {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold styles s for stdout.
func Bold(s string) string { return paint(stdoutColor, "1", s) }

// Dim styles s for stdout.
func Dim(s string) string { return paint(stdoutColor, "2", s) }

// Green styles s for stdout.
func Green(s string) string { return paint(stdoutColor, "32", s) }

// Red styles s for stdout.
func Red(s string) string { return paint(stdoutColor, "31", s) }

// Yellow styles s for stdout.
func Yellow(s string) string { return paint(stdoutColor, "33", s) }

// OKTag marks an allowed request or a passing check.
func OKTag() string { return Green("✓") }

// FailTag marks a denied request or a failing check.
func FailTag() string { return Red("✗") }

// Section prints a heading to w.
func Section(w io.Writer, title string) {
	fmt.Fprintln(w, Bold(title))
	fmt.Fprintln(w, Dim(strings.Repeat("─", len([]rune(title)))))
}

func notice(code, prefix, msg string) {
	if prefix != "" {
		msg = paint(stderrColor, code, prefix) + " " + msg
	}
	fmt.Fprintln(notices, msg)
}

// Warn prints a warning notice.
func Warn(msg string) { notice("33", "Warning:", msg) }

// Warnf is Warn with formatting.
func Warnf(format string, args ...any) { Warn(fmt.Sprintf(format, args...)) }

// Error prints an error notice.
func Error(msg string) { notice("31", "Error:", msg) }

// Errorf is Error with formatting.
func Errorf(format string, args ...any) { Error(fmt.Sprintf(format, args...)) }

// Info prints an unprefixed notice.
func Info(msg string) { notice("", "", msg) }

// Infof is Info with formatting.
func Infof(format string, args ...any) { Info(fmt.Sprintf(format, args...)) }
