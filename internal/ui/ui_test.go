package ui

import (
	"bytes"
	"os"
	"testing"
)

func captureNotices(t *testing.T, color bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	SetColorEnabled(color)
	t.Cleanup(func() {
		SetWriter(nil)
		SetColorEnabled(false)
	})
	return &buf
}

func TestNotices(t *testing.T) {
	tests := []struct {
		name string
		emit func()
		want string
	}{
		{"warn", func() { Warn("running litterboxes keep their keys") }, "Warning: running litterboxes keep their keys\n"},
		{"warnf", func() { Warnf("agent for %q runs unlocked", "boxA") }, "Warning: agent for \"boxA\" runs unlocked\n"},
		{"error", func() { Error("wrong password") }, "Error: wrong password\n"},
		{"errorf", func() { Errorf("socket %s in use", "a.sock") }, "Error: socket a.sock in use\n"},
		{"info", func() { Info("Keys file does not exist yet.") }, "Keys file does not exist yet.\n"},
		{"infof", func() { Infof("SSH_AUTH_SOCK=%s", "/x.sock") }, "SSH_AUTH_SOCK=/x.sock\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureNotices(t, false)
			tt.emit()
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestColoredPrefixes(t *testing.T) {
	buf := captureNotices(t, true)

	Warn("w")
	Error("e")
	Info("i")

	want := "\033[33mWarning:\033[0m w\n\033[31mError:\033[0m e\ni\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStyles(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		code string
	}{
		{"Bold", Bold, "1"},
		{"Dim", Dim, "2"},
		{"Green", Green, "32"},
		{"Red", Red, "31"},
		{"Yellow", Yellow, "33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetColorEnabled(true)
			if got, want := tt.fn("hi"), "\033["+tt.code+"mhi\033[0m"; got != want {
				t.Errorf("colored = %q, want %q", got, want)
			}
			SetColorEnabled(false)
			if got := tt.fn("hi"); got != "hi" {
				t.Errorf("plain = %q, want %q", got, "hi")
			}
		})
	}
}

func TestTags(t *testing.T) {
	SetColorEnabled(false)
	if OKTag() != "✓" || FailTag() != "✗" {
		t.Errorf("plain tags = %q %q", OKTag(), FailTag())
	}
	SetColorEnabled(true)
	defer SetColorEnabled(false)
	if got := OKTag(); got != "\033[32m✓\033[0m" {
		t.Errorf("OKTag() = %q", got)
	}
}

func TestSection(t *testing.T) {
	SetColorEnabled(false)
	var buf bytes.Buffer
	Section(&buf, "Keys")
	if got, want := buf.String(), "Keys\n────\n"; got != want {
		t.Errorf("Section = %q, want %q", got, want)
	}
}

func TestNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	f, err := os.CreateTemp(t.TempDir(), "ui-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if detectColor(f) {
		t.Error("detectColor should return false when NO_COLOR is set")
	}
}

func TestColorEnabled(t *testing.T) {
	SetColorEnabled(true)
	if !ColorEnabled() {
		t.Error("ColorEnabled() should be true")
	}
	SetColorEnabled(false)
	if ColorEnabled() {
		t.Error("ColorEnabled() should be false")
	}
}
