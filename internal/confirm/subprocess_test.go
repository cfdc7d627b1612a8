package confirm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/litterbox/internal/sshagent"
)

// The test binary doubles as the confirm command: with LBX_CONFIRM_HELPER
// set it prints the requested output and exits instead of running tests.
func TestMain(m *testing.M) {
	switch mode := os.Getenv("LBX_CONFIRM_HELPER"); mode {
	case "":
		os.Exit(m.Run())
	case "args":
		fmt.Println(strings.Join(os.Args[1:], " "))
	case "fail":
		fmt.Fprintln(os.Stderr, "no display")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
	default:
		fmt.Print(strings.ReplaceAll(mode, `\n`, "\n"))
	}
	os.Exit(0)
}

func helperPrompter(t *testing.T, mode string) *SubprocessPrompter {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return &SubprocessPrompter{
		Executable: exe,
		Env:        []string{"LBX_CONFIRM_HELPER=" + mode},
		Stderr:     io.Discard,
	}
}

func testRequest(kind sshagent.UserRequest) *Request {
	return &Request{Kind: kind, LitterboxName: "boxA", ctx: context.Background()}
}

func TestSubprocessPrompterResponses(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    sshagent.UserResponse
		wantErr bool
	}{
		{"approved", `Approved\n`, sshagent.Approved, false},
		{"declined", `Declined\n`, sshagent.Declined, false},
		{"session", `ApprovedForSession\n`, sshagent.ApprovedForSession, false},
		{"no trailing newline", `Approved`, sshagent.Approved, false},
		{"only one newline trimmed", `Approved\n\n`, sshagent.Declined, true},
		{"garbage", `sure thing\n`, sshagent.Declined, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := helperPrompter(t, tt.output)
			got, err := p.Prompt(context.Background(), testRequest(sshagent.RequestKeys))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubprocessPrompterArguments(t *testing.T) {
	p := helperPrompter(t, "args")
	_, err := p.Prompt(context.Background(), testRequest(sshagent.Sign))

	// The echoed arguments are not a valid token, so the prompt is denied
	// and the error carries what the child printed.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirm --request Sign --lbx-name boxA")
}

func TestSubprocessPrompterExitStatus(t *testing.T) {
	p := helperPrompter(t, "fail")
	got, err := p.Prompt(context.Background(), testRequest(sshagent.Sign))
	assert.Error(t, err)
	assert.Equal(t, sshagent.Declined, got)
}

func TestSubprocessPrompterCancel(t *testing.T) {
	p := helperPrompter(t, "hang")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := p.Prompt(ctx, testRequest(sshagent.Sign))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, sshagent.Declined, got)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestSubprocessPrompterThroughTransport(t *testing.T) {
	tr := NewTransport(2, helperPrompter(t, `ApprovedForSession\n`))
	runTransport(t, tr)

	resp, err := tr.Confirm(context.Background(), "boxA", sshagent.RequestKeys)
	require.NoError(t, err)
	assert.Equal(t, sshagent.ApprovedForSession, resp)
}
