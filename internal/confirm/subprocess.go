package confirm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/sshagent"
)

// SubprocessPrompter runs "<Executable> confirm --request <kind> --lbx-name
// <name>" and reads the answer token from the child's standard output.
type SubprocessPrompter struct {
	// Executable is the program to run, normally the running litterbox binary.
	Executable string
	// Env is appended to the current environment of the child.
	Env []string
	// Stderr receives the child's standard error. Defaults to os.Stderr.
	Stderr io.Writer
}

// NewSubprocessPrompter returns a prompter that re-invokes the running
// executable.
func NewSubprocessPrompter() (*SubprocessPrompter, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating litterbox executable: %w", err)
	}
	return &SubprocessPrompter{Executable: exe}, nil
}

// Prompt runs the confirm command and parses its answer. The child is
// killed when ctx ends. Output that is not a valid token is a denial.
func (p *SubprocessPrompter) Prompt(ctx context.Context, req *Request) (sshagent.UserResponse, error) {
	cmd := exec.CommandContext(ctx, p.Executable,
		"confirm",
		"--request", req.Kind.String(),
		"--lbx-name", req.LitterboxName,
	)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = p.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sshagent.Declined, fmt.Errorf("confirmation prompt cancelled: %w", ctxErr)
		}
		return sshagent.Declined, fmt.Errorf("running confirmation prompt: %w", err)
	}

	token := strings.TrimSuffix(stdout.String(), "\n")
	resp, err := sshagent.ParseResponse(token)
	if err != nil {
		log.Error("unexpected confirmation response", "lbx", req.LitterboxName, "request", req.Kind.String(), "response", token)
		return sshagent.Declined, err
	}
	return resp, nil
}
