package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/litterbox/internal/confirm"
	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/sshagent"
)

var (
	confirmRequest string
	confirmLbxName string
)

// confirmCmd is run by the agent for each request that needs an answer. The
// dialog is drawn on the controlling terminal; stdout carries only the
// answer token.
var confirmCmd = &cobra.Command{
	Use:         "confirm",
	Short:       "Ask the user to confirm an agent request",
	Hidden:      true,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{dialogAnnotation: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := sshagent.ParseUserRequest(confirmRequest)
		if err != nil {
			return err
		}

		in, out, closeTTY := dialogTerminal()
		defer closeTTY()

		resp, err := confirm.Run(confirmLbxName, kind, in, out)
		if err != nil {
			// The agent treats a failed prompt as a denial.
			log.Error("confirmation dialog failed", "lbx", confirmLbxName, "request", kind.String(), "error", err)
			resp = sshagent.Declined
		}
		return writeToken(cmd.OutOrStdout(), resp)
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd)
	confirmCmd.Flags().StringVar(&confirmRequest, "request", "", "request kind, e.g. RequestKeys or Sign")
	confirmCmd.Flags().StringVar(&confirmLbxName, "lbx-name", "", "litterbox making the request")
	_ = confirmCmd.MarkFlagRequired("request")
	_ = confirmCmd.MarkFlagRequired("lbx-name")
}

// dialogTerminal opens the controlling terminal, falling back to stdin and
// stderr when there is none.
func dialogTerminal() (io.Reader, io.Writer, func()) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		log.Debug("no controlling terminal, using stdin/stderr", "error", err)
		return os.Stdin, os.Stderr, func() {}
	}
	return tty, tty, func() { tty.Close() }
}

func writeToken(w io.Writer, resp sshagent.UserResponse) error {
	_, err := fmt.Fprintln(w, resp.String())
	return err
}
