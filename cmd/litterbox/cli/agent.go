package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/litterbox/internal/confirm"
	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/sshagent"
	"github.com/majorcontext/litterbox/internal/ui"
	"github.com/majorcontext/litterbox/internal/vault"
)

var agentUnlocked bool

var agentCmd = &cobra.Command{
	Use:   "agent <litterbox>",
	Short: "Serve the keys attached to a litterbox over an SSH agent socket",
	Long: `Decrypt the keys attached to a litterbox and serve them on its agent socket
until interrupted. Point the sandbox at the printed SSH_AUTH_SOCK.

Every request made over the socket opens a confirmation dialog. Choosing
"Approve for Session" on a key listing approves later listings without
asking; signatures are always confirmed.

Examples:
  litterbox agent my-box
  litterbox agent my-box --unlocked   # never ask (not recommended)`,
	Args: cobra.ExactArgs(1),
	RunE: runAgent,
}

var agentListCmd = &cobra.Command{
	Use:   "list <litterbox>",
	Short: "List the identities a running agent serves",
	Long: `Connect to a litterbox's running agent and list its identities. Listing is
itself a gated request, so the agent may ask for confirmation first.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentList,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.Flags().BoolVar(&agentUnlocked, "unlocked", false, "allow every request without confirmation")
}

func runAgent(cmd *cobra.Command, args []string) error {
	lbxName := args[0]
	socketPath, err := globalCfg.SocketPath(lbxName)
	if err != nil {
		return err
	}
	log.SetLitterbox(lbxName)
	defer log.SetLitterbox("")

	sessionKeys, err := openVault().DecryptForSession(lbxName)
	if err != nil {
		return err
	}
	if len(sessionKeys) == 0 {
		ui.Warnf("No keys are attached to %s. Attach one with: litterbox keys attach <key> %s", lbxName, lbxName)
	}
	keyring := agent.NewKeyring()
	if err := vault.Register(keyring, sessionKeys); err != nil {
		return err
	}

	state := sshagent.NewState()
	if agentUnlocked {
		state.SetLocked(false)
		ui.Warnf("The agent for %s allows every request without asking.", lbxName)
	}

	prompter, err := confirm.NewSubprocessPrompter()
	if err != nil {
		return err
	}
	transport := confirm.NewTransport(globalCfg.Agent.ConfirmQueue, prompter,
		confirm.WithTimeout(globalCfg.Agent.ConfirmTimeout))

	var gateOpts []sshagent.GateOption
	auditStore, err := openAudit()
	if err != nil {
		return err
	}
	if auditStore != nil {
		defer auditStore.Close()
		gateOpts = append(gateOpts, sshagent.WithAuditFunc(auditStore.AgentAuditFunc()))
	}

	gate := sshagent.NewGate(lbxName, keyring, state, transport, gateOpts...)
	server := sshagent.NewServer(gate, socketPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(); err != nil {
		transport.Close()
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "SSH_AUTH_SOCK=%s\n", server.SocketPath())
	log.Info("agent started", "socket", server.SocketPath(), "keys", len(sessionKeys), "locked", state.Locked())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("agent stopped")
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	socketPath, err := globalCfg.SocketPath(args[0])
	if err != nil {
		return err
	}
	client, err := sshagent.ConnectAgent(socketPath)
	if err != nil {
		return fmt.Errorf("no agent running for %s: %w", args[0], err)
	}
	defer client.Close()

	ids, err := client.List()
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}
	if jsonOut {
		return writeIdentitiesJSON(cmd.OutOrStdout(), ids)
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "The agent has no identities.")
		return nil
	}
	return writeIdentityTable(cmd.OutOrStdout(), ids)
}

func writeIdentityTable(w io.Writer, ids []*sshagent.Identity) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tFINGERPRINT")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id.Comment, id.Format, id.Fingerprint())
	}
	return tw.Flush()
}

func writeIdentitiesJSON(w io.Writer, ids []*sshagent.Identity) error {
	type jsonIdentity struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Fingerprint string `json:"fingerprint"`
	}
	out := make([]jsonIdentity, 0, len(ids))
	for _, id := range ids {
		out = append(out, jsonIdentity{Name: id.Comment, Type: id.Format, Fingerprint: id.Fingerprint()})
	}
	return json.NewEncoder(w).Encode(out)
}
