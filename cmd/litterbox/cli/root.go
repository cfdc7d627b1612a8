// Package cli implements the litterbox command-line interface using Cobra.
// It covers the key vault, the per-litterbox SSH agent and the
// confirmation prompt the agent spawns.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/litterbox/internal/config"
	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/ui"
)

var (
	verbose bool
	jsonOut bool

	globalCfg = config.DefaultGlobalConfig()
)

// dialogAnnotation marks commands that take over the terminal with a
// full-screen dialog.
const dialogAnnotation = "litterbox/dialog"

var rootCmd = &cobra.Command{
	Use:   "litterbox",
	Short: "Litterbox - SSH keys for sandboxed development environments",
	Long: `Litterbox keeps SSH private keys in an encrypted vault and serves them to
sandboxes through a per-litterbox SSH agent. Every request a sandbox makes
of the agent can be confirmed by you before it reaches the keys.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadGlobal()
		if err != nil {
			ui.Warnf("using default settings: %v", err)
		}
		globalCfg = cfg

		_, dialog := cmd.Annotations[dialogAnnotation]
		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSON:          jsonOut,
			Dialog:        dialog,
			Dir:           config.DebugDir(),
			RetentionDays: globalCfg.Debug.RetentionDays,
		}); err != nil {
			// Debug files are optional; stderr logging still works.
			ui.Warnf("failed to initialize debug logging: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command and reports a returned error once.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		ui.Error(userMessage(err))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
