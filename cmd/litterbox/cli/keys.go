package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/majorcontext/litterbox/internal/audit"
	"github.com/majorcontext/litterbox/internal/config"
	"github.com/majorcontext/litterbox/internal/ui"
	"github.com/majorcontext/litterbox/internal/vault"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the SSH keys in the vault",
	Long: `Manage the encrypted key vault. Keys are generated inside the vault and
encrypted with your master password; only their public halves are ever shown.

A key is served to a litterbox once it is attached to it:

  litterbox keys generate work
  litterbox keys attach work my-box
  litterbox agent my-box`,
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty vault protected by a new master password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := globalCfg.Vault.Path
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("a vault already exists at %s", path)
		}
		if _, err := openVault().InitDefault(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created vault at %s\n", path)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys with their fingerprints and litterboxes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := openVault().List()
		if err != nil {
			return err
		}
		if jsonOut {
			return writeKeysJSON(cmd.OutOrStdout(), keys)
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No keys found.")
			fmt.Fprintln(cmd.OutOrStdout(), "\nCreate one with: litterbox keys generate <name>")
			return nil
		}
		return writeKeyTable(cmd.OutOrStdout(), keys)
	},
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate a new ed25519 key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault().Generate(args[0]); err != nil {
			return err
		}
		recordVault(audit.VaultData{Action: "generate", Key: args[0]})
		fmt.Fprintf(cmd.OutOrStdout(), "%s Generated key %s\n", ui.OKTag(), args[0])
		return nil
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault().Delete(args[0]); err != nil {
			return err
		}
		recordVault(audit.VaultData{Action: "delete", Key: args[0]})
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted key %s\n", ui.OKTag(), args[0])
		return nil
	},
}

var keysRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault().Rename(args[0], args[1]); err != nil {
			return err
		}
		recordVault(audit.VaultData{Action: "rename", Key: args[0], NewName: args[1]})
		fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed key %s to %s\n", ui.OKTag(), args[0], args[1])
		return nil
	},
}

var keysAttachCmd = &cobra.Command{
	Use:   "attach <key> <litterbox>",
	Short: "Serve a key to a litterbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ValidateLitterboxName(args[1]); err != nil {
			return err
		}
		if err := openVault().Attach(args[0], args[1]); err != nil {
			return err
		}
		recordVault(audit.VaultData{Action: "attach", Key: args[0], Litterboxes: args[1:]})
		fmt.Fprintf(cmd.OutOrStdout(), "%s Attached key %s to %s\n", ui.OKTag(), args[0], args[1])
		return nil
	},
}

var keysDetachCmd = &cobra.Command{
	Use:   "detach <key>",
	Short: "Stop serving a key to some of its litterboxes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := openVault().Detach(args[0])
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing detached.")
			return nil
		}
		recordVault(audit.VaultData{Action: "detach", Key: args[0], Litterboxes: removed})
		fmt.Fprintf(cmd.OutOrStdout(), "%s Detached key %s from %s\n", ui.OKTag(), args[0], strings.Join(removed, ", "))
		ui.Warn("Running litterboxes keep the key until their agent is restarted.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysInitCmd, keysListCmd, keysGenerateCmd, keysDeleteCmd,
		keysRenameCmd, keysAttachCmd, keysDetachCmd)
}

// keyFingerprint returns the SHA256 fingerprint of an authorized_keys line,
// or "-" when the vault predates stored public keys.
func keyFingerprint(authorizedKey string) string {
	if authorizedKey == "" {
		return "-"
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(authorizedKey))
	if err != nil {
		return "-"
	}
	return ssh.FingerprintSHA256(pub)
}

func writeKeyTable(w io.Writer, keys []vault.Key) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFINGERPRINT\tLITTERBOXES")
	for _, k := range keys {
		attached := "-"
		if len(k.AttachedLitterboxes) > 0 {
			attached = strings.Join(k.AttachedLitterboxes, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, keyFingerprint(k.PublicKey), attached)
	}
	return tw.Flush()
}

func writeKeysJSON(w io.Writer, keys []vault.Key) error {
	type jsonKey struct {
		Name        string   `json:"name"`
		Fingerprint string   `json:"fingerprint,omitempty"`
		PublicKey   string   `json:"public_key,omitempty"`
		Litterboxes []string `json:"litterboxes"`
	}
	out := make([]jsonKey, 0, len(keys))
	for _, k := range keys {
		jk := jsonKey{
			Name:        k.Name,
			PublicKey:   k.PublicKey,
			Litterboxes: k.AttachedLitterboxes,
		}
		if fp := keyFingerprint(k.PublicKey); fp != "-" {
			jk.Fingerprint = fp
		}
		if jk.Litterboxes == nil {
			jk.Litterboxes = []string{}
		}
		out = append(out, jk)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
