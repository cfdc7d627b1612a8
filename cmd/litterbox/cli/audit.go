package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/majorcontext/litterbox/internal/audit"
	"github.com/majorcontext/litterbox/internal/ui"
)

var auditCmd = &cobra.Command{
	Use:   "audit <litterbox>",
	Short: "Show agent requests made by a litterbox and verify the log",
	Long: `Print every agent request recorded for a litterbox, then verify the
integrity of the whole audit log. Entries are hash-chained, so an edited or
removed entry makes verification fail.

Example:
  litterbox audit my-box`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	store, err := openAudit()
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("auditing is disabled (audit.enabled in config.yaml)")
	}
	defer store.Close()

	entries, err := store.ForLitterbox(args[0])
	if err != nil {
		return err
	}
	result, err := store.VerifyChain()
	if err != nil {
		return fmt.Errorf("verification error: %w", err)
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		return json.NewEncoder(w).Encode(struct {
			Entries []*audit.Entry `json:"entries"`
			Result  *audit.Result  `json:"verification"`
		}{entries, result})
	}

	ui.Section(w, "Requests from "+args[0])
	if len(entries) == 0 {
		fmt.Fprintln(w, "No requests recorded.")
	} else if err := writeAuditEntries(w, entries); err != nil {
		return err
	}
	fmt.Fprintln(w)
	writeVerification(w, result)

	if !result.Valid {
		return fmt.Errorf("audit log failed verification")
	}
	return nil
}

func writeAuditEntries(w io.Writer, entries []*audit.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tTIME\tREQUEST\tANSWER\tKEY")
	for _, e := range entries {
		var d audit.AgentData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding entry %d: %w", e.Sequence, err)
		}
		tag := ui.OKTag()
		if !d.Allowed {
			tag = ui.FailTag()
		}
		answer := "-"
		switch {
		case d.Error != "":
			answer = "error: " + d.Error
		case d.Prompted:
			answer = d.Response
		}
		key := d.Fingerprint
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tag, e.Timestamp.Local().Format("2006-01-02 15:04:05"), d.Request, answer, key)
	}
	return tw.Flush()
}

func writeVerification(w io.Writer, result *audit.Result) {
	if result.Valid {
		fmt.Fprintf(w, "%s Hash chain: %d entries, no gaps, all hashes valid\n", ui.OKTag(), result.EntryCount)
		return
	}
	fmt.Fprintf(w, "%s Hash chain: INVALID after %d entries: %s\n", ui.FailTag(), result.EntryCount, result.Error)
}
