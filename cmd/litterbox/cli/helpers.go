package cli

import (
	"errors"
	"fmt"

	"github.com/majorcontext/litterbox/internal/audit"
	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/prompt"
	"github.com/majorcontext/litterbox/internal/sshagent"
	"github.com/majorcontext/litterbox/internal/vault"
)

func openVault() *vault.Store {
	return vault.NewStore(globalCfg.Vault.Path, prompt.NewTerminal(),
		vault.WithWorkFactor(globalCfg.Vault.WorkFactor))
}

// openAudit returns nil when auditing is disabled.
func openAudit() (*audit.Store, error) {
	if !globalCfg.Audit.Enabled {
		return nil, nil
	}
	store, err := audit.OpenStore(globalCfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return store, nil
}

// recordVault notes a completed vault change. The change already happened,
// so failures are only logged.
func recordVault(data audit.VaultData) {
	store, err := openAudit()
	if err != nil {
		log.Warn("failed to open audit log", "error", err)
		return
	}
	if store == nil {
		return
	}
	defer store.Close()
	if err := store.RecordVault(data); err != nil {
		log.Warn("failed to record vault change", "action", data.Action, "key", data.Key, "error", err)
	}
}

// userMessage turns the errors users commonly hit into plain advice.
func userMessage(err error) string {
	var parseErr *vault.ParseError
	switch {
	case errors.Is(err, prompt.ErrAborted):
		return "cancelled"
	case errors.As(err, &parseErr):
		return fmt.Sprintf("%v\nThe keys file is corrupt. Restore it from a backup or move it aside to start over.", err)
	case errors.Is(err, sshagent.ErrSocketInUse):
		return fmt.Sprintf("%v\nAn agent for this litterbox is already running.", err)
	}
	return err.Error()
}
