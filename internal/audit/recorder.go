package audit

import (
	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/sshagent"
)

// AgentAuditFunc records every gated agent request in the store. A failed
// append is logged; it never changes the decision already made.
func (s *Store) AgentAuditFunc() sshagent.AuditFunc {
	return func(ev sshagent.AuditEvent) {
		_, err := s.Append(EntryAgent, AgentData{
			Litterbox:   ev.Litterbox,
			Request:     ev.Request,
			Allowed:     ev.Allowed,
			Prompted:    ev.Prompted,
			Response:    ev.Response,
			Fingerprint: ev.Fingerprint,
			Error:       ev.Error,
		})
		if err != nil {
			log.Warn("failed to record agent request", "lbx", ev.Litterbox, "request", ev.Request, "error", err)
		}
	}
}

// RecordVault records a vault mutation.
func (s *Store) RecordVault(data VaultData) error {
	_, err := s.Append(EntryVault, data)
	return err
}
