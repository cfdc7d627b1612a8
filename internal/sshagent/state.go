package sshagent

import (
	"sync"

	"github.com/majorcontext/litterbox/internal/log"
)

// Decision is the State's verdict on an incoming request before any prompt.
type Decision int

const (
	// Allow means the request proceeds without asking the user.
	Allow Decision = iota
	// Ask means the request needs an explicit confirmation.
	Ask
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "ask"
}

// State holds the lock and session-approval flags of one agent server. It
// is shared by every connection of that server and never persisted, so a
// restarted agent always starts locked.
type State struct {
	mu                 sync.Mutex
	locked             bool
	approvedForSession bool
}

// NewState returns a locked State with no session approval.
func NewState() *State {
	return &State{locked: true}
}

// Locked reports whether requests are gated.
func (s *State) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// SetLocked turns gating on or off. An unlocked agent approves everything.
func (s *State) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = locked
}

// ApprovedForSession reports whether RequestKeys has been approved for the
// rest of this server's lifetime.
func (s *State) ApprovedForSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approvedForSession
}

// Decide reports whether req may proceed without a prompt.
func (s *State) Decide(req UserRequest) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locked {
		return Allow
	}
	if req == RequestKeys && s.approvedForSession {
		return Allow
	}
	return Ask
}

// Record applies the user's answer to req and reports whether the request is
// allowed. ApprovedForSession only sticks for RequestKeys; for any other kind
// it allows the single request and leaves the state unchanged.
func (s *State) Record(req UserRequest, resp UserResponse) bool {
	switch resp {
	case Approved:
		return true
	case ApprovedForSession:
		if !req.SessionApprovable() {
			log.Warn("session approval is not available for this request; approving once", "request", req.String())
			return true
		}
		s.mu.Lock()
		s.approvedForSession = true
		s.mu.Unlock()
		return true
	case Declined:
		return false
	}
	return false
}
