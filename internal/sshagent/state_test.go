package sshagent

import (
	"sync"
	"testing"
)

func TestStateStartsLocked(t *testing.T) {
	s := NewState()
	if !s.Locked() {
		t.Fatal("new state should be locked")
	}
	if s.ApprovedForSession() {
		t.Fatal("new state should not be approved for session")
	}
	for _, r := range UserRequests {
		if got := s.Decide(r); got != Ask {
			t.Errorf("Decide(%s) = %s, want ask", r, got)
		}
	}
}

func TestStateUnlockedAllowsEverything(t *testing.T) {
	s := NewState()
	s.SetLocked(false)
	for _, r := range UserRequests {
		if got := s.Decide(r); got != Allow {
			t.Errorf("Decide(%s) = %s, want allow", r, got)
		}
	}
}

func TestStateRecord(t *testing.T) {
	tests := []struct {
		name        string
		req         UserRequest
		resp        UserResponse
		wantAllowed bool
		wantSession bool
	}{
		{"approved", Sign, Approved, true, false},
		{"declined", RequestKeys, Declined, false, false},
		{"session for request keys", RequestKeys, ApprovedForSession, true, true},
		{"session for sign is single use", Sign, ApprovedForSession, true, false},
		{"session for lock is single use", Lock, ApprovedForSession, true, false},
		{"unknown response", RequestKeys, UserResponse(42), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			if got := s.Record(tt.req, tt.resp); got != tt.wantAllowed {
				t.Errorf("Record() = %v, want %v", got, tt.wantAllowed)
			}
			if got := s.ApprovedForSession(); got != tt.wantSession {
				t.Errorf("ApprovedForSession() = %v, want %v", got, tt.wantSession)
			}
		})
	}
}

func TestStateSessionApprovalOnlyCoversRequestKeys(t *testing.T) {
	s := NewState()
	s.Record(RequestKeys, ApprovedForSession)

	for _, r := range UserRequests {
		want := Ask
		if r == RequestKeys {
			want = Allow
		}
		if got := s.Decide(r); got != want {
			t.Errorf("Decide(%s) = %s, want %s", r, got, want)
		}
	}
}

func TestStateConcurrentRecord(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Record(RequestKeys, ApprovedForSession)
		}()
		go func() {
			defer wg.Done()
			s.Decide(RequestKeys)
		}()
	}
	wg.Wait()

	if !s.ApprovedForSession() {
		t.Error("session approval lost under concurrent updates")
	}
}
