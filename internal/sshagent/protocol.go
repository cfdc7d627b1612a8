// Package sshagent implements a confirmation-gated SSH agent.
//
// Every request a client sends over the agent socket is classified into a
// UserRequest. The per-server State decides whether the request is allowed
// outright or must be confirmed by the user through a Confirmer; denied
// requests are answered with the protocol's failure reply and never reach
// the keys.
package sshagent

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// UserRequest is the category of agent operation shown to the user.
type UserRequest int

const (
	RequestKeys UserRequest = iota
	AddKeys
	RemoveKeys
	RemoveAllKeys
	Sign
	Lock
	Unlock
)

// UserRequests lists every request kind in declaration order.
var UserRequests = []UserRequest{RequestKeys, AddKeys, RemoveKeys, RemoveAllKeys, Sign, Lock, Unlock}

func (r UserRequest) String() string {
	switch r {
	case RequestKeys:
		return "RequestKeys"
	case AddKeys:
		return "AddKeys"
	case RemoveKeys:
		return "RemoveKeys"
	case RemoveAllKeys:
		return "RemoveAllKeys"
	case Sign:
		return "Sign"
	case Lock:
		return "Lock"
	case Unlock:
		return "Unlock"
	}
	return fmt.Sprintf("UserRequest(%d)", int(r))
}

// Description is the human readable text shown in the confirmation dialog.
func (r UserRequest) Description() string {
	switch r {
	case RequestKeys:
		return "List the public keys held by the agent"
	case AddKeys:
		return "Add a key to the agent"
	case RemoveKeys:
		return "Remove a key from the agent"
	case RemoveAllKeys:
		return "Remove all keys from the agent"
	case Sign:
		return "Sign data with one of your keys"
	case Lock:
		return "Lock the agent with a passphrase"
	case Unlock:
		return "Unlock the agent"
	}
	return r.String()
}

// SessionApprovable reports whether the user may approve this kind of
// request for the rest of the agent's lifetime.
func (r UserRequest) SessionApprovable() bool {
	return r == RequestKeys
}

// ParseUserRequest parses the name produced by UserRequest.String.
func ParseUserRequest(s string) (UserRequest, error) {
	for _, r := range UserRequests {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown request kind %q", s)
}

// UserResponse is the user's answer to a confirmation prompt.
type UserResponse int

const (
	Declined UserResponse = iota
	Approved
	ApprovedForSession
)

func (r UserResponse) String() string {
	switch r {
	case Approved:
		return "Approved"
	case Declined:
		return "Declined"
	case ApprovedForSession:
		return "ApprovedForSession"
	}
	return fmt.Sprintf("UserResponse(%d)", int(r))
}

// ParseResponse parses the token written by the confirm command.
// Anything unrecognized is an error; callers treat it as Declined.
func ParseResponse(s string) (UserResponse, error) {
	switch s {
	case "Approved":
		return Approved, nil
	case "Declined":
		return Declined, nil
	case "ApprovedForSession":
		return ApprovedForSession, nil
	}
	return Declined, fmt.Errorf("unexpected confirmation response %q", s)
}

// MessageType is an SSH agent protocol request message number
// (draft-miller-ssh-agent, section 5.1).
type MessageType byte

const (
	MsgRequestIdentities   MessageType = 11
	MsgSignRequest         MessageType = 13
	MsgAddIdentity         MessageType = 17
	MsgRemoveIdentity      MessageType = 18
	MsgRemoveAllIdentities MessageType = 19
	MsgLock                MessageType = 22
	MsgUnlock              MessageType = 23
	MsgAddIDConstrained    MessageType = 25
)

// MessageTypes lists every request message the gate classifies.
var MessageTypes = []MessageType{
	MsgRequestIdentities,
	MsgSignRequest,
	MsgAddIdentity,
	MsgRemoveIdentity,
	MsgRemoveAllIdentities,
	MsgLock,
	MsgUnlock,
	MsgAddIDConstrained,
}

// RequestFor classifies a wire message. Every MessageType must have a case
// here; an unclassified message panics rather than being silently allowed.
func RequestFor(m MessageType) UserRequest {
	switch m {
	case MsgRequestIdentities:
		return RequestKeys
	case MsgAddIdentity, MsgAddIDConstrained:
		return AddKeys
	case MsgRemoveIdentity:
		return RemoveKeys
	case MsgRemoveAllIdentities:
		return RemoveAllKeys
	case MsgSignRequest:
		return Sign
	case MsgLock:
		return Lock
	case MsgUnlock:
		return Unlock
	}
	panic(fmt.Sprintf("sshagent: unclassified agent message type %d", byte(m)))
}

// Identity represents an SSH key identity from the agent.
type Identity struct {
	Format  string
	KeyBlob []byte
	Comment string
}

// Fingerprint returns the SHA256 fingerprint of the key.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.KeyBlob)
}

// Fingerprint computes the SHA256 fingerprint of a public key blob.
// Returns the fingerprint in the format "SHA256:<base64>".
func Fingerprint(keyBlob []byte) string {
	hash := sha256.Sum256(keyBlob)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(hash[:])
}
