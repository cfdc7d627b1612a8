// Package audit keeps a tamper-evident record of agent decisions and vault
// changes. Entries are hash-chained: each entry's hash covers the previous
// entry's hash, so editing or deleting a past entry breaks verification.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/majorcontext/litterbox/internal/log"
)

// EntryType identifies the kind of log entry.
type EntryType string

const (
	// EntryAgent records a request seen by a litterbox agent.
	EntryAgent EntryType = "agent"
	// EntryVault records a change to the key vault.
	EntryVault EntryType = "vault"
)

// FirstSequence is the sequence number of the first entry in a log.
// Sequences are 1-indexed to distinguish "no previous entry" (seq=0) from the first entry.
const FirstSequence uint64 = 1

// AgentData holds one gated agent request. Key material is never recorded.
type AgentData struct {
	Litterbox   string `json:"litterbox"`
	Request     string `json:"request"` // e.g. "RequestKeys", "Sign"
	Allowed     bool   `json:"allowed"`
	Prompted    bool   `json:"prompted"`
	Response    string `json:"response,omitempty"` // user's answer when prompted
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"` // why no answer was obtained
}

// VaultData holds one vault mutation.
type VaultData struct {
	Action      string   `json:"action"` // "generate", "delete", "rename", "attach", "detach"
	Key         string   `json:"key"`
	NewName     string   `json:"new_name,omitempty"`
	Litterboxes []string `json:"litterboxes,omitempty"`
}

// Entry represents a single hash-chained log entry.
type Entry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      EntryType `json:"type"`
	PrevHash  string    `json:"prev"`
	// Data must be JSON-serializable. After a database round trip it is a
	// map[string]any; use Decode to get a typed value.
	Data any    `json:"data"`
	Hash string `json:"hash"`
	// dataJSON is the exact JSON the hash was computed over.
	dataJSON []byte
}

// NewEntry creates a new entry with computed hash.
func NewEntry(seq uint64, prevHash string, entryType EntryType, data any) *Entry {
	return newEntryWithTimestamp(seq, prevHash, entryType, data, time.Now().UTC())
}

// newEntryWithTimestamp creates an entry with a specific timestamp (for testing).
func newEntryWithTimestamp(seq uint64, prevHash string, entryType EntryType, data any, ts time.Time) *Entry {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		log.Warn("failed to marshal entry data", "type", entryType, "error", err)
		dataJSON = []byte("null")
	}
	e := &Entry{
		Sequence:  seq,
		Timestamp: ts,
		Type:      entryType,
		PrevHash:  prevHash,
		Data:      data,
		dataJSON:  dataJSON,
	}
	e.Hash = e.computeHash()
	return e
}

// computeHash calculates SHA-256(seq || ts || type || prev || data).
func (e *Entry) computeHash() string {
	h := sha256.New()

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, e.Sequence)
	h.Write(seqBytes)

	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.PrevHash))

	dataBytes := e.dataJSON
	if dataBytes == nil {
		var err error
		dataBytes, err = json.Marshal(e.Data)
		if err != nil {
			log.Warn("failed to marshal entry data for hash", "seq", e.Sequence, "error", err)
			dataBytes = []byte("null")
		}
	}
	h.Write(dataBytes)

	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks if the entry's hash is valid.
func (e *Entry) Verify() bool {
	return e.Hash == e.computeHash()
}

// Decode unmarshals the entry data into v, e.g. *AgentData.
func (e *Entry) Decode(v any) error {
	data := e.dataJSON
	if data == nil {
		var err error
		if data, err = json.Marshal(e.Data); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, v)
}
