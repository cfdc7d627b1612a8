package audit

import (
	"fmt"
)

// Result is the outcome of verifying a log.
type Result struct {
	Valid      bool   `json:"valid"`
	EntryCount uint64 `json:"entry_count"`
	// Error describes the first problem found. Empty when Valid.
	Error string `json:"error,omitempty"`
}

// VerifyChain checks that every stored entry hashes to its recorded hash,
// points at its predecessor, and that sequence numbers have no gaps.
func (s *Store) VerifyChain() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT seq, ts, type, prev_hash, data, hash
		FROM entries ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	res := &Result{Valid: true}
	expectSeq := FirstSequence
	prevHash := ""
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if problem := checkLink(e, expectSeq, prevHash); problem != "" {
			res.Valid = false
			res.Error = problem
			return res, nil
		}
		res.EntryCount++
		expectSeq = e.Sequence + 1
		prevHash = e.Hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}
	return res, nil
}

func checkLink(e *Entry, expectSeq uint64, prevHash string) string {
	switch {
	case e.Sequence != expectSeq:
		return fmt.Sprintf("sequence gap: expected %d, found %d", expectSeq, e.Sequence)
	case e.PrevHash != prevHash:
		return fmt.Sprintf("entry %d does not link to entry %d", e.Sequence, e.Sequence-1)
	case !e.Verify():
		return fmt.Sprintf("entry %d hash mismatch", e.Sequence)
	}
	return ""
}
