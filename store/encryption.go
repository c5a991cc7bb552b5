package store

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// SaveEncryptionState appends to the encryption-state history and,
// only when the caller marks the write as the first successful
// establishment for the conversation, overwrites the latest-state
// projection. History accumulates; the projection is deliberately not
// refreshed on every write. Whether wasFirstAttempt is truthful is a
// contract the caller must honor; the store does not re-derive it.
func (s *Store) SaveEncryptionState(es *EncryptionState, wasFirstAttempt bool) error {
	return s.db.Run("save encryption state", func() error {
		if _, err := s.db.Tx.NamedExec(`
INSERT INTO encryption_states (conversation_id, inbox_id, state, timestamp, sent_accept)
VALUES (:conversation_id, :inbox_id, :state, :timestamp, :sent_accept)
ON CONFLICT(conversation_id, inbox_id) DO UPDATE SET
	state = :state,
	timestamp = :timestamp,
	sent_accept = :sent_accept`, es); err != nil {
			return err
		}
		if !wasFirstAttempt {
			return nil
		}
		_, err := s.db.Tx.NamedExec(`
INSERT INTO latest_states (conversation_id, inbox_id, state, timestamp, sent_accept)
VALUES (:conversation_id, :inbox_id, :state, :timestamp, :sent_accept)
ON CONFLICT(conversation_id) DO UPDATE SET
	inbox_id = :inbox_id,
	state = :state,
	timestamp = :timestamp,
	sent_accept = :sent_accept`, es)
		return err
	})
}

func (s *Store) GetEncryptionStates(conversationID string) ([]*EncryptionState, error) {
	var states []*EncryptionState
	if err := s.db.RunReadOnly("get encryption states", func() error {
		return s.db.Tx.Select(&states, "SELECT * FROM encryption_states WHERE conversation_id = ? ORDER BY inbox_id ASC", conversationID)
	}); err != nil {
		return nil, err
	}
	return states, nil
}

func (s *Store) GetAllEncryptionStates() ([]*EncryptionState, error) {
	var states []*EncryptionState
	if err := s.db.RunReadOnly("get all encryption states", func() error {
		return s.db.Tx.Select(&states, "SELECT * FROM encryption_states ORDER BY conversation_id ASC, inbox_id ASC")
	}); err != nil {
		return nil, err
	}
	return states, nil
}

func (s *Store) GetLatestState(conversationID string) (*EncryptionState, error) {
	es := &EncryptionState{}
	if err := s.db.RunReadOnly("get latest state", func() error {
		return s.db.Tx.Get(es, "SELECT * FROM latest_states WHERE conversation_id = ?", conversationID)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return es, nil
}

func (s *Store) DeleteEncryptionState(conversationID, inboxID string) error {
	return s.db.Run("delete encryption state", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM encryption_states WHERE conversation_id = ? AND inbox_id = ?", conversationID, inboxID)
		return err
	})
}

func (s *Store) DeleteLatestState(conversationID string) error {
	return s.db.Run("delete latest state", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM latest_states WHERE conversation_id = ?", conversationID)
		return err
	})
}

// One row of the encryption-state diagnostic scan. Skipped-key and
// peer counts are only populated for bloated states.
type EncryptionStateReport struct {
	ConversationID  string
	InboxID         string
	SizeBytes       int
	Bloated         bool
	SkippedKeyCount int
	PeerCount       int
}

type EncryptionAnalysis struct {
	Total   int
	Bloated int
	Reports []*EncryptionStateReport
}

// AnalyzeEncryptionStates is a read-only scan classifying every stored
// state by serialized size against the bloat threshold. Structural
// introspection of the opaque ratchet blob happens for bloated entries
// only, bounding the cost of the scan. Nothing is repaired here; a
// bloated state is diagnosed and left for manual deletion.
func (s *Store) AnalyzeEncryptionStates() (*EncryptionAnalysis, error) {
	states, err := s.GetAllEncryptionStates()
	if err != nil {
		return nil, err
	}

	analysis := &EncryptionAnalysis{Total: len(states)}
	for _, es := range states {
		report := &EncryptionStateReport{
			ConversationID: es.ConversationID,
			InboxID:        es.InboxID,
			SizeBytes:      len(es.State),
			Bloated:        len(es.State) > s.config.BloatThresholdBytes,
		}
		if report.Bloated {
			analysis.Bloated++
			report.SkippedKeyCount, report.PeerCount = introspectState(es.State)
		}
		analysis.Reports = append(analysis.Reports, report)
	}
	return analysis, nil
}

// introspectState counts the skipped-key and peer map entries inside a
// serialized ratchet state. The blob is SDK-owned so unknown shapes
// simply report zero, never an error.
func introspectState(state []byte) (skippedKeys, peers int) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(state, &doc); err != nil {
		return 0, 0
	}
	for _, key := range []string{"skippedKeys", "skipped_keys", "mkSkipped"} {
		if raw, ok := doc[key]; ok {
			skippedKeys += countEntries(raw)
		}
	}
	for _, key := range []string{"peers", "peerStates", "sessions"} {
		if raw, ok := doc[key]; ok {
			peers += countEntries(raw)
		}
	}
	return skippedKeys, peers
}

func countEntries(raw json.RawMessage) int {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return len(asMap)
	}
	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		return len(asList)
	}
	return 0
}
