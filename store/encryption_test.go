package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatestStateProjection(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	first := &EncryptionState{
		ConversationID: "addr1",
		InboxID:        "inbox1",
		State:          []byte("first"),
		Timestamp:      100,
	}
	require.Nil(s.SaveEncryptionState(first, true))

	second := &EncryptionState{
		ConversationID: "addr1",
		InboxID:        "inbox2",
		State:          []byte("second"),
		Timestamp:      200,
	}
	require.Nil(s.SaveEncryptionState(second, false))

	latest, err := s.GetLatestState("addr1")
	require.Nil(err)
	require.Equal([]byte("first"), latest.State)

	history, err := s.GetEncryptionStates("addr1")
	require.Nil(err)
	require.Len(history, 2)
}

func TestDeleteEncryptionState(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	require.Nil(s.SaveEncryptionState(&EncryptionState{
		ConversationID: "addr1",
		InboxID:        "inbox1",
		State:          []byte("x"),
		Timestamp:      100,
	}, true))
	require.Nil(s.DeleteEncryptionState("addr1", "inbox1"))

	states, err := s.GetEncryptionStates("addr1")
	require.Nil(err)
	require.Len(states, 0)

	require.Nil(s.DeleteLatestState("addr1"))
	_, err = s.GetLatestState("addr1")
	require.ErrorIs(err, ErrNotFound)
}

func TestAnalyzeEncryptionStates(t *testing.T) {
	require := require.New(t)
	s := newStore()
	defer shutdownStore(s)

	small := &EncryptionState{
		ConversationID: "addr1",
		InboxID:        "inbox1",
		State:          []byte(`{"skippedKeys":{}}`),
		Timestamp:      100,
	}
	require.Nil(s.SaveEncryptionState(small, true))

	// past the bloat threshold, carrying skipped keys
	skipped := map[string]any{}
	for i := 0; i < 5; i++ {
		skipped[string(rune('a'+i))] = "k"
	}
	big, err := json.Marshal(map[string]any{
		"skippedKeys": skipped,
		"padding":     string(make([]byte, s.config.BloatThresholdBytes)),
	})
	require.Nil(err)
	require.Nil(s.SaveEncryptionState(&EncryptionState{
		ConversationID: "addr2",
		InboxID:        "inbox1",
		State:          big,
		Timestamp:      200,
	}, true))

	analysis, err := s.AnalyzeEncryptionStates()
	require.Nil(err)
	require.Equal(2, analysis.Total)
	require.Equal(1, analysis.Bloated)
	var bloated *EncryptionStateReport
	for _, r := range analysis.Reports {
		if r.Bloated {
			bloated = r
		}
	}
	require.NotNil(bloated)
	require.Equal("addr2", bloated.ConversationID)
	require.Equal(5, bloated.SkippedKeyCount)
}
